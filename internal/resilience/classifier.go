// Package resilience classifies failures and retries them under per-class policies.
package resilience

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
)

type ErrorType string

const (
	ErrorNetwork   ErrorType = "network"
	ErrorAPI       ErrorType = "api"
	ErrorRateLimit ErrorType = "rate_limit"
	ErrorModel     ErrorType = "model"
	ErrorStream    ErrorType = "stream"
	ErrorTimeout   ErrorType = "timeout"
	ErrorUnknown   ErrorType = "unknown"
)

// ErrResponseTimeout cancels a turn whose response did not arrive in time.
var ErrResponseTimeout = errors.New("response timeout")

// StatusError is implemented by errors that carry an HTTP status code.
type StatusError interface {
	error
	HTTPStatus() int
}

type Classification struct {
	Type      ErrorType    `json:"type"`
	Retryable bool         `json:"retryable"`
	Status    int          `json:"status,omitempty"`
	Policy    *RetryPolicy `json:"policy,omitempty"`
}

var statusRe = regexp.MustCompile(`(?i)(?:status(?:\s+code)?|api error|http)\s*:?\s*(\d{3})\b`)

var (
	timeoutWords = []string{"timeout", "timed out", "deadline exceeded"}
	networkWords = []string{"network", "connection", "econnrefused", "econnreset", "enotfound",
		"fetch failed", "no such host", "socket", "dns", "offline", "broken pipe", "eof"}
	streamWords = []string{"stream", "abort", "canceled", "cancelled"}
	modelWords  = []string{"model", "anthropic", "openai", "completion", "quota", "context length",
		"token limit", "overloaded"}
)

// Classify maps an error onto a failure class and its retry policy.
// Typed information wins over message text; a timeout mention always wins
// over the other message patterns.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Type: ErrorUnknown}
	}

	var se StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrResponseTimeout):
		return classified(ErrorTimeout, true, 0)
	case errors.As(err, &se):
		return fromStatus(se.HTTPStatus())
	case errors.Is(err, context.Canceled):
		return classified(ErrorStream, true, 0)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return classified(ErrorTimeout, true, 0)
		}
		return classified(ErrorNetwork, true, 0)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, timeoutWords):
		return classified(ErrorTimeout, true, 0)
	case statusRe.MatchString(msg):
		code, _ := strconv.Atoi(statusRe.FindStringSubmatch(msg)[1])
		return fromStatus(code)
	case containsAny(msg, networkWords):
		return classified(ErrorNetwork, true, 0)
	case containsAny(msg, streamWords):
		return classified(ErrorStream, true, 0)
	case containsAny(msg, modelWords):
		return classified(ErrorModel, true, 0)
	}
	return classified(ErrorUnknown, false, 0)
}

func fromStatus(code int) Classification {
	switch {
	case code == 429:
		return classified(ErrorRateLimit, true, code)
	case code >= 500:
		return classified(ErrorAPI, true, code)
	case code == 408:
		return classified(ErrorTimeout, true, code)
	default:
		return classified(ErrorAPI, false, code)
	}
}

func classified(t ErrorType, retryable bool, status int) Classification {
	c := Classification{Type: t, Retryable: retryable, Status: status}
	if retryable {
		if p, ok := DefaultPolicies[t]; ok {
			c.Policy = &p
		}
	}
	return c
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

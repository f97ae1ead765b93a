// Package tools holds the business tools the assistant may call during a turn.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
)

const (
	LookupBusiness           = "lookupBusiness"
	ConfirmBusiness          = "confirmBusiness"
	SelectService            = "selectService"
	AnswerQualifyingQuestion = "answerQualifyingQuestion"
	AddInventoryItem         = "addInventoryItem"
	SetLocations             = "setLocations"
	CalculateQuote           = "calculateQuote"
	CheckAvailability        = "checkAvailability"
	ConfirmBookingDate       = "confirmBookingDate"
	CollectContactInfo       = "collectContactInfo"
	InitiatePayment          = "initiatePayment"
	ConfirmPayment           = "confirmPayment"
	RequestCallback          = "requestCallback"
)

// External lists the tools whose work happens outside this process and
// which must be registered by the host.
var External = []string{LookupBusiness, CalculateQuote, CheckAvailability, InitiatePayment, ConfirmPayment}

// Handler executes a tool with the arguments chosen by the assistant.
type Handler func(ctx context.Context, input map[string]any) (map[string]any, error)

type Result struct {
	CallID string         `json:"callId"`
	Name   string         `json:"name"`
	Output map[string]any `json:"output"`
	Err    error          `json:"-"`
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry returns a registry in which the dialogue-only tools echo their
// arguments back as their result.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{handlers: make(map[string]Handler), logger: logger}
	for _, d := range definitions {
		if !isExternal(d.Name) {
			r.handlers[d.Name] = echo
		}
	}
	return r
}

func echo(_ context.Context, input map[string]any) (map[string]any, error) {
	out := maps.Clone(input)
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func isExternal(name string) bool {
	for _, n := range External {
		if n == name {
			return true
		}
	}
	return false
}

// Register installs h for a known tool, replacing any previous handler.
func (r *Registry) Register(name string, h Handler) error {
	if _, ok := Lookup(name); !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
	return nil
}

// Available returns the definitions of the tools that have a handler.
func (r *Registry) Available() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Definition
	for _, d := range definitions {
		if _, ok := r.handlers[d.Name]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Invoke runs a tool call. A failing or missing tool still yields an output
// carrying an "error" member so the dialogue can respond to it.
func (r *Registry) Invoke(ctx context.Context, call dialogue.ToolCall) Result {
	res := Result{CallID: call.ID, Name: call.Name}
	r.mu.RLock()
	h, ok := r.handlers[call.Name]
	r.mu.RUnlock()
	if !ok {
		res.Err = fmt.Errorf("tool %s is not available", call.Name)
		res.Output = map[string]any{"error": res.Err.Error()}
		r.logger.Warn("tool not available", "tool", call.Name)
		return res
	}

	out, err := h(ctx, call.Input)
	if err != nil {
		res.Err = fmt.Errorf("tool %s: %w", call.Name, err)
		res.Output = map[string]any{"error": err.Error()}
		r.logger.Error("tool failed", "tool", call.Name, "error", err)
		return res
	}
	if out == nil {
		out = map[string]any{}
	}
	res.Output = out
	return res
}

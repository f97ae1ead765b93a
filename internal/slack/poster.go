// Package slack posts conversation hand-offs to the sales team's channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/notify"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// Escalate posts the hand-off summary to the channel.
func (p *Poster) Escalate(ctx context.Context, e notify.Escalation) error {
	_, err := p.PostEscalation(ctx, e)
	return err
}

// PostEscalation posts the hand-off summary and returns the message timestamp.
func (p *Poster) PostEscalation(ctx context.Context, e notify.Escalation) (string, error) {
	text := formatEscalation(e)
	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": text},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{"type": "mrkdwn", "text": "Conversation `" + e.ConversationID + "`"},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	ts, err := p.post(ctx, body)
	if err != nil {
		return "", err
	}
	p.logger.Info("posted escalation to slack",
		"ts", ts, "conversation_id", e.ConversationID, "reason", e.Reason)
	return ts, nil
}

func (p *Poster) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

var priorityEmoji = map[notify.Priority]string{
	notify.PriorityNormal: ":speech_balloon:",
	notify.PriorityHigh:   ":warning:",
	notify.PriorityUrgent: ":rotating_light:",
}

var reasonText = map[string]string{
	"error_threshold":    "Maya hit repeated errors",
	"fallback":           "Maya could not recover on her own",
	"callback_requested": "Visitor asked for a call back",
	"idle_at_payment":    "Visitor went quiet during payment",
}

func formatEscalation(e notify.Escalation) string {
	var sb strings.Builder

	reason := reasonText[e.Reason]
	if reason == "" {
		reason = e.Reason
	}
	fmt.Fprintf(&sb, "%s *%s* (%s priority)\n", priorityEmoji[e.Priority], reason, e.Priority)

	c := e.Context
	if c == nil {
		sb.WriteString("No conversation details were captured.")
		return sb.String()
	}
	fmt.Fprintf(&sb, "*Stage:* %s\n", c.Stage)

	field := func(label, v string) {
		if v != "" {
			fmt.Fprintf(&sb, "*%s:* %s\n", label, v)
		}
	}
	business := c.BusinessName
	if c.BusinessABN != "" {
		business += " (ABN " + c.BusinessABN + ")"
	}
	field("Business", strings.TrimSpace(business))
	field("Service", c.ServiceType)
	if c.OriginSuburb != "" || c.DestinationSuburb != "" {
		field("Move", fmt.Sprintf("%s → %s", orUnknown(c.OriginSuburb), orUnknown(c.DestinationSuburb)))
	}
	if c.QuoteAmount != nil {
		field("Quote", fmt.Sprintf("$%.2f", *c.QuoteAmount))
	}
	field("Date", c.SelectedDate)
	field("Contact", strings.Join(nonEmpty(c.ContactName, c.ContactPhone, c.ContactEmail), ", "))
	if c.Stage == dialogue.StagePayment || c.DepositAmount != nil {
		paid := "not paid"
		if c.DepositPaid {
			paid = "paid"
		}
		field("Deposit", paid)
	}
	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func nonEmpty(vals ...string) []string {
	var out []string
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Package hermes publishes conversation events on the NATS bus.
package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Sharpy077/m2mmoving-sub000/internal/notify"
)

const (
	// SubjectNotificationPrefix is followed by the conversation ID.
	SubjectNotificationPrefix = "maya.notification."
	// SubjectEscalation carries hand-offs to the human sales team.
	SubjectEscalation = "maya.escalation"
	// SubjectClose carries requests from the host to close a conversation.
	SubjectClose = "maya.conversation.close"
)

// CloseRequest asks the engine to close a conversation, for example once a
// salesperson has picked up the hand-off.
type CloseRequest struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason,omitempty"`
}

// NotificationSubject returns the subject a conversation's notifications go to.
func NotificationSubject(conversationID string) string {
	return SubjectNotificationPrefix + conversationID
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("maya"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// Notify publishes a notification on the conversation's subject.
func (c *Client) Notify(_ context.Context, n notify.Notification) error {
	if err := c.Publish(NotificationSubject(n.ConversationID), n); err != nil {
		return fmt.Errorf("publish notification %s: %w", n.Type, err)
	}
	return nil
}

// Escalate publishes a hand-off request and flushes so it is not lost on shutdown.
func (c *Client) Escalate(ctx context.Context, e notify.Escalation) error {
	if err := c.Publish(SubjectEscalation, e); err != nil {
		return fmt.Errorf("publish escalation: %w", err)
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush escalation: %w", err)
	}
	c.logger.Info("escalation published", "conversation_id", e.ConversationID, "priority", e.Priority)
	return nil
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// OnClose subscribes fn to close requests.
func (c *Client) OnClose(fn func(ctx context.Context, conversationID string) error) error {
	return c.Subscribe(SubjectClose, closeHandler(fn, c.logger))
}

func closeHandler(fn func(ctx context.Context, conversationID string) error, logger *slog.Logger) func(string, []byte) {
	return func(subject string, data []byte) {
		var req CloseRequest
		if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
			logger.Warn("ignoring malformed close request", "subject", subject, "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := fn(ctx, req.ConversationID); err != nil {
			logger.Warn("close request failed", "conversation_id", req.ConversationID, "error", err)
			return
		}
		logger.Info("conversation closed by host", "conversation_id", req.ConversationID, "reason", req.Reason)
	}
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}

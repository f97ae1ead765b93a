// Package notify defines the outbound notification and escalation events.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
)

type Kind string

const (
	KindReengageWarning  Kind = "reengage_warning"
	KindReengageFinal    Kind = "reengage_final"
	KindReengageRecovery Kind = "reengage_recovery"
	KindFallback         Kind = "fallback"
)

type Notification struct {
	Type           Kind             `json:"type"`
	ConversationID string           `json:"conversationId"`
	Message        string           `json:"message"`
	Options        []string         `json:"options,omitempty"`
	Stage          dialogue.Stage   `json:"stage,omitempty"`
	Urgency        dialogue.Urgency `json:"urgency,omitempty"`
	At             time.Time        `json:"at"`
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type Escalation struct {
	ConversationID string                        `json:"conversationId"`
	Reason         string                        `json:"reason"`
	Priority       Priority                      `json:"priority"`
	Context        *dialogue.ConversationContext `json:"context,omitempty"`
	At             time.Time                     `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Escalator interface {
	Escalate(ctx context.Context, e Escalation) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Escalators hands an escalation to every sink and joins their errors.
type Escalators []Escalator

func (m Escalators) Escalate(ctx context.Context, e Escalation) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Escalate(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogEscalator records escalations in the log when no other sink is configured.
type LogEscalator struct {
	Logger *slog.Logger
}

func (l LogEscalator) Escalate(_ context.Context, e Escalation) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("conversation escalated",
		"conversation_id", e.ConversationID, "reason", e.Reason, "priority", e.Priority)
	return nil
}

// Hub fans notifications out to live subscribers of a conversation.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan Notification]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]map[chan Notification]struct{}), logger: logger}
}

// Subscribe returns a channel of notifications for conversationID and a
// function that ends the subscription.
func (h *Hub) Subscribe(conversationID string) (<-chan Notification, func()) {
	ch := make(chan Notification, 16)
	h.mu.Lock()
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[chan Notification]struct{})
	}
	h.subs[conversationID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[conversationID], ch)
			if len(h.subs[conversationID]) == 0 {
				delete(h.subs, conversationID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Notify never blocks; a subscriber that is not keeping up misses the event.
func (h *Hub) Notify(_ context.Context, n Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[n.ConversationID] {
		select {
		case ch <- n:
		default:
			h.logger.Warn("dropping notification for slow subscriber",
				"conversation_id", n.ConversationID, "type", n.Type)
		}
	}
	return nil
}

// Subscribers returns the number of live subscribers of a conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[conversationID])
}

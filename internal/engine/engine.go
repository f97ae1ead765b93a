// Package engine runs Maya conversations: it keeps one dialogue machine per
// conversation and drives each visitor turn through generation, guardrails,
// tools, fallback and persistence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Sharpy077/m2mmoving-sub000/internal/anthropic"
	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/fallback"
	"github.com/Sharpy077/m2mmoving-sub000/internal/metrics"
	"github.com/Sharpy077/m2mmoving-sub000/internal/notify"
	"github.com/Sharpy077/m2mmoving-sub000/internal/reengage"
	"github.com/Sharpy077/m2mmoving-sub000/internal/resilience"
	"github.com/Sharpy077/m2mmoving-sub000/internal/session"
	"github.com/Sharpy077/m2mmoving-sub000/internal/tools"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTurnInFlight         = errors.New("a turn is already in progress for this conversation")
	ErrEmptyMessage         = errors.New("message is empty")
)

// Provider produces the assistant's candidate turn.
type Provider interface {
	Generate(ctx context.Context, req anthropic.GenerateRequest) (dialogue.Turn, error)
}

// Toolbox executes the tools the assistant calls.
type Toolbox interface {
	Available() []tools.Definition
	Invoke(ctx context.Context, call dialogue.ToolCall) tools.Result
}

type Config struct {
	EscalationThreshold int
	Timeouts            resilience.Timeouts
	Policies            map[resilience.ErrorType]resilience.RetryPolicy
	Delays              reengage.Delays
	MaxNudges           int
	MaxConversations    int
	IdleTTL             time.Duration
	SupportPhone        string
	SupportEmail        string
}

func DefaultConfig() Config {
	return Config{
		EscalationThreshold: dialogue.DefaultEscalationThreshold,
		Timeouts:            resilience.DefaultTimeouts,
		Policies:            resilience.DefaultPolicies,
		Delays:              reengage.DefaultDelays,
		MaxNudges:           reengage.DefaultMaxNudges,
		MaxConversations:    1000,
		IdleTTL:             30 * time.Minute,
		SupportPhone:        "1300 000 000",
		SupportEmail:        "bookings@m2mmoving.au",
	}
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithNotifier sets where nudges and fallback notices are delivered.
func WithNotifier(n notify.Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithEscalator sets where hand-offs to the sales team are sent.
func WithEscalator(x notify.Escalator) Option { return func(e *Engine) { e.escalator = x } }

type Engine struct {
	provider  Provider
	toolbox   Toolbox
	store     *session.Store
	cfg       Config
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	notifier  notify.Notifier
	escalator notify.Escalator

	scheduler *reengage.Scheduler
	monitor   *resilience.Monitor
	executor  *resilience.Executor
	fallbacks *fallback.Provider

	convs  *expirable.LRU[string, *conversation]
	loadMu sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]context.CancelCauseFunc
}

func New(provider Provider, toolbox Toolbox, store *session.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		toolbox:  toolbox,
		store:    store,
		cfg:      cfg,
		clock:    clock.New(),
		logger:   slog.Default(),
		inflight: make(map[string]context.CancelCauseFunc),
	}
	for _, o := range opts {
		o(e)
	}
	if e.cfg.Policies == nil {
		e.cfg.Policies = resilience.DefaultPolicies
	}
	if e.escalator == nil {
		e.escalator = notify.LogEscalator{Logger: e.logger}
	}

	e.scheduler = reengage.New(nudgeCounter{next: e.notifier, metrics: e.metrics},
		reengage.WithClock(e.clock),
		reengage.WithDelays(cfg.Delays),
		reengage.WithMaxNudges(cfg.MaxNudges),
		reengage.WithLogger(e.logger),
		reengage.WithRecoveryHook(e.onRecoveryNudge),
	)
	e.monitor = resilience.NewMonitor(e.clock, cfg.Timeouts, e.logger)
	e.monitor.OnTimeout(e.abortAttempt)
	e.executor = resilience.NewExecutor(e.logger, resilience.WithRetryHook(
		func(c resilience.Classification, _ int, _ time.Duration) { e.metrics.Retry(string(c.Type)) }))
	e.fallbacks = fallback.NewProvider(cfg.SupportPhone, cfg.SupportEmail)

	size := cfg.MaxConversations
	if size <= 0 {
		size = DefaultConfig().MaxConversations
	}
	e.convs = expirable.NewLRU[string, *conversation](size, e.retire, cfg.IdleTTL)
	return e
}

// Shutdown stops every timer and waits for pending session writes.
func (e *Engine) Shutdown() {
	e.convs.Purge()
	e.scheduler.StopAll()
	e.metrics.SetActive(0)
}

// Active returns the number of conversations held in memory.
func (e *Engine) Active() int { return e.convs.Len() }

func (e *Engine) add(c *conversation) {
	e.convs.Add(c.id, c)
	e.metrics.SetActive(e.convs.Len())
}

// lookup returns a live conversation, restoring it from the session store
// when it is not in memory.
func (e *Engine) lookup(ctx context.Context, id string) (*conversation, error) {
	if c, ok := e.convs.Get(id); ok {
		return c, nil
	}
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if c, ok := e.convs.Get(id); ok {
		return c, nil
	}

	saved, err := e.store.Load(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	c := e.restore(saved)
	e.add(c)
	e.logger.Info("conversation restored", "conversation_id", id, "stage", c.machine.Stage())
	return c, nil
}

// retire runs when a conversation leaves memory, by eviction, expiry or Close.
func (e *Engine) retire(id string, c *conversation) {
	c.closed.Store(true)
	c.abort()
	e.scheduler.Stop(id)
	c.flush()
	e.logger.Debug("conversation retired", "conversation_id", id)
}

func (e *Engine) machineOptions() []dialogue.Option {
	return []dialogue.Option{
		dialogue.WithClock(e.clock),
		dialogue.WithEscalationThreshold(e.cfg.EscalationThreshold),
		dialogue.WithLogger(e.logger),
		dialogue.WithTransitionHook(func(_, to dialogue.Stage) { e.metrics.Transition(string(to)) }),
	}
}

func (e *Engine) newConversation(visitorID string) *conversation {
	id := uuid.NewString()
	now := e.clock.Now()
	return &conversation{
		id:        id,
		machine:   dialogue.NewMachine(dialogue.NewContext(id, visitorID, now), e.machineOptions()...),
		createdAt: now,
	}
}

func (e *Engine) restore(saved *session.SavedSession) *conversation {
	conv := saved.Context
	if conv == nil {
		conv = dialogue.NewContext(saved.ConversationID, saved.VisitorID, saved.CreatedAt)
	}
	conv.ConversationID = saved.ConversationID
	return &conversation{
		id:         saved.ConversationID,
		machine:    dialogue.NewMachine(conv, e.machineOptions()...),
		transcript: saved.Messages,
		createdAt:  saved.CreatedAt,
	}
}

// abortAttempt cancels a generation attempt whose response deadline passed.
func (e *Engine) abortAttempt(turnID string) {
	e.inflightMu.Lock()
	cancel := e.inflight[turnID]
	e.inflightMu.Unlock()
	if cancel != nil {
		cancel(resilience.ErrResponseTimeout)
	}
}

func (e *Engine) track(turnID string, cancel context.CancelCauseFunc) func() {
	e.inflightMu.Lock()
	e.inflight[turnID] = cancel
	e.inflightMu.Unlock()
	return func() {
		e.inflightMu.Lock()
		delete(e.inflight, turnID)
		e.inflightMu.Unlock()
	}
}

const (
	reasonErrorThreshold = "error_threshold"
	reasonFallback       = "fallback"
	reasonCallback       = "callback_requested"
	reasonIdlePayment    = "idle_at_payment"
)

func (e *Engine) escalate(ctx context.Context, snap *dialogue.ConversationContext, reason string, priority notify.Priority) {
	e.metrics.Escalation(reason)
	esc := notify.Escalation{
		ConversationID: snap.ConversationID,
		Reason:         reason,
		Priority:       priority,
		Context:        snap,
		At:             e.clock.Now(),
	}
	if err := e.escalator.Escalate(context.WithoutCancel(ctx), esc); err != nil {
		e.logger.Error("failed to send escalation", "conversation_id", snap.ConversationID, "reason", reason, "error", err)
	}
}

func (e *Engine) notify(ctx context.Context, n notify.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		e.logger.Error("failed to deliver notification", "conversation_id", n.ConversationID, "type", n.Type, "error", err)
	}
}

// nudgeCounter counts re-engagement nudges on their way to the notifier.
type nudgeCounter struct {
	next    notify.Notifier
	metrics *metrics.Metrics
}

func (n nudgeCounter) Notify(ctx context.Context, note notify.Notification) error {
	n.metrics.Nudge(string(note.Type))
	if n.next == nil {
		return nil
	}
	return n.next.Notify(ctx, note)
}

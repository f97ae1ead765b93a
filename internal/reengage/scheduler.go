// Package reengage nudges visitors who go quiet in the middle of the dialogue.
package reengage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/notify"
)

type Delays struct {
	Warning  time.Duration
	Final    time.Duration
	Recovery time.Duration
}

var DefaultDelays = Delays{
	Warning:  90 * time.Second,
	Final:    3 * time.Minute,
	Recovery: 10 * time.Minute,
}

const DefaultMaxNudges = 3

var recoveryOptions = []string{"Continue where I left off", "Start over", "Request a callback"}

type entry struct {
	stage    dialogue.Stage
	attempts int
	gen      uint64
	timers   []*clock.Timer
	fired    int
}

func (e *entry) stop() {
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
	e.fired = 0
}

type Scheduler struct {
	clock      clock.Clock
	delays     Delays
	maxNudges  int
	notifier   notify.Notifier
	onRecovery func(conversationID string, stage dialogue.Stage)
	logger     *slog.Logger

	mu    sync.Mutex
	convs map[string]*entry
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithDelays(d Delays) Option { return func(s *Scheduler) { s.delays = d } }

func WithMaxNudges(n int) Option { return func(s *Scheduler) { s.maxNudges = n } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecoveryHook runs fn after the recovery offer for a conversation is sent.
func WithRecoveryHook(fn func(conversationID string, stage dialogue.Stage)) Option {
	return func(s *Scheduler) { s.onRecovery = fn }
}

func New(notifier notify.Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:     clock.New(),
		delays:    DefaultDelays,
		maxNudges: DefaultMaxNudges,
		notifier:  notifier,
		logger:    slog.Default(),
		convs:     make(map[string]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Arm restarts the nudge timers of a conversation after an inbound message
// and resets its nudge budget.
func (s *Scheduler) Arm(conversationID string, stage dialogue.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.convs[conversationID]
	if e == nil {
		e = &entry{}
		s.convs[conversationID] = e
	}
	e.stop()
	e.attempts = 0
	e.stage = stage
	s.arm(conversationID, e)
}

// Rearm restarts the timers without resetting the nudge budget. It reports
// false once the budget is spent.
func (s *Scheduler) Rearm(conversationID string, stage dialogue.Stage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.convs[conversationID]
	if e == nil {
		e = &entry{}
		s.convs[conversationID] = e
	}
	if e.attempts >= s.maxNudges {
		return false
	}
	e.stop()
	e.stage = stage
	s.arm(conversationID, e)
	return true
}

// Stop cancels every pending nudge of a conversation.
func (s *Scheduler) Stop(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.convs[conversationID]; e != nil {
		e.stop()
		delete(s.convs, conversationID)
	}
}

// StopAll cancels every pending nudge.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.convs {
		e.stop()
		delete(s.convs, id)
	}
}

// Pending returns how many nudge timers are armed for a conversation.
func (s *Scheduler) Pending(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.convs[conversationID]; e != nil {
		return len(e.timers) - e.fired
	}
	return 0
}

// Attempts returns how many nudges were sent since the last inbound message.
func (s *Scheduler) Attempts(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.convs[conversationID]; e != nil {
		return e.attempts
	}
	return 0
}

func (s *Scheduler) arm(id string, e *entry) {
	if e.stage.Terminal() {
		return
	}
	e.gen++
	gen := e.gen
	for _, k := range []struct {
		kind  notify.Kind
		delay time.Duration
	}{
		{notify.KindReengageWarning, s.delays.Warning},
		{notify.KindReengageFinal, s.delays.Final},
		{notify.KindReengageRecovery, s.delays.Recovery},
	} {
		kind, delay := k.kind, k.delay
		e.timers = append(e.timers, s.clock.AfterFunc(delay, func() { s.fire(id, gen, kind, delay) }))
	}
}

func (s *Scheduler) fire(id string, gen uint64, kind notify.Kind, idle time.Duration) {
	s.mu.Lock()
	e := s.convs[id]
	if e == nil || e.gen != gen {
		s.mu.Unlock()
		return
	}
	e.fired++
	if e.attempts >= s.maxNudges {
		s.mu.Unlock()
		return
	}
	e.attempts++
	stage := e.stage
	s.mu.Unlock()

	n := nudge(kind, id, stage, idle)
	n.At = s.clock.Now()
	s.logger.Info("sending re-engagement nudge",
		"conversation_id", id, "type", kind, "stage", stage, "urgency", n.Urgency)
	if s.notifier != nil {
		if err := s.notifier.Notify(context.Background(), n); err != nil {
			s.logger.Error("failed to deliver nudge", "conversation_id", id, "type", kind, "error", err)
		}
	}
	if kind == notify.KindReengageRecovery && s.onRecovery != nil {
		s.onRecovery(id, stage)
	}
}

func nudge(kind notify.Kind, id string, stage dialogue.Stage, idle time.Duration) notify.Notification {
	cfg := dialogue.Config(stage)
	n := notify.Notification{
		Type:           kind,
		ConversationID: id,
		Stage:          stage,
		Urgency:        dialogue.UrgencyFor(stage, idle),
	}
	switch kind {
	case notify.KindReengageWarning:
		n.Message = cfg.ReengagePrompt
	case notify.KindReengageFinal:
		n.Message = "Before you go, here's where we're up to. " + cfg.ReengagePrompt
		n.Options = cfg.QuickReplies
	case notify.KindReengageRecovery:
		n.Message = "Looks like you stepped away. Your progress is saved whenever you're ready to continue."
		n.Options = recoveryOptions
	}
	return n
}

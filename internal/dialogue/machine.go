package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"
)

// DefaultEscalationThreshold is the number of consecutive failures that
// hands the conversation to a human.
const DefaultEscalationThreshold = 3

// Urgency grades how pressing a re-engagement nudge is.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// TransitionResult is the outcome of a transition check or attempt.
// Refusals are reported here rather than as errors.
type TransitionResult struct {
	Allowed bool    `json:"allowed"`
	From    Stage   `json:"from"`
	To      Stage   `json:"to"`
	Missing []Field `json:"missing,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

type ErrorRecord struct {
	Count     int  `json:"count"`
	Escalated bool `json:"escalated"`
}

type Reengagement struct {
	Needed       bool          `json:"needed"`
	Urgency      Urgency       `json:"urgency,omitempty"`
	Idle         time.Duration `json:"idle"`
	Prompt       string        `json:"prompt,omitempty"`
	QuickReplies []string      `json:"quickReplies,omitempty"`
}

type Option func(*Machine)

func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

func WithEscalationThreshold(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.threshold = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTransitionHook registers fn to run after every stage change, including
// escalations and recovery moves.
func WithTransitionHook(fn func(from, to Stage)) Option {
	return func(m *Machine) { m.onEnter = fn }
}

// Machine owns a ConversationContext and enforces the stage rules on it.
// It is not safe for concurrent use; callers serialise turns.
type Machine struct {
	conv      *ConversationContext
	fsm       *fsm.FSM
	clock     clock.Clock
	threshold int
	logger    *slog.Logger
	onEnter   func(from, to Stage)
}

// NewMachine wraps conv, which may be a restored snapshot. A nil conv starts a
// new conversation at the greeting stage.
func NewMachine(conv *ConversationContext, opts ...Option) *Machine {
	m := &Machine{
		clock:     clock.New(),
		threshold: DefaultEscalationThreshold,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	if conv == nil {
		conv = NewContext("", "", m.clock.Now())
	}
	if !conv.Stage.Valid() {
		conv.Stage = StageGreeting
	}
	if conv.QualifyingAnswers == nil {
		conv.QualifyingAnswers = map[int]string{}
	}
	m.conv = conv
	m.fsm = fsm.NewFSM(string(conv.Stage), transitionEvents, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			m.enterStage(Stage(e.Src), Stage(e.Dst))
		},
	})
	return m
}

var transitionEvents = buildEvents()

func eventName(s Stage) string { return "to_" + string(s) }

// buildEvents turns the stage table into one event per target stage whose
// sources are the stages that list it as next. Escalation stages accept
// every other stage as a source.
func buildEvents() fsm.Events {
	preds := make(map[Stage][]string)
	for _, from := range Stages {
		for _, to := range stageTable[from].Next {
			preds[to] = append(preds[to], string(from))
		}
	}
	var events fsm.Events
	for _, to := range Stages {
		src := preds[to]
		if to.Escalation() {
			src = nil
			for _, from := range Stages {
				if from != to {
					src = append(src, string(from))
				}
			}
		}
		if len(src) == 0 {
			continue
		}
		events = append(events, fsm.EventDesc{Name: eventName(to), Src: src, Dst: string(to)})
	}
	return events
}

func (m *Machine) enterStage(from, to Stage) {
	now := m.clock.Now()
	if to == StageErrorRecovery {
		m.conv.PreviousStage = from
	}
	m.conv.Stage = to
	m.conv.StageStartTime = now
	m.logger.Info("stage transition",
		"conversation_id", m.conv.ConversationID, "from", from, "to", to)
	if m.onEnter != nil {
		m.onEnter(from, to)
	}
}

func (m *Machine) Stage() Stage { return m.conv.Stage }

func (m *Machine) ErrorCount() int { return m.conv.ErrorCount }

// Snapshot returns a deep copy of the context.
func (m *Machine) Snapshot() *ConversationContext { return m.conv.Clone() }

// CanTransitionTo checks whether target may be entered right now.
func (m *Machine) CanTransitionTo(target Stage) TransitionResult {
	return m.check(target, Patch{})
}

func (m *Machine) check(target Stage, patch Patch) TransitionResult {
	from := m.conv.Stage
	res := TransitionResult{From: from, To: target}
	if !target.Valid() {
		res.Reason = fmt.Sprintf("unknown stage %q", target)
		return res
	}
	if target.Escalation() {
		res.Allowed = true
		return res
	}
	if !m.fsm.Can(eventName(target)) {
		res.Reason = fmt.Sprintf("%s cannot follow %s", target, from)
		return res
	}
	preview := m.conv.Clone()
	patch.apply(preview)
	if missing := preview.Missing(stageTable[target].Required); len(missing) > 0 {
		res.Missing = missing
		res.Reason = "missing " + joinFields(missing)
		return res
	}
	res.Allowed = true
	return res
}

// TransitionTo moves to target and merges patch. Required fields may be
// supplied by the patch itself. When the move is refused nothing changes.
func (m *Machine) TransitionTo(target Stage, patch Patch) TransitionResult {
	res := m.check(target, patch)
	if !res.Allowed {
		m.logger.Debug("transition refused",
			"conversation_id", m.conv.ConversationID, "from", res.From, "to", target, "reason", res.Reason)
		return res
	}
	if target != res.From {
		if err := m.fsm.Event(context.Background(), eventName(target)); err != nil {
			m.logger.Error("fsm event failed", "conversation_id", m.conv.ConversationID, "to", target, "error", err)
			res.Allowed = false
			res.Reason = err.Error()
			return res
		}
	}
	patch.apply(m.conv)
	m.conv.LastMessageTime = m.clock.Now()
	return res
}

// UpdateContext merges patch without changing stage.
func (m *Machine) UpdateContext(patch Patch) {
	patch.apply(m.conv)
}

// Retreat falls back to the current stage's fallback stage.
func (m *Machine) Retreat() TransitionResult {
	from := m.conv.Stage
	to := stageTable[from].Fallback
	res := TransitionResult{From: from, To: to, Allowed: true}
	if to == "" || to == from {
		return res
	}
	m.fsm.SetState(string(to))
	m.enterStage(from, to)
	return res
}

// ResumePrevious leaves error recovery for the stage it interrupted.
func (m *Machine) ResumePrevious() TransitionResult {
	if m.conv.Stage != StageErrorRecovery {
		return TransitionResult{From: m.conv.Stage, To: m.conv.Stage, Allowed: true}
	}
	prev := m.conv.PreviousStage
	if !prev.Valid() || prev.Escalation() || prev.Terminal() {
		prev = StageGreeting
	}
	res := m.TransitionTo(prev, Patch{})
	if res.Allowed {
		m.conv.PreviousStage = ""
	}
	return res
}

// AttachVisitor records the visitor id when the conversation has none yet.
func (m *Machine) AttachVisitor(visitorID string) {
	if m.conv.VisitorID == "" {
		m.conv.VisitorID = visitorID
	}
}

// Touch records an inbound message.
func (m *Machine) Touch() {
	m.conv.LastMessageTime = m.clock.Now()
}

// RecordError counts a failed turn and escalates once the threshold is reached.
func (m *Machine) RecordError() ErrorRecord {
	m.conv.ErrorCount++
	rec := ErrorRecord{Count: m.conv.ErrorCount}
	if m.conv.ErrorCount >= m.threshold && !m.conv.Stage.Terminal() {
		m.logger.Warn("error threshold reached, escalating",
			"conversation_id", m.conv.ConversationID, "errors", m.conv.ErrorCount, "stage", m.conv.Stage)
		rec.Escalated = m.TransitionTo(StageHumanEscalation, Patch{}).Allowed
	}
	return rec
}

func (m *Machine) ResetErrors() {
	m.conv.ErrorCount = 0
}

// CheckReengagement reports whether the visitor has been idle longer than the
// current stage allows.
func (m *Machine) CheckReengagement() Reengagement {
	return checkReengagement(m.conv, m.clock.Now())
}

func checkReengagement(c *ConversationContext, now time.Time) Reengagement {
	cfg := stageTable[c.Stage]
	idle := now.Sub(c.LastMessageTime)
	if c.Stage.Terminal() || cfg.MaxIdle == 0 || idle <= cfg.MaxIdle {
		return Reengagement{Idle: idle}
	}
	return Reengagement{
		Needed:       true,
		Urgency:      urgencyFor(c.Stage, idle, cfg.MaxIdle),
		Idle:         idle,
		Prompt:       cfg.ReengagePrompt,
		QuickReplies: cfg.QuickReplies,
	}
}

// UrgencyFor grades an idle period against the stage's idle threshold.
func UrgencyFor(stage Stage, idle time.Duration) Urgency {
	threshold := stageTable[stage].MaxIdle
	if threshold <= 0 {
		return UrgencyLow
	}
	return urgencyFor(stage, idle, threshold)
}

func urgencyFor(stage Stage, idle, threshold time.Duration) Urgency {
	switch {
	case stage == StagePayment && idle > 10*time.Minute:
		return UrgencyCritical
	case stage == StageQuoteGenerated && idle > 5*time.Minute:
		return UrgencyHigh
	}
	switch multiples := idle / threshold; {
	case multiples >= 3:
		return UrgencyHigh
	case multiples >= 2:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// AddInventoryItem merges item into the inventory by category and type and
// refreshes the size estimate.
func (m *Machine) AddInventoryItem(item InventoryItem) {
	if item.Quantity <= 0 {
		return
	}
	item.Category = strings.ToLower(strings.TrimSpace(item.Category))
	item.ItemType = strings.ToLower(strings.TrimSpace(item.ItemType))
	merged := false
	for i := range m.conv.InventoryItems {
		cur := &m.conv.InventoryItems[i]
		if cur.Category == item.Category && cur.ItemType == item.ItemType {
			cur.Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		m.conv.InventoryItems = append(m.conv.InventoryItems, item)
	}
	m.conv.EstimatedSize = estimateSize(m.conv.InventoryItems)
}

func (m *Machine) UnansweredQuestions() []Question {
	return UnansweredQuestions(m.conv)
}

func joinFields(fs []Field) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}

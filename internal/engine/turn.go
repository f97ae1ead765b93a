package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Sharpy077/m2mmoving-sub000/internal/anthropic"
	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/fallback"
	"github.com/Sharpy077/m2mmoving-sub000/internal/guardrail"
	"github.com/Sharpy077/m2mmoving-sub000/internal/notify"
	"github.com/Sharpy077/m2mmoving-sub000/internal/resilience"
)

// errRejectedResponse is returned when a regenerated turn still fails the
// response guardrails. It classifies as a model failure.
var errRejectedResponse = errors.New("model response rejected by guardrails")

const handoffMessage = "A member of our team has your details and will be in touch shortly. Is there anything you'd like me to pass on?"

// Reply is what the visitor sees after a turn.
type Reply struct {
	ConversationID string             `json:"conversationId"`
	Message        string             `json:"message"`
	Stage          dialogue.Stage     `json:"stage"`
	QuickReplies   []string           `json:"quickReplies,omitempty"`
	ToolCalls      []string           `json:"toolCalls,omitempty"`
	Warnings       []string           `json:"warnings,omitempty"`
	Fallback       *fallback.Response `json:"fallback,omitempty"`
	Escalated      bool               `json:"escalated,omitempty"`
	Attempts       int                `json:"attempts,omitempty"`
}

// HandleMessage runs one visitor turn. Only one turn per conversation may be
// in flight; a second one gets ErrTurnInFlight. Provider failures never
// surface as errors: they become fallback replies.
func (e *Engine) HandleMessage(ctx context.Context, conversationID, visitorID, text string) (*Reply, error) {
	c, err := e.lookup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.claim() {
		return nil, ErrTurnInFlight
	}
	defer c.release()
	if c.closed.Load() {
		return nil, ErrConversationNotFound
	}

	start := e.clock.Now()
	turnCtx, cancel := context.WithCancel(ctx)
	c.setCancel(cancel)
	defer func() {
		c.setCancel(nil)
		cancel()
	}()

	c.mu.Lock()
	stage := c.machine.Stage()
	input := guardrail.ValidateUserInput(text, stage)
	if !input.Valid {
		c.mu.Unlock()
		return nil, ErrEmptyMessage
	}
	c.machine.AttachVisitor(visitorID)
	c.machine.Touch()
	e.scheduler.Arm(c.id, stage)
	c.appendMessage(dialogue.RoleUser, input.Sanitized, start)

	if stage == dialogue.StageHumanEscalation {
		c.appendMessage(dialogue.RoleAssistant, handoffMessage, e.clock.Now())
		e.scheduler.Stop(c.id)
		reply := &Reply{ConversationID: c.id, Message: handoffMessage, Stage: stage, Warnings: input.Warnings}
		c.persist(e, c.snapshot())
		c.mu.Unlock()
		e.metrics.Turn("handoff", e.clock.Since(start).Seconds())
		return reply, nil
	}
	if stage == dialogue.StageErrorRecovery {
		if res := c.machine.ResumePrevious(); res.Allowed {
			stage = c.machine.Stage()
		}
	}
	req := anthropic.GenerateRequest{
		Context:    c.machine.Snapshot(),
		Transcript: c.prompt(),
		Tools:      e.toolbox.Available(),
	}
	class := e.timeoutClass(c)
	c.mu.Unlock()

	turn, attempts, genErr := e.generateChecked(turnCtx, req, stage, input.Sanitized, class)

	if c.closed.Load() {
		return nil, ErrConversationNotFound
	}
	if genErr != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("handle message: %w", ctx.Err())
	}

	var reply *Reply
	if genErr != nil {
		reply = e.failTurn(turnCtx, c, genErr, attempts)
		e.metrics.Turn("fallback", e.clock.Since(start).Seconds())
	} else {
		reply = e.completeTurn(turnCtx, c, turn)
		e.metrics.Turn("ok", e.clock.Since(start).Seconds())
	}
	reply.Warnings = input.Warnings
	reply.Attempts = attempts
	if !c.closed.Load() {
		// Refreshes the idle expiry.
		e.convs.Add(c.id, c)
	}
	return reply, nil
}

func (e *Engine) timeoutClass(c *conversation) resilience.TimeoutClass {
	users := 0
	for _, m := range c.transcript {
		if m.Role == dialogue.RoleUser {
			users++
		}
	}
	switch {
	case users <= 1:
		return resilience.TimeoutInitial
	case c.toolTurn:
		return resilience.TimeoutTool
	}
	return resilience.TimeoutNormal
}

// generateChecked generates a turn and validates it, regenerating once when
// the first candidate has a blocking violation.
func (e *Engine) generateChecked(ctx context.Context, req anthropic.GenerateRequest, stage dialogue.Stage, input string, class resilience.TimeoutClass) (dialogue.Turn, int, error) {
	turn, attempts, err := e.generate(ctx, req, class)
	if err != nil {
		return turn, attempts, err
	}
	check := e.validate(turn, stage, input, req.Context.ConversationID)
	if !check.Blocking() {
		return turn, attempts, nil
	}

	e.logger.Warn("regenerating rejected response", "conversation_id", req.Context.ConversationID, "stage", stage)
	turn, n, err := e.generate(ctx, req, class)
	attempts += n
	if err != nil {
		return turn, attempts, err
	}
	if check = e.validate(turn, stage, input, req.Context.ConversationID); check.Blocking() {
		return dialogue.Turn{}, attempts, fmt.Errorf("%w: %s", errRejectedResponse, violationList(check))
	}
	return turn, attempts, nil
}

func (e *Engine) validate(turn dialogue.Turn, stage dialogue.Stage, input, conversationID string) guardrail.Result {
	check := guardrail.ValidateResponse(turn, stage, input)
	for _, v := range check.Violations {
		e.metrics.Violation(v.Type)
		e.logger.Info("guardrail violation",
			"conversation_id", conversationID, "type", v.Type, "severity", v.Severity)
	}
	return check
}

func violationList(r guardrail.Result) string {
	types := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		types[i] = v.Type
	}
	return strings.Join(types, ", ")
}

// generate calls the provider under the response monitor and the retry
// policies. Each attempt gets its own deadline.
func (e *Engine) generate(ctx context.Context, req anthropic.GenerateRequest, class resilience.TimeoutClass) (dialogue.Turn, int, error) {
	return resilience.DoAdaptive(ctx, e.executor, e.cfg.Policies, func(ctx context.Context) (dialogue.Turn, error) {
		turnID := uuid.NewString()
		actx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		untrack := e.track(turnID, cancel)
		defer untrack()

		e.monitor.Start(turnID, class)
		turn, err := e.provider.Generate(actx, req)
		e.monitor.Cancel(turnID)
		if err != nil {
			if errors.Is(context.Cause(actx), resilience.ErrResponseTimeout) {
				return dialogue.Turn{}, fmt.Errorf("generate: %w", resilience.ErrResponseTimeout)
			}
			return dialogue.Turn{}, fmt.Errorf("generate: %w", err)
		}
		return turn, nil
	}, resilience.WithLabel("generate"))
}

// completeTurn applies a released turn: tool effects, follow-up text, error
// reset, nudges and persistence.
func (e *Engine) completeTurn(ctx context.Context, c *conversation, turn dialogue.Turn) *Reply {
	c.mu.Lock()
	reply := &Reply{ConversationID: c.id}
	var (
		followUp string
		escalate string
	)
	for _, call := range turn.ToolCalls {
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		res := e.toolbox.Invoke(ctx, call)
		reply.ToolCalls = append(reply.ToolCalls, call.Name)
		eff := applyTool(c.machine, res)
		if eff.moved {
			e.logger.Debug("tool moved the dialogue",
				"conversation_id", c.id, "tool", call.Name, "stage", c.machine.Stage())
		}
		if eff.refused != nil {
			e.logger.Warn("tool result did not move the dialogue",
				"conversation_id", c.id, "tool", call.Name, "from", eff.refused.From, "to", eff.refused.To, "reason", eff.refused.Reason)
		}
		if eff.escalate != "" {
			escalate = eff.escalate
		}
		followUp = guardrail.GenerateToolFollowUp(call.Name, res.Output)
	}
	c.toolTurn = turn.HasTools()

	msg := strings.TrimSpace(turn.Text)
	if followUp != "" {
		if msg != "" {
			msg += "\n\n"
		}
		msg += followUp
	}
	c.machine.ResetErrors()
	c.appendMessage(dialogue.RoleAssistant, msg, e.clock.Now())

	stage := c.machine.Stage()
	reply.Message = msg
	reply.Stage = stage
	reply.QuickReplies = dialogue.Config(stage).QuickReplies
	if stage.Terminal() {
		e.scheduler.Stop(c.id)
	} else {
		e.scheduler.Arm(c.id, stage)
	}
	snap := c.snapshot()
	c.persist(e, snap)
	c.mu.Unlock()

	if escalate != "" && stage == dialogue.StageHumanEscalation {
		reply.Escalated = true
		e.escalate(ctx, snap.Context, escalate, notify.PriorityNormal)
	}
	return reply
}

// failTurn turns an exhausted generation into a fallback reply and escalates
// when the failure budget is spent.
func (e *Engine) failTurn(ctx context.Context, c *conversation, genErr error, attempts int) *Reply {
	cls := resilience.Classify(genErr)

	c.mu.Lock()
	from := c.machine.Stage()
	rec := c.machine.RecordError()
	fb := e.fallbacks.Select(fallback.Input{
		ErrorType:  cls.Type,
		RetryCount: max(attempts, rec.Count),
		Stage:      from,
	})
	reason := ""
	switch {
	case rec.Escalated:
		reason = reasonErrorThreshold
	case fb.Escalate:
		if c.machine.TransitionTo(dialogue.StageHumanEscalation, dialogue.Patch{}).Allowed {
			reason = reasonFallback
		}
	case !from.Terminal():
		c.machine.TransitionTo(dialogue.StageErrorRecovery, dialogue.Patch{})
	}
	stage := c.machine.Stage()
	c.appendMessage(dialogue.RoleAssistant, fb.Message, e.clock.Now())
	if stage.Terminal() {
		e.scheduler.Stop(c.id)
	} else {
		e.scheduler.Arm(c.id, stage)
	}
	snap := c.snapshot()
	c.persist(e, snap)
	c.mu.Unlock()

	e.logger.Error("turn failed, serving fallback",
		"conversation_id", c.id, "error_type", cls.Type, "attempts", attempts,
		"strategy", fb.Strategy, "errors", rec.Count, "error", genErr)
	e.metrics.Fallback(string(fb.Strategy))

	options := make([]string, len(fb.Actions))
	for i, a := range fb.Actions {
		options[i] = a.Label
	}
	e.notify(ctx, notify.Notification{
		Type:           notify.KindFallback,
		ConversationID: c.id,
		Message:        fb.Message,
		Options:        options,
		Stage:          stage,
		At:             e.clock.Now(),
	})
	if reason != "" {
		e.escalate(ctx, snap.Context, reason, notify.PriorityHigh)
	}

	return &Reply{
		ConversationID: c.id,
		Message:        fb.Message,
		Stage:          stage,
		QuickReplies:   options,
		Fallback:       &fb,
		Escalated:      reason != "",
	}
}

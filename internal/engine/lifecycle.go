package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/guardrail"
	"github.com/Sharpy077/m2mmoving-sub000/internal/notify"
	"github.com/Sharpy077/m2mmoving-sub000/internal/session"
)

const greeting = "Hi, I'm Maya from M2M Moving! I can put together a quote for your business move in a few minutes. What's the name of your business?"

// Start opens a new conversation at the greeting stage.
func (e *Engine) Start(ctx context.Context, visitorID string) (*Reply, error) {
	c := e.newConversation(visitorID)
	c.mu.Lock()
	c.appendMessage(dialogue.RoleAssistant, greeting, e.clock.Now())
	snap := c.snapshot()
	c.mu.Unlock()

	if err := e.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	e.add(c)
	e.scheduler.Arm(c.id, dialogue.StageGreeting)
	e.logger.Info("conversation started", "conversation_id", c.id, "visitor_id", visitorID)

	return &Reply{
		ConversationID: c.id,
		Message:        greeting,
		Stage:          dialogue.StageGreeting,
		QuickReplies:   dialogue.Config(dialogue.StageGreeting).QuickReplies,
	}, nil
}

// Recover reopens the visitor's most recent unfinished conversation and
// greets them with a summary of where they left off.
func (e *Engine) Recover(ctx context.Context, visitorID string) (*Reply, error) {
	saved, err := e.store.FindMostRecent(ctx, visitorID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recover conversation: %w", err)
	}
	c, err := e.lookup(ctx, saved.ConversationID)
	if err != nil {
		return nil, err
	}
	reply := e.welcomeBack(c)
	e.scheduler.Arm(c.id, reply.Stage)
	return reply, nil
}

// Resume reopens a conversation by id. Unlike a visitor message it keeps the
// re-engagement budget already spent.
func (e *Engine) Resume(ctx context.Context, conversationID string) (*Reply, error) {
	c, err := e.lookup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	reply := e.welcomeBack(c)
	if !reply.Stage.Terminal() {
		e.scheduler.Rearm(c.id, reply.Stage)
	}
	return reply, nil
}

func (e *Engine) welcomeBack(c *conversation) *Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	saved := c.snapshot()
	msg := session.GenerateRecoveryPrompt(saved)
	if c.machine.Stage() == dialogue.StageErrorRecovery && !c.busy.Load() {
		c.machine.ResumePrevious()
	}
	c.appendMessage(dialogue.RoleAssistant, msg, e.clock.Now())
	c.persist(e, c.snapshot())
	stage := c.machine.Stage()
	return &Reply{
		ConversationID: c.id,
		Message:        msg,
		Stage:          stage,
		QuickReplies:   dialogue.Config(stage).QuickReplies,
	}
}

// Close cancels any turn in flight, stops the conversation's timers, writes
// its final state and drops it from memory. The session stays recoverable.
func (e *Engine) Close(_ context.Context, conversationID string) error {
	c, ok := e.convs.Peek(conversationID)
	if !ok {
		return ErrConversationNotFound
	}
	c.mu.Lock()
	c.persist(e, c.snapshot())
	c.mu.Unlock()
	e.convs.Remove(conversationID)
	e.metrics.SetActive(e.convs.Len())
	e.logger.Info("conversation closed", "conversation_id", conversationID)
	return nil
}

// Delete closes the conversation and removes its session.
func (e *Engine) Delete(ctx context.Context, conversationID string) error {
	if err := e.Close(ctx, conversationID); err != nil && !errors.Is(err, ErrConversationNotFound) {
		return err
	}
	if err := e.store.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// State is a read-only view of a conversation.
type State struct {
	Context       *dialogue.ConversationContext `json:"context"`
	Messages      []dialogue.Message            `json:"messages"`
	NudgesSent    int                           `json:"nudgesSent"`
	NudgesPending int                           `json:"nudgesPending"`
}

func (e *Engine) Snapshot(ctx context.Context, conversationID string) (*State, error) {
	c, err := e.lookup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	saved := c.snapshot()
	c.mu.Unlock()
	return &State{
		Context:       saved.Context,
		Messages:      saved.Messages,
		NudgesSent:    e.scheduler.Attempts(conversationID),
		NudgesPending: e.scheduler.Pending(conversationID),
	}, nil
}

func (e *Engine) Health(ctx context.Context, conversationID string) (guardrail.Health, error) {
	c, err := e.lookup(ctx, conversationID)
	if err != nil {
		return guardrail.Health{}, err
	}
	c.mu.Lock()
	snap := c.machine.Snapshot()
	c.mu.Unlock()
	return guardrail.ConversationHealth(snap, e.clock.Now()), nil
}

func (e *Engine) Reengagement(ctx context.Context, conversationID string) (dialogue.Reengagement, error) {
	c, err := e.lookup(ctx, conversationID)
	if err != nil {
		return dialogue.Reengagement{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.CheckReengagement(), nil
}

// onRecoveryNudge runs after the last nudge of an idle conversation. A
// visitor gone quiet at payment, or idle long enough to be critical, is
// handed to the sales team.
func (e *Engine) onRecoveryNudge(conversationID string, stage dialogue.Stage) {
	c, ok := e.convs.Peek(conversationID)
	if !ok || !c.claim() {
		return
	}
	defer c.release()

	c.mu.Lock()
	check := c.machine.CheckReengagement()
	if c.machine.Stage() != stage ||
		(stage != dialogue.StagePayment && check.Urgency != dialogue.UrgencyCritical) {
		c.mu.Unlock()
		return
	}
	if !c.machine.TransitionTo(dialogue.StageHumanEscalation, dialogue.Patch{}).Allowed {
		c.mu.Unlock()
		return
	}
	snap := c.snapshot()
	c.persist(e, snap)
	c.mu.Unlock()

	e.scheduler.Stop(conversationID)
	e.escalate(context.Background(), snap.Context, reasonIdlePayment, notify.PriorityUrgent)
}

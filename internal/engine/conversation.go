package engine

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/session"
)

// maxPromptMessages bounds the transcript handed to the provider.
const maxPromptMessages = 40

const saveTimeout = 10 * time.Second

// saveBackoff bounds how hard a failed snapshot write is retried.
var saveBackoff = func() retry.Backoff {
	return retry.WithMaxRetries(4, retry.NewExponential(50*time.Millisecond))
}

type conversation struct {
	id        string
	createdAt time.Time

	busy   atomic.Bool
	closed atomic.Bool

	// mu guards the machine and transcript. It is never held while waiting
	// on the provider.
	mu         sync.Mutex
	machine    *dialogue.Machine
	transcript []dialogue.Message
	toolTurn   bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	saveMu  sync.Mutex
	pending *session.SavedSession
	writing bool
	writes  sync.WaitGroup
}

// claim marks the conversation busy for one turn.
func (c *conversation) claim() bool { return c.busy.CompareAndSwap(false, true) }

func (c *conversation) release() { c.busy.Store(false) }

func (c *conversation) setCancel(cancel context.CancelFunc) {
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
}

// abort cancels the turn in flight, if any.
func (c *conversation) abort() {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// appendMessage records a message; the caller holds mu.
func (c *conversation) appendMessage(role dialogue.Role, text string, at time.Time) {
	c.transcript = append(c.transcript, dialogue.Message{Role: role, Content: text, Timestamp: at})
}

// prompt returns the tail of the transcript; the caller holds mu.
func (c *conversation) prompt() []dialogue.Message {
	msgs := c.transcript
	if len(msgs) > maxPromptMessages {
		msgs = msgs[len(msgs)-maxPromptMessages:]
	}
	return slices.Clone(msgs)
}

// snapshot builds the durable form; the caller holds mu.
func (c *conversation) snapshot() *session.SavedSession {
	snap := c.machine.Snapshot()
	return &session.SavedSession{
		ConversationID: c.id,
		VisitorID:      snap.VisitorID,
		Context:        snap,
		Messages:       slices.Clone(c.transcript),
		CreatedAt:      c.createdAt,
	}
}

// persist queues snap for writing. Writes for one conversation run one at a
// time, only the newest queued snapshot is written and a failed write is
// retried with backoff.
func (c *conversation) persist(e *Engine, snap *session.SavedSession) {
	c.saveMu.Lock()
	c.pending = snap
	if c.writing {
		c.saveMu.Unlock()
		return
	}
	c.writing = true
	c.writes.Add(1)
	c.saveMu.Unlock()

	go func() {
		defer c.writes.Done()
		for {
			c.saveMu.Lock()
			next := c.pending
			c.pending = nil
			if next == nil {
				c.writing = false
				c.saveMu.Unlock()
				return
			}
			c.saveMu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			err := retry.Do(ctx, saveBackoff(), func(ctx context.Context) error {
				if err := e.store.Save(ctx, next); err != nil {
					e.logger.Warn("conversation write failed, retrying", "conversation_id", c.id, "error", err)
					return retry.RetryableError(err)
				}
				return nil
			})
			if err != nil {
				e.logger.Error("failed to persist conversation", "conversation_id", c.id, "error", err)
			}
			cancel()
		}
	}()
}

// flush waits until every queued snapshot is written or has used up its
// retries.
func (c *conversation) flush() {
	c.writes.Wait()
}

// Package session persists conversation snapshots so dialogues survive restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/kv"
)

// CurrentVersion is the snapshot schema written by Save.
const CurrentVersion = 3

const keyPrefix = "session:"

var ErrNotFound = errors.New("session not found")

const (
	DefaultTTL       = 24 * time.Hour
	DefaultRetention = 72 * time.Hour
)

// SavedSession is the durable form of a conversation.
type SavedSession struct {
	Version        int                           `json:"version"`
	ConversationID string                        `json:"conversationId"`
	VisitorID      string                        `json:"visitorId,omitempty"`
	Context        *dialogue.ConversationContext `json:"context"`
	Messages       []dialogue.Message            `json:"messages"`
	CreatedAt      time.Time                     `json:"createdAt"`
	LastUpdated    time.Time                     `json:"lastUpdated"`
	ExpiresAt      time.Time                     `json:"expiresAt"`
}

type Store struct {
	kv        kv.Store
	clock     clock.Clock
	ttl       time.Duration
	retention time.Duration
	logger    *slog.Logger
}

type Option func(*Store)

func WithClock(c clock.Clock) Option { return func(s *Store) { s.clock = c } }

// WithTTL sets how long after creation a session expires.
func WithTTL(d time.Duration) Option { return func(s *Store) { s.ttl = d } }

// WithRetention sets how long a completed session is kept after its last update.
func WithRetention(d time.Duration) Option { return func(s *Store) { s.retention = d } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:        store,
		clock:     clock.New(),
		ttl:       DefaultTTL,
		retention: DefaultRetention,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func key(conversationID string) string { return keyPrefix + conversationID }

// Save writes the snapshot. CreatedAt is kept when already set so the expiry
// stays fixed from creation.
func (s *Store) Save(ctx context.Context, saved *SavedSession) error {
	if saved.ConversationID == "" {
		return errors.New("save session: missing conversation id")
	}
	now := s.clock.Now()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}
	if saved.VisitorID == "" && saved.Context != nil {
		saved.VisitorID = saved.Context.VisitorID
	}
	saved.Version = CurrentVersion
	saved.LastUpdated = now
	saved.ExpiresAt = saved.CreatedAt.Add(s.ttl)

	data, err := json.Marshal(saved)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", saved.ConversationID, err)
	}
	if err := s.kv.Put(ctx, key(saved.ConversationID), data); err != nil {
		return fmt.Errorf("save session %s: %w", saved.ConversationID, err)
	}
	return nil
}

// Load returns a live session. Expired and unreadable-future snapshots are
// deleted and reported as ErrNotFound.
func (s *Store) Load(ctx context.Context, conversationID string) (*SavedSession, error) {
	saved, _, err := s.load(ctx, conversationID)
	return saved, err
}

func (s *Store) load(ctx context.Context, conversationID string) (*SavedSession, bool, error) {
	raw, err := s.kv.Get(ctx, key(conversationID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", conversationID, err)
	}

	saved, err := decode(raw, s.ttl)
	if errors.Is(err, errFutureVersion) {
		s.logger.Warn("discarding session from a newer schema", "conversation_id", conversationID, "error", err)
		return nil, true, s.discard(ctx, conversationID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", conversationID, err)
	}

	if !s.clock.Now().Before(saved.ExpiresAt) {
		s.logger.Info("session expired", "conversation_id", conversationID, "expired_at", saved.ExpiresAt)
		return nil, true, s.discard(ctx, conversationID)
	}
	return saved, false, nil
}

func (s *Store) discard(ctx context.Context, conversationID string) error {
	if err := s.Delete(ctx, conversationID); err != nil {
		return err
	}
	return ErrNotFound
}

func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if err := s.kv.Delete(ctx, key(conversationID)); err != nil {
		return fmt.Errorf("delete session %s: %w", conversationID, err)
	}
	return nil
}

func (s *Store) ids(ctx context.Context) ([]string, error) {
	keys, err := s.kv.ListKeys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, keyPrefix)
	}
	return ids, nil
}

// FindMostRecent returns the most recently updated live session that has not
// finished. An empty visitorID matches every visitor.
func (s *Store) FindMostRecent(ctx context.Context, visitorID string) (*SavedSession, error) {
	ids, err := s.ids(ctx)
	if err != nil {
		return nil, err
	}
	var best *SavedSession
	for _, id := range ids {
		saved, err := s.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("skipping unreadable session", "conversation_id", id, "error", err)
			continue
		}
		if saved.Context == nil || saved.Context.Stage.Terminal() {
			continue
		}
		if visitorID != "" && saved.VisitorID != visitorID {
			continue
		}
		if best == nil || saved.LastUpdated.After(best.LastUpdated) {
			best = saved
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// Sweep removes expired sessions and completed sessions past retention.
// It returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	ids, err := s.ids(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	removed := 0
	for _, id := range ids {
		saved, expired, err := s.load(ctx, id)
		if expired {
			removed++
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.logger.Warn("sweep skipped session", "conversation_id", id, "error", err)
			}
			continue
		}
		if saved.Context != nil && saved.Context.Stage == dialogue.StageComplete &&
			now.Sub(saved.LastUpdated) > s.retention {
			if err := s.Delete(ctx, id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

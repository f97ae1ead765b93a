package session

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/kv"
)

func newStore(t *testing.T) (*Store, *kv.Memory, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	mem := kv.NewMemory()
	return NewStore(mem, WithClock(clk)), mem, clk
}

func sampleSession(id, visitor string, stage dialogue.Stage, now time.Time) *SavedSession {
	c := dialogue.NewContext(id, visitor, now)
	c.Stage = stage
	c.BusinessName = "Acme Logistics"
	c.ServiceType = dialogue.ServiceOffice
	c.QualifyingAnswers[0] = "350"
	return &SavedSession{
		ConversationID: id,
		Context:        c,
		Messages: []dialogue.Message{
			{Role: dialogue.RoleUser, Content: "hi", Timestamp: now},
			{Role: dialogue.RoleAssistant, Content: "Hi! What's your business called?", Timestamp: now},
		},
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s, _, clk := newStore(t)
	ctx := context.Background()

	in := sampleSession("c1", "v1", dialogue.StageQualifyingQuestions, clk.Now())
	require.NoError(t, s.Save(ctx, in))

	out, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, out.Version)
	assert.Equal(t, "v1", out.VisitorID)
	assert.Equal(t, dialogue.StageQualifyingQuestions, out.Context.Stage)
	assert.Equal(t, "Acme Logistics", out.Context.BusinessName)
	assert.Equal(t, map[int]string{0: "350"}, out.Context.QualifyingAnswers)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "hi", out.Messages[0].Content)
	assert.True(t, out.ExpiresAt.Equal(clk.Now().Add(DefaultTTL)))
}

func TestLoad_Missing(t *testing.T) {
	s, _, _ := newStore(t)
	_, err := s.Load(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_ExpiredIsDeleted(t *testing.T) {
	s, mem, clk := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleSession("c1", "v1", dialogue.StageGreeting, clk.Now())))

	clk.Add(DefaultTTL + time.Second)

	_, err := s.Load(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = mem.Get(ctx, "session:c1")
	require.ErrorIs(t, err, kv.ErrNotFound, "expired snapshot is removed from the store")
}

func TestSave_ExpiryFixedFromCreation(t *testing.T) {
	s, _, clk := newStore(t)
	ctx := context.Background()
	created := clk.Now()

	sess := sampleSession("c1", "v1", dialogue.StageGreeting, created)
	require.NoError(t, s.Save(ctx, sess))
	clk.Add(12 * time.Hour)
	require.NoError(t, s.Save(ctx, sess))

	out, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, out.CreatedAt.Equal(created))
	assert.True(t, out.ExpiresAt.Equal(created.Add(DefaultTTL)))
	assert.True(t, out.LastUpdated.Equal(clk.Now()))
}

func TestLoad_MigratesOldVersions(t *testing.T) {
	s, mem, _ := newStore(t)
	ctx := context.Background()

	v1 := `{
		"version": 1,
		"conversationId": "c1",
		"context": {"conversationId": "c1", "visitorId": "v9", "stage": "location_origin", "serviceType": "retail"},
		"messages": [],
		"lastUpdated": "2025-03-03T08:00:00Z",
		"expiresAt": "2025-03-04T08:00:00Z"
	}`
	require.NoError(t, mem.Put(ctx, "session:c1", []byte(v1)))

	out, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, out.Version)
	assert.Equal(t, "v9", out.VisitorID)
	assert.NotNil(t, out.Context.InventoryItems)
	assert.NotNil(t, out.Context.QualifyingAnswers)
	assert.Equal(t, 0, out.Context.ErrorCount)
	assert.True(t, out.Context.StageStartTime.Equal(time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)))
	assert.True(t, out.CreatedAt.Equal(out.LastUpdated))
}

func TestLoad_LegacySnapshotWithoutExpiry(t *testing.T) {
	s, mem, clk := newStore(t)
	ctx := context.Background()

	v1 := `{
		"version": 1,
		"conversationId": "c1",
		"context": {"conversationId": "c1", "stage": "greeting"},
		"messages": [],
		"lastUpdated": "2025-03-03T08:00:00Z"
	}`
	require.NoError(t, mem.Put(ctx, "session:c1", []byte(v1)))

	out, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, out.ExpiresAt.Equal(time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)))

	clk.Add(DefaultTTL)
	_, err = s.Load(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_DiscardsFutureVersions(t *testing.T) {
	s, mem, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, mem.Put(ctx, "session:c1", []byte(`{"version": 99, "conversationId": "c1"}`)))

	_, err := s.Load(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = mem.Get(ctx, "session:c1")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestFindMostRecent(t *testing.T) {
	s, _, clk := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleSession("old", "v1", dialogue.StageServiceSelect, clk.Now())))
	clk.Add(time.Minute)
	require.NoError(t, s.Save(ctx, sampleSession("new", "v1", dialogue.StageQuoteGenerated, clk.Now())))
	clk.Add(time.Minute)
	require.NoError(t, s.Save(ctx, sampleSession("done", "v1", dialogue.StageComplete, clk.Now())))
	require.NoError(t, s.Save(ctx, sampleSession("someone-else", "v2", dialogue.StageGreeting, clk.Now())))

	got, err := s.FindMostRecent(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ConversationID)

	got, err = s.FindMostRecent(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got.ConversationID)

	_, err = s.FindMostRecent(ctx, "v3")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindMostRecent_SkipsExpired(t *testing.T) {
	s, _, clk := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleSession("c1", "v1", dialogue.StagePayment, clk.Now())))
	clk.Add(DefaultTTL * 2)

	_, err := s.FindMostRecent(ctx, "v1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSweep(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	s := NewStore(kv.NewMemory(), WithClock(clk), WithTTL(100*time.Hour), WithRetention(time.Hour))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleSession("expired", "v1", dialogue.StageGreeting, clk.Now())))
	clk.Add(98 * time.Hour)
	require.NoError(t, s.Save(ctx, sampleSession("done", "v1", dialogue.StageComplete, clk.Now())))
	require.NoError(t, s.Save(ctx, sampleSession("live", "v1", dialogue.StageDateSelect, clk.Now())))
	clk.Add(3 * time.Hour)

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = s.Load(ctx, "live")
	require.NoError(t, err)
	_, err = s.Load(ctx, "done")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateRecoveryPrompt(t *testing.T) {
	now := time.Now()
	quote := 8450.0

	sess := sampleSession("c1", "v1", dialogue.StageQuoteGenerated, now)
	sess.Context.QuoteAmount = &quote
	sess.Context.OriginSuburb = "Richmond"
	sess.Context.DestinationSuburb = "Docklands"
	p := GenerateRecoveryPrompt(sess)
	assert.Contains(t, p, "$8,450.00")
	assert.Contains(t, p, "Richmond to Docklands")

	sess.Context.Stage = dialogue.StageErrorRecovery
	sess.Context.PreviousStage = dialogue.StageQuoteGenerated
	assert.Equal(t, p, GenerateRecoveryPrompt(sess))

	pay := sampleSession("c2", "v1", dialogue.StagePayment, now)
	pay.Context.ContactName = "Jo"
	pay.Context.SelectedDate = "2025-04-12"
	p = GenerateRecoveryPrompt(pay)
	assert.Contains(t, p, "Welcome back, Jo!")
	assert.Contains(t, p, "deposit")

	assert.Contains(t, GenerateRecoveryPrompt(nil), "Welcome back")
}

func TestNewSweeper(t *testing.T) {
	s, _, _ := newStore(t)

	_, err := NewSweeper(s, "not a schedule", nil)
	require.Error(t, err)

	sw, err := NewSweeper(s, "@every 1h", nil)
	require.NoError(t, err)
	sw.Start()
	sw.Stop()
}

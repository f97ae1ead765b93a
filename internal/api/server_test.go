package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/engine"
	"github.com/Sharpy077/m2mmoving-sub000/internal/guardrail"
	"github.com/Sharpy077/m2mmoving-sub000/internal/metrics"
	"github.com/Sharpy077/m2mmoving-sub000/internal/notify"
)

type fakeConversations struct {
	mu      sync.Mutex
	known   map[string]bool
	busy    bool
	closed  []string
	deleted []string
}

func newFake(ids ...string) *fakeConversations {
	f := &fakeConversations{known: map[string]bool{}}
	for _, id := range ids {
		f.known[id] = true
	}
	return f
}

func (f *fakeConversations) has(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[id] {
		return engine.ErrConversationNotFound
	}
	return nil
}

func (f *fakeConversations) Start(_ context.Context, visitorID string) (*engine.Reply, error) {
	f.mu.Lock()
	f.known["conv-new"] = true
	f.mu.Unlock()
	return &engine.Reply{ConversationID: "conv-new", Message: "hi " + visitorID, Stage: dialogue.StageGreeting}, nil
}

func (f *fakeConversations) HandleMessage(_ context.Context, id, _, text string) (*engine.Reply, error) {
	if err := f.has(id); err != nil {
		return nil, err
	}
	if f.busy {
		return nil, engine.ErrTurnInFlight
	}
	if strings.TrimSpace(text) == "" {
		return nil, engine.ErrEmptyMessage
	}
	if text == "boom" {
		return nil, fmt.Errorf("store down")
	}
	return &engine.Reply{ConversationID: id, Message: "echo: " + text, Stage: dialogue.StageServiceSelect}, nil
}

func (f *fakeConversations) Recover(_ context.Context, visitorID string) (*engine.Reply, error) {
	if visitorID != "v-1" {
		return nil, engine.ErrConversationNotFound
	}
	return &engine.Reply{ConversationID: "conv-1", Message: "welcome back", Stage: dialogue.StageQuoteGenerated}, nil
}

func (f *fakeConversations) Resume(_ context.Context, id string) (*engine.Reply, error) {
	if err := f.has(id); err != nil {
		return nil, err
	}
	return &engine.Reply{ConversationID: id, Message: "welcome back", Stage: dialogue.StagePayment}, nil
}

func (f *fakeConversations) Snapshot(_ context.Context, id string) (*engine.State, error) {
	if err := f.has(id); err != nil {
		return nil, err
	}
	return &engine.State{
		Context:    &dialogue.ConversationContext{ConversationID: id, Stage: dialogue.StagePayment},
		NudgesSent: 1,
	}, nil
}

func (f *fakeConversations) Health(_ context.Context, id string) (guardrail.Health, error) {
	if err := f.has(id); err != nil {
		return guardrail.Health{}, err
	}
	return guardrail.Health{Score: 80, Status: guardrail.HealthHealthy}, nil
}

func (f *fakeConversations) Reengagement(_ context.Context, id string) (dialogue.Reengagement, error) {
	if err := f.has(id); err != nil {
		return dialogue.Reengagement{}, err
	}
	return dialogue.Reengagement{Needed: true, Urgency: dialogue.UrgencyHigh}, nil
}

func (f *fakeConversations) Close(_ context.Context, id string) error {
	if err := f.has(id); err != nil {
		return err
	}
	f.mu.Lock()
	f.closed = append(f.closed, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeConversations) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return nil
}

func serve(t *testing.T, srv *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(8760, "", newFake())

	w := serve(t, srv, "GET", "/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := NewServer(8760, "", newFake())

	w := serve(t, srv, "GET", "/nonexistent", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Turn("ok", 0.2)
	srv := NewServer(8760, "", newFake(), WithMetrics(m))

	w := serve(t, srv, "GET", "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "maya_turns_total")
}

func TestStartConversation(t *testing.T) {
	srv := NewServer(8760, "", newFake())

	w := serve(t, srv, "POST", "/api/v1/conversations", `{"visitorId":"v-9"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var reply engine.Reply
	require.NoError(t, json.NewDecoder(w.Body).Decode(&reply))
	assert.Equal(t, "conv-new", reply.ConversationID)
	assert.Equal(t, "hi v-9", reply.Message)
	assert.Equal(t, dialogue.StageGreeting, reply.Stage)
}

func TestStartConversation_EmptyBody(t *testing.T) {
	srv := NewServer(8760, "", newFake())

	w := serve(t, srv, "POST", "/api/v1/conversations", "")

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestPostMessage_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		body   string
		busy   bool
		status int
	}{
		{"reply", "conv-1", `{"message":"office move"}`, false, http.StatusOK},
		{"unknown conversation", "nope", `{"message":"hi"}`, false, http.StatusNotFound},
		{"turn in flight", "conv-1", `{"message":"hi"}`, true, http.StatusConflict},
		{"empty message", "conv-1", `{"message":"   "}`, false, http.StatusBadRequest},
		{"invalid json", "conv-1", `{"message":`, false, http.StatusBadRequest},
		{"engine error", "conv-1", `{"message":"boom"}`, false, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake("conv-1")
			f.busy = tt.busy
			srv := NewServer(8760, "", f)

			w := serve(t, srv, "POST", "/api/v1/conversations/"+tt.id+"/messages", tt.body)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				var body map[string]string
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestPostMessage_EngineErrorIsNotLeaked(t *testing.T) {
	srv := NewServer(8760, "", newFake("conv-1"))

	w := serve(t, srv, "POST", "/api/v1/conversations/conv-1/messages", `{"message":"boom"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "store down")
}

func TestConversationReads(t *testing.T) {
	srv := NewServer(8760, "", newFake("conv-1"))

	w := serve(t, srv, "GET", "/api/v1/conversations/conv-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var state engine.State
	require.NoError(t, json.NewDecoder(w.Body).Decode(&state))
	assert.Equal(t, dialogue.StagePayment, state.Context.Stage)
	assert.Equal(t, 1, state.NudgesSent)

	w = serve(t, srv, "GET", "/api/v1/conversations/conv-1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var h guardrail.Health
	require.NoError(t, json.NewDecoder(w.Body).Decode(&h))
	assert.Equal(t, 80, h.Score)

	w = serve(t, srv, "GET", "/api/v1/conversations/conv-1/reengagement", "")
	require.Equal(t, http.StatusOK, w.Code)
	var re dialogue.Reengagement
	require.NoError(t, json.NewDecoder(w.Body).Decode(&re))
	assert.True(t, re.Needed)
	assert.Equal(t, dialogue.UrgencyHigh, re.Urgency)

	for _, path := range []string{"", "/health", "/reengagement"} {
		w = serve(t, srv, "GET", "/api/v1/conversations/missing"+path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestRecovery(t *testing.T) {
	srv := NewServer(8760, "", newFake())

	tests := []struct {
		query  string
		status int
	}{
		{"?visitor=v-1", http.StatusOK},
		{"?visitor=v-2", http.StatusNotFound},
		{"", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := serve(t, srv, "GET", "/api/v1/recovery"+tt.query, "")
		assert.Equal(t, tt.status, w.Code, tt.query)
	}
}

func TestResumeCloseDelete(t *testing.T) {
	f := newFake("conv-1")
	srv := NewServer(8760, "", f)

	w := serve(t, srv, "POST", "/api/v1/conversations/conv-1/resume", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(t, srv, "POST", "/api/v1/conversations/conv-1/close", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"conv-1"}, f.closed)

	w = serve(t, srv, "DELETE", "/api/v1/conversations/conv-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"conv-1"}, f.deleted)

	w = serve(t, srv, "POST", "/api/v1/conversations/missing/close", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBearerAuth(t *testing.T) {
	srv := NewServer(8760, "s3cret", newFake("conv-1"))

	tests := []struct {
		name   string
		path   string
		header []string
		status int
	}{
		{"missing token", "/api/v1/conversations/conv-1", nil, http.StatusUnauthorized},
		{"wrong token", "/api/v1/conversations/conv-1", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"header token", "/api/v1/conversations/conv-1", []string{"Authorization", "Bearer s3cret"}, http.StatusOK},
		{"query token", "/api/v1/conversations/conv-1?token=s3cret", nil, http.StatusOK},
		{"health is open", "/health", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, srv, "GET", tt.path, "", tt.header...)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestEvents_StreamsConversationNotifications(t *testing.T) {
	hub := notify.NewHub(nil)
	srv := NewServer(8760, "", newFake("conv-1"), WithHub(hub))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/conversations/conv-1/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Subscribers("conv-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Notify(ctx, notify.Notification{
		Type:           notify.KindReengageWarning,
		ConversationID: "conv-1",
		Stage:          dialogue.StagePayment,
		Message:        "still there?",
	}))
	// Other conversations are not delivered on this stream.
	require.NoError(t, hub.Notify(ctx, notify.Notification{ConversationID: "conv-2", Message: "not for you"}))

	var got notify.Notification
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, notify.KindReengageWarning, got.Type)
	assert.Equal(t, "still there?", got.Message)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return hub.Subscribers("conv-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEvents_UnknownConversation(t *testing.T) {
	srv := NewServer(8760, "", newFake(), WithHub(notify.NewHub(nil)))

	w := serve(t, srv, "GET", "/api/v1/conversations/missing/events", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

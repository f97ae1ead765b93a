package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
)

func TestNewRegistry_DialogueToolsEcho(t *testing.T) {
	r := NewRegistry(nil)
	res := r.Invoke(context.Background(), dialogue.ToolCall{
		ID: "t1", Name: SelectService, Input: map[string]any{"serviceType": "office"},
	})
	require.NoError(t, res.Err)
	assert.Equal(t, "t1", res.CallID)
	assert.Equal(t, "office", res.Output["serviceType"])
}

func TestInvoke_ExternalToolMissing(t *testing.T) {
	r := NewRegistry(nil)
	res := r.Invoke(context.Background(), dialogue.ToolCall{Name: CalculateQuote})
	require.Error(t, res.Err)
	assert.Contains(t, res.Output["error"], "not available")
}

func TestInvoke_HandlerError(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(CalculateQuote, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("pricing offline")
	}))
	res := r.Invoke(context.Background(), dialogue.ToolCall{Name: CalculateQuote})
	require.Error(t, res.Err)
	assert.Equal(t, "pricing offline", res.Output["error"])
}

func TestRegister_UnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	require.Error(t, r.Register("launchRocket", echo))
}

func TestAvailable(t *testing.T) {
	r := NewRegistry(nil)
	names := map[string]bool{}
	for _, d := range r.Available() {
		names[d.Name] = true
	}
	assert.True(t, names[SelectService])
	assert.False(t, names[LookupBusiness])

	require.NoError(t, r.Register(LookupBusiness, echo))
	assert.Len(t, r.Available(), len(Definitions()))
}

func TestDefinitions_HaveObjectSchemas(t *testing.T) {
	for _, d := range Definitions() {
		assert.Equal(t, "object", d.InputSchema["type"], d.Name)
		assert.NotEmpty(t, d.Description, d.Name)
	}
}

func TestHTTPHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tools/calculateQuote", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var in map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Richmond", in["origin"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"amount": 8450, "depositAmount": 845}`))
	}))
	defer srv.Close()

	r := NewRegistry(nil)
	require.NoError(t, RegisterRemote(r, srv.Client(), srv.URL+"/tools/"))

	res := r.Invoke(context.Background(), dialogue.ToolCall{
		Name: CalculateQuote, Input: map[string]any{"origin": "Richmond"},
	})
	require.NoError(t, res.Err)
	assert.Equal(t, 8450.0, res.Output["amount"])
}

func TestHTTPHandler_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	h := HTTPHandler(srv.Client(), srv.URL, LookupBusiness)
	_, err := h(context.Background(), map[string]any{"query": "Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

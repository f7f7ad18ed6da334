package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/graph"
	"github.com/parleyhq/parley/internal/secrets"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/streaming"
	"github.com/parleyhq/parley/pkg/schema"
)

// stubEngine returns a canned reply or error.
type stubEngine struct {
	reply *engine.Reply
	err   error
	last  engine.Request
}

func (e *stubEngine) ProcessMessage(_ context.Context, req engine.Request) (*engine.Reply, error) {
	e.last = req
	if e.err != nil {
		return nil, e.err
	}
	return e.reply, nil
}

type serverFixture struct {
	server  *Server
	store   *store.LibSQLStore
	engine  *stubEngine
	hub     *streaming.MemoryHub
	handler http.Handler
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	validator, err := graph.NewValidator()
	require.NoError(t, err)

	key := make([]byte, 32)
	vault, err := secrets.NewAESVault(st, secrets.VaultConfig{MasterKey: key})
	require.NoError(t, err)

	eng := &stubEngine{reply: &engine.Reply{Text: "hi there", SessionID: "sess-1"}}
	hub := streaming.NewMemoryHub()
	srv := NewServer(Deps{
		Store:     st,
		Engine:    eng,
		Validator: validator,
		Hub:       hub,
		Vault:     vault,
	})

	return &serverFixture{server: srv, store: st, engine: eng, hub: hub, handler: srv.Handler()}
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func validGraphJSON() string {
	return `{
		"name": "intake",
		"definition": {
			"nodes": [
				{"id": "qualify", "type": "milestone", "entry": true,
				 "config": {"goal": "learn the customer's name"}},
				{"id": "bye", "type": "end", "config": {"closing_message": "Bye!"}}
			],
			"edges": [{"source": "qualify", "target": "bye", "tag": "goal_achieved"}]
		}
	}`
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestMessage(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/messages",
		`{"bot_id": "b1", "contact_id": "c1", "message": "hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "hi there", body["text"])
	assert.Equal(t, "sess-1", body["session_id"])
	assert.Equal(t, "b1", f.engine.last.BotID)
	assert.Equal(t, "hello", f.engine.last.Message)
}

func TestMessage_EngineErrorMapped(t *testing.T) {
	f := newServerFixture(t)
	f.engine.err = schema.NewError(schema.ErrCodeNotFound, "bot not found")

	rec := f.do(t, http.MethodPost, "/v1/messages",
		`{"bot_id": "nope", "contact_id": "c1", "message": "hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, schema.ErrCodeNotFound, errObj["code"])
}

func TestMessage_InvalidJSON(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/messages", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateGraph(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/graphs", validGraphJSON())
	require.Equal(t, http.StatusCreated, rec.Code)

	id := decodeBody(t, rec)["id"].(string)
	require.NotEmpty(t, id)

	got := f.do(t, http.MethodGet, "/v1/graphs/"+id, "")
	assert.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "intake", decodeBody(t, got)["name"])
}

func TestCreateGraph_InvalidDefinitionRejected(t *testing.T) {
	f := newServerFixture(t)

	// Edge pointing at a node that does not exist.
	rec := f.do(t, http.MethodPost, "/v1/graphs", `{
		"name": "broken",
		"definition": {
			"nodes": [{"id": "a", "type": "message", "entry": true, "config": {"text": "hi"}}],
			"edges": [{"source": "a", "target": "ghost"}]
		}
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation")

	// Nothing was stored.
	list := f.do(t, http.MethodGet, "/v1/graphs", "")
	assert.Empty(t, decodeBody(t, list)["graphs"])
}

func TestCreateGraph_NameRequired(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/graphs", `{"definition": {"nodes": []}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateGraph(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/graphs/validate", `{
		"definition": {
			"nodes": [{"id": "a", "type": "milestone", "entry": true, "config": {"goal": "g"}}],
			"edges": []
		}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result schema.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid())
}

func TestDeleteGraph(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/graphs", validGraphJSON())
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody(t, rec)["id"].(string)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/graphs/"+id, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/graphs/"+id, "").Code)
}

func TestRegisterBot(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/graphs", validGraphJSON())
	require.Equal(t, http.StatusCreated, rec.Code)
	graphID := decodeBody(t, rec)["id"].(string)

	rec = f.do(t, http.MethodPost, "/v1/bots", `{
		"org_id": "org1", "name": "intake bot", "graph_id": "`+graphID+`",
		"persona": {"business_name": "Acme Realty"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	botID := decodeBody(t, rec)["id"].(string)

	got := f.do(t, http.MethodGet, "/v1/bots/"+botID, "")
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "intake bot", decodeBody(t, got)["name"])
}

func TestRegisterBot_MissingGraph(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/bots",
		`{"org_id": "org1", "name": "bot", "graph_id": "ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSession_NotFound(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/sessions/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	errObj := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, schema.ErrCodeNotFound, errObj["code"])
}

func TestSessionMessages(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateGraph(ctx, &store.Graph{
		ID: "g1", Name: "flow",
		Definition: schema.GraphDefinition{
			Nodes: []schema.NodeDefinition{{ID: "start", Type: schema.NodeTypeStart, Entry: true}},
		},
	}))
	require.NoError(t, f.store.RegisterBot(ctx, &store.Bot{ID: "b1", OrgID: "org1", Name: "bot", GraphID: "g1"}))
	require.NoError(t, f.store.CreateSession(ctx, &store.Session{
		ID: "sess-1", BotID: "b1", ContactID: "c1", GraphID: "g1",
		CurrentNodeID: "start", Status: schema.SessionStatusActive,
	}))
	require.NoError(t, f.store.AppendMessage(ctx, &store.Message{
		SessionID: "sess-1", Role: schema.RoleUser, Content: "hello",
	}))

	rec := f.do(t, http.MethodGet, "/v1/sessions/sess-1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeBody(t, rec)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].(map[string]any)["content"])
}

func TestCredentials(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPut, "/v1/orgs/org1/credentials",
		`{"llm_api_key": "sk-test", "crm_token": "ghl-test"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusNoContent,
		f.do(t, http.MethodDelete, "/v1/orgs/org1/credentials", "").Code)

	// Deleting again surfaces not found.
	assert.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodDelete, "/v1/orgs/org1/credentials", "").Code)
}

func TestCredentials_VaultNotConfigured(t *testing.T) {
	f := newServerFixture(t)
	f.server.deps.Vault = nil
	handler := f.server.Handler()

	req := httptest.NewRequest(http.MethodPut, "/v1/orgs/org1/credentials",
		strings.NewReader(`{"llm_api_key": "k"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSessionEventsSSE(t *testing.T) {
	f := newServerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/sess-1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.handler.ServeHTTP(rec, req)
		close(done)
	}()

	// Publish repeatedly so at least one event lands after the handler's
	// subscription is registered. The recorder body is only read after the
	// handler goroutine exits.
	for i := 0; i < 20; i++ {
		require.NoError(t, f.hub.Publish(context.Background(), streaming.StreamEvent{
			SessionID: "sess-1", EventType: schema.EventMessage,
			Payload: map[string]any{"content": "hi"},
		}))
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SSE handler did not exit on context cancel")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event: message")
	assert.Contains(t, body, `"session_id":"sess-1"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

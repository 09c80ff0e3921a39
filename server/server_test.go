package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostlabs/snowgpt/assistant/gen"
	"github.com/frostlabs/snowgpt/assistant/handoff"
	"github.com/frostlabs/snowgpt/assistant/pipeline"
	"github.com/frostlabs/snowgpt/assistant/router"
	"github.com/frostlabs/snowgpt/assistant/session"
	"github.com/frostlabs/snowgpt/internal/profile"
	"github.com/frostlabs/snowgpt/warehouse"
)

type stubGen struct{ raw string }

func (s *stubGen) Generate(context.Context, gen.PromptKind, string) (json.RawMessage, error) {
	return json.RawMessage(s.raw), nil
}

type stubPipeline struct{}

func (stubPipeline) Run(context.Context, string) *pipeline.Result {
	return &pipeline.Result{Status: pipeline.StatusOK, Message: "here you go"}
}

type stubWarehouse struct{}

func (stubWarehouse) CurrentDatabase() string { return "analytics" }
func (stubWarehouse) CurrentSchema() string   { return "public" }
func (stubWarehouse) ListTables(context.Context) ([]warehouse.TableInfo, error) {
	return []warehouse.TableInfo{{Schema: "public", Name: "sales", Type: "BASE TABLE"}}, nil
}
func (stubWarehouse) ColumnMetadata(context.Context, []string) ([]warehouse.ColumnInfo, error) {
	return nil, nil
}
func (stubWarehouse) Execute(context.Context, string) (*warehouse.TabularResult, error) {
	return &warehouse.TabularResult{
		Columns: []warehouse.Column{{Name: "n", Kind: warehouse.KindNumeric}},
		Rows:    [][]any{{float64(1)}},
	}, nil
}
func (stubWarehouse) Validate(context.Context, string) error { return nil }

func newTestServer() (*Server, session.Store) {
	store := session.NewMemoryStore()
	g := &stubGen{raw: `{"handoff":"sql_query_agent","user_request":"x"}`}
	machine := handoff.NewMachine(handoff.Config{
		Router:       router.New(g, router.KeywordConfirm([]string{"please"})),
		SQLPipeline:  stubPipeline{},
		DashPipeline: stubPipeline{},
		Store:        store,
		DataContext:  stubWarehouse{},
	})
	p := &profile.Profile{Mode: "demo", Version: "test"}
	return NewServer(p, machine, store, stubWarehouse{}, nil), store
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoContentType, "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestHealth(t *testing.T) {
	s, _ := newTestServer()
	rec := do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestChatTurn(t *testing.T) {
	s, store := newTestServer()
	rec := do(s, http.MethodPost, "/api/v1/chat", `{"conversation_id":"c1","message":"show total sales"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply handoff.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "c1", reply.ConversationID)
	assert.Equal(t, "here you go", reply.Message)

	sess, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, sess.IsAtRest())
}

func TestChatGeneratesConversationID(t *testing.T) {
	s, _ := newTestServer()
	rec := do(s, http.MethodPost, "/api/v1/chat", `{"message":"show total sales"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply handoff.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.NotEmpty(t, reply.ConversationID)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	s, _ := newTestServer()
	rec := do(s, http.MethodPost, "/api/v1/chat", `{"conversation_id":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationLifecycle(t *testing.T) {
	s, store := newTestServer()
	sess := session.New()
	sess.AppendMessage("user", "", "hi")
	require.NoError(t, store.Save(context.Background(), sess))

	rec := do(s, http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), sess.ID)

	rec = do(s, http.MethodGet, "/api/v1/conversations/"+sess.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodDelete, "/api/v1/conversations/"+sess.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(s, http.MethodGet, "/api/v1/conversations/"+sess.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDataContext(t *testing.T) {
	s, _ := newTestServer()
	rec := do(s, http.MethodGet, "/api/v1/context", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "analytics")
	assert.Contains(t, rec.Body.String(), "sales")
}

func TestAdhocQuery(t *testing.T) {
	s, _ := newTestServer()
	rec := do(s, http.MethodPost, "/api/v1/query", `{"query":"SELECT 1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"columns":["n"]`)

	rec = do(s, http.MethodPost, "/api/v1/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

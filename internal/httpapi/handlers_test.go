package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/domain"
	"memoria/internal/facts"
	"memoria/internal/ingest"
	"memoria/internal/llm"
	"memoria/internal/notify"
	"memoria/internal/retrieve"
	"memoria/internal/store"
	"memoria/internal/tasks"
	"memoria/internal/vectorstore"
)

type echoProvider struct{}

func (echoProvider) Name() string { return "fake" }
func (echoProvider) Chat(_ context.Context, _ string, _ []llm.Message, _ int) (llm.ChatResponse, error) {
	return llm.ChatResponse{Content: `{"summary":"s","questions_and_answers":[]}`}, nil
}

type echoEmbedder struct{}

func (echoEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return []float32{1, 0}, nil }
func (echoEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (echoEmbedder) Dimensions() int { return 2 }

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	hub := notify.NewHub()
	gw := llm.NewGateway(echoProvider{}, echoEmbedder{}, nil)
	fsvc := facts.NewService(st, vs, gw)
	pipeline := ingest.NewPipeline(st, vs, gw, fsvc, hub)
	planner := retrieve.NewPlanner(st, vs, gw.Embed)
	return NewServer(st, vs, pipeline, planner, hub, synchronousQueue{pipeline: pipeline, store: st}), st
}

// synchronousQueue runs ingestion inline, avoiding a real durable queue
// backend in handler-level tests.
type synchronousQueue struct {
	pipeline *ingest.Pipeline
	store    store.Store
}

func (q synchronousQueue) Enqueue(ctx context.Context, kind tasks.Kind, payload []byte, maxRetries int) (tasks.Task, error) {
	if kind != tasks.KindIngest {
		return tasks.Task{}, nil
	}
	var body struct {
		MemoryID string `json:"memoryId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return tasks.Task{}, err
	}
	mem, err := q.store.GetMemory(ctx, body.MemoryID)
	if err != nil {
		return tasks.Task{}, err
	}
	return tasks.Task{ID: body.MemoryID}, q.pipeline.Ingest(ctx, mem)
}

func (q synchronousQueue) Run(ctx context.Context, kind tasks.Kind, handler tasks.Handler) error {
	return nil
}

func TestHandleSubmitMemoryIngestsImmediately(t *testing.T) {
	s, st := newTestServer(t)

	body, err := json.Marshal(submitMemoryRequest{Content: "alice lives in berlin"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/memories", bytes.NewReader(body))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])

	chunks, err := st.ListChunksByMemory(context.Background(), resp["id"])
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestHandleAgentDropStripsHTMLAndCreatesInboxItem(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	user, err := st.CreateUser(ctx, domain.User{Email: "a@example.com"})
	require.NoError(t, err)

	payload, err := json.Marshal(agentDropRequest{Content: "<p>hello <b>world</b></p>"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/inbox/drop/"+user.DropToken, bytes.NewReader(payload))
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	mem, err := st.GetMemory(ctx, resp["id"])
	require.NoError(t, err)
	assert.Equal(t, domain.MemoryStatusPending, mem.Status)
	assert.True(t, mem.ShowInInbox)
	assert.False(t, mem.Trusted)
	assert.Contains(t, mem.Content, "hello")
	assert.NotContains(t, mem.Content, "<b>")
}

func TestHandleAgentDropRejectsEmptyAfterStripping(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	user, err := st.CreateUser(ctx, domain.User{Email: "b@example.com"})
	require.NoError(t, err)

	payload, err := json.Marshal(agentDropRequest{Content: "<p></p>"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/inbox/drop/"+user.DropToken, bytes.NewReader(payload))
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAgentDropRateLimitsPerIP(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	user, err := st.CreateUser(ctx, domain.User{Email: "c@example.com"})
	require.NoError(t, err)

	var last *httptest.ResponseRecorder
	for i := 0; i < dropRateBurst+1; i++ {
		payload, _ := json.Marshal(agentDropRequest{Content: "hello"})
		req := httptest.NewRequest(http.MethodPost, "/inbox/drop/"+user.DropToken, bytes.NewReader(payload))
		req.RemoteAddr = "10.0.0.3:5555"
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		last = rec
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
}

func TestHandleInboxActionApproveTriggersIngestion(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	mem, err := st.CreateMemory(ctx, domain.Memory{UserID: "u1", Content: "alice lives in munich", Status: domain.MemoryStatusPending, ShowInInbox: true})
	require.NoError(t, err)

	body, err := json.Marshal(inboxActionRequest{Action: "approve"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/inbox/"+mem.ID+"/action", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	reloaded, err := st.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemoryStatusApproved, reloaded.Status)

	chunks, err := st.ListChunksByMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestHandleSearchDispatchesToPlanner(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	fact, err := st.CreateFact(ctx, domain.Fact{UserID: "u1", Subject: "alice", Predicate: "lives_in", Object: "berlin"})
	require.NoError(t, err)
	require.NoError(t, s.VectorStore.Upsert(ctx, domain.VectorRecord{
		ID: "fact_" + fact.ID, UserID: "u1", Type: domain.VectorRecordFact,
		RefID: fact.ID, Text: "alice lives_in berlin", Embedding: []float32{1, 0},
	}))

	body, err := json.Marshal(searchRequest{Query: "alice", TopK: 5, View: retrieve.ViewState})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/retrieval/search", bytes.NewReader(body))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string][]searchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp["results"], 1)
}

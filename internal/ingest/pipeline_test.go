package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/domain"
	"memoria/internal/facts"
	"memoria/internal/llm"
	"memoria/internal/notify"
	"memoria/internal/store"
	"memoria/internal/vectorstore"
)

// contentAwareProvider replies based on prompt shape so concurrent
// enrich/extract/judge calls (whose completion order isn't deterministic)
// each get the right canned response.
type contentAwareProvider struct{}

func (contentAwareProvider) Name() string { return "fake" }
func (contentAwareProvider) Chat(_ context.Context, _ string, msgs []llm.Message, _ int) (llm.ChatResponse, error) {
	prompt := msgs[len(msgs)-1].Content
	switch {
	case strings.Contains(prompt, "Fact Gatekeeper"):
		return llm.ChatResponse{Content: `{"decision":"NEW","target_id":""}`}, nil
	case strings.Contains(prompt, "Extract atomic facts"):
		return llm.ChatResponse{Content: `{"facts":[{"subject":"alice","predicate":"lives_in","object":"berlin","confidence":0.9,"valid_from":"2026-01-01","location":""}]}`}, nil
	default:
		return llm.ChatResponse{Content: `{"summary":"a short summary","questions_and_answers":[{"question":"what?","answer":"this"}]}`}, nil
	}
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return []float32{1, 0, 0}, nil }
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }

func TestIngestProducesChunksVectorsAndFacts(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	hub := notify.NewHub()
	gw := llm.NewGateway(contentAwareProvider{}, fakeEmbedder{}, nil)
	fsvc := facts.NewService(st, vs, gw)
	pipeline := NewPipeline(st, vs, gw, fsvc, hub)

	ctx := context.Background()
	mem, err := st.CreateMemory(ctx, domain.Memory{UserID: "u1", Content: "alice moved to berlin last year"})
	require.NoError(t, err)

	require.NoError(t, pipeline.Ingest(ctx, mem))

	chunks, err := st.ListChunksByMemory(ctx, mem.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short summary", chunks[0].Summary)
	assert.NotEmpty(t, chunks[0].VectorID)

	matches, err := vs.Search(ctx, vectorstore.Query{UserID: "u1", Type: domain.VectorRecordMemoryChunk, Vector: []float32{1, 0, 0}, TopK: 5})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	factList, err := st.ListFactsByUser(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, factList, 1)
	assert.Equal(t, "alice", factList[0].Subject)

	reloaded, err := st.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, reloaded.EmbeddingID)
}

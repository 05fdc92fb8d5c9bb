package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/domain"
	"memoria/internal/facts"
	"memoria/internal/llm"
	"memoria/internal/store"
	"memoria/internal/vectorstore"
)

func TestReconcileReindexesChunkMissingVectorAndDropsOrphanVector(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	gw := llm.NewGateway(contentAwareProvider{}, fakeEmbedder{}, nil)
	fsvc := facts.NewService(st, vs, gw)
	pipeline := NewPipeline(st, vs, gw, fsvc, nil)
	ctx := context.Background()

	mem, err := st.CreateMemory(ctx, domain.Memory{UserID: "u1", Content: "alice lives in berlin"})
	require.NoError(t, err)
	chunk, err := st.CreateChunk(ctx, domain.Chunk{MemoryID: mem.ID, UserID: "u1", Text: "alice lives in berlin", EnrichedText: "alice lives in berlin"})
	require.NoError(t, err)

	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{ID: "orphan", UserID: "u1", Type: domain.VectorRecordMemoryChunk, RefID: "missing-chunk", Embedding: []float32{1, 0, 0}}))

	require.NoError(t, pipeline.Reconcile(ctx, "u1"))

	matches, err := vs.Search(ctx, vectorstore.Query{UserID: "u1", Type: domain.VectorRecordMemoryChunk, Vector: []float32{1, 0, 0}, TopK: 10})
	require.NoError(t, err)

	var sawChunk, sawOrphan bool
	for _, m := range matches {
		if m.Record.RefID == chunk.ID {
			sawChunk = true
		}
		if m.Record.ID == "orphan" {
			sawOrphan = true
		}
	}
	assert.True(t, sawChunk, "chunk missing a vector should have been reindexed")
	assert.False(t, sawOrphan, "vector record with no backing chunk should have been deleted")
}

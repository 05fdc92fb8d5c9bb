package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/domain"
)

func TestInMemorySearchOrdersByDistanceAndScopesUser(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, domain.VectorRecord{
		ID: "a", UserID: "u1", Type: domain.VectorRecordMemoryChunk, Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, store.Upsert(ctx, domain.VectorRecord{
		ID: "b", UserID: "u1", Type: domain.VectorRecordMemoryChunk, Embedding: []float32{0, 1, 0},
	}))
	require.NoError(t, store.Upsert(ctx, domain.VectorRecord{
		ID: "c", UserID: "u2", Type: domain.VectorRecordMemoryChunk, Embedding: []float32{1, 0, 0},
	}))

	matches, err := store.Search(ctx, Query{UserID: "u1", Vector: []float32{1, 0, 0}, TopK: 5})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Record.ID)
	assert.InDelta(t, 0, matches[0].Distance, 1e-9)
	assert.Equal(t, "b", matches[1].Record.ID)
}

func TestInMemorySearchFiltersByType(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, domain.VectorRecord{ID: "chunk", UserID: "u1", Type: domain.VectorRecordMemoryChunk, Embedding: []float32{1, 0}}))
	require.NoError(t, store.Upsert(ctx, domain.VectorRecord{ID: "fact", UserID: "u1", Type: domain.VectorRecordFact, Embedding: []float32{1, 0}}))

	matches, err := store.Search(ctx, Query{UserID: "u1", Type: domain.VectorRecordFact, Vector: []float32{1, 0}, TopK: 5})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "fact", matches[0].Record.ID)
}

func TestInMemoryDelete(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, domain.VectorRecord{ID: "a", UserID: "u1", Embedding: []float32{1}}))
	require.NoError(t, store.Delete(ctx, "a"))

	matches, err := store.Search(ctx, Query{UserID: "u1", Vector: []float32{1}, TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

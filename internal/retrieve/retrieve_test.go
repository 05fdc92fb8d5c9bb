package retrieve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/domain"
	"memoria/internal/store"
	"memoria/internal/vectorstore"
)

func echoEmbed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	for i, r := range text {
		v[i%8] += float32(r % 7)
	}
	return v, nil
}

func TestSearchEpisodicOrdersByRecency(t *testing.T) {
	st := store.NewInMemory()
	ctx := context.Background()
	older, _ := st.CreateMemory(ctx, domain.Memory{UserID: "u1", Content: "trip to berlin", Status: domain.MemoryStatusApproved, CreatedAt: time.Now().Add(-48 * time.Hour)})
	newer, _ := st.CreateMemory(ctx, domain.Memory{UserID: "u1", Content: "another berlin trip", Status: domain.MemoryStatusApproved, CreatedAt: time.Now().Add(-1 * time.Hour)})

	planner := NewPlanner(st, vectorstore.NewInMemory(), echoEmbed)
	results, err := planner.Search(ctx, "u1", "berlin", 10, ViewEpisodic)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, newer.ID, results[0].SourceID)
	assert.Equal(t, older.ID, results[1].SourceID)
	assert.Equal(t, 1.0, results[0].Score)
}

func TestSearchStateScoresAndFiltersCurrent(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	ctx := context.Background()

	vu := time.Now()
	superseded, _ := st.CreateFact(ctx, domain.Fact{UserID: "u1", Subject: "alice", Predicate: "lives_in", Object: "munich", Confidence: 0.9, ValidFrom: time.Now().Add(-500 * 24 * time.Hour), ValidUntil: &vu, IsSuperseded: true})
	current, _ := st.CreateFact(ctx, domain.Fact{UserID: "u1", Subject: "alice", Predicate: "lives_in", Object: "berlin", Confidence: 0.9, ValidFrom: time.Now().Add(-5 * 24 * time.Hour)})

	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{ID: "v1", UserID: "u1", Type: domain.VectorRecordFact, RefID: superseded.ID, Embedding: []float32{1, 0}}))
	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{ID: "v2", UserID: "u1", Type: domain.VectorRecordFact, RefID: current.ID, Embedding: []float32{1, 0}}))

	planner := NewPlanner(st, vs, func(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil })
	results, err := planner.Search(ctx, "u1", "where do I live", 10, ViewState)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, current.ID, results[0].SourceID)
	assert.Contains(t, results[0].Text, "berlin")
}

func TestSearchSemanticHardDedupeJaccard(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	ctx := context.Background()

	mem, _ := st.CreateMemory(ctx, domain.Memory{UserID: "u1", Content: "x", Status: domain.MemoryStatusApproved})
	c1, _ := st.CreateChunk(ctx, domain.Chunk{MemoryID: mem.ID, UserID: "u1", EnrichedText: "the quick brown fox jumps over the lazy dog", TrustScore: 0.5})
	c2, _ := st.CreateChunk(ctx, domain.Chunk{MemoryID: mem.ID, UserID: "u1", EnrichedText: "the quick brown fox jumps over the lazy dog today", TrustScore: 0.5})
	c3, _ := st.CreateChunk(ctx, domain.Chunk{MemoryID: mem.ID, UserID: "u1", EnrichedText: "completely unrelated text about sailing boats", TrustScore: 0.5})

	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{ID: "v1", UserID: "u1", Type: domain.VectorRecordMemoryChunk, RefID: c1.ID, Text: c1.EnrichedText, Embedding: []float32{1, 0, 0}}))
	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{ID: "v2", UserID: "u1", Type: domain.VectorRecordMemoryChunk, RefID: c2.ID, Text: c2.EnrichedText, Embedding: []float32{0.99, 0.01, 0}}))
	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{ID: "v3", UserID: "u1", Type: domain.VectorRecordMemoryChunk, RefID: c3.ID, Text: c3.EnrichedText, Embedding: []float32{0, 1, 0}}))

	planner := NewPlanner(st, vs, func(context.Context, string) ([]float32, error) { return []float32{1, 0, 0}, nil })
	results, err := planner.Search(ctx, "u1", "fox", 2, ViewSemantic)
	require.NoError(t, err)
	require.Len(t, results, 2)

	ids := map[string]bool{results[0].SourceID: true, results[1].SourceID: true}
	assert.True(t, ids[c1.ID] || ids[c2.ID])
	assert.True(t, ids[c3.ID])
}

func TestSearchAutoConcatenatesStateAndSemanticWithoutDedupe(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	ctx := context.Background()

	mem, _ := st.CreateMemory(ctx, domain.Memory{UserID: "u1", Content: "x", Status: domain.MemoryStatusApproved})
	chunk, _ := st.CreateChunk(ctx, domain.Chunk{MemoryID: mem.ID, UserID: "u1", EnrichedText: "semantic hit text"})
	fact, _ := st.CreateFact(ctx, domain.Fact{UserID: "u1", Subject: "alice", Predicate: "lives_in", Object: "berlin", Confidence: 0.9})

	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{ID: "vc", UserID: "u1", Type: domain.VectorRecordMemoryChunk, RefID: chunk.ID, Text: chunk.EnrichedText, Embedding: []float32{1, 0}}))
	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{ID: "vf", UserID: "u1", Type: domain.VectorRecordFact, RefID: fact.ID, Embedding: []float32{1, 0}}))

	planner := NewPlanner(st, vs, func(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil })
	results, err := planner.Search(ctx, "u1", "berlin", 5, ViewAuto)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, fact.ID, results[0].SourceID) // state(k=3) comes first
	assert.Equal(t, chunk.ID, results[1].SourceID)
}

func TestRatioSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, ratioSimilarity("alice lives_in berlin", "alice lives_in berlin"), 1e-9)
	assert.Greater(t, ratioSimilarity("alice lives_in berlin", "alice lives_in berlin."), 0.9)
	assert.Less(t, ratioSimilarity("alice lives_in berlin", "bob works_at acme"), 0.5)
}

func TestJaccardHardDedupeThreshold(t *testing.T) {
	a := normalizeWords("the quick brown fox jumps over the lazy dog")
	b := normalizeWords("the quick brown fox jumps over the lazy dog today")
	assert.Greater(t, jaccard(a, b), jaccardDedupeLimit)

	c := normalizeWords("completely unrelated text about sailing boats")
	assert.Less(t, jaccard(a, c), jaccardDedupeLimit)
}

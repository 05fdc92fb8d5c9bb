package facts

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/domain"
	"memoria/internal/llm"
	"memoria/internal/store"
	"memoria/internal/vectorstore"
)

type scriptedProvider struct {
	responses []string
	i         int
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Chat(_ context.Context, _ string, _ []llm.Message, _ int) (llm.ChatResponse, error) {
	r := p.responses[p.i]
	if p.i < len(p.responses)-1 {
		p.i++
	}
	return llm.ChatResponse{Content: r}, nil
}

type fakeEmbedder struct{ dim int }

func (e fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, e.dim), nil
}
func (e fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = e.Embed(ctx, texts[i])
	}
	return out, nil
}
func (e fakeEmbedder) Dimensions() int { return e.dim }

func judgeResponse(decision, targetID string) string {
	b, _ := json.Marshal(map[string]string{"decision": decision, "target_id": targetID})
	return string(b)
}

func TestCreateFactsNewFactNoCandidates(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	gw := llm.NewGateway(&scriptedProvider{responses: []string{judgeResponse("NEW", "")}}, fakeEmbedder{dim: 4}, nil)
	svc := NewService(st, vs, gw)

	created, err := svc.CreateFacts(context.Background(), "u1", []llm.ExtractedFact{
		{Subject: "alice", Predicate: "lives_in", Object: "berlin", ValidFrom: "2026-01-01"},
	}, "mem1", "chunk1")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.True(t, created[0].IsCurrent())
}

func TestCreateFactsSingleValuePredicateSupersedesPriorFact(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	ctx := context.Background()

	old, err := st.CreateFact(ctx, domain.Fact{UserID: "u1", Subject: "alice", Predicate: "lives_in", Object: "munich"})
	require.NoError(t, err)

	gw := llm.NewGateway(&scriptedProvider{responses: []string{judgeResponse("SUPERSEDE", old.ID)}}, fakeEmbedder{dim: 4}, nil)
	svc := NewService(st, vs, gw)

	created, err := svc.CreateFacts(ctx, "u1", []llm.ExtractedFact{
		{Subject: "alice", Predicate: "lives_in", Object: "berlin", ValidFrom: "2026-02-01"},
	}, "mem1", "chunk1")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.True(t, created[0].IsCurrent())

	reloadedOld, err := st.GetFact(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, reloadedOld.IsSuperseded)
	assert.False(t, reloadedOld.IsCurrent())
}

func TestCreateFactsSupersedeViaVectorCandidateNormalizesTargetID(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	ctx := context.Background()

	old, err := st.CreateFact(ctx, domain.Fact{UserID: "u1", Subject: "alice", Predicate: "favorite_color", Object: "blue"})
	require.NoError(t, err)
	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{
		ID: old.ID, UserID: "u1", Type: domain.VectorRecordFact,
		RefID: old.ID, Text: "alice favorite_color blue", ValidFrom: old.ValidFrom,
		Embedding: []float32{0, 0, 0, 0},
	}))

	gw := llm.NewGateway(&scriptedProvider{responses: []string{judgeResponse("SUPERSEDE", "fact_"+old.ID)}}, fakeEmbedder{dim: 4}, nil)
	svc := NewService(st, vs, gw)

	created, err := svc.CreateFacts(ctx, "u1", []llm.ExtractedFact{
		{Subject: "alice", Predicate: "favorite_color", Object: "green", ValidFrom: "2026-02-01"},
	}, "mem1", "chunk1")
	require.NoError(t, err)
	require.Len(t, created, 1)

	reloadedOld, err := st.GetFact(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, reloadedOld.IsSuperseded)
}

func TestCreateFactsDuplicateDropped(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	ctx := context.Background()

	existing, err := st.CreateFact(ctx, domain.Fact{UserID: "u1", Subject: "alice", Predicate: "hobby", Object: "chess"})
	require.NoError(t, err)
	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{
		ID: existing.ID, UserID: "u1", Type: domain.VectorRecordFact,
		RefID: existing.ID, Text: "alice hobby chess", ValidFrom: existing.ValidFrom,
		Embedding: []float32{0, 0, 0, 0},
	}))

	gw := llm.NewGateway(&scriptedProvider{responses: []string{judgeResponse("DUPLICATE", "")}}, fakeEmbedder{dim: 4}, nil)
	svc := NewService(st, vs, gw)

	created, err := svc.CreateFacts(ctx, "u1", []llm.ExtractedFact{
		{Subject: "alice", Predicate: "hobby", Object: "chess", ValidFrom: "2026-01-01"},
	}, "mem1", "chunk1")
	require.NoError(t, err)
	assert.Empty(t, created)
}

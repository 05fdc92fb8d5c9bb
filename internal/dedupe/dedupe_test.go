package dedupe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/domain"
	"memoria/internal/notify"
	"memoria/internal/store"
	"memoria/internal/vectorstore"
)

type capturingSink struct{ events []notify.Event }

func (s *capturingSink) Send(e notify.Event) error {
	s.events = append(s.events, e)
	return nil
}

func TestCheckMemoryCreatesClusterForNearDuplicates(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	hub := notify.NewHub()
	ctx := context.Background()

	other, _ := st.CreateMemory(ctx, domain.Memory{UserID: "u1", Content: "dup"})
	chunk, _ := st.CreateChunk(ctx, domain.Chunk{MemoryID: other.ID, UserID: "u1", Text: "dup"})
	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{
		ID: "v1", UserID: "u1", Type: domain.VectorRecordMemoryChunk, RefID: chunk.ID, Embedding: []float32{1, 0, 0},
	}))

	sink := &capturingSink{}
	hub.Subscribe("u1", sink)

	mon := NewMonitor(st, vs, hub, nil)
	cluster, err := mon.CheckMemory(ctx, "u1", "newmem", []float32{1, 0, 0})
	require.NoError(t, err)
	require.NotNil(t, cluster)
	assert.ElementsMatch(t, []string{"newmem", other.ID}, cluster.MemoryIDs)
	assert.Equal(t, domain.ClusterStatusPending, cluster.Status)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "cluster.pending", sink.events[0].Type)
}

func TestCheckMemoryNoClusterWhenNoNeighborsWithinThreshold(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	ctx := context.Background()

	other, _ := st.CreateMemory(ctx, domain.Memory{UserID: "u1", Content: "unrelated"})
	chunk, _ := st.CreateChunk(ctx, domain.Chunk{MemoryID: other.ID, UserID: "u1", Text: "unrelated"})
	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{
		ID: "v1", UserID: "u1", Type: domain.VectorRecordMemoryChunk, RefID: chunk.ID, Embedding: []float32{0, 1, 0},
	}))

	mon := NewMonitor(st, vs, nil, nil)
	cluster, err := mon.CheckMemory(ctx, "u1", "newmem", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, cluster)
}

func TestCheckMemoryExcludesSelf(t *testing.T) {
	st := store.NewInMemory()
	vs := vectorstore.NewInMemory()
	ctx := context.Background()

	self, _ := st.CreateMemory(ctx, domain.Memory{UserID: "u1", Content: "self"})
	chunk, _ := st.CreateChunk(ctx, domain.Chunk{MemoryID: self.ID, UserID: "u1", Text: "self"})
	require.NoError(t, vs.Upsert(ctx, domain.VectorRecord{
		ID: "v1", UserID: "u1", Type: domain.VectorRecordMemoryChunk, RefID: chunk.ID, Embedding: []float32{1, 0, 0},
	}))

	mon := NewMonitor(st, vs, nil, nil)
	cluster, err := mon.CheckMemory(ctx, "u1", self.ID, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, cluster)
}

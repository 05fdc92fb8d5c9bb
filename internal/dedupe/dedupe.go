// Package dedupe implements the Dedupe Monitor: after a memory is
// approved, find its nearest neighbor chunks and flag near-duplicate
// memories for user review. Grounded algorithmically on
// original_source/backend/app/services/dedupe_job.py; the Redis
// idempotency lock is grounded on the teacher's internal/orchestrator/
// dedupe.go use of Redis as a short-TTL run-once guard, not a spec
// requirement but a direct carry of the teacher's ambient Redis usage.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"memoria/internal/domain"
	"memoria/internal/notify"
	"memoria/internal/obs"
	"memoria/internal/store"
	"memoria/internal/vectorstore"
)

const (
	nearestK             = 5
	duplicateDistanceMax = 0.3
	lockTTL              = 2 * time.Minute
)

// Monitor runs the dedupe check for newly-approved memories.
type Monitor struct {
	Store       store.Store
	VectorStore vectorstore.VectorStore
	Notifier    *notify.Hub
	Redis       *redis.Client // nil disables the idempotency lock (tests)

	// Metrics is optional; a nil value disables instrumentation.
	Metrics obs.Metrics
}

func (m *Monitor) metrics() obs.Metrics {
	if m.Metrics == nil {
		return obs.NoopMetrics{}
	}
	return m.Metrics
}

func NewMonitor(st store.Store, vs vectorstore.VectorStore, hub *notify.Hub, rdb *redis.Client) *Monitor {
	return &Monitor{Store: st, VectorStore: vs, Notifier: hub, Redis: rdb}
}

// CheckMemory runs the dedupe pass for memoryID, owned by userID, whose
// first chunk's embedding is queryVec. If a concurrent run already holds
// the per-memory lock, CheckMemory is a no-op.
func (m *Monitor) CheckMemory(ctx context.Context, userID, memoryID string, queryVec []float32) (*domain.Cluster, error) {
	if m.Redis != nil {
		acquired, err := m.acquireLock(ctx, memoryID)
		if err != nil {
			return nil, fmt.Errorf("acquiring dedupe lock: %w", err)
		}
		if !acquired {
			return nil, nil
		}
		defer m.releaseLock(ctx, memoryID)
	}

	matches, err := m.VectorStore.Search(ctx, vectorstore.Query{
		UserID: userID,
		Type:   domain.VectorRecordMemoryChunk,
		Vector: queryVec,
		TopK:   nearestK,
	})
	if err != nil {
		return nil, fmt.Errorf("searching nearest chunks: %w", err)
	}

	seen := map[string]bool{memoryID: true}
	var candidates []string
	for _, match := range matches {
		if match.Distance >= duplicateDistanceMax {
			continue
		}
		chunk, err := m.Store.GetChunk(ctx, match.Record.RefID)
		if err != nil {
			continue
		}
		if seen[chunk.MemoryID] {
			continue
		}
		seen[chunk.MemoryID] = true
		candidates = append(candidates, chunk.MemoryID)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	cluster, err := m.Store.CreateCluster(ctx, domain.Cluster{
		UserID:    userID,
		MemoryIDs: append([]string{memoryID}, candidates...),
		Status:    domain.ClusterStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cluster: %w", err)
	}

	if m.Notifier != nil {
		m.Notifier.Publish(userID, notify.Event{Type: "cluster.pending", Data: cluster})
	}
	m.metrics().IncCounter("dedupe_clusters_created_total", nil)
	return &cluster, nil
}

func (m *Monitor) acquireLock(ctx context.Context, memoryID string) (bool, error) {
	return m.Redis.SetNX(ctx, lockKey(memoryID), "1", lockTTL).Result()
}

func (m *Monitor) releaseLock(ctx context.Context, memoryID string) {
	m.Redis.Del(ctx, lockKey(memoryID))
}

func lockKey(memoryID string) string {
	return "dedupe:lock:" + memoryID
}

// Package store is the relational Store: durable state for Memory, Chunk,
// Fact, and Cluster rows plus the usage-accounting table the LLM Gateway's
// budget gate reads. Grounded on the teacher's internal/persistence/store.go
// interface shape, generalized to this domain's entities.
package store

import (
	"context"
	"time"

	"memoria/internal/domain"
)

// Store is the relational persistence boundary. Postgres (store/postgres.go)
// and in-memory (store/memory.go) implementations satisfy it.
type Store interface {
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByDropToken(ctx context.Context, token string) (domain.User, error)
	// ListUsers returns every active user, used by the worker's reconciler
	// sweep to walk all tenants in one process.
	ListUsers(ctx context.Context) ([]domain.User, error)

	CreateMemory(ctx context.Context, m domain.Memory) (domain.Memory, error)
	GetMemory(ctx context.Context, id string) (domain.Memory, error)
	UpdateMemory(ctx context.Context, m domain.Memory) error
	ListInboxMemories(ctx context.Context, userID string) ([]domain.Memory, error)
	// ListMemoriesByUser returns every memory owned by userID regardless of
	// inbox visibility, used by the reconciler sweep to enumerate chunks.
	ListMemoriesByUser(ctx context.Context, userID string) ([]domain.Memory, error)
	// SearchMemoriesByContent returns approved memories for userID whose
	// content contains substr (case-insensitive), newest first, limited to
	// limit. Backs the episodic retrieval view.
	SearchMemoriesByContent(ctx context.Context, userID, substr string, limit int) ([]domain.Memory, error)
	// GetChunk fetches a single chunk by id, used to hydrate semantic search
	// results with canonical text/trust/feedback scores.
	GetChunk(ctx context.Context, id string) (domain.Chunk, error)

	CreateChunk(ctx context.Context, c domain.Chunk) (domain.Chunk, error)
	ListChunksByMemory(ctx context.Context, memoryID string) ([]domain.Chunk, error)

	CreateFact(ctx context.Context, f domain.Fact) (domain.Fact, error)
	GetFact(ctx context.Context, id string) (domain.Fact, error)
	UpdateFact(ctx context.Context, f domain.Fact) error
	// CurrentFactsBySubjectPredicate returns every current (not superseded,
	// ValidUntil nil) fact for userID matching subject+predicate exactly,
	// used by the single-value-predicate supersession guard.
	CurrentFactsBySubjectPredicate(ctx context.Context, userID, subject, predicate string) ([]domain.Fact, error)
	ListFactsByUser(ctx context.Context, userID string, currentOnly bool) ([]domain.Fact, error)
	ListFactsByIDs(ctx context.Context, ids []string) ([]domain.Fact, error)

	CreateCluster(ctx context.Context, c domain.Cluster) (domain.Cluster, error)
	ListClustersByUser(ctx context.Context, userID string) ([]domain.Cluster, error)
	UpdateCluster(ctx context.Context, c domain.Cluster) error

	// RecordUsage and DailyTotal satisfy internal/llm.UsageSink.
	RecordUsage(ctx context.Context, userID string, inputTokens, outputTokens int) error
	DailyTotalTokens(ctx context.Context, userID string) (int, error)
}

// usageEvent is one LLM call's token accounting, retained for
// DailyTotalTokens's rolling 24h window.
type usageEvent struct {
	userID    string
	tokens    int
	createdAt time.Time
}

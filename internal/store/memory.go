package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"memoria/internal/domain"
)

// InMemory is a Store implementation over Go maps, used by package tests
// throughout this module. Grounded on the teacher's in-memory database
// backends (internal/persistence/databases, "memory" mode in factory.go).
type InMemory struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	memories map[string]domain.Memory
	chunks   map[string][]domain.Chunk // memoryID -> chunks
	facts    map[string]domain.Fact
	clusters map[string]domain.Cluster
	usage    []usageEvent
}

// NewInMemory constructs an empty in-memory Store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:    make(map[string]domain.User),
		memories: make(map[string]domain.Memory),
		chunks:   make(map[string][]domain.Chunk),
		facts:    make(map[string]domain.Fact),
		clusters: make(map[string]domain.Cluster),
	}
}

func (s *InMemory) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.DropToken == "" {
		u.DropToken = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.Active = true
	s.users[u.ID] = u
	return u, nil
}

func (s *InMemory) GetUser(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrSentinelNotFound)
	}
	return u, nil
}

func (s *InMemory) GetUserByDropToken(_ context.Context, token string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.DropToken == token {
			return u, nil
		}
	}
	return domain.User{}, fmt.Errorf("user with drop token: %w", domain.ErrSentinelNotFound)
}

func (s *InMemory) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		if u.Active {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) CreateMemory(_ context.Context, m domain.Memory) (domain.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.UpdatedAt = m.CreatedAt
	s.memories[m.ID] = m
	return m, nil
}

func (s *InMemory) GetMemory(_ context.Context, id string) (domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok {
		return domain.Memory{}, fmt.Errorf("memory %s: %w", id, domain.ErrSentinelNotFound)
	}
	return m, nil
}

func (s *InMemory) UpdateMemory(_ context.Context, m domain.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[m.ID]; !ok {
		return fmt.Errorf("memory %s: %w", m.ID, domain.ErrSentinelNotFound)
	}
	m.UpdatedAt = time.Now()
	s.memories[m.ID] = m
	return nil
}

func (s *InMemory) ListInboxMemories(_ context.Context, userID string) ([]domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Memory
	for _, m := range s.memories {
		if m.UserID == userID && m.ShowInInbox {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemory) ListMemoriesByUser(_ context.Context, userID string) ([]domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Memory
	for _, m := range s.memories {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemory) SearchMemoriesByContent(_ context.Context, userID, substr string, limit int) ([]domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(substr)
	var out []domain.Memory
	for _, m := range s.memories {
		if m.UserID != userID || m.Status != domain.MemoryStatusApproved {
			continue
		}
		if !strings.Contains(strings.ToLower(m.Content), needle) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) GetChunk(_ context.Context, id string) (domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, chunks := range s.chunks {
		for _, c := range chunks {
			if c.ID == id {
				return c, nil
			}
		}
	}
	return domain.Chunk{}, fmt.Errorf("chunk %s: %w", id, domain.ErrSentinelNotFound)
}

func (s *InMemory) CreateChunk(_ context.Context, c domain.Chunk) (domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.TrustScore == 0 {
		c.TrustScore = 0.5
	}
	s.chunks[c.MemoryID] = append(s.chunks[c.MemoryID], c)
	return c, nil
}

func (s *InMemory) ListChunksByMemory(_ context.Context, memoryID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Chunk, len(s.chunks[memoryID]))
	copy(out, s.chunks[memoryID])
	return out, nil
}

func (s *InMemory) CreateFact(_ context.Context, f domain.Fact) (domain.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	if f.ValidFrom.IsZero() {
		f.ValidFrom = f.CreatedAt
	}
	s.facts[f.ID] = f
	return f, nil
}

func (s *InMemory) GetFact(_ context.Context, id string) (domain.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[id]
	if !ok {
		return domain.Fact{}, fmt.Errorf("fact %s: %w", id, domain.ErrSentinelNotFound)
	}
	return f, nil
}

func (s *InMemory) UpdateFact(_ context.Context, f domain.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.facts[f.ID]; !ok {
		return fmt.Errorf("fact %s: %w", f.ID, domain.ErrSentinelNotFound)
	}
	s.facts[f.ID] = f
	return nil
}

func (s *InMemory) CurrentFactsBySubjectPredicate(_ context.Context, userID, subject, predicate string) ([]domain.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Fact
	for _, f := range s.facts {
		if f.UserID == userID && f.Subject == subject && f.Predicate == predicate && f.IsCurrent() {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *InMemory) ListFactsByUser(_ context.Context, userID string, currentOnly bool) ([]domain.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Fact
	for _, f := range s.facts {
		if f.UserID != userID {
			continue
		}
		if currentOnly && !f.IsCurrent() {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *InMemory) ListFactsByIDs(_ context.Context, ids []string) ([]domain.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Fact, 0, len(ids))
	for _, id := range ids {
		if f, ok := s.facts[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *InMemory) CreateCluster(_ context.Context, c domain.Cluster) (domain.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.clusters[c.ID] = c
	return c, nil
}

func (s *InMemory) ListClustersByUser(_ context.Context, userID string) ([]domain.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Cluster
	for _, c := range s.clusters {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemory) UpdateCluster(_ context.Context, c domain.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[c.ID]; !ok {
		return fmt.Errorf("cluster %s: %w", c.ID, domain.ErrSentinelNotFound)
	}
	s.clusters[c.ID] = c
	return nil
}

func (s *InMemory) RecordUsage(_ context.Context, userID string, inputTokens, outputTokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usageEvent{userID: userID, tokens: inputTokens + outputTokens, createdAt: time.Now()})
	return nil
}

func (s *InMemory) DailyTotalTokens(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-24 * time.Hour)
	total := 0
	for _, e := range s.usage {
		if e.userID == userID && e.createdAt.After(cutoff) {
			total += e.tokens
		}
	}
	return total, nil
}

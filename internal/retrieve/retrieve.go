// Package retrieve implements the Retrieval Planner: semantic (MMR over
// chunk embeddings), state (current-fact truth with recency scoring and
// fuzzy passive cleanup), episodic (substring recall), and auto (state then
// semantic, concatenated). Grounded directly on
// original_source/backend/app/services/retrieval_service.py's
// _searchSemantic/_searchState/_searchEpisodic/search dispatch. Each view
// runs its store queries one after another, without concurrent fan-out.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"memoria/internal/domain"
	"memoria/internal/store"
	"memoria/internal/vectorstore"
)

// View selects which retrieval algorithm search dispatches to.
type View string

const (
	ViewSemantic View = "semantic"
	ViewState    View = "state"
	ViewEpisodic View = "episodic"
	ViewAuto     View = "auto"
)

// Result is one hydrated, scored hit returned to the caller.
type Result struct {
	Text      string
	Score     float64
	SourceID  string // chunk id or fact id
	MemoryID  string
	ValidFrom time.Time
}

const (
	mmrLambda          = 0.3
	jaccardDedupeLimit = 0.85
	fuzzyCleanupRatio  = 0.9
)

// Planner is the Retrieval Planner.
type Planner struct {
	Store       store.Store
	VectorStore vectorstore.VectorStore
	Embed       func(ctx context.Context, text string) ([]float32, error)
}

func NewPlanner(st store.Store, vs vectorstore.VectorStore, embed func(context.Context, string) ([]float32, error)) *Planner {
	return &Planner{Store: st, VectorStore: vs, Embed: embed}
}

// Search dispatches to the view's algorithm.
func (p *Planner) Search(ctx context.Context, userID, query string, topK int, view View) ([]Result, error) {
	switch view {
	case ViewState:
		return p.searchState(ctx, userID, query, topK)
	case ViewEpisodic:
		return p.searchEpisodic(ctx, userID, query, topK)
	case ViewSemantic:
		return p.searchSemantic(ctx, userID, query, topK)
	case ViewAuto:
		state, err := p.searchState(ctx, userID, query, 3)
		if err != nil {
			return nil, err
		}
		semantic, err := p.searchSemantic(ctx, userID, query, topK)
		if err != nil {
			return nil, err
		}
		// Open Question (b): auto does not dedupe between the two lists.
		return append(state, semantic...), nil
	default:
		return nil, fmt.Errorf("retrieve: unknown view %q", view)
	}
}

func ageInDays(t time.Time) float64 {
	d := time.Since(t).Hours() / 24
	if d < 0 {
		d = 0
	}
	return d
}

func normalizeWords(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func jaccard(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, w := range a {
		setA[w] = true
	}
	setB := make(map[string]bool, len(b))
	for _, w := range b {
		setB[w] = true
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

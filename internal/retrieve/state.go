package retrieve

import (
	"context"
	"fmt"
	"sort"

	"memoria/internal/domain"
	"memoria/internal/vectorstore"
)

// searchState implements _searchState: query the Vector Store for fact
// candidates, hydrate only current (not superseded, no validUntil) facts,
// score by confidence + vector rank + recency bucket, sort, then run fuzzy
// passive cleanup before formatting.
func (p *Planner) searchState(ctx context.Context, userID, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 10
	}
	vec, err := p.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := p.VectorStore.Search(ctx, vectorstore.Query{
		UserID: userID,
		Type:   domain.VectorRecordFact,
		Vector: vec,
		TopK:   topK * 4,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(matches))
	rankByID := make(map[string]int, len(matches))
	for i, m := range matches {
		ids = append(ids, m.Record.RefID)
		rankByID[m.Record.RefID] = i
	}

	candidates, err := p.Store.ListFactsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var current []scored
	for _, f := range candidates {
		if !f.IsCurrent() {
			continue
		}
		rank := rankByID[f.ID]
		score := f.Confidence + (2.0 - float64(rank)*0.1)
		switch {
		case ageInDays(f.ValidFrom) < 30:
			score += 0.5
		case ageInDays(f.ValidFrom) < 90:
			score += 0.3
		case ageInDays(f.ValidFrom) < 365:
			score += 0.1
		}
		current = append(current, scored{fact: f, score: score})
	}

	sort.Slice(current, func(i, j int) bool {
		a, b := current[i], current[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.fact.ValidFrom.Equal(b.fact.ValidFrom) {
			return a.fact.ValidFrom.After(b.fact.ValidFrom)
		}
		return a.fact.ID > b.fact.ID
	})

	results, redundantIDs := fuzzyPassiveCleanup(current)
	if len(redundantIDs) > 0 {
		go p.markSuperseded(redundantIDs)
	}
	return results, nil
}

type scored struct {
	fact  domain.Fact
	score float64
}

// fuzzyPassiveCleanup walks the sorted list, skipping any item whose
// normalized triple has >0.9 character-level similarity to an
// already-accepted item with an identical validFrom instant, and collects
// the skipped facts' ids for async supersession.
func fuzzyPassiveCleanup(sorted []scored) ([]Result, []string) {
	type seenEntry struct {
		normalized string
		validFrom  string
	}
	var seen []seenEntry
	var results []Result
	var redundant []string

	for _, item := range sorted {
		norm := normalizeTriple(item.fact)
		vf := item.fact.ValidFrom.Format("2006-01-02T15:04:05Z07:00")

		dup := false
		for _, s := range seen {
			if s.validFrom == vf && ratioSimilarity(norm, s.normalized) > fuzzyCleanupRatio {
				dup = true
				break
			}
		}
		if dup {
			redundant = append(redundant, item.fact.ID)
			continue
		}

		seen = append(seen, seenEntry{normalized: norm, validFrom: vf})
		results = append(results, Result{
			Text:      formatFactText(item.fact),
			Score:     item.score,
			SourceID:  item.fact.ID,
			MemoryID:  item.fact.SourceMemoryID,
			ValidFrom: item.fact.ValidFrom,
		})
	}
	return results, redundant
}

func formatFactText(f domain.Fact) string {
	return fmt.Sprintf("[%s] %s %s %s", f.ValidFrom.Local().Format("2006-01-02"), f.Subject, f.Predicate, f.Object)
}

func normalizeTriple(f domain.Fact) string {
	return fmt.Sprintf("%s|%s|%s", normalizeWord(f.Subject), normalizeWord(f.Predicate), normalizeWord(f.Object))
}

func (p *Planner) markSuperseded(ids []string) {
	ctx := context.Background()
	for _, id := range ids {
		f, err := p.Store.GetFact(ctx, id)
		if err != nil {
			continue
		}
		f.IsSuperseded = true
		_ = p.Store.UpdateFact(ctx, f)
	}
}

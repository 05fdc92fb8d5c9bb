package retrieve

import (
	"context"
	"math"
	"sort"

	"memoria/internal/vectorstore"
)

// searchSemantic implements _searchSemantic: fetch fetchK = topK*10
// candidates, run MMR greedy selection with hard Jaccard dedupe, hydrate
// from the relational store, then rescore with the trust/feedback/recency
// composite before sorting.
func (p *Planner) searchSemantic(ctx context.Context, userID, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 10
	}
	vec, err := p.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := p.VectorStore.Search(ctx, vectorstore.Query{
		UserID: userID,
		Vector: vec,
		TopK:   topK * 10,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	selected := mmrSelect(matches, topK)

	out := make([]Result, 0, len(selected))
	for _, m := range selected {
		chunk, err := p.Store.GetChunk(ctx, m.Record.RefID)
		if err != nil {
			continue // hydration miss: vector without a surviving chunk row, skip rather than fail the whole search
		}
		similarity := 1 - m.Distance
		recencyMultiplier := 1 + 0.1/math.Max(1, ageInDays(chunk.CreatedAt))
		score := similarity * (1 + chunk.FeedbackScore) * (0.5 + chunk.TrustScore) * recencyMultiplier
		out = append(out, Result{
			Text:      chunk.EnrichedText,
			Score:     score,
			SourceID:  chunk.ID,
			MemoryID:  chunk.MemoryID,
			ValidFrom: chunk.CreatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// mmrSelect runs greedy maximal-marginal-relevance selection over
// similarity-ranked candidates (matches is already distance-sorted
// ascending, i.e. most-similar-first), enforcing a hard Jaccard-overlap
// dedupe against every already-accepted candidate's text.
func mmrSelect(matches []vectorstore.Match, topK int) []vectorstore.Match {
	selected := make([]vectorstore.Match, 0, topK)
	selectedWords := make([][]string, 0, topK)
	used := make([]bool, len(matches))

	for len(selected) < topK {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i, m := range matches {
			if used[i] {
				continue
			}
			relevance := 1 - m.Distance
			redundancy := 0.0
			for _, s := range selected {
				sim := 1 - cosineLike(m, s)
				if sim > redundancy {
					redundancy = sim
				}
			}
			mmrScore := mmrLambda*relevance - (1-mmrLambda)*redundancy
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}

		candidateWords := normalizeWords(matches[bestIdx].Record.Text)
		dup := false
		for _, sw := range selectedWords {
			if jaccard(candidateWords, sw) > jaccardDedupeLimit {
				dup = true
				break
			}
		}
		used[bestIdx] = true
		if dup {
			continue
		}
		selected = append(selected, matches[bestIdx])
		selectedWords = append(selectedWords, candidateWords)
	}
	return selected
}

// cosineLike computes the pairwise cosine distance between two candidates'
// embeddings when the backend returned them (the in-memory store always
// does; Postgres/Qdrant only return the query-to-candidate distance to
// avoid shipping full vectors back per hit). When embeddings aren't
// available it falls back to the gap between each candidate's distance to
// the query as a cheap redundancy proxy.
func cosineLike(a, b vectorstore.Match) float64 {
	if len(a.Record.Embedding) > 0 && len(b.Record.Embedding) > 0 {
		return 1 - cosineSimilarity(a.Record.Embedding, b.Record.Embedding)
	}
	return math.Abs(a.Distance - b.Distance)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

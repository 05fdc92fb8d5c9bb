package retrieve

import "context"

// searchEpisodic implements _searchEpisodic: case-insensitive substring
// match over approved memory content, ordered by createdAt desc, score
// fixed at 1.0 (Open Question (c): no scoring beyond recency ordering).
func (p *Planner) searchEpisodic(ctx context.Context, userID, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 10
	}
	memories, err := p.Store.SearchMemoriesByContent(ctx, userID, query, topK)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(memories))
	for _, m := range memories {
		out = append(out, Result{
			Text:      m.Content,
			Score:     1.0,
			SourceID:  m.ID,
			MemoryID:  m.ID,
			ValidFrom: m.CreatedAt,
		})
	}
	return out, nil
}

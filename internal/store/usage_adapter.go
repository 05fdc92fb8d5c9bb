package store

import (
	"context"

	"memoria/internal/llm"
)

// UsageSinkAdapter adapts a Store's RecordUsage/DailyTotalTokens methods to
// the shape internal/llm.UsageSink expects.
type UsageSinkAdapter struct {
	Store Store
}

func (a UsageSinkAdapter) RecordUsage(ctx context.Context, userID string, usage llm.Usage) error {
	return a.Store.RecordUsage(ctx, userID, usage.InputTokens, usage.OutputTokens)
}

func (a UsageSinkAdapter) DailyTotal(ctx context.Context, userID string) (int, error) {
	return a.Store.DailyTotalTokens(ctx, userID)
}

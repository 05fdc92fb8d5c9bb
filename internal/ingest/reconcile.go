package ingest

import (
	"context"
	"time"

	"memoria/internal/domain"
	"memoria/internal/logging"
)

// reconcileTick is how often the sweep runs, grounded on the teacher's
// dedupe_job.run_periodic_check 60-second sleep.
const reconcileTick = 60 * time.Second

// Reconcile runs one pass of the write-then-index consistency sweep named
// in SPEC_FULL.md §9: chunks missing a vector get reindexed, vector
// records whose chunk no longer exists get deleted. Grounded on the
// teacher's ticker-driven background-goroutine pattern.
func (p *Pipeline) Reconcile(ctx context.Context, userID string) error {
	chunks, err := p.listAllUserChunks(ctx, userID)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if c.VectorID != "" {
			continue
		}
		vec, err := p.Gateway.Embed(ctx, c.EnrichedText)
		if err != nil {
			logging.Log.WithError(err).WithField("chunk_id", c.ID).Warn("reconcile: re-embedding failed")
			continue
		}
		if err := p.VectorStore.Upsert(ctx, domain.VectorRecord{
			ID:        c.ID,
			UserID:    c.UserID,
			Type:      domain.VectorRecordMemoryChunk,
			RefID:     c.ID,
			Text:      c.EnrichedText,
			ValidFrom: c.CreatedAt,
			Embedding: vec,
		}); err != nil {
			logging.Log.WithError(err).WithField("chunk_id", c.ID).Warn("reconcile: reindexing failed")
		}
	}

	refIDs, err := p.VectorStore.ListRefIDs(ctx, userID, domain.VectorRecordMemoryChunk)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		known[c.ID] = true
	}
	for _, refID := range refIDs {
		if known[refID] {
			continue
		}
		if err := p.VectorStore.Delete(ctx, refID); err != nil {
			logging.Log.WithError(err).WithField("ref_id", refID).Warn("reconcile: deleting orphaned vector failed")
		}
	}
	return nil
}

// listAllUserChunks gathers every chunk belonging to userID across their
// memories. The relational Store only indexes chunks by memory, so this
// walks the user's memories first.
func (p *Pipeline) listAllUserChunks(ctx context.Context, userID string) ([]domain.Chunk, error) {
	memories, err := p.Store.ListMemoriesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []domain.Chunk
	for _, m := range memories {
		chunks, err := p.Store.ListChunksByMemory(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

// RunReconciler blocks, sweeping every active user's chunks on every tick
// until ctx is canceled. One slow or failing user does not block the rest
// of the sweep.
func (p *Pipeline) RunReconciler(ctx context.Context) {
	ticker := time.NewTicker(reconcileTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reconcileAllUsers(ctx)
		}
	}
}

func (p *Pipeline) reconcileAllUsers(ctx context.Context) {
	users, err := p.Store.ListUsers(ctx)
	if err != nil {
		logging.Log.WithError(err).Warn("reconcile sweep: listing users failed")
		return
	}
	for _, u := range users {
		if err := p.Reconcile(ctx, u.ID); err != nil {
			logging.Log.WithError(err).WithField("user_id", u.ID).Warn("reconcile sweep failed")
		}
	}
}

// Package ingest is the Ingestion Pipeline: chunk a submitted memory, enrich
// each chunk (summary + Q&A) with abort-on-any-failure fan-out, persist
// chunks and their embeddings, then best-effort extract and write facts per
// chunk. Grounded on the teacher's internal/rag/service.Ingest multi-stage
// shape (per-stage sections, semaphore-bounded fan-out) and the exact stage
// ordering of original_source/backend/app/worker.py::ingest_memory_task.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"memoria/internal/chunking"
	"memoria/internal/domain"
	"memoria/internal/facts"
	"memoria/internal/llm"
	"memoria/internal/logging"
	"memoria/internal/notify"
	"memoria/internal/obs"
	"memoria/internal/store"
	"memoria/internal/vectorstore"
)

// fanOutWidth bounds concurrent LLM calls per pipeline stage, per spec.md
// §5's semaphore-width-10 discipline.
const fanOutWidth = 10

// Pipeline runs the Ingestion Pipeline for one Memory.
type Pipeline struct {
	Store       store.Store
	VectorStore vectorstore.VectorStore
	Gateway     *llm.Gateway
	Facts       *facts.Service
	Notifier    *notify.Hub

	// Metrics is optional; a nil value disables instrumentation. Set by
	// internal/bootstrap once tracing is configured.
	Metrics obs.Metrics
}

func NewPipeline(st store.Store, vs vectorstore.VectorStore, gw *llm.Gateway, fs *facts.Service, hub *notify.Hub) *Pipeline {
	return &Pipeline{Store: st, VectorStore: vs, Gateway: gw, Facts: fs, Notifier: hub}
}

type enrichedChunk struct {
	index  int
	text   string
	result llm.EnrichResult
}

// Ingest runs all six pipeline stages for memory mem. tags and source are
// carried into each chunk's vector metadata.
func (p *Pipeline) Ingest(ctx context.Context, mem domain.Memory) error {
	start := time.Now()
	defer func() {
		p.metrics().ObserveHistogram("ingest_duration_seconds", time.Since(start).Seconds(), nil)
	}()

	rawChunks, err := chunking.Split(ctx, chunkingEmbedder{p.Gateway}, mem.Content)
	if err != nil {
		return fmt.Errorf("chunking memory %s: %w", mem.ID, err)
	}

	enriched, err := p.enrichFanOut(ctx, mem.UserID, rawChunks)
	if err != nil {
		return fmt.Errorf("enriching memory %s: %w", mem.ID, err)
	}

	persisted, err := p.persistChunks(ctx, mem, enriched)
	if err != nil {
		return fmt.Errorf("persisting chunks for memory %s: %w", mem.ID, err)
	}

	p.extractFactsFanOut(ctx, mem, persisted)

	if len(persisted) > 0 {
		mem.EmbeddingID = persisted[0].VectorID
		if err := p.Store.UpdateMemory(ctx, mem); err != nil {
			return fmt.Errorf("finalizing memory %s: %w", mem.ID, err)
		}
	}

	if p.Notifier != nil {
		p.Notifier.Publish(mem.UserID, notify.Event{Type: "ingestion_complete", Data: mem.ID})
	}
	p.metrics().IncCounter("memories_ingested_total", nil)
	return nil
}

// metrics returns p.Metrics, falling back to a no-op so every call site can
// instrument unconditionally.
func (p *Pipeline) metrics() obs.Metrics {
	if p.Metrics == nil {
		return obs.NoopMetrics{}
	}
	return p.Metrics
}

// enrichFanOut calls Gateway.Enrich for every chunk concurrently under a
// width-10 semaphore. A single failure aborts the whole batch (spec.md §4.3
// step 2): no partial chunks get written, so the Task Runner can safely
// retry the entire memory.
func (p *Pipeline) enrichFanOut(ctx context.Context, userID string, chunks []chunking.Chunk) ([]enrichedChunk, error) {
	sem := semaphore.NewWeighted(fanOutWidth)
	g, gctx := errgroup.WithContext(ctx)
	out := make([]enrichedChunk, len(chunks))

	for i, c := range chunks {
		i, c := i, c
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			result, err := p.Gateway.Enrich(gctx, userID, c.Text)
			if err != nil {
				return fmt.Errorf("enriching chunk %d: %w", c.Index, err)
			}
			out[i] = enrichedChunk{index: c.Index, text: c.Text, result: result}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// persistChunks writes Chunk rows and upserts one VectorRecord per chunk
// with the enriched embedding text, per spec.md §4.3 step 4.
func (p *Pipeline) persistChunks(ctx context.Context, mem domain.Memory, enriched []enrichedChunk) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, 0, len(enriched))
	for _, ec := range enriched {
		embeddingText := buildEmbeddingText(ec.text, ec.result)

		chunk, err := p.Store.CreateChunk(ctx, domain.Chunk{
			MemoryID:     mem.ID,
			UserID:       mem.UserID,
			Index:        ec.index,
			Text:         ec.text,
			EnrichedText: embeddingText,
			Summary:      ec.result.Summary,
			QuestionsAns: ec.result.QAs,
		})
		if err != nil {
			return nil, fmt.Errorf("creating chunk %d: %w", ec.index, err)
		}

		vec, err := p.Gateway.Embed(ctx, embeddingText)
		if err != nil {
			return nil, fmt.Errorf("embedding chunk %d: %w", ec.index, err)
		}

		chunk.VectorID = chunk.ID
		if err := p.VectorStore.Upsert(ctx, domain.VectorRecord{
			ID:        chunk.ID,
			UserID:    mem.UserID,
			Type:      domain.VectorRecordMemoryChunk,
			RefID:     chunk.ID,
			Text:      embeddingText,
			ValidFrom: chunk.CreatedAt,
			Embedding: vec,
			Metadata: map[string]string{
				"memoryId":   mem.ID,
				"chunkIndex": fmt.Sprintf("%d", ec.index),
				"source":     mem.Source,
				"tags":       strings.Join(mem.Tags, ","),
			},
		}); err != nil {
			return nil, fmt.Errorf("upserting vector for chunk %d: %w", ec.index, err)
		}

		out = append(out, chunk)
	}
	return out, nil
}

// extractFactsFanOut runs fact extraction+write per chunk concurrently
// under the same fan-out width. Per spec.md §4.3 step 3, failures here are
// recorded and skipped per chunk; they never invalidate the chunks
// themselves or abort sibling chunks' fact extraction.
func (p *Pipeline) extractFactsFanOut(ctx context.Context, mem domain.Memory, chunks []domain.Chunk) {
	sem := semaphore.NewWeighted(fanOutWidth)
	var wg errgroup.Group

	for _, c := range chunks {
		c := c
		_ = sem.Acquire(ctx, 1)
		wg.Go(func() error {
			defer sem.Release(1)
			extracted, err := p.Gateway.ExtractFacts(ctx, mem.UserID, c.Text, mem.ReferenceAt)
			if err != nil {
				logging.Log.WithError(err).WithField("chunk_id", c.ID).Warn("fact extraction failed, skipping chunk")
				return nil
			}
			if len(extracted) == 0 {
				return nil
			}
			if _, err := p.Facts.CreateFacts(ctx, mem.UserID, extracted, mem.ID, c.ID); err != nil {
				logging.Log.WithError(err).WithField("chunk_id", c.ID).Warn("fact persistence failed, skipping chunk")
			}
			return nil
		})
	}
	_ = wg.Wait()
}

func buildEmbeddingText(text string, r llm.EnrichResult) string {
	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\n-- Context --\nSummary: ")
	sb.WriteString(r.Summary)
	sb.WriteString("\nQ&A:\n")
	for _, qa := range r.QAs {
		sb.WriteString("Q: ")
		sb.WriteString(qa.Question)
		sb.WriteString("\nA: ")
		sb.WriteString(qa.Answer)
		sb.WriteString("\n")
	}
	return sb.String()
}

// chunkingEmbedder adapts the LLM Gateway to chunking.Embedder's narrower
// single-purpose interface, used only for the semantic chunker's
// per-sentence embedding pass.
type chunkingEmbedder struct {
	gw *llm.Gateway
}

func (e chunkingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.gw.Embed(ctx, text)
}

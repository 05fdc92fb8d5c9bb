// Command worker runs the Task Runner consumer loop: claims ingest tasks
// and drives them through the Ingestion Pipeline and Dedupe Monitor, plus
// the background reconciler sweep. Grounded on the teacher's
// cmd/webui/main.go signal-driven shutdown shape, adapted from an HTTP
// server to a set of blocking consumer loops run under an errgroup.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"memoria/internal/bootstrap"
	"memoria/internal/config"
	"memoria/internal/domain"
	"memoria/internal/logging"
	"memoria/internal/tasks"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.Log.WithError(err).Fatal("loading configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		logging.Log.WithError(err).Fatal("wiring services")
	}
	defer svc.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Queue.Run(gctx, tasks.KindIngest, ingestHandler(svc))
	})
	g.Go(func() error {
		return svc.Queue.Run(gctx, tasks.KindDedupe, dedupeHandler(svc))
	})
	g.Go(func() error {
		svc.Pipeline.RunReconciler(gctx)
		return nil
	})

	logging.Log.Info("memoria worker running")
	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logging.Log.WithError(err).Error("worker loop exited with error")
	}
	logging.Log.Info("memoria worker stopped")
}

type ingestPayload struct {
	MemoryID string `json:"memoryId"`
}

// ingestHandler decodes a memoryId and runs it through the Ingestion
// Pipeline, then enqueues a dedupe pass keyed on the memory's first
// chunk's embedding (persisted onto mem.EmbeddingID by Pipeline.Ingest).
// Fact extraction and metadata tagging run inline inside Pipeline.Ingest
// itself (see internal/ingest/pipeline.go); KindExtract and KindTag have
// no standalone handler here.
func ingestHandler(svc *bootstrap.Services) tasks.Handler {
	return func(ctx context.Context, t tasks.Task) error {
		var p ingestPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("decoding ingest payload: %w", err)
		}
		mem, err := svc.Store.GetMemory(ctx, p.MemoryID)
		if err != nil {
			return fmt.Errorf("loading memory %s: %w", p.MemoryID, err)
		}
		if err := svc.Pipeline.Ingest(ctx, mem); err != nil {
			return fmt.Errorf("ingesting memory %s: %w", p.MemoryID, err)
		}

		mem, err = svc.Store.GetMemory(ctx, p.MemoryID)
		if err != nil || mem.EmbeddingID == "" {
			return nil
		}
		chunk, err := svc.Store.GetChunk(ctx, mem.EmbeddingID)
		if err != nil {
			return nil
		}
		vec, err := svc.Gateway.Embed(ctx, chunk.EnrichedText)
		if err != nil {
			logging.Log.WithError(err).WithField("memory_id", mem.ID).Warn("dedupe embed failed, skipping")
			return nil
		}
		payload, err := json.Marshal(dedupePayload{UserID: mem.UserID, MemoryID: mem.ID, Vector: vec})
		if err != nil {
			return nil
		}
		if _, err := svc.Queue.Enqueue(ctx, tasks.KindDedupe, payload, 3); err != nil {
			logging.Log.WithError(err).WithField("memory_id", mem.ID).Warn("enqueueing dedupe task failed")
		}
		return nil
	}
}

type dedupePayload struct {
	UserID   string    `json:"userId"`
	MemoryID string    `json:"memoryId"`
	Vector   []float32 `json:"vector"`
}

func dedupeHandler(svc *bootstrap.Services) tasks.Handler {
	return func(ctx context.Context, t tasks.Task) error {
		var p dedupePayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("decoding dedupe payload: %w", err)
		}
		if _, err := svc.Dedupe.CheckMemory(ctx, p.UserID, p.MemoryID, p.Vector); err != nil {
			return domain.Wrap(domain.ErrSentinelUpstreamError, "dedupe check for memory %s", p.MemoryID)
		}
		return nil
	}
}

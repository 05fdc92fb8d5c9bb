// Package bootstrap wires the shared service graph (Store, VectorStore,
// Task Queue, LLM Gateway, Retrieval Planner, Ingestion Pipeline, Dedupe
// Monitor, Notifier) from a loaded Config. Both cmd/server and cmd/worker
// call Build so the two binaries never construct this graph differently.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"memoria/internal/config"
	"memoria/internal/dedupe"
	"memoria/internal/facts"
	"memoria/internal/ingest"
	"memoria/internal/llm"
	"memoria/internal/notify"
	"memoria/internal/obs"
	"memoria/internal/retrieve"
	"memoria/internal/store"
	"memoria/internal/tasks"
	"memoria/internal/vectorstore"
)

// Services is the fully wired service graph shared by the server and
// worker entrypoints.
type Services struct {
	Store       store.Store
	VectorStore vectorstore.VectorStore
	Queue       tasks.Queue
	Gateway     *llm.Gateway
	Notifier    *notify.Hub
	Planner     *retrieve.Planner
	Pipeline    *ingest.Pipeline
	Dedupe      *dedupe.Monitor
	Metrics     obs.Metrics

	pgPool          *pgxpool.Pool
	redis           *redis.Client
	shutdownTracing func(context.Context) error
	shutdownMetrics func(context.Context) error
}

// Build constructs the full graph from cfg, opening a shared pgx pool
// when either the vector store or task queue backend needs one.
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	tracingCfg := obs.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
	}
	shutdownTracing, err := obs.SetupTracing(ctx, tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: setting up tracing: %w", err)
	}
	shutdownMetrics, err := obs.SetupMetrics(ctx, tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: setting up metrics: %w", err)
	}
	var metrics obs.Metrics = obs.NoopMetrics{}
	if tracingCfg.Enabled {
		metrics = obs.NewOtelMetrics()
	}

	var pgPool *pgxpool.Pool
	if cfg.VectorStore.Backend == "postgres" || cfg.TaskQueue.Backend == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.Database.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connecting shared pool: %w", err)
		}
		pgPool = pool
		cfg.DBPool = pool
	}

	var st store.Store
	if cfg.Database.ConnectionString != "" {
		pst, err := store.NewPostgres(ctx, cfg.Database.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connecting store: %w", err)
		}
		st = pst
	} else {
		st = store.NewInMemory()
	}

	vs, err := vectorstore.Build(ctx, *cfg, pgPool)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: building vector store: %w", err)
	}

	queue, err := tasks.Build(ctx, *cfg, pgPool)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: building task queue: %w", err)
	}

	provider, err := llm.BuildProvider(*cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: building llm provider: %w", err)
	}
	embedder, err := llm.BuildEmbedder(*cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: building embedder: %w", err)
	}
	gw := llm.NewGateway(provider, embedder, store.UsageSinkAdapter{Store: st}, llm.WithMaxDailyTokens(cfg.Budget.MaxDailyTokens))

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: parsing redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
	}

	hub := notify.NewHub()
	fsvc := facts.NewService(st, vs, gw)
	pipeline := ingest.NewPipeline(st, vs, gw, fsvc, hub)
	pipeline.Metrics = metrics
	planner := retrieve.NewPlanner(st, vs, gw.Embed)
	monitor := dedupe.NewMonitor(st, vs, hub, rdb)
	monitor.Metrics = metrics

	return &Services{
		Store: st, VectorStore: vs, Queue: queue, Gateway: gw,
		Notifier: hub, Planner: planner, Pipeline: pipeline, Dedupe: monitor,
		Metrics: metrics,
		pgPool:  pgPool, redis: rdb,
		shutdownTracing: shutdownTracing, shutdownMetrics: shutdownMetrics,
	}, nil
}

// Close releases every pooled connection the graph opened.
func (s *Services) Close() {
	ctx := context.Background()
	if s.shutdownTracing != nil {
		_ = s.shutdownTracing(ctx)
	}
	if s.shutdownMetrics != nil {
		_ = s.shutdownMetrics(ctx)
	}
	if pst, ok := s.Store.(*store.Postgres); ok {
		pst.Close()
	}
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

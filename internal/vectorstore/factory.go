package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"memoria/internal/config"
)

// Build dispatches on cfg.VectorStore.Backend ("postgres", "qdrant", or
// "memory", default "memory" per config.applyDefaults).
func Build(ctx context.Context, cfg config.Config, pgPool *pgxpool.Pool) (VectorStore, error) {
	switch cfg.VectorStore.Backend {
	case "postgres":
		if pgPool == nil {
			return nil, fmt.Errorf("vectorstore: postgres backend requires a shared pgx pool")
		}
		return NewPostgres(ctx, pgPool, cfg.VectorStore.Dimensions)
	case "qdrant":
		host, portStr, err := net.SplitHostPort(cfg.VectorStore.DSN)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: parsing qdrant address %q: %w", cfg.VectorStore.DSN, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: parsing qdrant port: %w", err)
		}
		collection := cfg.VectorStore.Collection
		if collection == "" {
			collection = "memoria"
		}
		return NewQdrant(ctx, host, port, collection, uint64(cfg.VectorStore.Dimensions))
	default:
		return NewInMemory(), nil
	}
}

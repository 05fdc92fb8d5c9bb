package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"memoria/internal/config"
)

// Build dispatches on cfg.TaskQueue.Backend ("postgres", default, or
// "kafka").
func Build(ctx context.Context, cfg config.Config, pgPool *pgxpool.Pool) (Queue, error) {
	switch cfg.TaskQueue.Backend {
	case "kafka":
		if cfg.TaskQueue.KafkaBrokers == "" {
			return nil, fmt.Errorf("tasks: kafka backend requires TaskQueue.KafkaBrokers")
		}
		brokers := strings.Split(cfg.TaskQueue.KafkaBrokers, ",")
		return NewKafkaQueue(brokers), nil
	default:
		if pgPool == nil {
			return nil, fmt.Errorf("tasks: postgres backend requires a shared pgx pool")
		}
		return NewPostgresQueue(ctx, pgPool)
	}
}

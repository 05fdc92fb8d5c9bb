package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memoria/internal/domain"
	"memoria/internal/logging"
)

// PostgresQueue polls a tasks table with `FOR UPDATE SKIP LOCKED`, giving
// at-least-once delivery with no broker dependency. Generalized from the
// pgxpool usage throughout the relational Store and the retry shape of the
// teacher's sefii engine's execWithRetry.
type PostgresQueue struct {
	pool     *pgxpool.Pool
	pollTick time.Duration
}

func NewPostgresQueue(ctx context.Context, pool *pgxpool.Pool) (*PostgresQueue, error) {
	q := &PostgresQueue{pool: pool, pollTick: 2 * time.Second}
	if err := q.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *PostgresQueue) ensureSchema(ctx context.Context) error {
	_, err := q.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			payload BYTEA NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL,
			not_before TIMESTAMPTZ NOT NULL DEFAULT now(),
			dead_lettered BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensuring tasks schema: %w", err)
	}
	_, err = q.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_poll ON tasks(kind, not_before) WHERE NOT dead_lettered`)
	return err
}

func (q *PostgresQueue) Enqueue(ctx context.Context, kind Kind, payload []byte, maxRetries int) (Task, error) {
	t := Task{ID: uuid.NewString(), Kind: kind, Payload: payload, MaxRetries: maxRetries, CreatedAt: time.Now(), NotBefore: time.Now()}
	_, err := q.pool.Exec(ctx, `
		INSERT INTO tasks (id, kind, payload, max_retries, not_before, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`, t.ID, string(t.Kind), t.Payload, t.MaxRetries, t.NotBefore, t.CreatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("enqueueing task: %w", err)
	}
	return t, nil
}

// Run polls for ready tasks of kind every pollTick until ctx is canceled,
// dispatching each claimed task to handler inside its own transaction so a
// crash mid-handler leaves the row unclaimed for the next poll.
func (q *PostgresQueue) Run(ctx context.Context, kind Kind, handler Handler) error {
	ticker := time.NewTicker(q.pollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				claimed, err := q.claimAndHandle(ctx, kind, handler)
				if err != nil {
					logging.Log.WithError(err).WithField("kind", kind).Error("task handling failed")
				}
				if !claimed {
					break
				}
			}
		}
	}
}

// claimAndHandle claims at most one ready task of kind and runs handler on
// it within a transaction, reporting whether a task was claimed at all.
func (q *PostgresQueue) claimAndHandle(ctx context.Context, kind Kind, handler Handler) (bool, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var t Task
	var kindStr string
	row := tx.QueryRow(ctx, `
		SELECT id, kind, payload, attempts, max_retries, not_before, created_at
		FROM tasks
		WHERE kind=$1 AND NOT dead_lettered AND not_before <= now()
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, string(kind))
	if err := row.Scan(&t.ID, &kindStr, &t.Payload, &t.Attempts, &t.MaxRetries, &t.NotBefore, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("claiming task: %w", err)
	}
	t.Kind = Kind(kindStr)

	handleErr := handler(ctx, t)
	if handleErr == nil {
		if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, t.ID); err != nil {
			return true, fmt.Errorf("deleting completed task: %w", err)
		}
		return true, tx.Commit(ctx)
	}

	attempts := t.Attempts + 1
	if !domain.Retryable(handleErr) || attempts >= t.MaxRetries {
		if _, err := tx.Exec(ctx, `UPDATE tasks SET attempts=$2, dead_lettered=true WHERE id=$1`, t.ID, attempts); err != nil {
			return true, fmt.Errorf("dead-lettering task: %w", err)
		}
		logging.Log.WithField("task_id", t.ID).WithField("kind", kind).WithError(handleErr).Warn("task dead-lettered")
		return true, tx.Commit(ctx)
	}

	nextAttempt := time.Now().Add(backoffDelay(attempts))
	if _, err := tx.Exec(ctx, `UPDATE tasks SET attempts=$2, not_before=$3 WHERE id=$1`, t.ID, attempts, nextAttempt); err != nil {
		return true, fmt.Errorf("scheduling retry: %w", err)
	}
	return true, tx.Commit(ctx)
}

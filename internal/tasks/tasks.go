// Package tasks is the Task Runner: a durable, at-least-once task queue for
// ingestion, fact extraction, metadata tagging, and dedupe jobs. Every task
// is idempotent by construction at the handler level (ingestion keyed by
// memoryId, fact writes checked for an existing (userId, subject,
// predicate, object, validFrom, sourceChunkId) row before insert — spec.md
// §4.8); this package supplies the retry/backoff/dead-letter machinery
// around whatever handler the caller registers.
package tasks

import (
	"context"
	"math"
	"time"
)

// Kind names a task's handler.
type Kind string

const (
	KindIngest  Kind = "ingest"
	KindExtract Kind = "extract_facts"
	KindTag     Kind = "tag_metadata"
	KindDedupe  Kind = "dedupe"
)

// Task is one unit of durable work.
type Task struct {
	ID         string
	Kind       Kind
	Payload    []byte // handler-specific, usually JSON
	Attempts   int
	MaxRetries int
	NotBefore  time.Time
	CreatedAt  time.Time
}

// Handler processes one task. Returning an error causes a retry (subject
// to MaxRetries) unless the error is non-retryable per domain.Retryable.
type Handler func(ctx context.Context, t Task) error

// Queue is the durable task queue boundary. Postgres (postgres.go) and
// Kafka (kafka.go) backends satisfy it.
type Queue interface {
	Enqueue(ctx context.Context, kind Kind, payload []byte, maxRetries int) (Task, error)
	// Run blocks, polling/consuming and dispatching to handler until ctx is
	// canceled.
	Run(ctx context.Context, kind Kind, handler Handler) error
}

const (
	baseBackoff = time.Second
	maxBackoff  = 15 * time.Minute
)

// backoffDelay returns the exponential backoff delay for the given attempt
// count (1-indexed), capped at maxBackoff.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(baseBackoff) * math.Pow(2, float64(attempt-1)))
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

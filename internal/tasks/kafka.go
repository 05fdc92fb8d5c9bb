package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"memoria/internal/domain"
	"memoria/internal/logging"
)

// KafkaQueue is the Kafka-backed Queue, used when TASK_QUEUE_BACKEND=kafka.
// A consumer group per task kind gives at-least-once delivery via manual
// offset commit after successful handling, adapted from the teacher's
// internal/tools/kafka producer/consumer pair.
type KafkaQueue struct {
	brokers []string
}

func NewKafkaQueue(brokers []string) *KafkaQueue {
	return &KafkaQueue{brokers: brokers}
}

type kafkaEnvelope struct {
	ID         string    `json:"id"`
	Payload    []byte    `json:"payload"`
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	CreatedAt  time.Time `json:"created_at"`
}

func (q *KafkaQueue) topic(kind Kind) string {
	return "memoria.tasks." + string(kind)
}

func (q *KafkaQueue) Enqueue(ctx context.Context, kind Kind, payload []byte, maxRetries int) (Task, error) {
	t := Task{ID: uuid.NewString(), Kind: kind, Payload: payload, MaxRetries: maxRetries, CreatedAt: time.Now()}
	env := kafkaEnvelope{ID: t.ID, Payload: t.Payload, MaxRetries: maxRetries, CreatedAt: t.CreatedAt}
	body, err := json.Marshal(env)
	if err != nil {
		return Task{}, err
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(q.brokers...),
		Topic:    q.topic(kind),
		Balancer: &kafka.LeastBytes{},
	}
	defer writer.Close()

	if err := writer.WriteMessages(ctx, kafka.Message{Key: []byte(t.ID), Value: body}); err != nil {
		return Task{}, fmt.Errorf("publishing task: %w", err)
	}
	return t, nil
}

// Run consumes from kind's topic under a per-kind consumer group until ctx
// is canceled. Offsets commit only after handler succeeds or the task is
// dead-lettered; a crash mid-handler causes redelivery (at-least-once).
func (q *KafkaQueue) Run(ctx context.Context, kind Kind, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: q.brokers,
		GroupID: "memoria-tasks-" + string(kind),
		Topic:   q.topic(kind),
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Log.WithError(err).Error("kafka fetch failed")
			continue
		}

		var env kafkaEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			logging.Log.WithError(err).Error("kafka envelope decode failed, dropping")
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		t := Task{ID: env.ID, Kind: kind, Payload: env.Payload, Attempts: env.Attempts, MaxRetries: env.MaxRetries, CreatedAt: env.CreatedAt}
		handleErr := handler(ctx, t)
		if handleErr == nil {
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		attempts := t.Attempts + 1
		if !domain.Retryable(handleErr) || attempts >= t.MaxRetries {
			logging.Log.WithField("task_id", t.ID).WithError(handleErr).Warn("task dead-lettered")
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		time.Sleep(backoffDelay(attempts))
		env.Attempts = attempts
		body, _ := json.Marshal(env)
		writer := &kafka.Writer{Addr: kafka.TCP(q.brokers...), Topic: q.topic(kind), Balancer: &kafka.LeastBytes{}}
		if err := writer.WriteMessages(ctx, kafka.Message{Key: []byte(t.ID), Value: body}); err != nil {
			logging.Log.WithError(err).Error("requeueing task for retry failed")
		}
		writer.Close()
		_ = reader.CommitMessages(ctx, msg)
	}
}

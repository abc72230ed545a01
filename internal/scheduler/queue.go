package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Task is one unit of work for the execution workers: drive a payment
// attempt, or cancel its in-flight gateway charge.
type Task struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Attempt   int       `json:"attempt"`
	Cancel    bool      `json:"cancel,omitempty"`
}

// Queue decouples the poll loop from the execution workers. Delivery is
// at-least-once; the attempt guard on the scheduling record makes
// duplicate or stale deliveries harmless.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// OnWork registers the worker handler. Workers across instances form
	// one consumer group: each task is handled by exactly one of them.
	OnWork(handler func(ctx context.Context, task Task)) error
}

// NATSQueue implements Queue over a NATS work-queue subject.
type NATSQueue struct {
	conn        *nats.Conn
	subject     string
	group       string
	workTimeout time.Duration
	logger      *slog.Logger

	sub *nats.Subscription
}

var _ Queue = (*NATSQueue)(nil)

func NewNATSQueue(conn *nats.Conn, prefix string, workTimeout time.Duration, logger *slog.Logger) *NATSQueue {
	if prefix == "" {
		prefix = "wallet"
	}
	if workTimeout <= 0 {
		workTimeout = 2 * time.Minute
	}
	return &NATSQueue{
		conn:        conn,
		subject:     prefix + ".payments.work",
		group:       "payment-workers",
		workTimeout: workTimeout,
		logger:      logger,
	}
}

func (q *NATSQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.conn.Publish(q.subject, data)
}

func (q *NATSQueue) OnWork(handler func(ctx context.Context, task Task)) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		var task Task
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			q.logger.Error("failed to decode work task",
				slog.String("error", err.Error()))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), q.workTimeout)
		defer cancel()
		handler(ctx, task)
	})
	if err != nil {
		return err
	}
	q.sub = sub
	return nil
}

// Close drains the worker subscription.
func (q *NATSQueue) Close() error {
	if q.sub == nil {
		return nil
	}
	return q.sub.Drain()
}

package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/gateway"
	"github.com/dukerupert/gullveig/internal/payments"
	"github.com/dukerupert/gullveig/internal/route"
	"github.com/dukerupert/gullveig/internal/store"
	"github.com/dukerupert/gullveig/internal/telemetry"
)

const (
	// ReaderName keys the committed cursor row.
	ReaderName = "gateway-events"

	// ReaderVersion resets the committed cursor when bumped, forcing a
	// full replay. Safe because every application is gated on local
	// intent state.
	ReaderVersion = 1

	defaultBatchSize = 100
)

// Reader reconciles the gateway's ordered event log against local
// state. The scheduler usually settles charges first; the reader is the
// source of truth for everything that finishes out of band, such as
// 3DS authentications and asynchronous payment methods.
//
// Processing is at-least-once: events are applied before the cursor
// commits, and the intent gate makes reapplication a no-op.
type Reader struct {
	store    store.Store
	provider gateway.Provider
	router   *route.Router
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	batch    int
}

func NewReader(st store.Store, provider gateway.Provider, router *route.Router, metrics *telemetry.Metrics, logger *slog.Logger) *Reader {
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	return &Reader{
		store:    st,
		provider: provider,
		router:   router,
		metrics:  metrics,
		logger:   logger,
		batch:    defaultBatchSize,
	}
}

// Run drains the event log from the committed cursor to the tip.
// Returns on the first batch that fails, leaving the cursor at the last
// fully applied batch so the next run retries from there.
func (r *Reader) Run(ctx context.Context) error {
	for {
		n, err := r.readBatch(ctx)
		if err != nil || n == 0 {
			return err
		}
	}
}

func (r *Reader) readBatch(ctx context.Context) (int, error) {
	cursor, err := r.loadCursor(ctx)
	if err != nil {
		return 0, err
	}

	events, next, err := r.provider.ListEvents(ctx, cursor, r.batch)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	for _, ev := range events {
		if err := r.apply(ctx, ev); err != nil {
			return 0, err
		}
	}
	return len(events), r.saveCursor(ctx, next)
}

// apply routes one gateway event in its own transaction. Events for
// intents we do not track are skipped: other systems share the gateway
// account.
func (r *Reader) apply(ctx context.Context, ev gateway.Event) error {
	r.metrics.EventsRead.WithLabelValues(ev.Type).Inc()

	outcome, handled := outcomeForEvent(ev.Type)
	if !handled || ev.IntentID == "" {
		r.metrics.EventsSkipped.WithLabelValues("unhandled_type").Inc()
		return nil
	}

	return r.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		intent, err := tx.GetIntent(ctx, ev.IntentID)
		if err != nil {
			return err
		}
		if intent == nil {
			r.metrics.EventsSkipped.WithLabelValues("unknown_intent").Inc()
			return nil
		}

		apply := true
		switch outcome {
		case domain.OutcomeSuccess:
			apply, err = payments.IntentSuccess(ctx, tx, ev.IntentID)
		case domain.OutcomeCanceled:
			apply, err = payments.IntentCancel(ctx, tx, ev.IntentID)
		default:
			// Failing and action-needed never settle the intent; a signal
			// arriving after settlement is stale.
			apply = intent.State == domain.IntentPending
		}
		if err != nil {
			return err
		}
		if !apply {
			r.metrics.EventsSkipped.WithLabelValues("already_settled").Inc()
			return nil
		}

		if err := r.router.Route(ctx, tx, intent.Operation, outcome); err != nil {
			return err
		}
		r.metrics.EventsApplied.WithLabelValues(string(outcome)).Inc()
		r.logger.Info("applied gateway event",
			slog.String("event_id", ev.ID),
			slog.String("intent_id", ev.IntentID),
			slog.String("outcome", string(outcome)))
		return nil
	})
}

func outcomeForEvent(eventType string) (domain.Outcome, bool) {
	switch eventType {
	case gateway.EventIntentSucceeded:
		return domain.OutcomeSuccess, true
	case gateway.EventIntentFailed:
		return domain.OutcomeFailing, true
	case gateway.EventIntentRequiresAction:
		return domain.OutcomeActionNeeded, true
	case gateway.EventIntentCanceled:
		return domain.OutcomeCanceled, true
	default:
		return "", false
	}
}

func (r *Reader) loadCursor(ctx context.Context) (string, error) {
	var cursor string
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetCursor(ctx, ReaderName)
		if err != nil {
			return err
		}
		if c != nil && c.Version == ReaderVersion {
			cursor = c.Cursor
		}
		return nil
	})
	return cursor, err
}

func (r *Reader) saveCursor(ctx context.Context, cursor string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveCursor(ctx, &domain.EventCursor{
			Name:      ReaderName,
			Version:   ReaderVersion,
			Cursor:    cursor,
			UpdatedAt: time.Now(),
		})
	})
}

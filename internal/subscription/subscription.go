// Package subscription implements the recurring billing engine: the
// subscription and billing-period state machines, outcome handling for
// period charges, and the time-driven scheduler that creates new periods
// and ages subscriptions through grace, retry and expiry.
package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/store"
)

// CancelScheduler asynchronously cancels the gateway charge behind a
// payment. Implemented by the payment execution scheduler.
type CancelScheduler interface {
	ScheduleCancel(ctx context.Context, paymentID uuid.UUID) error
}

// CreateParams describes a new subscription.
type CreateParams struct {
	UID      uuid.UUID
	Amount   int64 // per-period charge, cents
	Interval domain.SubscriptionInterval
	Product  string
	Start    time.Time
}

// Service is the subscription billing engine.
//
// Transaction-scoped methods take the caller's store transaction; the
// two scan methods (DoScheduling, CollectCancellations) run from the
// background loop and own their transactions, one per subscription, so
// a failure on one subscription cannot roll back progress on another.
//
// Payment outcomes are accepted for the current period only; an outcome
// carrying any other period index is rejected. Outcomes against a period
// already in a terminal state are rejected as well.
type Service interface {
	// Create starts a subscription and immediately charges its first
	// period through the allocation rule.
	Create(ctx context.Context, tx store.Tx, params CreateParams) (*domain.Subscription, error)

	Get(ctx context.Context, tx store.Tx, id uuid.UUID) (*domain.Subscription, error)

	// TryCancel soft-cancels: the current period still runs to its end.
	// Returns true if the subscription is now (or already was) canceled
	// or expired; false if it is retrying and must lapse naturally.
	TryCancel(ctx context.Context, tx store.Tx, id uuid.UUID) (bool, error)

	// ExpiryEstimate returns the best-effort time after which the
	// subscription lapses if nothing else happens.
	ExpiryEstimate(ctx context.Context, tx store.Tx, id uuid.UUID, now time.Time) (time.Time, error)

	OutcomeSuccess(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error
	OutcomeFailing(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error
	OutcomeActionNeeded(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error
	OutcomeCanceled(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error

	// DoScheduling advances every active subscription against the clock.
	// Idempotent: repeated calls with the same now are no-ops.
	DoScheduling(ctx context.Context, now time.Time) error

	// CollectCancellations enqueues the asynchronous gateway cancellation
	// for periods flagged needCancel, at most once per period.
	CollectCancellations(ctx context.Context) error
}

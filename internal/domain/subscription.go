package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionInterval is the billing cadence.
type SubscriptionInterval string

const (
	IntervalWeek  SubscriptionInterval = "week"
	IntervalMonth SubscriptionInterval = "month"
)

// Valid reports whether the interval is one of the supported cadences.
func (i SubscriptionInterval) Valid() bool {
	return i == IntervalWeek || i == IntervalMonth
}

// PeriodEnd returns the end of a period starting at start: exactly seven
// days for weekly, same day next calendar month for monthly (not a fixed
// 30/31-day offset).
func (i SubscriptionInterval) PeriodEnd(start time.Time) time.Time {
	if i == IntervalWeek {
		return start.AddDate(0, 0, 7)
	}
	return start.AddDate(0, 1, 0)
}

// GracePeriod is the recovery window after a failed payment before the
// subscription moves to retrying.
func (i SubscriptionInterval) GracePeriod() time.Duration {
	if i == IntervalWeek {
		return 6 * 24 * time.Hour
	}
	return 16 * 24 * time.Hour
}

// SubscriptionState is the subscription-level state machine:
//
//	started -> grace_period -> retrying -> expired
//	started -> canceled -> expired
//
// with grace_period -> started and retrying -> started as recovery paths.
type SubscriptionState string

const (
	SubStarted     SubscriptionState = "started"
	SubGracePeriod SubscriptionState = "grace_period"
	SubRetrying    SubscriptionState = "retrying"
	SubCanceled    SubscriptionState = "canceled"
	SubExpired     SubscriptionState = "expired"
)

// Active reports whether the time-driven scheduler still has work to do
// for a subscription in this state.
func (s SubscriptionState) Active() bool {
	return s != SubExpired
}

// RetryCancelAfter is how long a subscription may sit in retrying before
// its in-flight payment is flagged for cancellation.
const RetryCancelAfter = 60 * 24 * time.Hour

// NextPeriodWindow is how close to the current period's end the scheduler
// creates and charges the next period.
const NextPeriodWindow = 24 * time.Hour

// Subscription is a recurring per-period charge agreement.
type Subscription struct {
	ID       uuid.UUID
	UID      uuid.UUID
	Amount   int64 // per-period charge, cents
	Interval SubscriptionInterval
	Start    time.Time
	Product  string
	State    SubscriptionState

	// CurrentPeriodIndex is 1-based and monotonically increasing. Payment
	// outcomes for any other index are stale and rejected.
	CurrentPeriodIndex int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PeriodState tracks one billing cycle.
type PeriodState string

const (
	PeriodPending   PeriodState = "pending"
	PeriodFailing   PeriodState = "failing"
	PeriodSuccess   PeriodState = "success"
	PeriodCanceling PeriodState = "canceling"
	PeriodCanceled  PeriodState = "canceled"
)

// Terminal reports whether outcome handlers must reject further events
// for the period.
func (s PeriodState) Terminal() bool {
	return s == PeriodSuccess || s == PeriodCanceled
}

// SubscriptionPeriod is one billing cycle, keyed by (SubscriptionID, Index).
// Created by the scheduler, never deleted; a new period is only created
// after the prior one reached success.
type SubscriptionPeriod struct {
	SubscriptionID uuid.UUID
	Index          int
	Start          time.Time
	State          PeriodState
	PaymentID      *uuid.UUID

	// NeedCancel asks for asynchronous cancellation of the in-flight
	// payment; ScheduledCancel marks that the cancellation task was
	// enqueued, making the request at-most-once.
	NeedCancel      bool
	ScheduledCancel bool
}

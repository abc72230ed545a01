package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentState tracks an off-session charge request through the gateway.
type PaymentState string

const (
	PaymentPending        PaymentState = "pending"
	PaymentFailing        PaymentState = "failing"
	PaymentActionRequired PaymentState = "action_required"
	PaymentSuccess        PaymentState = "success"
	PaymentCanceled       PaymentState = "canceled"
)

// Terminal reports whether the payment can no longer change state.
func (s PaymentState) Terminal() bool {
	return s == PaymentSuccess || s == PaymentCanceled
}

// Payment is a single logical charge attempt against the gateway. The
// underlying PaymentIntent may be created, retried and recreated while
// the Payment stays the same entity.
type Payment struct {
	ID     uuid.UUID
	UID    uuid.UUID
	Amount int64
	State  PaymentState

	// Operation routes the eventual outcome back to the ledger and, for
	// subscription charges, the billing engine.
	Operation Operation

	// RetryKey deduplicates repeated creation requests from the same
	// caller. Empty means no request-level deduplication.
	RetryKey string

	// IntentID is the gateway payment-intent id once one exists.
	IntentID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IntentState is the gateway-facing intent state machine: one-way
// pending -> success|canceled. Action-required surfaces on the Payment,
// not here.
type IntentState string

const (
	IntentPending  IntentState = "pending"
	IntentSuccess  IntentState = "success"
	IntentCanceled IntentState = "canceled"
)

// PaymentIntent mirrors the gateway-side charge object. Once terminal it
// is immutable.
type PaymentIntent struct {
	ID        string // gateway-assigned (pi_...)
	Amount    int64
	State     IntentState
	Operation Operation
	CreatedAt time.Time
}

// PaymentScheduling is the per-payment retry bookkeeping used by the
// execution scheduler. Attempt is a monotonically increasing counter; a
// worker's result is discarded unless the stored attempt still matches
// the one it was dispatched with.
type PaymentScheduling struct {
	PaymentID     uuid.UUID
	Attempt       int
	FailuresCount int
	LastFailureAt *time.Time
	InProgress    bool
}

// BillingCustomer links a user to the gateway customer record.
// CustomerID is first-write-wins: once set it is never overwritten.
type BillingCustomer struct {
	UID uuid.UUID

	// CustomerID is the gateway customer id (cus_...), empty until applied.
	CustomerID string

	// IdempotencySeed is a stable per-user seed; every gateway call derives
	// its idempotency key from it plus a purpose and retry token.
	IdempotencySeed string

	CreatedAt time.Time
}

// PaymentMethod is a registered card. At most one per user is default.
type PaymentMethod struct {
	ID        string // gateway payment-method id (pm_...)
	UID       uuid.UUID
	Brand     string
	Last4     string
	IsDefault bool
	CreatedAt time.Time
}

// Outcome classifies what a gateway charge reached. It is the input
// vocabulary of the outcome router.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeFailing      Outcome = "failing"
	OutcomeActionNeeded Outcome = "action_needed"
	OutcomeCanceled     Outcome = "canceled"
)

package domain

import (
	"time"

	"github.com/google/uuid"
)

// UpdateKind classifies the per-user update events the ledger emits for
// the live-update layer. Delivery is fire-and-forget; ordering is per
// user, per publisher.
type UpdateKind string

const (
	UpdateTransaction   UpdateKind = "transaction"
	UpdateBalance       UpdateKind = "balance"
	UpdatePaymentStatus UpdateKind = "payment_status"
)

// UpdateEvent is one user-visible state change.
type UpdateEvent struct {
	UID  uuid.UUID  `json:"uid"`
	Kind UpdateKind `json:"kind"`

	// TransactionID is set for transaction events.
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`

	// Status carries the transaction status or payment state, depending
	// on Kind.
	Status string `json:"status,omitempty"`

	// Balance is the post-change balance for balance events.
	Balance int64 `json:"balance,omitempty"`

	At time.Time `json:"at"`
}

// EventCursor is the committed position of an ordered event-log reader.
// Bumping Version resets the cursor to the beginning.
type EventCursor struct {
	Name      string
	Version   int
	Cursor    string
	UpdatedAt time.Time
}

// Package gateway abstracts the external payment gateway. The core only
// depends on the Provider interface; the Stripe implementation and the
// mock both live here.
package gateway

import (
	"context"
	"time"
)

// Provider defines the gateway operations the monetary core calls.
// Every mutating call carries an explicit idempotency key derived from a
// stable seed plus a retry token, so a crash-and-retry of the same
// logical step cannot double-charge or double-create a resource.
type Provider interface {
	// CreateCustomer creates a gateway customer record and returns its id.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (string, error)

	// AttachPaymentMethod attaches a card to a customer and returns its
	// display details.
	AttachPaymentMethod(ctx context.Context, params AttachParams) (*Card, error)

	// DetachPaymentMethod removes a card from its customer.
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error

	// CreatePaymentIntent creates an off-session payment intent charged
	// against the customer's card.
	CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)

	// ConfirmPaymentIntent (re)confirms an existing intent, e.g. on retry
	// with a different card.
	ConfirmPaymentIntent(ctx context.Context, params ConfirmIntentParams) (*Intent, error)

	// GetPaymentIntent retrieves the current state of an intent.
	GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error)

	// CancelPaymentIntent cancels an unconfirmed intent. Canceling an
	// already-terminal intent is not an error.
	CancelPaymentIntent(ctx context.Context, intentID, idempotencyKey string) error

	// ListEvents returns gateway events after the given cursor, oldest
	// first, plus the cursor to resume from. Used by the reconciliation
	// reader.
	ListEvents(ctx context.Context, cursor string, limit int) ([]Event, string, error)
}

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	// UID is our user id, recorded in gateway metadata.
	UID string

	IdempotencyKey string
}

// AttachParams contains parameters for attaching a payment method.
type AttachParams struct {
	CustomerID      string
	PaymentMethodID string
	IdempotencyKey  string
}

// Card is the display view of an attached payment method.
type Card struct {
	ID    string
	Brand string
	Last4 string
}

// CreateIntentParams contains parameters for creating a payment intent.
type CreateIntentParams struct {
	// AmountCents is the charge in smallest currency unit.
	AmountCents int64

	CustomerID      string
	PaymentMethodID string

	// Metadata always includes the payment id so events can be traced back.
	Metadata map[string]string

	IdempotencyKey string
}

// ConfirmIntentParams contains parameters for confirming an intent.
type ConfirmIntentParams struct {
	IntentID        string
	PaymentMethodID string
	IdempotencyKey  string
}

// IntentStatus is the gateway's view of an intent.
type IntentStatus string

const (
	IntentStatusSucceeded      IntentStatus = "succeeded"
	IntentStatusRequiresAction IntentStatus = "requires_action"
	IntentStatusProcessing     IntentStatus = "processing"
	IntentStatusCanceled       IntentStatus = "canceled"
	IntentStatusFailed         IntentStatus = "failed"
)

// Intent is the gateway payment intent as the core sees it.
type Intent struct {
	ID          string
	AmountCents int64
	Status      IntentStatus
	CreatedAt   time.Time
}

// Event types the reconciliation reader understands.
const (
	EventIntentSucceeded      = "payment_intent.succeeded"
	EventIntentFailed         = "payment_intent.payment_failed"
	EventIntentRequiresAction = "payment_intent.requires_action"
	EventIntentCanceled       = "payment_intent.canceled"
)

// Event is one entry of the gateway's ordered event log.
type Event struct {
	ID       string
	Type     string
	IntentID string
	Created  time.Time
}

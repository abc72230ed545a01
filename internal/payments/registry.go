// Package payments tracks off-session charge requests and their
// gateway-facing payment intents, plus customer and card registration.
//
// The registry functions in this file are transaction-scoped: they run
// inside a caller-owned store transaction so payment bookkeeping commits
// atomically with the ledger writes that caused it.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/funds"
	"github.com/dukerupert/gullveig/internal/store"
)

// Create registers a new payment in pending state under a
// caller-assigned id, so the id can be embedded in the operation the
// payment itself carries. When retryKey is non-empty the call is
// idempotent: a repeated request with the same (uid, retryKey) returns
// the previously created payment and false, so callers know not to
// repeat the side effects tied to creation.
func Create(ctx context.Context, tx store.Tx, id, uid uuid.UUID, amount int64, op domain.Operation, retryKey string) (*domain.Payment, bool, error) {
	const opName = "payments.create"

	if !funds.ValidPositive(amount) {
		return nil, false, domain.Invalid(opName, "amount must be a positive safe integer")
	}
	if op == nil {
		return nil, false, domain.Invalid(opName, "operation is required")
	}

	if retryKey != "" {
		existing, err := tx.GetPaymentByRetryKey(ctx, uid, retryKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	now := time.Now()
	p := &domain.Payment{
		ID:        id,
		UID:       uid,
		Amount:    amount,
		State:     domain.PaymentPending,
		Operation: op,
		RetryKey:  retryKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.CreatePayment(ctx, p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// RegisterIntent records a gateway payment intent. Registering the same
// id twice is an error: intent ids are gateway-assigned and unique.
func RegisterIntent(ctx context.Context, tx store.Tx, id string, amount int64, op domain.Operation) error {
	const opName = "payments.registerIntent"

	if id == "" {
		return domain.Invalid(opName, "intent id is required")
	}
	if !funds.ValidPositive(amount) {
		return domain.Invalid(opName, "amount must be a positive safe integer")
	}

	existing, err := tx.GetIntent(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return domain.Conflict(opName, "intent already registered")
	}

	return tx.CreateIntent(ctx, &domain.PaymentIntent{
		ID:        id,
		Amount:    amount,
		State:     domain.IntentPending,
		Operation: op,
		CreatedAt: time.Now(),
	})
}

// IntentSuccess moves a pending intent to success. Returns false without
// error when the intent is unknown or no longer pending; callers use the
// boolean to skip routing duplicate or stale gateway events.
func IntentSuccess(ctx context.Context, tx store.Tx, id string) (bool, error) {
	return settleIntent(ctx, tx, id, domain.IntentSuccess)
}

// IntentCancel moves a pending intent to canceled, with the same
// stale-event tolerance as IntentSuccess.
func IntentCancel(ctx context.Context, tx store.Tx, id string) (bool, error) {
	return settleIntent(ctx, tx, id, domain.IntentCanceled)
}

func settleIntent(ctx context.Context, tx store.Tx, id string, state domain.IntentState) (bool, error) {
	intent, err := tx.GetIntent(ctx, id)
	if err != nil {
		return false, err
	}
	if intent == nil || intent.State != domain.IntentPending {
		return false, nil
	}
	if err := tx.SetIntentState(ctx, id, state); err != nil {
		return false, err
	}
	return true, nil
}

// SetState transitions a payment. Setting the current state again is an
// idempotent no-op; transitions out of a terminal state are rejected.
func SetState(ctx context.Context, tx store.Tx, id uuid.UUID, state domain.PaymentState) error {
	const opName = "payments.setState"

	p, err := tx.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if p.State == state {
		return nil
	}
	if p.State.Terminal() {
		return domain.InvalidState(opName, fmt.Sprintf("payment already %s", p.State))
	}
	return tx.SetPaymentState(ctx, id, state)
}

// CustomerFor loads the billing customer for a user, requiring that
// payments are enabled and the gateway customer id was applied.
func CustomerFor(ctx context.Context, tx store.Tx, uid uuid.UUID) (*domain.BillingCustomer, error) {
	const opName = "payments.customerFor"

	c, err := tx.GetBillingCustomer(ctx, uid)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.Invalid(opName, "payments are not enabled for this user")
	}
	if c.CustomerID == "" {
		return nil, domain.InvalidState(opName, "gateway customer is not provisioned yet")
	}
	return c, nil
}

// DefaultCardFor returns the user's default payment method.
func DefaultCardFor(ctx context.Context, tx store.Tx, uid uuid.UUID) (*domain.PaymentMethod, error) {
	cards, err := tx.ListPaymentMethods(ctx, uid)
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		if c.IsDefault {
			return c, nil
		}
	}
	return nil, nil
}

// Key derives a deterministic gateway idempotency key from the user's
// stable seed, the call purpose and an optional retry token. The same
// logical step always produces the same key, so a crash-and-retry cannot
// double-create a gateway resource.
func Key(seed, purpose, retryToken string) string {
	if retryToken == "" {
		return seed + ":" + purpose
	}
	return seed + ":" + purpose + ":" + retryToken
}

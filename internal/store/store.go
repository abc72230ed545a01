// Package store provides transactional access to the wallet, payment and
// subscription entities. Every mutating operation in the system runs
// inside one Tx scope with serializable isolation, so read-check-write
// sequences linearize instead of racing.
package store

import (
	"context"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/google/uuid"
)

// Store opens transactions. The Postgres implementation is the real one;
// Memory backs tests.
type Store interface {
	// RunInTx executes fn inside one serializable transaction. The
	// transaction commits when fn returns nil and rolls back otherwise;
	// a rolled-back transaction leaves no partial writes.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the entity access surface available inside a transaction.
// Lookups for entities that may legitimately be absent return (nil, nil);
// lookups that imply a caller bug return a not-found error.
type Tx interface {
	// GetWallet loads a user's wallet, creating it on first access.
	GetWallet(ctx context.Context, uid uuid.UUID) (*domain.Wallet, error)
	// SaveWalletBalance persists new balance values for uid.
	SaveWalletBalance(ctx context.Context, uid uuid.UUID, balance, locked int64) error
	// SetWalletLocked updates the derived failing-payments flag.
	SetWalletLocked(ctx context.Context, uid uuid.UUID, locked bool) error

	CreateTransaction(ctx context.Context, tx *domain.WalletTransaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.WalletTransaction, error)
	SetTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus) error

	CreatePayment(ctx context.Context, p *domain.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	// GetPaymentByRetryKey returns (nil, nil) when no payment carries the key.
	GetPaymentByRetryKey(ctx context.Context, uid uuid.UUID, retryKey string) (*domain.Payment, error)
	SetPaymentState(ctx context.Context, id uuid.UUID, state domain.PaymentState) error
	SetPaymentIntentID(ctx context.Context, id uuid.UUID, intentID string) error
	// ListPendingPayments returns payments the execution scheduler may
	// still drive: pending and failing states, index-backed.
	ListPendingPayments(ctx context.Context) ([]*domain.Payment, error)
	CountFailingPayments(ctx context.Context, uid uuid.UUID) (int, error)

	CreateIntent(ctx context.Context, intent *domain.PaymentIntent) error
	// GetIntent returns (nil, nil) for an unknown gateway intent id.
	GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
	SetIntentState(ctx context.Context, id string, state domain.IntentState) error

	// GetScheduling loads the retry bookkeeping for a payment, creating a
	// zero record on first access.
	GetScheduling(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentScheduling, error)
	SaveScheduling(ctx context.Context, s *domain.PaymentScheduling) error
	// SaveSchedulingIfAttempt persists s only when the stored attempt
	// still equals expectedAttempt, and reports whether it did. This is
	// the stale-write guard for superseded execution attempts.
	SaveSchedulingIfAttempt(ctx context.Context, s *domain.PaymentScheduling, expectedAttempt int) (bool, error)

	CreateBillingCustomer(ctx context.Context, c *domain.BillingCustomer) error
	// GetBillingCustomer returns (nil, nil) when payments were never enabled.
	GetBillingCustomer(ctx context.Context, uid uuid.UUID) (*domain.BillingCustomer, error)
	// ApplyCustomerID records the gateway customer id first-write-wins and
	// reports whether this call was the writer.
	ApplyCustomerID(ctx context.Context, uid uuid.UUID, customerID string) (bool, error)

	CreatePaymentMethod(ctx context.Context, m *domain.PaymentMethod) error
	// GetPaymentMethod returns (nil, nil) for an unknown card id.
	GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, uid uuid.UUID) ([]*domain.PaymentMethod, error)
	// DeletePaymentMethod reports whether a row was removed.
	DeletePaymentMethod(ctx context.Context, id string) (bool, error)
	// SetDefaultPaymentMethod makes id the user's only default card.
	SetDefaultPaymentMethod(ctx context.Context, uid uuid.UUID, id string) error

	CreateSubscription(ctx context.Context, s *domain.Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	SaveSubscription(ctx context.Context, s *domain.Subscription) error
	// ListActiveSubscriptions returns every subscription the time-driven
	// scheduler still has work for, index-backed.
	ListActiveSubscriptions(ctx context.Context) ([]*domain.Subscription, error)

	CreatePeriod(ctx context.Context, p *domain.SubscriptionPeriod) error
	GetPeriod(ctx context.Context, subscriptionID uuid.UUID, index int) (*domain.SubscriptionPeriod, error)
	SavePeriod(ctx context.Context, p *domain.SubscriptionPeriod) error
	// ListPeriodsAwaitingCancel returns periods flagged need_cancel whose
	// cancellation task was not yet enqueued.
	ListPeriodsAwaitingCancel(ctx context.Context) ([]*domain.SubscriptionPeriod, error)

	// GetCursor returns (nil, nil) when the reader has no committed position.
	GetCursor(ctx context.Context, name string) (*domain.EventCursor, error)
	SaveCursor(ctx context.Context, c *domain.EventCursor) error
}

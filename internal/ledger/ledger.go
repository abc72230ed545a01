// Package ledger maintains per-user wallets and the append-mostly
// transaction log behind them. All methods are transaction-scoped: the
// caller owns the store transaction, so a ledger write always commits
// atomically with whatever triggered it (an API request, a scheduler
// outcome, a reconciled gateway event).
package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/store"
)

// Publisher delivers per-user update events to the live-update layer.
// Delivery is fire-and-forget; events are hints, consumers re-read state.
type Publisher interface {
	Publish(ev domain.UpdateEvent)
}

// NopPublisher drops all events.
type NopPublisher struct{}

func (NopPublisher) Publish(domain.UpdateEvent) {}

// Service is the wallet ledger.
//
// Instant operations settle entirely from wallet balance and create
// their transaction directly in success. Async operations debit any
// wallet-covered portion up front, create a pending transaction and a
// Payment for the externally charged remainder, and settle later through
// the outcome handlers.
//
// Outcome handlers (Commit/Cancel/Failing/ActionNeeded per kind) are
// invoked by the outcome router with the operation stored on the
// payment. Commit applies the balance delta and moves the transaction to
// success; Cancel reverses any wallet portion already debited; Failing
// and ActionNeeded only update the payment state and the user-visible
// lock flag, and are idempotent.
type Service interface {
	// GetWallet loads a user's wallet, creating it on first access.
	GetWallet(ctx context.Context, tx store.Tx, uid uuid.UUID) (*domain.Wallet, error)

	// FailingPaymentCount returns how many of the user's payments are failing.
	FailingPaymentCount(ctx context.Context, tx store.Tx, uid uuid.UUID) (int, error)

	// DepositInstant credits the wallet immediately.
	DepositInstant(ctx context.Context, tx store.Tx, uid uuid.UUID, amount int64) (*domain.WalletTransaction, error)

	// DepositAsync records a deposit to be funded by an external charge of
	// the full amount. Idempotent by retryKey.
	DepositAsync(ctx context.Context, tx store.Tx, uid uuid.UUID, amount int64, retryKey string) (*domain.WalletTransaction, *domain.Payment, error)

	DepositCommit(ctx context.Context, tx store.Tx, op domain.DepositOperation) error
	DepositCancel(ctx context.Context, tx store.Tx, op domain.DepositOperation) error
	DepositFailing(ctx context.Context, tx store.Tx, op domain.DepositOperation) error
	DepositActionNeeded(ctx context.Context, tx store.Tx, op domain.DepositOperation) error

	// TransferBalance moves amount between two users entirely from the
	// sender's wallet. Self-transfers are always rejected.
	TransferBalance(ctx context.Context, tx store.Tx, from, to uuid.UUID, amount int64) (*domain.WalletTransaction, error)

	// TransferAsync splits amount between the sender's wallet and an
	// external charge. Falls back to the instant path when the wallet
	// covers everything.
	TransferAsync(ctx context.Context, tx store.Tx, from, to uuid.UUID, amount int64, retryKey string) (*domain.WalletTransaction, *domain.Payment, error)

	TransferCommit(ctx context.Context, tx store.Tx, op domain.TransferOperation) error
	TransferCancel(ctx context.Context, tx store.Tx, op domain.TransferOperation) error
	TransferFailing(ctx context.Context, tx store.Tx, op domain.TransferOperation) error
	TransferActionNeeded(ctx context.Context, tx store.Tx, op domain.TransferOperation) error

	// SubscriptionBalance charges one billing period entirely from the wallet.
	SubscriptionBalance(ctx context.Context, tx store.Tx, uid, subscriptionID uuid.UUID, periodIndex int, amount int64) (*domain.WalletTransaction, error)

	// SubscriptionCharge splits a period charge between wallet and gateway.
	SubscriptionCharge(ctx context.Context, tx store.Tx, uid, subscriptionID uuid.UUID, periodIndex int, amount int64, retryKey string) (*domain.WalletTransaction, *domain.Payment, error)

	SubscriptionCommit(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error
	SubscriptionCancel(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error
	SubscriptionFailing(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error
	SubscriptionActionNeeded(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error

	// PurchaseInstant pays for a product entirely from the wallet.
	PurchaseInstant(ctx context.Context, tx store.Tx, uid uuid.UUID, product string, amount int64) (*domain.WalletTransaction, error)

	// PurchaseCreated splits a product purchase between wallet and gateway.
	PurchaseCreated(ctx context.Context, tx store.Tx, uid uuid.UUID, product string, amount int64, retryKey string) (*domain.WalletTransaction, *domain.Payment, error)

	PurchaseCommit(ctx context.Context, tx store.Tx, op domain.PurchaseOperation) error
	PurchaseCancel(ctx context.Context, tx store.Tx, op domain.PurchaseOperation) error
	PurchaseFailing(ctx context.Context, tx store.Tx, op domain.PurchaseOperation) error
	PurchaseActionNeeded(ctx context.Context, tx store.Tx, op domain.PurchaseOperation) error
}

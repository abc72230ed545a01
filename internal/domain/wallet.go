package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a user's balance in integer minor currency units (cents).
// Created lazily on first access, never deleted.
//
// Invariant: balance >= 0, balance_locked >= 0, and every debit must be
// covered by AvailableBalance before it is applied.
type Wallet struct {
	UID uuid.UUID

	// Balance is the total credited amount.
	Balance int64

	// BalanceLocked is the reserved-but-not-yet-charged amount. No current
	// call path populates it; it participates in the available-balance
	// check regardless.
	BalanceLocked int64

	// IsLocked is a derived flag set while the user has failing payments.
	IsLocked bool

	UpdatedAt time.Time
}

// AvailableBalance is the amount eligible for new debits.
func (w *Wallet) AvailableBalance() int64 {
	return w.Balance - w.BalanceLocked
}

// TransactionStatus is the per-transaction state machine. A transaction
// leaves pending exactly once; success and canceled are terminal.
type TransactionStatus string

const (
	TxPending  TransactionStatus = "pending"
	TxSuccess  TransactionStatus = "success"
	TxCanceled TransactionStatus = "canceled"
)

// Terminal reports whether the status permits no further transitions.
func (s TransactionStatus) Terminal() bool {
	return s == TxSuccess || s == TxCanceled
}

// WalletTransaction is one entry in the append-mostly ledger log.
// Identity and operation are immutable; only Status changes, and only
// once, from pending to a terminal state.
type WalletTransaction struct {
	ID        uuid.UUID
	UID       uuid.UUID
	Status    TransactionStatus
	Operation Operation
	CreatedAt time.Time
	UpdatedAt time.Time
}

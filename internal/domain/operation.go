package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// OperationType tags the kind of money movement a transaction or payment
// represents. The set is closed: the outcome router matches exhaustively
// on it, so adding a kind is a compile-time-visible change.
type OperationType string

const (
	OpDeposit      OperationType = "deposit"
	OpTransferOut  OperationType = "transfer_out"
	OpTransferIn   OperationType = "transfer_in"
	OpSubscription OperationType = "subscription"
	OpPurchase     OperationType = "purchase"
	OpIncome       OperationType = "income"
)

// Operation is the tagged union carried by wallet transactions, payments
// and payment intents. Concrete types live in this package only; the
// marker method keeps the set closed.
type Operation interface {
	OperationType() OperationType
}

// DepositOperation credits a wallet, optionally backed by an external charge.
type DepositOperation struct {
	Amount int64 `json:"amount"`

	// TxID is the wallet transaction the deposit settles into. On the
	// transaction's own operation copy it may be zero (self-reference);
	// the payment's copy always carries it so outcomes can be routed.
	TxID      uuid.UUID  `json:"tx_id,omitempty"`
	PaymentID *uuid.UUID `json:"payment_id,omitempty"`
}

func (DepositOperation) OperationType() OperationType { return OpDeposit }

// TransferOperation is the sender leg of a transfer. The wallet-covered
// part is debited immediately; the charged part goes through the gateway.
// Both leg transaction ids are recorded so the router can resolve either
// side.
type TransferOperation struct {
	CounterpartUID uuid.UUID  `json:"counterpart_uid"`
	WalletAmount   int64      `json:"wallet_amount"`
	ChargeAmount   int64      `json:"charge_amount"`
	OutTxID        uuid.UUID  `json:"out_tx_id"`
	InTxID         uuid.UUID  `json:"in_tx_id"`
	PaymentID      *uuid.UUID `json:"payment_id,omitempty"`
}

func (TransferOperation) OperationType() OperationType { return OpTransferOut }

// TransferInOperation is the receiver leg of a transfer. It carries the
// sender uid and the same wallet/charge split as the sender leg, plus a
// reference to the sender transaction and payment. Never routed on its
// own; it settles together with the sender leg.
type TransferInOperation struct {
	CounterpartUID uuid.UUID  `json:"counterpart_uid"`
	WalletAmount   int64      `json:"wallet_amount"`
	ChargeAmount   int64      `json:"charge_amount"`
	OutTxID        uuid.UUID  `json:"out_tx_id"`
	PaymentID      *uuid.UUID `json:"payment_id,omitempty"`
}

func (TransferInOperation) OperationType() OperationType { return OpTransferIn }

// SubscriptionOperation charges one billing period of a subscription.
type SubscriptionOperation struct {
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	PeriodIndex    int        `json:"period_index"`
	WalletAmount   int64      `json:"wallet_amount"`
	ChargeAmount   int64      `json:"charge_amount"`
	TxID           uuid.UUID  `json:"tx_id"`
	PaymentID      *uuid.UUID `json:"payment_id,omitempty"`
}

func (SubscriptionOperation) OperationType() OperationType { return OpSubscription }

// PurchaseOperation pays for a product.
type PurchaseOperation struct {
	Product      string     `json:"product"`
	WalletAmount int64      `json:"wallet_amount"`
	ChargeAmount int64      `json:"charge_amount"`
	TxID         uuid.UUID  `json:"tx_id"`
	PaymentID    *uuid.UUID `json:"payment_id,omitempty"`
}

func (PurchaseOperation) OperationType() OperationType { return OpPurchase }

// IncomeOperation credits a wallet from a related parent transaction.
// Never routed through the outcome router; it settles together with its
// parent.
type IncomeOperation struct {
	ParentTxID uuid.UUID `json:"parent_tx_id"`
	Amount     int64     `json:"amount"`
}

func (IncomeOperation) OperationType() OperationType { return OpIncome }

// EncodeOperation serializes an operation for storage as (op_type, op_data).
func EncodeOperation(op Operation) (OperationType, []byte, error) {
	if op == nil {
		return "", nil, Invalid("domain.encodeOperation", "operation is required")
	}
	data, err := json.Marshal(op)
	if err != nil {
		return "", nil, Internal(err, "domain.encodeOperation", "failed to marshal operation")
	}
	return op.OperationType(), data, nil
}

// DecodeOperation reverses EncodeOperation. An unknown type tag is an
// internal error: the closed set of producers cannot emit one.
func DecodeOperation(typ OperationType, data []byte) (Operation, error) {
	var op Operation
	switch typ {
	case OpDeposit:
		op = &DepositOperation{}
	case OpTransferOut:
		op = &TransferOperation{}
	case OpTransferIn:
		op = &TransferInOperation{}
	case OpSubscription:
		op = &SubscriptionOperation{}
	case OpPurchase:
		op = &PurchaseOperation{}
	case OpIncome:
		op = &IncomeOperation{}
	default:
		return nil, Internal(fmt.Errorf("unknown operation type %q", typ), "domain.decodeOperation", "unknown operation type")
	}
	if err := json.Unmarshal(data, op); err != nil {
		return nil, Internal(err, "domain.decodeOperation", "failed to unmarshal operation")
	}
	return derefOperation(op), nil
}

// derefOperation returns the value form so callers can type-switch on
// the concrete struct rather than a pointer.
func derefOperation(op Operation) Operation {
	switch v := op.(type) {
	case *DepositOperation:
		return *v
	case *TransferOperation:
		return *v
	case *TransferInOperation:
		return *v
	case *SubscriptionOperation:
		return *v
	case *PurchaseOperation:
		return *v
	case *IncomeOperation:
		return *v
	default:
		return op
	}
}

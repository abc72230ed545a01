package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeOperation(t *testing.T) {
	uid := uuid.New()
	txID := uuid.New()
	payID := uuid.New()

	tests := []struct {
		name string
		op   Operation
	}{
		{
			name: "deposit",
			op:   DepositOperation{Amount: 500, PaymentID: &payID},
		},
		{
			name: "transfer out",
			op: TransferOperation{
				CounterpartUID: uid,
				WalletAmount:   300,
				ChargeAmount:   200,
				OutTxID:        txID,
				InTxID:         uuid.New(),
				PaymentID:      &payID,
			},
		},
		{
			name: "transfer in",
			op: TransferInOperation{
				CounterpartUID: uid,
				WalletAmount:   300,
				ChargeAmount:   200,
				OutTxID:        txID,
				PaymentID:      &payID,
			},
		},
		{
			name: "subscription",
			op: SubscriptionOperation{
				SubscriptionID: uuid.New(),
				PeriodIndex:    3,
				WalletAmount:   0,
				ChargeAmount:   1000,
				TxID:           txID,
			},
		},
		{
			name: "purchase",
			op:   PurchaseOperation{Product: "sticker-pack", WalletAmount: 100, ChargeAmount: 0, TxID: txID},
		},
		{
			name: "income",
			op:   IncomeOperation{ParentTxID: txID, Amount: 250},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, data, err := EncodeOperation(tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.op.OperationType(), typ)

			got, err := DecodeOperation(typ, data)
			require.NoError(t, err)
			assert.Equal(t, tt.op, got)
		})
	}
}

func TestDecodeOperationUnknownType(t *testing.T) {
	_, err := DecodeOperation("refund", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, EINTERNAL, ErrorCode(err))
}

func TestTransactionStatusTerminal(t *testing.T) {
	assert.False(t, TxPending.Terminal())
	assert.True(t, TxSuccess.Terminal())
	assert.True(t, TxCanceled.Terminal())
}

func TestPaymentStateTerminal(t *testing.T) {
	assert.False(t, PaymentPending.Terminal())
	assert.False(t, PaymentFailing.Terminal())
	assert.False(t, PaymentActionRequired.Terminal())
	assert.True(t, PaymentSuccess.Terminal())
	assert.True(t, PaymentCanceled.Terminal())
}

func TestIntervalPeriodEnd(t *testing.T) {
	// Monthly periods end on the same day next calendar month, not a
	// fixed offset.
	jan31 := date(2025, 1, 31)
	assert.Equal(t, date(2025, 3, 3), IntervalMonth.PeriodEnd(jan31))

	apr15 := date(2025, 4, 15)
	assert.Equal(t, date(2025, 5, 15), IntervalMonth.PeriodEnd(apr15))
	assert.Equal(t, date(2025, 4, 22), IntervalWeek.PeriodEnd(apr15))
}

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

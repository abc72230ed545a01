package funds

import (
	"testing"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate(t *testing.T) {
	tests := []struct {
		name       string
		balance    int64
		amount     int64
		wantWallet int64
		wantCharge int64
	}{
		{
			name:       "empty wallet charges everything externally",
			balance:    0,
			amount:     500,
			wantWallet: 0,
			wantCharge: 500,
		},
		{
			name:       "wallet covers full amount",
			balance:    1000,
			amount:     500,
			wantWallet: 500,
			wantCharge: 0,
		},
		{
			name:       "wallet exactly covers amount",
			balance:    500,
			amount:     500,
			wantWallet: 500,
			wantCharge: 0,
		},
		{
			name:       "plain split",
			balance:    300,
			amount:     1000,
			wantWallet: 300,
			wantCharge: 700,
		},
		{
			name:       "remainder below gateway minimum reduces wallet portion",
			balance:    950,
			amount:     1000,
			wantWallet: 900,
			wantCharge: 100,
		},
		{
			name:       "remainder exactly at minimum stays as-is",
			balance:    900,
			amount:     1000,
			wantWallet: 900,
			wantCharge: 100,
		},
		{
			name:       "remainder one cent under minimum",
			balance:    901,
			amount:     1000,
			wantWallet: 900,
			wantCharge: 100,
		},
		{
			name:       "balance one cent short of full coverage",
			balance:    999,
			amount:     1000,
			wantWallet: 900,
			wantCharge: 100,
		},
		{
			name:       "minimum amount from empty wallet",
			balance:    0,
			amount:     100,
			wantWallet: 0,
			wantCharge: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Allocate(tt.balance, tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.wantWallet, got.WalletPortion)
			assert.Equal(t, tt.wantCharge, got.ChargePortion)
			assert.Equal(t, tt.amount, got.WalletPortion+got.ChargePortion)

			// Charge portion is never a sub-minimum positive amount.
			if got.ChargePortion != 0 {
				assert.GreaterOrEqual(t, got.ChargePortion, int64(MinimumCharge))
			}
		})
	}
}

func TestAllocateRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		amount  int64
	}{
		{name: "negative balance", balance: -1, amount: 500},
		{name: "zero amount", balance: 100, amount: 0},
		{name: "negative amount", balance: 100, amount: -500},
		{name: "amount below minimum", balance: 100, amount: 99},
		{name: "amount beyond safe range", balance: 0, amount: MaxAmount + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate(tt.balance, tt.amount)
			require.Error(t, err)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		})
	}
}

func TestAllocateDeterministic(t *testing.T) {
	a, err := Allocate(431, 1234)
	require.NoError(t, err)
	b, err := Allocate(431, 1234)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

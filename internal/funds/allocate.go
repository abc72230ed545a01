// Package funds decides how a charge is split between a user's wallet
// balance and the external payment gateway.
package funds

import (
	"github.com/dukerupert/gullveig/internal/domain"
)

// MinimumCharge is the gateway's minimum chargeable amount in cents.
// Any externally charged portion must be at least this much.
const MinimumCharge = 100

// MaxAmount is the largest representable amount (2^53 - 1). Amounts
// beyond it cannot round-trip through JSON consumers losslessly.
const MaxAmount = int64(1)<<53 - 1

// Split is the outcome of an allocation: how much the wallet covers and
// how much must be charged externally. The parts always sum to the
// requested amount.
type Split struct {
	WalletPortion int64
	ChargePortion int64
}

// ValidAmount reports whether v is usable as a money amount: zero or a
// positive integer within the safe range.
func ValidAmount(v int64) bool {
	return v >= 0 && v <= MaxAmount
}

// ValidPositive reports whether v is a strictly positive amount within
// the safe range.
func ValidPositive(v int64) bool {
	return v > 0 && v <= MaxAmount
}

// ValidCharge reports whether v is a chargeable amount: positive, within
// the safe range, and at least the gateway minimum.
func ValidCharge(v int64) bool {
	return v >= MinimumCharge && v <= MaxAmount
}

// Allocate splits amount between the wallet and the gateway.
//
// Policy:
//   - empty wallet: everything is charged externally
//   - wallet covers the full amount: no external charge
//   - wallet covers part, but the remainder would be under the gateway
//     minimum: the wallet portion is reduced so the charge is exactly
//     MinimumCharge
//   - otherwise: wallet pays what it has, the gateway the rest
func Allocate(walletBalance, amount int64) (Split, error) {
	const op = "funds.allocate"

	if !ValidAmount(walletBalance) {
		return Split{}, domain.Invalid(op, "wallet balance must be a non-negative safe integer")
	}
	if !ValidCharge(amount) {
		return Split{}, domain.Invalid(op, "amount must be a positive safe integer of at least 100")
	}

	var s Split
	switch {
	case walletBalance == 0:
		s = Split{WalletPortion: 0, ChargePortion: amount}
	case walletBalance >= amount:
		s = Split{WalletPortion: amount, ChargePortion: 0}
	case amount-walletBalance < MinimumCharge:
		s = Split{WalletPortion: amount - MinimumCharge, ChargePortion: MinimumCharge}
	default:
		s = Split{WalletPortion: walletBalance, ChargePortion: amount - walletBalance}
	}

	// Both portions and their sum must independently be valid amounts;
	// anything else means corrupted input slipped past the guards.
	if !ValidAmount(s.WalletPortion) || !ValidAmount(s.ChargePortion) || s.WalletPortion+s.ChargePortion != amount {
		return Split{}, domain.Errorf(domain.EINTERNAL, op, "allocation produced inconsistent split %d/%d for amount %d", s.WalletPortion, s.ChargePortion, amount)
	}

	return s, nil
}

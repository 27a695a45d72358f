package domain

import "github.com/shopspring/decimal"

// Balance is a single asset balance on the account.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns free plus locked amount.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// IsZero reports whether both free and locked amounts are zero.
func (b Balance) IsZero() bool {
	return !b.Free.IsPositive() && !b.Locked.IsPositive()
}

// NonZeroBalances filters out balances with neither free nor locked funds.
func NonZeroBalances(balances []Balance) []Balance {
	out := make([]Balance, 0, len(balances))
	for _, b := range balances {
		if !b.IsZero() {
			out = append(out, b)
		}
	}
	return out
}

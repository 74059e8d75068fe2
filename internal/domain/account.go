package domain

import "github.com/shopspring/decimal"

// Balance holds the amount of a single asset on an account.
type Balance struct {
	Asset  Asset
	Amount decimal.Decimal
}

// Account is a freshly loaded view of a ledger account.
// It is never mutated locally, only replaced by a new load.
type Account struct {
	// Address public account address.
	Address string
	// Sequence current account sequence number.
	Sequence int64
	// Balances at most one entry per asset descriptor.
	Balances []Balance
}

// HasTrustline reports whether the account can hold the given credit asset.
func (a Account) HasTrustline(asset Asset) bool {
	_, ok := a.BalanceOf(asset)
	return ok
}

// BalanceOf returns the balance of the given asset.
func (a Account) BalanceOf(asset Asset) (decimal.Decimal, bool) {
	for _, b := range a.Balances {
		if b.Asset.Equal(asset) {
			return b.Amount, true
		}
	}
	return decimal.Zero, false
}

// Session is the active account binding. It is replaced, never mutated,
// when the active address changes.
type Session struct {
	// ID unique session identifier used for log correlation.
	ID string
	// Address active account address.
	Address string
	// Asset custom asset issued by Address.
	Asset Asset
}

package domain

import "time"

type CreditAccount struct {
	ID               int32     `json:"id"`
	UserID           int32     `json:"user_id"`
	TotalBalance     int64     `json:"total_balance"`
	AvailableBalance int64     `json:"available_balance"`
	LockedBalance    int64     `json:"locked_balance"`
	RetiredBalance   int64     `json:"retired_balance"`
	Version          int64     `json:"-"`
	CreatedOn        time.Time `json:"created_on"`
	UpdatedOn        time.Time `json:"updated_on"`
}

// Balanced reports whether total = available + locked + retired and no bucket is negative.
func (a CreditAccount) Balanced() bool {
	if a.AvailableBalance < 0 || a.LockedBalance < 0 || a.RetiredBalance < 0 {
		return false
	}
	return a.TotalBalance == a.AvailableBalance+a.LockedBalance+a.RetiredBalance
}

// ApplyEntry moves the balances by the entry's deltas.
func (a *CreditAccount) ApplyEntry(e LedgerEntry) {
	a.AvailableBalance += e.AvailableDelta
	a.LockedBalance += e.LockedDelta
	a.RetiredBalance += e.RetiredDelta
	a.TotalBalance = a.AvailableBalance + a.LockedBalance + a.RetiredBalance
}

// SameBalances compares the four balance buckets only.
func (a CreditAccount) SameBalances(b CreditAccount) bool {
	return a.TotalBalance == b.TotalBalance &&
		a.AvailableBalance == b.AvailableBalance &&
		a.LockedBalance == b.LockedBalance &&
		a.RetiredBalance == b.RetiredBalance
}

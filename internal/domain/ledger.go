package domain

import "time"

type EntryType string

const (
	EntryTypeIssuance   EntryType = "issuance"
	EntryTypePurchase   EntryType = "purchase"
	EntryTypeSale       EntryType = "sale"
	EntryTypeTransfer   EntryType = "transfer"
	EntryTypeRetirement EntryType = "retirement"
	EntryTypeSurrender  EntryType = "surrender"
	EntryTypeLock       EntryType = "lock"
	EntryTypeUnlock     EntryType = "unlock"
)

type ReferenceType string

const (
	ReferenceTypeTransaction ReferenceType = "transaction"
	ReferenceTypeRetirement  ReferenceType = "retirement"
	ReferenceTypeCompliance  ReferenceType = "compliance"
	ReferenceTypeTransfer    ReferenceType = "transfer"
	ReferenceTypeIssuance    ReferenceType = "issuance"
)

type Reference struct {
	Type ReferenceType `json:"type"`
	ID   string        `json:"id"`
}

func (r Reference) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// LedgerEntry is one append-only row of an account's history. Amount is signed
// from the account's point of view; the three deltas describe exactly how each
// balance bucket moved, and BalanceBefore/BalanceAfter track total_balance.
type LedgerEntry struct {
	ID             int64         `json:"id"`
	AccountID      int32         `json:"account_id"`
	Type           EntryType     `json:"transaction_type"`
	Amount         int64         `json:"amount"`
	AvailableDelta int64         `json:"available_delta"`
	LockedDelta    int64         `json:"locked_delta"`
	RetiredDelta   int64         `json:"retired_delta"`
	BalanceBefore  int64         `json:"balance_before"`
	BalanceAfter   int64         `json:"balance_after"`
	ReferenceType  ReferenceType `json:"reference_type,omitempty"`
	ReferenceID    string        `json:"reference_id,omitempty"`
	Description    string        `json:"description"`
	CreatedOn      time.Time     `json:"created_on"`
}

func (e LedgerEntry) Reference() Reference {
	return Reference{Type: e.ReferenceType, ID: e.ReferenceID}
}

package repository

import "carbon-ledger-backend/internal/domain"

// Changeset is the unit of work behind every ledger mutation. Implementations
// of LedgerRepository.Commit apply all parts inside one storage transaction so
// readers never observe entries without matching balances or vice versa.
type Changeset struct {
	// Accounts carry their new balances and the Version they were read at.
	// A version mismatch fails the whole commit with ErrBusy.
	Accounts []domain.CreditAccount
	// Entries are appended in order; IDs and CreatedOn are filled in on commit.
	Entries []*domain.LedgerEntry

	Listing     *ListingChange
	Transaction *TransactionChange
	Retirement  *domain.Retirement
	Issuance    *domain.Issuance
	// Compliance is written with the same version check as ComplianceRepository.Update.
	Compliance *domain.ComplianceRecord
}

// ListingChange adds Delta to available_quantity. The result must stay within
// [0, quantity] or the commit fails with ErrInsufficientListingQuantity.
type ListingChange struct {
	ListingID int32
	Delta     int64
}

// TransactionChange inserts Transaction when Create is set; otherwise it
// updates it from ExpectedStatus, failing with ErrInvalidStateTransition when
// another writer moved it first.
type TransactionChange struct {
	Transaction    *domain.Transaction
	Create         bool
	ExpectedStatus domain.TransactionStatus
}

// AccountIDs lists the accounts the changeset writes.
func (cs *Changeset) AccountIDs() []int32 {
	ids := make([]int32, 0, len(cs.Accounts))
	for _, a := range cs.Accounts {
		ids = append(ids, a.ID)
	}
	return ids
}

package memory

import (
	"context"
	"errors"
	"testing"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommit_RejectsWholeChangesetOnListingGuard(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	acct := &domain.CreditAccount{UserID: 1}
	require.NoError(t, store.AccountRepository.Create(ctx, acct))
	listing := &domain.Listing{SellerID: 1, Quantity: 100, AvailableQuantity: 100, PricePerCredit: decimal.NewFromInt(10), IsActive: true}
	require.NoError(t, store.ListingRepository.Create(ctx, listing))

	updated := *acct
	updated.AvailableBalance, updated.TotalBalance = 5, 5
	cs := &repository.Changeset{
		Accounts: []domain.CreditAccount{updated},
		Entries:  []*domain.LedgerEntry{{AccountID: acct.ID, Type: domain.EntryTypeIssuance, Amount: 5, AvailableDelta: 5, BalanceAfter: 5}},
		Listing:  &repository.ListingChange{ListingID: listing.ID, Delta: -150},
	}

	err := store.LedgerRepository.Commit(ctx, cs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientListingQuantity))

	got, err := store.AccountRepository.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TotalBalance)
	entries, err := store.LedgerRepository.AllEntries(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	l, _ := store.ListingRepository.GetByID(ctx, listing.ID)
	assert.Equal(t, int64(100), l.AvailableQuantity)
}

func TestCommit_StaleVersionIsBusy(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	acct := &domain.CreditAccount{UserID: 7}
	require.NoError(t, store.AccountRepository.Create(ctx, acct))

	first := *acct
	first.AvailableBalance, first.TotalBalance = 10, 10
	require.NoError(t, store.LedgerRepository.Commit(ctx, &repository.Changeset{Accounts: []domain.CreditAccount{first}}))

	stale := *acct
	stale.AvailableBalance, stale.TotalBalance = 20, 20
	err := store.LedgerRepository.Commit(ctx, &repository.Changeset{Accounts: []domain.CreditAccount{stale}})
	assert.True(t, errors.Is(err, domain.ErrBusy))
}

func TestCommit_ListingDeactivatesWhenExhausted(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	listing := &domain.Listing{SellerID: 1, Quantity: 10, AvailableQuantity: 10, IsActive: true}
	require.NoError(t, store.ListingRepository.Create(ctx, listing))

	require.NoError(t, store.LedgerRepository.Commit(ctx, &repository.Changeset{Listing: &repository.ListingChange{ListingID: listing.ID, Delta: -10}}))
	l, _ := store.ListingRepository.GetByID(ctx, listing.ID)
	assert.False(t, l.IsActive)

	require.NoError(t, store.LedgerRepository.Commit(ctx, &repository.Changeset{Listing: &repository.ListingChange{ListingID: listing.ID, Delta: 4}}))
	l, _ = store.ListingRepository.GetByID(ctx, listing.ID)
	assert.True(t, l.IsActive)
	assert.Equal(t, int64(4), l.AvailableQuantity)
}

func TestTransactionStatusCAS(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	txn := &domain.Transaction{ID: "t-1", Status: domain.TransactionStatusPaymentPending}
	require.NoError(t, store.LedgerRepository.Commit(ctx, &repository.Changeset{
		Transaction: &repository.TransactionChange{Transaction: txn, Create: true},
	}))

	next := *txn
	next.Status = domain.TransactionStatusPaymentCompleted
	require.NoError(t, store.TransactionRepository.UpdateStatus(ctx, &next, domain.TransactionStatusPaymentPending))

	loser := *txn
	loser.Status = domain.TransactionStatusCancelled
	err := store.TransactionRepository.UpdateStatus(ctx, &loser, domain.TransactionStatusPaymentPending)
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition))
}

func TestComplianceUniquePerPeriod(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.ComplianceRepository.Create(ctx, &domain.ComplianceRecord{UserID: 1, CompliancePeriod: "2025-26"}))
	err := store.ComplianceRepository.Create(ctx, &domain.ComplianceRecord{UserID: 1, CompliancePeriod: "2025-26"})
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
}

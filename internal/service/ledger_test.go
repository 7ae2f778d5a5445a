package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerStore_LockThenTransferFromLocked(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seller := e.account(t, e.funded(t, "seller@example.com", 1000))
	buyer := e.account(t, e.user(t, "buyer@example.com", domain.UserTypeBuyer))

	lockEntry, err := e.ledger.Lock(ctx, seller.ID, 100, EntryMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(-100), lockEntry.Amount)
	assert.Equal(t, domain.EntryTypeLock, lockEntry.Type)
	assert.Equal(t, int64(1000), lockEntry.BalanceBefore)
	assert.Equal(t, int64(1000), lockEntry.BalanceAfter)

	got, _ := e.store.AccountRepository.GetByID(ctx, seller.ID)
	assert.Equal(t, int64(900), got.AvailableBalance)
	assert.Equal(t, int64(100), got.LockedBalance)

	entries, err := e.ledger.Transfer(ctx, TransferRequest{
		From:       seller.ID,
		To:         buyer.ID,
		Amount:     100,
		FromLocked: true,
		Reference:  domain.Reference{Type: domain.ReferenceTypeTransfer, ID: "t-1"},
		FromType:   domain.EntryTypeSale,
		ToType:     domain.EntryTypePurchase,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-100), entries[0].Amount)
	assert.Equal(t, int64(100), entries[1].Amount)
	assert.Equal(t, entries[0].ReferenceID, entries[1].ReferenceID)

	got, _ = e.store.AccountRepository.GetByID(ctx, seller.ID)
	assert.Equal(t, int64(900), got.TotalBalance)
	assert.Equal(t, int64(900), got.AvailableBalance)
	assert.Equal(t, int64(0), got.LockedBalance)
	got, _ = e.store.AccountRepository.GetByID(ctx, buyer.ID)
	assert.Equal(t, int64(100), got.TotalBalance)
	assert.Equal(t, int64(100), got.AvailableBalance)

	assert.Equal(t, int64(1000), e.totalCredits(t))
	e.requireConsistent(t)
}

func TestLedgerStore_Rejections(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.account(t, e.funded(t, "a@example.com", 50))
	b := e.account(t, e.user(t, "b@example.com", domain.UserTypeBuyer))

	t.Run("Zero Amount", func(t *testing.T) {
		_, err := e.ledger.Issue(ctx, a.ID, 0, EntryMeta{})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		assert.Equal(t, "amount", domain.FieldOf(err))
	})

	t.Run("Negative Amount", func(t *testing.T) {
		_, err := e.ledger.Lock(ctx, a.ID, -5, EntryMeta{})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("Insufficient Available", func(t *testing.T) {
		_, err := e.ledger.Lock(ctx, a.ID, 51, EntryMeta{})
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	})

	t.Run("Insufficient Locked", func(t *testing.T) {
		_, err := e.ledger.Transfer(ctx, TransferRequest{From: a.ID, To: b.ID, Amount: 1, FromLocked: true})
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	})

	t.Run("Unlock More Than Locked", func(t *testing.T) {
		_, err := e.ledger.Unlock(ctx, a.ID, 1, EntryMeta{})
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("Self Transfer", func(t *testing.T) {
		_, err := e.ledger.Transfer(ctx, TransferRequest{From: a.ID, To: a.ID, Amount: 1})
		assert.ErrorIs(t, err, domain.ErrSelfTransferRejected)
	})

	t.Run("Unknown Account", func(t *testing.T) {
		_, err := e.ledger.Issue(ctx, 999, 1, EntryMeta{})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Empty Posting", func(t *testing.T) {
		_, err := e.ledger.Post(ctx, nil, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	got, _ := e.store.AccountRepository.GetByID(ctx, a.ID)
	assert.Equal(t, int64(50), got.AvailableBalance)
	assert.Equal(t, int64(0), got.LockedBalance)
	e.requireConsistent(t)
}

func TestLedgerStore_PostIsAllOrNothing(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.account(t, e.funded(t, "a@example.com", 100))
	b := e.account(t, e.user(t, "b@example.com", domain.UserTypeBuyer))

	t.Run("Later Posting Fails", func(t *testing.T) {
		_, err := e.ledger.Post(ctx, []Posting{
			{AccountID: a.ID, Kind: PostingDebit, Amount: 60},
			{AccountID: b.ID, Kind: PostingCredit, Amount: 60},
			{AccountID: a.ID, Kind: PostingDebit, Amount: 60},
		}, nil)
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	})

	t.Run("Listing Guard Fails", func(t *testing.T) {
		seller := e.funded(t, "s@example.com", 10)
		listing := e.listing(t, seller, 10, "5.00")
		acct := e.account(t, seller)
		_, err := e.ledger.Post(ctx, []Posting{{AccountID: acct.ID, Kind: PostingLock, Amount: 5}}, &Extras{
			Listing: &repository.ListingChange{ListingID: listing.ID, Delta: -11},
		})
		assert.ErrorIs(t, err, domain.ErrInsufficientListingQuantity)
		got, _ := e.store.AccountRepository.GetByID(ctx, acct.ID)
		assert.Equal(t, int64(0), got.LockedBalance)
	})

	got, _ := e.store.AccountRepository.GetByID(ctx, a.ID)
	assert.Equal(t, int64(100), got.AvailableBalance)
	got, _ = e.store.AccountRepository.GetByID(ctx, b.ID)
	assert.Equal(t, int64(0), got.TotalBalance)
	e.requireConsistent(t)
}

func TestLedgerStore_RetireKeepsTotal(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.account(t, e.funded(t, "a@example.com", 100))

	entry, err := e.ledger.Retire(ctx, a.ID, 40, false, EntryMeta{})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryTypeRetirement, entry.Type)
	assert.Equal(t, int64(-40), entry.Amount)
	assert.Equal(t, int64(40), entry.RetiredDelta)

	_, err = e.ledger.Lock(ctx, a.ID, 10, EntryMeta{})
	require.NoError(t, err)
	_, err = e.ledger.Retire(ctx, a.ID, 10, true, EntryMeta{Type: domain.EntryTypeSurrender})
	require.NoError(t, err)

	got, _ := e.store.AccountRepository.GetByID(ctx, a.ID)
	assert.Equal(t, int64(100), got.TotalBalance)
	assert.Equal(t, int64(50), got.AvailableBalance)
	assert.Equal(t, int64(0), got.LockedBalance)
	assert.Equal(t, int64(50), got.RetiredBalance)

	_, err = e.ledger.Retire(ctx, a.ID, 51, false, EntryMeta{})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	e.requireConsistent(t)
}

func TestLedgerStore_ReplayMatchesStoredBalances(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.account(t, e.funded(t, "a@example.com", 500))
	b := e.account(t, e.user(t, "b@example.com", domain.UserTypeBuyer))

	_, err := e.ledger.Lock(ctx, a.ID, 200, EntryMeta{})
	require.NoError(t, err)
	_, err = e.ledger.Unlock(ctx, a.ID, 50, EntryMeta{})
	require.NoError(t, err)
	_, err = e.ledger.Transfer(ctx, TransferRequest{From: a.ID, To: b.ID, Amount: 150, FromLocked: true})
	require.NoError(t, err)
	_, err = e.ledger.Retire(ctx, b.ID, 25, false, EntryMeta{})
	require.NoError(t, err)

	replayed, err := e.ledger.Replay(ctx, a.ID)
	require.NoError(t, err)
	stored, _ := e.store.AccountRepository.GetByID(ctx, a.ID)
	assert.True(t, replayed.SameBalances(*stored))
	assert.Equal(t, int64(350), replayed.TotalBalance)

	replayed, err = e.ledger.Replay(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(125), replayed.AvailableBalance)
	assert.Equal(t, int64(25), replayed.RetiredBalance)

	e.requireConsistent(t)
}

func TestLedgerStore_ConcurrentOpposingTransfers(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.account(t, e.funded(t, "a@example.com", 100))
	b := e.account(t, e.funded(t, "b@example.com", 100))

	const rounds = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.ledger.Transfer(ctx, TransferRequest{From: a.ID, To: b.ID, Amount: 1})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := e.ledger.Transfer(ctx, TransferRequest{From: b.ID, To: a.ID, Amount: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, domain.ErrBusy) {
			t.Fatalf("unexpected transfer error: %v", err)
		}
	}
	assert.Equal(t, int64(200), e.totalCredits(t))
	e.requireConsistent(t)
}

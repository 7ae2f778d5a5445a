package service

import (
	"context"
	"testing"
	"time"

	"carbon-ledger-backend/internal/cache"
	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountService_EnsureAccount(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	uid := e.user(t, "new@example.com", domain.UserTypeBuyer)

	first, err := e.accounts.EnsureAccount(ctx, uid)
	require.NoError(t, err)
	second, err := e.accounts.EnsureAccount(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(0), second.TotalBalance)

	_, err = e.accounts.EnsureAccount(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccountService_TransferToUser(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	sender := e.funded(t, "sender@example.com", 300)
	recipient := e.user(t, "recipient@example.com", domain.UserTypeBuyer)

	t.Run("Success", func(t *testing.T) {
		entries, err := e.accounts.TransferToUser(ctx, sender, recipient, 120, "")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, domain.ReferenceTypeTransfer, entries[0].ReferenceType)
		assert.Contains(t, entries[0].Description, "120 credits")

		bal, err := e.accounts.GetBalances(ctx, recipient)
		require.NoError(t, err)
		assert.Equal(t, int64(120), bal.AvailableBalance)
		bal, err = e.accounts.GetBalances(ctx, sender)
		require.NoError(t, err)
		assert.Equal(t, int64(180), bal.AvailableBalance)
	})

	t.Run("Invalid Amount", func(t *testing.T) {
		_, err := e.accounts.TransferToUser(ctx, sender, recipient, 0, "")
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("Self", func(t *testing.T) {
		_, err := e.accounts.TransferToUser(ctx, sender, sender, 1, "")
		assert.ErrorIs(t, err, domain.ErrSelfTransferRejected)
	})

	t.Run("Unknown Recipient", func(t *testing.T) {
		_, err := e.accounts.TransferToUser(ctx, sender, 999, 1, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, "recipient_id", domain.FieldOf(err))
	})

	t.Run("Insufficient", func(t *testing.T) {
		_, err := e.accounts.TransferToUser(ctx, recipient, sender, 121, "too much")
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	})

	e.requireConsistent(t)
}

func TestAccountService_RetireCredits(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	uid := e.funded(t, "retirer@example.com", 100)
	other := e.user(t, "other@example.com", domain.UserTypeBuyer)

	ret, err := e.accounts.RetireCredits(ctx, uid, RetireRequest{Amount: 30, Purpose: domain.RetirementPurposeVoluntary, Beneficiary: " ACME "})
	require.NoError(t, err)
	assert.Equal(t, "ACME", ret.Beneficiary)
	assert.Equal(t, domain.RetirementStatusCompleted, ret.Status)
	assert.Contains(t, ret.RetirementNumber, "RET-20250601-")

	bal, err := e.accounts.GetBalances(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.TotalBalance)
	assert.Equal(t, int64(70), bal.AvailableBalance)
	assert.Equal(t, int64(30), bal.RetiredBalance)

	got, err := e.accounts.GetRetirement(ctx, uid, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.Amount)
	_, err = e.accounts.GetRetirement(ctx, other, ret.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := e.accounts.ListRetirements(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	t.Run("Surrender Purpose Uses Surrender Entry", func(t *testing.T) {
		_, err := e.accounts.RetireCredits(ctx, uid, RetireRequest{Amount: 5, Purpose: domain.RetirementPurposeSurrender})
		require.NoError(t, err)
		entries, _, err := e.accounts.ListEntries(ctx, uid, 1, 50)
		require.NoError(t, err)
		types := make([]domain.EntryType, 0, len(entries))
		for _, en := range entries {
			types = append(types, en.Type)
		}
		assert.Contains(t, types, domain.EntryTypeSurrender)
	})

	t.Run("Unknown Purpose", func(t *testing.T) {
		_, err := e.accounts.RetireCredits(ctx, uid, RetireRequest{Amount: 5, Purpose: "gift"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("More Than Available", func(t *testing.T) {
		_, err := e.accounts.RetireCredits(ctx, uid, RetireRequest{Amount: 66, Purpose: domain.RetirementPurposeCompliance})
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		list, _ := e.accounts.ListRetirements(ctx, uid)
		assert.Len(t, list, 2)
	})

	e.requireConsistent(t)
}

func TestAccountService_IssueDemoCredits(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seller := e.user(t, "seller@example.com", domain.UserTypeSeller)
	buyer := e.user(t, "buyer@example.com", domain.UserTypeBuyer)

	iss, err := e.accounts.IssueDemoCredits(ctx, seller, IssueRequest{Amount: 250, ProjectType: "wind", Vintage: 2022})
	require.NoError(t, err)
	assert.Equal(t, int64(250), iss.Amount)
	assert.Equal(t, "wind", iss.ProjectType)
	assert.Equal(t, int32(2022), iss.Vintage)
	assert.Equal(t, domain.IssuanceStatusApproved, iss.Status)
	assert.Regexp(t, `^ISS-20250601-`, iss.IssuanceNumber)

	entries, _, err := e.accounts.ListEntries(ctx, seller, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryTypeIssuance, entries[0].Type)
	assert.Equal(t, iss.Reference(), entries[0].Reference())
	assert.Contains(t, entries[0].Description, "wind")

	e.advance(time.Hour)
	second, err := e.accounts.IssueDemoCredits(ctx, seller, IssueRequest{Amount: 50})
	require.NoError(t, err)
	history, err := e.accounts.ListIssuances(ctx, seller)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, iss.ID, history[1].ID)
	assert.Equal(t, int64(300), e.account(t, seller).AvailableBalance)

	_, err = e.accounts.IssueDemoCredits(ctx, buyer, IssueRequest{Amount: 10})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = e.accounts.IssueDemoCredits(ctx, seller, IssueRequest{Amount: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	history, err = e.accounts.ListIssuances(ctx, seller)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestAccountService_BalanceCacheInvalidatedOnPost(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client, err := cache.Connect(ctx, mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	balances := cache.NewRedisBalanceCache(client, time.Minute)
	e.ledger.balances = balances
	e.accounts.balances = balances

	uid := e.funded(t, "cached@example.com", 40)
	bal, err := e.accounts.GetBalances(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(40), bal.AvailableBalance)

	_, ok, err := balances.Get(ctx, uid)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.accounts.RetireCredits(ctx, uid, RetireRequest{Amount: 15, Purpose: domain.RetirementPurposeVoluntary})
	require.NoError(t, err)
	_, ok, err = balances.Get(ctx, uid)
	require.NoError(t, err)
	assert.False(t, ok)

	bal, err = e.accounts.GetBalances(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(25), bal.AvailableBalance)
	assert.Equal(t, int64(15), bal.RetiredBalance)
}

// issuingAccounts posts an issuance right after the first GetByUserID read,
// standing in for a commit that lands between a cache miss and its fill.
type issuingAccounts struct {
	repository.AccountRepository
	fired  bool
	onRead func()
}

func (r *issuingAccounts) GetByUserID(ctx context.Context, userID int32) (*domain.CreditAccount, error) {
	acct, err := r.AccountRepository.GetByUserID(ctx, userID)
	if !r.fired {
		r.fired = true
		r.onRead()
	}
	return acct, err
}

func TestAccountService_BalanceCacheFillRacesCommit(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client, err := cache.Connect(ctx, mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	balances := cache.NewRedisBalanceCache(client, time.Minute)
	e.ledger.balances = balances
	e.accounts.balances = balances

	uid := e.funded(t, "racer@example.com", 100)
	acctID := e.account(t, uid).ID
	e.accounts.accountRepo = &issuingAccounts{
		AccountRepository: e.store.AccountRepository,
		onRead: func() {
			_, err := e.ledger.Issue(ctx, acctID, 50, EntryMeta{Description: "concurrent issuance"})
			require.NoError(t, err)
		},
	}

	bal, err := e.accounts.GetBalances(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal.AvailableBalance)

	if cached, ok, err := balances.Get(ctx, uid); assert.NoError(t, err) && ok {
		assert.Equal(t, int64(150), cached.AvailableBalance)
	}

	bal, err = e.accounts.GetBalances(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal.AvailableBalance)
	assert.Equal(t, int64(150), bal.TotalBalance)
}

package service

import (
	"context"
	"testing"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/lock"
	"carbon-ledger-backend/internal/repository/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// engine wires every service over one memory store with a fixed clock.
type engine struct {
	store      *memory.Store
	ledger     *ledgerStore
	accounts   *accountService
	market     *marketplaceService
	compliance *complianceService
	matching   MatchingService
	clock      time.Time
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := memory.NewStore()
	locker := lock.NewKeyedLocker(2 * time.Second)

	e := &engine{store: store, clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	now := func() time.Time { return e.clock }

	e.ledger = NewLedgerStore(store.AccountRepository, store.LedgerRepository, locker, nil, nil).(*ledgerStore)
	e.ledger.now = now
	e.accounts = NewAccountService(store.UserRepository, store.AccountRepository, store.RetirementRepository, store.IssuanceRepository, store.LedgerRepository, e.ledger, nil).(*accountService)
	e.accounts.now = now
	marketOpts := MarketplaceOptions{
		PlatformFeePercent: decimal.NewFromInt(2),
		GSTPercent:         decimal.NewFromInt(18),
	}
	e.market = NewMarketplaceService(store.UserRepository, store.ListingRepository, store.TransactionRepository,
		store.AccountRepository, store.LedgerRepository, e.ledger, e.accounts, locker, nil, marketOpts).(*marketplaceService)
	e.market.now = now
	complianceOpts := ComplianceOptions{
		PenaltyRatePerCredit: decimal.NewFromInt(1000),
		WarningWindow:        30 * 24 * time.Hour,
		DefaultDeadline:      365 * 24 * time.Hour,
	}
	e.compliance = NewComplianceService(store.UserRepository, store.ComplianceRepository, store.LedgerRepository,
		e.ledger, e.accounts, locker, nil, complianceOpts).(*complianceService)
	e.compliance.now = now
	e.matching = NewMatchingService(store.ListingRepository, WeightedPolicy{Price: 0.35, Vintage: 0.15, Verification: 0.2, Coverage: 0.2, ProjectType: 0.1})
	return e
}

func (e *engine) advance(d time.Duration) { e.clock = e.clock.Add(d) }

func (e *engine) user(t *testing.T, email string, userType domain.UserType) int32 {
	t.Helper()
	u := &domain.User{Email: email, CompanyName: email, UserType: userType}
	require.NoError(t, e.store.UserRepository.Create(context.Background(), u))
	return u.ID
}

// funded creates a seller holding amount issued credits.
func (e *engine) funded(t *testing.T, email string, amount int64) int32 {
	t.Helper()
	id := e.user(t, email, domain.UserTypeSeller)
	_, err := e.accounts.IssueDemoCredits(context.Background(), id, IssueRequest{Amount: amount})
	require.NoError(t, err)
	return id
}

func (e *engine) account(t *testing.T, userID int32) *domain.CreditAccount {
	t.Helper()
	acct, err := e.accounts.EnsureAccount(context.Background(), userID)
	require.NoError(t, err)
	return acct
}

func (e *engine) listing(t *testing.T, sellerID int32, quantity int64, price string) *domain.Listing {
	t.Helper()
	l, err := e.market.CreateListing(context.Background(), sellerID, ListingInput{
		Quantity:           quantity,
		PricePerCredit:     decimal.RequireFromString(price),
		Vintage:            2023,
		ProjectType:        "solar",
		VerificationStatus: domain.VerificationStatusVerified,
	})
	require.NoError(t, err)
	return l
}

// requireConsistent replays every account and checks it against storage.
func (e *engine) requireConsistent(t *testing.T) {
	t.Helper()
	ids, err := e.store.AccountRepository.ListIDs(context.Background())
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, e.ledger.Verify(context.Background(), id), "account %d", id)
	}
}

func (e *engine) totalCredits(t *testing.T) int64 {
	t.Helper()
	ids, err := e.store.AccountRepository.ListIDs(context.Background())
	require.NoError(t, err)
	var total int64
	for _, id := range ids {
		a, err := e.store.AccountRepository.GetByID(context.Background(), id)
		require.NoError(t, err)
		total += a.TotalBalance
	}
	return total
}

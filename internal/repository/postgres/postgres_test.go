package postgres

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, 2*time.Second), mock
}

func TestLedgerRepository_Commit(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		store, mock := newMock(t)

		seller := domain.CreditAccount{ID: 1, UserID: 10, TotalBalance: 100, AvailableBalance: 40, LockedBalance: 60, Version: 3}
		entry := &domain.LedgerEntry{AccountID: 1, Type: domain.EntryTypeLock, Amount: -60, AvailableDelta: -60, LockedDelta: 60,
			BalanceBefore: 100, BalanceAfter: 100, ReferenceType: domain.ReferenceTypeTransaction, ReferenceID: "t-1"}
		txn := &domain.Transaction{ID: "t-1", TransactionNumber: "TXN-1", BuyerID: 20, SellerID: 10, ListingID: 5, Quantity: 60,
			PricePerCredit: decimal.NewFromInt(10), TotalAmount: decimal.NewFromInt(600), PlatformFee: decimal.NewFromInt(12),
			GSTAmount: decimal.RequireFromString("2.16"), Status: domain.TransactionStatusPaymentPending}

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout = '2000ms'").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("UPDATE credit_accounts SET").
			WithArgs(int64(100), int64(40), int64(60), int64(0), sqlmock.AnyArg(), int32(1), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs(int32(1), domain.EntryTypeLock, int64(-60), int64(-60), int64(60), int64(0), int64(100), int64(100),
				domain.ReferenceTypeTransaction, "t-1", "", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
		mock.ExpectExec("UPDATE listings SET available_quantity").
			WithArgs(int64(-60), sqlmock.AnyArg(), int32(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		cs := &repository.Changeset{
			Accounts:    []domain.CreditAccount{seller},
			Entries:     []*domain.LedgerEntry{entry},
			Listing:     &repository.ListingChange{ListingID: 5, Delta: -60},
			Transaction: &repository.TransactionChange{Transaction: txn, Create: true},
		}
		err := store.LedgerRepository.Commit(ctx, cs)
		require.NoError(t, err)
		assert.Equal(t, int64(77), entry.ID)
		assert.Equal(t, int64(4), cs.Accounts[0].Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Stale version rolls back with busy", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("UPDATE credit_accounts SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		acct := domain.CreditAccount{ID: 1, TotalBalance: 5, AvailableBalance: 5, Version: 1}
		err := store.LedgerRepository.Commit(ctx, &repository.Changeset{Accounts: []domain.CreditAccount{acct}})
		assert.True(t, errors.Is(err, domain.ErrBusy))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Listing guard rejects oversell", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("UPDATE listings SET available_quantity").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT closed_on IS NOT NULL FROM listings WHERE id = $1")).
			WithArgs(int32(5)).
			WillReturnRows(sqlmock.NewRows([]string{"closed"}).AddRow(false))
		mock.ExpectRollback()

		err := store.LedgerRepository.Commit(ctx, &repository.Changeset{Listing: &repository.ListingChange{ListingID: 5, Delta: -150}})
		assert.True(t, errors.Is(err, domain.ErrInsufficientListingQuantity))
		assert.Equal(t, "quantity", domain.FieldOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Closed listing cannot be drawn down", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("AND ($1 >= 0 OR closed_on IS NULL)")).
			WithArgs(int64(-10), sqlmock.AnyArg(), int32(5)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT closed_on IS NOT NULL FROM listings WHERE id = $1")).
			WithArgs(int32(5)).
			WillReturnRows(sqlmock.NewRows([]string{"closed"}).AddRow(true))
		mock.ExpectRollback()

		err := store.LedgerRepository.Commit(ctx, &repository.Changeset{Listing: &repository.ListingChange{ListingID: 5, Delta: -10}})
		assert.True(t, errors.Is(err, domain.ErrInvalidState))
		assert.Equal(t, "listing_id", domain.FieldOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Lock timeout maps to busy", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("UPDATE credit_accounts SET").
			WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
		mock.ExpectRollback()

		acct := domain.CreditAccount{ID: 1, TotalBalance: 5, AvailableBalance: 5, Version: 1}
		err := store.LedgerRepository.Commit(ctx, &repository.Changeset{Accounts: []domain.CreditAccount{acct}})
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("Unbalanced account is refused before any write", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		acct := domain.CreditAccount{ID: 1, TotalBalance: 10, AvailableBalance: 5}
		err := store.LedgerRepository.Commit(ctx, &repository.Changeset{Accounts: []domain.CreditAccount{acct}})
		assert.True(t, errors.Is(err, domain.ErrInvalidState))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	store, mock := newMock(t)
	now := time.Now().UTC()
	txn := &domain.Transaction{ID: "t-9", Status: domain.TransactionStatusCancelled, CancelledOn: &now, UpdatedOn: now}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions SET status = $1")).
		WithArgs(domain.TransactionStatusCancelled, "", nil, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), "t-9",
			domain.TransactionStatusPaymentPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.TransactionRepository.UpdateStatus(ctx, txn, domain.TransactionStatusPaymentPending)
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_GetByUserID(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		store, mock := newMock(t)
		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM credit_accounts WHERE user_id = \\$1").
			WithArgs(int32(10)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "total_balance", "available_balance", "locked_balance",
				"retired_balance", "version", "created_on", "updated_on"}).
				AddRow(1, 10, 100, 40, 50, 10, 7, now, now))

		acct, err := store.AccountRepository.GetByUserID(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(100), acct.TotalBalance)
		assert.Equal(t, int64(7), acct.Version)
		assert.True(t, acct.Balanced())
	})

	t.Run("Not found", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectQuery("SELECT (.+) FROM credit_accounts").WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.AccountRepository.GetByUserID(ctx, 99)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestComplianceRepository_Create(t *testing.T) {
	ctx := context.Background()
	store, mock := newMock(t)

	t.Run("Duplicate period", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO compliance_records").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "compliance_records_user_id_compliance_period_key"})

		err := store.ComplianceRepository.Create(ctx, &domain.ComplianceRecord{UserID: 1, CompliancePeriod: "2025-26"})
		assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
	})

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO compliance_records").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

		rec := &domain.ComplianceRecord{UserID: 1, CompliancePeriod: "2026-27", Status: domain.ComplianceStatusPending}
		require.NoError(t, store.ComplianceRepository.Create(ctx, rec))
		assert.Equal(t, int32(3), rec.ID)
		assert.Equal(t, int64(1), rec.Version)
	})
}

func TestLedgerRepository_SumByReference(t *testing.T) {
	ctx := context.Background()
	store, mock := newMock(t)
	ref := domain.Reference{Type: domain.ReferenceTypeCompliance, ID: "4"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(amount), 0) FROM ledger_entries")).
		WithArgs(domain.ReferenceTypeCompliance, "4", domain.EntryTypeSurrender).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(-250))

	sum, err := store.LedgerRepository.SumByReference(ctx, ref, domain.EntryTypeSurrender)
	require.NoError(t, err)
	assert.Equal(t, int64(-250), sum)
}

func TestListingRepository_CloseTracesQuery(t *testing.T) {
	var buf bytes.Buffer
	logger.InitializeWithWriter("debug", "json", &buf)
	defer logger.Initialize("info", "text")

	ctx := context.Background()
	store, mock := newMock(t)
	closedOn := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE listings SET closed_on").
		WithArgs(closedOn, int32(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.ListingRepository.Close(ctx, 5, closedOn))
	assert.Contains(t, buf.String(), `"operation":"UPDATE","query":"listings","listingID":5`)
	assert.Contains(t, buf.String(), `"rows_affected":1`)

	buf.Reset()
	mock.ExpectExec("UPDATE listings SET closed_on").
		WithArgs(closedOn, int32(6)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.ListingRepository.Close(ctx, 6, closedOn)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, buf.String(), `"rows_affected":0`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range Migrations() {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

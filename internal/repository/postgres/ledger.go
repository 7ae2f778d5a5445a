package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/repository"
)

const entryColumns = `id, account_id, entry_type, amount, available_delta, locked_delta, retired_delta,
	balance_before, balance_after, reference_type, reference_id, description, created_on`

type ledgerRepository struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewLedgerRepository(db *sql.DB, lockTimeout time.Duration) repository.LedgerRepository {
	return &ledgerRepository{db: db, lockTimeout: lockTimeout}
}

// Commit writes the changeset in one database transaction. Balance rows are
// guarded by their version, the listing by its quantity range and the trade
// by its expected status, so a concurrent writer in another process makes
// the whole commit roll back instead of half-applying.
func (r *ledgerRepository) Commit(ctx context.Context, cs *repository.Changeset) (err error) {
	logger.EnterMethod("ledgerRepository.Commit", "accounts", cs.AccountIDs(), "entries", len(cs.Entries))
	defer func() {
		if err != nil {
			logger.ExitMethodWithError("ledgerRepository.Commit", err, "accounts", cs.AccountIDs())
			return
		}
		logger.ExitMethod("ledgerRepository.Commit", "accounts", cs.AccountIDs())
	}()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err, "begin commit")
	}
	defer tx.Rollback()

	if r.lockTimeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
			return mapError(err, "set lock timeout")
		}
	}

	now := time.Now().UTC()
	for _, a := range cs.Accounts {
		if !a.Balanced() {
			return fmt.Errorf("account %d balances do not add up: %w", a.ID, domain.ErrInvalidState)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE credit_accounts SET total_balance = $1, available_balance = $2, locked_balance = $3,
			 retired_balance = $4, version = version + 1, updated_on = $5 WHERE id = $6 AND version = $7`,
			a.TotalBalance, a.AvailableBalance, a.LockedBalance, a.RetiredBalance, now, a.ID, a.Version)
		if err != nil {
			return mapError(err, "update account")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("account %d changed concurrently: %w", a.ID, domain.ErrBusy)
		}
	}

	for _, e := range cs.Entries {
		if e.CreatedOn.IsZero() {
			e.CreatedOn = now
		}
		err := tx.QueryRowContext(ctx,
			`INSERT INTO ledger_entries (account_id, entry_type, amount, available_delta, locked_delta, retired_delta,
			 balance_before, balance_after, reference_type, reference_id, description, created_on)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
			e.AccountID, e.Type, e.Amount, e.AvailableDelta, e.LockedDelta, e.RetiredDelta,
			e.BalanceBefore, e.BalanceAfter, e.ReferenceType, e.ReferenceID, e.Description, e.CreatedOn).Scan(&e.ID)
		if err != nil {
			return mapError(err, "insert ledger entry")
		}
	}

	if lc := cs.Listing; lc != nil {
		res, err := tx.ExecContext(ctx,
			`UPDATE listings SET available_quantity = available_quantity + $1,
			 is_active = (available_quantity + $1 > 0 AND closed_on IS NULL), updated_on = $2
			 WHERE id = $3 AND available_quantity + $1 BETWEEN 0 AND quantity AND ($1 >= 0 OR closed_on IS NULL)`,
			lc.Delta, now, lc.ListingID)
		if err != nil {
			return mapError(err, "update listing quantity")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return listingChangeRejected(ctx, tx, lc)
		}
	}

	if tc := cs.Transaction; tc != nil {
		if tc.Create {
			err = insertTransaction(ctx, tx, tc.Transaction)
		} else {
			err = updateTransactionStatus(ctx, tx, tc.Transaction, tc.ExpectedStatus)
		}
		if err != nil {
			return err
		}
	}

	if ret := cs.Retirement; ret != nil {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO retirements (id, retirement_number, user_id, account_id, amount, purpose, compliance_period,
			 compliance_record_id, beneficiary, status, retired_on)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			ret.ID, ret.RetirementNumber, ret.UserID, ret.AccountID, ret.Amount, ret.Purpose, ret.CompliancePeriod,
			ret.ComplianceRecordID, ret.Beneficiary, ret.Status, ret.RetiredOn)
		if err != nil {
			return mapError(err, "insert retirement")
		}
	}

	if iss := cs.Issuance; iss != nil {
		if err := insertIssuance(ctx, tx, iss); err != nil {
			return err
		}
	}

	if rec := cs.Compliance; rec != nil {
		if err := updateComplianceRecord(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return mapError(err, "commit")
	}

	for i := range cs.Accounts {
		cs.Accounts[i].Version++
		cs.Accounts[i].UpdatedOn = now
	}
	if cs.Compliance != nil {
		cs.Compliance.Version++
	}
	return nil
}

func scanEntry(s scanner) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := s.Scan(&e.ID, &e.AccountID, &e.Type, &e.Amount, &e.AvailableDelta, &e.LockedDelta, &e.RetiredDelta,
		&e.BalanceBefore, &e.BalanceAfter, &e.ReferenceType, &e.ReferenceID, &e.Description, &e.CreatedOn)
	return e, err
}

func (r *ledgerRepository) ListEntries(ctx context.Context, accountID int32, page, pageSize int32) ([]domain.LedgerEntry, int32, error) {
	logger.DatabaseCall("SELECT", "ledger_entries", "accountID", accountID, "page", page)
	var count int32
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&count); err != nil {
		logger.DatabaseResult("SELECT", 0, err, "accountID", accountID)
		return nil, 0, mapError(err, "count ledger entries")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		accountID, limit(pageSize), offset(page, pageSize))
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err, "accountID", accountID)
		return nil, 0, mapError(err, "list ledger entries")
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	logger.DatabaseResult("SELECT", int64(len(entries)), rows.Err(), "total", count)
	return entries, count, rows.Err()
}

func (r *ledgerRepository) AllEntries(ctx context.Context, accountID int32) ([]domain.LedgerEntry, error) {
	logger.DatabaseCall("SELECT", "ledger_entries", "accountID", accountID)
	rows, err := r.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY id`, accountID)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err, "accountID", accountID)
		return nil, mapError(err, "replay ledger entries")
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	logger.DatabaseResult("SELECT", int64(len(entries)), rows.Err(), "accountID", accountID)
	return entries, rows.Err()
}

func (r *ledgerRepository) HasEntries(ctx context.Context, ref domain.Reference, entryType domain.EntryType) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE reference_type = $1 AND reference_id = $2 AND entry_type = $3)`,
		ref.Type, ref.ID, entryType).Scan(&exists)
	return exists, mapError(err, "check ledger reference")
}

func (r *ledgerRepository) SumByReference(ctx context.Context, ref domain.Reference, entryType domain.EntryType) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE reference_type = $1 AND reference_id = $2 AND entry_type = $3`,
		ref.Type, ref.ID, entryType).Scan(&sum)
	return sum, mapError(err, "sum ledger reference")
}

// listingChangeRejected explains why the guarded listing update matched no row.
func listingChangeRejected(ctx context.Context, tx *sql.Tx, lc *repository.ListingChange) error {
	var closed bool
	err := tx.QueryRowContext(ctx, `SELECT closed_on IS NOT NULL FROM listings WHERE id = $1`, lc.ListingID).Scan(&closed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("listing %d: %w", lc.ListingID, domain.ErrNotFound)
	case err != nil:
		return mapError(err, "read listing")
	case closed && lc.Delta < 0:
		return domain.NewFieldError(domain.ErrInvalidState, "listing_id", "listing %d is closed", lc.ListingID)
	}
	return domain.NewFieldError(domain.ErrInsufficientListingQuantity, "quantity",
		"listing %d cannot change by %d", lc.ListingID, lc.Delta)
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/repository"

	"github.com/lib/pq"
)

const transactionColumns = `id, transaction_number, buyer_id, seller_id, listing_id, quantity, price_per_credit,
	total_amount, platform_fee, gst_amount, status, failure_reason, created_on, payment_completed_on,
	credits_transferred_on, completed_on, cancelled_on, updated_on`

type transactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) repository.TransactionRepository {
	return &transactionRepository{db: db}
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := s.Scan(&t.ID, &t.TransactionNumber, &t.BuyerID, &t.SellerID, &t.ListingID, &t.Quantity, &t.PricePerCredit,
		&t.TotalAmount, &t.PlatformFee, &t.GSTAmount, &t.Status, &t.FailureReason, &t.CreatedOn, &t.PaymentCompletedOn,
		&t.CreditsTransferredOn, &t.CompletedOn, &t.CancelledOn, &t.UpdatedOn)
	return t, err
}

func insertTransaction(ctx context.Context, db execer, t *domain.Transaction) error {
	logger.DatabaseCall("INSERT", "transactions", "buyerID", t.BuyerID, "listingID", t.ListingID)
	_, err := db.ExecContext(ctx,
		`INSERT INTO transactions (id, transaction_number, buyer_id, seller_id, listing_id, quantity, price_per_credit,
		 total_amount, platform_fee, gst_amount, status, failure_reason, created_on, updated_on)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.TransactionNumber, t.BuyerID, t.SellerID, t.ListingID, t.Quantity, t.PricePerCredit,
		t.TotalAmount, t.PlatformFee, t.GSTAmount, t.Status, t.FailureReason, t.CreatedOn, t.UpdatedOn)
	logger.DatabaseResult("INSERT", 1, err, "transactionID", t.ID)
	return mapError(err, "insert transaction")
}

// updateTransactionStatus is a compare-and-swap on status; losing the race is ErrInvalidStateTransition.
func updateTransactionStatus(ctx context.Context, db execer, t *domain.Transaction, expected domain.TransactionStatus) error {
	logger.DatabaseCall("UPDATE", "transactions", "transactionID", t.ID, "from", expected, "to", t.Status)
	res, err := db.ExecContext(ctx,
		`UPDATE transactions SET status = $1, failure_reason = $2, payment_completed_on = $3, credits_transferred_on = $4,
		 completed_on = $5, cancelled_on = $6, updated_on = $7 WHERE id = $8 AND status = $9`,
		t.Status, t.FailureReason, t.PaymentCompletedOn, t.CreditsTransferredOn, t.CompletedOn, t.CancelledOn,
		t.UpdatedOn, t.ID, expected)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "transactionID", t.ID)
		return mapError(err, "update transaction status")
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("UPDATE", n, nil, "transactionID", t.ID)
	if n == 0 {
		return domain.NewFieldError(domain.ErrInvalidStateTransition, "status",
			"transaction %s is no longer %s", t.ID, expected)
	}
	return nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get transaction")
	}
	return t, nil
}

func (r *transactionRepository) List(ctx context.Context, f repository.TransactionFilter) ([]domain.Transaction, int32, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	switch f.Role {
	case repository.RoleBuyer:
		add("buyer_id = $%d", f.UserID)
	case repository.RoleSeller:
		add("seller_id = $%d", f.UserID)
	default:
		if f.UserID != 0 {
			args = append(args, f.UserID)
			where = append(where, fmt.Sprintf("(buyer_id = $%d OR seller_id = $%d)", len(args), len(args)))
		}
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	logger.DatabaseCall("SELECT", "transactions", "filter", clause)
	var count int32
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM transactions`+clause, args...).Scan(&count); err != nil {
		logger.DatabaseResult("SELECT", 0, err, "filter", clause)
		return nil, 0, mapError(err, "count transactions")
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions%s ORDER BY created_on DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, clause, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, limit(f.PageSize), offset(f.Page, f.PageSize))...)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err, "filter", clause)
		return nil, 0, mapError(err, "list transactions")
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	logger.DatabaseResult("SELECT", int64(len(out)), rows.Err(), "total", count)
	return out, count, rows.Err()
}

func (r *transactionRepository) ListByStatus(ctx context.Context, statuses []domain.TransactionStatus, updatedBefore time.Time) ([]domain.Transaction, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	logger.DatabaseCall("SELECT", "transactions", "statuses", names, "updatedBefore", updatedBefore)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE status = ANY($1) AND updated_on < $2 ORDER BY updated_on`,
		pq.Array(names), updatedBefore)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err, "statuses", names)
		return nil, mapError(err, "list transactions by status")
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	logger.DatabaseResult("SELECT", int64(len(out)), rows.Err(), "statuses", names)
	return out, rows.Err()
}

func (r *transactionRepository) ListCompleted(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	logger.DatabaseCall("SELECT", "transactions", "status", domain.TransactionStatusCompleted, "since", since)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE status = $1 AND completed_on >= $2 ORDER BY completed_on`,
		domain.TransactionStatusCompleted, since)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err, "since", since)
		return nil, mapError(err, "list completed transactions")
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	logger.DatabaseResult("SELECT", int64(len(out)), rows.Err(), "since", since)
	return out, rows.Err()
}

func (r *transactionRepository) UpdateStatus(ctx context.Context, t *domain.Transaction, expected domain.TransactionStatus) error {
	return updateTransactionStatus(ctx, r.db, t, expected)
}

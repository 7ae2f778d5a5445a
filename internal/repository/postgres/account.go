package postgres

import (
	"context"
	"database/sql"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/repository"
)

const accountColumns = `id, user_id, total_balance, available_balance, locked_balance, retired_balance, version, created_on, updated_on`

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) repository.AccountRepository {
	return &accountRepository{db: db}
}

func scanAccount(s scanner) (*domain.CreditAccount, error) {
	a := &domain.CreditAccount{}
	err := s.Scan(&a.ID, &a.UserID, &a.TotalBalance, &a.AvailableBalance, &a.LockedBalance, &a.RetiredBalance, &a.Version, &a.CreatedOn, &a.UpdatedOn)
	return a, err
}

func (r *accountRepository) Create(ctx context.Context, a *domain.CreditAccount) error {
	now := time.Now().UTC()
	query := `INSERT INTO credit_accounts (user_id, created_on, updated_on) VALUES ($1, $2, $3) RETURNING id`
	logger.DatabaseCall("INSERT", "credit_accounts", "userID", a.UserID)
	err := r.db.QueryRowContext(ctx, query, a.UserID, now, now).Scan(&a.ID)
	logger.DatabaseResult("INSERT", 1, err, "accountID", a.ID)
	if err != nil {
		return mapError(err, "create account")
	}
	*a = domain.CreditAccount{ID: a.ID, UserID: a.UserID, CreatedOn: now, UpdatedOn: now}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int32) (*domain.CreditAccount, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get account")
	}
	return a, nil
}

func (r *accountRepository) GetByUserID(ctx context.Context, userID int32) (*domain.CreditAccount, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1`, userID))
	if err != nil {
		return nil, mapError(err, "get account by user")
	}
	return a, nil
}

func (r *accountRepository) ListIDs(ctx context.Context) ([]int32, error) {
	logger.DatabaseCall("SELECT", "credit_accounts")
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM credit_accounts ORDER BY id`)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err)
		return nil, mapError(err, "list accounts")
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	logger.DatabaseResult("SELECT", int64(len(ids)), rows.Err())
	return ids, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/repository"
)

const retirementColumns = `id, retirement_number, user_id, account_id, amount, purpose, compliance_period,
	compliance_record_id, beneficiary, status, retired_on`

type retirementRepository struct {
	db *sql.DB
}

func NewRetirementRepository(db *sql.DB) repository.RetirementRepository {
	return &retirementRepository{db: db}
}

func scanRetirement(s scanner) (*domain.Retirement, error) {
	r := &domain.Retirement{}
	err := s.Scan(&r.ID, &r.RetirementNumber, &r.UserID, &r.AccountID, &r.Amount, &r.Purpose, &r.CompliancePeriod,
		&r.ComplianceRecordID, &r.Beneficiary, &r.Status, &r.RetiredOn)
	return r, err
}

func (r *retirementRepository) GetByID(ctx context.Context, id string) (*domain.Retirement, error) {
	ret, err := scanRetirement(r.db.QueryRowContext(ctx, `SELECT `+retirementColumns+` FROM retirements WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get retirement")
	}
	return ret, nil
}

func (r *retirementRepository) ListByUser(ctx context.Context, userID int32) ([]domain.Retirement, error) {
	logger.DatabaseCall("SELECT", "retirements", "userID", userID)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+retirementColumns+` FROM retirements WHERE user_id = $1 ORDER BY retired_on DESC`, userID)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err, "userID", userID)
		return nil, mapError(err, "list retirements")
	}
	defer rows.Close()

	var out []domain.Retirement
	for rows.Next() {
		ret, err := scanRetirement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ret)
	}
	logger.DatabaseResult("SELECT", int64(len(out)), rows.Err(), "userID", userID)
	return out, rows.Err()
}

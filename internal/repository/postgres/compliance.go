package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/repository"
)

const complianceColumns = `id, user_id, compliance_period, sector, target_intensity, baseline_intensity, actual_emissions,
	actual_production, actual_intensity, credits_required, credits_earned, credits_surrendered, credits_shortfall,
	status, penalty_amount, penalty_assessed_on, deadline, submitted_on, verified_on, version, created_on, updated_on`

type complianceRepository struct {
	db *sql.DB
}

func NewComplianceRepository(db *sql.DB) repository.ComplianceRepository {
	return &complianceRepository{db: db}
}

func scanCompliance(s scanner) (*domain.ComplianceRecord, error) {
	c := &domain.ComplianceRecord{}
	err := s.Scan(&c.ID, &c.UserID, &c.CompliancePeriod, &c.Sector, &c.TargetIntensity, &c.BaselineIntensity,
		&c.ActualEmissions, &c.ActualProduction, &c.ActualIntensity, &c.CreditsRequired, &c.CreditsEarned,
		&c.CreditsSurrendered, &c.CreditsShortfall, &c.Status, &c.PenaltyAmount, &c.PenaltyAssessedOn, &c.Deadline,
		&c.SubmittedOn, &c.VerifiedOn, &c.Version, &c.CreatedOn, &c.UpdatedOn)
	return c, err
}

func (r *complianceRepository) Create(ctx context.Context, c *domain.ComplianceRecord) error {
	c.Version = 1
	c.UpdatedOn = c.CreatedOn
	query := `INSERT INTO compliance_records (user_id, compliance_period, sector, target_intensity, baseline_intensity,
	          status, penalty_amount, deadline, version, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`
	logger.DatabaseCall("INSERT", "compliance_records", "userID", c.UserID, "period", c.CompliancePeriod)
	err := r.db.QueryRowContext(ctx, query, c.UserID, c.CompliancePeriod, c.Sector, c.TargetIntensity, c.BaselineIntensity,
		c.Status, c.PenaltyAmount, c.Deadline, c.Version, c.CreatedOn, c.UpdatedOn).Scan(&c.ID)
	logger.DatabaseResult("INSERT", 1, err, "recordID", c.ID)
	return mapError(err, "create compliance record")
}

func (r *complianceRepository) GetByID(ctx context.Context, id int32) (*domain.ComplianceRecord, error) {
	c, err := scanCompliance(r.db.QueryRowContext(ctx, `SELECT `+complianceColumns+` FROM compliance_records WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get compliance record")
	}
	return c, nil
}

func (r *complianceRepository) GetByUserAndPeriod(ctx context.Context, userID int32, period string) (*domain.ComplianceRecord, error) {
	c, err := scanCompliance(r.db.QueryRowContext(ctx,
		`SELECT `+complianceColumns+` FROM compliance_records WHERE user_id = $1 AND compliance_period = $2`, userID, period))
	if err != nil {
		return nil, mapError(err, "get compliance record by period")
	}
	return c, nil
}

func (r *complianceRepository) ListByUser(ctx context.Context, userID int32) ([]domain.ComplianceRecord, error) {
	return r.list(ctx, `SELECT `+complianceColumns+` FROM compliance_records WHERE user_id = $1 ORDER BY id`, userID)
}

func (r *complianceRepository) ListUnverified(ctx context.Context) ([]domain.ComplianceRecord, error) {
	return r.list(ctx, `SELECT `+complianceColumns+` FROM compliance_records WHERE verified_on IS NULL ORDER BY id`)
}

func (r *complianceRepository) list(ctx context.Context, query string, args ...any) ([]domain.ComplianceRecord, error) {
	logger.DatabaseCall("SELECT", "compliance_records", "args", args)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err)
		return nil, mapError(err, "list compliance records")
	}
	defer rows.Close()

	var out []domain.ComplianceRecord
	for rows.Next() {
		c, err := scanCompliance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	logger.DatabaseResult("SELECT", int64(len(out)), rows.Err())
	return out, rows.Err()
}

func (r *complianceRepository) Update(ctx context.Context, c *domain.ComplianceRecord) error {
	if err := updateComplianceRecord(ctx, r.db, c); err != nil {
		return err
	}
	c.Version++
	return nil
}

// updateComplianceRecord writes c if nobody has bumped its version since it was read.
// The caller advances c.Version once the surrounding transaction is committed.
func updateComplianceRecord(ctx context.Context, db execer, c *domain.ComplianceRecord) error {
	logger.DatabaseCall("UPDATE", "compliance_records", "recordID", c.ID, "version", c.Version)
	res, err := db.ExecContext(ctx,
		`UPDATE compliance_records SET target_intensity = $1, baseline_intensity = $2, actual_emissions = $3,
		 actual_production = $4, actual_intensity = $5, credits_required = $6, credits_earned = $7,
		 credits_surrendered = $8, credits_shortfall = $9, status = $10, penalty_amount = $11,
		 penalty_assessed_on = $12, deadline = $13, submitted_on = $14, verified_on = $15,
		 version = version + 1, updated_on = $16
		 WHERE id = $17 AND version = $18`,
		c.TargetIntensity, c.BaselineIntensity, c.ActualEmissions, c.ActualProduction, c.ActualIntensity,
		c.CreditsRequired, c.CreditsEarned, c.CreditsSurrendered, c.CreditsShortfall, c.Status, c.PenaltyAmount,
		c.PenaltyAssessedOn, c.Deadline, c.SubmittedOn, c.VerifiedOn, c.UpdatedOn, c.ID, c.Version)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "recordID", c.ID)
		return mapError(err, "update compliance record")
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("UPDATE", n, nil, "recordID", c.ID)
	if n == 0 {
		return fmt.Errorf("compliance record %d changed concurrently: %w", c.ID, domain.ErrBusy)
	}
	return nil
}

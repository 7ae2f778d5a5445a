package postgres

import (
	"context"
	"database/sql"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/repository"
)

const issuanceColumns = `id, issuance_number, user_id, account_id, amount, issuer, project_type, vintage,
	methodology, status, issued_on`

type issuanceRepository struct {
	db *sql.DB
}

func NewIssuanceRepository(db *sql.DB) repository.IssuanceRepository {
	return &issuanceRepository{db: db}
}

func insertIssuance(ctx context.Context, db execer, iss *domain.Issuance) error {
	logger.DatabaseCall("INSERT", "issuances", "userID", iss.UserID, "amount", iss.Amount)
	_, err := db.ExecContext(ctx,
		`INSERT INTO issuances (`+issuanceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		iss.ID, iss.IssuanceNumber, iss.UserID, iss.AccountID, iss.Amount, iss.Issuer, iss.ProjectType, iss.Vintage,
		iss.Methodology, iss.Status, iss.IssuedOn)
	logger.DatabaseResult("INSERT", 1, err, "issuanceID", iss.ID)
	return mapError(err, "insert issuance")
}

func (r *issuanceRepository) ListIssuances(ctx context.Context, userID int32) ([]domain.Issuance, error) {
	logger.DatabaseCall("SELECT", "issuances", "userID", userID)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+issuanceColumns+` FROM issuances WHERE user_id = $1 ORDER BY issued_on DESC`, userID)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err, "userID", userID)
		return nil, mapError(err, "list issuances")
	}
	defer rows.Close()

	var out []domain.Issuance
	for rows.Next() {
		var iss domain.Issuance
		if err := rows.Scan(&iss.ID, &iss.IssuanceNumber, &iss.UserID, &iss.AccountID, &iss.Amount, &iss.Issuer,
			&iss.ProjectType, &iss.Vintage, &iss.Methodology, &iss.Status, &iss.IssuedOn); err != nil {
			return nil, err
		}
		out = append(out, iss)
	}
	logger.DatabaseResult("SELECT", int64(len(out)), rows.Err(), "userID", userID)
	return out, rows.Err()
}

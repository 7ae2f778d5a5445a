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
)

const listingColumns = `id, seller_id, quantity, available_quantity, price_per_credit, vintage, project_type,
	verification_status, description, is_active, closed_on, created_on, updated_on`

type listingRepository struct {
	db *sql.DB
}

func NewListingRepository(db *sql.DB) repository.ListingRepository {
	return &listingRepository{db: db}
}

func scanListing(s scanner) (*domain.Listing, error) {
	l := &domain.Listing{}
	err := s.Scan(&l.ID, &l.SellerID, &l.Quantity, &l.AvailableQuantity, &l.PricePerCredit, &l.Vintage, &l.ProjectType,
		&l.VerificationStatus, &l.Description, &l.IsActive, &l.ClosedOn, &l.CreatedOn, &l.UpdatedOn)
	return l, err
}

func (r *listingRepository) Create(ctx context.Context, l *domain.Listing) error {
	now := time.Now().UTC()
	l.CreatedOn, l.UpdatedOn = now, now
	query := `INSERT INTO listings (seller_id, quantity, available_quantity, price_per_credit, vintage, project_type,
	          verification_status, description, is_active, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`
	logger.DatabaseCall("INSERT", "listings", "sellerID", l.SellerID, "quantity", l.Quantity)
	err := r.db.QueryRowContext(ctx, query, l.SellerID, l.Quantity, l.AvailableQuantity, l.PricePerCredit, l.Vintage,
		l.ProjectType, l.VerificationStatus, l.Description, l.IsActive, l.CreatedOn, l.UpdatedOn).Scan(&l.ID)
	logger.DatabaseResult("INSERT", 1, err, "listingID", l.ID)
	return mapError(err, "create listing")
}

func (r *listingRepository) GetByID(ctx context.Context, id int32) (*domain.Listing, error) {
	l, err := scanListing(r.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get listing")
	}
	return l, nil
}

func (r *listingRepository) List(ctx context.Context, f repository.ListingFilter) ([]domain.Listing, int32, error) {
	var (
		where []string
		args  []any
	)
	if f.SellerID != 0 {
		args = append(args, f.SellerID)
		where = append(where, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if f.ProjectType != "" {
		args = append(args, f.ProjectType)
		where = append(where, fmt.Sprintf("project_type = $%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	logger.DatabaseCall("SELECT", "listings", "filter", clause)
	var count int32
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM listings`+clause, args...).Scan(&count); err != nil {
		logger.DatabaseResult("SELECT", 0, err, "filter", clause)
		return nil, 0, mapError(err, "count listings")
	}

	query := fmt.Sprintf(`SELECT %s FROM listings%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		listingColumns, clause, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, limit(f.PageSize), offset(f.Page, f.PageSize))...)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err, "filter", clause)
		return nil, 0, mapError(err, "list listings")
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *l)
	}
	logger.DatabaseResult("SELECT", int64(len(out)), rows.Err(), "total", count)
	return out, count, rows.Err()
}

func (r *listingRepository) Close(ctx context.Context, id int32, closedOn time.Time) error {
	logger.DatabaseCall("UPDATE", "listings", "listingID", id)
	res, err := r.db.ExecContext(ctx,
		`UPDATE listings SET closed_on = $1, is_active = FALSE, updated_on = $1 WHERE id = $2`, closedOn, id)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "listingID", id)
		return mapError(err, "close listing")
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("UPDATE", n, nil, "listingID", id)
	if n == 0 {
		return fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

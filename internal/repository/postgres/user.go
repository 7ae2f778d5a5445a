package postgres

import (
	"context"
	"database/sql"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/repository"
)

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, u *domain.User) error {
	u.CreatedOn = time.Now().UTC()
	logger.DatabaseCall("INSERT", "users", "email", u.Email, "userType", u.UserType)
	if u.ID != 0 {
		// identities synced from the auth provider keep their id
		query := `INSERT INTO users (id, email, company_name, user_type, created_on) VALUES ($1, $2, $3, $4, $5)`
		_, err := r.db.ExecContext(ctx, query, u.ID, u.Email, u.CompanyName, u.UserType, u.CreatedOn)
		logger.DatabaseResult("INSERT", 1, err, "userID", u.ID)
		return mapError(err, "create user")
	}
	query := `INSERT INTO users (email, company_name, user_type, created_on) VALUES ($1, $2, $3, $4) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, u.Email, u.CompanyName, u.UserType, u.CreatedOn).Scan(&u.ID)
	logger.DatabaseResult("INSERT", 1, err, "userID", u.ID)
	return mapError(err, "create user")
}

func (r *userRepository) GetByID(ctx context.Context, id int32) (*domain.User, error) {
	u := &domain.User{}
	query := `SELECT id, email, company_name, user_type, created_on FROM users WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.CompanyName, &u.UserType, &u.CreatedOn)
	if err != nil {
		return nil, mapError(err, "get user")
	}
	return u, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	u := &domain.User{}
	query := `SELECT id, email, company_name, user_type, created_on FROM users WHERE LOWER(email) = LOWER($1)`
	err := r.db.QueryRowContext(ctx, query, email).Scan(&u.ID, &u.Email, &u.CompanyName, &u.UserType, &u.CreatedOn)
	if err != nil {
		return nil, mapError(err, "get user by email")
	}
	return u, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/repository"

	"github.com/lib/pq"
)

type Store struct {
	db *sql.DB
	repository.UserRepository
	repository.AccountRepository
	repository.LedgerRepository
	repository.ListingRepository
	repository.TransactionRepository
	repository.RetirementRepository
	repository.IssuanceRepository
	repository.ComplianceRepository
}

// NewStore wires every repository onto db. lockTimeout bounds how long a
// ledger commit waits on row locks held by other processes.
func NewStore(db *sql.DB, lockTimeout time.Duration) *Store {
	return &Store{
		db:                    db,
		UserRepository:        NewUserRepository(db),
		AccountRepository:     NewAccountRepository(db),
		LedgerRepository:      NewLedgerRepository(db, lockTimeout),
		ListingRepository:     NewListingRepository(db),
		TransactionRepository: NewTransactionRepository(db),
		RetirementRepository:  NewRetirementRepository(db),
		IssuanceRepository:    NewIssuanceRepository(db),
		ComplianceRepository:  NewComplianceRepository(db),
	}
}

func (s *Store) DB() *sql.DB { return s.db }

// postgres SQLSTATE codes the ledger cares about
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// mapError turns driver errors into domain kinds; what wraps what stays visible to errors.Is.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected, codeQueryCanceled:
			return fmt.Errorf("%s: %s: %w", what, pqErr.Message, domain.ErrBusy)
		case codeUniqueViolation:
			return fmt.Errorf("%s: %s: %w", what, pqErr.Constraint, domain.ErrAlreadyExists)
		case codeCheckViolation:
			return fmt.Errorf("%s: %s: %w", what, pqErr.Constraint, domain.ErrInvalidState)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func offset(page, pageSize int32) int32 {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

func limit(pageSize int32) any {
	if pageSize <= 0 {
		return nil // LIMIT NULL means no limit
	}
	return pageSize
}

package repository

import (
	"context"
	"time"

	"carbon-ledger-backend/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int32) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type AccountRepository interface {
	// Create inserts a zero-balance account; ErrAlreadyExists if the user already has one.
	Create(ctx context.Context, account *domain.CreditAccount) error
	GetByID(ctx context.Context, id int32) (*domain.CreditAccount, error)
	GetByUserID(ctx context.Context, userID int32) (*domain.CreditAccount, error)
	ListIDs(ctx context.Context) ([]int32, error)
}

type LedgerRepository interface {
	// Commit applies every part of the changeset atomically or none of it.
	Commit(ctx context.Context, cs *Changeset) error
	ListEntries(ctx context.Context, accountID int32, page, pageSize int32) ([]domain.LedgerEntry, int32, error)
	// AllEntries returns an account's entries in posting order.
	AllEntries(ctx context.Context, accountID int32) ([]domain.LedgerEntry, error)
	HasEntries(ctx context.Context, ref domain.Reference, entryType domain.EntryType) (bool, error)
	SumByReference(ctx context.Context, ref domain.Reference, entryType domain.EntryType) (int64, error)
}

type ListingFilter struct {
	SellerID    int32
	ProjectType string
	ActiveOnly  bool
	Page        int32
	PageSize    int32
}

type ListingRepository interface {
	Create(ctx context.Context, listing *domain.Listing) error
	GetByID(ctx context.Context, id int32) (*domain.Listing, error)
	List(ctx context.Context, filter ListingFilter) ([]domain.Listing, int32, error)
	Close(ctx context.Context, id int32, closedOn time.Time) error
}

type TransactionRole string

const (
	RoleAny    TransactionRole = ""
	RoleBuyer  TransactionRole = "buyer"
	RoleSeller TransactionRole = "seller"
)

type TransactionFilter struct {
	UserID   int32
	Role     TransactionRole
	Status   domain.TransactionStatus
	Page     int32
	PageSize int32
}

type TransactionRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	List(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, int32, error)
	// ListCompleted returns trades completed at or after since, oldest first.
	ListCompleted(ctx context.Context, since time.Time) ([]domain.Transaction, error)
	// ListByStatus returns transactions in one of the statuses last updated before the cutoff.
	ListByStatus(ctx context.Context, statuses []domain.TransactionStatus, updatedBefore time.Time) ([]domain.Transaction, error)
	// UpdateStatus writes txn only if the stored status still equals expected;
	// otherwise ErrInvalidStateTransition.
	UpdateStatus(ctx context.Context, txn *domain.Transaction, expected domain.TransactionStatus) error
}

type RetirementRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Retirement, error)
	ListByUser(ctx context.Context, userID int32) ([]domain.Retirement, error)
}

type IssuanceRepository interface {
	// ListIssuances returns a user's issuances, newest first.
	ListIssuances(ctx context.Context, userID int32) ([]domain.Issuance, error)
}

type ComplianceRepository interface {
	Create(ctx context.Context, record *domain.ComplianceRecord) error
	GetByID(ctx context.Context, id int32) (*domain.ComplianceRecord, error)
	GetByUserAndPeriod(ctx context.Context, userID int32, period string) (*domain.ComplianceRecord, error)
	ListByUser(ctx context.Context, userID int32) ([]domain.ComplianceRecord, error)
	ListUnverified(ctx context.Context) ([]domain.ComplianceRecord, error)
	// Update writes record only if the stored version still equals record.Version,
	// then advances record.Version. A stale version yields ErrBusy.
	Update(ctx context.Context, record *domain.ComplianceRecord) error
}

// Package memory keeps the whole ledger in process memory. It backs the
// "memory" database driver for local runs and the engine's behavioural tests,
// and honours the same atomicity and compare-and-swap rules as postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/repository"
)

type state struct {
	mu sync.RWMutex

	nextUserID       int32
	nextAccountID    int32
	nextEntryID      int64
	nextListingID    int32
	nextComplianceID int32

	users        map[int32]domain.User
	accounts     map[int32]domain.CreditAccount
	entries      []domain.LedgerEntry
	listings     map[int32]domain.Listing
	transactions map[string]domain.Transaction
	retirements  map[string]domain.Retirement
	issuances    map[string]domain.Issuance
	compliance   map[int32]domain.ComplianceRecord

	now func() time.Time
}

type Store struct {
	repository.UserRepository
	repository.AccountRepository
	repository.LedgerRepository
	repository.ListingRepository
	repository.TransactionRepository
	repository.RetirementRepository
	repository.IssuanceRepository
	repository.ComplianceRepository
}

func NewStore() *Store {
	s := &state{
		users:        make(map[int32]domain.User),
		accounts:     make(map[int32]domain.CreditAccount),
		listings:     make(map[int32]domain.Listing),
		transactions: make(map[string]domain.Transaction),
		retirements:  make(map[string]domain.Retirement),
		issuances:    make(map[string]domain.Issuance),
		compliance:   make(map[int32]domain.ComplianceRecord),
		now:          func() time.Time { return time.Now().UTC() },
	}
	return &Store{
		UserRepository:        &userRepository{s},
		AccountRepository:     &accountRepository{s},
		LedgerRepository:      &ledgerRepository{s},
		ListingRepository:     &listingRepository{s},
		TransactionRepository: &transactionRepository{s},
		RetirementRepository:  &retirementRepository{s},
		IssuanceRepository:    &issuanceRepository{s},
		ComplianceRepository:  &complianceRepository{s},
	}
}

type userRepository struct{ s *state }

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("user %s: %w", user.Email, domain.ErrAlreadyExists)
		}
	}
	if user.ID == 0 {
		r.s.nextUserID++
		user.ID = r.s.nextUserID
	} else if _, ok := r.s.users[user.ID]; ok {
		return fmt.Errorf("user %d: %w", user.ID, domain.ErrAlreadyExists)
	} else if user.ID > r.s.nextUserID {
		r.s.nextUserID = user.ID
	}
	user.CreatedOn = r.s.now()
	r.s.users[user.ID] = *user
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id int32) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return &u, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, domain.ErrNotFound)
}

type accountRepository struct{ s *state }

func (r *accountRepository) Create(ctx context.Context, account *domain.CreditAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.UserID == account.UserID {
			return fmt.Errorf("account for user %d: %w", account.UserID, domain.ErrAlreadyExists)
		}
	}
	r.s.nextAccountID++
	now := r.s.now()
	*account = domain.CreditAccount{ID: r.s.nextAccountID, UserID: account.UserID, CreatedOn: now, UpdatedOn: now}
	r.s.accounts[account.ID] = *account
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int32) (*domain.CreditAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, domain.ErrNotFound)
	}
	return &a, nil
}

func (r *accountRepository) GetByUserID(ctx context.Context, userID int32) (*domain.CreditAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, a := range r.s.accounts {
		if a.UserID == userID {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("account for user %d: %w", userID, domain.ErrNotFound)
}

func (r *accountRepository) ListIDs(ctx context.Context) ([]int32, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ids := make([]int32, 0, len(r.s.accounts))
	for id := range r.s.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func paginate[T any](items []T, page, pageSize int32) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := int((page - 1) * pageSize)
	if start >= len(items) {
		return []T{}
	}
	end := start + int(pageSize)
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

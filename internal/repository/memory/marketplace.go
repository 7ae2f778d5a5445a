package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/repository"
)

type listingRepository struct{ s *state }

func (r *listingRepository) Create(ctx context.Context, listing *domain.Listing) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextListingID++
	listing.ID = r.s.nextListingID
	now := r.s.now()
	listing.CreatedOn = now
	listing.UpdatedOn = now
	r.s.listings[listing.ID] = *listing
	return nil
}

func (r *listingRepository) GetByID(ctx context.Context, id int32) (*domain.Listing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
	}
	return &l, nil
}

func (r *listingRepository) List(ctx context.Context, filter repository.ListingFilter) ([]domain.Listing, int32, error) {
	r.s.mu.RLock()
	var out []domain.Listing
	for _, l := range r.s.listings {
		if filter.SellerID != 0 && l.SellerID != filter.SellerID {
			continue
		}
		if filter.ProjectType != "" && l.ProjectType != filter.ProjectType {
			continue
		}
		if filter.ActiveOnly && !l.IsActive {
			continue
		}
		out = append(out, l)
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, filter.Page, filter.PageSize), int32(len(out)), nil
}

func (r *listingRepository) Close(ctx context.Context, id int32, closedOn time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.listings[id]
	if !ok {
		return fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
	}
	l.ClosedOn = &closedOn
	l.IsActive = false
	l.UpdatedOn = closedOn
	r.s.listings[id] = l
	return nil
}

type transactionRepository struct{ s *state }

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	return &t, nil
}

func (r *transactionRepository) List(ctx context.Context, filter repository.TransactionFilter) ([]domain.Transaction, int32, error) {
	r.s.mu.RLock()
	var out []domain.Transaction
	for _, t := range r.s.transactions {
		switch filter.Role {
		case repository.RoleBuyer:
			if t.BuyerID != filter.UserID {
				continue
			}
		case repository.RoleSeller:
			if t.SellerID != filter.UserID {
				continue
			}
		default:
			if filter.UserID != 0 && !t.Involves(filter.UserID) {
				continue
			}
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedOn.After(out[j].CreatedOn) })
	return paginate(out, filter.Page, filter.PageSize), int32(len(out)), nil
}

func (r *transactionRepository) ListByStatus(ctx context.Context, statuses []domain.TransactionStatus, updatedBefore time.Time) ([]domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range r.s.transactions {
		if !t.UpdatedOn.Before(updatedBefore) {
			continue
		}
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedOn.Before(out[j].UpdatedOn) })
	return out, nil
}

func (r *transactionRepository) ListCompleted(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range r.s.transactions {
		if t.Status == domain.TransactionStatusCompleted && t.CompletedOn != nil && !t.CompletedOn.Before(since) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedOn.Before(*out[j].CompletedOn) })
	return out, nil
}

func (r *transactionRepository) UpdateStatus(ctx context.Context, txn *domain.Transaction, expected domain.TransactionStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.transactions[txn.ID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", txn.ID, domain.ErrNotFound)
	}
	if stored.Status != expected {
		return domain.NewFieldError(domain.ErrInvalidStateTransition, "status",
			"transaction %s is %s", stored.ID, stored.Status)
	}
	r.s.transactions[txn.ID] = *txn
	return nil
}

type retirementRepository struct{ s *state }

func (r *retirementRepository) GetByID(ctx context.Context, id string) (*domain.Retirement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ret, ok := r.s.retirements[id]
	if !ok {
		return nil, fmt.Errorf("retirement %s: %w", id, domain.ErrNotFound)
	}
	return &ret, nil
}

func (r *retirementRepository) ListByUser(ctx context.Context, userID int32) ([]domain.Retirement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Retirement
	for _, ret := range r.s.retirements {
		if ret.UserID == userID {
			out = append(out, ret)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetiredOn.After(out[j].RetiredOn) })
	return out, nil
}

type issuanceRepository struct{ s *state }

func (r *issuanceRepository) ListIssuances(ctx context.Context, userID int32) ([]domain.Issuance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Issuance
	for _, iss := range r.s.issuances {
		if iss.UserID == userID {
			out = append(out, iss)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedOn.After(out[j].IssuedOn) })
	return out, nil
}

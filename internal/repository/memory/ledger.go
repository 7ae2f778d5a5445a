package memory

import (
	"context"
	"fmt"
	"sort"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/repository"
)

type ledgerRepository struct{ s *state }

func (r *ledgerRepository) Commit(ctx context.Context, cs *repository.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.check(cs); err != nil {
		return err
	}

	now := r.s.now()
	for i := range cs.Accounts {
		a := cs.Accounts[i]
		a.Version++
		a.UpdatedOn = now
		r.s.accounts[a.ID] = a
		cs.Accounts[i] = a
	}
	for _, e := range cs.Entries {
		r.s.nextEntryID++
		e.ID = r.s.nextEntryID
		if e.CreatedOn.IsZero() {
			e.CreatedOn = now
		}
		r.s.entries = append(r.s.entries, *e)
	}
	if lc := cs.Listing; lc != nil {
		l := r.s.listings[lc.ListingID]
		l.AvailableQuantity += lc.Delta
		l.IsActive = l.AvailableQuantity > 0 && l.ClosedOn == nil
		l.UpdatedOn = now
		r.s.listings[l.ID] = l
	}
	if tc := cs.Transaction; tc != nil {
		if tc.Transaction.UpdatedOn.IsZero() {
			tc.Transaction.UpdatedOn = now
		}
		if tc.Transaction.CreatedOn.IsZero() {
			tc.Transaction.CreatedOn = tc.Transaction.UpdatedOn
		}
		r.s.transactions[tc.Transaction.ID] = *tc.Transaction
	}
	if iss := cs.Issuance; iss != nil {
		r.s.issuances[iss.ID] = *iss
	}
	if ret := cs.Retirement; ret != nil {
		r.s.retirements[ret.ID] = *ret
	}
	if rec := cs.Compliance; rec != nil {
		rec.Version++
		if rec.UpdatedOn.IsZero() {
			rec.UpdatedOn = now
		}
		r.s.compliance[rec.ID] = *rec
	}
	return nil
}

// check validates the whole changeset before anything is written.
func (r *ledgerRepository) check(cs *repository.Changeset) error {
	for _, a := range cs.Accounts {
		stored, ok := r.s.accounts[a.ID]
		if !ok {
			return fmt.Errorf("account %d: %w", a.ID, domain.ErrNotFound)
		}
		if stored.Version != a.Version {
			return fmt.Errorf("account %d changed concurrently: %w", a.ID, domain.ErrBusy)
		}
		if !a.Balanced() {
			return fmt.Errorf("account %d balances do not add up: %w", a.ID, domain.ErrInvalidState)
		}
	}
	for _, e := range cs.Entries {
		if e.ReferenceType != domain.ReferenceTypeTransaction {
			continue
		}
		for _, existing := range r.s.entries {
			if existing.AccountID == e.AccountID && existing.Type == e.Type &&
				existing.ReferenceType == e.ReferenceType && existing.ReferenceID == e.ReferenceID {
				return fmt.Errorf("%s entry for %s already posted: %w", e.Type, e.ReferenceID, domain.ErrAlreadyExists)
			}
		}
	}
	if lc := cs.Listing; lc != nil {
		l, ok := r.s.listings[lc.ListingID]
		if !ok {
			return fmt.Errorf("listing %d: %w", lc.ListingID, domain.ErrNotFound)
		}
		if lc.Delta < 0 && l.ClosedOn != nil {
			return domain.NewFieldError(domain.ErrInvalidState, "listing_id", "listing %d is closed", l.ID)
		}
		next := l.AvailableQuantity + lc.Delta
		if next < 0 || next > l.Quantity {
			return domain.NewFieldError(domain.ErrInsufficientListingQuantity, "quantity",
				"listing %d has %d available", l.ID, l.AvailableQuantity)
		}
	}
	if tc := cs.Transaction; tc != nil {
		stored, ok := r.s.transactions[tc.Transaction.ID]
		switch {
		case tc.Create && ok:
			return fmt.Errorf("transaction %s: %w", tc.Transaction.ID, domain.ErrAlreadyExists)
		case !tc.Create && !ok:
			return fmt.Errorf("transaction %s: %w", tc.Transaction.ID, domain.ErrNotFound)
		case !tc.Create && stored.Status != tc.ExpectedStatus:
			return domain.NewFieldError(domain.ErrInvalidStateTransition, "status",
				"transaction %s is %s", stored.ID, stored.Status)
		}
	}
	if ret := cs.Retirement; ret != nil {
		if _, ok := r.s.retirements[ret.ID]; ok {
			return fmt.Errorf("retirement %s: %w", ret.ID, domain.ErrAlreadyExists)
		}
	}
	if iss := cs.Issuance; iss != nil {
		if _, ok := r.s.issuances[iss.ID]; ok {
			return fmt.Errorf("issuance %s: %w", iss.ID, domain.ErrAlreadyExists)
		}
	}
	if rec := cs.Compliance; rec != nil {
		stored, ok := r.s.compliance[rec.ID]
		if !ok {
			return fmt.Errorf("compliance record %d: %w", rec.ID, domain.ErrNotFound)
		}
		if stored.Version != rec.Version {
			return fmt.Errorf("compliance record %d changed concurrently: %w", rec.ID, domain.ErrBusy)
		}
	}
	return nil
}

func (r *ledgerRepository) ListEntries(ctx context.Context, accountID int32, page, pageSize int32) ([]domain.LedgerEntry, int32, error) {
	all, _ := r.AllEntries(ctx, accountID)
	// newest first, like the history screen expects
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return paginate(all, page, pageSize), int32(len(all)), nil
}

func (r *ledgerRepository) AllEntries(ctx context.Context, accountID int32) ([]domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, e := range r.s.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *ledgerRepository) HasEntries(ctx context.Context, ref domain.Reference, entryType domain.EntryType) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, e := range r.s.entries {
		if e.Reference() == ref && e.Type == entryType {
			return true, nil
		}
	}
	return false, nil
}

func (r *ledgerRepository) SumByReference(ctx context.Context, ref domain.Reference, entryType domain.EntryType) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var sum int64
	for _, e := range r.s.entries {
		if e.Reference() == ref && e.Type == entryType {
			sum += e.Amount
		}
	}
	return sum, nil
}

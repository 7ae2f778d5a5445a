package memory

import (
	"context"
	"fmt"
	"sort"

	"carbon-ledger-backend/internal/domain"
)

type complianceRepository struct{ s *state }

func (r *complianceRepository) Create(ctx context.Context, record *domain.ComplianceRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.compliance {
		if c.UserID == record.UserID && c.CompliancePeriod == record.CompliancePeriod {
			return fmt.Errorf("compliance record %d/%s: %w", record.UserID, record.CompliancePeriod, domain.ErrAlreadyExists)
		}
	}
	r.s.nextComplianceID++
	record.ID = r.s.nextComplianceID
	now := r.s.now()
	if record.CreatedOn.IsZero() {
		record.CreatedOn = now
	}
	record.UpdatedOn = record.CreatedOn
	record.Version = 1
	r.s.compliance[record.ID] = *record
	return nil
}

func (r *complianceRepository) GetByID(ctx context.Context, id int32) (*domain.ComplianceRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.compliance[id]
	if !ok {
		return nil, fmt.Errorf("compliance record %d: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (r *complianceRepository) GetByUserAndPeriod(ctx context.Context, userID int32, period string) (*domain.ComplianceRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.compliance {
		if c.UserID == userID && c.CompliancePeriod == period {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("compliance record %d/%s: %w", userID, period, domain.ErrNotFound)
}

func (r *complianceRepository) ListByUser(ctx context.Context, userID int32) ([]domain.ComplianceRecord, error) {
	return r.list(func(c domain.ComplianceRecord) bool { return c.UserID == userID }), nil
}

func (r *complianceRepository) ListUnverified(ctx context.Context) ([]domain.ComplianceRecord, error) {
	return r.list(func(c domain.ComplianceRecord) bool { return c.VerifiedOn == nil }), nil
}

func (r *complianceRepository) list(keep func(domain.ComplianceRecord) bool) []domain.ComplianceRecord {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.ComplianceRecord
	for _, c := range r.s.compliance {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *complianceRepository) Update(ctx context.Context, record *domain.ComplianceRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.compliance[record.ID]
	if !ok {
		return fmt.Errorf("compliance record %d: %w", record.ID, domain.ErrNotFound)
	}
	if stored.Version != record.Version {
		return fmt.Errorf("compliance record %d changed concurrently: %w", record.ID, domain.ErrBusy)
	}
	record.Version++
	r.s.compliance[record.ID] = *record
	return nil
}

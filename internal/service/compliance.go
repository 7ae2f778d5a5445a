package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/events"
	"carbon-ledger-backend/internal/lock"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/metrics"
	"carbon-ledger-backend/internal/repository"
	"carbon-ledger-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ComplianceOptions configures penalties and deadlines.
type ComplianceOptions struct {
	PenaltyRatePerCredit decimal.Decimal
	WarningWindow        time.Duration
	DefaultDeadline      time.Duration
}

type ComplianceInput struct {
	Period            string          `json:"compliance_period"`
	Sector            string          `json:"sector"`
	TargetIntensity   decimal.Decimal `json:"target_emission_intensity"`
	BaselineIntensity decimal.Decimal `json:"baseline_emission_intensity"`
	Deadline          *time.Time      `json:"deadline,omitempty"`
}

type ComplianceSummary struct {
	Records            int                             `json:"records"`
	CreditsRequired    int64                           `json:"credits_required"`
	CreditsEarned      int64                           `json:"credits_earned"`
	CreditsSurrendered int64                           `json:"credits_surrendered"`
	CreditsShortfall   int64                           `json:"credits_shortfall"`
	PenaltyAmount      decimal.Decimal                 `json:"penalty_amount"`
	ByStatus           map[domain.ComplianceStatus]int `json:"by_status"`
}

// ComputeRequiredCredits returns the credits owed when emissions exceed what
// the target intensity allows for the production, and the credits earned when
// they fall below it. A zero target falls back to the baseline intensity.
// Owed credits round up and earned credits round down, both in whole credits.
func ComputeRequiredCredits(emissions, production, target, baseline decimal.Decimal) (required, earned int64) {
	if target.IsZero() {
		target = baseline
	}
	allowed := target.Mul(production)
	diff := emissions.Sub(allowed)
	switch {
	case diff.IsPositive():
		return diff.Ceil().IntPart(), 0
	case diff.IsNegative():
		return 0, diff.Neg().Floor().IntPart()
	}
	return 0, 0
}

// DeriveStatus classifies a record at now. Records without submitted data
// stay pending until their deadline passes.
func DeriveStatus(rec *domain.ComplianceRecord, now time.Time, warningWindow time.Duration) domain.ComplianceStatus {
	pastDeadline := !now.Before(rec.Deadline)
	switch {
	case !rec.Submitted():
		if pastDeadline {
			return domain.ComplianceStatusNonCompliant
		}
		return domain.ComplianceStatusPending
	case rec.CreditsShortfall == 0:
		return domain.ComplianceStatusCompliant
	case pastDeadline:
		return domain.ComplianceStatusNonCompliant
	case rec.Deadline.Sub(now) <= warningWindow:
		return domain.ComplianceStatusAtRisk
	}
	return domain.ComplianceStatusPending
}

type complianceService struct {
	userRepo   repository.UserRepository
	records    repository.ComplianceRepository
	ledgerRepo repository.LedgerRepository
	ledger     LedgerStore
	accounts   AccountService
	locker     *lock.KeyedLocker
	publisher  events.Publisher
	opts       ComplianceOptions
	now        func() time.Time
}

func NewComplianceService(
	userRepo repository.UserRepository,
	records repository.ComplianceRepository,
	ledgerRepo repository.LedgerRepository,
	ledger LedgerStore,
	accounts AccountService,
	locker *lock.KeyedLocker,
	publisher events.Publisher,
	opts ComplianceOptions,
) ComplianceService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &complianceService{
		userRepo:   userRepo,
		records:    records,
		ledgerRepo: ledgerRepo,
		ledger:     ledger,
		accounts:   accounts,
		locker:     locker,
		publisher:  publisher,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// recompute refreshes shortfall, status and penalty from the record's
// current numbers. An assessed penalty only ever grows.
func (s *complianceService) recompute(rec *domain.ComplianceRecord, now time.Time) {
	rec.CreditsShortfall = max(0, rec.CreditsRequired-rec.CreditsSurrendered)
	rec.Status = DeriveStatus(rec, now, s.opts.WarningWindow)

	penalty := utils.ComputePenalty(rec.CreditsShortfall, s.opts.PenaltyRatePerCredit)
	if rec.PenaltyAssessedOn != nil {
		if penalty.GreaterThan(rec.PenaltyAmount) {
			rec.PenaltyAmount = penalty
		}
		return
	}
	rec.PenaltyAmount = penalty
	if rec.Status == domain.ComplianceStatusNonCompliant && penalty.IsPositive() {
		assessed := now
		rec.PenaltyAssessedOn = &assessed
	}
}

func (s *complianceService) CreateRecord(ctx context.Context, userID int32, in ComplianceInput) (*domain.ComplianceRecord, error) {
	logger.EnterMethod("complianceService.CreateRecord", "userID", userID, "period", in.Period, "sector", in.Sector)

	rec, err := s.createRecord(ctx, userID, in)
	if err != nil {
		logger.ExitMethodWithError("complianceService.CreateRecord", err, "userID", userID, "period", in.Period)
		return nil, err
	}

	logger.ExitMethod("complianceService.CreateRecord", "userID", userID, "recordID", rec.ID)
	return rec, nil
}

func (s *complianceService) createRecord(ctx context.Context, userID int32, in ComplianceInput) (*domain.ComplianceRecord, error) {
	in.Period = strings.TrimSpace(in.Period)
	in.Sector = strings.ToLower(strings.TrimSpace(in.Sector))
	if in.Period == "" {
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "compliance_period", "compliance period is required")
	}
	if in.TargetIntensity.IsNegative() || in.BaselineIntensity.IsNegative() {
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "target_emission_intensity", "intensities must not be negative")
	}
	if sector, ok := domain.LookupSector(in.Sector); ok {
		if in.BaselineIntensity.IsZero() {
			in.BaselineIntensity = sector.BaselineIntensity
		}
		if in.TargetIntensity.IsZero() {
			in.TargetIntensity = sector.TargetIntensity()
		}
	}
	if in.TargetIntensity.IsZero() && in.BaselineIntensity.IsZero() {
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "sector", "unknown sector %q and no target intensity given", in.Sector)
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now()
	deadline := now.Add(s.opts.DefaultDeadline)
	if in.Deadline != nil {
		if !in.Deadline.After(now) {
			return nil, domain.NewFieldError(domain.ErrInvalidInput, "deadline", "deadline must be in the future")
		}
		deadline = in.Deadline.UTC()
	}

	rec := &domain.ComplianceRecord{
		UserID:            userID,
		CompliancePeriod:  in.Period,
		Sector:            in.Sector,
		TargetIntensity:   in.TargetIntensity,
		BaselineIntensity: in.BaselineIntensity,
		Deadline:          deadline,
		CreatedOn:         now,
	}
	s.recompute(rec, now)
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.changed(ctx, rec)
	return rec, nil
}

func (s *complianceService) SubmitData(ctx context.Context, userID, recordID int32, emissions, production decimal.Decimal) (*domain.ComplianceRecord, error) {
	logger.EnterMethod("complianceService.SubmitData", "userID", userID, "recordID", recordID)

	if emissions.IsNegative() {
		err := domain.NewFieldError(domain.ErrInvalidInput, "actual_emissions", "emissions must not be negative")
		logger.ExitMethodWithError("complianceService.SubmitData", err, "recordID", recordID)
		return nil, err
	}
	if !production.IsPositive() {
		err := domain.NewFieldError(domain.ErrInvalidInput, "actual_production", "production must be positive")
		logger.ExitMethodWithError("complianceService.SubmitData", err, "recordID", recordID)
		return nil, err
	}

	rec, err := s.withRecord(ctx, recordID, func(rec *domain.ComplianceRecord) error {
		if rec.UserID != userID {
			return noRecord(recordID)
		}
		if rec.Verified() {
			return domain.NewFieldError(domain.ErrInvalidRecordState, "record_id", "record %d is already verified", rec.ID)
		}
		now := s.now()
		rec.ActualEmissions = emissions
		rec.ActualProduction = production
		rec.ActualIntensity = emissions.DivRound(production, 6)
		rec.CreditsRequired, rec.CreditsEarned = ComputeRequiredCredits(emissions, production, rec.TargetIntensity, rec.BaselineIntensity)
		rec.SubmittedOn = &now
		rec.UpdatedOn = now
		s.recompute(rec, now)
		return s.records.Update(ctx, rec)
	})
	if err != nil {
		logger.ExitMethodWithError("complianceService.SubmitData", err, "recordID", recordID)
		return nil, err
	}
	s.changed(ctx, rec)

	logger.ExitMethod("complianceService.SubmitData", "recordID", recordID, "required", rec.CreditsRequired, "status", rec.Status)
	return rec, nil
}

func (s *complianceService) SurrenderCredits(ctx context.Context, userID, recordID int32, amount int64) (*domain.ComplianceRecord, error) {
	logger.EnterMethod("complianceService.SurrenderCredits", "userID", userID, "recordID", recordID, "amount", amount)

	if amount <= 0 {
		err := domain.NewFieldError(domain.ErrInvalidAmount, "amount", "amount must be positive")
		logger.ExitMethodWithError("complianceService.SurrenderCredits", err, "recordID", recordID)
		return nil, err
	}

	rec, err := s.withRecord(ctx, recordID, func(rec *domain.ComplianceRecord) error {
		if rec.UserID != userID {
			return noRecord(recordID)
		}
		now := s.now()
		switch {
		case rec.Verified():
			return domain.NewFieldError(domain.ErrInvalidRecordState, "record_id", "record %d is already verified", rec.ID)
		case !rec.Submitted():
			return domain.NewFieldError(domain.ErrInvalidRecordState, "record_id", "record %d has no emissions data yet", rec.ID)
		case !now.Before(rec.Deadline):
			return domain.NewFieldError(domain.ErrInvalidRecordState, "record_id", "deadline of record %d has passed", rec.ID)
		case amount > rec.CreditsShortfall:
			return domain.NewFieldError(domain.ErrExcessSurrender, "amount",
				"shortfall is %d, cannot surrender %d", rec.CreditsShortfall, amount)
		}

		acct, err := s.accounts.EnsureAccount(ctx, userID)
		if err != nil {
			return err
		}
		id := rec.ID
		ret := &domain.Retirement{
			ID:                 uuid.NewString(),
			RetirementNumber:   utils.RetirementNumber(now),
			UserID:             userID,
			AccountID:          acct.ID,
			Amount:             amount,
			Purpose:            domain.RetirementPurposeSurrender,
			CompliancePeriod:   rec.CompliancePeriod,
			ComplianceRecordID: &id,
			Status:             domain.RetirementStatusCompleted,
			RetiredOn:          now,
		}
		rec.CreditsSurrendered += amount
		rec.UpdatedOn = now
		s.recompute(rec, now)

		_, err = s.ledger.Post(ctx, []Posting{{
			AccountID:   acct.ID,
			Kind:        PostingRetire,
			Amount:      amount,
			Type:        domain.EntryTypeSurrender,
			Reference:   rec.Reference(),
			Description: fmt.Sprintf("Surrendered %d credits for %s (%s)", amount, rec.CompliancePeriod, ret.RetirementNumber),
		}}, &Extras{Retirement: ret, Compliance: rec})
		return err
	})
	if err != nil {
		logger.ExitMethodWithError("complianceService.SurrenderCredits", err, "recordID", recordID)
		return nil, err
	}
	s.changed(ctx, rec)

	metrics.CreditsSurrendered.Add(float64(amount))
	logger.ExitMethod("complianceService.SurrenderCredits", "recordID", recordID, "shortfall", rec.CreditsShortfall, "status", rec.Status)
	return rec, nil
}

func (s *complianceService) VerifyRecord(ctx context.Context, recordID int32) (*domain.ComplianceRecord, error) {
	logger.EnterMethod("complianceService.VerifyRecord", "recordID", recordID)

	rec, err := s.withRecord(ctx, recordID, func(rec *domain.ComplianceRecord) error {
		if !rec.Submitted() {
			return domain.NewFieldError(domain.ErrInvalidRecordState, "record_id", "record %d has no emissions data yet", rec.ID)
		}
		if rec.Verified() {
			return domain.NewFieldError(domain.ErrInvalidRecordState, "record_id", "record %d is already verified", rec.ID)
		}
		now := s.now()
		s.recompute(rec, now)
		rec.VerifiedOn = &now
		rec.UpdatedOn = now
		return s.records.Update(ctx, rec)
	})
	if err != nil {
		logger.ExitMethodWithError("complianceService.VerifyRecord", err, "recordID", recordID)
		return nil, err
	}
	s.changed(ctx, rec)

	logger.ExitMethod("complianceService.VerifyRecord", "recordID", recordID, "status", rec.Status)
	return rec, nil
}

// withRecord loads the record under its lock and lets fn change it. A missing
// record is reported as ErrInvalidRecordState because every caller needs one
// to exist.
func (s *complianceService) withRecord(ctx context.Context, recordID int32, fn func(*domain.ComplianceRecord) error) (*domain.ComplianceRecord, error) {
	release, err := s.locker.Acquire(ctx, lock.ComplianceKey(recordID))
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, noRecord(recordID)
		}
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func noRecord(recordID int32) error {
	return domain.NewFieldError(domain.ErrInvalidRecordState, "record_id", "compliance record %d does not exist", recordID)
}

func (s *complianceService) changed(ctx context.Context, rec *domain.ComplianceRecord) {
	publishEvent(ctx, s.publisher, events.EventComplianceRecordUpdated, lock.ComplianceKey(rec.ID), rec, s.now())
}

func (s *complianceService) RefreshStatuses(ctx context.Context) (int, error) {
	logger.EnterMethod("complianceService.RefreshStatuses")

	open, err := s.records.ListUnverified(ctx)
	if err != nil {
		logger.ExitMethodWithError("complianceService.RefreshStatuses", err)
		return 0, err
	}

	counts := map[domain.ComplianceStatus]int{}
	changed := 0
	for _, r := range open {
		var updated bool
		rec, err := s.withRecord(ctx, r.ID, func(rec *domain.ComplianceRecord) error {
			before := *rec
			s.recompute(rec, s.now())
			if rec.Status == before.Status && rec.PenaltyAmount.Equal(before.PenaltyAmount) &&
				(rec.PenaltyAssessedOn == nil) == (before.PenaltyAssessedOn == nil) {
				return nil
			}
			rec.UpdatedOn = s.now()
			updated = true
			return s.records.Update(ctx, rec)
		})
		if err != nil {
			if ctx.Err() != nil {
				logger.ExitMethodWithError("complianceService.RefreshStatuses", err)
				return changed, err
			}
			logger.Warn("Compliance refresh skipped record", "recordID", r.ID, "error", err)
			counts[r.Status]++
			continue
		}
		counts[rec.Status]++
		if updated {
			changed++
			s.changed(ctx, rec)
			logger.Info("Compliance status refreshed", "recordID", rec.ID, "status", rec.Status, "penalty", rec.PenaltyAmount.StringFixed(2))
		}
	}

	for _, st := range []domain.ComplianceStatus{
		domain.ComplianceStatusPending,
		domain.ComplianceStatusCompliant,
		domain.ComplianceStatusAtRisk,
		domain.ComplianceStatusNonCompliant,
	} {
		metrics.ComplianceStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}

	logger.ExitMethod("complianceService.RefreshStatuses", "records", len(open), "changed", changed)
	return changed, nil
}

func (s *complianceService) Reconcile(ctx context.Context, recordID int32) error {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return err
	}
	sum, err := s.ledgerRepo.SumByReference(ctx, rec.Reference(), domain.EntryTypeSurrender)
	if err != nil {
		return err
	}
	// surrender entries carry negative amounts
	if -sum != rec.CreditsSurrendered {
		return fmt.Errorf("compliance record %d reports %d surrendered, ledger has %d: %w",
			rec.ID, rec.CreditsSurrendered, -sum, domain.ErrInvalidState)
	}
	return nil
}

func (s *complianceService) Summary(ctx context.Context, userID int32) (*ComplianceSummary, error) {
	recs, err := s.records.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum := &ComplianceSummary{PenaltyAmount: decimal.Zero, ByStatus: map[domain.ComplianceStatus]int{}}
	for _, r := range recs {
		sum.Records++
		sum.CreditsRequired += r.CreditsRequired
		sum.CreditsEarned += r.CreditsEarned
		sum.CreditsSurrendered += r.CreditsSurrendered
		sum.CreditsShortfall += r.CreditsShortfall
		sum.PenaltyAmount = sum.PenaltyAmount.Add(r.PenaltyAmount)
		sum.ByStatus[r.Status]++
	}
	return sum, nil
}

func (s *complianceService) ListRecords(ctx context.Context, userID int32) ([]domain.ComplianceRecord, error) {
	return s.records.ListByUser(ctx, userID)
}

func (s *complianceService) GetRecord(ctx context.Context, userID, recordID int32) (*domain.ComplianceRecord, error) {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, fmt.Errorf("compliance record %d: %w", recordID, domain.ErrNotFound)
	}
	return rec, nil
}

func (s *complianceService) SectorTargets() []domain.SectorTarget {
	return domain.SectorTargets()
}

package service

import (
	"context"
	"testing"
	"time"

	"carbon-ledger-backend/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// submitted creates a record at target 0.5 owing 500 credits.
func (e *engine) submitted(t *testing.T, userID int32, period string) *domain.ComplianceRecord {
	t.Helper()
	ctx := context.Background()
	rec, err := e.compliance.CreateRecord(ctx, userID, ComplianceInput{
		Period:            period,
		Sector:            "custom",
		TargetIntensity:   dec("0.5"),
		BaselineIntensity: dec("0.8"),
	})
	require.NoError(t, err)
	rec, err = e.compliance.SubmitData(ctx, userID, rec.ID, dec("1500"), dec("2000"))
	require.NoError(t, err)
	return rec
}

func TestComputeRequiredCredits(t *testing.T) {
	tests := []struct {
		name                string
		emissions, prod     string
		target, baseline    string
		wantReq, wantEarned int64
	}{
		{"Over Target", "1500", "2000", "0.5", "0.8", 500, 0},
		{"Under Target", "900", "2000", "0.5", "0.8", 0, 100},
		{"On Target", "1000", "2000", "0.5", "0.8", 0, 0},
		{"Fraction Owed Rounds Up", "1000.2", "2000", "0.5", "0.8", 1, 0},
		{"Fraction Earned Rounds Down", "999.5", "2000", "0.5", "0.8", 0, 0},
		{"Zero Target Uses Baseline", "1700", "2000", "0", "0.8", 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, earned := ComputeRequiredCredits(dec(tt.emissions), dec(tt.prod), dec(tt.target), dec(tt.baseline))
			assert.Equal(t, tt.wantReq, req)
			assert.Equal(t, tt.wantEarned, earned)
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	submittedOn := now.Add(-day)
	window := 30 * day

	tests := []struct {
		name string
		rec  domain.ComplianceRecord
		want domain.ComplianceStatus
	}{
		{"Not Submitted", domain.ComplianceRecord{Deadline: now.Add(10 * day)}, domain.ComplianceStatusPending},
		{"Not Submitted Past Deadline", domain.ComplianceRecord{Deadline: now}, domain.ComplianceStatusNonCompliant},
		{"No Shortfall", domain.ComplianceRecord{SubmittedOn: &submittedOn, Deadline: now.Add(-day)}, domain.ComplianceStatusCompliant},
		{"Shortfall Past Deadline", domain.ComplianceRecord{SubmittedOn: &submittedOn, CreditsShortfall: 5, Deadline: now}, domain.ComplianceStatusNonCompliant},
		{"Shortfall Near Deadline", domain.ComplianceRecord{SubmittedOn: &submittedOn, CreditsShortfall: 5, Deadline: now.Add(30 * day)}, domain.ComplianceStatusAtRisk},
		{"Shortfall Far From Deadline", domain.ComplianceRecord{SubmittedOn: &submittedOn, CreditsShortfall: 5, Deadline: now.Add(31 * day)}, domain.ComplianceStatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(&tt.rec, now, window))
		})
	}
}

func TestComplianceService_CreateRecord(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	uid := e.user(t, "plant@example.com", domain.UserTypeBuyer)

	t.Run("Sector Defaults", func(t *testing.T) {
		rec, err := e.compliance.CreateRecord(ctx, uid, ComplianceInput{Period: "2025-Q1", Sector: " Cement "})
		require.NoError(t, err)
		assert.Equal(t, "cement", rec.Sector)
		assert.True(t, rec.BaselineIntensity.Equal(dec("0.85")))
		assert.True(t, rec.TargetIntensity.Equal(dec("0.8075")))
		assert.Equal(t, domain.ComplianceStatusPending, rec.Status)
		assert.Equal(t, e.clock.Add(365*day), rec.Deadline)
	})

	t.Run("Duplicate Period", func(t *testing.T) {
		_, err := e.compliance.CreateRecord(ctx, uid, ComplianceInput{Period: "2025-Q1", Sector: "cement"})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("Unknown Sector Without Target", func(t *testing.T) {
		_, err := e.compliance.CreateRecord(ctx, uid, ComplianceInput{Period: "2025-Q2", Sector: "shipping"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Equal(t, "sector", domain.FieldOf(err))
	})

	t.Run("Past Deadline", func(t *testing.T) {
		past := e.clock.Add(-day)
		_, err := e.compliance.CreateRecord(ctx, uid, ComplianceInput{Period: "2025-Q3", Sector: "cement", Deadline: &past})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("Missing Period", func(t *testing.T) {
		_, err := e.compliance.CreateRecord(ctx, uid, ComplianceInput{Sector: "cement"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("Unknown User", func(t *testing.T) {
		_, err := e.compliance.CreateRecord(ctx, 404, ComplianceInput{Period: "2025-Q1", Sector: "cement"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestComplianceService_SurrenderClosesShortfall(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	uid := e.funded(t, "plant@example.com", 600)
	rec := e.submitted(t, uid, "2025")

	assert.Equal(t, int64(500), rec.CreditsRequired)
	assert.Equal(t, int64(500), rec.CreditsShortfall)
	assert.True(t, rec.ActualIntensity.Equal(dec("0.75")))
	assert.Equal(t, domain.ComplianceStatusPending, rec.Status)

	t.Run("Excess", func(t *testing.T) {
		_, err := e.compliance.SurrenderCredits(ctx, uid, rec.ID, 501)
		assert.ErrorIs(t, err, domain.ErrExcessSurrender)
	})

	partial, err := e.compliance.SurrenderCredits(ctx, uid, rec.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(300), partial.CreditsShortfall)

	done, err := e.compliance.SurrenderCredits(ctx, uid, rec.ID, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(500), done.CreditsSurrendered)
	assert.Equal(t, int64(0), done.CreditsShortfall)
	assert.Equal(t, domain.ComplianceStatusCompliant, done.Status)
	assert.True(t, done.PenaltyAmount.IsZero())

	bal, err := e.accounts.GetBalances(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(600), bal.TotalBalance)
	assert.Equal(t, int64(100), bal.AvailableBalance)
	assert.Equal(t, int64(500), bal.RetiredBalance)

	rets, err := e.accounts.ListRetirements(ctx, uid)
	require.NoError(t, err)
	require.Len(t, rets, 2)
	for _, r := range rets {
		assert.Equal(t, domain.RetirementPurposeSurrender, r.Purpose)
		require.NotNil(t, r.ComplianceRecordID)
		assert.Equal(t, rec.ID, *r.ComplianceRecordID)
	}

	require.NoError(t, e.compliance.Reconcile(ctx, rec.ID))
	e.requireConsistent(t)

	t.Run("Nothing Left To Surrender", func(t *testing.T) {
		_, err := e.compliance.SurrenderCredits(ctx, uid, rec.ID, 1)
		assert.ErrorIs(t, err, domain.ErrExcessSurrender)
	})
}

func TestComplianceService_SurrenderRejections(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	uid := e.funded(t, "plant@example.com", 100)
	other := e.user(t, "other@example.com", domain.UserTypeBuyer)
	rec := e.submitted(t, uid, "2025")

	t.Run("Not Enough Credits", func(t *testing.T) {
		_, err := e.compliance.SurrenderCredits(ctx, uid, rec.ID, 200)
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		got, err := e.compliance.GetRecord(ctx, uid, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.CreditsSurrendered)
		assert.Equal(t, int64(500), got.CreditsShortfall)
	})

	t.Run("Invalid Amount", func(t *testing.T) {
		_, err := e.compliance.SurrenderCredits(ctx, uid, rec.ID, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("Unknown Record", func(t *testing.T) {
		_, err := e.compliance.SurrenderCredits(ctx, uid, 999, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidRecordState)
	})

	t.Run("Another Users Record", func(t *testing.T) {
		_, err := e.compliance.SurrenderCredits(ctx, other, rec.ID, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidRecordState)
		_, err = e.compliance.GetRecord(ctx, other, rec.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("No Data Submitted", func(t *testing.T) {
		fresh, err := e.compliance.CreateRecord(ctx, uid, ComplianceInput{Period: "2026", Sector: "cement"})
		require.NoError(t, err)
		_, err = e.compliance.SurrenderCredits(ctx, uid, fresh.ID, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidRecordState)
	})

	t.Run("Verified Record", func(t *testing.T) {
		verified := e.submitted(t, uid, "2024")
		_, err := e.compliance.VerifyRecord(ctx, verified.ID)
		require.NoError(t, err)
		_, err = e.compliance.SurrenderCredits(ctx, uid, verified.ID, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidRecordState)
	})

	t.Run("After Deadline", func(t *testing.T) {
		e.advance(366 * day)
		_, err := e.compliance.SurrenderCredits(ctx, uid, rec.ID, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidRecordState)
	})

	bal, _ := e.accounts.GetBalances(ctx, uid)
	assert.Equal(t, int64(100), bal.AvailableBalance)
	e.requireConsistent(t)
}

func TestComplianceService_SubmitAndVerify(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	uid := e.user(t, "plant@example.com", domain.UserTypeBuyer)
	rec, err := e.compliance.CreateRecord(ctx, uid, ComplianceInput{Period: "2025", TargetIntensity: dec("0.5")})
	require.NoError(t, err)

	_, err = e.compliance.VerifyRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidRecordState)

	_, err = e.compliance.SubmitData(ctx, uid, rec.ID, dec("-1"), dec("10"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.compliance.SubmitData(ctx, uid, rec.ID, dec("1"), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	got, err := e.compliance.SubmitData(ctx, uid, rec.ID, dec("800"), dec("2000"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.CreditsRequired)
	assert.Equal(t, int64(200), got.CreditsEarned)
	assert.Equal(t, domain.ComplianceStatusCompliant, got.Status)

	verified, err := e.compliance.VerifyRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, verified.VerifiedOn)

	_, err = e.compliance.VerifyRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidRecordState)
	_, err = e.compliance.SubmitData(ctx, uid, rec.ID, dec("900"), dec("2000"))
	assert.ErrorIs(t, err, domain.ErrInvalidRecordState)
}

func TestComplianceService_RefreshStatusesAndPenalty(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	uid := e.user(t, "plant@example.com", domain.UserTypeBuyer)
	rec := e.submitted(t, uid, "2025")
	idle, err := e.compliance.CreateRecord(ctx, uid, ComplianceInput{Period: "2026", Sector: "textiles"})
	require.NoError(t, err)

	changed, err := e.compliance.RefreshStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	e.advance(340 * day)
	changed, err = e.compliance.RefreshStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	got, _ := e.compliance.GetRecord(ctx, uid, rec.ID)
	assert.Equal(t, domain.ComplianceStatusAtRisk, got.Status)

	e.advance(30 * day)
	_, err = e.compliance.RefreshStatuses(ctx)
	require.NoError(t, err)
	got, _ = e.compliance.GetRecord(ctx, uid, rec.ID)
	assert.Equal(t, domain.ComplianceStatusNonCompliant, got.Status)
	assert.True(t, got.PenaltyAmount.Equal(dec("500000")), got.PenaltyAmount.String())
	require.NotNil(t, got.PenaltyAssessedOn)

	got, _ = e.compliance.GetRecord(ctx, uid, idle.ID)
	assert.Equal(t, domain.ComplianceStatusNonCompliant, got.Status)
	assert.True(t, got.PenaltyAmount.IsZero())
	assert.Nil(t, got.PenaltyAssessedOn)

	t.Run("Penalty Never Decreases", func(t *testing.T) {
		lower, err := e.compliance.SubmitData(ctx, uid, rec.ID, dec("1000"), dec("2000"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), lower.CreditsShortfall)
		assert.True(t, lower.PenaltyAmount.Equal(dec("500000")))
	})

	t.Run("Summary", func(t *testing.T) {
		sum, err := e.compliance.Summary(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Records)
		assert.True(t, sum.PenaltyAmount.Equal(dec("500000")))
		assert.Equal(t, 1, sum.ByStatus[domain.ComplianceStatusNonCompliant])
	})
}

func TestComplianceService_ReconcileDetectsDrift(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	uid := e.funded(t, "plant@example.com", 500)
	rec := e.submitted(t, uid, "2025")

	_, err := e.compliance.SurrenderCredits(ctx, uid, rec.ID, 100)
	require.NoError(t, err)
	require.NoError(t, e.compliance.Reconcile(ctx, rec.ID))

	stored, err := e.store.ComplianceRepository.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	stored.CreditsSurrendered = 150
	require.NoError(t, e.store.ComplianceRepository.Update(ctx, stored))

	err = e.compliance.Reconcile(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestComplianceService_SectorTargets(t *testing.T) {
	e := newEngine(t)
	targets := e.compliance.SectorTargets()
	require.NotEmpty(t, targets)
	for i := 1; i < len(targets); i++ {
		assert.Less(t, targets[i-1].Sector, targets[i].Sector)
	}
}

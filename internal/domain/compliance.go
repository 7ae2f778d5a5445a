package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type ComplianceStatus string

const (
	ComplianceStatusPending      ComplianceStatus = "pending"
	ComplianceStatusCompliant    ComplianceStatus = "compliant"
	ComplianceStatusNonCompliant ComplianceStatus = "non_compliant"
	ComplianceStatusAtRisk       ComplianceStatus = "at_risk"
)

type ComplianceRecord struct {
	ID                 int32            `json:"id"`
	UserID             int32            `json:"user_id"`
	CompliancePeriod   string           `json:"compliance_period"`
	Sector             string           `json:"sector"`
	TargetIntensity    decimal.Decimal  `json:"target_emission_intensity"`
	BaselineIntensity  decimal.Decimal  `json:"baseline_emission_intensity"`
	ActualEmissions    decimal.Decimal  `json:"actual_emissions"`
	ActualProduction   decimal.Decimal  `json:"actual_production"`
	ActualIntensity    decimal.Decimal  `json:"actual_emission_intensity"`
	CreditsRequired    int64            `json:"credits_required"`
	CreditsEarned      int64            `json:"credits_earned"`
	CreditsSurrendered int64            `json:"credits_surrendered"`
	CreditsShortfall   int64            `json:"credits_shortfall"`
	Status             ComplianceStatus `json:"status"`
	PenaltyAmount      decimal.Decimal  `json:"penalty_amount"`
	PenaltyAssessedOn  *time.Time       `json:"penalty_assessed_on,omitempty"`
	Deadline           time.Time        `json:"deadline"`
	SubmittedOn        *time.Time       `json:"submitted_on,omitempty"`
	VerifiedOn         *time.Time       `json:"verified_on,omitempty"`
	Version            int64            `json:"-"`
	CreatedOn          time.Time        `json:"created_on"`
	UpdatedOn          time.Time        `json:"updated_on"`
}

func (r ComplianceRecord) Submitted() bool { return r.SubmittedOn != nil }
func (r ComplianceRecord) Verified() bool  { return r.VerifiedOn != nil }

func (r ComplianceRecord) Reference() Reference {
	return Reference{Type: ReferenceTypeCompliance, ID: formatInt32(r.ID)}
}

// SectorTarget is the regulatory baseline for a sector and the reduction
// expected from it within one compliance period.
type SectorTarget struct {
	Sector            string          `json:"sector"`
	BaselineIntensity decimal.Decimal `json:"baseline_intensity"`
	TargetReduction   decimal.Decimal `json:"target_reduction"`
}

// TargetIntensity is baseline * (1 - reduction).
func (s SectorTarget) TargetIntensity() decimal.Decimal {
	return s.BaselineIntensity.Mul(decimal.NewFromInt(1).Sub(s.TargetReduction))
}

var sectorTargets = map[string]SectorTarget{
	"cement":             newSectorTarget("cement", "0.85", "0.05"),
	"iron_steel":         newSectorTarget("iron_steel", "2.1", "0.06"),
	"textiles":           newSectorTarget("textiles", "0.4", "0.04"),
	"aluminium":          newSectorTarget("aluminium", "12.5", "0.05"),
	"chlor_alkali":       newSectorTarget("chlor_alkali", "0.75", "0.07"),
	"fertilizer":         newSectorTarget("fertilizer", "1.8", "0.05"),
	"pulp_paper":         newSectorTarget("pulp_paper", "0.9", "0.08"),
	"petrochemicals":     newSectorTarget("petrochemicals", "1.5", "0.04"),
	"petroleum_refining": newSectorTarget("petroleum_refining", "0.35", "0.04"),
}

func newSectorTarget(sector, baseline, reduction string) SectorTarget {
	return SectorTarget{
		Sector:            sector,
		BaselineIntensity: decimal.RequireFromString(baseline),
		TargetReduction:   decimal.RequireFromString(reduction),
	}
}

func LookupSector(sector string) (SectorTarget, bool) {
	t, ok := sectorTargets[sector]
	return t, ok
}

// SectorTargets returns all sectors sorted by name.
func SectorTargets() []SectorTarget {
	out := make([]SectorTarget, 0, len(sectorTargets))
	for _, t := range sectorTargets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sector < out[j].Sector })
	return out
}

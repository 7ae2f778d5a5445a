package domain

import "time"

type RetirementPurpose string

const (
	RetirementPurposeCompliance RetirementPurpose = "compliance"
	RetirementPurposeVoluntary  RetirementPurpose = "voluntary"
	RetirementPurposeSurrender  RetirementPurpose = "surrender"
)

func (p RetirementPurpose) Valid() bool {
	switch p {
	case RetirementPurposeCompliance, RetirementPurposeVoluntary, RetirementPurposeSurrender:
		return true
	}
	return false
}

type RetirementStatus string

const (
	RetirementStatusCompleted RetirementStatus = "completed"
)

// Retirement is immutable once written.
type Retirement struct {
	ID                 string            `json:"id"`
	RetirementNumber   string            `json:"retirement_number"`
	UserID             int32             `json:"user_id"`
	AccountID          int32             `json:"account_id"`
	Amount             int64             `json:"amount"`
	Purpose            RetirementPurpose `json:"purpose"`
	CompliancePeriod   string            `json:"compliance_period,omitempty"`
	ComplianceRecordID *int32            `json:"compliance_record_id,omitempty"`
	Beneficiary        string            `json:"beneficiary,omitempty"`
	Status             RetirementStatus  `json:"status"`
	RetiredOn          time.Time         `json:"retired_on"`
}

func (r Retirement) Reference() Reference {
	return Reference{Type: ReferenceTypeRetirement, ID: r.ID}
}

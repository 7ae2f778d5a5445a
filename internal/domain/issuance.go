package domain

import "time"

type IssuanceStatus string

const (
	IssuanceStatusApproved IssuanceStatus = "approved"
)

// Issuance records credits entering circulation on one account. Like a
// retirement it is written in the same commit as its ledger entry and never
// changes afterwards.
type Issuance struct {
	ID             string         `json:"id"`
	IssuanceNumber string         `json:"issuance_number"`
	UserID         int32          `json:"user_id"`
	AccountID      int32          `json:"account_id"`
	Amount         int64          `json:"amount"`
	Issuer         string         `json:"issuer"`
	ProjectType    string         `json:"project_type,omitempty"`
	Vintage        int32          `json:"vintage,omitempty"`
	Methodology    string         `json:"methodology,omitempty"`
	Status         IssuanceStatus `json:"status"`
	IssuedOn       time.Time      `json:"issued_on"`
}

func (i Issuance) Reference() Reference {
	return Reference{Type: ReferenceTypeIssuance, ID: i.ID}
}

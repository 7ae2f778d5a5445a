package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type VerificationStatus string

const (
	VerificationStatusVerified VerificationStatus = "verified"
	VerificationStatusPending  VerificationStatus = "pending"
	VerificationStatusRejected VerificationStatus = "rejected"
)

type Listing struct {
	ID                 int32              `json:"id"`
	SellerID           int32              `json:"seller_id"`
	Quantity           int64              `json:"quantity"`
	AvailableQuantity  int64              `json:"available_quantity"`
	PricePerCredit     decimal.Decimal    `json:"price_per_credit"`
	Vintage            int32              `json:"vintage"`
	ProjectType        string             `json:"project_type"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	Description        string             `json:"description"`
	IsActive           bool               `json:"is_active"`
	ClosedOn           *time.Time         `json:"closed_on,omitempty"`
	CreatedOn          time.Time          `json:"created_on"`
	UpdatedOn          time.Time          `json:"updated_on"`
}

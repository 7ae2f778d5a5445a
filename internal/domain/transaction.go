package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusPending            TransactionStatus = "pending"
	TransactionStatusPaymentPending     TransactionStatus = "payment_pending"
	TransactionStatusPaymentCompleted   TransactionStatus = "payment_completed"
	TransactionStatusCreditsTransferred TransactionStatus = "credits_transferred"
	TransactionStatusCompleted          TransactionStatus = "completed"
	TransactionStatusCancelled          TransactionStatus = "cancelled"
	TransactionStatusRefunded           TransactionStatus = "refunded"
	TransactionStatusFailed             TransactionStatus = "failed"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusPaymentPending,
		TransactionStatusFailed,
	},
	TransactionStatusPaymentPending: {
		TransactionStatusPaymentCompleted,
		TransactionStatusCancelled,
		TransactionStatusRefunded,
		TransactionStatusFailed,
	},
	TransactionStatusPaymentCompleted: {
		TransactionStatusCreditsTransferred,
		TransactionStatusFailed,
	},
	TransactionStatusCreditsTransferred: {
		TransactionStatusCompleted,
		TransactionStatusFailed,
	},
}

func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusCancelled, TransactionStatusRefunded, TransactionStatusFailed:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := transactionTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is an edge of the trade state machine.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transactionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Transaction struct {
	ID                   string            `json:"id"`
	TransactionNumber    string            `json:"transaction_number"`
	BuyerID              int32             `json:"buyer_id"`
	SellerID             int32             `json:"seller_id"`
	ListingID            int32             `json:"listing_id"`
	Quantity             int64             `json:"quantity"`
	PricePerCredit       decimal.Decimal   `json:"price_per_credit"`
	TotalAmount          decimal.Decimal   `json:"total_amount"`
	PlatformFee          decimal.Decimal   `json:"platform_fee"`
	GSTAmount            decimal.Decimal   `json:"gst_amount"`
	Status               TransactionStatus `json:"status"`
	FailureReason        string            `json:"failure_reason,omitempty"`
	CreatedOn            time.Time         `json:"created_on"`
	PaymentCompletedOn   *time.Time        `json:"payment_completed_on,omitempty"`
	CreditsTransferredOn *time.Time        `json:"credits_transferred_on,omitempty"`
	CompletedOn          *time.Time        `json:"completed_on,omitempty"`
	CancelledOn          *time.Time        `json:"cancelled_on,omitempty"`
	UpdatedOn            time.Time         `json:"updated_on"`
}

// PaymentAmount is what the buyer is charged: total plus platform fee plus GST.
func (t Transaction) PaymentAmount() decimal.Decimal {
	return t.TotalAmount.Add(t.PlatformFee).Add(t.GSTAmount)
}

func (t Transaction) Reference() Reference {
	return Reference{Type: ReferenceTypeTransaction, ID: t.ID}
}

// Involves reports whether the user is the buyer or the seller.
func (t Transaction) Involves(userID int32) bool {
	return t.BuyerID == userID || t.SellerID == userID
}

package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// TradeAmounts is the server-side price breakdown of a marketplace trade
type TradeAmounts struct {
	TotalAmount decimal.Decimal
	PlatformFee decimal.Decimal
	GSTAmount   decimal.Decimal
}

// Payable is the amount the buyer is charged
func (a TradeAmounts) Payable() decimal.Decimal {
	return a.TotalAmount.Add(a.PlatformFee).Add(a.GSTAmount)
}

// ComputeTradeAmounts derives total, platform fee and GST for quantity credits at price each.
// The fee is feePercent of the total and GST is gstPercent of the fee; both are rounded to
// two decimal places (half away from zero).
func ComputeTradeAmounts(quantity int64, price, feePercent, gstPercent decimal.Decimal) (TradeAmounts, error) {
	if quantity <= 0 {
		return TradeAmounts{}, fmt.Errorf("quantity must be positive")
	}
	if price.IsNegative() {
		return TradeAmounts{}, fmt.Errorf("price must not be negative")
	}
	if feePercent.IsNegative() || gstPercent.IsNegative() {
		return TradeAmounts{}, fmt.Errorf("percentages must not be negative")
	}

	total := price.Mul(decimal.NewFromInt(quantity)).Round(2)
	fee := total.Mul(feePercent).Div(hundred).Round(2)
	gst := fee.Mul(gstPercent).Div(hundred).Round(2)

	return TradeAmounts{TotalAmount: total, PlatformFee: fee, GSTAmount: gst}, nil
}

// ComputePenalty charges rate for every credit of shortfall
func ComputePenalty(shortfall int64, rate decimal.Decimal) decimal.Decimal {
	if shortfall <= 0 || !rate.IsPositive() {
		return decimal.Zero
	}
	return rate.Mul(decimal.NewFromInt(shortfall)).Round(2)
}

// TransactionNumber formats TXN-YYYYMMDDhhmmss-XXXXXXXX
func TransactionNumber(now time.Time) string {
	return fmt.Sprintf("TXN-%s-%s", now.UTC().Format("20060102150405"), shortID())
}

// RetirementNumber formats RET-YYYYMMDD-XXXXXXXX
func RetirementNumber(now time.Time) string {
	return fmt.Sprintf("RET-%s-%s", now.UTC().Format("20060102"), shortID())
}

// IssuanceNumber formats ISS-YYYYMMDD-XXXXXXXX
func IssuanceNumber(now time.Time) string {
	return fmt.Sprintf("ISS-%s-%s", now.UTC().Format("20060102"), shortID())
}

func shortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

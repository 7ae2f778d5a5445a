package service

import (
	"context"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/repository"

	"github.com/shopspring/decimal"
)

const (
	defaultStatsDays = 30
	maxStatsDays     = 365
)

// PricePoint summarises one UTC day of completed trades.
type PricePoint struct {
	Date         string          `json:"date"`
	OpenPrice    decimal.Decimal `json:"open_price"`
	ClosePrice   decimal.Decimal `json:"close_price"`
	HighPrice    decimal.Decimal `json:"high_price"`
	LowPrice     decimal.Decimal `json:"low_price"`
	AveragePrice decimal.Decimal `json:"average_price"`
	Volume       int64           `json:"volume"`
	Trades       int             `json:"num_transactions"`
}

// MarketStats is computed from completed trades and the listings active now.
// Prices are plain means over trades, not weighted by quantity.
type MarketStats struct {
	Days             int             `json:"days"`
	Since            time.Time       `json:"since"`
	Trades           int             `json:"num_transactions"`
	TotalVolume      int64           `json:"total_volume"`
	TotalValue       decimal.Decimal `json:"total_value"`
	AveragePrice     decimal.Decimal `json:"avg_price"`
	MinPrice         decimal.Decimal `json:"min_price"`
	MaxPrice         decimal.Decimal `json:"max_price"`
	ActiveBuyers     int             `json:"active_buyers"`
	ActiveSellers    int             `json:"active_sellers"`
	ActiveListings   int32           `json:"active_listings"`
	CreditsAvailable int64           `json:"total_credits_available"`
	PriceHistory     []PricePoint    `json:"price_history"`
}

func (s *marketplaceService) MarketStats(ctx context.Context, days int) (*MarketStats, error) {
	if days == 0 {
		days = defaultStatsDays
	}
	if days < 1 || days > maxStatsDays {
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "days", "days must be between 1 and %d", maxStatsDays)
	}

	now := s.now()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1-days)
	txns, err := s.txnRepo.ListCompleted(ctx, since)
	if err != nil {
		return nil, err
	}
	listings, total, err := s.listingRepo.List(ctx, repository.ListingFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	stats := &MarketStats{
		Days:           days,
		Since:          since,
		TotalValue:     decimal.Zero,
		AveragePrice:   decimal.Zero,
		MinPrice:       decimal.Zero,
		MaxPrice:       decimal.Zero,
		ActiveListings: total,
		PriceHistory:   []PricePoint{},
	}
	for _, l := range listings {
		stats.CreditsAvailable += l.AvailableQuantity
	}

	buyers := make(map[int32]struct{})
	sellers := make(map[int32]struct{})
	priceSum := decimal.Zero
	var day *PricePoint
	var daySum decimal.Decimal
	for i, t := range txns {
		price := t.PricePerCredit
		stats.Trades++
		stats.TotalVolume += t.Quantity
		stats.TotalValue = stats.TotalValue.Add(t.TotalAmount)
		priceSum = priceSum.Add(price)
		if i == 0 || price.LessThan(stats.MinPrice) {
			stats.MinPrice = price
		}
		if price.GreaterThan(stats.MaxPrice) {
			stats.MaxPrice = price
		}
		buyers[t.BuyerID] = struct{}{}
		sellers[t.SellerID] = struct{}{}

		// txns arrive oldest first, so each day's points are contiguous
		date := t.CompletedOn.UTC().Format("2006-01-02")
		if day == nil || day.Date != date {
			if day != nil {
				day.AveragePrice = daySum.Div(decimal.NewFromInt(int64(day.Trades))).Round(2)
				stats.PriceHistory = append(stats.PriceHistory, *day)
			}
			day = &PricePoint{Date: date, OpenPrice: price, HighPrice: price, LowPrice: price}
			daySum = decimal.Zero
		}
		day.ClosePrice = price
		day.HighPrice = decimal.Max(day.HighPrice, price)
		day.LowPrice = decimal.Min(day.LowPrice, price)
		day.Volume += t.Quantity
		day.Trades++
		daySum = daySum.Add(price)
	}
	if day != nil {
		day.AveragePrice = daySum.Div(decimal.NewFromInt(int64(day.Trades))).Round(2)
		stats.PriceHistory = append(stats.PriceHistory, *day)
	}
	if stats.Trades > 0 {
		stats.AveragePrice = priceSum.Div(decimal.NewFromInt(int64(stats.Trades))).Round(2)
	}
	stats.ActiveBuyers = len(buyers)
	stats.ActiveSellers = len(sellers)

	logger.Debug("Market stats computed", "days", days, "trades", stats.Trades, "volume", stats.TotalVolume)
	return stats, nil
}

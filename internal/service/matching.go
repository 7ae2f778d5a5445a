package service

import (
	"context"
	"math"
	"sort"
	"strings"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/repository"

	"github.com/shopspring/decimal"
)

type MatchRequest struct {
	CreditsNeeded        int64           `json:"credits_needed"`
	MaxPrice             decimal.Decimal `json:"max_price"`
	PreferredVintage     int32           `json:"preferred_vintage,omitempty"`
	PreferredProjectType string          `json:"preferred_project_type,omitempty"`
}

type Match struct {
	Listing domain.Listing `json:"listing"`
	Score   float64        `json:"score"`
}

// ScoringPolicy rates one listing for a request. ok=false excludes the listing.
type ScoringPolicy interface {
	Score(req MatchRequest, listing domain.Listing) (score float64, ok bool)
}

// WeightedPolicy blends per-criterion scores in [0,1] by weight.
type WeightedPolicy struct {
	Price        float64
	Vintage      float64
	Verification float64
	Coverage     float64
	ProjectType  float64
}

const defaultMatchLimit = 10

// neutral is the score of a criterion the buyer expressed no preference on.
const neutral = 0.5

func (p WeightedPolicy) Score(req MatchRequest, l domain.Listing) (float64, bool) {
	if !l.IsActive || l.AvailableQuantity <= 0 || l.VerificationStatus == domain.VerificationStatusRejected {
		return 0, false
	}
	if req.MaxPrice.IsPositive() && l.PricePerCredit.GreaterThan(req.MaxPrice) {
		return 0, false
	}

	price := neutral
	if req.MaxPrice.IsPositive() {
		price = 1 - l.PricePerCredit.Div(req.MaxPrice).InexactFloat64()
	}

	vintage := neutral
	if req.PreferredVintage > 0 {
		vintage = math.Max(0, 1-math.Abs(float64(l.Vintage-req.PreferredVintage))/10)
	}

	verification := 0.3
	if l.VerificationStatus == domain.VerificationStatusVerified {
		verification = 1
	}

	coverage := math.Min(1, float64(l.AvailableQuantity)/float64(req.CreditsNeeded))

	projectType := neutral
	if req.PreferredProjectType != "" {
		projectType = 0
		if strings.EqualFold(req.PreferredProjectType, l.ProjectType) {
			projectType = 1
		}
	}

	total := p.Price + p.Vintage + p.Verification + p.Coverage + p.ProjectType
	if total <= 0 {
		return 0, true
	}
	score := (p.Price*price + p.Vintage*vintage + p.Verification*verification +
		p.Coverage*coverage + p.ProjectType*projectType) / total
	return score, true
}

type matchingService struct {
	listingRepo repository.ListingRepository
	policy      ScoringPolicy
}

func NewMatchingService(listingRepo repository.ListingRepository, policy ScoringPolicy) MatchingService {
	return &matchingService{listingRepo: listingRepo, policy: policy}
}

// FindMatches ranks active listings for a buyer; best score first, then
// cheapest, then oldest listing.
func (s *matchingService) FindMatches(ctx context.Context, buyerID int32, req MatchRequest, limit int) ([]Match, error) {
	if req.CreditsNeeded <= 0 {
		return nil, domain.NewFieldError(domain.ErrInvalidAmount, "credits_needed", "credits needed must be positive")
	}
	if req.MaxPrice.IsNegative() {
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "max_price", "max price must not be negative")
	}
	if limit <= 0 {
		limit = defaultMatchLimit
	}

	listings, _, err := s.listingRepo.List(ctx, repository.ListingFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(listings))
	for _, l := range listings {
		if l.SellerID == buyerID {
			continue
		}
		if score, ok := s.policy.Score(req, l); ok {
			matches = append(matches, Match{Listing: l, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Listing.PricePerCredit.Equal(b.Listing.PricePerCredit) {
			return a.Listing.PricePerCredit.LessThan(b.Listing.PricePerCredit)
		}
		return a.Listing.ID < b.Listing.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// internal/pricing/pricing.go
package pricing

import (
	"math"

	"github.com/prospectgrid/prospectgrid-backend/internal/model"
)

// Per-address unit costs in USD.
const (
	geocodingCost          = 0.005
	streetViewCostStandard = 0.007 // 1 image
	streetViewCostPremium  = 0.028 // 4 images
	scoringCostPerImage    = 0.000075

	markup = 1.5

	// Stripe floors card charges at $0.50.
	minimumChargeCents = 50
)

// TierQuote is one service level's cost breakdown.
type TierQuote struct {
	Subtotal    float64 `json:"subtotal"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

// Quote prices one service level for a batch of addresses.
func Quote(level model.ServiceLevel, addressCount int) TierQuote {
	n := float64(addressCount)
	subtotal := n * geocodingCost

	if level.MultiAngle() {
		subtotal += n * streetViewCostPremium
	} else {
		subtotal += n * streetViewCostStandard
	}
	if level.NeedsScoring() {
		images := 1.0
		if level.MultiAngle() {
			images = 4
		}
		subtotal += n * scoringCostPerImage * images
	}

	q := TierQuote{
		Subtotal: round2(subtotal),
		Price:    round2(subtotal * markup),
	}
	switch level {
	case model.StreetViewStandard:
		q.Description = "1 optimized angle"
	case model.StreetViewPremium:
		q.Description = "4 angles (N, E, S, W)"
	case model.FullScoringStandard:
		q.Description = "AI scoring (1 angle scored)"
	case model.FullScoringPremium:
		q.Description = "AI scoring (4 angles scored)"
	}
	return q
}

// AmountCents converts a quote to a chargeable amount.
func AmountCents(q TierQuote) int64 {
	cents := int64(math.Round(q.Price * 100))
	if cents < minimumChargeCents {
		cents = minimumChargeCents
	}
	return cents
}

// AllQuotes prices every tier for the estimate endpoint.
func AllQuotes(addressCount int) map[model.ServiceLevel]TierQuote {
	return map[model.ServiceLevel]TierQuote{
		model.StreetViewStandard:  Quote(model.StreetViewStandard, addressCount),
		model.StreetViewPremium:   Quote(model.StreetViewPremium, addressCount),
		model.FullScoringStandard: Quote(model.FullScoringStandard, addressCount),
		model.FullScoringPremium:  Quote(model.FullScoringPremium, addressCount),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

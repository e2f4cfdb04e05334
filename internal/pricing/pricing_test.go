// internal/pricing/pricing_test.go
package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prospectgrid/prospectgrid-backend/internal/model"
)

func TestQuoteStandardVsPremium(t *testing.T) {
	std := Quote(model.StreetViewStandard, 100)
	prem := Quote(model.StreetViewPremium, 100)

	// 100 x (0.005 + 0.007) = 1.20, 100 x (0.005 + 0.028) = 3.30
	assert.Equal(t, 1.20, std.Subtotal)
	assert.Equal(t, 3.30, prem.Subtotal)
	assert.Greater(t, prem.Price, std.Price)

	// Price carries the markup.
	assert.Equal(t, 1.80, std.Price)
	assert.Equal(t, 4.95, prem.Price)
}

func TestQuoteScoringAddsPerImageCost(t *testing.T) {
	sv := Quote(model.StreetViewPremium, 100)
	scored := Quote(model.FullScoringPremium, 100)
	assert.Greater(t, scored.Subtotal, sv.Subtotal)
}

func TestAmountCentsMinimumCharge(t *testing.T) {
	tiny := Quote(model.StreetViewStandard, 1)
	assert.Equal(t, int64(50), AmountCents(tiny))

	big := Quote(model.FullScoringPremium, 500)
	assert.Greater(t, AmountCents(big), int64(50))
}

func TestAllQuotesCoversEveryTier(t *testing.T) {
	quotes := AllQuotes(10)
	assert.Len(t, quotes, 4)
	for level, q := range quotes {
		assert.True(t, level.Valid())
		assert.NotEmpty(t, q.Description)
		assert.Greater(t, q.Price, 0.0)
	}
}

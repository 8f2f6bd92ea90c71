package clearing

import (
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/shopspring/decimal"
)

// MaxTaxRate is the highest tax rate the policy lookup may return.
const MaxTaxRate = 0.5

// FeeSchedule holds the seller-side fee rates.
type FeeSchedule struct {
	StandardRate            float64
	PreferentialRate        float64
	PreferentialProfessions []string
}

// RateFor returns the fee rate charged to a seller with attrs.
func (f FeeSchedule) RateFor(attrs domain.BuyerAttributes) float64 {
	if newProfessionSet(f.PreferentialProfessions).has(attrs.Profession) {
		return f.PreferentialRate
	}
	return f.StandardRate
}

// FloorPortion returns floor(amount * rate) using exact decimal arithmetic.
func FloorPortion(amount int64, rate float64) int64 {
	if amount <= 0 || rate <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(rate)).Floor().IntPart()
}

// ClampTaxRate bounds an external tax rate to [0, MaxTaxRate].
func ClampTaxRate(rate float64) float64 {
	switch {
	case rate != rate || rate < 0:
		return 0
	case rate > MaxTaxRate:
		return MaxTaxRate
	default:
		return rate
	}
}

package growth

import "github.com/shopspring/decimal"

// Fixed-point scales applied before values leave the package. Weight keeps
// six places so that sub-gram fry still accumulate daily gains.
const (
	WeightScale      int32 = 6
	BiomassScale     int32 = 3
	FeedScale        int32 = 3
	TemperatureScale int32 = 2
	FCRScale         int32 = 3
)

// Float converts a persisted decimal into the float domain of the growth law.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// FloatPtr converts an optional decimal.
func FloatPtr(d *decimal.Decimal) (float64, bool) {
	if d == nil {
		return 0, false
	}
	return Float(*d), true
}

// Weight rounds grams to the persisted weight scale.
func Weight(g float64) decimal.Decimal {
	return decimal.NewFromFloat(g).Round(WeightScale)
}

// Temperature rounds degrees Celsius to the persisted scale.
func Temperature(c float64) decimal.Decimal {
	return decimal.NewFromFloat(c).Round(TemperatureScale)
}

// FCR rounds a feed-conversion ratio to the persisted scale.
func FCR(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(FCRScale)
}

// Biomass returns population * weight / 1000 in kilograms, computed in
// fixed point from the already-rounded weight so that the persisted triple
// stays internally consistent.
func Biomass(population int64, weight decimal.Decimal) decimal.Decimal {
	if population <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(population).Mul(weight).Div(decimal.NewFromInt(1000)).Round(BiomassScale)
}

// Feed rounds a feed amount to the persisted scale.
func Feed(d decimal.Decimal) decimal.Decimal {
	return d.Round(FeedScale)
}

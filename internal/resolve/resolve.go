// Package resolve implements the tiered fallback hierarchies that produce one
// daily input each: temperature, mortality, feed and placements.
package resolve

import (
	"aquacore/pkg/domain"
)

// Confidence scores per tier.
const (
	ConfidenceMeasured          = 1.0
	ConfidenceInterpolatedShort = 0.7
	ConfidenceInterpolatedLong  = 0.4
	ConfidenceProfile           = 0.5
	ConfidenceActual            = 1.0
	ConfidenceProrated          = 0.9
	ConfidenceModel             = 0.4
	ConfidenceNone              = 0.0
)

// ShortGapDays is the widest reading gap still considered a short gap.
const ShortGapDays = 3

// Result is a resolved value with its provenance.
type Result[T any] struct {
	Value      T
	Source     domain.SourceTag
	Confidence float64
	Prorated   bool
}

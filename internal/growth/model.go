// Package growth implements the thermal growth law and the model-based
// fallback rates used by the daily state stepper. It performs no I/O.
//
// Weights, biomass, feed and temperatures cross the package boundary as
// fixed-point decimals; arithmetic happens in float64 inside this package
// only, and results are rounded back to fixed point before they leave it.
package growth

import (
	"fmt"
	"math"

	"aquacore/pkg/domain"
)

// Context carries the pinned scenario through every engine call.
type Context struct {
	Scenario    domain.GrowthScenario
	Constraints domain.BiologicalConstraints
}

// NewContext validates the scenario and derives its effective constraints.
func NewContext(scenario domain.GrowthScenario) (Context, error) {
	if err := scenario.Validate(); err != nil {
		return Context{}, err
	}
	c := Context{Scenario: scenario, Constraints: scenario.EffectiveConstraints()}
	for _, st := range scenario.Stages {
		if _, err := c.CoefficientFor(st.Order); err != nil {
			return Context{}, err
		}
	}
	return c, nil
}

// Coefficient is the resolved TGC and exponents for one stage.
type Coefficient struct {
	TGC            float64
	TempExponent   float64
	WeightExponent float64
}

// CoefficientFor resolves the TGC for a stage order, applying exponent
// overrides from the stage entry first and the model second.
func (c Context) CoefficientFor(stageOrder int) (Coefficient, error) {
	model := c.Scenario.TGC
	out := Coefficient{TempExponent: model.TempExponent, WeightExponent: model.WeightExponent}
	if out.TempExponent == 0 {
		out.TempExponent = domain.DefaultTempExponent
	}
	if out.WeightExponent == 0 {
		out.WeightExponent = domain.DefaultWeightExponent
	}
	for _, sc := range model.Coefficients {
		if sc.StageOrder != stageOrder {
			continue
		}
		out.TGC = sc.TGC
		if sc.TempExponent != nil {
			out.TempExponent = *sc.TempExponent
		}
		if sc.WeightExponent != nil {
			out.WeightExponent = *sc.WeightExponent
		}
		return out, nil
	}
	return Coefficient{}, fmt.Errorf("scenario %s has no TGC for stage order %d", c.Scenario.ID, stageOrder)
}

// DailyGain returns ΔW = TGC * T^n * W^m. Non-positive temperature or weight
// yields zero growth.
func DailyGain(coef Coefficient, tempC, weightG float64) float64 {
	if tempC <= 0 || weightG <= 0 || coef.TGC <= 0 {
		return 0
	}
	gain := coef.TGC * math.Pow(tempC, coef.TempExponent) * math.Pow(weightG, coef.WeightExponent)
	if math.IsNaN(gain) || math.IsInf(gain, 0) {
		return 0
	}
	return gain
}

// StepResult is the outcome of one growth step.
type StepResult struct {
	WeightG     float64
	TempUsed    float64
	TempClamped bool
	Capped      bool
}

// Step applies one day of the growth law for the given stage, clamping
// temperature to the biological constraints and, when configured, capping the
// relative daily gain.
func (c Context) Step(stageOrder int, tempC, weightG float64) (StepResult, error) {
	coef, err := c.CoefficientFor(stageOrder)
	if err != nil {
		return StepResult{}, err
	}
	res := StepResult{TempUsed: tempC}
	if tempC < c.Constraints.MinTempC {
		res.TempUsed, res.TempClamped = c.Constraints.MinTempC, true
	} else if tempC > c.Constraints.MaxTempC {
		res.TempUsed, res.TempClamped = c.Constraints.MaxTempC, true
	}
	gain := DailyGain(coef, res.TempUsed, weightG)
	if limit := c.Constraints.MaxDailyGrowthPct; limit > 0 && gain > weightG*limit/100 {
		gain = weightG * limit / 100
		res.Capped = true
	}
	res.WeightG = weightG + gain
	return res, nil
}

// MortalityRate returns the scenario's daily mortality fraction for a stage.
func (c Context) MortalityRate(stageOrder int) float64 {
	for _, r := range c.Scenario.Mortality.Rates {
		if r.StageOrder == stageOrder {
			return r.Value
		}
	}
	return c.Scenario.Mortality.DefaultRate
}

// ModelMortality applies the stage mortality rate to a population, rounded
// to whole fish.
func (c Context) ModelMortality(stageOrder int, population int64) int64 {
	if population <= 0 {
		return 0
	}
	rate := c.MortalityRate(stageOrder)
	if rate <= 0 {
		return 0
	}
	return int64(math.Round(rate * float64(population)))
}

// ModelFCR returns the expected feed-conversion ratio for a stage, or false
// when the scenario does not model it.
func (c Context) ModelFCR(stageOrder int) (float64, bool) {
	for _, r := range c.Scenario.FeedConversion.Rates {
		if r.StageOrder == stageOrder && r.Value > 0 {
			return r.Value, true
		}
	}
	return 0, false
}

// ProfileTemperature returns the scenario temperature for a lifecycle day,
// linearly interpolated between profile points and clamped at the ends.
func (c Context) ProfileTemperature(dayNumber int) float64 {
	pts := c.Scenario.TemperatureProfile.Points
	if len(pts) == 0 {
		return 0
	}
	best := -1
	for i, p := range pts {
		if p.Day == dayNumber {
			return p.TempC
		}
		if p.Day < dayNumber && (best < 0 || p.Day > pts[best].Day) {
			best = i
		}
	}
	next := -1
	for i, p := range pts {
		if p.Day > dayNumber && (next < 0 || p.Day < pts[next].Day) {
			next = i
		}
	}
	switch {
	case best < 0:
		return pts[next].TempC
	case next < 0:
		return pts[best].TempC
	}
	return Interpolate(float64(pts[best].Day), pts[best].TempC, float64(pts[next].Day), pts[next].TempC, float64(dayNumber))
}

// Interpolate returns the value at x on the line through (x0,y0) and (x1,y1).
func Interpolate(x0, y0, x1, y1, x float64) float64 {
	if x1 == x0 {
		return y0
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// StageFor returns the stage reached from current once weightG is known,
// advancing through every stage whose max-weight threshold was crossed.
func (c Context) StageFor(current domain.StageThreshold, weightG float64) domain.StageThreshold {
	stage := current
	for stage.MaxWeightG > 0 && weightG >= stage.MaxWeightG {
		next, ok := c.Scenario.NextStage(stage.Order)
		if !ok {
			break
		}
		stage = next
	}
	return stage
}

// StageForWeight picks the stage whose weight band contains weightG; used
// only when bootstrapping without a known stage.
func (c Context) StageForWeight(weightG float64) domain.StageThreshold {
	stages := c.Scenario.OrderedStages()
	for _, st := range stages {
		if weightG < st.MaxWeightG || st.MaxWeightG <= 0 {
			return st
		}
	}
	return stages[len(stages)-1]
}

package domain

import (
	"fmt"
	"sort"
)

// Default growth-law exponents applied when a scenario does not override them.
const (
	DefaultTempExponent   = 0.33
	DefaultWeightExponent = 0.66
)

// StageThreshold defines one lifecycle stage. Stages are identified by Order,
// never by Name, so renaming a stage does not affect transitions.
type StageThreshold struct {
	Order      int     `json:"order" yaml:"order"`
	Name       string  `json:"name" yaml:"name"`
	MinWeightG float64 `json:"min_weight_g" yaml:"min_weight_g"`
	MaxWeightG float64 `json:"max_weight_g" yaml:"max_weight_g"`
}

// StageCoefficient is the TGC for one stage with optional exponent overrides.
type StageCoefficient struct {
	StageOrder     int      `json:"stage_order" yaml:"stage_order"`
	TGC            float64  `json:"tgc" yaml:"tgc"`
	TempExponent   *float64 `json:"temp_exponent,omitempty" yaml:"temp_exponent,omitempty"`
	WeightExponent *float64 `json:"weight_exponent,omitempty" yaml:"weight_exponent,omitempty"`
}

// TGCModel maps stages to thermal growth coefficients.
type TGCModel struct {
	Name           string             `json:"name" yaml:"name"`
	TempExponent   float64            `json:"temp_exponent" yaml:"temp_exponent"`
	WeightExponent float64            `json:"weight_exponent" yaml:"weight_exponent"`
	Coefficients   []StageCoefficient `json:"coefficients" yaml:"coefficients"`
}

// StageRate is a per-stage scalar (daily mortality fraction or FCR).
type StageRate struct {
	StageOrder int     `json:"stage_order" yaml:"stage_order"`
	Value      float64 `json:"value" yaml:"value"`
}

// MortalityModel holds stage-specific daily mortality fractions.
type MortalityModel struct {
	Name        string      `json:"name" yaml:"name"`
	DefaultRate float64     `json:"default_rate" yaml:"default_rate"`
	Rates       []StageRate `json:"rates" yaml:"rates"`
}

// FCRModel holds stage-specific expected feed-conversion ratios.
type FCRModel struct {
	Name  string      `json:"name" yaml:"name"`
	Rates []StageRate `json:"rates" yaml:"rates"`
}

// ProfilePoint is a temperature at a day of the lifecycle.
type ProfilePoint struct {
	Day   int     `json:"day" yaml:"day"`
	TempC float64 `json:"temp_c" yaml:"temp_c"`
}

// TemperatureProfile is the expected temperature curve indexed by day number.
type TemperatureProfile struct {
	Name   string         `json:"name" yaml:"name"`
	Points []ProfilePoint `json:"points" yaml:"points"`
}

// BiologicalConstraints bound the values the growth law is allowed to use.
type BiologicalConstraints struct {
	MinTempC          float64 `json:"min_temp_c" yaml:"min_temp_c"`
	MaxTempC          float64 `json:"max_temp_c" yaml:"max_temp_c"`
	MaxFCR            float64 `json:"max_fcr" yaml:"max_fcr"`
	ImplausibleFCR    float64 `json:"implausible_fcr" yaml:"implausible_fcr"`
	MaxDailyGrowthPct float64 `json:"max_daily_growth_pct" yaml:"max_daily_growth_pct"`
}

// DefaultConstraints returns the constraints used when a scenario omits them.
func DefaultConstraints() BiologicalConstraints {
	return BiologicalConstraints{
		MinTempC:       -2,
		MaxTempC:       30,
		MaxFCR:         10,
		ImplausibleFCR: 3,
	}
}

// GrowthScenario pins the models used as fallback for a batch.
type GrowthScenario struct {
	Base               `yaml:",inline"`
	Name               string                 `json:"name" yaml:"name"`
	Stages             []StageThreshold       `json:"stages" yaml:"stages"`
	TGC                TGCModel               `json:"tgc" yaml:"tgc"`
	Mortality          MortalityModel         `json:"mortality" yaml:"mortality"`
	FeedConversion     FCRModel               `json:"feed_conversion" yaml:"feed_conversion"`
	TemperatureProfile TemperatureProfile     `json:"temperature_profile" yaml:"temperature_profile"`
	Constraints        *BiologicalConstraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Validate checks that the scenario can drive a recompute.
func (s GrowthScenario) Validate() error {
	if len(s.Stages) == 0 {
		return fmt.Errorf("scenario %s: no stages defined", s.ID)
	}
	seen := make(map[int]struct{}, len(s.Stages))
	for _, st := range s.Stages {
		if _, dup := seen[st.Order]; dup {
			return fmt.Errorf("scenario %s: duplicate stage order %d", s.ID, st.Order)
		}
		seen[st.Order] = struct{}{}
		if st.MaxWeightG > 0 && st.MaxWeightG < st.MinWeightG {
			return fmt.Errorf("scenario %s: stage %d max weight below min weight", s.ID, st.Order)
		}
	}
	if len(s.TemperatureProfile.Points) == 0 {
		return fmt.Errorf("scenario %s: temperature profile is empty", s.ID)
	}
	return nil
}

// OrderedStages returns the stages sorted by Order.
func (s GrowthScenario) OrderedStages() []StageThreshold {
	out := append([]StageThreshold(nil), s.Stages...)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Stage returns the stage with the given order.
func (s GrowthScenario) Stage(order int) (StageThreshold, bool) {
	for _, st := range s.Stages {
		if st.Order == order {
			return st, true
		}
	}
	return StageThreshold{}, false
}

// StageByName resolves a stage name to its definition. Used only to map the
// assignment's stored stage label onto an order index at bootstrap.
func (s GrowthScenario) StageByName(name string) (StageThreshold, bool) {
	for _, st := range s.Stages {
		if st.Name == name {
			return st, true
		}
	}
	return StageThreshold{}, false
}

// NextStage returns the stage following order, if any.
func (s GrowthScenario) NextStage(order int) (StageThreshold, bool) {
	var next StageThreshold
	found := false
	for _, st := range s.Stages {
		if st.Order <= order {
			continue
		}
		if !found || st.Order < next.Order {
			next = st
			found = true
		}
	}
	return next, found
}

// EffectiveConstraints returns the scenario constraints or the defaults.
func (s GrowthScenario) EffectiveConstraints() BiologicalConstraints {
	if s.Constraints == nil {
		return DefaultConstraints()
	}
	c := *s.Constraints
	def := DefaultConstraints()
	if c.MaxFCR <= 0 {
		c.MaxFCR = def.MaxFCR
	}
	if c.ImplausibleFCR <= 0 {
		c.ImplausibleFCR = def.ImplausibleFCR
	}
	if c.MaxTempC <= c.MinTempC {
		c.MinTempC, c.MaxTempC = def.MinTempC, def.MaxTempC
	}
	return c
}

package growth

import (
	"math"
	"testing"

	"aquacore/pkg/domain"

	"github.com/shopspring/decimal"
)

func testScenario() domain.GrowthScenario {
	return domain.GrowthScenario{
		Base: domain.Base{ID: "scn-1"},
		Name: "atlantic salmon",
		Stages: []domain.StageThreshold{
			{Order: 1, Name: "fry", MinWeightG: 1, MaxWeightG: 5},
			{Order: 2, Name: "parr", MinWeightG: 5, MaxWeightG: 30},
			{Order: 3, Name: "smolt", MinWeightG: 30, MaxWeightG: 150},
			{Order: 4, Name: "adult", MinWeightG: 150},
		},
		TGC: domain.TGCModel{Coefficients: []domain.StageCoefficient{
			{StageOrder: 1, TGC: 0.02},
			{StageOrder: 2, TGC: 0.025},
			{StageOrder: 3, TGC: 0.025},
			{StageOrder: 4, TGC: 0.03},
		}},
		Mortality: domain.MortalityModel{DefaultRate: 0.001, Rates: []domain.StageRate{{StageOrder: 1, Value: 0.0005}}},
		FeedConversion: domain.FCRModel{Rates: []domain.StageRate{{StageOrder: 3, Value: 1.1}}},
		TemperatureProfile: domain.TemperatureProfile{Points: []domain.ProfilePoint{
			{Day: 0, TempC: 8}, {Day: 10, TempC: 12}, {Day: 20, TempC: 10},
		}},
	}
}

func mustContext(t *testing.T) Context {
	t.Helper()
	c, err := NewContext(testScenario())
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	return c
}

func TestDailyGainMatchesGrowthLaw(t *testing.T) {
	coef := Coefficient{TGC: 0.025, TempExponent: domain.DefaultTempExponent, WeightExponent: domain.DefaultWeightExponent}
	want := 0.025 * math.Pow(12, 0.33) * math.Pow(50, 0.66)
	if got := DailyGain(coef, 12, 50); math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := DailyGain(coef, 0, 50); got != 0 {
		t.Fatalf("expected zero growth at 0C, got %v", got)
	}
	if got := DailyGain(coef, -1.5, 50); got != 0 {
		t.Fatalf("expected zero growth below 0C, got %v", got)
	}
}

func TestNewContextRequiresCoefficientPerStage(t *testing.T) {
	s := testScenario()
	s.TGC.Coefficients = s.TGC.Coefficients[:2]
	if _, err := NewContext(s); err == nil {
		t.Fatalf("expected missing coefficient error")
	}
	s = testScenario()
	s.TemperatureProfile.Points = nil
	if _, err := NewContext(s); err == nil {
		t.Fatalf("expected empty profile error")
	}
}

func TestCoefficientOverrides(t *testing.T) {
	s := testScenario()
	n := 0.4
	s.TGC.WeightExponent = 0.7
	s.TGC.Coefficients[1].TempExponent = &n
	c, err := NewContext(s)
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	coef, err := c.CoefficientFor(2)
	if err != nil {
		t.Fatalf("coef: %v", err)
	}
	if coef.TempExponent != 0.4 || coef.WeightExponent != 0.7 || coef.TGC != 0.025 {
		t.Fatalf("unexpected coefficient %+v", coef)
	}
}

func TestStepClampsTemperatureAndCapsGrowth(t *testing.T) {
	s := testScenario()
	s.Constraints = &domain.BiologicalConstraints{MinTempC: 0, MaxTempC: 18, MaxDailyGrowthPct: 1}
	c, err := NewContext(s)
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	res, err := c.Step(3, 25, 100)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !res.TempClamped || res.TempUsed != 18 {
		t.Fatalf("expected clamp to 18, got %+v", res)
	}
	if !res.Capped || math.Abs(res.WeightG-101) > 1e-9 {
		t.Fatalf("expected growth capped at 1%%, got %+v", res)
	}
	if c.Constraints.MaxFCR != 10 || c.Constraints.ImplausibleFCR != 3 {
		t.Fatalf("expected default fcr bounds, got %+v", c.Constraints)
	}
}

func TestModelMortality(t *testing.T) {
	c := mustContext(t)
	if got := c.ModelMortality(1, 10000); got != 5 {
		t.Fatalf("expected 5 deaths, got %d", got)
	}
	if got := c.ModelMortality(2, 10000); got != 10 {
		t.Fatalf("expected default rate 10 deaths, got %d", got)
	}
	if got := c.ModelMortality(2, 0); got != 0 {
		t.Fatalf("expected 0 for empty population, got %d", got)
	}
}

func TestModelFCR(t *testing.T) {
	c := mustContext(t)
	if v, ok := c.ModelFCR(3); !ok || v != 1.1 {
		t.Fatalf("expected 1.1, got %v %v", v, ok)
	}
	if _, ok := c.ModelFCR(1); ok {
		t.Fatalf("expected no fcr for stage 1")
	}
}

func TestProfileTemperature(t *testing.T) {
	c := mustContext(t)
	cases := map[int]float64{-3: 8, 0: 8, 5: 10, 10: 12, 15: 11, 20: 10, 400: 10}
	for day, want := range cases {
		if got := c.ProfileTemperature(day); math.Abs(got-want) > 1e-9 {
			t.Fatalf("day %d: expected %v, got %v", day, want, got)
		}
	}
}

func TestStageForAdvancesByOrder(t *testing.T) {
	c := mustContext(t)
	fry, _ := c.Scenario.Stage(1)
	if got := c.StageFor(fry, 4.9); got.Order != 1 {
		t.Fatalf("expected to stay in fry, got %d", got.Order)
	}
	if got := c.StageFor(fry, 5); got.Order != 2 {
		t.Fatalf("expected parr, got %d", got.Order)
	}
	if got := c.StageFor(fry, 200); got.Order != 4 {
		t.Fatalf("expected jump to adult, got %d", got.Order)
	}
	adult, _ := c.Scenario.Stage(4)
	if got := c.StageFor(adult, 10000); got.Order != 4 {
		t.Fatalf("expected final stage to hold, got %d", got.Order)
	}
	if got := c.StageForWeight(40); got.Order != 3 {
		t.Fatalf("expected smolt band, got %d", got.Order)
	}
}

func TestDecimalBridge(t *testing.T) {
	w := Weight(50.7500004)
	if w.String() != "50.75" {
		t.Fatalf("expected 50.75, got %s", w)
	}
	if fry := Weight(0.0512345678); fry.String() != "0.051235" {
		t.Fatalf("expected sub-gram weight kept to six places, got %s", fry)
	}
	b := Biomass(10000, w)
	if !b.Equal(decimal.RequireFromString("507.5")) {
		t.Fatalf("expected 507.5kg, got %s", b)
	}
	if !Biomass(-4, w).IsZero() {
		t.Fatalf("expected zero biomass for negative population")
	}
	if f, ok := FloatPtr(nil); ok || f != 0 {
		t.Fatalf("expected nil pointer to be absent")
	}
}

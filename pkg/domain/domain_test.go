package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDayAndDateKey(t *testing.T) {
	local := time.Date(2024, 3, 10, 23, 30, 0, 0, time.FixedZone("x", -3*3600))
	if got := DateKey(local); got != "2024-03-11" {
		t.Fatalf("expected UTC calendar day, got %s", got)
	}
	parsed, err := ParseDateKey("2024-03-11")
	if err != nil || !parsed.Equal(Day(local)) {
		t.Fatalf("parse mismatch %v %v", parsed, err)
	}
	if _, err := ParseDateKey("11/03/2024"); err == nil {
		t.Fatalf("expected parse error")
	}
	if n := DaysBetween(parsed, parsed.AddDate(0, 0, 30)); n != 30 {
		t.Fatalf("expected 30 days, got %d", n)
	}
}

func TestAssignmentActiveOn(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dep := start.AddDate(0, 0, 10)
	a := ContainerAssignment{AssignmentDate: start, DepartureDate: &dep}
	cases := map[time.Time]bool{
		start.AddDate(0, 0, -1):   false,
		start:                     true,
		start.Add(20 * time.Hour): true,
		dep.AddDate(0, 0, -1):     true,
		dep:                       false,
	}
	for day, want := range cases {
		if got := a.ActiveOn(day); got != want {
			t.Fatalf("ActiveOn(%s) = %v, want %v", DateKey(day), got, want)
		}
	}
	a.DepartureDate = nil
	if !a.ActiveOn(start.AddDate(5, 0, 0)) {
		t.Fatalf("open assignment should stay active")
	}
}

func TestAnchorPrecedence(t *testing.T) {
	order := []AnchorType{AnchorGrowthSample, AnchorTransfer, AnchorTreatment, AnchorManual, AnchorNone}
	for i := 1; i < len(order); i++ {
		if order[i-1].Precedence() >= order[i].Precedence() {
			t.Fatalf("%s should outrank %s", order[i-1], order[i])
		}
	}
}

func TestSameContentIgnoresComputedAt(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := DailyAssignmentState{
		AssignmentID: "a1",
		Date:         day,
		AvgWeightG:   decimal.RequireFromString("50.25"),
		Population:   100,
		Flags:        []QualityFlag{FlagFCRInsufficientData},
		ComputedAt:   day.Add(time.Hour),
	}
	b := a
	b.ComputedAt = day.Add(48 * time.Hour)
	b.Date = day.Add(6 * time.Hour)
	if !a.SameContent(b) {
		t.Fatalf("rows differing only in computed_at should match")
	}
	b.Population = 99
	if a.SameContent(b) {
		t.Fatalf("population change must be detected")
	}
	if !a.HasFlag(FlagFCRInsufficientData) || a.HasFlag(FlagFCRClamped) {
		t.Fatalf("flag lookup mismatch")
	}
	if k := a.Key(); k.AssignmentID != "a1" || k.Date != "2024-05-01" {
		t.Fatalf("unexpected key %+v", k)
	}
}

func validScenario() GrowthScenario {
	return GrowthScenario{
		Base: Base{ID: "scn"},
		Stages: []StageThreshold{
			{Order: 2, Name: "smolt", MinWeightG: 50, MaxWeightG: 200},
			{Order: 1, Name: "fry", MinWeightG: 1, MaxWeightG: 50},
			{Order: 3, Name: "grower", MinWeightG: 200},
		},
		TemperatureProfile: TemperatureProfile{Points: []ProfilePoint{{Day: 0, TempC: 8}}},
	}
}

func TestScenarioValidate(t *testing.T) {
	if err := validScenario().Validate(); err != nil {
		t.Fatalf("valid scenario rejected: %v", err)
	}
	cases := map[string]func(*GrowthScenario){
		"no stages":     func(s *GrowthScenario) { s.Stages = nil },
		"dup order":     func(s *GrowthScenario) { s.Stages[1].Order = 2 },
		"inverted":      func(s *GrowthScenario) { s.Stages[0].MaxWeightG = 10 },
		"empty profile": func(s *GrowthScenario) { s.TemperatureProfile.Points = nil },
	}
	for name, mutate := range cases {
		sc := validScenario()
		mutate(&sc)
		if err := sc.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestScenarioStageNavigation(t *testing.T) {
	sc := validScenario()
	ordered := sc.OrderedStages()
	if ordered[0].Name != "fry" || ordered[2].Name != "grower" {
		t.Fatalf("unexpected order %v", ordered)
	}
	if sc.Stages[0].Name != "smolt" {
		t.Fatalf("OrderedStages must not reorder the scenario")
	}
	next, ok := sc.NextStage(1)
	if !ok || next.Name != "smolt" {
		t.Fatalf("expected smolt after fry, got %v %v", next, ok)
	}
	if _, ok := sc.NextStage(3); ok {
		t.Fatalf("last stage has no successor")
	}
	if st, ok := sc.StageByName("grower"); !ok || st.Order != 3 {
		t.Fatalf("stage by name failed")
	}
	if _, ok := sc.Stage(9); ok {
		t.Fatalf("unknown order should not resolve")
	}
	c := sc.EffectiveConstraints()
	if c.MaxFCR != 10 || c.ImplausibleFCR != 3 {
		t.Fatalf("expected default constraints, got %+v", c)
	}
}

func TestErrorHelpers(t *testing.T) {
	nf := fmt.Errorf("load: %w", ErrNotFound{Entity: EntityAssignment, ID: "a9"})
	if !IsNotFound(nf) || IsConfigurationError(nf) {
		t.Fatalf("not-found discrimination failed")
	}
	cfg := fmt.Errorf("recompute: %w", &ConfigurationError{AssignmentID: "a1", BatchID: "b1", Reason: "no scenario pinned"})
	if !IsConfigurationError(cfg) {
		t.Fatalf("configuration error not detected")
	}
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	de := &DayError{Date: day, Err: &DataGapError{Input: InputTemperature, AssignmentID: "a1", Date: day}}
	var gap *DataGapError
	if !errors.As(de, &gap) || gap.Input != InputTemperature {
		t.Fatalf("day error should unwrap to data gap")
	}
	if de.Error() != "day 2024-01-02: no temperature data for assignment a1 on 2024-01-02" {
		t.Fatalf("unexpected message %q", de.Error())
	}
}

func TestTriggerRuleAppliesTo(t *testing.T) {
	global := TriggerRule{Active: true}
	scoped := TriggerRule{Active: true, BatchID: "b1"}
	if !global.AppliesTo("b2") || !scoped.AppliesTo("b1") || scoped.AppliesTo("b2") {
		t.Fatalf("rule scoping mismatch")
	}
	if (TriggerRule{}).AppliesTo("b1") {
		t.Fatalf("inactive rule must not apply")
	}
}

// Package stepper computes one DailyAssignmentState from the previous day's
// row, the day's anchor and the day's resolved inputs.
package stepper

import (
	"fmt"
	"time"

	"aquacore/internal/growth"
	"aquacore/internal/resolve"
	"aquacore/pkg/domain"

	"github.com/shopspring/decimal"
)

// Confidence caps for model-derived weights.
const (
	MaxModelWeightConfidence = 0.6
	BootstrapConfidence      = 0.3
)

// AboveModelFactor is the multiple of the scenario FCR above which an
// observed FCR is flagged.
const AboveModelFactor = 1.5

// Inputs are the resolved values for one day.
type Inputs struct {
	Temperature resolve.Result[float64]
	Mortality   resolve.Result[int64]
	Feed        resolve.Result[decimal.Decimal]
	Placements  int64
	Removals    int64
}

// Day describes the day being stepped.
type Day struct {
	Assignment domain.ContainerAssignment
	Date       time.Time
	DayNumber  int
	Anchor     *domain.Anchor
	// TransferDestination is consulted only when there is no previous row.
	TransferDestination bool
	Inputs              Inputs
}

// Baseline is the population, weight and stage a day starts from.
type Baseline struct {
	Population int64
	WeightG    float64
	Biomass    decimal.Decimal
	Stage      domain.StageThreshold
	Bootstrap  bool
}

// Outcome is the computed row plus the guard violations raised on the way.
type Outcome struct {
	State        domain.DailyAssignmentState
	Violations   []*domain.NumericGuardViolation
	StageChanged bool
}

// Stepper is the per-day state-transition function. It holds no mutable
// state and is safe for concurrent use.
type Stepper struct {
	gc  growth.Context
	now func() time.Time
}

// New constructs a stepper bound to a growth context.
func New(gc growth.Context, now func() time.Time) *Stepper {
	if now == nil {
		now = time.Now
	}
	return &Stepper{gc: gc, now: now}
}

// Baseline returns the starting point of day: the previous row when present,
// otherwise the bootstrap values of the assignment.
func (s *Stepper) Baseline(prev *domain.DailyAssignmentState, day Day) (Baseline, error) {
	if prev != nil {
		stage, ok := s.gc.Scenario.Stage(prev.StageOrder)
		if !ok {
			stage, ok = s.gc.Scenario.StageByName(prev.LifecycleStage)
		}
		if !ok {
			return Baseline{}, &domain.ConfigurationError{
				AssignmentID: day.Assignment.ID,
				BatchID:      day.Assignment.BatchID,
				Reason:       fmt.Sprintf("stage order %d not in scenario %s", prev.StageOrder, s.gc.Scenario.ID),
			}
		}
		return Baseline{
			Population: prev.Population,
			WeightG:    growth.Float(prev.AvgWeightG),
			Biomass:    prev.BiomassKg,
			Stage:      stage,
		}, nil
	}

	b := Baseline{Population: day.Assignment.InitialPopulation, Bootstrap: true}
	if day.TransferDestination {
		b.Population = 0
	}
	if b.Population < 0 {
		b.Population = 0
	}
	stage, ok := s.gc.Scenario.StageByName(day.Assignment.LifecycleStage)
	switch {
	case ok:
	case day.Anchor != nil:
		stage = s.gc.StageForWeight(growth.Float(day.Anchor.MeasuredWeightG))
	default:
		stage = s.gc.Scenario.OrderedStages()[0]
	}
	b.Stage = stage
	b.WeightG = stage.MinWeightG
	return b, nil
}

// Step computes the state for day.
func (s *Stepper) Step(prev *domain.DailyAssignmentState, day Day) (Outcome, error) {
	base, err := s.Baseline(prev, day)
	if err != nil {
		return Outcome{}, err
	}
	date := domain.Day(day.Date)
	in := day.Inputs
	out := Outcome{}
	st := domain.DailyAssignmentState{
		AssignmentID:     day.Assignment.ID,
		BatchID:          day.Assignment.BatchID,
		ContainerID:      day.Assignment.ContainerID,
		Date:             date,
		DayNumber:        day.DayNumber,
		MortalityCount:   in.Mortality.Value,
		PlacementsCount:  in.Placements,
		RemovalsCount:    in.Removals,
		FeedKg:           growth.Feed(in.Feed.Value),
		AnchorType:       domain.AnchorNone,
		Sources:          make(map[string]domain.SourceTag, 6),
		ConfidenceScores: make(map[string]float64, 6),
		ScenarioID:       s.gc.Scenario.ID,
	}
	guard := func(flag domain.QualityFlag, raw, applied float64) {
		st.Flags = append(st.Flags, flag)
		out.Violations = append(out.Violations, &domain.NumericGuardViolation{
			AssignmentID: day.Assignment.ID,
			Date:         date,
			Flag:         flag,
			Raw:          raw,
			Applied:      applied,
		})
	}

	// Population.
	pop := base.Population + in.Placements - in.Removals - in.Mortality.Value
	if pop < 0 {
		guard(domain.FlagPopulationFloored, float64(pop), 0)
		pop = 0
	}
	st.Population = pop
	if in.Mortality.Prorated {
		st.Flags = append(st.Flags, domain.FlagMortalityProrated)
	}

	// Temperature.
	temp := growth.Temperature(in.Temperature.Value)
	st.TempC = &temp
	st.Sources[domain.InputTemperature] = in.Temperature.Source
	st.ConfidenceScores[domain.InputTemperature] = in.Temperature.Confidence

	// Weight.
	var weight decimal.Decimal
	switch {
	case day.Anchor != nil:
		weight = day.Anchor.MeasuredWeightG.Round(growth.WeightScale)
		st.AnchorType = day.Anchor.Type
		st.Sources[domain.InputWeight] = domain.SourceMeasured
		st.ConfidenceScores[domain.InputWeight] = day.Anchor.Confidence
		if day.Anchor.Ambiguous {
			st.Flags = append(st.Flags, domain.FlagAnchorAmbiguous)
		}
	case base.Bootstrap:
		weight = growth.Weight(base.WeightG)
		st.Sources[domain.InputWeight] = domain.SourceModel
		st.ConfidenceScores[domain.InputWeight] = BootstrapConfidence
	default:
		res, err := s.gc.Step(base.Stage.Order, in.Temperature.Value, base.WeightG)
		if err != nil {
			return Outcome{}, &domain.ConfigurationError{
				AssignmentID: day.Assignment.ID,
				BatchID:      day.Assignment.BatchID,
				Reason:       err.Error(),
			}
		}
		if res.TempClamped {
			guard(domain.FlagTemperatureClamped, in.Temperature.Value, res.TempUsed)
		}
		if res.Capped {
			st.Flags = append(st.Flags, domain.FlagGrowthCapped)
		}
		weight = growth.Weight(res.WeightG)
		st.Sources[domain.InputWeight] = domain.SourceModel
		st.ConfidenceScores[domain.InputWeight] = min(in.Temperature.Confidence, MaxModelWeightConfidence)
	}
	if prev != nil && weight.LessThan(prev.AvgWeightG) {
		guard(domain.FlagWeightDecreased, growth.Float(prev.AvgWeightG), growth.Float(weight))
	}
	st.AvgWeightG = weight

	// Biomass.
	st.BiomassKg = growth.Biomass(pop, weight)

	// Stage.
	stage := s.gc.StageFor(base.Stage, growth.Float(weight))
	st.LifecycleStage = stage.Name
	st.StageOrder = stage.Order
	out.StageChanged = prev != nil && stage.Order != prev.StageOrder

	// Mortality, feed and placements provenance.
	st.Sources[domain.InputMortality] = in.Mortality.Source
	st.ConfidenceScores[domain.InputMortality] = in.Mortality.Confidence
	st.Sources[domain.InputFeed] = in.Feed.Source
	st.ConfidenceScores[domain.InputFeed] = in.Feed.Confidence
	if in.Placements > 0 || in.Removals > 0 {
		st.Sources[domain.InputPlacements] = domain.SourceActual
		st.ConfidenceScores[domain.InputPlacements] = resolve.ConfidenceActual
	} else {
		st.Sources[domain.InputPlacements] = domain.SourceNone
		st.ConfidenceScores[domain.InputPlacements] = resolve.ConfidenceNone
	}

	s.observeFCR(&st, prev, stage.Order, guard)

	st.ComputedAt = s.now().UTC()
	out.State = st
	return out, nil
}

func (s *Stepper) observeFCR(st *domain.DailyAssignmentState, prev *domain.DailyAssignmentState, stageOrder int, guard func(domain.QualityFlag, float64, float64)) {
	gained := decimal.Zero
	if prev != nil {
		gained = st.BiomassKg.Sub(prev.BiomassKg)
	}
	if prev == nil || !st.FeedKg.IsPositive() || !gained.IsPositive() {
		st.Flags = append(st.Flags, domain.FlagFCRInsufficientData)
		st.Sources[domain.InputFCR] = domain.SourceNone
		st.ConfidenceScores[domain.InputFCR] = resolve.ConfidenceNone
		return
	}

	c := s.gc.Constraints
	fcr := st.FeedKg.DivRound(gained, growth.FCRScale)
	raw := growth.Float(fcr)
	if raw > c.ImplausibleFCR {
		guard(domain.FlagFCRImplausible, raw, min(raw, c.MaxFCR))
	}
	if limit := decimal.NewFromFloat(c.MaxFCR); fcr.GreaterThan(limit) {
		guard(domain.FlagFCRClamped, raw, c.MaxFCR)
		fcr = limit.Round(growth.FCRScale)
	}
	if fcr.IsNegative() {
		fcr = decimal.Zero
	}
	if model, ok := s.gc.ModelFCR(stageOrder); ok && raw > model*AboveModelFactor {
		st.Flags = append(st.Flags, domain.FlagFCRAboveModel)
	}
	st.ObservedFCR = &fcr
	st.Sources[domain.InputFCR] = domain.SourceActual
	st.ConfidenceScores[domain.InputFCR] = min(st.ConfidenceScores[domain.InputFeed], st.ConfidenceScores[domain.InputWeight])
}

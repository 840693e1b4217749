package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"aquacore/internal/growth"
	"aquacore/pkg/domain"

	"github.com/shopspring/decimal"
)

func day(n int) time.Time {
	return time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func inRange(t, from, to time.Time) bool { return !t.Before(from) && t.Before(to) }

type stubReadings []domain.SensorReading

func (s stubReadings) TemperatureReadings(_ context.Context, _ string, from, to time.Time) ([]domain.SensorReading, error) {
	var out []domain.SensorReading
	for _, r := range s {
		if inRange(r.Timestamp, from, to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func reading(n, hour int, v string) domain.SensorReading {
	return domain.SensorReading{
		ContainerID: "tank-1",
		Timestamp:   day(n).Add(time.Duration(hour) * time.Hour),
		Parameter:   domain.SensorParameterTemperature,
		Value:       decimal.RequireFromString(v),
	}
}

func testContext(t *testing.T) growth.Context {
	t.Helper()
	c, err := growth.NewContext(domain.GrowthScenario{
		Base:               domain.Base{ID: "scn"},
		Stages:             []domain.StageThreshold{{Order: 1, Name: "smolt", MinWeightG: 30, MaxWeightG: 150}},
		TGC:                domain.TGCModel{Coefficients: []domain.StageCoefficient{{StageOrder: 1, TGC: 0.025}}},
		Mortality:          domain.MortalityModel{DefaultRate: 0.001},
		TemperatureProfile: domain.TemperatureProfile{Points: []domain.ProfilePoint{{Day: 0, TempC: 9.5}}},
	})
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	return c
}

func TestTemperatureMeasuredUsesDailyMean(t *testing.T) {
	r := NewTemperature(stubReadings{reading(0, 6, "11"), reading(0, 18, "13")}, 0)
	res, err := r.Resolve(context.Background(), testContext(t), "tank-1", day(0), 40)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Value != 12 || res.Source != domain.SourceMeasured || res.Confidence != 1.0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTemperatureInterpolatesShortAndLongGaps(t *testing.T) {
	r := NewTemperature(stubReadings{reading(0, 12, "10"), reading(2, 12, "14"), reading(10, 12, "10")}, 0)
	res, err := r.Resolve(context.Background(), testContext(t), "tank-1", day(1), 41)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Value != 12 || res.Source != domain.SourceInterpolated || res.Confidence != ConfidenceInterpolatedShort {
		t.Fatalf("unexpected short gap result %+v", res)
	}
	res, err = r.Resolve(context.Background(), testContext(t), "tank-1", day(6), 46)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Value != 12 || res.Confidence != ConfidenceInterpolatedLong {
		t.Fatalf("unexpected long gap result %+v", res)
	}
}

func TestTemperatureGapIsMeasuredBetweenReadings(t *testing.T) {
	// Day 1 sits next to the day-0 reading, but the bracketing readings are
	// four days apart, which is a long gap.
	long := NewTemperature(stubReadings{reading(0, 12, "10"), reading(4, 12, "14")}, 0)
	res, err := long.Resolve(context.Background(), testContext(t), "tank-1", day(1), 41)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Value != 11 || res.Confidence != ConfidenceInterpolatedLong {
		t.Fatalf("expected 11 at long-gap confidence, got %+v", res)
	}
	short := NewTemperature(stubReadings{reading(0, 12, "10"), reading(3, 12, "13")}, 0)
	res, err = short.Resolve(context.Background(), testContext(t), "tank-1", day(2), 42)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Value != 12 || res.Confidence != ConfidenceInterpolatedShort {
		t.Fatalf("expected 12 at short-gap confidence, got %+v", res)
	}
}

func TestTemperatureFallsBackToProfile(t *testing.T) {
	r := NewTemperature(stubReadings{reading(-2, 12, "10")}, 0)
	res, err := r.Resolve(context.Background(), testContext(t), "tank-1", day(0), 40)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != domain.SourceProfile || res.Confidence != 0.5 || res.Value != 9.5 {
		t.Fatalf("expected profile fallback, got %+v", res)
	}
	res, err = NewTemperature(stubReadings(nil), 0).Resolve(context.Background(), testContext(t), "tank-1", day(0), 0)
	if err != nil || res.Source != domain.SourceProfile || res.Confidence != 0.5 {
		t.Fatalf("expected profile with no readings, got %+v %v", res, err)
	}
}

type stubMortality struct {
	own   []domain.MortalityEvent
	batch []domain.MortalityEvent
	err   error
}

func (s stubMortality) AssignmentMortality(context.Context, string, time.Time, time.Time) ([]domain.MortalityEvent, error) {
	return s.own, s.err
}

func (s stubMortality) BatchMortality(context.Context, string, time.Time, time.Time) ([]domain.MortalityEvent, error) {
	return s.batch, nil
}

var asg = domain.ContainerAssignment{Base: domain.Base{ID: "asg-1"}, BatchID: "b-1", ContainerID: "tank-1"}

func TestMortalityHierarchy(t *testing.T) {
	gc := testContext(t)
	ctx := context.Background()
	pop := func(context.Context, string, time.Time) (int64, error) { return 40000, nil }

	m := NewMortality(stubMortality{own: []domain.MortalityEvent{{AssignmentID: "asg-1", Count: 7}, {AssignmentID: "asg-1", Count: 3}}}, pop)
	res, err := m.Resolve(ctx, gc, asg, day(0), 10000, 1)
	if err != nil || res.Value != 10 || res.Source != domain.SourceActual || res.Confidence != 1.0 || res.Prorated {
		t.Fatalf("expected assignment actual, got %+v %v", res, err)
	}

	m = NewMortality(stubMortality{batch: []domain.MortalityEvent{{BatchID: "b-1", Count: 100}}}, pop)
	res, err = m.Resolve(ctx, gc, asg, day(0), 10000, 1)
	if err != nil || res.Value != 25 || res.Confidence != ConfidenceProrated || !res.Prorated {
		t.Fatalf("expected prorated 25, got %+v %v", res, err)
	}

	m = NewMortality(stubMortality{}, pop)
	res, err = m.Resolve(ctx, gc, asg, day(0), 10000, 1)
	if err != nil || res.Value != 10 || res.Source != domain.SourceModel || res.Confidence != ConfidenceModel {
		t.Fatalf("expected model fallback, got %+v %v", res, err)
	}

	boom := errors.New("boom")
	if _, err := NewMortality(stubMortality{err: boom}, nil).Resolve(ctx, gc, asg, day(0), 1, 1); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestProrate(t *testing.T) {
	if got := Prorate(10, 1, 3); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := Prorate(10, 5, 0); got != 0 {
		t.Fatalf("expected 0 for empty batch, got %d", got)
	}
}

type stubFeed []domain.FeedingEvent

func (s stubFeed) FeedingEvents(context.Context, string, time.Time, time.Time) ([]domain.FeedingEvent, error) {
	return s, nil
}

func TestFeedActualOrNone(t *testing.T) {
	res, err := NewFeed(stubFeed{{AmountKg: decimal.RequireFromString("12.5")}, {AmountKg: decimal.RequireFromString("7.25")}}).Resolve(context.Background(), "tank-1", day(0))
	if err != nil || !res.Value.Equal(decimal.RequireFromString("19.75")) || res.Source != domain.SourceActual || res.Confidence != 1.0 {
		t.Fatalf("expected summed actual feed, got %+v %v", res, err)
	}
	res, err = NewFeed(stubFeed(nil)).Resolve(context.Background(), "tank-1", day(0))
	if err != nil || !res.Value.IsZero() || res.Source != domain.SourceNone || res.Confidence != 0 {
		t.Fatalf("expected none, got %+v %v", res, err)
	}
}

type stubTransfers []domain.TransferRecord

func (s stubTransfers) TransfersInto(_ context.Context, id string, from, to time.Time) ([]domain.TransferRecord, error) {
	var out []domain.TransferRecord
	for _, tr := range s {
		if tr.DestAssignmentID == id && inRange(tr.ExecutionDate, from, to) {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s stubTransfers) TransfersOutOf(_ context.Context, id string, from, to time.Time) ([]domain.TransferRecord, error) {
	var out []domain.TransferRecord
	for _, tr := range s {
		if tr.SourceAssignmentID == id && inRange(tr.ExecutionDate, from, to) {
			out = append(out, tr)
		}
	}
	return out, nil
}

func TestPlacementsCountsCompletedTransfersOnly(t *testing.T) {
	p := NewPlacements(stubTransfers{
		{SourceAssignmentID: "asg-0", DestAssignmentID: "asg-1", ExecutionDate: day(0), Status: domain.TransferCompleted, TransferredCount: 200000},
		{SourceAssignmentID: "asg-2", DestAssignmentID: "asg-1", ExecutionDate: day(0), Status: domain.TransferCompleted, TransferredCount: 100000},
		{SourceAssignmentID: "asg-3", DestAssignmentID: "asg-1", ExecutionDate: day(0), Status: domain.TransferPlanned, TransferredCount: 5},
		{SourceAssignmentID: "asg-1", DestAssignmentID: "asg-9", ExecutionDate: day(1), Status: domain.TransferCompleted, TransferredCount: 1000},
	})
	ctx := context.Background()
	if n, err := p.Resolve(ctx, "asg-1", day(0)); err != nil || n != 300000 {
		t.Fatalf("expected 300000 placed, got %d %v", n, err)
	}
	if ok, err := p.IsTransferDestination(ctx, "asg-1", day(0)); err != nil || !ok {
		t.Fatalf("expected transfer destination on day 0")
	}
	if ok, _ := p.IsTransferDestination(ctx, "asg-1", day(1)); ok {
		t.Fatalf("expected no transfer into asg-1 on day 1")
	}
	if n, err := p.Removals(ctx, "asg-1", day(1)); err != nil || n != 1000 {
		t.Fatalf("expected 1000 removed, got %d %v", n, err)
	}
}

package core

import (
	"context"
	"sort"
	"time"

	"aquacore/internal/growth"
	"aquacore/pkg/domain"

	"github.com/shopspring/decimal"
)

// AssignmentSeries returns the persisted rows of one assignment for the
// inclusive range [start, end].
func (e *Engine) AssignmentSeries(ctx context.Context, assignmentID string, start, end time.Time) ([]domain.DailyAssignmentState, error) {
	w := NewWindow(start, end)
	if w.Empty() {
		return nil, nil
	}
	return e.states.ListDailyStates(ctx, assignmentID, w.Start, w.End.AddDate(0, 0, 1))
}

// AggregateBatch folds the rows of every assignment of the batch into one
// row per date. Counts, biomass and feed are summed; weight and temperature
// are population-weighted; MinConfidence is the lowest weight confidence
// among the contributing rows.
func (e *Engine) AggregateBatch(ctx context.Context, batchID string, start, end time.Time) ([]domain.BatchDailyState, error) {
	assignments, err := e.inputs.ListBatchAssignments(ctx, batchID)
	if err != nil {
		return nil, err
	}
	var rows []domain.DailyAssignmentState
	for _, a := range assignments {
		series, err := e.AssignmentSeries(ctx, a.ID, start, end)
		if err != nil {
			return nil, err
		}
		rows = append(rows, series...)
	}
	return Aggregate(batchID, rows), nil
}

type accumulator struct {
	out         domain.BatchDailyState
	weightSum   decimal.Decimal
	weightPlain decimal.Decimal
	tempSum     decimal.Decimal
	tempPop     int64
	tempPlain   decimal.Decimal
	tempRows    int64
	seenConf    bool
}

// Aggregate groups assignment rows by date into batch rows ordered by date.
func Aggregate(batchID string, rows []domain.DailyAssignmentState) []domain.BatchDailyState {
	byDate := make(map[string]*accumulator)
	for _, r := range rows {
		key := domain.DateKey(r.Date)
		acc, ok := byDate[key]
		if !ok {
			acc = &accumulator{out: domain.BatchDailyState{
				BatchID:   batchID,
				Date:      domain.Day(r.Date),
				DayNumber: r.DayNumber,
				BiomassKg: decimal.Zero,
				FeedKg:    decimal.Zero,
			}}
			byDate[key] = acc
		}
		acc.add(r)
	}
	out := make([]domain.BatchDailyState, 0, len(byDate))
	for _, acc := range byDate {
		out = append(out, acc.finish())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (a *accumulator) add(r domain.DailyAssignmentState) {
	a.out.AssignmentCount++
	a.out.Population += r.Population
	a.out.BiomassKg = a.out.BiomassKg.Add(r.BiomassKg)
	a.out.FeedKg = a.out.FeedKg.Add(r.FeedKg)
	a.out.MortalityCount += r.MortalityCount
	a.weightSum = a.weightSum.Add(decimal.NewFromInt(r.Population).Mul(r.AvgWeightG))
	a.weightPlain = a.weightPlain.Add(r.AvgWeightG)
	if r.TempC != nil {
		a.tempSum = a.tempSum.Add(decimal.NewFromInt(r.Population).Mul(*r.TempC))
		a.tempPop += r.Population
		a.tempPlain = a.tempPlain.Add(*r.TempC)
		a.tempRows++
	}
	conf := r.ConfidenceScores[domain.InputWeight]
	if !a.seenConf || conf < a.out.MinConfidence {
		a.out.MinConfidence = conf
		a.seenConf = true
	}
}

func (a *accumulator) finish() domain.BatchDailyState {
	out := a.out
	if out.Population > 0 {
		out.AvgWeightG = a.weightSum.DivRound(decimal.NewFromInt(out.Population), growth.WeightScale)
	} else if out.AssignmentCount > 0 {
		out.AvgWeightG = a.weightPlain.DivRound(decimal.NewFromInt(int64(out.AssignmentCount)), growth.WeightScale)
	}
	switch {
	case a.tempPop > 0:
		t := a.tempSum.DivRound(decimal.NewFromInt(a.tempPop), growth.TemperatureScale)
		out.AvgTempC = &t
	case a.tempRows > 0:
		t := a.tempPlain.DivRound(decimal.NewFromInt(a.tempRows), growth.TemperatureScale)
		out.AvgTempC = &t
	}
	return out
}

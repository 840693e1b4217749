package resolve

import (
	"context"
	"fmt"
	"math"
	"time"

	"aquacore/internal/growth"
	"aquacore/pkg/domain"
)

// BatchPopulationFunc returns the batch-wide population on the day before
// day, the denominator used when prorating batch-level mortality.
type BatchPopulationFunc func(ctx context.Context, batchID string, day time.Time) (int64, error)

// Mortality resolves daily deaths: assignment-scoped records, then batch
// records prorated by population share, then the scenario mortality model.
type Mortality struct {
	store      domain.MortalityStore
	population BatchPopulationFunc
}

// NewMortality constructs a mortality resolver. population may be nil, in
// which case batch-level records are ignored.
func NewMortality(store domain.MortalityStore, population BatchPopulationFunc) *Mortality {
	return &Mortality{store: store, population: population}
}

// Resolve returns the deaths for assignment on day given the previous day's
// population and current stage.
func (m *Mortality) Resolve(ctx context.Context, gc growth.Context, assignment domain.ContainerAssignment, day time.Time, prevPopulation int64, stageOrder int) (Result[int64], error) {
	day = domain.Day(day)
	next := day.AddDate(0, 0, 1)

	own, err := m.store.AssignmentMortality(ctx, assignment.ID, day, next)
	if err != nil {
		return Result[int64]{}, fmt.Errorf("assignment mortality: %w", err)
	}
	if len(own) > 0 {
		var total int64
		for _, ev := range own {
			total += ev.Count
		}
		return Result[int64]{Value: total, Source: domain.SourceActual, Confidence: ConfidenceActual}, nil
	}

	if m.population != nil && assignment.BatchID != "" {
		batchEvents, err := m.store.BatchMortality(ctx, assignment.BatchID, day, next)
		if err != nil {
			return Result[int64]{}, fmt.Errorf("batch mortality: %w", err)
		}
		var batchCount int64
		for _, ev := range batchEvents {
			if ev.BatchScoped() {
				batchCount += ev.Count
			}
		}
		if batchCount > 0 {
			batchPop, err := m.population(ctx, assignment.BatchID, day)
			if err != nil {
				return Result[int64]{}, fmt.Errorf("batch population: %w", err)
			}
			if batchPop > 0 {
				return Result[int64]{
					Value:      Prorate(batchCount, prevPopulation, batchPop),
					Source:     domain.SourceActual,
					Confidence: ConfidenceProrated,
					Prorated:   true,
				}, nil
			}
		}
	}

	return Result[int64]{Value: gc.ModelMortality(stageOrder, prevPopulation), Source: domain.SourceModel, Confidence: ConfidenceModel}, nil
}

// Prorate distributes a batch-level count by population share, rounded to
// whole fish.
func Prorate(batchCount, population, batchPopulation int64) int64 {
	if batchCount <= 0 || population <= 0 || batchPopulation <= 0 {
		return 0
	}
	return int64(math.Round(float64(batchCount) * float64(population) / float64(batchPopulation)))
}

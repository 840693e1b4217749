package resolve

import (
	"context"
	"fmt"
	"time"

	"aquacore/internal/growth"
	"aquacore/pkg/domain"
)

// DefaultSearchDays bounds how far the temperature resolver looks for
// readings on either side of a gap.
const DefaultSearchDays = 30

// Temperature resolves a container's daily water temperature:
// sensor reading, then interpolation across a gap, then scenario profile.
type Temperature struct {
	store      domain.TemperatureReadingStore
	searchDays int
}

// NewTemperature constructs a temperature resolver. searchDays <= 0 uses
// DefaultSearchDays.
func NewTemperature(store domain.TemperatureReadingStore, searchDays int) *Temperature {
	if searchDays <= 0 {
		searchDays = DefaultSearchDays
	}
	return &Temperature{store: store, searchDays: searchDays}
}

// Resolve never fails for lack of data; errors are store failures only.
func (t *Temperature) Resolve(ctx context.Context, gc growth.Context, containerID string, day time.Time, dayNumber int) (Result[float64], error) {
	day = domain.Day(day)
	lo := day.AddDate(0, 0, -t.searchDays)
	hi := day.AddDate(0, 0, t.searchDays+1)
	readings, err := t.store.TemperatureReadings(ctx, containerID, lo, hi)
	if err != nil {
		return Result[float64]{}, fmt.Errorf("temperature readings for %s: %w", containerID, err)
	}
	daily := dailyMeans(readings)

	if v, ok := daily[day]; ok {
		return Result[float64]{Value: v, Source: domain.SourceMeasured, Confidence: ConfidenceMeasured}, nil
	}

	var before, after time.Time
	for d := range daily {
		if d.Before(day) && (before.IsZero() || d.After(before)) {
			before = d
		}
		if d.After(day) && (after.IsZero() || d.Before(after)) {
			after = d
		}
	}
	if !before.IsZero() && !after.IsZero() {
		gap := domain.DaysBetween(before, after)
		v := growth.Interpolate(0, daily[before], float64(gap), daily[after], float64(domain.DaysBetween(before, day)))
		conf := ConfidenceInterpolatedLong
		if gap <= ShortGapDays {
			conf = ConfidenceInterpolatedShort
		}
		return Result[float64]{Value: v, Source: domain.SourceInterpolated, Confidence: conf}, nil
	}

	return Result[float64]{Value: gc.ProfileTemperature(dayNumber), Source: domain.SourceProfile, Confidence: ConfidenceProfile}, nil
}

func dailyMeans(readings []domain.SensorReading) map[time.Time]float64 {
	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	for _, r := range readings {
		if r.Parameter != "" && r.Parameter != domain.SensorParameterTemperature {
			continue
		}
		d := domain.Day(r.Timestamp)
		sums[d] += growth.Float(r.Value)
		counts[d]++
	}
	out := make(map[time.Time]float64, len(sums))
	for d, sum := range sums {
		out[d] = sum / float64(counts[d])
	}
	return out
}

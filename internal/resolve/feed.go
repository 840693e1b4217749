package resolve

import (
	"context"
	"fmt"
	"time"

	"aquacore/pkg/domain"

	"github.com/shopspring/decimal"
)

// Feed resolves the feed delivered to a container on a day. There is no
// model fallback: absent feeding data stays zero with source NONE so that
// operational gaps remain visible.
type Feed struct {
	store domain.FeedingStore
}

// NewFeed constructs a feed resolver.
func NewFeed(store domain.FeedingStore) *Feed {
	return &Feed{store: store}
}

// Resolve sums the day's feeding events.
func (f *Feed) Resolve(ctx context.Context, containerID string, day time.Time) (Result[decimal.Decimal], error) {
	day = domain.Day(day)
	events, err := f.store.FeedingEvents(ctx, containerID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return Result[decimal.Decimal]{}, fmt.Errorf("feeding events for %s: %w", containerID, err)
	}
	if len(events) == 0 {
		return Result[decimal.Decimal]{Value: decimal.Zero, Source: domain.SourceNone, Confidence: ConfidenceNone}, nil
	}
	total := decimal.Zero
	for _, ev := range events {
		total = total.Add(ev.AmountKg)
	}
	return Result[decimal.Decimal]{Value: total, Source: domain.SourceActual, Confidence: ConfidenceActual}, nil
}

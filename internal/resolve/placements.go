package resolve

import (
	"context"
	"fmt"
	"time"

	"aquacore/pkg/domain"
)

// Placements resolves population moved in and out of an assignment by
// completed transfers. Transfers into the assignment are the only channel
// through which a transfer destination receives its population.
type Placements struct {
	store domain.TransferStore
}

// NewPlacements constructs a placements resolver.
func NewPlacements(store domain.TransferStore) *Placements {
	return &Placements{store: store}
}

// Resolve returns the incoming population delta for day.
func (p *Placements) Resolve(ctx context.Context, assignmentID string, day time.Time) (int64, error) {
	day = domain.Day(day)
	in, err := p.store.TransfersInto(ctx, assignmentID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("transfers into %s: %w", assignmentID, err)
	}
	return completedCount(in, day), nil
}

// Removals returns the outgoing population delta for day.
func (p *Placements) Removals(ctx context.Context, assignmentID string, day time.Time) (int64, error) {
	day = domain.Day(day)
	out, err := p.store.TransfersOutOf(ctx, assignmentID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("transfers out of %s: %w", assignmentID, err)
	}
	return completedCount(out, day), nil
}

// IsTransferDestination reports whether the assignment receives a completed
// transfer on day. An assignment that does so on its first active day
// bootstraps from zero population.
func (p *Placements) IsTransferDestination(ctx context.Context, assignmentID string, day time.Time) (bool, error) {
	n, err := p.Resolve(ctx, assignmentID, day)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func completedCount(transfers []domain.TransferRecord, day time.Time) int64 {
	var total int64
	for _, tr := range transfers {
		if tr.Status != domain.TransferCompleted || !domain.Day(tr.ExecutionDate).Equal(day) {
			continue
		}
		total += tr.TransferredCount
	}
	return total
}

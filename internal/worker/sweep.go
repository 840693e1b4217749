package worker

import (
	"context"
	"fmt"
	"time"

	"aquacore/internal/observability"
	"aquacore/pkg/domain"
)

// Sweep defaults.
const (
	DefaultSweepInterval   = 24 * time.Hour
	DefaultSweepWindowDays = 14
)

// ActiveLister lists assignments active on a day. core.Service satisfies it.
type ActiveLister interface {
	ActiveAssignments(ctx context.Context, day time.Time) ([]domain.ContainerAssignment, error)
}

// Submitter enqueues recompute requests. *Worker satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req Request) Ticket
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Day        time.Time `json:"day"`
	Start      time.Time `json:"start"`
	Considered int       `json:"considered"`
	Enqueued   int       `json:"enqueued"`
	Suppressed int       `json:"suppressed"`
	Rejected   int       `json:"rejected"`
	JobIDs     []string  `json:"job_ids,omitempty"`
}

// Sweeper periodically re-validates the trailing window of every active
// assignment to pick up events that never triggered a recompute.
type Sweeper struct {
	lister     ActiveLister
	submit     Submitter
	interval   time.Duration
	windowDays int
	now        func() time.Time
	log        *observability.Logger
}

// SweeperOption customises a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the period between sweeps.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithSweepWindowDays sets the trailing window length in days.
func WithSweepWindowDays(n int) SweeperOption {
	return func(s *Sweeper) { s.windowDays = n }
}

// WithSweepClock overrides the sweep clock.
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// WithSweepLogger sets the logger.
func WithSweepLogger(l *observability.Logger) SweeperOption {
	return func(s *Sweeper) { s.log = l }
}

// NewSweeper constructs a sweeper.
func NewSweeper(lister ActiveLister, submit Submitter, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{lister: lister, submit: submit, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		s.interval = DefaultSweepInterval
	}
	if s.windowDays <= 0 {
		s.windowDays = DefaultSweepWindowDays
	}
	s.log = observability.OrNop(s.log)
	return s
}

// SweepOnce enqueues the trailing window ending today for every active
// assignment.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	day := domain.Day(s.now())
	report := SweepReport{Day: day, Start: day.AddDate(0, 0, -(s.windowDays - 1))}
	assignments, err := s.lister.ActiveAssignments(ctx, day)
	if err != nil {
		return report, fmt.Errorf("list active assignments: %w", err)
	}
	report.Considered = len(assignments)
	for _, a := range assignments {
		t := s.submit.Submit(ctx, Request{
			AssignmentIDs: []string{a.ID},
			Start:         report.Start,
			End:           day,
			Reason:        "sweep",
			RequestedBy:   "sweeper",
		})
		switch {
		case !t.Accepted:
			report.Rejected++
			s.log.Warn("sweep request rejected", "assignment_id", a.ID, "reason", t.Reason)
		case len(t.JobIDs) == 0:
			report.Suppressed++
		default:
			report.Enqueued++
			report.JobIDs = append(report.JobIDs, t.JobIDs...)
		}
	}
	s.log.Info("sweep finished", "day", domain.DateKey(day), "considered", report.Considered, "enqueued", report.Enqueued, "suppressed", report.Suppressed, "rejected", report.Rejected)
	return report, nil
}

// Run sweeps immediately and then every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			s.log.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

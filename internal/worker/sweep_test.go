package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"aquacore/pkg/domain"
)

type listerFunc func(ctx context.Context, day time.Time) ([]domain.ContainerAssignment, error)

func (f listerFunc) ActiveAssignments(ctx context.Context, day time.Time) ([]domain.ContainerAssignment, error) {
	return f(ctx, day)
}

type recordingSubmitter struct {
	requests []Request
	reject   map[string]bool
}

func (r *recordingSubmitter) Submit(_ context.Context, req Request) Ticket {
	r.requests = append(r.requests, req)
	if r.reject[req.AssignmentIDs[0]] {
		return Ticket{Reason: "queue full"}
	}
	return Ticket{Accepted: true, JobIDs: []string{"job-" + req.AssignmentIDs[0]}}
}

func TestSweepOnceEnqueuesTrailingWindow(t *testing.T) {
	now := time.Date(2024, 5, 20, 3, 0, 0, 0, time.UTC)
	var listedFor time.Time
	lister := listerFunc(func(_ context.Context, day time.Time) ([]domain.ContainerAssignment, error) {
		listedFor = day
		return []domain.ContainerAssignment{{Base: domain.Base{ID: "a1"}}, {Base: domain.Base{ID: "a2"}}}, nil
	})
	sub := &recordingSubmitter{reject: map[string]bool{"a2": true}}
	s := NewSweeper(lister, sub, WithSweepClock(func() time.Time { return now }))
	report, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	today := domain.Day(now)
	if !listedFor.Equal(today) {
		t.Fatalf("expected listing for %s, got %s", today, listedFor)
	}
	if report.Considered != 2 || report.Enqueued != 1 || report.Rejected != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	req := sub.requests[0]
	if !req.Start.Equal(today.AddDate(0, 0, -13)) || !req.End.Equal(today) || req.Reason != "sweep" {
		t.Fatalf("expected 14-day trailing window, got %+v", req)
	}
}

func TestSweepOnceWithWorkerCollapsesRepeats(t *testing.T) {
	stub := newStub()
	w := startWorker(t, stub, Options{})
	lister := listerFunc(func(context.Context, time.Time) ([]domain.ContainerAssignment, error) {
		return []domain.ContainerAssignment{{Base: domain.Base{ID: "a1"}}}, nil
	})
	s := NewSweeper(lister, w, WithSweepWindowDays(3), WithSweepClock(func() time.Time { return day0 }))
	first, err := s.SweepOnce(context.Background())
	if err != nil || first.Enqueued != 1 {
		t.Fatalf("first sweep: %+v %v", first, err)
	}
	second, _ := s.SweepOnce(context.Background())
	if second.Suppressed != 1 || second.Enqueued != 0 {
		t.Fatalf("repeat sweep within ttl should be suppressed, got %+v", second)
	}
	waitAll(t, w, first.JobIDs)
	job, _ := w.Job(first.JobIDs[0])
	if job.Window.Days() != 3 || job.RequestedBy != "sweeper" {
		t.Fatalf("unexpected sweep job %+v", job)
	}
}

func TestSweepListFailure(t *testing.T) {
	lister := listerFunc(func(context.Context, time.Time) ([]domain.ContainerAssignment, error) {
		return nil, errors.New("db down")
	})
	s := NewSweeper(lister, &recordingSubmitter{})
	if _, err := s.SweepOnce(context.Background()); err == nil {
		t.Fatalf("expected list error")
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 4)
	lister := listerFunc(func(context.Context, time.Time) ([]domain.ContainerAssignment, error) {
		calls <- struct{}{}
		return nil, nil
	})
	s := NewSweeper(lister, &recordingSubmitter{}, WithSweepInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an immediate sweep")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

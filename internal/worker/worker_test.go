package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aquacore/internal/core"
	"aquacore/pkg/domain"
)

var day0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type stubRecomputer struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string][]error
}

func newStub() *stubRecomputer {
	return &stubRecomputer{calls: make(map[string]int), failures: make(map[string][]error)}
}

func (s *stubRecomputer) next(id string) error {
	s.mu.Lock()
	s.calls[id]++
	var err error
	if q := s.failures[id]; len(q) > 0 {
		err, s.failures[id] = q[0], q[1:]
	}
	s.mu.Unlock()
	return err
}

func (s *stubRecomputer) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *stubRecomputer) RecomputeAssignment(_ context.Context, id string, start, end time.Time) (core.AssignmentResult, error) {
	if err := s.next(id); err != nil {
		return core.AssignmentResult{}, err
	}
	return core.AssignmentResult{AssignmentID: id, Computed: core.NewWindow(start, end), Created: 1}, nil
}

func (s *stubRecomputer) RecomputeBatch(_ context.Context, id string, start, end time.Time) (core.BatchResult, error) {
	if err := s.next(id); err != nil {
		return core.BatchResult{}, err
	}
	return core.BatchResult{BatchID: id, Requested: core.NewWindow(start, end)}, nil
}

func startWorker(t *testing.T, r Recomputer, opts Options) *Worker {
	t.Helper()
	if opts.Backoff == 0 {
		opts.Backoff = time.Millisecond
	}
	w := New(r, opts)
	w.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Stop(ctx)
	})
	return w
}

func waitAll(t *testing.T, w *Worker, ids []string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Wait(ctx, ids...); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	w := New(newStub(), Options{})
	cases := map[string]Request{
		"empty":    {Start: day0, End: day0},
		"both":     {AssignmentIDs: []string{"a1"}, BatchID: "b1", Start: day0, End: day0},
		"inverted": {AssignmentIDs: []string{"a1"}, Start: day0.AddDate(0, 0, 1), End: day0},
		"no dates": {BatchID: "b1"},
		"blank id": {AssignmentIDs: []string{" "}, Start: day0, End: day0},
	}
	for name, req := range cases {
		if ticket := w.Submit(context.Background(), req); ticket.Accepted || ticket.Reason == "" {
			t.Fatalf("%s: expected rejection with reason, got %+v", name, ticket)
		}
	}
}

func TestSubmitRunsAssignmentAndBatchJobs(t *testing.T) {
	stub := newStub()
	w := startWorker(t, stub, Options{})
	ticket := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a1", "a2", "a1"}, Start: day0, End: day0.AddDate(0, 0, 2)})
	if !ticket.Accepted || len(ticket.JobIDs) != 2 {
		t.Fatalf("expected two accepted jobs, got %+v", ticket)
	}
	batch := w.Submit(context.Background(), Request{BatchID: "b1", Start: day0, End: day0})
	if !batch.Accepted || len(batch.JobIDs) != 1 {
		t.Fatalf("expected batch job, got %+v", batch)
	}
	waitAll(t, w, append(ticket.JobIDs, batch.JobIDs...))
	for _, id := range ticket.JobIDs {
		job, ok := w.Job(id)
		if !ok || job.Status != StatusSucceeded || job.Assignment == nil || job.Attempts != 1 {
			t.Fatalf("unexpected job %+v", job)
		}
		if job.Window.Days() != 3 {
			t.Fatalf("expected 3-day window, got %+v", job.Window)
		}
	}
	job, _ := w.Job(batch.JobIDs[0])
	if job.Kind != KindBatch || job.Batch == nil || job.Batch.BatchID != "b1" {
		t.Fatalf("unexpected batch job %+v", job)
	}
	if len(w.Jobs(StatusSucceeded)) != 3 {
		t.Fatalf("expected 3 succeeded jobs")
	}
}

func TestSubmitCollapsesSameAssignmentDay(t *testing.T) {
	stub := newStub()
	w := startWorker(t, stub, Options{})
	first := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a1"}, Start: day0, End: day0})
	second := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a1"}, Start: day0, End: day0.AddDate(0, 0, 1)})
	if !second.Accepted || len(second.JobIDs) != 0 || len(second.Suppressed) != 1 {
		t.Fatalf("expected suppressed duplicate, got %+v", second)
	}
	other := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a1"}, Start: day0.AddDate(0, 0, 1), End: day0.AddDate(0, 0, 1)})
	if len(other.JobIDs) != 1 {
		t.Fatalf("another day should not be collapsed, got %+v", other)
	}
	waitAll(t, w, append(first.JobIDs, other.JobIDs...))
	if stub.count("a1") != 2 {
		t.Fatalf("expected 2 recomputes, got %d", stub.count("a1"))
	}
}

func TestBatchRequestsAreNotDeduplicated(t *testing.T) {
	stub := newStub()
	w := startWorker(t, stub, Options{})
	a := w.Submit(context.Background(), Request{BatchID: "b1", Start: day0, End: day0})
	b := w.Submit(context.Background(), Request{BatchID: "b1", Start: day0, End: day0})
	if len(a.JobIDs) != 1 || len(b.JobIDs) != 1 {
		t.Fatalf("batch requests should each enqueue, got %+v %+v", a, b)
	}
	waitAll(t, w, append(a.JobIDs, b.JobIDs...))
	if stub.count("b1") != 2 {
		t.Fatalf("expected 2 batch recomputes, got %d", stub.count("b1"))
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	stub := newStub()
	stub.failures["a1"] = []error{errors.New("db busy"), context.DeadlineExceeded}
	w := startWorker(t, stub, Options{})
	ticket := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a1"}, Start: day0, End: day0})
	waitAll(t, w, ticket.JobIDs)
	job, _ := w.Job(ticket.JobIDs[0])
	if job.Status != StatusSucceeded || job.Attempts != 3 || job.Error != "" {
		t.Fatalf("expected success on third attempt, got %+v", job)
	}
}

func TestRetriesExhaustedKeepsFailedJob(t *testing.T) {
	stub := newStub()
	boom := errors.New("store offline")
	stub.failures["a1"] = []error{boom, boom, boom}
	w := startWorker(t, stub, Options{MaxRetries: 2})
	ticket := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a1"}, Start: day0, End: day0})
	waitAll(t, w, ticket.JobIDs)
	failed := w.Jobs(StatusFailed)
	if len(failed) != 1 || failed[0].Attempts != 3 || failed[0].Error == "" || failed[0].CompletedAt == nil {
		t.Fatalf("expected retained failed job after 3 attempts, got %+v", failed)
	}
	// A failed job releases its claim so the next event can retry.
	again := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a1"}, Start: day0, End: day0})
	if len(again.JobIDs) != 1 {
		t.Fatalf("expected resubmission after failure, got %+v", again)
	}
	waitAll(t, w, again.JobIDs)
}

func TestConfigurationErrorIsNotRetried(t *testing.T) {
	stub := newStub()
	stub.failures["a1"] = []error{&domain.ConfigurationError{AssignmentID: "a1", Reason: "no growth scenario pinned"}}
	w := startWorker(t, stub, Options{})
	ticket := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a1"}, Start: day0, End: day0})
	waitAll(t, w, ticket.JobIDs)
	job, _ := w.Job(ticket.JobIDs[0])
	if job.Status != StatusFailed || job.Attempts != 1 || stub.count("a1") != 1 {
		t.Fatalf("configuration errors must fail fast, got %+v calls=%d", job, stub.count("a1"))
	}
}

func TestQueueFullRejects(t *testing.T) {
	stub := newStub()
	w := New(stub, Options{QueueSize: 1})
	if ticket := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a1"}, Start: day0, End: day0}); !ticket.Accepted {
		t.Fatalf("first request should fit: %+v", ticket)
	}
	ticket := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a2"}, Start: day0, End: day0})
	if ticket.Accepted || ticket.Reason != "queue full" {
		t.Fatalf("expected queue full rejection, got %+v", ticket)
	}
	// The rejected claim is released.
	retry := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a2"}, Start: day0, End: day0})
	if retry.Reason != "queue full" || len(retry.Suppressed) != 0 {
		t.Fatalf("rejected request must not hold a dedup claim, got %+v", retry)
	}
}

func TestStoppedWorkerRejects(t *testing.T) {
	w := New(newStub(), Options{})
	w.Start()
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if ticket := w.Submit(context.Background(), Request{BatchID: "b1", Start: day0, End: day0}); ticket.Accepted {
		t.Fatalf("stopped worker should reject")
	}
}

func TestTimeoutAppliesPerAttempt(t *testing.T) {
	r := recomputeFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	w := startWorker(t, r, Options{Timeout: 10 * time.Millisecond, MaxRetries: 1})
	ticket := w.Submit(context.Background(), Request{AssignmentIDs: []string{"a1"}, Start: day0, End: day0})
	waitAll(t, w, ticket.JobIDs)
	job, _ := w.Job(ticket.JobIDs[0])
	if job.Status != StatusFailed || job.Attempts != 2 {
		t.Fatalf("expected timed-out job after 2 attempts, got %+v", job)
	}
}

type recomputeFunc func(ctx context.Context) error

func (f recomputeFunc) RecomputeAssignment(ctx context.Context, id string, _, _ time.Time) (core.AssignmentResult, error) {
	return core.AssignmentResult{AssignmentID: id}, f(ctx)
}

func (f recomputeFunc) RecomputeBatch(ctx context.Context, id string, _, _ time.Time) (core.BatchResult, error) {
	return core.BatchResult{BatchID: id}, f(ctx)
}

func TestLocalDeduperExpires(t *testing.T) {
	now := day0
	d := NewLocalDeduper(time.Minute, func() time.Time { return now })
	ctx := context.Background()
	if ok, _ := d.Claim(ctx, "k"); !ok {
		t.Fatalf("first claim should succeed")
	}
	if ok, _ := d.Claim(ctx, "k"); ok {
		t.Fatalf("second claim within ttl should fail")
	}
	now = now.Add(time.Minute)
	if ok, _ := d.Claim(ctx, "k"); !ok {
		t.Fatalf("claim after ttl should succeed")
	}
	_ = d.Release(ctx, "k")
	if ok, _ := d.Claim(ctx, "k"); !ok {
		t.Fatalf("claim after release should succeed")
	}
}

func TestExponentialBackoffHonoursContext(t *testing.T) {
	b := ExponentialBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	fast := ExponentialBackoff(time.Millisecond, 2*time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := fast(context.Background()); err != nil {
			t.Fatalf("backoff %d: %v", i, err)
		}
	}
}

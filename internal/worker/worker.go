// Package worker runs recompute requests on a bounded pool: it deduplicates
// bursts of events per assignment day, bounds each invocation with a
// timeout, retries transient failures with exponential backoff and keeps
// failed jobs for operator inspection.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"aquacore/internal/config"
	"aquacore/internal/core"
	"aquacore/internal/observability"
	"aquacore/pkg/domain"

	"github.com/google/uuid"
)

// Kind is the scope of a job.
type Kind string

// Job scopes.
const (
	KindAssignment Kind = "assignment"
	KindBatch      Kind = "batch"
)

// Status describes the lifecycle stage of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Rejection reasons reported when the worker cannot take a valid request.
const (
	ReasonQueueFull = "queue full"
	ReasonStopped   = "worker stopped"
)

// Terminal reports whether the job will not change again.
func (s Status) Terminal() bool { return s == StatusSucceeded || s == StatusFailed }

// Defaults applied by New for unset options.
const (
	DefaultConcurrency = 4
	DefaultQueueSize   = 256
	DefaultMaxRetries  = 3
	DefaultTimeout     = 2 * time.Minute
	DefaultBackoff     = time.Second
	DefaultMaxBackoff  = 30 * time.Second
	DefaultDedupTTL    = time.Minute
	DefaultRetain      = 1024
)

// Request is a recompute-now call: either a set of assignments or one batch
// over an inclusive date range.
type Request struct {
	AssignmentIDs []string  `json:"assignment_ids,omitempty"`
	BatchID       string    `json:"batch_id,omitempty"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Reason        string    `json:"reason,omitempty"`
	RequestedBy   string    `json:"requested_by,omitempty"`
}

func (r Request) validate() error {
	hasAssignments := len(r.AssignmentIDs) > 0
	hasBatch := strings.TrimSpace(r.BatchID) != ""
	switch {
	case hasAssignments == hasBatch:
		return errors.New("exactly one of assignment ids or batch id is required")
	case r.Start.IsZero() || r.End.IsZero():
		return errors.New("start and end dates are required")
	case core.NewWindow(r.Start, r.End).Empty():
		return fmt.Errorf("end %s before start %s", domain.DateKey(r.End), domain.DateKey(r.Start))
	}
	for _, id := range r.AssignmentIDs {
		if strings.TrimSpace(id) == "" {
			return errors.New("empty assignment id")
		}
	}
	return nil
}

// Ticket is the accepted/rejected answer to a Request.
type Ticket struct {
	Accepted bool     `json:"accepted"`
	Reason   string   `json:"reason,omitempty"`
	JobIDs   []string `json:"job_ids,omitempty"`
	// Suppressed lists assignments whose recompute was already pending.
	Suppressed []string `json:"suppressed,omitempty"`
}

// Job tracks one queued recompute.
type Job struct {
	ID          string                 `json:"id"`
	Kind        Kind                   `json:"kind"`
	TargetID    string                 `json:"target_id"`
	Window      core.Window            `json:"window"`
	Reason      string                 `json:"reason,omitempty"`
	RequestedBy string                 `json:"requested_by,omitempty"`
	Status      Status                 `json:"status"`
	Attempts    int                    `json:"attempts"`
	Error       string                 `json:"error,omitempty"`
	Assignment  *core.AssignmentResult `json:"assignment_result,omitempty"`
	Batch       *core.BatchResult      `json:"batch_result,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Recomputer executes recomputes. core.Service and core.Engine satisfy it.
type Recomputer interface {
	RecomputeAssignment(ctx context.Context, assignmentID string, start, end time.Time) (core.AssignmentResult, error)
	RecomputeBatch(ctx context.Context, batchID string, start, end time.Time) (core.BatchResult, error)
}

// Options configures a Worker. Zero values take the package defaults.
type Options struct {
	Concurrency int
	QueueSize   int
	// MaxRetries counts attempts after the first; negative disables retries.
	MaxRetries  int
	Timeout     time.Duration
	Backoff     time.Duration
	MaxBackoff  time.Duration
	DedupTTL    time.Duration
	Retain      int
	Deduper     Deduper
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Now         func() time.Time
}

// ConfigOptions maps the worker configuration section onto Options.
func ConfigOptions(cfg config.Worker) Options {
	return Options{
		Concurrency: cfg.Concurrency,
		QueueSize:   cfg.QueueSize,
		MaxRetries:  cfg.MaxRetries,
		Timeout:     cfg.Timeout,
		Backoff:     cfg.Backoff,
		MaxBackoff:  cfg.MaxBackoff,
		DedupTTL:    cfg.DedupTTL,
	}
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = DefaultDedupTTL
	}
	if o.Retain <= 0 {
		o.Retain = DefaultRetain
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Deduper == nil {
		o.Deduper = NewLocalDeduper(o.DedupTTL, o.Now)
	}
	o.Logger = observability.OrNop(o.Logger)
	return o
}

// Worker executes recompute jobs asynchronously.
type Worker struct {
	recompute Recomputer
	opts      Options

	submitMu sync.Mutex
	queue    chan task

	mu        sync.RWMutex
	jobs      map[string]*Job
	done      map[string]chan struct{}
	succeeded []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id       string
	kind     Kind
	target   string
	window   core.Window
	dedupKey string
}

// New constructs a worker. Call Start to begin processing.
func New(r Recomputer, opts Options) *Worker {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		recompute: r,
		opts:      opts,
		queue:     make(chan task, opts.QueueSize),
		jobs:      make(map[string]*Job),
		done:      make(map[string]chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the configured number of processing loops.
func (w *Worker) Start() {
	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop()
	}
}

// Stop signals the loops to halt and waits for in-flight jobs.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.opts.Metrics.QueueDepth(len(w.queue))
			w.process(t)
		}
	}
}

// Submit validates and enqueues a request. Assignment requests claim a
// dedup key per (assignment, start day); assignments with a pending claim
// are reported as suppressed. Batch requests are never deduplicated.
func (w *Worker) Submit(ctx context.Context, req Request) Ticket {
	if err := req.validate(); err != nil {
		return Ticket{Reason: err.Error()}
	}
	if w.ctx.Err() != nil {
		return Ticket{Reason: ReasonStopped}
	}
	window := core.NewWindow(req.Start, req.End)

	w.submitMu.Lock()
	defer w.submitMu.Unlock()

	var tasks []task
	var ticket Ticket
	if req.BatchID != "" {
		tasks = append(tasks, task{kind: KindBatch, target: req.BatchID, window: window})
	}
	seen := make(map[string]struct{}, len(req.AssignmentIDs))
	for _, id := range req.AssignmentIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		key := DedupKey(id, window.Start)
		claimed, err := w.opts.Deduper.Claim(ctx, key)
		if err != nil {
			w.opts.Logger.Warn("dedup claim failed", "assignment_id", id, "error", err)
			claimed, key = true, ""
		}
		if !claimed {
			w.opts.Metrics.DedupSuppressed()
			ticket.Suppressed = append(ticket.Suppressed, id)
			continue
		}
		tasks = append(tasks, task{kind: KindAssignment, target: id, window: window, dedupKey: key})
	}

	if len(w.queue)+len(tasks) > cap(w.queue) {
		w.release(tasks)
		w.opts.Logger.Warn("recompute rejected", "reason", ReasonQueueFull, "jobs", len(tasks))
		return Ticket{Reason: ReasonQueueFull}
	}

	now := w.opts.Now().UTC()
	w.mu.Lock()
	for i := range tasks {
		tasks[i].id = uuid.NewString()
		w.jobs[tasks[i].id] = &Job{
			ID:          tasks[i].id,
			Kind:        tasks[i].kind,
			TargetID:    tasks[i].target,
			Window:      window,
			Reason:      req.Reason,
			RequestedBy: req.RequestedBy,
			Status:      StatusQueued,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		w.done[tasks[i].id] = make(chan struct{})
		ticket.JobIDs = append(ticket.JobIDs, tasks[i].id)
	}
	w.mu.Unlock()
	for _, t := range tasks {
		w.queue <- t
	}
	w.opts.Metrics.QueueDepth(len(w.queue))

	ticket.Accepted = true
	if len(tasks) == 0 {
		ticket.Reason = "recompute already pending"
	}
	return ticket
}

func (w *Worker) release(tasks []task) {
	for _, t := range tasks {
		if t.dedupKey == "" {
			continue
		}
		if err := w.opts.Deduper.Release(context.Background(), t.dedupKey); err != nil {
			w.opts.Logger.Warn("dedup release failed", "key", t.dedupKey, "error", err)
		}
	}
}

func (w *Worker) process(t task) {
	backoff := ExponentialBackoff(w.opts.Backoff, w.opts.MaxBackoff)
	for attempt := 1; ; attempt++ {
		w.update(t.id, func(j *Job) {
			j.Status = StatusRunning
			j.Attempts = attempt
		})
		err := w.runOnce(t)
		if err == nil {
			w.finish(t.id, StatusSucceeded, "")
			return
		}
		if !w.retryable(err) || attempt > w.opts.MaxRetries {
			w.failJob(t, err)
			return
		}
		w.opts.Logger.Warn("recompute retrying", "job_id", t.id, "kind", string(t.kind), "target", t.target, "attempt", attempt, "error", err)
		w.update(t.id, func(j *Job) {
			j.Status = StatusRetrying
			j.Error = err.Error()
		})
		if berr := backoff(w.ctx); berr != nil {
			w.failJob(t, fmt.Errorf("%w (retry abandoned: %v)", err, berr))
			return
		}
	}
}

func (w *Worker) runOnce(t task) error {
	ctx, cancel := context.WithTimeout(w.ctx, w.opts.Timeout)
	defer cancel()
	switch t.kind {
	case KindBatch:
		res, err := w.recompute.RecomputeBatch(ctx, t.target, t.window.Start, t.window.End)
		if err != nil {
			return err
		}
		if len(res.Failed) > 0 {
			w.opts.Logger.Warn("batch recompute partially failed", "batch_id", t.target, "failed", len(res.Failed))
		}
		w.update(t.id, func(j *Job) { j.Batch = &res })
	default:
		res, err := w.recompute.RecomputeAssignment(ctx, t.target, t.window.Start, t.window.End)
		if err != nil {
			return err
		}
		w.update(t.id, func(j *Job) { j.Assignment = &res })
	}
	return nil
}

// retryable excludes errors a retry cannot fix and shutdown.
func (w *Worker) retryable(err error) bool {
	if w.ctx.Err() != nil {
		return false
	}
	return !domain.IsConfigurationError(err) && !domain.IsNotFound(err)
}

func (w *Worker) failJob(t task, err error) {
	reason := "error"
	switch {
	case domain.IsConfigurationError(err):
		reason = "configuration"
	case domain.IsNotFound(err):
		reason = "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	}
	w.opts.Metrics.JobFailed(reason)
	w.opts.Logger.Error("recompute failed", "job_id", t.id, "kind", string(t.kind), "target", t.target, "reason", reason, "error", err)
	w.release([]task{t})
	w.finish(t.id, StatusFailed, err.Error())
}

func (w *Worker) update(id string, fn func(*Job)) {
	w.mu.Lock()
	if j, ok := w.jobs[id]; ok {
		fn(j)
		j.UpdatedAt = w.opts.Now().UTC()
	}
	w.mu.Unlock()
}

func (w *Worker) finish(id string, status Status, message string) {
	now := w.opts.Now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	j, ok := w.jobs[id]
	if !ok {
		return
	}
	j.Status = status
	j.Error = message
	j.UpdatedAt = now
	j.CompletedAt = &now
	if ch, ok := w.done[id]; ok {
		close(ch)
		delete(w.done, id)
	}
	if status == StatusSucceeded {
		w.succeeded = append(w.succeeded, id)
		for len(w.succeeded) > w.opts.Retain {
			delete(w.jobs, w.succeeded[0])
			w.succeeded = w.succeeded[1:]
		}
	}
}

// Job returns a snapshot of a job.
func (w *Worker) Job(id string) (Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	j, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns snapshots of the jobs in status, or of every retained job
// when status is empty, oldest first.
func (w *Worker) Jobs(status Status) []Job {
	w.mu.RLock()
	out := make([]Job, 0, len(w.jobs))
	for _, j := range w.jobs {
		if status == "" || j.Status == status {
			out = append(out, *j)
		}
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// Wait blocks until every listed job is terminal or ctx ends.
func (w *Worker) Wait(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		w.mu.RLock()
		ch, pending := w.done[id]
		w.mu.RUnlock()
		if !pending {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aquacore/internal/anchor"
	"aquacore/internal/growth"
	"aquacore/internal/observability"
	"aquacore/internal/resolve"
	"aquacore/internal/stepper"
	"aquacore/internal/trigger"
	"aquacore/pkg/domain"

	"golang.org/x/sync/errgroup"
)

// Recompute scopes reported to metrics.
const (
	ScopeAssignment = "assignment"
	ScopeBatch      = "batch"
)

// DefaultBatchParallelism bounds concurrent assignment recomputes in a batch.
const DefaultBatchParallelism = 4

// Window is an inclusive range of days.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow truncates both ends to UTC days.
func NewWindow(start, end time.Time) Window {
	return Window{Start: domain.Day(start), End: domain.Day(end)}
}

// Empty reports whether the window covers no day.
func (w Window) Empty() bool { return w.End.Before(w.Start) }

// Days returns the number of days covered.
func (w Window) Days() int {
	if w.Empty() {
		return 0
	}
	return domain.DaysBetween(w.Start, w.End) + 1
}

// SkippedDay is a day whose computation failed and was left as a gap.
type SkippedDay struct {
	Date  time.Time `json:"date"`
	Error string    `json:"error"`
}

// AssignmentResult summarises one assignment recompute.
type AssignmentResult struct {
	AssignmentID string                `json:"assignment_id"`
	BatchID      string                `json:"batch_id"`
	ScenarioID   string                `json:"scenario_id"`
	Requested    Window                `json:"requested"`
	Computed     Window                `json:"computed"`
	Created      int                   `json:"created"`
	Updated      int                   `json:"updated"`
	Unchanged    int                   `json:"unchanged"`
	Skipped      []SkippedDay          `json:"skipped,omitempty"`
	Triggers     []domain.TriggerEvent `json:"triggers,omitempty"`
	Violations   int                   `json:"violations"`
}

// DaysComputed is the number of rows written or confirmed unchanged.
func (r AssignmentResult) DaysComputed() int { return r.Created + r.Updated + r.Unchanged }

// BatchResult summarises a batch recompute.
type BatchResult struct {
	BatchID     string                   `json:"batch_id"`
	Requested   Window                   `json:"requested"`
	Assignments []AssignmentResult       `json:"assignments"`
	Failed      map[string]string        `json:"failed,omitempty"`
	Series      []domain.BatchDailyState `json:"series"`
}

// Engine orchestrates anchor detection, input resolution, stepping,
// persistence and trigger evaluation for assignment windows.
type Engine struct {
	inputs        domain.InputSource
	states        domain.StateStore
	triggers      *trigger.Evaluator
	log           *observability.Logger
	metrics       *observability.Metrics
	tracer        observability.Tracer
	now           func() time.Time
	batchParallel int
	searchDays    int
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(l *observability.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithEngineMetrics sets the metrics sink.
func WithEngineMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineTracer sets the span tracer.
func WithEngineTracer(t observability.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithEngineClock overrides the computed_at clock.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithTriggerEvaluator replaces the default evaluator.
func WithTriggerEvaluator(ev *trigger.Evaluator) EngineOption {
	return func(e *Engine) { e.triggers = ev }
}

// WithBatchParallelism bounds concurrent assignment recomputes per batch.
func WithBatchParallelism(n int) EngineOption {
	return func(e *Engine) { e.batchParallel = n }
}

// WithTemperatureSearchDays bounds the interpolation search.
func WithTemperatureSearchDays(n int) EngineOption {
	return func(e *Engine) { e.searchDays = n }
}

// NewEngine constructs an engine reading inputs and writing states. When
// states also implements domain.TriggerLedger it backs trigger dedup.
func NewEngine(inputs domain.InputSource, states domain.StateStore, opts ...EngineOption) *Engine {
	e := &Engine{
		inputs:        inputs,
		states:        states,
		tracer:        observability.NopTracer{},
		now:           time.Now,
		batchParallel: DefaultBatchParallelism,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = observability.OrNop(e.log)
	if e.tracer == nil {
		e.tracer = observability.NopTracer{}
	}
	if e.batchParallel < 1 {
		e.batchParallel = 1
	}
	if e.triggers == nil {
		ledger, _ := states.(domain.TriggerLedger)
		e.triggers = trigger.NewEvaluator(inputs, ledger, trigger.WithLogger(e.log), trigger.WithClock(e.now))
	}
	return e
}

// ResolveScenario returns the growth context for an assignment: the batch's
// pinned scenario, else the assignment's own scenario reference.
func (e *Engine) ResolveScenario(ctx context.Context, asg domain.ContainerAssignment, batch domain.Batch) (growth.Context, error) {
	var scenarioID string
	switch {
	case batch.PinnedScenarioID != nil && *batch.PinnedScenarioID != "":
		scenarioID = *batch.PinnedScenarioID
	case asg.ScenarioID != nil && *asg.ScenarioID != "":
		scenarioID = *asg.ScenarioID
	default:
		return growth.Context{}, &domain.ConfigurationError{AssignmentID: asg.ID, BatchID: batch.ID, Reason: "no growth scenario pinned"}
	}
	sc, err := e.inputs.GetScenario(ctx, scenarioID)
	if err != nil {
		if domain.IsNotFound(err) {
			return growth.Context{}, &domain.ConfigurationError{AssignmentID: asg.ID, BatchID: batch.ID, Reason: fmt.Sprintf("scenario %s not found", scenarioID)}
		}
		return growth.Context{}, err
	}
	gc, err := growth.NewContext(sc)
	if err != nil {
		return growth.Context{}, &domain.ConfigurationError{AssignmentID: asg.ID, BatchID: batch.ID, Reason: err.Error()}
	}
	return gc, nil
}

// normalize clips the requested window to the assignment's active span and
// extends it back so the first computed day has a persisted predecessor. It
// returns the predecessor row, nil when the window starts at the assignment
// date.
func (e *Engine) normalize(ctx context.Context, asg domain.ContainerAssignment, req Window) (Window, *domain.DailyAssignmentState, error) {
	first := domain.Day(asg.AssignmentDate)
	w := req
	if w.Start.Before(first) {
		w.Start = first
	}
	if asg.DepartureDate != nil {
		last := domain.Day(*asg.DepartureDate).AddDate(0, 0, -1)
		if w.End.After(last) {
			w.End = last
		}
	}
	if w.Empty() || !w.Start.After(first) {
		return w, nil, nil
	}
	latest, ok, err := e.states.LatestDailyStateBefore(ctx, asg.ID, w.Start)
	if err != nil {
		return Window{}, nil, fmt.Errorf("latest state before %s: %w", domain.DateKey(w.Start), err)
	}
	if !ok || latest.Date.Before(first) {
		w.Start = first
		return w, nil, nil
	}
	w.Start = domain.Day(latest.Date).AddDate(0, 0, 1)
	return w, &latest, nil
}

// assignmentRun is one assignment's recompute in progress. It is advanced
// one day at a time by a single goroutine.
type assignmentRun struct {
	res     AssignmentResult
	asg     domain.ContainerAssignment
	window  Window
	anchors map[string]domain.Anchor
	rules   []domain.TriggerRule
	runner  *dayRunner
	prev    *domain.DailyAssignmentState
	// halted is set when the bootstrap day fails; later days have no root to
	// chain from and are skipped until a rerun computes it.
	halted error
	failed error
}

func newAssignmentRun(assignmentID string, req Window) *assignmentRun {
	return &assignmentRun{res: AssignmentResult{AssignmentID: assignmentID, Requested: req}}
}

// covers reports whether run still has day d to compute.
func (r *assignmentRun) covers(d time.Time) bool {
	return r.failed == nil && !r.window.Empty() && !d.Before(r.window.Start) && !d.After(r.window.End)
}

// RecomputeAssignment recomputes every day of the window for one assignment,
// in ascending date order. A missing scenario fails the whole call with a
// ConfigurationError; failures on a single day are logged and the day is
// skipped.
func (e *Engine) RecomputeAssignment(ctx context.Context, assignmentID string, start, end time.Time) (res AssignmentResult, err error) {
	ctx, span := e.tracer.Start(ctx, "recompute.assignment")
	began := time.Now()
	defer func() {
		span.End(err)
		e.metrics.ObserveRecompute(ScopeAssignment, err, time.Since(began))
	}()

	req := NewWindow(start, end)
	run := newAssignmentRun(assignmentID, req)
	if req.Empty() {
		return run.res, fmt.Errorf("recompute %s: end %s before start %s", assignmentID, domain.DateKey(req.End), domain.DateKey(req.Start))
	}
	if err := e.prepare(ctx, run); err != nil {
		return run.res, err
	}
	if run.window.Empty() {
		return run.res, nil
	}
	for d := run.window.Start; !d.After(run.window.End); d = d.AddDate(0, 0, 1) {
		if err := e.advance(ctx, run, d); err != nil {
			return run.res, err
		}
	}
	e.finish(run)
	return run.res, nil
}

// prepare resolves the scenario, normalizes the window and detects anchors
// for run. An empty normalized window is not an error.
func (e *Engine) prepare(ctx context.Context, run *assignmentRun) error {
	req := run.res.Requested
	asg, err := e.inputs.GetAssignment(ctx, run.res.AssignmentID)
	if err != nil {
		return err
	}
	batch, err := e.inputs.GetBatch(ctx, asg.BatchID)
	if err != nil {
		return err
	}
	run.asg = asg
	run.res.BatchID = batch.ID
	gc, err := e.ResolveScenario(ctx, asg, batch)
	if err != nil {
		e.log.Error("recompute aborted", "assignment_id", asg.ID, "batch_id", batch.ID, "error", err)
		return err
	}
	run.res.ScenarioID = gc.Scenario.ID

	w, prev, err := e.normalize(ctx, asg, req)
	if err != nil {
		return err
	}
	run.window, run.prev = w, prev
	run.res.Computed = w
	if w.Empty() {
		e.log.Debug("window outside assignment span", "assignment_id", asg.ID, "start", domain.DateKey(req.Start), "end", domain.DateKey(req.End))
		return nil
	}

	detector := anchor.NewDetector(e.inputs, func(amb *domain.ResolutionAmbiguityError) {
		e.log.Warn("anchor ambiguity", "assignment_id", amb.AssignmentID, "date", domain.DateKey(amb.Date), "chosen", amb.Chosen, "discarded", amb.Discarded)
	})
	anchors, err := detector.Detect(ctx, asg, w.Start, w.End)
	if err != nil {
		return fmt.Errorf("detect anchors: %w", err)
	}
	run.anchors = anchor.Index(anchors)

	run.rules, err = e.triggers.Rules(ctx)
	if err != nil {
		e.log.Warn("trigger rules unavailable", "assignment_id", asg.ID, "error", err)
	}

	run.runner = &dayRunner{
		engine:      e,
		gc:          gc,
		asg:         asg,
		batch:       batch,
		step:        stepper.New(gc, e.now),
		temperature: resolve.NewTemperature(e.inputs, e.searchDays),
		mortality:   resolve.NewMortality(e.inputs, e.BatchPopulation),
		feed:        resolve.NewFeed(e.inputs),
		placements:  resolve.NewPlacements(e.inputs),
	}
	return nil
}

// advance computes day d of run. Only cancellation and configuration errors
// are returned; any other failure leaves the day as a gap.
func (e *Engine) advance(ctx context.Context, run *assignmentRun, d time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.halted != nil {
		e.skip(run, d, run.halted)
		return nil
	}
	asg := run.asg
	var a *domain.Anchor
	if found, ok := run.anchors[domain.DateKey(d)]; ok {
		a = &found
	}
	out, outcome, err := run.runner.day(ctx, run.prev, d, a)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if domain.IsConfigurationError(err) {
			return err
		}
		e.log.Warn("day skipped", "assignment_id", asg.ID, "date", domain.DateKey(d), "error", err)
		e.skip(run, d, err)
		if run.prev == nil {
			run.halted = fmt.Errorf("bootstrap day %s not computed", domain.DateKey(d))
		}
		return nil
	}
	e.metrics.DayComputed()
	e.metrics.Upsert(string(outcome))
	switch outcome {
	case domain.UpsertCreated:
		run.res.Created++
	case domain.UpsertUpdated:
		run.res.Updated++
	default:
		run.res.Unchanged++
	}
	for _, v := range out.Violations {
		run.res.Violations++
		e.metrics.GuardViolation(string(v.Flag))
		e.log.Warn("numeric guard", "assignment_id", asg.ID, "date", domain.DateKey(d), "flag", string(v.Flag), "raw", v.Raw, "applied", v.Applied)
	}
	events, err := e.triggers.EvaluateRules(ctx, run.rules, asg, run.prev, out.State)
	if err != nil {
		e.log.Warn("trigger evaluation failed", "assignment_id", asg.ID, "date", domain.DateKey(d), "error", err)
	}
	for _, ev := range events {
		e.metrics.TriggerEmitted(string(ev.Kind))
	}
	run.res.Triggers = append(run.res.Triggers, events...)
	state := out.State
	run.prev = &state
	return nil
}

func (e *Engine) skip(run *assignmentRun, d time.Time, err error) {
	e.metrics.DaySkipped()
	dayErr := &domain.DayError{Date: d, Err: err}
	run.res.Skipped = append(run.res.Skipped, SkippedDay{Date: d, Error: dayErr.Error()})
}

func (e *Engine) finish(run *assignmentRun) {
	e.log.Info("recompute finished",
		"assignment_id", run.asg.ID,
		"start", domain.DateKey(run.window.Start),
		"end", domain.DateKey(run.window.End),
		"created", run.res.Created,
		"updated", run.res.Updated,
		"unchanged", run.res.Unchanged,
		"skipped", len(run.res.Skipped),
	)
}

type dayRunner struct {
	engine      *Engine
	gc          growth.Context
	asg         domain.ContainerAssignment
	batch       domain.Batch
	step        *stepper.Stepper
	temperature *resolve.Temperature
	mortality   *resolve.Mortality
	feed        *resolve.Feed
	placements  *resolve.Placements
}

func (r *dayRunner) day(ctx context.Context, prev *domain.DailyAssignmentState, d time.Time, a *domain.Anchor) (stepper.Outcome, domain.UpsertOutcome, error) {
	day := stepper.Day{
		Assignment: r.asg,
		Date:       d,
		DayNumber:  domain.DaysBetween(r.batch.StartDate, d),
		Anchor:     a,
	}
	if prev == nil {
		dest, err := r.placements.IsTransferDestination(ctx, r.asg.ID, d)
		if err != nil {
			return stepper.Outcome{}, "", err
		}
		day.TransferDestination = dest
	}
	base, err := r.step.Baseline(prev, day)
	if err != nil {
		return stepper.Outcome{}, "", err
	}

	temp, err := r.temperature.Resolve(ctx, r.gc, r.asg.ContainerID, d, day.DayNumber)
	if err != nil {
		return stepper.Outcome{}, "", err
	}
	mort, err := r.mortality.Resolve(ctx, r.gc, r.asg, d, base.Population, base.Stage.Order)
	if err != nil {
		return stepper.Outcome{}, "", err
	}
	feed, err := r.feed.Resolve(ctx, r.asg.ContainerID, d)
	if err != nil {
		return stepper.Outcome{}, "", err
	}
	in, err := r.placements.Resolve(ctx, r.asg.ID, d)
	if err != nil {
		return stepper.Outcome{}, "", err
	}
	outgoing, err := r.placements.Removals(ctx, r.asg.ID, d)
	if err != nil {
		return stepper.Outcome{}, "", err
	}
	day.Inputs = stepper.Inputs{Temperature: temp, Mortality: mort, Feed: feed, Placements: in, Removals: outgoing}

	out, err := r.step.Step(prev, day)
	if err != nil {
		return stepper.Outcome{}, "", err
	}
	outcome, err := r.engine.states.UpsertDailyState(ctx, out.State)
	if err != nil {
		return stepper.Outcome{}, "", fmt.Errorf("upsert state: %w", err)
	}
	return out, outcome, nil
}

// BatchPopulation is the denominator for prorating batch-level mortality on
// day: the previous-day population of every assignment active on day, plus
// the initial population of fresh stockings that start on day. Transfer
// destinations starting on day contribute nothing because their fish are
// still counted in the source's previous-day row.
func (e *Engine) BatchPopulation(ctx context.Context, batchID string, day time.Time) (int64, error) {
	assignments, err := e.inputs.ListBatchAssignments(ctx, batchID)
	if err != nil {
		return 0, err
	}
	day = domain.Day(day)
	prevDay := day.AddDate(0, 0, -1)
	placements := resolve.NewPlacements(e.inputs)
	var total int64
	for _, a := range assignments {
		if !a.ActiveOn(day) {
			continue
		}
		row, ok, err := e.states.GetDailyState(ctx, a.ID, prevDay)
		if err != nil {
			return 0, err
		}
		if ok {
			total += row.Population
			continue
		}
		if !domain.Day(a.AssignmentDate).Equal(day) {
			continue
		}
		dest, err := placements.IsTransferDestination(ctx, a.ID, day)
		if err != nil {
			return 0, err
		}
		if !dest {
			total += a.InitialPopulation
		}
	}
	return total, nil
}

// RecomputeBatch recomputes every assignment of the batch that overlaps the
// window, then aggregates the batch series. Days are processed in ascending
// order and the assignments of one day run in parallel, so every previous-day
// row read for mortality proration is final. Configuration errors for one
// assignment are reported in Failed without stopping the others.
func (e *Engine) RecomputeBatch(ctx context.Context, batchID string, start, end time.Time) (res BatchResult, err error) {
	ctx, span := e.tracer.Start(ctx, "recompute.batch")
	began := time.Now()
	defer func() {
		span.End(err)
		e.metrics.ObserveRecompute(ScopeBatch, err, time.Since(began))
	}()

	req := NewWindow(start, end)
	res = BatchResult{BatchID: batchID, Requested: req}
	if req.Empty() {
		return res, fmt.Errorf("recompute batch %s: end %s before start %s", batchID, domain.DateKey(req.End), domain.DateKey(req.Start))
	}
	if _, err := e.inputs.GetBatch(ctx, batchID); err != nil {
		return res, err
	}
	assignments, err := e.inputs.ListBatchAssignments(ctx, batchID)
	if err != nil {
		return res, err
	}

	var runs []*assignmentRun
	var days Window
	for _, a := range assignments {
		if !overlaps(a, req) {
			continue
		}
		run := newAssignmentRun(a.ID, req)
		runs = append(runs, run)
		if err := e.prepare(ctx, run); err != nil {
			if !domain.IsConfigurationError(err) {
				return res, fmt.Errorf("assignment %s: %w", a.ID, err)
			}
			run.failed = err
			continue
		}
		if run.window.Empty() {
			continue
		}
		if days.Start.IsZero() || run.window.Start.Before(days.Start) {
			days.Start = run.window.Start
		}
		if run.window.End.After(days.End) {
			days.End = run.window.End
		}
	}

	if !days.Start.IsZero() {
		for d := days.Start; !d.After(days.End); d = d.AddDate(0, 0, 1) {
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(e.batchParallel)
			for _, run := range runs {
				if !run.covers(d) {
					continue
				}
				g.Go(func() error {
					err := e.advance(gctx, run, d)
					if err != nil && domain.IsConfigurationError(err) {
						run.failed = err
						return nil
					}
					if err != nil {
						return fmt.Errorf("assignment %s: %w", run.asg.ID, err)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return res, err
			}
		}
	}

	failures := make([]error, 0, len(runs))
	for _, run := range runs {
		if run.failed == nil {
			if !run.window.Empty() {
				e.finish(run)
			}
			res.Assignments = append(res.Assignments, run.res)
			continue
		}
		if res.Failed == nil {
			res.Failed = make(map[string]string)
		}
		res.Failed[run.res.AssignmentID] = run.failed.Error()
		failures = append(failures, run.failed)
	}
	series, err := e.AggregateBatch(ctx, batchID, req.Start, req.End)
	if err != nil {
		return res, err
	}
	res.Series = series
	if len(res.Failed) > 0 && len(res.Assignments) == 0 {
		return res, errors.Join(failures...)
	}
	return res, nil
}

func overlaps(a domain.ContainerAssignment, w Window) bool {
	if domain.Day(a.AssignmentDate).After(w.End) {
		return false
	}
	if a.DepartureDate != nil && !domain.Day(*a.DepartureDate).After(w.Start) {
		return false
	}
	return true
}

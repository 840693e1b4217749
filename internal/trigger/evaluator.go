// Package trigger evaluates externally supplied rules against freshly
// computed daily states and hands deduplicated events to the planning
// collaborator.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"aquacore/internal/observability"
	"aquacore/pkg/domain"

	"github.com/google/uuid"
)

// DefaultWindowDays is used when a rule does not set WindowDays.
const DefaultWindowDays = 7

var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("aquacore/trigger-events"))

// Sink receives emitted events. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, event domain.TriggerEvent) error
}

// Evaluator checks trigger rules after each step.
type Evaluator struct {
	rules  domain.TriggerRuleStore
	ledger domain.TriggerLedger
	sink   Sink
	log    *observability.Logger
	now    func() time.Time
	// mu serializes look-up, publish and record so one key is published once
	// per process.
	mu sync.Mutex
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithSink sets the planning collaborator. Without one, events are recorded
// in the ledger only.
func WithSink(s Sink) Option { return func(e *Evaluator) { e.sink = s } }

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option { return func(e *Evaluator) { e.log = l } }

// WithClock overrides the emission clock.
func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

// NewEvaluator constructs an evaluator. A nil ledger deduplicates in memory
// for the lifetime of the evaluator.
func NewEvaluator(rules domain.TriggerRuleStore, ledger domain.TriggerLedger, opts ...Option) *Evaluator {
	e := &Evaluator{rules: rules, ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.ledger == nil {
		e.ledger = NewMemoryLedger()
	}
	e.log = observability.OrNop(e.log)
	return e
}

// Rules loads the active rule set. A nil rule store yields no rules.
func (e *Evaluator) Rules(ctx context.Context) ([]domain.TriggerRule, error) {
	if e.rules == nil {
		return nil, nil
	}
	rules, err := e.rules.ListTriggerRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trigger rules: %w", err)
	}
	return rules, nil
}

// Evaluate loads the rules and evaluates state against them.
func (e *Evaluator) Evaluate(ctx context.Context, assignment domain.ContainerAssignment, prev *domain.DailyAssignmentState, state domain.DailyAssignmentState) ([]domain.TriggerEvent, error) {
	rules, err := e.Rules(ctx)
	if err != nil {
		return nil, err
	}
	return e.EvaluateRules(ctx, rules, assignment, prev, state)
}

// EvaluateRules evaluates state against an already loaded rule set and
// returns the events that were newly emitted. An event is recorded only after
// the sink accepted it, so a failed publication is retried the next time the
// day is evaluated. Publication and ledger failures are returned after every
// rule has been tried.
func (e *Evaluator) EvaluateRules(ctx context.Context, rules []domain.TriggerRule, assignment domain.ContainerAssignment, prev *domain.DailyAssignmentState, state domain.DailyAssignmentState) ([]domain.TriggerEvent, error) {
	var emitted []domain.TriggerEvent
	var errs []error
	for _, rule := range rules {
		if !rule.AppliesTo(state.BatchID) {
			continue
		}
		msg, ok := Match(rule, prev, state)
		if !ok {
			continue
		}
		ev := e.newEvent(rule, assignment, state, msg)
		ok, err := e.emit(ctx, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			emitted = append(emitted, ev)
		}
	}
	return emitted, errors.Join(errs...)
}

// emit publishes ev unless its key is already in the ledger, then records
// it. Without a sink the ledger insert alone decides.
func (e *Evaluator) emit(ctx context.Context, ev domain.TriggerEvent) (bool, error) {
	if e.sink == nil {
		inserted, err := e.ledger.RecordTriggerEvent(ctx, ev)
		if err != nil {
			return false, fmt.Errorf("record trigger %s: %w", ev.DedupKey, err)
		}
		return inserted, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	seen, err := e.ledger.HasTriggerEvent(ctx, ev.DedupKey)
	if err != nil {
		return false, fmt.Errorf("look up trigger %s: %w", ev.DedupKey, err)
	}
	if seen {
		return false, nil
	}
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.log.Warn("trigger publish failed", "rule_id", ev.RuleID, "batch_id", ev.BatchID, "assignment_id", ev.AssignmentID, "error", err)
		return false, fmt.Errorf("publish trigger %s: %w", ev.DedupKey, err)
	}
	inserted, err := e.ledger.RecordTriggerEvent(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("record trigger %s: %w", ev.DedupKey, err)
	}
	return inserted, nil
}

// DedupKey identifies one rule firing per batch per window.
func DedupKey(rule domain.TriggerRule, batchID string, dayNumber int) string {
	window := rule.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}
	idx := dayNumber / window
	if dayNumber < 0 {
		idx = (dayNumber - window + 1) / window
	}
	return rule.ID + "|" + batchID + "|" + strconv.Itoa(idx)
}

func (e *Evaluator) newEvent(rule domain.TriggerRule, assignment domain.ContainerAssignment, state domain.DailyAssignmentState, msg string) domain.TriggerEvent {
	key := DedupKey(rule, state.BatchID, state.DayNumber)
	return domain.TriggerEvent{
		ID:             uuid.NewSHA1(eventNamespace, []byte(key)).String(),
		DedupKey:       key,
		RuleID:         rule.ID,
		Kind:           rule.Kind,
		BatchID:        state.BatchID,
		AssignmentID:   assignment.ID,
		ContainerID:    assignment.ContainerID,
		Date:           domain.Day(state.Date),
		DayNumber:      state.DayNumber,
		AvgWeightG:     state.AvgWeightG.StringFixed(2),
		LifecycleStage: state.LifecycleStage,
		StageOrder:     state.StageOrder,
		Template:       rule.ActivityTemplate,
		Message:        msg,
		EmittedAt:      e.now().UTC(),
	}
}

// Match reports whether state satisfies rule and describes the firing.
func Match(rule domain.TriggerRule, prev *domain.DailyAssignmentState, state domain.DailyAssignmentState) (string, bool) {
	switch rule.Kind {
	case domain.TriggerWeightThreshold:
		if rule.WeightThresholdG <= 0 {
			return "", false
		}
		w, _ := state.AvgWeightG.Float64()
		if w < rule.WeightThresholdG {
			return "", false
		}
		if prev != nil {
			if pw, _ := prev.AvgWeightG.Float64(); pw >= rule.WeightThresholdG {
				return "", false
			}
		}
		return fmt.Sprintf("assignment %s reached %s g (threshold %g g) on %s",
			state.AssignmentID, state.AvgWeightG.StringFixed(2), rule.WeightThresholdG, domain.DateKey(state.Date)), true

	case domain.TriggerStageTransition:
		if prev == nil || prev.StageOrder == state.StageOrder {
			return "", false
		}
		if rule.TargetStageOrder != nil && *rule.TargetStageOrder != state.StageOrder {
			return "", false
		}
		return fmt.Sprintf("assignment %s advanced from %s to %s on %s",
			state.AssignmentID, prev.LifecycleStage, state.LifecycleStage, domain.DateKey(state.Date)), true

	case domain.TriggerMortalitySpike:
		if rule.MortalityPct <= 0 || state.MortalityCount <= 0 {
			return "", false
		}
		base := state.Population + state.MortalityCount
		if prev != nil {
			base = prev.Population
		}
		if base <= 0 {
			return "", false
		}
		pct := float64(state.MortalityCount) * 100 / float64(base)
		if pct < rule.MortalityPct {
			return "", false
		}
		return fmt.Sprintf("assignment %s lost %d fish (%.2f%%) on %s",
			state.AssignmentID, state.MortalityCount, pct, domain.DateKey(state.Date)), true
	}
	return "", false
}

// MemoryLedger is an in-process TriggerLedger.
type MemoryLedger struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	events []domain.TriggerEvent
}

// NewMemoryLedger constructs an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

// HasTriggerEvent implements domain.TriggerLedger.
func (l *MemoryLedger) HasTriggerEvent(_ context.Context, dedupKey string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[dedupKey]
	return ok, nil
}

// RecordTriggerEvent implements domain.TriggerLedger.
func (l *MemoryLedger) RecordTriggerEvent(_ context.Context, event domain.TriggerEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[event.DedupKey]; ok {
		return false, nil
	}
	l.seen[event.DedupKey] = struct{}{}
	l.events = append(l.events, event)
	return true, nil
}

// ListTriggerEvents implements domain.TriggerLedger.
func (l *MemoryLedger) ListTriggerEvents(_ context.Context, batchID string) ([]domain.TriggerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.TriggerEvent
	for _, ev := range l.events {
		if batchID == "" || ev.BatchID == batchID {
			out = append(out, ev)
		}
	}
	return out, nil
}

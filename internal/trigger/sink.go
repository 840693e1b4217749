package trigger

import (
	"context"
	"errors"

	"aquacore/internal/observability"
	"aquacore/pkg/domain"
)

// LogSink writes events to the log. It is the default planning sink of the
// daemon when no broker is configured.
type LogSink struct {
	log *observability.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(log *observability.Logger) *LogSink {
	return &LogSink{log: observability.OrNop(log)}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, ev domain.TriggerEvent) error {
	s.log.Info("trigger event",
		"event_id", ev.ID,
		"kind", ev.Kind,
		"rule_id", ev.RuleID,
		"batch_id", ev.BatchID,
		"assignment_id", ev.AssignmentID,
		"date", domain.DateKey(ev.Date),
		"message", ev.Message,
	)
	return nil
}

// MultiSink fans an event out to several sinks and joins their errors.
type MultiSink []Sink

// Publish implements Sink.
func (m MultiSink) Publish(ctx context.Context, ev domain.TriggerEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

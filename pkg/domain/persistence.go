package domain

import (
	"context"
	"time"
)

// Date ranges passed to readers are half-open: [from, to).

// AssignmentReader exposes batches, containers and assignments.
type AssignmentReader interface {
	GetAssignment(ctx context.Context, id string) (ContainerAssignment, error)
	GetBatch(ctx context.Context, id string) (Batch, error)
	ListBatchAssignments(ctx context.Context, batchID string) ([]ContainerAssignment, error)
	ListActiveAssignments(ctx context.Context, day time.Time) ([]ContainerAssignment, error)
}

// ScenarioReader exposes growth scenarios.
type ScenarioReader interface {
	GetScenario(ctx context.Context, id string) (GrowthScenario, error)
}

// AnchorSource exposes the records the anchor detector scans.
type AnchorSource interface {
	GrowthSamples(ctx context.Context, assignmentID string, from, to time.Time) ([]GrowthSample, error)
	TransfersTouching(ctx context.Context, assignmentID string, from, to time.Time) ([]TransferRecord, error)
	Treatments(ctx context.Context, assignmentID string, from, to time.Time) ([]TreatmentRecord, error)
	ManualWeights(ctx context.Context, assignmentID string, from, to time.Time) ([]ManualWeight, error)
}

// TemperatureReadingStore exposes container temperature readings.
type TemperatureReadingStore interface {
	TemperatureReadings(ctx context.Context, containerID string, from, to time.Time) ([]SensorReading, error)
}

// MortalityStore exposes mortality events.
type MortalityStore interface {
	AssignmentMortality(ctx context.Context, assignmentID string, from, to time.Time) ([]MortalityEvent, error)
	BatchMortality(ctx context.Context, batchID string, from, to time.Time) ([]MortalityEvent, error)
}

// FeedingStore exposes feeding events.
type FeedingStore interface {
	FeedingEvents(ctx context.Context, containerID string, from, to time.Time) ([]FeedingEvent, error)
}

// TransferStore exposes transfers by direction.
type TransferStore interface {
	TransfersInto(ctx context.Context, assignmentID string, from, to time.Time) ([]TransferRecord, error)
	TransfersOutOf(ctx context.Context, assignmentID string, from, to time.Time) ([]TransferRecord, error)
}

// TriggerRuleStore exposes externally supplied trigger rules.
type TriggerRuleStore interface {
	ListTriggerRules(ctx context.Context) ([]TriggerRule, error)
}

// InputSource groups every read-only collaborator the engine consumes.
type InputSource interface {
	AssignmentReader
	ScenarioReader
	AnchorSource
	TemperatureReadingStore
	MortalityStore
	FeedingStore
	TransferStore
	TriggerRuleStore
}

// StateStore owns DailyAssignmentState rows. Upserts are atomic per row.
type StateStore interface {
	UpsertDailyState(ctx context.Context, state DailyAssignmentState) (UpsertOutcome, error)
	GetDailyState(ctx context.Context, assignmentID string, day time.Time) (DailyAssignmentState, bool, error)
	ListDailyStates(ctx context.Context, assignmentID string, from, to time.Time) ([]DailyAssignmentState, error)
	LatestDailyStateBefore(ctx context.Context, assignmentID string, day time.Time) (DailyAssignmentState, bool, error)
}

// TriggerLedger records emitted trigger events. RecordTriggerEvent returns
// false when an event with the same DedupKey already exists.
type TriggerLedger interface {
	HasTriggerEvent(ctx context.Context, dedupKey string) (bool, error)
	RecordTriggerEvent(ctx context.Context, event TriggerEvent) (bool, error)
	ListTriggerEvents(ctx context.Context, batchID string) ([]TriggerEvent, error)
}

// PersistentStore is the full store surface implemented by every backend.
type PersistentStore interface {
	InputSource
	StateStore
	TriggerLedger
	Close() error
}

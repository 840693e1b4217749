// Package domain defines the persistent entities, input records and value
// types consumed and produced by the aquacore growth assimilation engine.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in errors and persistence buckets.
const (
	EntityBatch           EntityType = "batch"
	EntityContainer       EntityType = "container"
	EntityAssignment      EntityType = "container_assignment"
	EntityScenario        EntityType = "growth_scenario"
	EntityGrowthSample    EntityType = "growth_sample"
	EntityTransfer        EntityType = "transfer"
	EntityTreatment       EntityType = "treatment"
	EntitySensorReading   EntityType = "sensor_reading"
	EntityMortalityEvent  EntityType = "mortality_event"
	EntityFeedingEvent    EntityType = "feeding_event"
	EntityManualWeight    EntityType = "manual_weight"
	EntityDailyState      EntityType = "daily_assignment_state"
	EntityTriggerRule     EntityType = "trigger_rule"
	EntityTriggerEvent    EntityType = "trigger_event"
	EntityRecomputeWindow EntityType = "recompute_window"
)

// AnchorType identifies the ground-truth source that reset a day's weight.
type AnchorType string

// Anchor types, highest precedence first.
const (
	AnchorNone         AnchorType = "NONE"
	AnchorGrowthSample AnchorType = "GROWTH_SAMPLE"
	AnchorTransfer     AnchorType = "TRANSFER"
	AnchorTreatment    AnchorType = "TREATMENT"
	AnchorManual       AnchorType = "MANUAL"
)

// Precedence returns the ordering rank of an anchor type; lower wins.
func (a AnchorType) Precedence() int {
	switch a {
	case AnchorGrowthSample:
		return 0
	case AnchorTransfer:
		return 1
	case AnchorTreatment:
		return 2
	case AnchorManual:
		return 3
	default:
		return 99
	}
}

// SourceTag records which tier of a fallback hierarchy produced a value.
type SourceTag string

// Source tags written into DailyAssignmentState.Sources.
const (
	SourceMeasured     SourceTag = "MEASURED"
	SourceInterpolated SourceTag = "INTERPOLATED"
	SourceProfile      SourceTag = "PROFILE"
	SourceModel        SourceTag = "MODEL"
	SourceActual       SourceTag = "ACTUAL"
	SourceNone         SourceTag = "NONE"
)

// SelectionMethod describes how fish were picked for a transfer.
type SelectionMethod string

// Transfer selection methods.
const (
	SelectionAverage  SelectionMethod = "AVERAGE"
	SelectionLargest  SelectionMethod = "LARGEST"
	SelectionSmallest SelectionMethod = "SMALLEST"
)

// TransferStatus enumerates transfer workflow states.
type TransferStatus string

// Only completed transfers move population.
const (
	TransferPlanned   TransferStatus = "planned"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Batch is a cohort of fish followed from stocking to harvest.
type Batch struct {
	Base
	Code             string    `json:"code"`
	Species          string    `json:"species"`
	StartDate        time.Time `json:"start_date"`
	PinnedScenarioID *string   `json:"pinned_scenario_id"`
}

// Container is a physical tank, pen or tray.
type Container struct {
	Base
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	AreaID   string `json:"area_id"`
	Capacity int64  `json:"capacity"`
}

// ContainerAssignment is one population's residency in one container over
// [AssignmentDate, DepartureDate).
type ContainerAssignment struct {
	Base
	BatchID           string     `json:"batch_id"`
	ContainerID       string     `json:"container_id"`
	AssignmentDate    time.Time  `json:"assignment_date"`
	DepartureDate     *time.Time `json:"departure_date"`
	InitialPopulation int64      `json:"initial_population"`
	LifecycleStage    string     `json:"lifecycle_stage"`
	ScenarioID        *string    `json:"scenario_id"`
	Active            bool       `json:"active"`
}

// ActiveOn reports whether the assignment covers day.
func (a ContainerAssignment) ActiveOn(day time.Time) bool {
	day = Day(day)
	if day.Before(Day(a.AssignmentDate)) {
		return false
	}
	if a.DepartureDate != nil && !day.Before(Day(*a.DepartureDate)) {
		return false
	}
	return true
}

// GrowthSample is a direct measurement of average weight.
type GrowthSample struct {
	Base
	AssignmentID string          `json:"assignment_id"`
	SampleDate   time.Time       `json:"sample_date"`
	SampleSize   int             `json:"sample_size"`
	AvgWeightG   decimal.Decimal `json:"avg_weight_g"`
}

// TransferRecord moves fish between assignments.
type TransferRecord struct {
	Base
	SourceAssignmentID string           `json:"source_assignment_id"`
	DestAssignmentID   string           `json:"dest_assignment_id"`
	ExecutionDate      time.Time        `json:"execution_date"`
	Status             TransferStatus   `json:"status"`
	TransferredCount   int64            `json:"transferred_count"`
	MeasuredWeightG    *decimal.Decimal `json:"measured_avg_weight_g"`
	SelectionMethod    SelectionMethod  `json:"selection_method"`
}

// TreatmentRecord is a health treatment that may include weighing.
type TreatmentRecord struct {
	Base
	AssignmentID     string           `json:"assignment_id"`
	TreatmentDate    time.Time        `json:"treatment_date"`
	TreatmentType    string           `json:"treatment_type"`
	IncludesWeighing bool             `json:"includes_weighing"`
	AvgWeightG       *decimal.Decimal `json:"avg_weight_g"`
}

// ManualWeight is an administrator-entered weight override.
type ManualWeight struct {
	Base
	AssignmentID string          `json:"assignment_id"`
	Date         time.Time       `json:"date"`
	AvgWeightG   decimal.Decimal `json:"avg_weight_g"`
	Confidence   *float64        `json:"confidence"`
	EnteredBy    string          `json:"entered_by"`
}

// SensorParameterTemperature is the only parameter read by the engine.
const SensorParameterTemperature = "temperature"

// SensorReading is a single environmental measurement.
type SensorReading struct {
	ContainerID string          `json:"container_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Parameter   string          `json:"parameter"`
	Value       decimal.Decimal `json:"value"`
}

// MortalityEvent records deaths either for one assignment or for a whole
// batch (AssignmentID empty), the latter requiring proration.
type MortalityEvent struct {
	Base
	AssignmentID string    `json:"assignment_id,omitempty"`
	BatchID      string    `json:"batch_id"`
	EventDate    time.Time `json:"event_date"`
	Count        int64     `json:"count"`
	Cause        string    `json:"cause,omitempty"`
}

// BatchScoped reports whether the event must be prorated.
func (m MortalityEvent) BatchScoped() bool { return m.AssignmentID == "" }

// FeedingEvent records feed delivered to a container.
type FeedingEvent struct {
	Base
	ContainerID string          `json:"container_id"`
	FeedingDate time.Time       `json:"feeding_date"`
	AmountKg    decimal.Decimal `json:"amount_kg"`
	FeedType    string          `json:"feed_type,omitempty"`
}

// Day truncates t to midnight UTC. All engine dates are UTC calendar days.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// DateKey formats a day as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return Day(t).Format(time.DateOnly)
}

// ParseDateKey parses a YYYY-MM-DD date.
func ParseDateKey(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, time.UTC)
}

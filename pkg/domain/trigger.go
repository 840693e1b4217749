package domain

import "time"

// TriggerKind enumerates the supported trigger rule types.
type TriggerKind string

// Trigger rule kinds.
const (
	TriggerWeightThreshold TriggerKind = "WEIGHT_THRESHOLD"
	TriggerStageTransition TriggerKind = "STAGE_TRANSITION"
	TriggerMortalitySpike  TriggerKind = "MORTALITY_SPIKE"
)

// TriggerRule is an externally supplied condition evaluated after each step.
// An empty BatchID applies the rule to every batch.
type TriggerRule struct {
	Base
	Name             string      `json:"name"`
	Kind             TriggerKind `json:"kind"`
	BatchID          string      `json:"batch_id,omitempty"`
	Active           bool        `json:"active"`
	WeightThresholdG float64     `json:"weight_threshold_g,omitempty"`
	TargetStageOrder *int        `json:"target_stage_order,omitempty"`
	MortalityPct     float64     `json:"mortality_pct,omitempty"`
	WindowDays       int         `json:"window_days"`
	ActivityTemplate string      `json:"activity_template,omitempty"`
}

// AppliesTo reports whether the rule is active for batchID.
func (r TriggerRule) AppliesTo(batchID string) bool {
	return r.Active && (r.BatchID == "" || r.BatchID == batchID)
}

// TriggerEvent is emitted to the planning collaborator when a rule fires.
type TriggerEvent struct {
	ID             string      `json:"id"`
	DedupKey       string      `json:"dedup_key"`
	RuleID         string      `json:"rule_id"`
	Kind           TriggerKind `json:"kind"`
	BatchID        string      `json:"batch_id"`
	AssignmentID   string      `json:"assignment_id"`
	ContainerID    string      `json:"container_id"`
	Date           time.Time   `json:"date"`
	DayNumber      int         `json:"day_number"`
	AvgWeightG     string      `json:"avg_weight_g"`
	LifecycleStage string      `json:"lifecycle_stage"`
	StageOrder     int         `json:"stage_order"`
	Template       string      `json:"activity_template,omitempty"`
	Message        string      `json:"message"`
	EmittedAt      time.Time   `json:"emitted_at"`
}

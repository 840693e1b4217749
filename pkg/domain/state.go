package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Input names used as keys in Sources and ConfidenceScores.
const (
	InputWeight      = "weight"
	InputTemperature = "temperature"
	InputMortality   = "mortality"
	InputFeed        = "feed"
	InputPlacements  = "placements"
	InputFCR         = "fcr"
)

// QualityFlag marks a numeric guard or data-quality condition on a row.
type QualityFlag string

// Flags recorded in DailyAssignmentState.Flags.
const (
	FlagFCRInsufficientData QualityFlag = "fcr_insufficient_data"
	FlagFCRClamped          QualityFlag = "fcr_clamped"
	FlagFCRImplausible      QualityFlag = "fcr_implausible"
	FlagFCRAboveModel       QualityFlag = "fcr_above_model"
	FlagPopulationFloored   QualityFlag = "population_floored"
	FlagWeightDecreased     QualityFlag = "weight_decreased"
	FlagTemperatureClamped  QualityFlag = "temperature_clamped"
	FlagAnchorAmbiguous     QualityFlag = "anchor_ambiguous"
	FlagMortalityProrated   QualityFlag = "mortality_prorated"
	FlagGrowthCapped        QualityFlag = "growth_capped"
)

// Anchor is a trusted weight that resets the growth trajectory on Date.
type Anchor struct {
	Date                    time.Time       `json:"date"`
	MeasuredWeightG         decimal.Decimal `json:"measured_weight_g"`
	RawWeightG              decimal.Decimal `json:"raw_weight_g"`
	Type                    AnchorType      `json:"anchor_type"`
	Confidence              float64         `json:"confidence"`
	SelectionBiasAdjustment float64         `json:"selection_bias_adjustment"`
	SourceID                string          `json:"source_id"`
	Ambiguous               bool            `json:"ambiguous"`
}

// DailyAssignmentState is the engine's output row, unique per
// (AssignmentID, Date).
type DailyAssignmentState struct {
	AssignmentID     string               `json:"assignment_id"`
	BatchID          string               `json:"batch_id"`
	ContainerID      string               `json:"container_id"`
	Date             time.Time            `json:"date"`
	DayNumber        int                  `json:"day_number"`
	AvgWeightG       decimal.Decimal      `json:"avg_weight_g"`
	Population       int64                `json:"population"`
	BiomassKg        decimal.Decimal      `json:"biomass_kg"`
	LifecycleStage   string               `json:"lifecycle_stage"`
	StageOrder       int                  `json:"stage_order"`
	TempC            *decimal.Decimal     `json:"temp_c"`
	MortalityCount   int64                `json:"mortality_count"`
	PlacementsCount  int64                `json:"placements_count"`
	RemovalsCount    int64                `json:"removals_count"`
	FeedKg           decimal.Decimal      `json:"feed_kg"`
	ObservedFCR      *decimal.Decimal     `json:"observed_fcr"`
	AnchorType       AnchorType           `json:"anchor_type"`
	Sources          map[string]SourceTag `json:"sources"`
	ConfidenceScores map[string]float64   `json:"confidence_scores"`
	Flags            []QualityFlag        `json:"flags,omitempty"`
	ScenarioID       string               `json:"scenario_id"`
	ComputedAt       time.Time            `json:"computed_at"`
}

// Key returns the upsert key of the row.
func (s DailyAssignmentState) Key() StateKey {
	return StateKey{AssignmentID: s.AssignmentID, Date: DateKey(s.Date)}
}

// HasFlag reports whether flag was recorded on the row.
func (s DailyAssignmentState) HasFlag(flag QualityFlag) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// SameContent reports whether two rows are identical ignoring ComputedAt.
func (s DailyAssignmentState) SameContent(other DailyAssignmentState) bool {
	a, errA := s.contentBytes()
	b, errB := other.contentBytes()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func (s DailyAssignmentState) contentBytes() ([]byte, error) {
	s.ComputedAt = time.Time{}
	s.Date = Day(s.Date)
	return json.Marshal(s)
}

// StateKey identifies one DailyAssignmentState row.
type StateKey struct {
	AssignmentID string
	Date         string
}

// UpsertOutcome reports what an upsert did.
type UpsertOutcome string

// Upsert outcomes.
const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// BatchDailyState aggregates assignment rows of one batch for one date.
type BatchDailyState struct {
	BatchID         string           `json:"batch_id"`
	Date            time.Time        `json:"date"`
	DayNumber       int              `json:"day_number"`
	AssignmentCount int              `json:"assignment_count"`
	Population      int64            `json:"population"`
	BiomassKg       decimal.Decimal  `json:"biomass_kg"`
	AvgWeightG      decimal.Decimal  `json:"avg_weight_g"`
	AvgTempC        *decimal.Decimal `json:"avg_temp_c"`
	MortalityCount  int64            `json:"mortality_count"`
	FeedKg          decimal.Decimal  `json:"feed_kg"`
	MinConfidence   float64          `json:"min_confidence"`
}

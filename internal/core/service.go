package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"aquacore/internal/infra/persistence/memory"
	"aquacore/internal/observability"
	"aquacore/pkg/domain"
)

// Store is the persistent store surface the service needs: the engine's
// read/write contracts plus transactional input writes.
type Store interface {
	domain.PersistentStore
	RunInTransaction(ctx context.Context, fn func(tx *memory.Tx) error) error
}

// Service exposes recompute, query and input import operations.
type Service struct {
	store  Store
	engine *Engine
	log    *observability.Logger
}

// NewService constructs a service backed by the supplied store.
func NewService(store Store, opts ...EngineOption) *Service {
	engine := NewEngine(store, store, opts...)
	return &Service{store: store, engine: engine, log: engine.log}
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(opts ...EngineOption) *Service {
	return NewService(memory.NewStore(), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() Store { return s.store }

// Engine returns the recompute engine.
func (s *Service) Engine() *Engine { return s.engine }

// RecomputeAssignment recomputes one assignment window.
func (s *Service) RecomputeAssignment(ctx context.Context, assignmentID string, start, end time.Time) (AssignmentResult, error) {
	return s.engine.RecomputeAssignment(ctx, assignmentID, start, end)
}

// RecomputeBatch recomputes every assignment of a batch.
func (s *Service) RecomputeBatch(ctx context.Context, batchID string, start, end time.Time) (BatchResult, error) {
	return s.engine.RecomputeBatch(ctx, batchID, start, end)
}

// AssignmentSeries returns stored rows for [start, end].
func (s *Service) AssignmentSeries(ctx context.Context, assignmentID string, start, end time.Time) ([]domain.DailyAssignmentState, error) {
	return s.engine.AssignmentSeries(ctx, assignmentID, start, end)
}

// BatchSeries returns the aggregated batch series for [start, end].
func (s *Service) BatchSeries(ctx context.Context, batchID string, start, end time.Time) ([]domain.BatchDailyState, error) {
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.engine.AggregateBatch(ctx, batchID, start, end)
}

// TriggerEvents lists recorded trigger events for a batch ("" for all).
func (s *Service) TriggerEvents(ctx context.Context, batchID string) ([]domain.TriggerEvent, error) {
	return s.store.ListTriggerEvents(ctx, batchID)
}

// ImportScenario validates and stores a scenario, optionally pinning it to a batch.
func (s *Service) ImportScenario(ctx context.Context, sc domain.GrowthScenario, pinBatchID string) (domain.GrowthScenario, error) {
	var stored domain.GrowthScenario
	err := s.store.RunInTransaction(ctx, func(tx *memory.Tx) error {
		var err error
		stored, err = tx.PutScenario(sc)
		if err != nil {
			return err
		}
		if pinBatchID != "" {
			return tx.PinScenario(pinBatchID, stored.ID)
		}
		return nil
	})
	if err != nil {
		return domain.GrowthScenario{}, err
	}
	s.log.Info("scenario imported", "scenario_id", stored.ID, "pinned_batch", pinBatchID)
	return stored, nil
}

// Inputs is a bundle of input records imported in one transaction.
type Inputs struct {
	Scenarios     []domain.GrowthScenario      `json:"scenarios"`
	Batches       []domain.Batch               `json:"batches"`
	Containers    []domain.Container           `json:"containers"`
	Assignments   []domain.ContainerAssignment `json:"assignments"`
	Samples       []domain.GrowthSample        `json:"growth_samples"`
	Transfers     []domain.TransferRecord      `json:"transfers"`
	Treatments    []domain.TreatmentRecord     `json:"treatments"`
	ManualWeights []domain.ManualWeight        `json:"manual_weights"`
	Readings      []domain.SensorReading       `json:"sensor_readings"`
	Mortality     []domain.MortalityEvent      `json:"mortality_events"`
	Feedings      []domain.FeedingEvent        `json:"feeding_events"`
	TriggerRules  []domain.TriggerRule         `json:"trigger_rules"`
}

// DecodeInputs reads a JSON input bundle.
func DecodeInputs(r io.Reader) (Inputs, error) {
	var in Inputs
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return Inputs{}, fmt.Errorf("decode inputs: %w", err)
	}
	return in, nil
}

// ImportInputs writes the bundle in dependency order. Either every record is
// stored or none is.
func (s *Service) ImportInputs(ctx context.Context, in Inputs) error {
	return s.store.RunInTransaction(ctx, func(tx *memory.Tx) error {
		for _, sc := range in.Scenarios {
			if _, err := tx.PutScenario(sc); err != nil {
				return err
			}
		}
		for _, b := range in.Batches {
			if _, err := tx.PutBatch(b); err != nil {
				return err
			}
		}
		for _, c := range in.Containers {
			if _, err := tx.PutContainer(c); err != nil {
				return err
			}
		}
		for _, a := range in.Assignments {
			if _, err := tx.PutAssignment(a); err != nil {
				return err
			}
		}
		for _, r := range in.Samples {
			if _, err := tx.AddGrowthSample(r); err != nil {
				return err
			}
		}
		for _, r := range in.Transfers {
			if _, err := tx.AddTransfer(r); err != nil {
				return err
			}
		}
		for _, r := range in.Treatments {
			if _, err := tx.AddTreatment(r); err != nil {
				return err
			}
		}
		for _, r := range in.ManualWeights {
			if _, err := tx.AddManualWeight(r); err != nil {
				return err
			}
		}
		for _, r := range in.Readings {
			if err := tx.AddSensorReading(r); err != nil {
				return err
			}
		}
		for _, r := range in.Mortality {
			if _, err := tx.AddMortality(r); err != nil {
				return err
			}
		}
		for _, r := range in.Feedings {
			if _, err := tx.AddFeeding(r); err != nil {
				return err
			}
		}
		for _, r := range in.TriggerRules {
			if _, err := tx.PutTriggerRule(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// ActiveAssignments lists assignments active on day.
func (s *Service) ActiveAssignments(ctx context.Context, day time.Time) ([]domain.ContainerAssignment, error) {
	return s.store.ListActiveAssignments(ctx, day)
}

// Package memory provides an in-memory implementation of the engine's
// persistent store used for tests, ephemeral environments and as the input
// cache behind the SQL backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"aquacore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type memoryState struct {
	batches       map[string]domain.Batch
	containers    map[string]domain.Container
	assignments   map[string]domain.ContainerAssignment
	scenarios     map[string]domain.GrowthScenario
	samples       map[string]domain.GrowthSample
	transfers     map[string]domain.TransferRecord
	treatments    map[string]domain.TreatmentRecord
	manualWeights map[string]domain.ManualWeight
	readings      []domain.SensorReading
	mortality     map[string]domain.MortalityEvent
	feedings      map[string]domain.FeedingEvent
	triggerRules  map[string]domain.TriggerRule
}

// Snapshot captures a point-in-time clone of the input records. Each field is
// persisted as one bucket by the SQL backends.
type Snapshot struct {
	Batches       map[string]domain.Batch               `json:"batches"`
	Containers    map[string]domain.Container           `json:"containers"`
	Assignments   map[string]domain.ContainerAssignment `json:"assignments"`
	Scenarios     map[string]domain.GrowthScenario      `json:"scenarios"`
	Samples       map[string]domain.GrowthSample        `json:"samples"`
	Transfers     map[string]domain.TransferRecord      `json:"transfers"`
	Treatments    map[string]domain.TreatmentRecord     `json:"treatments"`
	ManualWeights map[string]domain.ManualWeight        `json:"manual_weights"`
	Readings      []domain.SensorReading                `json:"readings"`
	Mortality     map[string]domain.MortalityEvent      `json:"mortality"`
	Feedings      map[string]domain.FeedingEvent        `json:"feedings"`
	TriggerRules  map[string]domain.TriggerRule         `json:"trigger_rules"`
}

// Buckets maps each persisted bucket name to the snapshot field it decodes into.
func (s *Snapshot) Buckets() map[string]any {
	return map[string]any{
		"batches":        &s.Batches,
		"containers":     &s.Containers,
		"assignments":    &s.Assignments,
		"scenarios":      &s.Scenarios,
		"samples":        &s.Samples,
		"transfers":      &s.Transfers,
		"treatments":     &s.Treatments,
		"manual_weights": &s.ManualWeights,
		"readings":       &s.Readings,
		"mortality":      &s.Mortality,
		"feedings":       &s.Feedings,
		"trigger_rules":  &s.TriggerRules,
	}
}

func newMemoryState() memoryState {
	return memoryState{
		batches:       make(map[string]domain.Batch),
		containers:    make(map[string]domain.Container),
		assignments:   make(map[string]domain.ContainerAssignment),
		scenarios:     make(map[string]domain.GrowthScenario),
		samples:       make(map[string]domain.GrowthSample),
		transfers:     make(map[string]domain.TransferRecord),
		treatments:    make(map[string]domain.TreatmentRecord),
		manualWeights: make(map[string]domain.ManualWeight),
		mortality:     make(map[string]domain.MortalityEvent),
		feedings:      make(map[string]domain.FeedingEvent),
		triggerRules:  make(map[string]domain.TriggerRule),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s memoryState) clone() memoryState {
	return memoryState{
		batches:       cloneMap(s.batches),
		containers:    cloneMap(s.containers),
		assignments:   cloneMap(s.assignments),
		scenarios:     cloneMap(s.scenarios),
		samples:       cloneMap(s.samples),
		transfers:     cloneMap(s.transfers),
		treatments:    cloneMap(s.treatments),
		manualWeights: cloneMap(s.manualWeights),
		readings:      append([]domain.SensorReading(nil), s.readings...),
		mortality:     cloneMap(s.mortality),
		feedings:      cloneMap(s.feedings),
		triggerRules:  cloneMap(s.triggerRules),
	}
}

func snapshotFromMemoryState(s memoryState) Snapshot {
	c := s.clone()
	return Snapshot{
		Batches:       c.batches,
		Containers:    c.containers,
		Assignments:   c.assignments,
		Scenarios:     c.scenarios,
		Samples:       c.samples,
		Transfers:     c.transfers,
		Treatments:    c.treatments,
		ManualWeights: c.manualWeights,
		Readings:      c.readings,
		Mortality:     c.mortality,
		Feedings:      c.feedings,
		TriggerRules:  c.triggerRules,
	}
}

func orEmpty[K comparable, V any](in map[K]V) map[K]V {
	if in == nil {
		return make(map[K]V)
	}
	return cloneMap(in)
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		batches:       orEmpty(s.Batches),
		containers:    orEmpty(s.Containers),
		assignments:   orEmpty(s.Assignments),
		scenarios:     orEmpty(s.Scenarios),
		samples:       orEmpty(s.Samples),
		transfers:     orEmpty(s.Transfers),
		treatments:    orEmpty(s.Treatments),
		manualWeights: orEmpty(s.ManualWeights),
		readings:      append([]domain.SensorReading(nil), s.Readings...),
		mortality:     orEmpty(s.Mortality),
		feedings:      orEmpty(s.Feedings),
		triggerRules:  orEmpty(s.TriggerRules),
	}
}

// Store provides an in-memory store for inputs, computed rows and the
// trigger ledger.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	rows   map[domain.StateKey]domain.DailyAssignmentState
	ledger map[string]domain.TriggerEvent
	order  []string
	nowFn  func() time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state:  newMemoryState(),
		rows:   make(map[domain.StateKey]domain.DailyAssignmentState),
		ledger: make(map[string]domain.TriggerEvent),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current input records for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the input records with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// Close implements domain.PersistentStore.
func (s *Store) Close() error { return nil }

// RunInTransaction executes fn against a copy of the input records and
// commits the copy only when fn succeeds.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Tx{state: s.state.clone(), now: s.nowFn()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// Tx mutates input records inside RunInTransaction.
type Tx struct {
	state memoryState
	now   time.Time
}

func (tx *Tx) stamp(b *domain.Base) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = tx.now
	}
	b.UpdatedAt = tx.now
}

// PutBatch creates or replaces a batch.
func (tx *Tx) PutBatch(b domain.Batch) (domain.Batch, error) {
	if b.StartDate.IsZero() {
		return domain.Batch{}, fmt.Errorf("batch %q: start date required", b.Code)
	}
	b.StartDate = domain.Day(b.StartDate)
	tx.stamp(&b.Base)
	tx.state.batches[b.ID] = b
	return b, nil
}

// PutContainer creates or replaces a container.
func (tx *Tx) PutContainer(c domain.Container) (domain.Container, error) {
	tx.stamp(&c.Base)
	tx.state.containers[c.ID] = c
	return c, nil
}

// PutAssignment creates or replaces an assignment. Its batch and container
// must exist.
func (tx *Tx) PutAssignment(a domain.ContainerAssignment) (domain.ContainerAssignment, error) {
	if _, ok := tx.state.batches[a.BatchID]; !ok {
		return domain.ContainerAssignment{}, domain.ErrNotFound{Entity: domain.EntityBatch, ID: a.BatchID}
	}
	if _, ok := tx.state.containers[a.ContainerID]; !ok {
		return domain.ContainerAssignment{}, domain.ErrNotFound{Entity: domain.EntityContainer, ID: a.ContainerID}
	}
	if a.InitialPopulation < 0 {
		return domain.ContainerAssignment{}, fmt.Errorf("assignment initial population must be >= 0")
	}
	a.AssignmentDate = domain.Day(a.AssignmentDate)
	if a.DepartureDate != nil {
		d := domain.Day(*a.DepartureDate)
		if !d.After(a.AssignmentDate) {
			return domain.ContainerAssignment{}, fmt.Errorf("assignment departure must follow assignment date")
		}
		a.DepartureDate = &d
	}
	tx.stamp(&a.Base)
	tx.state.assignments[a.ID] = a
	return a, nil
}

// PutScenario validates and stores a growth scenario.
func (tx *Tx) PutScenario(sc domain.GrowthScenario) (domain.GrowthScenario, error) {
	tx.stamp(&sc.Base)
	if err := sc.Validate(); err != nil {
		return domain.GrowthScenario{}, err
	}
	tx.state.scenarios[sc.ID] = sc
	return sc, nil
}

// PinScenario pins a scenario to a batch.
func (tx *Tx) PinScenario(batchID, scenarioID string) error {
	b, ok := tx.state.batches[batchID]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityBatch, ID: batchID}
	}
	if _, ok := tx.state.scenarios[scenarioID]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityScenario, ID: scenarioID}
	}
	id := scenarioID
	b.PinnedScenarioID = &id
	b.UpdatedAt = tx.now
	tx.state.batches[batchID] = b
	return nil
}

// AddGrowthSample records a growth sample.
func (tx *Tx) AddGrowthSample(s domain.GrowthSample) (domain.GrowthSample, error) {
	if err := tx.requireAssignment(s.AssignmentID); err != nil {
		return domain.GrowthSample{}, err
	}
	if !s.AvgWeightG.IsPositive() {
		return domain.GrowthSample{}, fmt.Errorf("growth sample weight must be positive")
	}
	s.SampleDate = domain.Day(s.SampleDate)
	tx.stamp(&s.Base)
	tx.state.samples[s.ID] = s
	return s, nil
}

// AddTransfer records a transfer between assignments.
func (tx *Tx) AddTransfer(t domain.TransferRecord) (domain.TransferRecord, error) {
	if t.SourceAssignmentID != "" {
		if err := tx.requireAssignment(t.SourceAssignmentID); err != nil {
			return domain.TransferRecord{}, err
		}
	}
	if err := tx.requireAssignment(t.DestAssignmentID); err != nil {
		return domain.TransferRecord{}, err
	}
	if t.TransferredCount < 0 {
		return domain.TransferRecord{}, fmt.Errorf("transferred count must be >= 0")
	}
	if t.Status == "" {
		t.Status = domain.TransferCompleted
	}
	if t.SelectionMethod == "" {
		t.SelectionMethod = domain.SelectionAverage
	}
	t.ExecutionDate = domain.Day(t.ExecutionDate)
	tx.stamp(&t.Base)
	tx.state.transfers[t.ID] = t
	return t, nil
}

// AddTreatment records a treatment.
func (tx *Tx) AddTreatment(t domain.TreatmentRecord) (domain.TreatmentRecord, error) {
	if err := tx.requireAssignment(t.AssignmentID); err != nil {
		return domain.TreatmentRecord{}, err
	}
	t.TreatmentDate = domain.Day(t.TreatmentDate)
	tx.stamp(&t.Base)
	tx.state.treatments[t.ID] = t
	return t, nil
}

// AddManualWeight records an administrator weight entry.
func (tx *Tx) AddManualWeight(m domain.ManualWeight) (domain.ManualWeight, error) {
	if err := tx.requireAssignment(m.AssignmentID); err != nil {
		return domain.ManualWeight{}, err
	}
	if m.Confidence != nil && (*m.Confidence < 0 || *m.Confidence > 1) {
		return domain.ManualWeight{}, fmt.Errorf("manual weight confidence must be within [0,1]")
	}
	m.Date = domain.Day(m.Date)
	tx.stamp(&m.Base)
	tx.state.manualWeights[m.ID] = m
	return m, nil
}

// AddSensorReading appends a sensor reading.
func (tx *Tx) AddSensorReading(r domain.SensorReading) error {
	if _, ok := tx.state.containers[r.ContainerID]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityContainer, ID: r.ContainerID}
	}
	if r.Parameter == "" {
		r.Parameter = domain.SensorParameterTemperature
	}
	r.Timestamp = r.Timestamp.UTC()
	tx.state.readings = append(tx.state.readings, r)
	return nil
}

// AddMortality records a mortality event. Events without an assignment are
// batch-scoped.
func (tx *Tx) AddMortality(m domain.MortalityEvent) (domain.MortalityEvent, error) {
	if m.AssignmentID != "" {
		a, ok := tx.state.assignments[m.AssignmentID]
		if !ok {
			return domain.MortalityEvent{}, domain.ErrNotFound{Entity: domain.EntityAssignment, ID: m.AssignmentID}
		}
		m.BatchID = a.BatchID
	} else if _, ok := tx.state.batches[m.BatchID]; !ok {
		return domain.MortalityEvent{}, domain.ErrNotFound{Entity: domain.EntityBatch, ID: m.BatchID}
	}
	if m.Count < 0 {
		return domain.MortalityEvent{}, fmt.Errorf("mortality count must be >= 0")
	}
	m.EventDate = domain.Day(m.EventDate)
	tx.stamp(&m.Base)
	tx.state.mortality[m.ID] = m
	return m, nil
}

// AddFeeding records a feeding event.
func (tx *Tx) AddFeeding(f domain.FeedingEvent) (domain.FeedingEvent, error) {
	if _, ok := tx.state.containers[f.ContainerID]; !ok {
		return domain.FeedingEvent{}, domain.ErrNotFound{Entity: domain.EntityContainer, ID: f.ContainerID}
	}
	if f.AmountKg.IsNegative() {
		return domain.FeedingEvent{}, fmt.Errorf("feed amount must be >= 0")
	}
	f.FeedingDate = domain.Day(f.FeedingDate)
	tx.stamp(&f.Base)
	tx.state.feedings[f.ID] = f
	return f, nil
}

// PutTriggerRule creates or replaces a trigger rule.
func (tx *Tx) PutTriggerRule(r domain.TriggerRule) (domain.TriggerRule, error) {
	switch r.Kind {
	case domain.TriggerWeightThreshold, domain.TriggerStageTransition, domain.TriggerMortalitySpike:
	default:
		return domain.TriggerRule{}, fmt.Errorf("unknown trigger kind %q", r.Kind)
	}
	tx.stamp(&r.Base)
	tx.state.triggerRules[r.ID] = r
	return r, nil
}

func (tx *Tx) requireAssignment(id string) error {
	if _, ok := tx.state.assignments[id]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityAssignment, ID: id}
	}
	return nil
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func sortedByDate[T any](in []T, date func(T) time.Time, id func(T) string) []T {
	sort.Slice(in, func(i, j int) bool {
		di, dj := date(in[i]), date(in[j])
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return id(in[i]) < id(in[j])
	})
	return in
}

// GetAssignment implements domain.AssignmentReader.
func (s *Store) GetAssignment(_ context.Context, id string) (domain.ContainerAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.assignments[id]
	if !ok {
		return domain.ContainerAssignment{}, domain.ErrNotFound{Entity: domain.EntityAssignment, ID: id}
	}
	return a, nil
}

// GetBatch implements domain.AssignmentReader.
func (s *Store) GetBatch(_ context.Context, id string) (domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.batches[id]
	if !ok {
		return domain.Batch{}, domain.ErrNotFound{Entity: domain.EntityBatch, ID: id}
	}
	return b, nil
}

// ListBatchAssignments implements domain.AssignmentReader.
func (s *Store) ListBatchAssignments(_ context.Context, batchID string) ([]domain.ContainerAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ContainerAssignment
	for _, a := range s.state.assignments {
		if a.BatchID == batchID {
			out = append(out, a)
		}
	}
	return sortedByDate(out, func(a domain.ContainerAssignment) time.Time { return a.AssignmentDate },
		func(a domain.ContainerAssignment) string { return a.ID }), nil
}

// ListActiveAssignments implements domain.AssignmentReader.
func (s *Store) ListActiveAssignments(_ context.Context, day time.Time) ([]domain.ContainerAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ContainerAssignment
	for _, a := range s.state.assignments {
		if a.Active && a.ActiveOn(day) {
			out = append(out, a)
		}
	}
	return sortedByDate(out, func(a domain.ContainerAssignment) time.Time { return a.AssignmentDate },
		func(a domain.ContainerAssignment) string { return a.ID }), nil
}

// GetScenario implements domain.ScenarioReader.
func (s *Store) GetScenario(_ context.Context, id string) (domain.GrowthScenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.state.scenarios[id]
	if !ok {
		return domain.GrowthScenario{}, domain.ErrNotFound{Entity: domain.EntityScenario, ID: id}
	}
	return sc, nil
}

// GrowthSamples implements domain.AnchorSource.
func (s *Store) GrowthSamples(_ context.Context, assignmentID string, from, to time.Time) ([]domain.GrowthSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.GrowthSample
	for _, v := range s.state.samples {
		if v.AssignmentID == assignmentID && within(v.SampleDate, from, to) {
			out = append(out, v)
		}
	}
	return sortedByDate(out, func(v domain.GrowthSample) time.Time { return v.SampleDate },
		func(v domain.GrowthSample) string { return v.ID }), nil
}

// TransfersTouching implements domain.AnchorSource.
func (s *Store) TransfersTouching(_ context.Context, assignmentID string, from, to time.Time) ([]domain.TransferRecord, error) {
	return s.transfers(func(t domain.TransferRecord) bool {
		return t.SourceAssignmentID == assignmentID || t.DestAssignmentID == assignmentID
	}, from, to), nil
}

// TransfersInto implements domain.TransferStore.
func (s *Store) TransfersInto(_ context.Context, assignmentID string, from, to time.Time) ([]domain.TransferRecord, error) {
	return s.transfers(func(t domain.TransferRecord) bool { return t.DestAssignmentID == assignmentID }, from, to), nil
}

// TransfersOutOf implements domain.TransferStore.
func (s *Store) TransfersOutOf(_ context.Context, assignmentID string, from, to time.Time) ([]domain.TransferRecord, error) {
	return s.transfers(func(t domain.TransferRecord) bool { return t.SourceAssignmentID == assignmentID }, from, to), nil
}

func (s *Store) transfers(match func(domain.TransferRecord) bool, from, to time.Time) []domain.TransferRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TransferRecord
	for _, v := range s.state.transfers {
		if match(v) && within(v.ExecutionDate, from, to) {
			out = append(out, v)
		}
	}
	return sortedByDate(out, func(v domain.TransferRecord) time.Time { return v.ExecutionDate },
		func(v domain.TransferRecord) string { return v.ID })
}

// Treatments implements domain.AnchorSource.
func (s *Store) Treatments(_ context.Context, assignmentID string, from, to time.Time) ([]domain.TreatmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TreatmentRecord
	for _, v := range s.state.treatments {
		if v.AssignmentID == assignmentID && within(v.TreatmentDate, from, to) {
			out = append(out, v)
		}
	}
	return sortedByDate(out, func(v domain.TreatmentRecord) time.Time { return v.TreatmentDate },
		func(v domain.TreatmentRecord) string { return v.ID }), nil
}

// ManualWeights implements domain.AnchorSource.
func (s *Store) ManualWeights(_ context.Context, assignmentID string, from, to time.Time) ([]domain.ManualWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ManualWeight
	for _, v := range s.state.manualWeights {
		if v.AssignmentID == assignmentID && within(v.Date, from, to) {
			out = append(out, v)
		}
	}
	return sortedByDate(out, func(v domain.ManualWeight) time.Time { return v.Date },
		func(v domain.ManualWeight) string { return v.ID }), nil
}

// TemperatureReadings implements domain.TemperatureReadingStore.
func (s *Store) TemperatureReadings(_ context.Context, containerID string, from, to time.Time) ([]domain.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SensorReading
	for _, r := range s.state.readings {
		if r.ContainerID == containerID && r.Parameter == domain.SensorParameterTemperature && within(r.Timestamp, from, to) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// AssignmentMortality implements domain.MortalityStore.
func (s *Store) AssignmentMortality(_ context.Context, assignmentID string, from, to time.Time) ([]domain.MortalityEvent, error) {
	return s.mortality(func(m domain.MortalityEvent) bool { return m.AssignmentID == assignmentID }, from, to), nil
}

// BatchMortality implements domain.MortalityStore. It returns batch-scoped
// events only.
func (s *Store) BatchMortality(_ context.Context, batchID string, from, to time.Time) ([]domain.MortalityEvent, error) {
	return s.mortality(func(m domain.MortalityEvent) bool { return m.BatchScoped() && m.BatchID == batchID }, from, to), nil
}

func (s *Store) mortality(match func(domain.MortalityEvent) bool, from, to time.Time) []domain.MortalityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MortalityEvent
	for _, v := range s.state.mortality {
		if match(v) && within(v.EventDate, from, to) {
			out = append(out, v)
		}
	}
	return sortedByDate(out, func(v domain.MortalityEvent) time.Time { return v.EventDate },
		func(v domain.MortalityEvent) string { return v.ID })
}

// FeedingEvents implements domain.FeedingStore.
func (s *Store) FeedingEvents(_ context.Context, containerID string, from, to time.Time) ([]domain.FeedingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FeedingEvent
	for _, v := range s.state.feedings {
		if v.ContainerID == containerID && within(v.FeedingDate, from, to) {
			out = append(out, v)
		}
	}
	return sortedByDate(out, func(v domain.FeedingEvent) time.Time { return v.FeedingDate },
		func(v domain.FeedingEvent) string { return v.ID }), nil
}

// ListTriggerRules implements domain.TriggerRuleStore.
func (s *Store) ListTriggerRules(_ context.Context) ([]domain.TriggerRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TriggerRule, 0, len(s.state.triggerRules))
	for _, r := range s.state.triggerRules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

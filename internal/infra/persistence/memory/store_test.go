package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"aquacore/pkg/domain"

	"github.com/shopspring/decimal"
)

func day(n int) time.Time {
	return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func seed(t *testing.T) (*Store, domain.ContainerAssignment) {
	t.Helper()
	s := NewStore()
	var asg domain.ContainerAssignment
	err := s.RunInTransaction(context.Background(), func(tx *Tx) error {
		b, err := tx.PutBatch(domain.Batch{Base: domain.Base{ID: "b1"}, Code: "B1", StartDate: day(0)})
		if err != nil {
			return err
		}
		if _, err := tx.PutContainer(domain.Container{Base: domain.Base{ID: "c1"}, Name: "tank"}); err != nil {
			return err
		}
		asg, err = tx.PutAssignment(domain.ContainerAssignment{Base: domain.Base{ID: "a1"}, BatchID: b.ID, ContainerID: "c1", AssignmentDate: day(0), Active: true, InitialPopulation: 100})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s, asg
}

func TestTransactionRollsBackOnError(t *testing.T) {
	s, _ := seed(t)
	boom := errors.New("boom")
	err := s.RunInTransaction(context.Background(), func(tx *Tx) error {
		if _, err := tx.PutContainer(domain.Container{Base: domain.Base{ID: "c2"}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := s.ExportState().Containers["c2"]; ok {
		t.Fatalf("container should not be committed")
	}
}

func TestPutAssignmentRequiresBatch(t *testing.T) {
	s, _ := seed(t)
	err := s.RunInTransaction(context.Background(), func(tx *Tx) error {
		_, err := tx.PutAssignment(domain.ContainerAssignment{BatchID: "missing", ContainerID: "c1", AssignmentDate: day(0)})
		return err
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRangeQueriesAreHalfOpen(t *testing.T) {
	s, asg := seed(t)
	ctx := context.Background()
	err := s.RunInTransaction(ctx, func(tx *Tx) error {
		for _, n := range []int{1, 2, 3} {
			if _, err := tx.AddGrowthSample(domain.GrowthSample{AssignmentID: asg.ID, SampleDate: day(n), AvgWeightG: decimal.NewFromInt(int64(10 * n))}); err != nil {
				return err
			}
			if err := tx.AddSensorReading(domain.SensorReading{ContainerID: "c1", Timestamp: day(n).Add(6 * time.Hour), Value: decimal.NewFromInt(12)}); err != nil {
				return err
			}
		}
		if _, err := tx.AddMortality(domain.MortalityEvent{BatchID: "b1", EventDate: day(2), Count: 9}); err != nil {
			return err
		}
		_, err := tx.AddMortality(domain.MortalityEvent{AssignmentID: asg.ID, EventDate: day(2), Count: 1})
		return err
	})
	if err != nil {
		t.Fatalf("seed inputs: %v", err)
	}
	samples, _ := s.GrowthSamples(ctx, asg.ID, day(1), day(3))
	if len(samples) != 2 || !samples[0].SampleDate.Equal(day(1)) {
		t.Fatalf("expected samples for days 1 and 2, got %v", samples)
	}
	readings, _ := s.TemperatureReadings(ctx, "c1", day(3), day(4))
	if len(readings) != 1 || readings[0].Parameter != domain.SensorParameterTemperature {
		t.Fatalf("expected one reading, got %v", readings)
	}
	batch, _ := s.BatchMortality(ctx, "b1", day(2), day(3))
	if len(batch) != 1 || batch[0].Count != 9 {
		t.Fatalf("expected only the batch-scoped event, got %v", batch)
	}
	own, _ := s.AssignmentMortality(ctx, asg.ID, day(2), day(3))
	if len(own) != 1 || own[0].BatchID != "b1" {
		t.Fatalf("assignment event should inherit the batch id, got %v", own)
	}
}

func TestUpsertOutcomes(t *testing.T) {
	s, _ := seed(t)
	ctx := context.Background()
	row := domain.DailyAssignmentState{
		AssignmentID: "a1",
		Date:         day(1),
		AvgWeightG:   decimal.RequireFromString("50.75"),
		Population:   100,
		Sources:      map[string]domain.SourceTag{domain.InputWeight: domain.SourceModel},
		ComputedAt:   day(5),
	}
	if out, err := s.UpsertDailyState(ctx, row); err != nil || out != domain.UpsertCreated {
		t.Fatalf("expected created, got %v %v", out, err)
	}
	row.ComputedAt = day(6)
	if out, _ := s.UpsertDailyState(ctx, row); out != domain.UpsertUnchanged {
		t.Fatalf("expected unchanged, got %v", out)
	}
	stored, ok, _ := s.GetDailyState(ctx, "a1", day(1))
	if !ok || !stored.ComputedAt.Equal(day(5)) {
		t.Fatalf("unchanged upsert must keep the stored row, got %v", stored.ComputedAt)
	}
	row.Population = 99
	if out, _ := s.UpsertDailyState(ctx, row); out != domain.UpsertUpdated {
		t.Fatalf("expected updated, got %v", out)
	}
	// Stored rows are isolated from caller mutation.
	row.Sources[domain.InputWeight] = domain.SourceNone
	stored, _, _ = s.GetDailyState(ctx, "a1", day(1))
	if stored.Sources[domain.InputWeight] != domain.SourceModel {
		t.Fatalf("stored row was mutated through caller map")
	}
}

func TestLatestDailyStateBefore(t *testing.T) {
	s, _ := seed(t)
	ctx := context.Background()
	for _, n := range []int{0, 1, 4} {
		if _, err := s.UpsertDailyState(ctx, domain.DailyAssignmentState{AssignmentID: "a1", Date: day(n), DayNumber: n}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	row, ok, _ := s.LatestDailyStateBefore(ctx, "a1", day(4))
	if !ok || row.DayNumber != 1 {
		t.Fatalf("expected day 1, got %v %v", row.DayNumber, ok)
	}
	if _, ok, _ := s.LatestDailyStateBefore(ctx, "a1", day(0)); ok {
		t.Fatalf("expected nothing before day 0")
	}
	rows, _ := s.ListDailyStates(ctx, "a1", day(0), day(5))
	if len(rows) != 3 || rows[2].DayNumber != 4 {
		t.Fatalf("expected ordered rows, got %v", rows)
	}
}

func TestTriggerLedgerDedup(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	ev := domain.TriggerEvent{DedupKey: "r|b|0", BatchID: "b"}
	if seen, _ := s.HasTriggerEvent(ctx, ev.DedupKey); seen {
		t.Fatalf("empty ledger should not hold the key")
	}
	if ok, _ := s.RecordTriggerEvent(ctx, ev); !ok {
		t.Fatalf("first insert should succeed")
	}
	if seen, _ := s.HasTriggerEvent(ctx, ev.DedupKey); !seen {
		t.Fatalf("recorded key should be found")
	}
	if ok, _ := s.RecordTriggerEvent(ctx, ev); ok {
		t.Fatalf("duplicate should be rejected")
	}
	events, _ := s.ListTriggerEvents(ctx, "b")
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
}

func TestSnapshotRoundTripKeepsInputs(t *testing.T) {
	s, _ := seed(t)
	snap := s.ExportState()
	other := NewStore()
	other.ImportState(snap)
	if _, err := other.GetAssignment(context.Background(), "a1"); err != nil {
		t.Fatalf("imported store missing assignment: %v", err)
	}
	if _, err := other.GetScenario(context.Background(), "none"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

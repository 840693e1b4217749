package anchor

import (
	"context"
	"errors"
	"testing"
	"time"

	"aquacore/pkg/domain"

	"github.com/shopspring/decimal"
)

type stubSource struct {
	samples    []domain.GrowthSample
	transfers  []domain.TransferRecord
	treatments []domain.TreatmentRecord
	manual     []domain.ManualWeight
	err        error
}

func (s stubSource) GrowthSamples(context.Context, string, time.Time, time.Time) ([]domain.GrowthSample, error) {
	return s.samples, s.err
}

func (s stubSource) TransfersTouching(context.Context, string, time.Time, time.Time) ([]domain.TransferRecord, error) {
	return s.transfers, nil
}

func (s stubSource) Treatments(context.Context, string, time.Time, time.Time) ([]domain.TreatmentRecord, error) {
	return s.treatments, nil
}

func (s stubSource) ManualWeights(context.Context, string, time.Time, time.Time) ([]domain.ManualWeight, error) {
	return s.manual, nil
}

func day(n int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

var assignment = domain.ContainerAssignment{Base: domain.Base{ID: "asg-1"}}

func TestDetectTransferSelectionBias(t *testing.T) {
	src := stubSource{transfers: []domain.TransferRecord{
		{Base: domain.Base{ID: "t1"}, DestAssignmentID: "asg-1", ExecutionDate: day(1), Status: domain.TransferCompleted, MeasuredWeightG: decPtr("100"), SelectionMethod: domain.SelectionLargest},
		{Base: domain.Base{ID: "t2"}, DestAssignmentID: "asg-1", ExecutionDate: day(2), Status: domain.TransferCompleted, MeasuredWeightG: decPtr("100"), SelectionMethod: domain.SelectionSmallest},
		{Base: domain.Base{ID: "t3"}, DestAssignmentID: "asg-1", ExecutionDate: day(3), Status: domain.TransferCompleted, MeasuredWeightG: decPtr("100"), SelectionMethod: domain.SelectionAverage},
		{Base: domain.Base{ID: "t4"}, DestAssignmentID: "asg-1", ExecutionDate: day(4), Status: domain.TransferPlanned, MeasuredWeightG: decPtr("100")},
		{Base: domain.Base{ID: "t5"}, DestAssignmentID: "asg-1", ExecutionDate: day(5), Status: domain.TransferCompleted},
	}}
	anchors, err := NewDetector(src, nil).Detect(context.Background(), assignment, day(0), day(10))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(anchors) != 3 {
		t.Fatalf("expected 3 anchors, got %d", len(anchors))
	}
	want := []string{"88", "112", "100"}
	for i, a := range anchors {
		if !a.MeasuredWeightG.Equal(dec(want[i])) {
			t.Fatalf("anchor %d: expected %s, got %s", i, want[i], a.MeasuredWeightG)
		}
		if a.Type != domain.AnchorTransfer || a.Confidence != ConfidenceTransfer {
			t.Fatalf("anchor %d: unexpected type/confidence %s %v", i, a.Type, a.Confidence)
		}
		if !a.RawWeightG.Equal(dec("100")) {
			t.Fatalf("anchor %d: raw weight not preserved", i)
		}
	}
	if anchors[0].SelectionBiasAdjustment != -SelectionBias {
		t.Fatalf("expected negative bias for LARGEST, got %v", anchors[0].SelectionBiasAdjustment)
	}
}

func TestDetectPrecedenceOnSameDate(t *testing.T) {
	src := stubSource{
		samples: []domain.GrowthSample{{Base: domain.Base{ID: "s1"}, AssignmentID: "asg-1", SampleDate: day(2), AvgWeightG: dec("150")}},
		transfers: []domain.TransferRecord{
			{Base: domain.Base{ID: "t1"}, ExecutionDate: day(2), Status: domain.TransferCompleted, MeasuredWeightG: decPtr("140")},
		},
		treatments: []domain.TreatmentRecord{
			{Base: domain.Base{ID: "r1"}, TreatmentDate: day(2), IncludesWeighing: true, AvgWeightG: decPtr("130")},
			{Base: domain.Base{ID: "r2"}, TreatmentDate: day(3), IncludesWeighing: true, AvgWeightG: decPtr("131")},
			{Base: domain.Base{ID: "r3"}, TreatmentDate: day(4), IncludesWeighing: false, AvgWeightG: decPtr("132")},
		},
		manual: []domain.ManualWeight{{Base: domain.Base{ID: "m1"}, Date: day(3), AvgWeightG: dec("120")}},
	}
	anchors, err := NewDetector(src, nil).Detect(context.Background(), assignment, day(0), day(10))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(anchors) != 2 {
		t.Fatalf("expected one anchor per date, got %d", len(anchors))
	}
	if anchors[0].Type != domain.AnchorGrowthSample || !anchors[0].MeasuredWeightG.Equal(dec("150")) || anchors[0].Confidence != 1.0 {
		t.Fatalf("expected growth sample to win, got %+v", anchors[0])
	}
	if anchors[1].Type != domain.AnchorTreatment || anchors[1].Confidence != ConfidenceTreatment {
		t.Fatalf("expected treatment to beat manual, got %+v", anchors[1])
	}
	if anchors[0].Ambiguous {
		t.Fatalf("different types must not be reported as ambiguous")
	}
}

func TestDetectEqualPriorityIsReported(t *testing.T) {
	src := stubSource{samples: []domain.GrowthSample{
		{Base: domain.Base{ID: "s2"}, SampleDate: day(1), AvgWeightG: dec("60")},
		{Base: domain.Base{ID: "s1"}, SampleDate: day(1), AvgWeightG: dec("55")},
	}}
	var reported []*domain.ResolutionAmbiguityError
	det := NewDetector(src, func(e *domain.ResolutionAmbiguityError) { reported = append(reported, e) })
	anchors, err := det.Detect(context.Background(), assignment, day(0), day(3))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(anchors) != 1 || !anchors[0].MeasuredWeightG.Equal(dec("55")) || !anchors[0].Ambiguous {
		t.Fatalf("expected lowest id to win and be flagged, got %+v", anchors)
	}
	if len(reported) != 1 || reported[0].Chosen != "s1" || len(reported[0].Discarded) != 1 {
		t.Fatalf("expected one ambiguity report, got %+v", reported)
	}
}

func TestDetectManualConfidenceAndErrors(t *testing.T) {
	conf := 0.6
	src := stubSource{manual: []domain.ManualWeight{{Base: domain.Base{ID: "m1"}, Date: day(0), AvgWeightG: dec("10"), Confidence: &conf}}}
	anchors, err := NewDetector(src, nil).Detect(context.Background(), assignment, day(0), day(0))
	if err != nil || len(anchors) != 1 || anchors[0].Confidence != 0.6 {
		t.Fatalf("expected manual anchor with recorded confidence, got %+v %v", anchors, err)
	}
	boom := errors.New("boom")
	if _, err := NewDetector(stubSource{err: boom}, nil).Detect(context.Background(), assignment, day(0), day(1)); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestIndex(t *testing.T) {
	idx := Index([]domain.Anchor{{Date: day(3), Type: domain.AnchorManual}})
	if a, ok := idx[domain.DateKey(day(3))]; !ok || a.Type != domain.AnchorManual {
		t.Fatalf("expected indexed anchor")
	}
}

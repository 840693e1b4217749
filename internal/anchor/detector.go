// Package anchor detects the ground-truth weight measurements that reset an
// assignment's growth trajectory.
package anchor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"aquacore/pkg/domain"

	"github.com/shopspring/decimal"
)

// Confidence per anchor type.
const (
	ConfidenceGrowthSample = 1.0
	ConfidenceTransfer     = 0.95
	ConfidenceTreatment    = 0.90
	ConfidenceManual       = 0.80
)

// SelectionBias is the fractional weight correction for non-random transfer
// selection. LARGEST transfers over-represent heavy fish, so the measured
// weight is reduced; SMALLEST transfers are corrected upwards.
const SelectionBias = 0.12

// BiasAdjustment returns the signed fractional adjustment for a method.
func BiasAdjustment(method domain.SelectionMethod) float64 {
	switch method {
	case domain.SelectionLargest:
		return -SelectionBias
	case domain.SelectionSmallest:
		return SelectionBias
	default:
		return 0
	}
}

// Adjust applies the selection bias to a measured weight.
func Adjust(weight decimal.Decimal, method domain.SelectionMethod) decimal.Decimal {
	adj := BiasAdjustment(method)
	if adj == 0 {
		return weight
	}
	return weight.Mul(decimal.NewFromFloat(1 + adj)).Round(2)
}

// AmbiguityReporter receives equal-priority conflicts resolved by the detector.
type AmbiguityReporter func(*domain.ResolutionAmbiguityError)

// Detector scans the anchor sources for one assignment.
type Detector struct {
	source    domain.AnchorSource
	ambiguity AmbiguityReporter
}

// NewDetector constructs a detector. report may be nil.
func NewDetector(source domain.AnchorSource, report AmbiguityReporter) *Detector {
	return &Detector{source: source, ambiguity: report}
}

type candidate struct {
	anchor domain.Anchor
	key    string
}

// Detect returns at most one anchor per date in [start, end], ordered by
// date. Same-date candidates are resolved by type precedence; equal-type
// ties keep the candidate with the lowest record ID and are reported.
func (d *Detector) Detect(ctx context.Context, assignment domain.ContainerAssignment, start, end time.Time) ([]domain.Anchor, error) {
	from, to := domain.Day(start), domain.Day(end).AddDate(0, 0, 1)
	var cands []candidate

	samples, err := d.source.GrowthSamples(ctx, assignment.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("growth samples: %w", err)
	}
	for _, s := range samples {
		cands = append(cands, candidate{key: s.ID, anchor: domain.Anchor{
			Date:            domain.Day(s.SampleDate),
			MeasuredWeightG: s.AvgWeightG,
			RawWeightG:      s.AvgWeightG,
			Type:            domain.AnchorGrowthSample,
			Confidence:      ConfidenceGrowthSample,
			SourceID:        s.ID,
		}})
	}

	transfers, err := d.source.TransfersTouching(ctx, assignment.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("transfers: %w", err)
	}
	for _, tr := range transfers {
		if tr.Status != domain.TransferCompleted || tr.MeasuredWeightG == nil {
			continue
		}
		cands = append(cands, candidate{key: tr.ID, anchor: domain.Anchor{
			Date:                    domain.Day(tr.ExecutionDate),
			MeasuredWeightG:         Adjust(*tr.MeasuredWeightG, tr.SelectionMethod),
			RawWeightG:              *tr.MeasuredWeightG,
			Type:                    domain.AnchorTransfer,
			Confidence:              ConfidenceTransfer,
			SelectionBiasAdjustment: BiasAdjustment(tr.SelectionMethod),
			SourceID:                tr.ID,
		}})
	}

	treatments, err := d.source.Treatments(ctx, assignment.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("treatments: %w", err)
	}
	for _, tr := range treatments {
		if !tr.IncludesWeighing || tr.AvgWeightG == nil {
			continue
		}
		cands = append(cands, candidate{key: tr.ID, anchor: domain.Anchor{
			Date:            domain.Day(tr.TreatmentDate),
			MeasuredWeightG: *tr.AvgWeightG,
			RawWeightG:      *tr.AvgWeightG,
			Type:            domain.AnchorTreatment,
			Confidence:      ConfidenceTreatment,
			SourceID:        tr.ID,
		}})
	}

	manual, err := d.source.ManualWeights(ctx, assignment.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("manual weights: %w", err)
	}
	for _, m := range manual {
		conf := ConfidenceManual
		if m.Confidence != nil && *m.Confidence >= 0 && *m.Confidence <= 1 {
			conf = *m.Confidence
		}
		cands = append(cands, candidate{key: m.ID, anchor: domain.Anchor{
			Date:            domain.Day(m.Date),
			MeasuredWeightG: m.AvgWeightG,
			RawWeightG:      m.AvgWeightG,
			Type:            domain.AnchorManual,
			Confidence:      conf,
			SourceID:        m.ID,
		}})
	}

	return d.resolve(assignment.ID, cands), nil
}

func (d *Detector) resolve(assignmentID string, cands []candidate) []domain.Anchor {
	byDate := make(map[time.Time][]candidate)
	for _, c := range cands {
		if !c.anchor.MeasuredWeightG.IsPositive() {
			continue
		}
		byDate[c.anchor.Date] = append(byDate[c.anchor.Date], c)
	}
	out := make([]domain.Anchor, 0, len(byDate))
	for date, group := range byDate {
		sort.Slice(group, func(i, j int) bool {
			pi, pj := group[i].anchor.Type.Precedence(), group[j].anchor.Type.Precedence()
			if pi != pj {
				return pi < pj
			}
			return group[i].key < group[j].key
		})
		winner := group[0]
		var discarded []string
		for _, c := range group[1:] {
			if c.anchor.Type == winner.anchor.Type {
				discarded = append(discarded, c.key)
			}
		}
		if len(discarded) > 0 {
			winner.anchor.Ambiguous = true
			if d.ambiguity != nil {
				d.ambiguity(&domain.ResolutionAmbiguityError{
					AssignmentID: assignmentID,
					Date:         date,
					Type:         winner.anchor.Type,
					Chosen:       winner.key,
					Discarded:    discarded,
				})
			}
		}
		out = append(out, winner.anchor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Index maps anchors by day for O(1) lookup by the engine.
func Index(anchors []domain.Anchor) map[string]domain.Anchor {
	out := make(map[string]domain.Anchor, len(anchors))
	for _, a := range anchors {
		out[domain.DateKey(a.Date)] = a
	}
	return out
}

// Package export renders daily series as JSON or CSV artifacts and stores
// them in the configured blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aquacore/internal/blob"
	"aquacore/internal/observability"
	"aquacore/pkg/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Format is an artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "json" or "csv", case-insensitive.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f Format) contentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Scope selects which series is exported.
type Scope string

const (
	ScopeAssignment Scope = "assignment"
	ScopeBatch      Scope = "batch"
)

// SeriesSource reads persisted series. core.Service satisfies it.
type SeriesSource interface {
	AssignmentSeries(ctx context.Context, assignmentID string, start, end time.Time) ([]domain.DailyAssignmentState, error)
	BatchSeries(ctx context.Context, batchID string, start, end time.Time) ([]domain.BatchDailyState, error)
}

// Request describes one export. Formats defaults to JSON and CSV.
type Request struct {
	Scope       Scope
	TargetID    string
	Start       time.Time
	End         time.Time
	Formats     []Format
	RequestedBy string
}

// Artifact is a stored export.
type Artifact struct {
	ID          string            `json:"id"`
	Key         string            `json:"key"`
	Scope       Scope             `json:"scope"`
	TargetID    string            `json:"target_id"`
	Format      Format            `json:"format"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	Rows        int               `json:"rows"`
	URL         string            `json:"url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Exporter writes series artifacts.
type Exporter struct {
	source SeriesSource
	store  blob.Store
	logger *observability.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option { return func(e *Exporter) { e.logger = l } }

// WithClock overrides the artifact timestamp source.
func WithClock(now func() time.Time) Option { return func(e *Exporter) { e.now = now } }

// New returns an Exporter reading from source and writing to store.
func New(source SeriesSource, store blob.Store, opts ...Option) *Exporter {
	e := &Exporter{source: source, store: store, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = observability.OrNop(e.logger)
	return e
}

type series struct {
	header []string
	rows   [][]string
	data   any
	count  int
}

// Export reads the series once and stores one artifact per format.
func (e *Exporter) Export(ctx context.Context, req Request) ([]Artifact, error) {
	if strings.TrimSpace(req.TargetID) == "" {
		return nil, errors.New("export target id required")
	}
	if req.Start.IsZero() || req.End.IsZero() || req.End.Before(req.Start) {
		return nil, fmt.Errorf("invalid export window %s..%s", domain.DateKey(req.Start), domain.DateKey(req.End))
	}
	formats, err := uniqueFormats(req.Formats)
	if err != nil {
		return nil, err
	}
	s, err := e.load(ctx, req)
	if err != nil {
		return nil, err
	}
	created := e.now().UTC()
	artifacts := make([]Artifact, 0, len(formats))
	for _, format := range formats {
		payload, err := render(format, req, s)
		if err != nil {
			return artifacts, fmt.Errorf("render %s: %w", format, err)
		}
		id := e.newID()
		key := fmt.Sprintf("series/%s/%s/%s_%s/%s.%s", req.Scope, req.TargetID,
			domain.DateKey(req.Start), domain.DateKey(req.End), id, format)
		md := map[string]string{
			"scope":     string(req.Scope),
			"target_id": req.TargetID,
			"start":     domain.DateKey(req.Start),
			"end":       domain.DateKey(req.End),
			"rows":      strconv.Itoa(s.count),
		}
		if req.RequestedBy != "" {
			md["requested_by"] = req.RequestedBy
		}
		info, err := e.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: format.contentType(), Metadata: md})
		if err != nil {
			return artifacts, fmt.Errorf("store %s: %w", key, err)
		}
		artifacts = append(artifacts, Artifact{
			ID:          id,
			Key:         key,
			Scope:       req.Scope,
			TargetID:    req.TargetID,
			Format:      format,
			ContentType: format.contentType(),
			SizeBytes:   int64(len(payload)),
			Rows:        s.count,
			URL:         info.URL,
			Metadata:    md,
			CreatedAt:   created,
		})
		e.logger.Info("series exported", "scope", req.Scope, "target_id", req.TargetID, "format", format, "key", key, "rows", s.count)
	}
	return artifacts, nil
}

// Render returns the encoded series without storing it.
func (e *Exporter) Render(ctx context.Context, req Request, format Format) ([]byte, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	s, err := e.load(ctx, req)
	if err != nil {
		return nil, err
	}
	return render(format, req, s)
}

func uniqueFormats(in []Format) ([]Format, error) {
	if len(in) == 0 {
		return []Format{FormatJSON, FormatCSV}, nil
	}
	seen := make(map[Format]struct{}, len(in))
	out := make([]Format, 0, len(in))
	for _, f := range in {
		if _, err := ParseFormat(string(f)); err != nil {
			return nil, err
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

func (e *Exporter) load(ctx context.Context, req Request) (series, error) {
	switch req.Scope {
	case ScopeAssignment:
		rows, err := e.source.AssignmentSeries(ctx, req.TargetID, req.Start, req.End)
		if err != nil {
			return series{}, err
		}
		out := series{header: assignmentHeader, data: rows, count: len(rows)}
		for _, r := range rows {
			out.rows = append(out.rows, assignmentRecord(r))
		}
		return out, nil
	case ScopeBatch:
		rows, err := e.source.BatchSeries(ctx, req.TargetID, req.Start, req.End)
		if err != nil {
			return series{}, err
		}
		out := series{header: batchHeader, data: rows, count: len(rows)}
		for _, r := range rows {
			out.rows = append(out.rows, batchRecord(r))
		}
		return out, nil
	default:
		return series{}, fmt.Errorf("unknown export scope %q", req.Scope)
	}
}

func render(format Format, req Request, s series) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(struct {
			Scope    Scope  `json:"scope"`
			TargetID string `json:"target_id"`
			Start    string `json:"start"`
			End      string `json:"end"`
			Rows     any    `json:"rows"`
		}{req.Scope, req.TargetID, domain.DateKey(req.Start), domain.DateKey(req.End), s.data}, "", "  ")
	case FormatCSV:
		buf := &bytes.Buffer{}
		w := csv.NewWriter(buf)
		if err := w.Write(s.header); err != nil {
			return nil, err
		}
		if err := w.WriteAll(s.rows); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported format %s", format)
}

var assignmentHeader = []string{
	"assignment_id", "batch_id", "container_id", "date", "day_number",
	"avg_weight_g", "population", "biomass_kg", "lifecycle_stage", "temp_c",
	"mortality_count", "placements_count", "removals_count", "feed_kg", "observed_fcr",
	"anchor_type", "weight_source", "weight_confidence", "temperature_source", "temperature_confidence",
	"flags", "scenario_id",
}

func assignmentRecord(r domain.DailyAssignmentState) []string {
	flags := make([]string, len(r.Flags))
	for i, f := range r.Flags {
		flags[i] = string(f)
	}
	return []string{
		r.AssignmentID, r.BatchID, r.ContainerID, domain.DateKey(r.Date), strconv.Itoa(r.DayNumber),
		r.AvgWeightG.String(), strconv.FormatInt(r.Population, 10), r.BiomassKg.String(), r.LifecycleStage, optional(r.TempC),
		strconv.FormatInt(r.MortalityCount, 10), strconv.FormatInt(r.PlacementsCount, 10), strconv.FormatInt(r.RemovalsCount, 10), r.FeedKg.String(), optional(r.ObservedFCR),
		string(r.AnchorType), string(r.Sources[domain.InputWeight]), confidence(r.ConfidenceScores, domain.InputWeight),
		string(r.Sources[domain.InputTemperature]), confidence(r.ConfidenceScores, domain.InputTemperature),
		strings.Join(flags, ";"), r.ScenarioID,
	}
}

var batchHeader = []string{
	"batch_id", "date", "day_number", "assignment_count", "population", "biomass_kg",
	"avg_weight_g", "avg_temp_c", "mortality_count", "feed_kg", "min_confidence",
}

func batchRecord(r domain.BatchDailyState) []string {
	return []string{
		r.BatchID, domain.DateKey(r.Date), strconv.Itoa(r.DayNumber), strconv.Itoa(r.AssignmentCount),
		strconv.FormatInt(r.Population, 10), r.BiomassKg.String(), r.AvgWeightG.String(), optional(r.AvgTempC),
		strconv.FormatInt(r.MortalityCount, 10), r.FeedKg.String(), strconv.FormatFloat(r.MinConfidence, 'f', -1, 64),
	}
}

func optional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func confidence(scores map[string]float64, input string) string {
	v, ok := scores[input]
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

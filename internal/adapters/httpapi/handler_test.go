package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aquacore/internal/export"
	"aquacore/internal/worker"
	"aquacore/pkg/domain"

	"github.com/shopspring/decimal"
)

type stubRecomputes struct {
	got    worker.Request
	ticket worker.Ticket
	jobs   map[string]worker.Job
}

func (s *stubRecomputes) Submit(_ context.Context, req worker.Request) worker.Ticket {
	s.got = req
	return s.ticket
}

func (s *stubRecomputes) Job(id string) (worker.Job, bool) {
	j, ok := s.jobs[id]
	return j, ok
}

func (s *stubRecomputes) Jobs(status worker.Status) []worker.Job {
	var out []worker.Job
	for _, j := range s.jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	return out
}

type stubSeries struct {
	rows  []domain.DailyAssignmentState
	err   error
	start time.Time
}

func (s *stubSeries) AssignmentSeries(_ context.Context, _ string, start, _ time.Time) ([]domain.DailyAssignmentState, error) {
	s.start = start
	return s.rows, s.err
}

func (s *stubSeries) BatchSeries(context.Context, string, time.Time, time.Time) ([]domain.BatchDailyState, error) {
	return nil, s.err
}

func (s *stubSeries) TriggerEvents(context.Context, string) ([]domain.TriggerEvent, error) {
	return []domain.TriggerEvent{{ID: "e1", Kind: domain.TriggerWeightThreshold}}, s.err
}

type exportFunc func(context.Context, export.Request) ([]export.Artifact, error)

func (f exportFunc) Export(ctx context.Context, req export.Request) ([]export.Artifact, error) {
	return f(ctx, req)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRecomputeAccepted(t *testing.T) {
	rc := &stubRecomputes{ticket: worker.Ticket{Accepted: true, JobIDs: []string{"j1"}}}
	h := NewHandler(rc, nil, nil, nil)
	rec := do(t, h, http.MethodPost, "/api/v1/recompute", `{"assignment_ids":["a1"],"start":"2024-03-01","end":"2024-03-05","reason":"late sample"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", rec.Code, rec.Body.String())
	}
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if !rc.got.End.Equal(want) || rc.got.AssignmentIDs[0] != "a1" || rc.got.Reason != "late sample" {
		t.Fatalf("unexpected submitted request %+v", rc.got)
	}
	var ticket worker.Ticket
	if err := json.NewDecoder(rec.Body).Decode(&ticket); err != nil || ticket.JobIDs[0] != "j1" {
		t.Fatalf("unexpected ticket %+v %v", ticket, err)
	}
}

func TestRecomputeRejections(t *testing.T) {
	cases := []struct {
		reason string
		body   string
		status int
	}{
		{worker.ReasonQueueFull, `{"batch_id":"b1","start":"2024-03-01","end":"2024-03-01"}`, http.StatusServiceUnavailable},
		{"exactly one of assignment ids or batch id is required", `{"start":"2024-03-01","end":"2024-03-01"}`, http.StatusBadRequest},
		{"", `{"batch_id":"b1","start":"03/01/2024","end":"2024-03-01"}`, http.StatusBadRequest},
		{"", `{"batch_id":"b1","bogus":true}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		h := NewHandler(&stubRecomputes{ticket: worker.Ticket{Reason: tc.reason}}, nil, nil, nil)
		if rec := do(t, h, http.MethodPost, "/api/v1/recompute", tc.body); rec.Code != tc.status {
			t.Fatalf("body %s: expected %d, got %d", tc.body, tc.status, rec.Code)
		}
	}
}

func TestJobLookup(t *testing.T) {
	rc := &stubRecomputes{jobs: map[string]worker.Job{
		"j1": {ID: "j1", Status: worker.StatusFailed, Error: "boom"},
		"j2": {ID: "j2", Status: worker.StatusSucceeded},
	}}
	h := NewHandler(rc, nil, nil, nil)
	if rec := do(t, h, http.MethodGet, "/api/v1/jobs/j1", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"boom"`) {
		t.Fatalf("unexpected job response %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/jobs/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/api/v1/jobs?status=failed", "")
	var payload struct {
		Jobs []worker.Job `json:"jobs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil || len(payload.Jobs) != 1 || payload.Jobs[0].ID != "j1" {
		t.Fatalf("unexpected jobs %+v %v", payload, err)
	}
}

func TestSeriesQueries(t *testing.T) {
	series := &stubSeries{rows: []domain.DailyAssignmentState{{AssignmentID: "a1", AvgWeightG: decimal.NewFromInt(50)}}}
	h := NewHandler(nil, series, nil, nil)
	rec := do(t, h, http.MethodGet, "/api/v1/assignments/a1/series?start=2024-03-01&end=2024-03-02", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"avg_weight_g":"50"`) {
		t.Fatalf("unexpected series response %d %s", rec.Code, rec.Body.String())
	}
	if !series.start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", series.start)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/assignments/a1/series?start=2024-03-01", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing end, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/batches/b1/triggers", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"e1"`) {
		t.Fatalf("unexpected triggers response %d %s", rec.Code, rec.Body.String())
	}

	series.err = domain.ErrNotFound{Entity: domain.EntityBatch, ID: "b9"}
	if rec := do(t, h, http.MethodGet, "/api/v1/batches/b9/series?start=2024-03-01&end=2024-03-02", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	series.err = &domain.ConfigurationError{AssignmentID: "a1", BatchID: "b1"}
	if rec := do(t, h, http.MethodGet, "/api/v1/assignments/a1/series?start=2024-03-01&end=2024-03-02", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	series.err = errors.New("disk on fire")
	if rec := do(t, h, http.MethodGet, "/api/v1/assignments/a1/series?start=2024-03-01&end=2024-03-02", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestExportRoute(t *testing.T) {
	var got export.Request
	h := NewHandler(nil, nil, exportFunc(func(_ context.Context, req export.Request) ([]export.Artifact, error) {
		got = req
		return []export.Artifact{{ID: "x", Key: "series/batch/b1/x.csv", Format: export.FormatCSV}}, nil
	}), nil)
	rec := do(t, h, http.MethodPost, "/api/v1/exports", `{"scope":"batch","target_id":"b1","start":"2024-03-01","end":"2024-03-31","formats":["csv"]}`)
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), "series/batch/b1/x.csv") {
		t.Fatalf("unexpected export response %d %s", rec.Code, rec.Body.String())
	}
	if got.Scope != export.ScopeBatch || len(got.Formats) != 1 || got.Formats[0] != export.FormatCSV {
		t.Fatalf("unexpected export request %+v", got)
	}
}

func TestUnconfiguredRoutes(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/recompute"},
		{http.MethodGet, "/api/v1/jobs"},
		{http.MethodGet, "/api/v1/batches/b1/triggers"},
		{http.MethodPost, "/api/v1/exports"},
	} {
		if rec := do(t, h, tc.method, tc.path, "{}"); rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodDelete, "/api/v1/jobs", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

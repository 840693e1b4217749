// Package httpapi exposes the daemon's operator surface over HTTP:
// recompute-now requests, job status, series queries, trigger events and
// series exports.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"aquacore/internal/export"
	"aquacore/internal/observability"
	"aquacore/internal/worker"
	"aquacore/pkg/domain"
)

// Recomputes accepts recompute requests and reports job status. *worker.Worker
// satisfies it.
type Recomputes interface {
	Submit(ctx context.Context, req worker.Request) worker.Ticket
	Job(id string) (worker.Job, bool)
	Jobs(status worker.Status) []worker.Job
}

// Series reads persisted series and trigger events. core.Service satisfies it.
type Series interface {
	export.SeriesSource
	TriggerEvents(ctx context.Context, batchID string) ([]domain.TriggerEvent, error)
}

// Exporter stores series artifacts. *export.Exporter satisfies it.
type Exporter interface {
	Export(ctx context.Context, req export.Request) ([]export.Artifact, error)
}

// Handler routes /api/v1 requests. Nil dependencies disable their routes.
type Handler struct {
	Recomputes Recomputes
	Series     Series
	Exports    Exporter
	Logger     *observability.Logger

	mux *http.ServeMux
}

// NewHandler constructs the handler.
func NewHandler(r Recomputes, s Series, e Exporter, log *observability.Logger) *Handler {
	h := &Handler{Recomputes: r, Series: s, Exports: e, Logger: observability.OrNop(log), mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /api/v1/recompute", h.handleRecompute)
	h.mux.HandleFunc("GET /api/v1/jobs", h.handleJobs)
	h.mux.HandleFunc("GET /api/v1/jobs/{id}", h.handleJob)
	h.mux.HandleFunc("GET /api/v1/assignments/{id}/series", h.handleAssignmentSeries)
	h.mux.HandleFunc("GET /api/v1/batches/{id}/series", h.handleBatchSeries)
	h.mux.HandleFunc("GET /api/v1/batches/{id}/triggers", h.handleTriggers)
	h.mux.HandleFunc("POST /api/v1/exports", h.handleExport)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type recomputeBody struct {
	AssignmentIDs []string `json:"assignment_ids"`
	BatchID       string   `json:"batch_id"`
	Start         string   `json:"start"`
	End           string   `json:"end"`
	Reason        string   `json:"reason"`
	RequestedBy   string   `json:"requested_by"`
}

func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if h.Recomputes == nil {
		writeError(w, http.StatusNotFound, "recompute worker not configured")
		return
	}
	var body recomputeBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := parseRange(body.Start, body.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ticket := h.Recomputes.Submit(r.Context(), worker.Request{
		AssignmentIDs: body.AssignmentIDs,
		BatchID:       body.BatchID,
		Start:         start,
		End:           end,
		Reason:        body.Reason,
		RequestedBy:   body.RequestedBy,
	})
	switch {
	case ticket.Accepted:
		writeJSON(w, http.StatusAccepted, ticket)
	case ticket.Reason == worker.ReasonQueueFull || ticket.Reason == worker.ReasonStopped:
		writeJSON(w, http.StatusServiceUnavailable, ticket)
	default:
		writeJSON(w, http.StatusBadRequest, ticket)
	}
}

func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	if h.Recomputes == nil {
		writeError(w, http.StatusNotFound, "recompute worker not configured")
		return
	}
	status := worker.Status(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.Recomputes.Jobs(status)})
}

func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request) {
	if h.Recomputes == nil {
		writeError(w, http.StatusNotFound, "recompute worker not configured")
		return
	}
	job, ok := h.Recomputes.Job(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (h *Handler) handleAssignmentSeries(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.queryRange(w, r)
	if !ok {
		return
	}
	rows, err := h.Series.AssignmentSeries(r.Context(), r.PathValue("id"), start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) handleBatchSeries(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.queryRange(w, r)
	if !ok {
		return
	}
	rows, err := h.Series.BatchSeries(r.Context(), r.PathValue("id"), start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) handleTriggers(w http.ResponseWriter, r *http.Request) {
	if h.Series == nil {
		writeError(w, http.StatusNotFound, "series not configured")
		return
	}
	events, err := h.Series.TriggerEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type exportBody struct {
	Scope       export.Scope    `json:"scope"`
	TargetID    string          `json:"target_id"`
	Start       string          `json:"start"`
	End         string          `json:"end"`
	Formats     []export.Format `json:"formats"`
	RequestedBy string          `json:"requested_by"`
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if h.Exports == nil {
		writeError(w, http.StatusNotFound, "exports not configured")
		return
	}
	var body exportBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := parseRange(body.Start, body.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	artifacts, err := h.Exports.Export(r.Context(), export.Request{
		Scope:       body.Scope,
		TargetID:    body.TargetID,
		Start:       start,
		End:         end,
		Formats:     body.Formats,
		RequestedBy: body.RequestedBy,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"artifacts": artifacts})
}

func (h *Handler) queryRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	if h.Series == nil {
		writeError(w, http.StatusNotFound, "series not configured")
		return time.Time{}, time.Time{}, false
	}
	q := r.URL.Query()
	start, end, err := parseRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case domain.IsConfigurationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.Logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return time.Time{}, time.Time{}, errors.New("start and end dates are required (YYYY-MM-DD)")
	}
	s, err := domain.ParseDateKey(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	e, err := domain.ParseDateKey(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
	}
	return s, e, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

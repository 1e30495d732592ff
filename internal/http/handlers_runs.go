package httpx

import (
	"errors"
	"net/http"
	"time"

	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
	"github.com/jobradar/ingest-api/internal/service"
)

// RunHandlers provides HTTP handlers for the run ledger and manual triggers.
type RunHandlers struct {
	Runs   *service.RunService
	Ingest *service.IngestService
}

// List handles GET /runs. Supports status, since (RFC 3339 cursor), limit,
// and offset query parameters.
func (h *RunHandlers) List(w http.ResponseWriter, r *http.Request) {
	opts := model.RunListOptions{}
	opts.Limit, opts.Offset = parsePagination(r)

	if v := r.URL.Query().Get("status"); v != "" {
		var status model.RunStatus
		if err := status.UnmarshalText([]byte(v)); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_status", Err: err})
			return
		}
		opts.Status = &status
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_since", Err: err})
			return
		}
		opts.Since = &since
	}

	runs, err := h.Runs.List(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Get handles GET /runs/{id}.
func (h *RunHandlers) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.Runs.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, data.ErrRunNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// triggerRunRequest is the body for POST /runs.
type triggerRunRequest struct {
	// SourceID restricts the cycle to one source's slices when set.
	SourceID *string `json:"source_id,omitempty"`
}

// Trigger handles POST /runs: a one-off manual cycle. The response carries
// the finalized run; the cycle executes synchronously within the request.
func (h *RunHandlers) Trigger(w http.ResponseWriter, r *http.Request) {
	req := triggerRunRequest{}
	if r.ContentLength > 0 {
		if !DecodeJSON(w, r, &req) {
			return
		}
	}

	run, err := h.Ingest.RunCycle(r.Context(), service.RunCycleParams{
		Trigger:  model.TriggerManual,
		SourceID: req.SourceID,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, run)
}

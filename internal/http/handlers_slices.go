package httpx

import (
	"errors"
	"net/http"

	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
	"github.com/jobradar/ingest-api/internal/service"
)

// SliceHandlers provides HTTP handlers for search slice operations.
type SliceHandlers struct {
	Svc *service.SliceService
}

// Create handles POST /slices.
func (h *SliceHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req *model.CreateSliceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	sl, err := h.Svc.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, data.ErrSourceNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "source_not_found", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, sl)
}

// Get handles GET /slices/{id}.
func (h *SliceHandlers) Get(w http.ResponseWriter, r *http.Request) {
	sl, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, data.ErrSliceNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sl)
}

// List handles GET /slices with optional source_id and status filters.
func (h *SliceHandlers) List(w http.ResponseWriter, r *http.Request) {
	opts := model.SliceListOptions{}
	opts.Limit, opts.Offset = parsePagination(r)

	if v := r.URL.Query().Get("source_id"); v != "" {
		opts.SourceID = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		var status model.SliceStatus
		if err := status.UnmarshalText([]byte(v)); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_status", Err: err})
			return
		}
		opts.Status = &status
	}

	slices, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"slices": slices})
}

// Admin handles POST /slices/{id}/admin: pause, resume, reset_cooldown, edit.
func (h *SliceHandlers) Admin(w http.ResponseWriter, r *http.Request) {
	var req model.AdminSliceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	sl, err := h.Svc.Admin(r.Context(), r.PathValue("id"), req)
	if err != nil {
		if errors.Is(err, data.ErrSliceNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sl)
}

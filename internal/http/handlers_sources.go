// Package httpx provides HTTP handlers and utilities for the jobradar ingestion API.
package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
	"github.com/jobradar/ingest-api/internal/service"
)

// SourceHandlers provides HTTP handlers for job source registry operations.
type SourceHandlers struct {
	Svc *service.SourceService
}

// Create handles POST /sources.
func (h *SourceHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req *model.CreateSourceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	src, err := h.Svc.Create(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrSourceSlugExists):
			WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "slug_conflict", Err: err})
		default:
			WriteAppError(w, err)
		}
		return
	}

	WriteJSON(w, http.StatusCreated, src)
}

// Get handles GET /sources/{id}.
func (h *SourceHandlers) Get(w http.ResponseWriter, r *http.Request) {
	src, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, data.ErrSourceNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, src)
}

// List handles GET /sources.
func (h *SourceHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	sources, err := h.Svc.List(r.Context(), limit, offset)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// Update handles PATCH /sources/{id}.
func (h *SourceHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateSourceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	src, err := h.Svc.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		if errors.Is(err, data.ErrSourceNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, src)
}

// parsePagination reads limit/offset query parameters with defaults.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

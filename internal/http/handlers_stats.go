package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jobradar/ingest-api/internal/service"
)

// StatsHandlers provides HTTP handlers for dedup reporting.
type StatsHandlers struct {
	Dedup *service.DedupService
}

// DuplicateRate handles GET /stats/duplicate-rate. Query parameters:
// window_hours (default 24) and source_id (optional).
func (h *StatsHandlers) DuplicateRate(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 24*90 {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "invalid_window",
				Err:     errInvalidWindow,
			})
			return
		}
		window = time.Duration(n) * time.Hour
	}

	var sourceID *string
	if v := r.URL.Query().Get("source_id"); v != "" {
		sourceID = &v
	}

	report, err := h.Dedup.DuplicateRate(r.Context(), window, sourceID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

var errInvalidWindow = errors.New("window_hours must be between 1 and 2160")

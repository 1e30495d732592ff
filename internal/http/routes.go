package httpx

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/jobradar/ingest-api/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Sources *service.SourceService
	Slices  *service.SliceService
	Runs    *service.RunService
	Ingest  *service.IngestService
	Dedup   *service.DedupService

	// AdminToken gates mutating endpoints. Empty rejects all mutations.
	AdminToken string

	// Health check dependencies (optional).
	DB    *sql.DB
	Redis redis.UniversalClient

	Logger *slog.Logger
}

// NewRouter creates and configures the HTTP router. Read endpoints are open;
// every mutating endpoint sits behind the admin token.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	admin := RequireAdminToken(services.AdminToken)
	wrap := func(h http.HandlerFunc) http.Handler { return admin(h) }

	sourceHandlers := &SourceHandlers{Svc: services.Sources}
	mux.HandleFunc("GET /sources", sourceHandlers.List)
	mux.HandleFunc("GET /sources/{id}", sourceHandlers.Get)
	mux.Handle("POST /sources", wrap(sourceHandlers.Create))
	mux.Handle("PATCH /sources/{id}", wrap(sourceHandlers.Update))

	sliceHandlers := &SliceHandlers{Svc: services.Slices}
	mux.HandleFunc("GET /slices", sliceHandlers.List)
	mux.HandleFunc("GET /slices/{id}", sliceHandlers.Get)
	mux.Handle("POST /slices", wrap(sliceHandlers.Create))
	mux.Handle("POST /slices/{id}/admin", wrap(sliceHandlers.Admin))

	runHandlers := &RunHandlers{Runs: services.Runs, Ingest: services.Ingest}
	mux.HandleFunc("GET /runs", runHandlers.List)
	mux.HandleFunc("GET /runs/{id}", runHandlers.Get)
	mux.Handle("POST /runs", wrap(runHandlers.Trigger))

	statsHandlers := &StatsHandlers{Dedup: services.Dedup}
	mux.HandleFunc("GET /stats/duplicate-rate", statsHandlers.DuplicateRate)

	healthHandlers := &HealthHandlers{DB: services.DB, Redis: services.Redis}
	mux.HandleFunc("GET /healthz", healthHandlers.Healthz)
	mux.HandleFunc("HEAD /healthz", healthHandlers.Healthz)

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}

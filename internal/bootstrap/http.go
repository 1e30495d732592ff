package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jobradar/ingest-api/config"
	httpx "github.com/jobradar/ingest-api/internal/http"
)

// StartHTTPServerIfEnabled starts the admin HTTP server when the http mode
// is on. Returns nil otherwise.
func StartHTTPServerIfEnabled(
	cfg *ServiceOrchestrationConfig,
	enabled map[config.ServiceMode]bool,
	logger *slog.Logger,
) *http.Server {
	if !enabled[config.ServiceModeHTTP] {
		return nil
	}

	handler := httpx.NewRouter(httpx.RouterServices{
		Sources:    cfg.Services.Sources,
		Slices:     cfg.Services.Slices,
		Runs:       cfg.Services.Runs,
		Ingest:     cfg.Services.Ingest,
		Dedup:      cfg.Services.Dedup,
		AdminToken: cfg.Config.HTTP.AdminToken,
		DB:         cfg.DB,
		Redis:      cfg.Redis,
		Logger:     logger,
	})

	addr := cfg.Config.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(cfg.Config.HTTP.ReadHeaderTimeoutSeconds) * time.Second,
		ReadTimeout:       30 * time.Second,
		// Manual run triggers execute a full cycle within the request.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	if server == nil {
		return nil
	}
	if logger != nil {
		logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if logger != nil {
		logger.Info("HTTP server stopped")
	}
	return nil
}

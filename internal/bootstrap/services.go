package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobradar/ingest-api/config"
	"github.com/jobradar/ingest-api/internal/adapters/cronrunner"
	"github.com/jobradar/ingest-api/internal/adapters/fetch"
	"github.com/jobradar/ingest-api/internal/adapters/redispub"
	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/observability/notify"
	"github.com/jobradar/ingest-api/internal/observability/statsd"
	"github.com/jobradar/ingest-api/internal/service"
)

// ServiceContainer holds all constructed services.
type ServiceContainer struct {
	Sources   *service.SourceService
	Slices    *service.SliceService
	Runs      *service.RunService
	Dedup     *service.DedupService
	Scheduler *service.SchedulerService
	Ingest    *service.IngestService
	Reaper    *service.ReaperService

	// MetricsSink is non-nil when metrics emission is configured; the
	// orchestrator closes it on shutdown.
	MetricsSink *statsd.Client
}

// ServiceDeps holds the external dependencies for building services.
type ServiceDeps struct {
	DB      *sql.DB
	Redis   redis.UniversalClient
	Config  *config.AppConfig
	Logger  *slog.Logger
	Fetcher core.SliceFetcher // Optional: overrides the HTTP fetch adapter
}

type serviceRepositories struct {
	sources  *data.SourceRepo
	slices   *data.SliceRepo
	runs     *data.RunRepo
	dedup    *data.DedupRepo
	postings *data.PostingRepo
}

func buildRepositories(db *sql.DB) *serviceRepositories {
	return &serviceRepositories{
		sources:  data.NewSourceRepo(db),
		slices:   data.NewSliceRepo(db),
		runs:     data.NewRunRepo(db),
		dedup:    data.NewDedupRepo(db),
		postings: data.NewPostingRepo(db),
	}
}

// NewServices builds the full service container.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	repos := buildRepositories(deps.DB)
	cfg := deps.Config
	logger := deps.Logger

	sources, err := service.NewSourceService(service.SourceServiceOptions{
		Repo: repos.sources, Config: cfg.Ingestion, Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build source service: %w", err)
	}

	slices, err := service.NewSliceService(service.SliceServiceOptions{
		Slices: repos.slices, Sources: repos.sources, Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build slice service: %w", err)
	}

	var seenCache core.SeenCache
	if deps.Redis != nil {
		seenCache = data.NewRedisSeenCache(deps.Redis, cfg.Ingestion.SeenKeyTTL)
	}
	dedup, err := service.NewDedupService(service.DedupServiceOptions{
		Records: repos.dedup, SeenCache: seenCache, Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build dedup service: %w", err)
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, metricsErr := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "jobradar",
			Logger:  logger,
		})
		if metricsErr != nil {
			// Metrics are best-effort; a dead sink must not block startup.
			if logger != nil {
				logger.Error("failed to initialise statsd client", "error", metricsErr)
			}
		} else {
			metricsSink = client
		}
	}

	scheduler, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Slices:   repos.slices,
		Sources:  repos.sources,
		Notifier: &notify.LogSink{Logger: logger},
		Config:   cfg.Ingestion,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build scheduler service: %w", err)
	}

	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewHTTPFetcher(fetch.HTTPFetcherOptions{
			Credentials: loadSourceCredentials(),
			Logger:      logger,
		})
	}

	var publisher core.RunEventPublisher
	if deps.Redis != nil {
		pub, pubErr := redispub.NewPublisher(deps.Redis, logger)
		if pubErr != nil {
			return ServiceContainer{}, fmt.Errorf("build run event publisher: %w", pubErr)
		}
		publisher = pub
	}

	ingest, err := service.NewIngestService(service.IngestServiceOptions{
		Scheduler: scheduler,
		Dedup:     dedup,
		Fetcher:   fetcher,
		Runs:      repos.runs,
		Postings:  repos.postings,
		Publisher: publisher,
		Metrics:   metricsSink,
		Config:    cfg.Ingestion,
		Logger:    logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build ingest service: %w", err)
	}

	runs, err := service.NewRunService(service.RunServiceOptions{
		Runs: repos.runs, StuckBudget: cfg.Reaper.StaleRunAge, Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build run service: %w", err)
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Runs: repos.runs, Slices: repos.slices, Dedup: repos.dedup,
		Config: cfg.Reaper, Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reaper service: %w", err)
	}

	return ServiceContainer{
		Sources:   sources,
		Slices:    slices,
		Runs:      runs,
		Dedup:     dedup,
		Scheduler: scheduler,
		Ingest:    ingest,
		Reaper:    reaper,

		MetricsSink: metricsSink,
	}, nil
}

// sourceCredentialPrefix scopes outbound auth material in the environment:
// SOURCE_KEY_<SLUG>, SOURCE_PUBLIC_<SLUG>, SOURCE_SECRET_<SLUG>. Slugs use
// dashes in the registry and underscores in the environment.
const (
	sourceKeyPrefix    = "SOURCE_KEY_"
	sourcePublicPrefix = "SOURCE_PUBLIC_"
	sourceSecretPrefix = "SOURCE_SECRET_"
)

func loadSourceCredentials() map[string]fetch.Credentials {
	creds := map[string]fetch.Credentials{}
	upsert := func(slug string, apply func(*fetch.Credentials)) {
		c := creds[slug]
		apply(&c)
		creds[slug] = c
	}

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(name, sourceKeyPrefix):
			upsert(envSlug(name, sourceKeyPrefix), func(c *fetch.Credentials) { c.APIKey = value })
		case strings.HasPrefix(name, sourcePublicPrefix):
			upsert(envSlug(name, sourcePublicPrefix), func(c *fetch.Credentials) { c.Public = value })
		case strings.HasPrefix(name, sourceSecretPrefix):
			upsert(envSlug(name, sourceSecretPrefix), func(c *fetch.Credentials) { c.Secret = value })
		}
	}
	return creds
}

func envSlug(name, prefix string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, prefix)), "_", "-")
}

// ServiceOrchestrationConfig holds everything RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	DB       *sql.DB
	Redis    redis.UniversalClient
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts the enabled services and blocks until
// SIGINT/SIGTERM, then shuts everything down gracefully: stop accepting HTTP
// traffic, cancel background loops, wait for them to drain.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("resolve enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var server = StartHTTPServerIfEnabled(cfg, enabled, logger)

	done := make([]<-chan struct{}, 0, 2)
	if enabled[config.ServiceModeIngestRunner] {
		runner, runnerErr := cronrunner.NewRunner(cronrunner.RunnerOptions{
			Ingest:   cfg.Services.Ingest,
			CronSpec: cfg.Config.Ingestion.CronSpec,
			Logger:   logger,
		})
		if runnerErr != nil {
			return fmt.Errorf("build ingest runner: %w", runnerErr)
		}
		done = append(done, launchBackground(ctx, logger, "ingest-runner", runner.Run))
	}
	if enabled[config.ServiceModeRunReaper] {
		done = append(done, launchBackground(ctx, logger, "run-reaper", cfg.Services.Reaper.Run))
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	stop()

	if closeErr := cfg.Services.MetricsSink.Close(); closeErr != nil {
		logger.Warn("failed to close metrics sink", "error", closeErr)
	}

	if server != nil {
		if shutdownErr := ShutdownHTTPServer(context.Background(), server, logger); shutdownErr != nil {
			logger.Error("HTTP server shutdown failed", "error", shutdownErr)
		}
	}

	drain := time.After(30 * time.Second)
	for _, ch := range done {
		select {
		case <-ch:
		case <-drain:
			logger.Warn("timed out waiting for background services to stop")
			return nil
		}
	}

	logger.Info("all services stopped")
	return nil
}

func launchBackground(
	ctx context.Context,
	logger *slog.Logger,
	name string,
	run func(context.Context) error,
) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		if err := run(ctx); err != nil {
			logger.Error("background service failed", "service", name, "error", err)
		}
	}()
	return ch
}

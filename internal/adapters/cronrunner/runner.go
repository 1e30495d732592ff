// Package cronrunner provides the scheduled trigger loop for ingestion cycles.
package cronrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/jobradar/ingest-api/internal/domain/model"
	"github.com/jobradar/ingest-api/internal/service"
)

// Runner fires ingestion cycles on a cron spec. Overlap is prevented here
// rather than in the service: if a cycle is still running when the next
// firing arrives, the firing is skipped and logged.
type Runner struct {
	ingest   *service.IngestService
	cronSpec string
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Ingest   *service.IngestService // Required: cycle executor
	CronSpec string                 // Required: robfig/cron spec, e.g. "@every 5m"
	Logger   *slog.Logger           // Optional: structured logger
}

// NewRunner creates a new cron runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Ingest == nil {
		return nil, errors.New("IngestService is required")
	}
	if opts.CronSpec == "" {
		return nil, errors.New("cron spec is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "cron_runner")
	}

	return &Runner{
		ingest:   opts.Ingest,
		cronSpec: opts.CronSpec,
		logger:   logger,
	}, nil
}

// Run starts the cron loop and blocks until the context is cancelled.
// Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(r.cronSpec, func() {
		r.fire(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", r.cronSpec, err)
	}

	if r.logger != nil {
		r.logger.InfoContext(ctx, "starting ingest runner", "cron_spec", r.cronSpec)
	}
	c.Start()

	<-ctx.Done()
	if r.logger != nil {
		r.logger.InfoContext(ctx, "ingest runner stopping", "reason", ctx.Err())
	}

	// Stop returns a context that completes when in-flight jobs finish.
	<-c.Stop().Done()

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (r *Runner) fire(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.WarnContext(ctx, "previous cycle still running, skipping firing")
		}
		return
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	run, err := r.ingest.RunCycle(ctx, service.RunCycleParams{Trigger: model.TriggerSchedule})
	if err != nil {
		if r.logger != nil && !errors.Is(err, context.Canceled) {
			r.logger.ErrorContext(ctx, "scheduled cycle failed", "error", err)
		}
		return
	}
	if r.logger != nil {
		r.logger.InfoContext(ctx, "scheduled cycle completed",
			"run_id", run.ID, "status", run.Status, "inserted", run.TotalInserted)
	}
}

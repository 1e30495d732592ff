package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobradar/ingest-api/config"
	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/data"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Runs   core.RunRepository   // Required: run ledger
	Slices core.SliceRepository // Required: slice repository
	Dedup  core.DedupRepository // Optional: dedup record pruning
	Config config.ReaperConfig  // Required: reaper configuration
	Logger *slog.Logger         // Optional: structured logger
}

// ReaperService recovers from crashed or hung cycles.
//
// This service manages:
// - Force-finalizing runs stuck in running past the stale age.
// - Releasing slice claims whose cycle died before recording an outcome.
// - Pruning terminal runs and stale dedup records past retention.
type ReaperService struct {
	runs   core.RunRepository
	slices core.SliceRepository
	dedup  core.DedupRepository
	config config.ReaperConfig
	logger *slog.Logger
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Slices == nil {
		return nil, errors.New("SliceRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"stale_run_age", opts.Config.StaleRunAge,
			"finalized_retention", opts.Config.FinalizedRetention,
		)
	}

	return &ReaperService{
		runs:   opts.Runs,
		slices: opts.Slices,
		dedup:  opts.Dedup,
		config: opts.Config,
		logger: logger,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Jitter prevents a thundering herd when multiple instances start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.sweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
				// Keep running despite errors.
			}
		}
	}
}

// waitWithJitter delays up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// Sweep runs one recovery pass. Exported so a one-shot invocation (tests,
// operator tooling) can run it without the loop.
func (s *ReaperService) Sweep(ctx context.Context) error {
	return s.sweep(ctx)
}

func (s *ReaperService) sweep(ctx context.Context) error {
	var errs []error

	if err := s.finalizeStaleRuns(ctx); err != nil {
		errs = append(errs, fmt.Errorf("finalize stale runs: %w", err))
	}
	if err := s.releaseStaleClaims(ctx); err != nil {
		errs = append(errs, fmt.Errorf("release stale claims: %w", err))
	}
	if err := s.pruneFinalized(ctx); err != nil {
		errs = append(errs, fmt.Errorf("prune finalized runs: %w", err))
	}
	if err := s.pruneDedupRecords(ctx); err != nil {
		errs = append(errs, fmt.Errorf("prune dedup records: %w", err))
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("reaper sweep failed: %w", joined)
	}
	return nil
}

// finalizeStaleRuns force-finalizes runs stuck in running past the stale
// age. Aggregates come from whatever detail rows landed before the cycle
// died; the error summary marks the forced finalization.
func (s *ReaperService) finalizeStaleRuns(ctx context.Context) error {
	stale, err := s.runs.FindStale(ctx, s.config.StaleRunAge)
	if err != nil {
		return err
	}

	for _, run := range stale {
		summary := fmt.Sprintf("force-finalized: run exceeded stale age %s", s.config.StaleRunAge)
		if _, err := s.runs.Finalize(ctx, run.ID, &summary); err != nil {
			// Lost a race with the owning cycle; the run is settled either way.
			if errors.Is(err, data.ErrRunFinalized) {
				continue
			}
			return err
		}
		if s.logger != nil {
			s.logger.InfoContext(ctx, "force-finalized stale run",
				"run_id", run.ID, "started_at", run.StartedAt)
		}
	}
	return nil
}

func (s *ReaperService) releaseStaleClaims(ctx context.Context) error {
	released, err := s.slices.ReleaseStaleClaims(ctx, s.config.StaleRunAge)
	if err != nil {
		return err
	}
	if released > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "released stale slice claims", "count", released)
	}
	return nil
}

func (s *ReaperService) pruneFinalized(ctx context.Context) error {
	if s.config.FinalizedRetention <= 0 {
		return nil
	}
	pruned, err := s.runs.PruneFinalized(ctx, s.config.FinalizedRetention)
	if err != nil {
		return err
	}
	if pruned > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "pruned finalized runs",
			"count", pruned, "retention", s.config.FinalizedRetention)
	}
	return nil
}

// pruneDedupRecords shares the run retention window: a dedup record older
// than every retained run no longer contributes to any reachable report.
func (s *ReaperService) pruneDedupRecords(ctx context.Context) error {
	if s.dedup == nil || s.config.FinalizedRetention <= 0 {
		return nil
	}
	pruned, err := s.dedup.Prune(ctx, s.config.FinalizedRetention)
	if err != nil {
		return err
	}
	if pruned > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "pruned dedup records", "count", pruned)
	}
	return nil
}

func (s *ReaperService) logSweepError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

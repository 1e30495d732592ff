package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobradar/ingest-api/config"
	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
	"github.com/jobradar/ingest-api/internal/domain/schedule"
	"github.com/jobradar/ingest-api/internal/observability/metrics"
	"github.com/jobradar/ingest-api/internal/observability/statsd"
)

// errorSummaryLimit caps persisted error text.
const errorSummaryLimit = 500

// IngestServiceOptions groups dependencies for IngestService.
type IngestServiceOptions struct {
	Scheduler    *SchedulerService      // Required: admission control and outcome recording
	Dedup        *DedupService          // Required: posting classification
	Fetcher      core.SliceFetcher      // Required: slice fetch adapter
	Runs         core.RunRepository     // Required: run ledger
	Postings     core.PostingRepository // Required: accepted posting storage
	Publisher    core.RunEventPublisher // Optional: run lifecycle events
	Metrics      statsd.Sink            // Optional: cycle and slice metrics
	Config       config.IngestionConfig // Required: concurrency and timeout tunables
	TimeProvider data.TimeProvider      // Optional: defaults to real time
	Logger       *slog.Logger           // Optional: structured logger
}

// IngestService executes ingestion cycles: claim eligible slices, fetch them
// concurrently, classify postings, and record everything in the run ledger.
//
// Failure isolation is the core invariant: one slice failing (error or
// timeout) never aborts the cycle; it becomes a failed detail row and a
// failure outcome for that slice alone.
type IngestService struct {
	scheduler    *SchedulerService
	dedup        *DedupService
	fetcher      core.SliceFetcher
	runs         core.RunRepository
	postings     core.PostingRepository
	publisher    core.RunEventPublisher
	metrics      statsd.Sink
	config       config.IngestionConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewIngestService constructs a new IngestService.
func NewIngestService(opts IngestServiceOptions) (*IngestService, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("SchedulerService is required")
	}
	if opts.Dedup == nil {
		return nil, errors.New("DedupService is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("SliceFetcher is required")
	}
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Postings == nil {
		return nil, errors.New("PostingRepository is required")
	}

	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "ingest_service")
	}

	return &IngestService{
		scheduler:    opts.Scheduler,
		dedup:        opts.Dedup,
		fetcher:      opts.Fetcher,
		runs:         opts.Runs,
		postings:     opts.Postings,
		publisher:    opts.Publisher,
		metrics:      opts.Metrics,
		config:       opts.Config,
		timeProvider: timeProvider,
		logger:       logger,
	}, nil
}

// RunCycleParams describes one cycle trigger.
type RunCycleParams struct {
	Trigger model.TriggerKind
	// SourceID restricts the cycle to one source's slices when set.
	SourceID *string
}

// RunCycle executes one full ingestion cycle and returns the finalized run.
// A cycle with zero eligible slices still produces a run, finalized as
// success with zero totals.
func (s *IngestService) RunCycle(ctx context.Context, p RunCycleParams) (*model.RunWithDetails, error) {
	assignments, err := s.scheduler.SelectEligible(ctx, p.SourceID)
	if err != nil {
		return nil, err
	}

	run, err := s.runs.Start(ctx, p.Trigger)
	if err != nil {
		// Claims must not dangle until the stale-claim sweep.
		s.scheduler.Release(context.WithoutCancel(ctx), assignments)
		return nil, fmt.Errorf("start run: %w", err)
	}
	s.publish(ctx, core.RunEvent{RunID: run.ID, Status: run.Status, OccurredAt: run.StartedAt})

	if s.logger != nil {
		s.logger.InfoContext(ctx, "ingestion cycle started",
			"run_id", run.ID, "trigger", p.Trigger, "slices", len(assignments))
	}

	// Workers never return errors: a slice failure is an outcome, not a
	// cycle failure. The group exists for the join barrier and the
	// concurrency bound.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrency)
	for _, a := range assignments {
		g.Go(func() error {
			s.processSlice(gctx, run.ID, a)
			return nil
		})
	}
	_ = g.Wait()

	var summary *string
	if ctx.Err() != nil {
		msg := truncate("cycle interrupted: "+ctx.Err().Error(), errorSummaryLimit)
		summary = &msg
	}

	// Finalization must proceed even when the trigger context is gone.
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	finalized, err := s.runs.Finalize(finalizeCtx, run.ID, summary)
	if err != nil {
		return nil, fmt.Errorf("finalize run %s: %w", run.ID, err)
	}
	metrics.EmitCycle(s.metrics, metrics.CycleMetric{
		Trigger:  string(p.Trigger),
		Status:   string(finalized.Status),
		Slices:   len(assignments),
		Inserted: finalized.TotalInserted,
		Duration: s.timeProvider.Now().UTC().Sub(run.StartedAt),
	})
	s.publish(finalizeCtx, core.RunEvent{
		RunID:      finalized.ID,
		Status:     finalized.Status,
		OccurredAt: s.timeProvider.Now().UTC(),
	})

	if s.logger != nil {
		s.logger.InfoContext(ctx, "ingestion cycle finished",
			"run_id", finalized.ID,
			"status", finalized.Status,
			"normalized", finalized.TotalNormalized,
			"inserted", finalized.TotalInserted,
			"duplicates", finalized.TotalDuplicates,
			"failed", finalized.TotalFailed,
		)
	}
	return finalized, nil
}

// processSlice runs one slice attempt end to end: fetch, classify, insert,
// append the detail row, record the scheduling outcome.
func (s *IngestService) processSlice(ctx context.Context, runID string, a Assignment) {
	attemptAt := s.timeProvider.Now().UTC()

	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	postings, err := s.fetcher.Fetch(fetchCtx, core.FetchRequest{
		Source: a.Source,
		Slice:  a.Slice,
		Params: a.Slice.Params,
	})
	cancel()

	if err != nil {
		s.handleSliceError(ctx, runID, a, attemptAt, err)
		return
	}

	result, err := s.dedup.Classify(ctx, a.Source.ID, a.Slice.ID, postings)
	if err != nil {
		s.handleSliceError(ctx, runID, a, attemptAt, err)
		return
	}

	inserted := 0
	if len(result.Accepted) > 0 {
		inserted, err = s.postings.InsertBatch(ctx, result.Accepted)
		if err != nil {
			s.handleSliceError(ctx, runID, a, attemptAt, err)
			return
		}
	}

	finishedAt := s.timeProvider.Now().UTC()
	sliceResult := metrics.ResultSuccess
	if len(postings) == 0 {
		sliceResult = metrics.ResultEmpty
	}
	metrics.EmitSliceFetch(s.metrics, metrics.SliceMetric{
		SourceSlug: a.Source.Slug,
		Result:     sliceResult,
		Fetched:    len(postings),
		Duplicates: result.Duplicates,
		Duration:   finishedAt.Sub(attemptAt),
	})
	s.appendDetail(ctx, &model.RunSourceDetail{
		RunID:      runID,
		SourceID:   a.Source.ID,
		SliceID:    a.Slice.ID,
		Status:     model.DetailStatusSuccess,
		Normalized: len(postings),
		Inserted:   inserted,
		Duplicates: result.Duplicates,
		StartedAt:  attemptAt,
		FinishedAt: finishedAt,
	})

	if _, err := s.scheduler.RecordOutcome(ctx, a, schedule.Outcome{
		ResultCount: len(postings),
		NewJobs:     inserted,
		AttemptAt:   attemptAt,
	}); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to record slice success",
			"slice_id", a.Slice.ID, "run_id", runID, "error", err)
	}
}

// handleSliceError routes an attempt error. Errors caused by cooperative
// cancellation of the cycle discard the attempt: the claim is released
// without an outcome, so a shutdown never walks a healthy slice toward bad.
// A per-fetch timeout leaves the cycle context alive and still counts as a
// real failure.
func (s *IngestService) handleSliceError(
	ctx context.Context,
	runID string,
	a Assignment,
	attemptAt time.Time,
	cause error,
) {
	if ctx.Err() != nil {
		if s.logger != nil {
			s.logger.InfoContext(context.WithoutCancel(ctx), "cycle cancelled, discarding slice attempt",
				"slice_id", a.Slice.ID, "run_id", runID, "error", cause)
		}
		s.scheduler.Release(context.WithoutCancel(ctx), []Assignment{a})
		return
	}
	s.recordFailure(ctx, runID, a, attemptAt, cause)
}

func (s *IngestService) recordFailure(
	ctx context.Context,
	runID string,
	a Assignment,
	attemptAt time.Time,
	cause error,
) {
	// The attempt context may be dead; bookkeeping still has to land.
	ctx = context.WithoutCancel(ctx)

	msg := truncate(cause.Error(), errorSummaryLimit)
	finishedAt := s.timeProvider.Now().UTC()

	metrics.EmitSliceFetch(s.metrics, metrics.SliceMetric{
		SourceSlug: a.Source.Slug,
		Result:     metrics.ResultError,
		Duration:   finishedAt.Sub(attemptAt),
		Err:        cause,
	})

	if s.logger != nil {
		s.logger.WarnContext(ctx, "slice attempt failed",
			"slice_id", a.Slice.ID, "source", a.Source.Slug, "run_id", runID, "error", cause)
	}

	s.appendDetail(ctx, &model.RunSourceDetail{
		RunID:        runID,
		SourceID:     a.Source.ID,
		SliceID:      a.Slice.ID,
		Status:       model.DetailStatusFailed,
		ErrorSummary: &msg,
		StartedAt:    attemptAt,
		FinishedAt:   finishedAt,
	})

	if _, err := s.scheduler.RecordOutcome(ctx, a, schedule.Outcome{
		Failed:    true,
		LastError: msg,
		AttemptAt: attemptAt,
	}); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to record slice failure",
			"slice_id", a.Slice.ID, "run_id", runID, "error", err)
	}
}

func (s *IngestService) appendDetail(ctx context.Context, d *model.RunSourceDetail) {
	if _, err := s.runs.AppendDetail(ctx, d); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to append run detail",
			"run_id", d.RunID, "slice_id", d.SliceID, "error", err)
	}
}

func (s *IngestService) publish(ctx context.Context, event core.RunEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRunEvent(ctx, event); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to publish run event",
			"run_id", event.RunID, "status", event.Status, "error", err)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobradar/ingest-api/config"
	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
	"github.com/jobradar/ingest-api/internal/domain/schedule"
	"github.com/jobradar/ingest-api/internal/observability/notify"
)

// SchedulerServiceOptions groups dependencies for SchedulerService.
type SchedulerServiceOptions struct {
	Slices       core.SliceRepository   // Required: slice repository
	Sources      core.SourceRepository  // Required: source repository
	Notifier     notify.Sink            // Optional: slice-disabled alerts
	Config       config.IngestionConfig // Required: cooldown tunables
	TimeProvider data.TimeProvider      // Optional: defaults to real time
	Logger       *slog.Logger           // Optional: structured logger
}

// SchedulerService owns admission control and per-slice cadence. It decides
// which slices a cycle may attempt and records every attempt outcome through
// the cooldown policy, so scheduling state changes in exactly one place.
type SchedulerService struct {
	slices       core.SliceRepository
	sources      core.SourceRepository
	notifier     notify.Sink
	policy       schedule.Policy
	batchSize    int
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewSchedulerService constructs a new SchedulerService.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Slices == nil {
		return nil, errors.New("SliceRepository is required")
	}
	if opts.Sources == nil {
		return nil, errors.New("SourceRepository is required")
	}

	policy := schedule.Policy{
		WidenFactor:        opts.Config.WidenFactor,
		EmptyRunStep:       opts.Config.EmptyRunStep,
		FailThreshold:      opts.Config.FailThreshold,
		MaxIntervalMinutes: opts.Config.MaxIntervalMinutes,
	}
	policy.Sanitize()

	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "scheduler_service")
	}

	return &SchedulerService{
		slices:       opts.Slices,
		sources:      opts.Sources,
		notifier:     opts.Notifier,
		policy:       policy,
		batchSize:    opts.Config.BatchSize,
		timeProvider: timeProvider,
		logger:       logger,
	}, nil
}

// Assignment pairs a claimed slice with its source for the fetch stage.
type Assignment struct {
	Slice  model.SearchSlice
	Source model.JobSource
}

// SelectEligible claims due slices (most overdue first) and resolves their
// sources. SourceID, when set, restricts the sweep to one source's slices.
// Claimed slices are excluded from concurrent sweeps until their outcome is
// recorded.
func (s *SchedulerService) SelectEligible(ctx context.Context, sourceID *string) ([]Assignment, error) {
	now := s.timeProvider.Now().UTC()

	claimed, err := s.slices.ClaimEligible(ctx, data.ClaimEligibleParams{
		Now:      now,
		Limit:    s.batchSize,
		SourceID: sourceID,
	})
	if err != nil {
		return nil, fmt.Errorf("select eligible slices: %w", err)
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	sources, err := s.sources.ListEnabled(ctx)
	if err != nil {
		// Claims must not leak when source resolution fails.
		s.releaseAll(ctx, claimed)
		return nil, fmt.Errorf("resolve sources for eligible slices: %w", err)
	}
	byID := make(map[string]*model.JobSource, len(sources))
	for _, src := range sources {
		byID[src.ID] = src
	}

	assignments := make([]Assignment, 0, len(claimed))
	for _, sl := range claimed {
		src, ok := byID[sl.SourceID]
		if !ok {
			// Source was disabled between the claim and resolution.
			s.releaseAll(ctx, []model.SearchSlice{sl})
			continue
		}
		assignments = append(assignments, Assignment{Slice: sl, Source: *src})
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "claimed eligible slices",
			"claimed", len(assignments), "batch_size", s.batchSize)
	}
	return assignments, nil
}

// RecordOutcome applies the cooldown policy to one attempt outcome and
// persists the resulting scheduling state, releasing the in-flight claim.
// Called exactly once per claimed slice, success or failure.
func (s *SchedulerService) RecordOutcome(
	ctx context.Context,
	a Assignment,
	out schedule.Outcome,
) (*model.SearchSlice, error) {
	updated := s.policy.Apply(a.Slice, a.Source.BaseIntervalMinutes, out)

	if err := s.slices.SaveSchedulingState(ctx, &updated); err != nil {
		return nil, fmt.Errorf("record outcome for slice %s: %w", a.Slice.ID, err)
	}

	if s.notifier != nil && updated.Status == model.SliceStatusBad && a.Slice.Status != model.SliceStatusBad {
		payload := notify.SliceDisabledPayload{
			SliceID:    updated.ID,
			SourceID:   a.Source.ID,
			SourceSlug: a.Source.Slug,
			FailCount:  updated.FailCount,
			LastError:  out.LastError,
			OccurredAt: s.timeProvider.Now().UTC(),
		}
		if err := s.notifier.SendSliceDisabled(ctx, payload); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to send slice-disabled alert",
				"slice_id", updated.ID, "error", err)
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "recorded slice outcome",
			"slice_id", updated.ID,
			"failed", out.Failed,
			"new_jobs", out.NewJobs,
			"interval_minutes", updated.MinIntervalMinutes,
			"next_allowed_at", updated.NextAllowedAt,
			"status", updated.Status,
		)
	}
	return &updated, nil
}

// Release returns claimed assignments without recording an outcome.
// Scheduling state is left untouched: no fail count, no cooldown movement.
// Used when an attempt never ran, such as a cycle that could not open its
// ledger row or one cancelled before the fetch finished.
func (s *SchedulerService) Release(ctx context.Context, assignments []Assignment) {
	slices := make([]model.SearchSlice, len(assignments))
	for i, a := range assignments {
		slices[i] = a.Slice
	}
	s.releaseAll(ctx, slices)
}

// releaseAll returns claims without recording an outcome. Used only when an
// attempt could not start; scheduling state is left untouched.
func (s *SchedulerService) releaseAll(ctx context.Context, slices []model.SearchSlice) {
	for i := range slices {
		sl := slices[i]
		sl.ClaimedAt = nil
		if err := s.slices.SaveSchedulingState(ctx, &sl); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to release slice claim",
				"slice_id", sl.ID, "error", err)
		}
	}
}

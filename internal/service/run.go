package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
)

// RunServiceOptions groups dependencies for RunService.
type RunServiceOptions struct {
	Runs         core.RunRepository // Required: run ledger
	StuckBudget  time.Duration      // Optional: running-too-long threshold, defaults to 30m
	TimeProvider data.TimeProvider  // Optional: defaults to real time
	Logger       *slog.Logger       // Optional: structured logger
}

// RunService is the read side of the run ledger.
type RunService struct {
	runs         core.RunRepository
	stuckBudget  time.Duration
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewRunService constructs a new RunService.
func NewRunService(opts RunServiceOptions) (*RunService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}

	stuckBudget := opts.StuckBudget
	if stuckBudget <= 0 {
		stuckBudget = 30 * time.Minute
	}
	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "run_service")
	}

	return &RunService{
		runs:         opts.Runs,
		stuckBudget:  stuckBudget,
		timeProvider: timeProvider,
		logger:       logger,
	}, nil
}

// RunView is a ledger run with the stuck projection computed at read time.
type RunView struct {
	model.RunWithDetails
	// Stuck flags a running run past the budget without persisting a
	// distinct status; the reaper resolves it later.
	Stuck bool `json:"stuck"`
}

// GetByID retrieves one run with detail rows.
func (s *RunService) GetByID(ctx context.Context, id string) (*RunView, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return s.view(run), nil
}

// List returns runs newest first. The Since cursor supports incremental
// polling: clients pass the started_at of the newest run they have seen.
func (s *RunService) List(ctx context.Context, opts model.RunListOptions) ([]*RunView, error) {
	runs, err := s.runs.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	views := make([]*RunView, len(runs))
	for i, run := range runs {
		views[i] = s.view(run)
	}
	return views, nil
}

func (s *RunService) view(run *model.RunWithDetails) *RunView {
	return &RunView{
		RunWithDetails: *run,
		Stuck:          run.Stuck(s.timeProvider.Now().UTC(), s.stuckBudget),
	}
}

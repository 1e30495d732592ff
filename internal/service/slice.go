package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
	apperrors "github.com/jobradar/ingest-api/internal/errors"
)

// SliceServiceOptions groups dependencies for SliceService.
type SliceServiceOptions struct {
	Slices  core.SliceRepository  // Required: slice repository
	Sources core.SourceRepository // Required: source repository
	Logger  *slog.Logger          // Optional: structured logger
}

// SliceService provides search slice management: creation, listing, and the
// admin override surface (pause, resume, reset cooldown, edit).
type SliceService struct {
	slices  core.SliceRepository
	sources core.SourceRepository
	logger  *slog.Logger
}

// NewSliceService constructs a new SliceService.
func NewSliceService(opts SliceServiceOptions) (*SliceService, error) {
	if opts.Slices == nil {
		return nil, errors.New("SliceRepository is required")
	}
	if opts.Sources == nil {
		return nil, errors.New("SourceRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "slice_service")
	}

	return &SliceService{
		slices:  opts.Slices,
		sources: opts.Sources,
		logger:  logger,
	}, nil
}

// Create defines a new slice under an existing source. The slice starts at
// the source's base interval, immediately eligible.
func (s *SliceService) Create(ctx context.Context, req *model.CreateSliceRequest) (*model.SearchSlice, error) {
	if req == nil {
		return nil, errors.New("create slice request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid slice request")
	}

	src, err := s.sources.GetByID(ctx, req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("resolve source for slice: %w", err)
	}

	sl, err := s.slices.Create(ctx, req, src.BaseIntervalMinutes)
	if err != nil {
		return nil, fmt.Errorf("create slice: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "slice created",
			"slice_id", sl.ID, "source", src.Slug, "interval_minutes", sl.MinIntervalMinutes)
	}
	return sl, nil
}

// GetByID retrieves a slice by ID.
func (s *SliceService) GetByID(ctx context.Context, id string) (*model.SearchSlice, error) {
	return s.slices.GetByID(ctx, id)
}

// List returns slice views with source slugs and derived projections.
func (s *SliceService) List(ctx context.Context, opts model.SliceListOptions) ([]*model.SliceView, error) {
	return s.slices.List(ctx, opts)
}

// Admin applies one manual override to a slice. Overrides take effect on the
// next scheduling decision; an in-flight fetch is never interrupted.
func (s *SliceService) Admin(
	ctx context.Context,
	id string,
	req model.AdminSliceRequest,
) (*model.SearchSlice, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid admin request")
	}

	var (
		sl  *model.SearchSlice
		err error
	)
	switch req.Action {
	case model.SliceActionPause:
		sl, err = s.slices.SetStatus(ctx, id, model.SliceStatusPaused)
	case model.SliceActionResume:
		sl, err = s.slices.SetStatus(ctx, id, model.SliceStatusActive)
	case model.SliceActionResetCooldown:
		sl, err = s.resetCooldown(ctx, id)
	case model.SliceActionEdit:
		sl, err = s.slices.Edit(ctx, id, data.EditParams{
			Params:             req.Params,
			MinIntervalMinutes: req.MinIntervalMinutes,
		})
	default:
		return nil, fmt.Errorf("unknown admin action: %q", req.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("admin %s: %w", req.Action, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "admin action applied",
			"slice_id", sl.ID, "action", req.Action, "status", sl.Status)
	}
	return sl, nil
}

func (s *SliceService) resetCooldown(ctx context.Context, id string) (*model.SearchSlice, error) {
	sl, err := s.slices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	src, err := s.sources.GetByID(ctx, sl.SourceID)
	if err != nil {
		return nil, fmt.Errorf("resolve source for reset: %w", err)
	}
	return s.slices.ResetCooldown(ctx, id, src.BaseIntervalMinutes)
}

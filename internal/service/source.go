package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobradar/ingest-api/config"
	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/domain/model"
	apperrors "github.com/jobradar/ingest-api/internal/errors"
)

// SourceServiceOptions groups dependencies for SourceService.
type SourceServiceOptions struct {
	Repo   core.SourceRepository  // Required: source repository
	Config config.IngestionConfig // Required: default base interval
	Logger *slog.Logger           // Optional: structured logger
}

// SourceService provides job source registry operations.
type SourceService struct {
	repo                core.SourceRepository
	defaultBaseInterval int
	logger              *slog.Logger
}

// NewSourceService constructs a new SourceService.
func NewSourceService(opts SourceServiceOptions) (*SourceService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SourceRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "source_service")
	}

	return &SourceService{
		repo:                opts.Repo,
		defaultBaseInterval: opts.Config.DefaultBaseIntervalMinutes,
		logger:              logger,
	}, nil
}

// Create registers a new job source. A missing base interval falls back to
// the configured default.
func (s *SourceService) Create(ctx context.Context, req *model.CreateSourceRequest) (*model.JobSource, error) {
	if req == nil {
		return nil, errors.New("create source request is required")
	}
	if req.BaseIntervalMinutes <= 0 {
		req.BaseIntervalMinutes = s.defaultBaseInterval
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid source request")
	}

	src, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "source created",
			"source_id", src.ID, "slug", src.Slug, "fetch_mode", src.FetchMode)
	}
	return src, nil
}

// GetByID retrieves a source by ID.
func (s *SourceService) GetByID(ctx context.Context, id string) (*model.JobSource, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns sources newest first.
func (s *SourceService) List(ctx context.Context, limit, offset int) ([]*model.JobSource, error) {
	return s.repo.List(ctx, limit, offset)
}

// Update applies a partial source update (enable/disable, base interval).
func (s *SourceService) Update(
	ctx context.Context,
	id string,
	req model.UpdateSourceRequest,
) (*model.JobSource, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid source update")
	}
	src, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update source: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "source updated", "source_id", src.ID, "enabled", src.Enabled)
	}
	return src, nil
}

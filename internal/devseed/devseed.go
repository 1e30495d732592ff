// Package devseed populates a development database with a small set of job
// sources and search slices. Seeding is idempotent: existing sources and
// slices are left alone.
package devseed

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB      *sql.DB
	sources *data.SourceRepo
	slices  *data.SliceRepo
}

// NewServices constructs the repositories used for seeding.
func NewServices(db *sql.DB) Services {
	return Services{
		DB:      db,
		sources: data.NewSourceRepo(db),
		slices:  data.NewSliceRepo(db),
	}
}

// Run executes the full development seeding workflow against the provided DB.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	failures := 0
	for _, seed := range defaultSources() {
		src, err := ensureSource(ctx, svcs.sources, seed.source)
		if err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to seed source", "slug", seed.source.Slug, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			logger.InfoContext(ctx, "seeded source", "slug", src.Slug, "id", src.ID)
		}

		for _, params := range seed.slices {
			created, err := ensureSlice(ctx, svcs.slices, src, params)
			if err != nil {
				if logger != nil {
					logger.ErrorContext(ctx, "failed to seed slice",
						"source", src.Slug, "params", string(params), "error", err)
				}
				failures++
				continue
			}
			if logger != nil {
				msg := "slice already exists"
				if created {
					msg = "created slice"
				}
				logger.InfoContext(ctx, msg, "source", src.Slug, "params", string(params))
			}
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

type sourceSeed struct {
	source *model.CreateSourceRequest
	slices []json.RawMessage
}

func defaultSources() []sourceSeed {
	return []sourceSeed{
		{
			source: &model.CreateSourceRequest{
				Slug:                "greenhouse-acme",
				Name:                "Acme Corp (Greenhouse)",
				FetchMode:           model.FetchModeAPI,
				AuthMode:            model.AuthModeSingleKey,
				BaseIntervalMinutes: 60,
			},
			slices: []json.RawMessage{
				json.RawMessage(`{"endpoint":"https://boards-api.greenhouse.io/v1/boards/acme/jobs","query":{"department":"engineering"}}`),
				json.RawMessage(`{"endpoint":"https://boards-api.greenhouse.io/v1/boards/acme/jobs","query":{"department":"data"}}`),
			},
		},
		{
			source: &model.CreateSourceRequest{
				Slug:                "lever-globex",
				Name:                "Globex (Lever)",
				FetchMode:           model.FetchModeAPI,
				AuthMode:            model.AuthModePublicSecret,
				BaseIntervalMinutes: 120,
			},
			slices: []json.RawMessage{
				json.RawMessage(`{"endpoint":"https://api.lever.co/v0/postings/globex","query":{"team":"platform","mode":"json"}}`),
			},
		},
		{
			source: &model.CreateSourceRequest{
				Slug:                "weworkremotely",
				Name:                "We Work Remotely",
				FetchMode:           model.FetchModeRSS,
				AuthMode:            model.AuthModeNone,
				BaseIntervalMinutes: 180,
			},
			slices: []json.RawMessage{
				json.RawMessage(`{"endpoint":"https://weworkremotely.com/categories/remote-programming-jobs.rss"}`),
			},
		},
	}
}

// ensureSource creates the source or, when the slug is taken, loads the
// existing record so slices can still be attached.
func ensureSource(
	ctx context.Context,
	repo *data.SourceRepo,
	req *model.CreateSourceRequest,
) (*model.JobSource, error) {
	src, err := repo.Create(ctx, req)
	if err == nil {
		return src, nil
	}
	if errors.Is(err, data.ErrSourceSlugExists) {
		return repo.GetBySlug(ctx, req.Slug)
	}
	return nil, err
}

func ensureSlice(
	ctx context.Context,
	repo *data.SliceRepo,
	src *model.JobSource,
	params json.RawMessage,
) (bool, error) {
	existing, err := repo.List(ctx, model.SliceListOptions{SourceID: &src.ID, Limit: 500})
	if err != nil {
		return false, fmt.Errorf("list slices for %s: %w", src.Slug, err)
	}
	for _, sl := range existing {
		if sameParams(sl.Params, params) {
			return false, nil
		}
	}

	_, err = repo.Create(ctx, &model.CreateSliceRequest{SourceID: src.ID, Params: params}, src.BaseIntervalMinutes)
	if err != nil {
		return false, err
	}
	return true, nil
}

// sameParams compares two JSON documents ignoring insignificant whitespace.
func sameParams(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if err := json.Compact(&ca, a); err != nil {
		return false
	}
	if err := json.Compact(&cb, b); err != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jobradar/ingest-api/internal/data/pgxutil"
	"github.com/jobradar/ingest-api/internal/domain/model"
)

// SourceRepo provides database operations over job_sources.
type SourceRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSourceRepo creates a new SourceRepo with the given database connection.
func NewSourceRepo(db *sql.DB) *SourceRepo {
	return &SourceRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewSourceRepoWithTimeProvider creates a SourceRepo with a custom TimeProvider (useful for testing).
func NewSourceRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *SourceRepo {
	return &SourceRepo{DB: db, timeProvider: timeProvider}
}

const sourceColumns = `id, slug, name, enabled, fetch_mode, auth_mode, base_interval_minutes, created_at, updated_at`

// Create registers a new job source.
func (r *SourceRepo) Create(ctx context.Context, req *model.CreateSourceRequest) (*model.JobSource, error) {
	if req == nil {
		return nil, errors.New("create source request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	now := r.timeProvider.Now().UTC()

	var out model.JobSource
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO job_sources (slug, name, enabled, fetch_mode, auth_mode, base_interval_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			RETURNING `+sourceColumns+`
		`, req.Slug, req.Name, enabled, req.FetchMode, req.AuthMode, req.BaseIntervalMinutes, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		var e error
		out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.JobSource])
		return e
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrSourceSlugExists
		}
		return nil, fmt.Errorf("create source: %w", err)
	}
	return &out, nil
}

// getSourceByQuery executes a query expected to return a single source row.
func (r *SourceRepo) getSourceByQuery(ctx context.Context, q string, args ...any) (*model.JobSource, error) {
	var source model.JobSource
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		source, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.JobSource])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("get source: %w", err)
	}
	return &source, nil
}

// GetByID retrieves a source by its ID.
func (r *SourceRepo) GetByID(ctx context.Context, id string) (*model.JobSource, error) {
	return r.getSourceByQuery(ctx, `SELECT `+sourceColumns+` FROM job_sources WHERE id = $1`, id)
}

// GetBySlug retrieves a source by its slug.
func (r *SourceRepo) GetBySlug(ctx context.Context, slug string) (*model.JobSource, error) {
	return r.getSourceByQuery(ctx, `SELECT `+sourceColumns+` FROM job_sources WHERE slug = $1`, slug)
}

// List retrieves sources with pagination, newest first.
func (r *SourceRepo) List(ctx context.Context, limit, offset int) ([]*model.JobSource, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var sources []model.JobSource
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+sourceColumns+` FROM job_sources
			ORDER BY created_at DESC, id DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		sources, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.JobSource])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	result := make([]*model.JobSource, len(sources))
	for i := range sources {
		result[i] = &sources[i]
	}
	return result, nil
}

// ListEnabled retrieves all enabled sources. Used by the runner when
// resolving which base intervals apply to claimed slices.
func (r *SourceRepo) ListEnabled(ctx context.Context) ([]*model.JobSource, error) {
	var sources []model.JobSource
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+sourceColumns+` FROM job_sources WHERE enabled ORDER BY slug
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		sources, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.JobSource])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}
	result := make([]*model.JobSource, len(sources))
	for i := range sources {
		result[i] = &sources[i]
	}
	return result, nil
}

// Update applies a partial update (enable/disable, base interval) to a source.
func (r *SourceRepo) Update(ctx context.Context, id string, req model.UpdateSourceRequest) (*model.JobSource, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	set := make([]string, 0, 3)
	args := make([]any, 0, 4)
	next := func() int { return len(args) + 1 }
	if req.Enabled != nil {
		set = append(set, fmt.Sprintf("enabled = $%d", next()))
		args = append(args, *req.Enabled)
	}
	if req.BaseIntervalMinutes != nil {
		set = append(set, fmt.Sprintf("base_interval_minutes = $%d", next()))
		args = append(args, *req.BaseIntervalMinutes)
	}
	if len(set) == 0 {
		return r.GetByID(ctx, id)
	}
	set = append(set, fmt.Sprintf("updated_at = $%d", next()))
	args = append(args, r.timeProvider.Now().UTC())
	args = append(args, id)

	query := "UPDATE job_sources SET " + strings.Join(set, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", len(args)) + sourceColumns

	var out model.JobSource
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		var e error
		out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.JobSource])
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("update source: %w", err)
	}
	return &out, nil
}

package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jobradar/ingest-api/internal/data/pgxutil"
	"github.com/jobradar/ingest-api/internal/domain/model"
)

// RunRepo provides database operations over ingestion_runs and their
// per-slice detail rows. Detail rows are append-only; run aggregates are
// recomputed from the details at finalization rather than incremented along
// the way, so the ledger stays consistent even if a cycle dies mid-run.
type RunRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRunRepo creates a new RunRepo with the given database connection.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewRunRepoWithTimeProvider creates a RunRepo with a custom TimeProvider (useful for testing).
func NewRunRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *RunRepo {
	return &RunRepo{DB: db, timeProvider: timeProvider}
}

const runColumns = `id, status, triggered_by, total_normalized, total_inserted,
	total_duplicates, total_failed, error_summary, started_at, finished_at`

const detailColumns = `id, run_id, source_id, slice_id, status, normalized,
	inserted, duplicates, error_summary, started_at, finished_at`

// Start opens a new run in the running state.
func (r *RunRepo) Start(ctx context.Context, trigger model.TriggerKind) (*model.IngestionRun, error) {
	if !trigger.Valid() {
		return nil, fmt.Errorf("invalid trigger kind: %q", trigger)
	}
	now := r.timeProvider.Now().UTC()

	var out model.IngestionRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO ingestion_runs (status, triggered_by, started_at)
			VALUES ('running', $1, $2)
			RETURNING `+runColumns, trigger, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		var e error
		out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.IngestionRun])
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return &out, nil
}

// AppendDetail records the outcome of one slice attempt within a run.
func (r *RunRepo) AppendDetail(ctx context.Context, d *model.RunSourceDetail) (*model.RunSourceDetail, error) {
	if d == nil {
		return nil, errors.New("run detail is required")
	}
	var out model.RunSourceDetail
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO run_source_details
				(run_id, source_id, slice_id, status, normalized, inserted, duplicates,
				 error_summary, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+detailColumns,
			d.RunID, d.SourceID, d.SliceID, d.Status, d.Normalized, d.Inserted,
			d.Duplicates, d.ErrorSummary, d.StartedAt.UTC(), d.FinishedAt.UTC())
		if err != nil {
			return err
		}
		defer rows.Close()
		var e error
		out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.RunSourceDetail])
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("append run detail: %w", err)
	}
	return &out, nil
}

// Finalize recomputes run aggregates from the detail rows, derives the
// terminal status, and stamps finished_at, all in one transaction. Runs that
// already reached a terminal state are left untouched.
func (r *RunRepo) Finalize(ctx context.Context, runID string, errorSummary *string) (*model.RunWithDetails, error) {
	now := r.timeProvider.Now().UTC()

	var out model.RunWithDetails
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+runColumns+` FROM ingestion_runs WHERE id = $1 FOR UPDATE
		`, runID)
		if err != nil {
			return err
		}
		run, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.IngestionRun])
		if err != nil {
			return err
		}
		if run.Status.Terminal() {
			return ErrRunFinalized
		}

		rows, err = tx.Query(ctx, `
			SELECT `+detailColumns+` FROM run_source_details
			WHERE run_id = $1 ORDER BY started_at ASC, id ASC
		`, runID)
		if err != nil {
			return err
		}
		details, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.RunSourceDetail])
		if err != nil {
			return err
		}

		agg := sumDetails(details)
		status := model.DeriveRunStatus(details)
		if errorSummary != nil {
			status = model.RunStatusFailed
		}

		rows, err = tx.Query(ctx, `
			UPDATE ingestion_runs SET
				status = $2,
				total_normalized = $3,
				total_inserted = $4,
				total_duplicates = $5,
				total_failed = $6,
				error_summary = COALESCE($7, error_summary),
				finished_at = $8
			WHERE id = $1
			RETURNING `+runColumns,
			runID, status, agg.normalized, agg.inserted, agg.duplicates, agg.failed,
			errorSummary, now)
		if err != nil {
			return err
		}
		run, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.IngestionRun])
		if err != nil {
			return err
		}
		out = model.RunWithDetails{IngestionRun: run, Details: details}
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		if errors.Is(err, ErrRunFinalized) {
			return nil, ErrRunFinalized
		}
		return nil, fmt.Errorf("finalize run: %w", err)
	}
	return &out, nil
}

type detailTotals struct {
	normalized int
	inserted   int
	duplicates int
	failed     int
}

func sumDetails(details []model.RunSourceDetail) detailTotals {
	var t detailTotals
	for _, d := range details {
		t.normalized += d.Normalized
		t.inserted += d.Inserted
		t.duplicates += d.Duplicates
		if d.Status == model.DetailStatusFailed {
			t.failed++
		}
	}
	return t
}

// GetByID retrieves a run with its detail rows.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*model.RunWithDetails, error) {
	var out model.RunWithDetails
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+runColumns+` FROM ingestion_runs WHERE id = $1`, id)
		if err != nil {
			return err
		}
		run, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.IngestionRun])
		if err != nil {
			return err
		}
		rows, err = conn.Query(ctx, `
			SELECT `+detailColumns+` FROM run_source_details
			WHERE run_id = $1 ORDER BY started_at ASC, id ASC
		`, id)
		if err != nil {
			return err
		}
		details, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.RunSourceDetail])
		if err != nil {
			return err
		}
		out = model.RunWithDetails{IngestionRun: run, Details: details}
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &out, nil
}

// List returns runs newest first with nested detail rows. The Since cursor
// lets polling clients pick up where their last page left off.
func (r *RunRepo) List(ctx context.Context, opts model.RunListOptions) ([]*model.RunWithDetails, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 4)
	next := func() int { return len(args) + 1 }
	if opts.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", next()))
		args = append(args, *opts.Status)
	}
	if opts.Since != nil {
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", next()))
		args = append(args, opts.Since.UTC())
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT `+runColumns+` FROM ingestion_runs
		%s
		ORDER BY started_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	var out []*model.RunWithDetails
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		runs, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.IngestionRun])
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			out = []*model.RunWithDetails{}
			return nil
		}

		ids := make([]string, len(runs))
		for i, run := range runs {
			ids[i] = run.ID
		}
		rows, err = conn.Query(ctx, `
			SELECT `+detailColumns+` FROM run_source_details
			WHERE run_id = ANY($1) ORDER BY started_at ASC, id ASC
		`, ids)
		if err != nil {
			return err
		}
		details, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.RunSourceDetail])
		if err != nil {
			return err
		}

		byRun := make(map[string][]model.RunSourceDetail, len(runs))
		for _, d := range details {
			byRun[d.RunID] = append(byRun[d.RunID], d)
		}
		out = make([]*model.RunWithDetails, len(runs))
		for i, run := range runs {
			out[i] = &model.RunWithDetails{IngestionRun: run, Details: byRun[run.ID]}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// FindStale returns running runs older than the given age. The reaper
// force-finalizes these after a crashed or hung cycle.
func (r *RunRepo) FindStale(ctx context.Context, olderThan time.Duration) ([]model.IngestionRun, error) {
	cutoff := r.timeProvider.Now().UTC().Add(-olderThan)
	var runs []model.IngestionRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+runColumns+` FROM ingestion_runs
			WHERE status = 'running' AND started_at < $1
			ORDER BY started_at ASC
		`, cutoff)
		if err != nil {
			return err
		}
		runs, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.IngestionRun])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find stale runs: %w", err)
	}
	return runs, nil
}

// PruneFinalized deletes terminal runs (details cascade) finished before the
// retention window.
func (r *RunRepo) PruneFinalized(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := r.timeProvider.Now().UTC().Add(-retention)
	var pruned int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			DELETE FROM ingestion_runs
			WHERE status IN ('success', 'partial', 'failed') AND finished_at < $1
		`, cutoff)
		if err != nil {
			return err
		}
		pruned = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune finalized runs: %w", err)
	}
	return pruned, nil
}

package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jobradar/ingest-api/internal/data/pgxutil"
	"github.com/jobradar/ingest-api/internal/domain/model"
)

// SliceRepo provides database operations over search_slices. All automatic
// scheduling mutations flow through SaveSchedulingState; manual overrides go
// through the admin methods. Nothing else writes scheduling state.
type SliceRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSliceRepo creates a new SliceRepo with the given database connection.
func NewSliceRepo(db *sql.DB) *SliceRepo {
	return &SliceRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewSliceRepoWithTimeProvider creates a SliceRepo with a custom TimeProvider (useful for testing).
func NewSliceRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *SliceRepo {
	return &SliceRepo{DB: db, timeProvider: timeProvider}
}

const sliceColumns = `id, source_id, params, status, last_success_at, next_allowed_at,
	min_interval_minutes, result_count_last, new_jobs_last, consecutive_empty_runs,
	fail_count, claimed_at, created_at, updated_at`

// Create defines a new source/query combination. The slice starts active,
// immediately eligible, at the source's base interval.
func (r *SliceRepo) Create(
	ctx context.Context,
	req *model.CreateSliceRequest,
	baseIntervalMinutes int,
) (*model.SearchSlice, error) {
	if req == nil {
		return nil, errors.New("create slice request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := r.timeProvider.Now().UTC()

	var out model.SearchSlice
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO search_slices
				(source_id, params, status, next_allowed_at, min_interval_minutes, created_at, updated_at)
			VALUES ($1, $2, 'active', $3, $4, $3, $3)
			RETURNING `+sliceColumns+`
		`, req.SourceID, req.Params, now, baseIntervalMinutes)
		if err != nil {
			return err
		}
		defer rows.Close()
		var e error
		out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SearchSlice])
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("create slice: %w", err)
	}
	return &out, nil
}

// GetByID retrieves a slice by its ID.
func (r *SliceRepo) GetByID(ctx context.Context, id string) (*model.SearchSlice, error) {
	var out model.SearchSlice
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+sliceColumns+` FROM search_slices WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		var e error
		out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SearchSlice])
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSliceNotFound
		}
		return nil, fmt.Errorf("get slice: %w", err)
	}
	return &out, nil
}

// sliceViewRow carries the joined list projection before derived fields are computed.
type sliceViewRow struct {
	model.SearchSlice
	SourceSlug          string `db:"source_slug"`
	BaseIntervalMinutes int    `db:"base_interval_minutes"`
}

// List returns slices joined with their source, with derived projections
// (is_cooling, is_productive) computed at read time from raw counters.
func (r *SliceRepo) List(ctx context.Context, opts model.SliceListOptions) ([]*model.SliceView, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 4)
	next := func() int { return len(args) + 1 }
	if opts.SourceID != nil {
		conditions = append(conditions, fmt.Sprintf("s.source_id = $%d", next()))
		args = append(args, *opts.SourceID)
	}
	if opts.Status != nil {
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", next()))
		args = append(args, *opts.Status)
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
		SELECT s.id, s.source_id, s.params, s.status, s.last_success_at, s.next_allowed_at,
		       s.min_interval_minutes, s.result_count_last, s.new_jobs_last,
		       s.consecutive_empty_runs, s.fail_count, s.claimed_at, s.created_at, s.updated_at,
		       src.slug AS source_slug, src.base_interval_minutes
		FROM search_slices s
		JOIN job_sources src ON src.id = s.source_id
		%s
		ORDER BY s.next_allowed_at ASC, s.id ASC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	var rowsOut []sliceViewRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[sliceViewRow])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list slices: %w", err)
	}

	views := make([]*model.SliceView, len(rowsOut))
	for i := range rowsOut {
		row := &rowsOut[i]
		views[i] = &model.SliceView{
			SearchSlice:  row.SearchSlice,
			SourceSlug:   row.SourceSlug,
			IsCooling:    row.IsCooling(row.BaseIntervalMinutes),
			IsProductive: row.IsProductive(),
		}
	}
	return views, nil
}

// ClaimEligibleParams bounds one eligibility sweep.
type ClaimEligibleParams struct {
	Now      time.Time
	Limit    int
	SourceID *string
}

// ClaimEligible selects eligible slices and marks them in flight in one
// transaction. Eligibility: active, unclaimed, next_allowed_at <= now.
// Ordering: most overdue first, then fewest consecutive empty runs.
// FOR UPDATE SKIP LOCKED keeps concurrent triggers from claiming the same
// slice; the claimed_at mark excludes in-flight slices from later sweeps
// until the outcome is recorded.
func (r *SliceRepo) ClaimEligible(ctx context.Context, p ClaimEligibleParams) ([]model.SearchSlice, error) {
	if p.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", p.Limit)
	}

	sourceFilter := ""
	args := []any{p.Now.UTC(), p.Limit}
	if p.SourceID != nil {
		sourceFilter = "AND s.source_id = $3"
		args = append(args, *p.SourceID)
	}

	query := fmt.Sprintf(`
		WITH eligible AS (
			SELECT s.id
			FROM search_slices s
			JOIN job_sources src ON src.id = s.source_id
			WHERE s.status = 'active'
			  AND s.claimed_at IS NULL
			  AND s.next_allowed_at <= $1
			  AND src.enabled
			  %s
			ORDER BY s.next_allowed_at ASC, s.consecutive_empty_runs ASC, s.id ASC
			LIMIT $2
			FOR UPDATE OF s SKIP LOCKED
		)
		UPDATE search_slices
		SET claimed_at = $1, updated_at = $1
		FROM eligible
		WHERE search_slices.id = eligible.id
		RETURNING `+claimedSliceColumns, sourceFilter)

	var slices []model.SearchSlice
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		slices, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.SearchSlice])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim eligible slices: %w", err)
	}

	// UPDATE ... RETURNING does not honor the CTE ordering; restore it here.
	sortClaimed(slices)
	return slices, nil
}

// claimedSliceColumns qualifies the RETURNING list for the claim update.
const claimedSliceColumns = `search_slices.id, search_slices.source_id, search_slices.params,
	search_slices.status, search_slices.last_success_at, search_slices.next_allowed_at,
	search_slices.min_interval_minutes, search_slices.result_count_last, search_slices.new_jobs_last,
	search_slices.consecutive_empty_runs, search_slices.fail_count, search_slices.claimed_at,
	search_slices.created_at, search_slices.updated_at`

func sortClaimed(slices []model.SearchSlice) {
	for i := 1; i < len(slices); i++ {
		for j := i; j > 0 && claimedLess(&slices[j], &slices[j-1]); j-- {
			slices[j], slices[j-1] = slices[j-1], slices[j]
		}
	}
}

func claimedLess(a, b *model.SearchSlice) bool {
	if !a.NextAllowedAt.Equal(b.NextAllowedAt) {
		return a.NextAllowedAt.Before(b.NextAllowedAt)
	}
	if a.ConsecutiveEmptyRuns != b.ConsecutiveEmptyRuns {
		return a.ConsecutiveEmptyRuns < b.ConsecutiveEmptyRuns
	}
	return a.ID < b.ID
}

// SaveSchedulingState persists the post-outcome scheduling state computed by
// the cooldown policy and releases the in-flight claim. A manual pause
// applied while the slice was claimed wins over the claim-time snapshot: the
// outcome write never flips a paused slice back to active.
func (r *SliceRepo) SaveSchedulingState(ctx context.Context, sl *model.SearchSlice) error {
	if sl == nil {
		return errors.New("slice is required")
	}
	now := r.timeProvider.Now().UTC()
	var tag int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			UPDATE search_slices SET
				status = CASE WHEN search_slices.status = 'paused' THEN search_slices.status ELSE $2 END,
				last_success_at = $3,
				next_allowed_at = $4,
				min_interval_minutes = $5,
				result_count_last = $6,
				new_jobs_last = $7,
				consecutive_empty_runs = $8,
				fail_count = $9,
				claimed_at = NULL,
				updated_at = $10
			WHERE id = $1
		`, sl.ID, sl.Status, sl.LastSuccessAt, sl.NextAllowedAt.UTC(), sl.MinIntervalMinutes,
			sl.ResultCountLast, sl.NewJobsLast, sl.ConsecutiveEmptyRuns, sl.FailCount, now)
		if err != nil {
			return err
		}
		tag = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("save scheduling state: %w", err)
	}
	if tag == 0 {
		return ErrSliceNotFound
	}
	return nil
}

// SetStatus applies a manual pause/resume. Resuming a bad slice clears its
// failure streak so it gets a fresh threshold budget.
func (r *SliceRepo) SetStatus(ctx context.Context, id string, status model.SliceStatus) (*model.SearchSlice, error) {
	now := r.timeProvider.Now().UTC()
	var out model.SearchSlice
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE search_slices SET
				status = $2,
				fail_count = CASE WHEN $2 = 'active' AND status = 'bad' THEN 0 ELSE fail_count END,
				updated_at = $3
			WHERE id = $1
			RETURNING `+sliceColumns, id, status, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		var e error
		out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SearchSlice])
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSliceNotFound
		}
		return nil, fmt.Errorf("set slice status: %w", err)
	}
	return &out, nil
}

// ResetCooldown makes the slice immediately eligible and restores the source
// base interval. Empty-run and failure history is preserved.
func (r *SliceRepo) ResetCooldown(ctx context.Context, id string, baseIntervalMinutes int) (*model.SearchSlice, error) {
	now := r.timeProvider.Now().UTC()
	var out model.SearchSlice
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE search_slices SET
				next_allowed_at = $2,
				min_interval_minutes = $3,
				updated_at = $2
			WHERE id = $1
			RETURNING `+sliceColumns, id, now, baseIntervalMinutes)
		if err != nil {
			return err
		}
		defer rows.Close()
		var e error
		out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SearchSlice])
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSliceNotFound
		}
		return nil, fmt.Errorf("reset slice cooldown: %w", err)
	}
	return &out, nil
}

// EditParams groups the admin parameter/interval edit.
type EditParams struct {
	Params             json.RawMessage
	MinIntervalMinutes *int
}

// Edit updates query params and/or the current interval.
func (r *SliceRepo) Edit(ctx context.Context, id string, p EditParams) (*model.SearchSlice, error) {
	set := make([]string, 0, 3)
	args := make([]any, 0, 4)
	next := func() int { return len(args) + 1 }
	if len(p.Params) > 0 {
		set = append(set, fmt.Sprintf("params = $%d", next()))
		args = append(args, p.Params)
	}
	if p.MinIntervalMinutes != nil {
		set = append(set, fmt.Sprintf("min_interval_minutes = $%d", next()))
		args = append(args, *p.MinIntervalMinutes)
	}
	if len(set) == 0 {
		return r.GetByID(ctx, id)
	}
	set = append(set, fmt.Sprintf("updated_at = $%d", next()))
	args = append(args, r.timeProvider.Now().UTC())
	args = append(args, id)

	query := "UPDATE search_slices SET " + strings.Join(set, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", len(args)) + sliceColumns

	var out model.SearchSlice
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		var e error
		out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SearchSlice])
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSliceNotFound
		}
		return nil, fmt.Errorf("edit slice: %w", err)
	}
	return &out, nil
}

// ReleaseStaleClaims clears in-flight marks older than the given age. A
// claim can outlive its run when the process died mid-cycle; without this
// the slice would be excluded from scheduling forever.
func (r *SliceRepo) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := r.timeProvider.Now().UTC().Add(-olderThan)
	var released int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			UPDATE search_slices SET claimed_at = NULL, updated_at = $1
			WHERE claimed_at IS NOT NULL AND claimed_at < $2
		`, r.timeProvider.Now().UTC(), cutoff)
		if err != nil {
			return err
		}
		released = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return released, nil
}

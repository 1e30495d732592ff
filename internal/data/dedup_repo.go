package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jobradar/ingest-api/internal/data/pgxutil"
)

// DedupRepo provides database operations over dedup_records, the durable
// seen-set behind the Redis fast path. One row per dedup key; hit_count
// tracks lifetime repeat sightings.
type DedupRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewDedupRepo creates a new DedupRepo with the given database connection.
func NewDedupRepo(db *sql.DB) *DedupRepo {
	return &DedupRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewDedupRepoWithTimeProvider creates a DedupRepo with a custom TimeProvider (useful for testing).
func NewDedupRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *DedupRepo {
	return &DedupRepo{DB: db, timeProvider: timeProvider}
}

// Record performs the atomic check-and-insert for a dedup key. Returns true
// if the key was new (first sighting), false if it was already recorded.
// Repeat sightings bump hit_count and last_seen_at. The upsert makes the
// check race-free under concurrent slice fetches: exactly one caller per
// key observes inserted=true.
func (r *DedupRepo) Record(ctx context.Context, key, sourceID string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("dedup key is required")
	}
	now := r.timeProvider.Now().UTC()

	var inserted bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		// xmax = 0 only holds for freshly inserted rows, not conflict updates.
		return conn.QueryRow(ctx, `
			INSERT INTO dedup_records (dedup_key, source_id, first_seen_at, last_seen_at, hit_count)
			VALUES ($1, $2, $3, $3, 1)
			ON CONFLICT (dedup_key) DO UPDATE SET
				last_seen_at = EXCLUDED.last_seen_at,
				hit_count = dedup_records.hit_count + 1
			RETURNING (xmax = 0) AS inserted
		`, key, sourceID, now).Scan(&inserted)
	})
	if err != nil {
		return false, fmt.Errorf("record dedup key: %w", err)
	}
	return inserted, nil
}

// WindowStats aggregates keyed sightings within a reporting window.
type WindowStats struct {
	// TotalSeen counts keyed sightings inside the window (accepted plus
	// duplicate classifications).
	TotalSeen int64 `db:"total_seen"`
	// NewKeys counts first sightings inside the window.
	NewKeys int64 `db:"new_keys"`
}

// DuplicateRate returns 0 when nothing was seen in the window.
func (s WindowStats) DuplicateRate() float64 {
	if s.TotalSeen == 0 {
		return 0
	}
	return float64(s.TotalSeen-s.NewKeys) / float64(s.TotalSeen)
}

// Stats computes sighting aggregates for attempts started inside the window,
// optionally restricted to one source. The counts come from the run ledger's
// detail rows rather than dedup_records: hit_count on a record is a lifetime
// total, so a key with pre-window history would leak old sightings into the
// window.
func (r *DedupRepo) Stats(ctx context.Context, window time.Duration, sourceID *string) (WindowStats, error) {
	cutoff := r.timeProvider.Now().UTC().Add(-window)
	args := []any{cutoff}
	sourceFilter := ""
	if sourceID != nil {
		sourceFilter = "AND source_id = $2"
		args = append(args, *sourceID)
	}

	var stats WindowStats
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, fmt.Sprintf(`
			SELECT COALESCE(SUM(inserted + duplicates), 0)::bigint AS total_seen,
			       COALESCE(SUM(inserted), 0)::bigint AS new_keys
			FROM run_source_details
			WHERE started_at >= $1 %s
		`, sourceFilter), args...).Scan(&stats.TotalSeen, &stats.NewKeys)
	})
	if err != nil {
		return WindowStats{}, fmt.Errorf("dedup window stats: %w", err)
	}
	return stats, nil
}

// Prune deletes records not seen within the retention window.
func (r *DedupRepo) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := r.timeProvider.Now().UTC().Add(-retention)
	var pruned int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `DELETE FROM dedup_records WHERE last_seen_at < $1`, cutoff)
		if err != nil {
			return err
		}
		pruned = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune dedup records: %w", err)
	}
	return pruned, nil
}

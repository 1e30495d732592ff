package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jobradar/ingest-api/internal/data/pgxutil"
	"github.com/jobradar/ingest-api/internal/domain/model"
)

// PostingRepo provides database operations over accepted postings.
type PostingRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewPostingRepo creates a new PostingRepo with the given database connection.
func NewPostingRepo(db *sql.DB) *PostingRepo {
	return &PostingRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewPostingRepoWithTimeProvider creates a PostingRepo with a custom TimeProvider (useful for testing).
func NewPostingRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *PostingRepo {
	return &PostingRepo{DB: db, timeProvider: timeProvider}
}

// PostingInsert carries one accepted posting for insertion.
type PostingInsert struct {
	SourceID string
	SliceID  string
	DedupKey string
	Posting  model.RawPosting
}

// InsertBatch writes accepted postings in one statement. ON CONFLICT DO
// NOTHING on dedup_key backstops the dedup engine: if two cycles race past
// the seen-set check, the second insert is a no-op rather than an error.
// Returns the number of rows actually inserted.
func (r *PostingRepo) InsertBatch(ctx context.Context, postings []PostingInsert) (int, error) {
	if len(postings) == 0 {
		return 0, nil
	}
	now := r.timeProvider.Now().UTC()

	values := make([]string, len(postings))
	args := make([]any, 0, len(postings)*10)
	for i, p := range postings {
		if p.DedupKey == "" {
			return 0, errors.New("posting dedup key is required")
		}
		base := i * 10
		values[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		args = append(args,
			p.SourceID, p.SliceID, p.DedupKey,
			nullIfEmpty(p.Posting.ExternalID), p.Posting.URL, p.Posting.Title,
			nullIfEmpty(p.Posting.Company), nullIfEmpty(p.Posting.Location),
			p.Posting.PostedAt, p.Posting.Payload)
	}

	query := `
		INSERT INTO postings
			(source_id, slice_id, dedup_key, external_id, url, title, company, location, posted_at, payload, created_at)
		SELECT v.source_id, v.slice_id, v.dedup_key, v.external_id, v.url, v.title,
		       v.company, v.location, v.posted_at, v.payload, $` + fmt.Sprint(len(args)+1) + `
		FROM (VALUES ` + strings.Join(values, ", ") + `)
			AS v(source_id, slice_id, dedup_key, external_id, url, title, company, location, posted_at, payload)
		ON CONFLICT (dedup_key) DO NOTHING`
	args = append(args, now)

	var inserted int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		inserted = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert postings: %w", err)
	}
	return int(inserted), nil
}

// GetByDedupKey retrieves a stored posting by its dedup key.
func (r *PostingRepo) GetByDedupKey(ctx context.Context, key string) (*model.StoredPosting, error) {
	var out model.StoredPosting
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, source_id, slice_id, dedup_key, external_id, url, title,
			       company, location, posted_at, payload, created_at
			FROM postings WHERE dedup_key = $1
		`, key)
		if err != nil {
			return err
		}
		defer rows.Close()
		var e error
		out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.StoredPosting])
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get posting: %w", err)
	}
	return &out, nil
}

// CountBySource returns the number of stored postings for a source.
func (r *PostingRepo) CountBySource(ctx context.Context, sourceID string) (int64, error) {
	var count int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx,
			`SELECT COUNT(*) FROM postings WHERE source_id = $1`, sourceID).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count postings: %w", err)
	}
	return count, nil
}

func nullIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

package data_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/dedup"
	"github.com/jobradar/ingest-api/internal/domain/model"
	"github.com/jobradar/ingest-api/internal/testutil"
)

func buildInsert(t *testing.T, sourceID, sliceID string, posting model.RawPosting) data.PostingInsert {
	t.Helper()
	key, err := dedup.Key(sourceID, &posting)
	require.NoError(t, err)
	return data.PostingInsert{
		SourceID: sourceID,
		SliceID:  sliceID,
		DedupKey: key,
		Posting:  posting,
	}
}

func TestPostingRepoInsertBatch(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		slices := data.NewSliceRepo(db)
		src := seedSource(t, db, "postings-insert", 30, true)
		sl := seedSlice(t, slices, src.ID, `{"q":"insert"}`, 30)

		repo := data.NewPostingRepo(db)
		batch := []data.PostingInsert{
			buildInsert(t, src.ID, sl.ID, testutil.NewPosting().WithExternalID("ext-1").WithTitle("Backend Engineer").Build()),
			buildInsert(t, src.ID, sl.ID, testutil.NewPosting().WithExternalID("ext-2").WithTitle("Data Engineer").Build()),
		}

		inserted, err := repo.InsertBatch(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)

		count, err := repo.CountBySource(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		got, err := repo.GetByDedupKey(ctx, batch[0].DedupKey)
		require.NoError(t, err)
		assert.Equal(t, "Backend Engineer", got.Title)
		assert.Equal(t, src.ID, got.SourceID)
		require.NotNil(t, got.ExternalID)
		assert.Equal(t, "ext-1", *got.ExternalID)
	})
}

func TestPostingRepoInsertBatchSkipsDuplicateKeys(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		slices := data.NewSliceRepo(db)
		src := seedSource(t, db, "postings-dup", 30, true)
		sl := seedSlice(t, slices, src.ID, `{"q":"dup"}`, 30)

		repo := data.NewPostingRepo(db)
		posting := testutil.NewPosting().WithExternalID("ext-dup").Build()

		inserted, err := repo.InsertBatch(ctx, []data.PostingInsert{buildInsert(t, src.ID, sl.ID, posting)})
		require.NoError(t, err)
		assert.Equal(t, 1, inserted)

		// Replaying the same posting is a no-op, not an error.
		inserted, err = repo.InsertBatch(ctx, []data.PostingInsert{buildInsert(t, src.ID, sl.ID, posting)})
		require.NoError(t, err)
		assert.Equal(t, 0, inserted)

		count, err := repo.CountBySource(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestPostingRepoInsertBatchValidation(t *testing.T) {
	repo := data.NewPostingRepo(nil)

	inserted, err := repo.InsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	_, err = repo.InsertBatch(context.Background(), []data.PostingInsert{{
		SourceID: "src-1",
		SliceID:  "slice-1",
		Posting:  testutil.NewPosting().Build(),
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedup key is required")
}

func TestPostingRepoGetByDedupKeyNotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		_, err := data.NewPostingRepo(db).GetByDedupKey(context.Background(), "no-such-key")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

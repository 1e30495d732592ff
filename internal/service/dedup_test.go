package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
	"github.com/jobradar/ingest-api/internal/testutil"
)

func TestClassifyPartitionsBatch(t *testing.T) {
	seen := make(map[string]bool)
	records := &mockDedupRepo{
		recordFn: func(_ context.Context, key, _ string) (bool, error) {
			if seen[key] {
				return false, nil
			}
			seen[key] = true
			return true, nil
		},
	}
	svc, err := NewDedupService(DedupServiceOptions{Records: records})
	require.NoError(t, err)

	fresh := testutil.NewPosting().Build()
	repeat := testutil.NewPosting().Build()
	unkeyable := testutil.NewPosting().Anonymous().Build()

	result, err := svc.Classify(context.Background(), "src-1", "slice-1",
		[]model.RawPosting{fresh, repeat, repeat, unkeyable})
	require.NoError(t, err)

	assert.Len(t, result.Accepted, 2)
	assert.Equal(t, 1, result.Duplicates, "second occurrence in the same batch is a duplicate")
	assert.Equal(t, 1, result.Skipped, "postings without identity are skipped, not stored")

	for _, ins := range result.Accepted {
		assert.Equal(t, "src-1", ins.SourceID)
		assert.Equal(t, "slice-1", ins.SliceID)
		assert.NotEmpty(t, ins.DedupKey)
	}
}

func TestClassifyCacheHitShortCircuits(t *testing.T) {
	dbCalls := 0
	records := &mockDedupRepo{
		recordFn: func(context.Context, string, string) (bool, error) {
			dbCalls++
			return true, nil
		},
	}
	cache := &mockSeenCache{
		markSeenFn: func(context.Context, string) (bool, error) {
			return false, nil // already seen
		},
	}
	svc, err := NewDedupService(DedupServiceOptions{Records: records, SeenCache: cache})
	require.NoError(t, err)

	result, err := svc.Classify(context.Background(), "src-1", "slice-1",
		[]model.RawPosting{testutil.NewPosting().Build()})
	require.NoError(t, err)

	assert.Empty(t, result.Accepted)
	assert.Equal(t, 1, result.Duplicates)
	assert.Zero(t, dbCalls, "a cache hit must not touch the database")
}

func TestClassifyCacheErrorFallsBackToDatabase(t *testing.T) {
	records := &mockDedupRepo{
		recordFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
	}
	cache := &mockSeenCache{
		markSeenFn: func(context.Context, string) (bool, error) {
			return false, errors.New("redis connection refused")
		},
	}
	svc, err := NewDedupService(DedupServiceOptions{Records: records, SeenCache: cache})
	require.NoError(t, err)

	result, err := svc.Classify(context.Background(), "src-1", "slice-1",
		[]model.RawPosting{testutil.NewPosting().Build()})
	require.NoError(t, err, "cache trouble must degrade, not fail classification")
	assert.Len(t, result.Accepted, 1)
}

func TestClassifyDatabaseIsAuthoritative(t *testing.T) {
	// Cache says unseen (flushed cache) but the database has the record.
	records := &mockDedupRepo{
		recordFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
	}
	cache := &mockSeenCache{
		markSeenFn: func(context.Context, string) (bool, error) {
			return true, nil
		},
	}
	svc, err := NewDedupService(DedupServiceOptions{Records: records, SeenCache: cache})
	require.NoError(t, err)

	result, err := svc.Classify(context.Background(), "src-1", "slice-1",
		[]model.RawPosting{testutil.NewPosting().Build()})
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	assert.Equal(t, 1, result.Duplicates)
}

func TestClassifyRecordError(t *testing.T) {
	records := &mockDedupRepo{
		recordFn: func(context.Context, string, string) (bool, error) {
			return false, errors.New("deadlock detected")
		},
	}
	svc, err := NewDedupService(DedupServiceOptions{Records: records})
	require.NoError(t, err)

	_, err = svc.Classify(context.Background(), "src-1", "slice-1",
		[]model.RawPosting{testutil.NewPosting().Build()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record dedup key")
}

func TestDuplicateRateDefaultsWindow(t *testing.T) {
	var gotWindow time.Duration
	records := &mockDedupRepo{
		statsFn: func(_ context.Context, window time.Duration, _ *string) (data.WindowStats, error) {
			gotWindow = window
			return data.WindowStats{TotalSeen: 10, NewKeys: 6}, nil
		},
	}
	svc, err := NewDedupService(DedupServiceOptions{Records: records})
	require.NoError(t, err)

	report, err := svc.DuplicateRate(context.Background(), 0, nil)
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, gotWindow)
	assert.Equal(t, 24, report.WindowHours)
	assert.Equal(t, int64(10), report.TotalSeen)
	assert.Equal(t, int64(6), report.NewKeys)
	assert.InDelta(t, 0.4, report.DuplicateRate, 1e-9)
}

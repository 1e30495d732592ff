package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobradar/ingest-api/config"
	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
	"github.com/jobradar/ingest-api/internal/testutil"
)

func ingestConfig() config.IngestionConfig {
	return config.IngestionConfig{
		MaxConcurrency:     4,
		FetchTimeout:       5 * time.Second,
		BatchSize:          10,
		WidenFactor:        1.5,
		EmptyRunStep:       3,
		FailThreshold:      5,
		MaxIntervalMinutes: 1440,
	}
}

// newRunRepo returns a run repository stub whose Finalize derives the
// terminal status and totals from the appended detail rows, mirroring the
// real repository's aggregation.
func newRunRepo(startedAt time.Time) *mockRunRepo {
	repo := &mockRunRepo{}
	repo.startFn = func(_ context.Context, trigger model.TriggerKind) (*model.IngestionRun, error) {
		return &model.IngestionRun{
			ID:          "run-1",
			Status:      model.RunStatusRunning,
			TriggeredBy: trigger,
			StartedAt:   startedAt,
		}, nil
	}
	repo.finalizeFn = func(_ context.Context, runID string, errorSummary *string) (*model.RunWithDetails, error) {
		details := repo.appendedDetails()
		run := model.RunWithDetails{
			IngestionRun: model.IngestionRun{
				ID:           runID,
				Status:       model.DeriveRunStatus(details),
				StartedAt:    startedAt,
				ErrorSummary: errorSummary,
			},
			Details: details,
		}
		for _, d := range details {
			run.TotalNormalized += d.Normalized
			run.TotalInserted += d.Inserted
			run.TotalDuplicates += d.Duplicates
			if d.Status == model.DetailStatusFailed {
				run.TotalFailed++
			}
		}
		return &run, nil
	}
	return repo
}

type ingestFixture struct {
	svc      *IngestService
	slices   *mockSliceRepo
	runs     *mockRunRepo
	pub      *mockPublisher
	inserted [][]data.PostingInsert
}

func newIngestFixture(
	t *testing.T,
	now time.Time,
	slices *mockSliceRepo,
	sources *mockSourceRepo,
	fetcher core.SliceFetcher,
) *ingestFixture {
	t.Helper()

	clock := testutil.NewTestTimeProvider(now)
	scheduler, err := NewSchedulerService(SchedulerServiceOptions{
		Slices:       slices,
		Sources:      sources,
		Config:       ingestConfig(),
		TimeProvider: clock,
	})
	require.NoError(t, err)

	dedup, err := NewDedupService(DedupServiceOptions{
		Records: &mockDedupRepo{
			recordFn: func(context.Context, string, string) (bool, error) {
				return true, nil
			},
		},
	})
	require.NoError(t, err)

	f := &ingestFixture{
		slices: slices,
		runs:   newRunRepo(now),
		pub:    &mockPublisher{},
	}
	postings := &mockPostingRepo{
		insertBatchFn: func(_ context.Context, batch []data.PostingInsert) (int, error) {
			f.inserted = append(f.inserted, batch)
			return len(batch), nil
		},
	}

	svc, err := NewIngestService(IngestServiceOptions{
		Scheduler:    scheduler,
		Dedup:        dedup,
		Fetcher:      fetcher,
		Runs:         f.runs,
		Postings:     postings,
		Publisher:    f.pub,
		Config:       ingestConfig(),
		TimeProvider: clock,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestRunCycleZeroEligibleStillProducesRun(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	slices := &mockSliceRepo{
		claimFn: func(context.Context, data.ClaimEligibleParams) ([]model.SearchSlice, error) {
			return nil, nil
		},
	}
	sources := &mockSourceRepo{}
	fetcher := &mockFetcher{
		fetchFn: func(context.Context, core.FetchRequest) ([]model.RawPosting, error) {
			t.Fatal("nothing should be fetched with zero eligible slices")
			return nil, nil
		},
	}
	f := newIngestFixture(t, now, slices, sources, fetcher)

	run, err := f.svc.RunCycle(context.Background(), RunCycleParams{Trigger: model.TriggerSchedule})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusSuccess, run.Status)
	assert.Zero(t, run.TotalNormalized)
	assert.Zero(t, run.TotalInserted)
	assert.Empty(t, run.Details)

	events := f.pub.published()
	require.Len(t, events, 2)
	assert.Equal(t, model.RunStatusRunning, events[0].Status)
	assert.Equal(t, model.RunStatusSuccess, events[1].Status)
}

func TestRunCycleHappyPath(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	src := testutil.NewSource().WithSlug("acme").Build()
	sl := testutil.NewSlice().ForSource(src).Build()

	slices := &mockSliceRepo{
		claimFn: func(context.Context, data.ClaimEligibleParams) ([]model.SearchSlice, error) {
			return []model.SearchSlice{sl}, nil
		},
	}
	sources := &mockSourceRepo{
		listEnabledFn: func(context.Context) ([]*model.JobSource, error) {
			return []*model.JobSource{&src}, nil
		},
	}
	fetched := []model.RawPosting{
		testutil.NewPosting().Build(),
		testutil.NewPosting().Build(),
		testutil.NewPosting().Build(),
	}
	fetcher := &mockFetcher{
		fetchFn: func(_ context.Context, req core.FetchRequest) ([]model.RawPosting, error) {
			assert.Equal(t, src.ID, req.Source.ID)
			assert.Equal(t, sl.ID, req.Slice.ID)
			return fetched, nil
		},
	}
	f := newIngestFixture(t, now, slices, sources, fetcher)

	run, err := f.svc.RunCycle(context.Background(), RunCycleParams{Trigger: model.TriggerManual})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusSuccess, run.Status)
	assert.Equal(t, 3, run.TotalNormalized)
	assert.Equal(t, 3, run.TotalInserted)
	assert.Zero(t, run.TotalFailed)

	require.Len(t, run.Details, 1)
	detail := run.Details[0]
	assert.Equal(t, model.DetailStatusSuccess, detail.Status)
	assert.Equal(t, sl.ID, detail.SliceID)
	assert.Equal(t, 3, detail.Normalized)
	assert.Equal(t, 3, detail.Inserted)

	require.Len(t, f.inserted, 1)
	assert.Len(t, f.inserted[0], 3)

	saved := f.slices.savedStates()
	require.Len(t, saved, 1)
	assert.Nil(t, saved[0].ClaimedAt, "outcome recording must release the claim")
	assert.Equal(t, 3, saved[0].NewJobsLast)
}

func TestRunCycleIsolatesSliceFailures(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	src := testutil.NewSource().WithSlug("acme").Build()
	good := testutil.NewSlice().ForSource(src).Build()
	bad := testutil.NewSlice().ForSource(src).Build()

	slices := &mockSliceRepo{
		claimFn: func(context.Context, data.ClaimEligibleParams) ([]model.SearchSlice, error) {
			return []model.SearchSlice{good, bad}, nil
		},
	}
	sources := &mockSourceRepo{
		listEnabledFn: func(context.Context) ([]*model.JobSource, error) {
			return []*model.JobSource{&src}, nil
		},
	}
	fetcher := &mockFetcher{
		fetchFn: func(_ context.Context, req core.FetchRequest) ([]model.RawPosting, error) {
			if req.Slice.ID == bad.ID {
				return nil, errors.New("upstream returned 503")
			}
			return []model.RawPosting{testutil.NewPosting().Build()}, nil
		},
	}
	f := newIngestFixture(t, now, slices, sources, fetcher)

	run, err := f.svc.RunCycle(context.Background(), RunCycleParams{Trigger: model.TriggerSchedule})
	require.NoError(t, err, "one slice failing must not fail the cycle")

	assert.Equal(t, model.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.TotalInserted)
	assert.Equal(t, 1, run.TotalFailed)
	require.Len(t, run.Details, 2)

	bySlice := make(map[string]model.RunSourceDetail, 2)
	for _, d := range run.Details {
		bySlice[d.SliceID] = d
	}
	require.Equal(t, model.DetailStatusFailed, bySlice[bad.ID].Status)
	require.NotNil(t, bySlice[bad.ID].ErrorSummary)
	assert.Contains(t, *bySlice[bad.ID].ErrorSummary, "503")
	assert.Equal(t, model.DetailStatusSuccess, bySlice[good.ID].Status)

	// Both outcomes recorded: the failure bumps the fail count, the
	// success resets it.
	saved := f.slices.savedStates()
	require.Len(t, saved, 2)
	counts := make(map[string]int, 2)
	for _, s := range saved {
		counts[s.ID] = s.FailCount
	}
	assert.Equal(t, 1, counts[bad.ID])
	assert.Equal(t, 0, counts[good.ID])
}

func TestRunCycleDuplicatesAreCountedNotInserted(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	src := testutil.NewSource().Build()
	sl := testutil.NewSlice().ForSource(src).Build()

	slices := &mockSliceRepo{
		claimFn: func(context.Context, data.ClaimEligibleParams) ([]model.SearchSlice, error) {
			return []model.SearchSlice{sl}, nil
		},
	}
	sources := &mockSourceRepo{
		listEnabledFn: func(context.Context) ([]*model.JobSource, error) {
			return []*model.JobSource{&src}, nil
		},
	}
	// The same posting twice: first sighting accepted, second a duplicate.
	p := testutil.NewPosting().Build()
	fetcher := &mockFetcher{
		fetchFn: func(context.Context, core.FetchRequest) ([]model.RawPosting, error) {
			return []model.RawPosting{p, p}, nil
		},
	}

	clock := testutil.NewTestTimeProvider(now)
	scheduler, err := NewSchedulerService(SchedulerServiceOptions{
		Slices:       slices,
		Sources:      sources,
		Config:       ingestConfig(),
		TimeProvider: clock,
	})
	require.NoError(t, err)

	seen := make(map[string]bool)
	dedup, err := NewDedupService(DedupServiceOptions{
		Records: &mockDedupRepo{
			recordFn: func(_ context.Context, key, _ string) (bool, error) {
				if seen[key] {
					return false, nil
				}
				seen[key] = true
				return true, nil
			},
		},
	})
	require.NoError(t, err)

	runs := newRunRepo(now)
	svc, err := NewIngestService(IngestServiceOptions{
		Scheduler: scheduler,
		Dedup:     dedup,
		Fetcher:   fetcher,
		Runs:      runs,
		Postings: &mockPostingRepo{
			insertBatchFn: func(_ context.Context, batch []data.PostingInsert) (int, error) {
				return len(batch), nil
			},
		},
		Config:       ingestConfig(),
		TimeProvider: clock,
	})
	require.NoError(t, err)

	run, err := svc.RunCycle(context.Background(), RunCycleParams{Trigger: model.TriggerSchedule})
	require.NoError(t, err)

	assert.Equal(t, 2, run.TotalNormalized)
	assert.Equal(t, 1, run.TotalInserted)
	assert.Equal(t, 1, run.TotalDuplicates)

	// The scheduler sees the full fetch size but only new postings count
	// toward productivity.
	saved := slices.savedStates()
	require.Len(t, saved, 1)
	assert.Equal(t, 2, saved[0].ResultCountLast)
	assert.Equal(t, 1, saved[0].NewJobsLast)
}

func TestRunCycleStartFailureReleasesClaims(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	src := testutil.NewSource().WithSlug("acme").Build()
	sl := testutil.NewSlice().ForSource(src).WithFailCount(2).Claimed(now).Build()

	slices := &mockSliceRepo{
		claimFn: func(context.Context, data.ClaimEligibleParams) ([]model.SearchSlice, error) {
			return []model.SearchSlice{sl}, nil
		},
	}
	sources := &mockSourceRepo{
		listEnabledFn: func(context.Context) ([]*model.JobSource, error) {
			return []*model.JobSource{&src}, nil
		},
	}
	f := newIngestFixture(t, now, slices, sources, &mockFetcher{
		fetchFn: func(context.Context, core.FetchRequest) ([]model.RawPosting, error) {
			t.Fatal("nothing should be fetched when the run cannot start")
			return nil, nil
		},
	})
	f.runs.startFn = func(context.Context, model.TriggerKind) (*model.IngestionRun, error) {
		return nil, errors.New("ledger unavailable")
	}

	_, err := f.svc.RunCycle(context.Background(), RunCycleParams{Trigger: model.TriggerSchedule})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start run")

	saved := f.slices.savedStates()
	require.Len(t, saved, 1, "the claim must be returned when the run never opens")
	assert.Nil(t, saved[0].ClaimedAt)
	assert.Equal(t, 2, saved[0].FailCount, "a run that never started is not a slice failure")
	assert.Equal(t, sl.NextAllowedAt, saved[0].NextAllowedAt)
}

func TestRunCycleCancellationDiscardsAttempts(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	src := testutil.NewSource().WithSlug("acme").Build()
	sl := testutil.NewSlice().ForSource(src).Build()

	slices := &mockSliceRepo{
		claimFn: func(context.Context, data.ClaimEligibleParams) ([]model.SearchSlice, error) {
			return []model.SearchSlice{sl}, nil
		},
	}
	sources := &mockSourceRepo{
		listEnabledFn: func(context.Context) ([]*model.JobSource, error) {
			return []*model.JobSource{&src}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &mockFetcher{
		fetchFn: func(fetchCtx context.Context, _ core.FetchRequest) ([]model.RawPosting, error) {
			// Shutdown arrives mid-fetch.
			cancel()
			<-fetchCtx.Done()
			return nil, fetchCtx.Err()
		},
	}
	f := newIngestFixture(t, now, slices, sources, fetcher)

	run, err := f.svc.RunCycle(ctx, RunCycleParams{Trigger: model.TriggerSchedule})
	require.NoError(t, err)

	assert.Empty(t, f.runs.appendedDetails(), "a cancelled attempt must not land a failed detail")
	require.NotNil(t, run.ErrorSummary)
	assert.Contains(t, *run.ErrorSummary, "cycle interrupted")

	saved := f.slices.savedStates()
	require.Len(t, saved, 1)
	assert.Nil(t, saved[0].ClaimedAt, "a cancelled attempt must still return its claim")
	assert.Zero(t, saved[0].FailCount, "shutdown must not count against the slice")
	assert.Equal(t, sl.NextAllowedAt, saved[0].NextAllowedAt)
}

func TestRunCyclePublishFailureIsNonFatal(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	slices := &mockSliceRepo{
		claimFn: func(context.Context, data.ClaimEligibleParams) ([]model.SearchSlice, error) {
			return nil, nil
		},
	}
	f := newIngestFixture(t, now, slices, &mockSourceRepo{}, &mockFetcher{})
	f.pub.err = errors.New("redis down")

	run, err := f.svc.RunCycle(context.Background(), RunCycleParams{Trigger: model.TriggerManual})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, run.Status)
}

package httpx

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jobradar/ingest-api/config"
	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
	"github.com/jobradar/ingest-api/internal/service"
)

const testAdminToken = "test-admin-token"

// Stub repositories for handler tests. Hooks default to an empty-result
// answer so a test only wires the calls it exercises.

type stubSourceRepo struct {
	createFn      func(ctx context.Context, req *model.CreateSourceRequest) (*model.JobSource, error)
	getByIDFn     func(ctx context.Context, id string) (*model.JobSource, error)
	listFn        func(ctx context.Context, limit, offset int) ([]*model.JobSource, error)
	updateFn      func(ctx context.Context, id string, req model.UpdateSourceRequest) (*model.JobSource, error)
	listEnabledFn func(ctx context.Context) ([]*model.JobSource, error)
}

func (s *stubSourceRepo) Create(ctx context.Context, req *model.CreateSourceRequest) (*model.JobSource, error) {
	if s.createFn == nil {
		return nil, data.ErrSourceNotFound
	}
	return s.createFn(ctx, req)
}

func (s *stubSourceRepo) GetByID(ctx context.Context, id string) (*model.JobSource, error) {
	if s.getByIDFn == nil {
		return nil, data.ErrSourceNotFound
	}
	return s.getByIDFn(ctx, id)
}

func (s *stubSourceRepo) GetBySlug(context.Context, string) (*model.JobSource, error) {
	return nil, data.ErrSourceNotFound
}

func (s *stubSourceRepo) List(ctx context.Context, limit, offset int) ([]*model.JobSource, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

func (s *stubSourceRepo) ListEnabled(ctx context.Context) ([]*model.JobSource, error) {
	if s.listEnabledFn == nil {
		return nil, nil
	}
	return s.listEnabledFn(ctx)
}

func (s *stubSourceRepo) Update(ctx context.Context, id string, req model.UpdateSourceRequest) (*model.JobSource, error) {
	if s.updateFn == nil {
		return nil, data.ErrSourceNotFound
	}
	return s.updateFn(ctx, id, req)
}

type stubSliceRepo struct {
	createFn    func(ctx context.Context, req *model.CreateSliceRequest, baseIntervalMinutes int) (*model.SearchSlice, error)
	getByIDFn   func(ctx context.Context, id string) (*model.SearchSlice, error)
	listFn      func(ctx context.Context, opts model.SliceListOptions) ([]*model.SliceView, error)
	claimFn     func(ctx context.Context, p data.ClaimEligibleParams) ([]model.SearchSlice, error)
	setStatusFn func(ctx context.Context, id string, status model.SliceStatus) (*model.SearchSlice, error)
	editFn      func(ctx context.Context, id string, p data.EditParams) (*model.SearchSlice, error)
}

func (s *stubSliceRepo) Create(ctx context.Context, req *model.CreateSliceRequest, baseIntervalMinutes int) (*model.SearchSlice, error) {
	if s.createFn == nil {
		return nil, data.ErrSliceNotFound
	}
	return s.createFn(ctx, req, baseIntervalMinutes)
}

func (s *stubSliceRepo) GetByID(ctx context.Context, id string) (*model.SearchSlice, error) {
	if s.getByIDFn == nil {
		return nil, data.ErrSliceNotFound
	}
	return s.getByIDFn(ctx, id)
}

func (s *stubSliceRepo) List(ctx context.Context, opts model.SliceListOptions) ([]*model.SliceView, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, opts)
}

func (s *stubSliceRepo) ClaimEligible(ctx context.Context, p data.ClaimEligibleParams) ([]model.SearchSlice, error) {
	if s.claimFn == nil {
		return nil, nil
	}
	return s.claimFn(ctx, p)
}

func (s *stubSliceRepo) SaveSchedulingState(context.Context, *model.SearchSlice) error {
	return nil
}

func (s *stubSliceRepo) ReleaseStaleClaims(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (s *stubSliceRepo) SetStatus(ctx context.Context, id string, status model.SliceStatus) (*model.SearchSlice, error) {
	if s.setStatusFn == nil {
		return nil, data.ErrSliceNotFound
	}
	return s.setStatusFn(ctx, id, status)
}

func (s *stubSliceRepo) ResetCooldown(context.Context, string, int) (*model.SearchSlice, error) {
	return nil, data.ErrSliceNotFound
}

func (s *stubSliceRepo) Edit(ctx context.Context, id string, p data.EditParams) (*model.SearchSlice, error) {
	if s.editFn == nil {
		return nil, data.ErrSliceNotFound
	}
	return s.editFn(ctx, id, p)
}

type stubRunRepo struct {
	startFn    func(ctx context.Context, trigger model.TriggerKind) (*model.IngestionRun, error)
	finalizeFn func(ctx context.Context, runID string, errorSummary *string) (*model.RunWithDetails, error)
	getByIDFn  func(ctx context.Context, id string) (*model.RunWithDetails, error)
	listFn     func(ctx context.Context, opts model.RunListOptions) ([]*model.RunWithDetails, error)
}

func (s *stubRunRepo) Start(ctx context.Context, trigger model.TriggerKind) (*model.IngestionRun, error) {
	if s.startFn == nil {
		return &model.IngestionRun{
			ID:          "run-test",
			Status:      model.RunStatusRunning,
			TriggeredBy: trigger,
			StartedAt:   time.Now().UTC(),
		}, nil
	}
	return s.startFn(ctx, trigger)
}

func (s *stubRunRepo) AppendDetail(_ context.Context, d *model.RunSourceDetail) (*model.RunSourceDetail, error) {
	return d, nil
}

func (s *stubRunRepo) Finalize(ctx context.Context, runID string, errorSummary *string) (*model.RunWithDetails, error) {
	if s.finalizeFn == nil {
		return &model.RunWithDetails{
			IngestionRun: model.IngestionRun{
				ID:           runID,
				Status:       model.RunStatusSuccess,
				ErrorSummary: errorSummary,
			},
		}, nil
	}
	return s.finalizeFn(ctx, runID, errorSummary)
}

func (s *stubRunRepo) GetByID(ctx context.Context, id string) (*model.RunWithDetails, error) {
	if s.getByIDFn == nil {
		return nil, data.ErrRunNotFound
	}
	return s.getByIDFn(ctx, id)
}

func (s *stubRunRepo) List(ctx context.Context, opts model.RunListOptions) ([]*model.RunWithDetails, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, opts)
}

func (s *stubRunRepo) FindStale(context.Context, time.Duration) ([]model.IngestionRun, error) {
	return nil, nil
}

func (s *stubRunRepo) PruneFinalized(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

type stubDedupRepo struct {
	statsFn func(ctx context.Context, window time.Duration, sourceID *string) (data.WindowStats, error)
}

func (s *stubDedupRepo) Record(context.Context, string, string) (bool, error) {
	return true, nil
}

func (s *stubDedupRepo) Stats(ctx context.Context, window time.Duration, sourceID *string) (data.WindowStats, error) {
	if s.statsFn == nil {
		return data.WindowStats{}, nil
	}
	return s.statsFn(ctx, window, sourceID)
}

func (s *stubDedupRepo) Prune(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

type stubFetcher struct {
	fetchFn func(ctx context.Context, req core.FetchRequest) ([]model.RawPosting, error)
}

func (s *stubFetcher) Fetch(ctx context.Context, req core.FetchRequest) ([]model.RawPosting, error) {
	if s.fetchFn == nil {
		return nil, nil
	}
	return s.fetchFn(ctx, req)
}

type stubPostingRepo struct{}

func (s *stubPostingRepo) InsertBatch(_ context.Context, postings []data.PostingInsert) (int, error) {
	return len(postings), nil
}

// routerFixture bundles the stub repositories behind a fully wired router.
type routerFixture struct {
	handler http.Handler
	sources *stubSourceRepo
	slices  *stubSliceRepo
	runs    *stubRunRepo
	dedup   *stubDedupRepo
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	f := &routerFixture{
		sources: &stubSourceRepo{},
		slices:  &stubSliceRepo{},
		runs:    &stubRunRepo{},
		dedup:   &stubDedupRepo{},
	}

	cfg := config.IngestionConfig{
		DefaultBaseIntervalMinutes: 60,
		MaxConcurrency:             2,
		FetchTimeout:               5 * time.Second,
		BatchSize:                  10,
	}

	sourceSvc, err := service.NewSourceService(service.SourceServiceOptions{Repo: f.sources, Config: cfg})
	require.NoError(t, err)

	sliceSvc, err := service.NewSliceService(service.SliceServiceOptions{Slices: f.slices, Sources: f.sources})
	require.NoError(t, err)

	runSvc, err := service.NewRunService(service.RunServiceOptions{Runs: f.runs})
	require.NoError(t, err)

	scheduler, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Slices:  f.slices,
		Sources: f.sources,
		Config:  cfg,
	})
	require.NoError(t, err)

	dedupSvc, err := service.NewDedupService(service.DedupServiceOptions{Records: f.dedup})
	require.NoError(t, err)

	ingestSvc, err := service.NewIngestService(service.IngestServiceOptions{
		Scheduler: scheduler,
		Dedup:     dedupSvc,
		Fetcher:   &stubFetcher{},
		Runs:      f.runs,
		Postings:  &stubPostingRepo{},
		Config:    cfg,
	})
	require.NoError(t, err)

	f.handler = NewRouter(RouterServices{
		Sources:    sourceSvc,
		Slices:     sliceSvc,
		Runs:       runSvc,
		Ingest:     ingestSvc,
		Dedup:      dedupSvc,
		AdminToken: testAdminToken,
	})
	return f
}

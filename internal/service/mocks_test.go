package service

import (
	"context"
	"sync"
	"time"

	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
)

// Hand-written stubs for the core ports. Each method delegates to an
// optional hook so tests only implement what they exercise.

type mockSourceRepo struct {
	createFn      func(ctx context.Context, req *model.CreateSourceRequest) (*model.JobSource, error)
	getByIDFn     func(ctx context.Context, id string) (*model.JobSource, error)
	getBySlugFn   func(ctx context.Context, slug string) (*model.JobSource, error)
	listFn        func(ctx context.Context, limit, offset int) ([]*model.JobSource, error)
	listEnabledFn func(ctx context.Context) ([]*model.JobSource, error)
	updateFn      func(ctx context.Context, id string, req model.UpdateSourceRequest) (*model.JobSource, error)
}

var _ core.SourceRepository = (*mockSourceRepo)(nil)

func (m *mockSourceRepo) Create(ctx context.Context, req *model.CreateSourceRequest) (*model.JobSource, error) {
	return m.createFn(ctx, req)
}

func (m *mockSourceRepo) GetByID(ctx context.Context, id string) (*model.JobSource, error) {
	return m.getByIDFn(ctx, id)
}

func (m *mockSourceRepo) GetBySlug(ctx context.Context, slug string) (*model.JobSource, error) {
	return m.getBySlugFn(ctx, slug)
}

func (m *mockSourceRepo) List(ctx context.Context, limit, offset int) ([]*model.JobSource, error) {
	return m.listFn(ctx, limit, offset)
}

func (m *mockSourceRepo) ListEnabled(ctx context.Context) ([]*model.JobSource, error) {
	return m.listEnabledFn(ctx)
}

func (m *mockSourceRepo) Update(ctx context.Context, id string, req model.UpdateSourceRequest) (*model.JobSource, error) {
	return m.updateFn(ctx, id, req)
}

type mockSliceRepo struct {
	mu    sync.Mutex
	saved []model.SearchSlice

	createFn        func(ctx context.Context, req *model.CreateSliceRequest, baseIntervalMinutes int) (*model.SearchSlice, error)
	getByIDFn       func(ctx context.Context, id string) (*model.SearchSlice, error)
	listFn          func(ctx context.Context, opts model.SliceListOptions) ([]*model.SliceView, error)
	claimFn         func(ctx context.Context, p data.ClaimEligibleParams) ([]model.SearchSlice, error)
	saveFn          func(ctx context.Context, sl *model.SearchSlice) error
	releaseStaleFn  func(ctx context.Context, olderThan time.Duration) (int64, error)
	setStatusFn     func(ctx context.Context, id string, status model.SliceStatus) (*model.SearchSlice, error)
	resetCooldownFn func(ctx context.Context, id string, baseIntervalMinutes int) (*model.SearchSlice, error)
	editFn          func(ctx context.Context, id string, p data.EditParams) (*model.SearchSlice, error)
}

var _ core.SliceRepository = (*mockSliceRepo)(nil)

func (m *mockSliceRepo) Create(ctx context.Context, req *model.CreateSliceRequest, baseIntervalMinutes int) (*model.SearchSlice, error) {
	return m.createFn(ctx, req, baseIntervalMinutes)
}

func (m *mockSliceRepo) GetByID(ctx context.Context, id string) (*model.SearchSlice, error) {
	return m.getByIDFn(ctx, id)
}

func (m *mockSliceRepo) List(ctx context.Context, opts model.SliceListOptions) ([]*model.SliceView, error) {
	return m.listFn(ctx, opts)
}

func (m *mockSliceRepo) ClaimEligible(ctx context.Context, p data.ClaimEligibleParams) ([]model.SearchSlice, error) {
	return m.claimFn(ctx, p)
}

// SaveSchedulingState records every saved slice; tests assert on the
// resulting sequence. A custom saveFn may still reject the save.
func (m *mockSliceRepo) SaveSchedulingState(ctx context.Context, sl *model.SearchSlice) error {
	if m.saveFn != nil {
		if err := m.saveFn(ctx, sl); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, *sl)
	return nil
}

func (m *mockSliceRepo) savedStates() []model.SearchSlice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SearchSlice, len(m.saved))
	copy(out, m.saved)
	return out
}

func (m *mockSliceRepo) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	if m.releaseStaleFn == nil {
		return 0, nil
	}
	return m.releaseStaleFn(ctx, olderThan)
}

func (m *mockSliceRepo) SetStatus(ctx context.Context, id string, status model.SliceStatus) (*model.SearchSlice, error) {
	return m.setStatusFn(ctx, id, status)
}

func (m *mockSliceRepo) ResetCooldown(ctx context.Context, id string, baseIntervalMinutes int) (*model.SearchSlice, error) {
	return m.resetCooldownFn(ctx, id, baseIntervalMinutes)
}

func (m *mockSliceRepo) Edit(ctx context.Context, id string, p data.EditParams) (*model.SearchSlice, error) {
	return m.editFn(ctx, id, p)
}

type mockRunRepo struct {
	mu      sync.Mutex
	details []model.RunSourceDetail

	startFn         func(ctx context.Context, trigger model.TriggerKind) (*model.IngestionRun, error)
	finalizeFn      func(ctx context.Context, runID string, errorSummary *string) (*model.RunWithDetails, error)
	getByIDFn       func(ctx context.Context, id string) (*model.RunWithDetails, error)
	listFn          func(ctx context.Context, opts model.RunListOptions) ([]*model.RunWithDetails, error)
	findStaleFn     func(ctx context.Context, olderThan time.Duration) ([]model.IngestionRun, error)
	pruneFinalizeFn func(ctx context.Context, retention time.Duration) (int64, error)
}

var _ core.RunRepository = (*mockRunRepo)(nil)

func (m *mockRunRepo) Start(ctx context.Context, trigger model.TriggerKind) (*model.IngestionRun, error) {
	return m.startFn(ctx, trigger)
}

func (m *mockRunRepo) AppendDetail(_ context.Context, d *model.RunSourceDetail) (*model.RunSourceDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details = append(m.details, *d)
	return d, nil
}

func (m *mockRunRepo) appendedDetails() []model.RunSourceDetail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RunSourceDetail, len(m.details))
	copy(out, m.details)
	return out
}

func (m *mockRunRepo) Finalize(ctx context.Context, runID string, errorSummary *string) (*model.RunWithDetails, error) {
	return m.finalizeFn(ctx, runID, errorSummary)
}

func (m *mockRunRepo) GetByID(ctx context.Context, id string) (*model.RunWithDetails, error) {
	return m.getByIDFn(ctx, id)
}

func (m *mockRunRepo) List(ctx context.Context, opts model.RunListOptions) ([]*model.RunWithDetails, error) {
	return m.listFn(ctx, opts)
}

func (m *mockRunRepo) FindStale(ctx context.Context, olderThan time.Duration) ([]model.IngestionRun, error) {
	if m.findStaleFn == nil {
		return nil, nil
	}
	return m.findStaleFn(ctx, olderThan)
}

func (m *mockRunRepo) PruneFinalized(ctx context.Context, retention time.Duration) (int64, error) {
	if m.pruneFinalizeFn == nil {
		return 0, nil
	}
	return m.pruneFinalizeFn(ctx, retention)
}

type mockDedupRepo struct {
	recordFn func(ctx context.Context, key, sourceID string) (bool, error)
	statsFn  func(ctx context.Context, window time.Duration, sourceID *string) (data.WindowStats, error)
	pruneFn  func(ctx context.Context, retention time.Duration) (int64, error)
}

var _ core.DedupRepository = (*mockDedupRepo)(nil)

func (m *mockDedupRepo) Record(ctx context.Context, key, sourceID string) (bool, error) {
	return m.recordFn(ctx, key, sourceID)
}

func (m *mockDedupRepo) Stats(ctx context.Context, window time.Duration, sourceID *string) (data.WindowStats, error) {
	return m.statsFn(ctx, window, sourceID)
}

func (m *mockDedupRepo) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if m.pruneFn == nil {
		return 0, nil
	}
	return m.pruneFn(ctx, retention)
}

type mockPostingRepo struct {
	insertBatchFn func(ctx context.Context, postings []data.PostingInsert) (int, error)
}

var _ core.PostingRepository = (*mockPostingRepo)(nil)

func (m *mockPostingRepo) InsertBatch(ctx context.Context, postings []data.PostingInsert) (int, error) {
	return m.insertBatchFn(ctx, postings)
}

type mockSeenCache struct {
	markSeenFn func(ctx context.Context, key string) (bool, error)
}

var _ core.SeenCache = (*mockSeenCache)(nil)

func (m *mockSeenCache) MarkSeen(ctx context.Context, key string) (bool, error) {
	return m.markSeenFn(ctx, key)
}

type mockFetcher struct {
	fetchFn func(ctx context.Context, req core.FetchRequest) ([]model.RawPosting, error)
}

var _ core.SliceFetcher = (*mockFetcher)(nil)

func (m *mockFetcher) Fetch(ctx context.Context, req core.FetchRequest) ([]model.RawPosting, error) {
	return m.fetchFn(ctx, req)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []core.RunEvent
	err    error
}

var _ core.RunEventPublisher = (*mockPublisher)(nil)

func (m *mockPublisher) PublishRunEvent(_ context.Context, event core.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) published() []core.RunEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.RunEvent, len(m.events))
	copy(out, m.events)
	return out
}

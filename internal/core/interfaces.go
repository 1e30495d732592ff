package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/model"
)

// This file contains repository and adapter interface definitions (ports in
// hexagonal architecture). These interfaces define the contracts between the
// service layer and the data/adapter layers. Service implementations should
// depend on these interfaces, not concrete implementations.

// SourceRepository defines the interface for job source data operations.
type SourceRepository interface {
	Create(ctx context.Context, req *model.CreateSourceRequest) (*model.JobSource, error)
	GetByID(ctx context.Context, id string) (*model.JobSource, error)
	GetBySlug(ctx context.Context, slug string) (*model.JobSource, error)
	List(ctx context.Context, limit, offset int) ([]*model.JobSource, error)
	ListEnabled(ctx context.Context) ([]*model.JobSource, error)
	Update(ctx context.Context, id string, req model.UpdateSourceRequest) (*model.JobSource, error)
}

// SliceRepository defines the interface for search slice data operations.
type SliceRepository interface {
	Create(ctx context.Context, req *model.CreateSliceRequest, baseIntervalMinutes int) (*model.SearchSlice, error)
	GetByID(ctx context.Context, id string) (*model.SearchSlice, error)
	List(ctx context.Context, opts model.SliceListOptions) ([]*model.SliceView, error)

	// ClaimEligible selects due slices and marks them in flight, atomically.
	ClaimEligible(ctx context.Context, p data.ClaimEligibleParams) ([]model.SearchSlice, error)
	// SaveSchedulingState persists post-outcome scheduling state and releases the claim.
	SaveSchedulingState(ctx context.Context, sl *model.SearchSlice) error
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error)

	SetStatus(ctx context.Context, id string, status model.SliceStatus) (*model.SearchSlice, error)
	ResetCooldown(ctx context.Context, id string, baseIntervalMinutes int) (*model.SearchSlice, error)
	Edit(ctx context.Context, id string, p data.EditParams) (*model.SearchSlice, error)
}

// RunRepository defines the interface for the run ledger.
type RunRepository interface {
	Start(ctx context.Context, trigger model.TriggerKind) (*model.IngestionRun, error)
	AppendDetail(ctx context.Context, d *model.RunSourceDetail) (*model.RunSourceDetail, error)
	// Finalize recomputes aggregates from detail rows and stamps the terminal status.
	Finalize(ctx context.Context, runID string, errorSummary *string) (*model.RunWithDetails, error)
	GetByID(ctx context.Context, id string) (*model.RunWithDetails, error)
	List(ctx context.Context, opts model.RunListOptions) ([]*model.RunWithDetails, error)
	FindStale(ctx context.Context, olderThan time.Duration) ([]model.IngestionRun, error)
	PruneFinalized(ctx context.Context, retention time.Duration) (int64, error)
}

// DedupRepository defines the interface for the durable seen-set.
type DedupRepository interface {
	// Record returns true when the key is a first sighting.
	Record(ctx context.Context, key, sourceID string) (bool, error)
	Stats(ctx context.Context, window time.Duration, sourceID *string) (data.WindowStats, error)
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// PostingRepository defines the interface for accepted posting storage.
type PostingRepository interface {
	InsertBatch(ctx context.Context, postings []data.PostingInsert) (int, error)
}

// SeenCache is the fast-path seen-set. Implementations may lose keys (TTL
// expiry, restart); callers must treat a miss as "unknown", not "new".
type SeenCache interface {
	MarkSeen(ctx context.Context, key string) (bool, error)
}

// FetchRequest describes one slice fetch handed to an adapter.
type FetchRequest struct {
	Source model.JobSource
	Slice  model.SearchSlice
	Params json.RawMessage
}

// SliceFetcher retrieves and normalizes postings for one slice. Adapters own
// transport, auth, and normalization; the ingestion core only sees normalized
// postings or an error.
type SliceFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]model.RawPosting, error)
}

// RunEvent is published when a run starts or finalizes.
type RunEvent struct {
	RunID      string          `json:"run_id"`
	Status     model.RunStatus `json:"status"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// RunEventPublisher pushes run lifecycle events to subscribed clients.
// Publishing is best-effort: a publish failure never fails the run.
type RunEventPublisher interface {
	PublishRunEvent(ctx context.Context, event RunEvent) error
}

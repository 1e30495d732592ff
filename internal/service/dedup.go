package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/data"
	"github.com/jobradar/ingest-api/internal/domain/dedup"
	"github.com/jobradar/ingest-api/internal/domain/model"
)

// DedupServiceOptions groups dependencies for DedupService.
type DedupServiceOptions struct {
	Records   core.DedupRepository // Required: durable seen-set
	SeenCache core.SeenCache       // Optional: fast-path cache in front of Records
	Logger    *slog.Logger         // Optional: structured logger
}

// DedupService classifies normalized postings as new or duplicate.
//
// Classification is two-tier: a cache hit short-circuits as a duplicate
// without touching the database; on a cache miss the durable record upsert
// decides. The database is always authoritative for first-sighting, so a
// cold or flushed cache only costs extra lookups, never double-accepts.
type DedupService struct {
	records   core.DedupRepository
	seenCache core.SeenCache
	logger    *slog.Logger
}

// NewDedupService constructs a new DedupService.
func NewDedupService(opts DedupServiceOptions) (*DedupService, error) {
	if opts.Records == nil {
		return nil, errors.New("DedupRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "dedup_service")
	}

	return &DedupService{
		records:   opts.Records,
		seenCache: opts.SeenCache,
		logger:    logger,
	}, nil
}

// ClassifyResult summarizes one batch classification.
type ClassifyResult struct {
	// Accepted holds first-sighting postings ready for insertion.
	Accepted []data.PostingInsert
	// Duplicates counts postings already seen.
	Duplicates int
	// Skipped counts postings with no usable identity.
	Skipped int
}

// Classify partitions a fetched batch into new and duplicate postings.
// Postings with no external id and no URL cannot be keyed and are skipped
// (counted, logged, never stored). A batch can contain the same posting
// twice; the second occurrence classifies as a duplicate.
func (s *DedupService) Classify(
	ctx context.Context,
	sourceID, sliceID string,
	postings []model.RawPosting,
) (*ClassifyResult, error) {
	result := &ClassifyResult{}

	for i := range postings {
		p := &postings[i]
		key, err := dedup.Key(sourceID, p)
		if err != nil {
			if errors.Is(err, dedup.ErrNoIdentity) {
				result.Skipped++
				if s.logger != nil {
					s.logger.WarnContext(ctx, "posting has no usable identity, skipping",
						"source_id", sourceID, "slice_id", sliceID, "title", p.Title)
				}
				continue
			}
			return nil, fmt.Errorf("build dedup key: %w", err)
		}

		isNew, err := s.record(ctx, key, sourceID)
		if err != nil {
			return nil, err
		}
		if !isNew {
			result.Duplicates++
			continue
		}
		result.Accepted = append(result.Accepted, data.PostingInsert{
			SourceID: sourceID,
			SliceID:  sliceID,
			DedupKey: key,
			Posting:  *p,
		})
	}

	return result, nil
}

// record runs the two-tier first-sighting check for one key.
func (s *DedupService) record(ctx context.Context, key, sourceID string) (bool, error) {
	if s.seenCache != nil {
		unseen, err := s.seenCache.MarkSeen(ctx, key)
		if err != nil {
			// Cache trouble degrades to database-only classification.
			if s.logger != nil {
				s.logger.WarnContext(ctx, "seen cache unavailable, falling back to database",
					"error", err)
			}
		} else if !unseen {
			return false, nil
		}
	}

	isNew, err := s.records.Record(ctx, key, sourceID)
	if err != nil {
		return false, fmt.Errorf("record dedup key: %w", err)
	}
	return isNew, nil
}

// DuplicateRateReport is the reporting view over a sighting window.
type DuplicateRateReport struct {
	WindowHours   int     `json:"window_hours"`
	TotalSeen     int64   `json:"total_seen"`
	NewKeys       int64   `json:"new_keys"`
	DuplicateRate float64 `json:"duplicate_rate"`
}

// DuplicateRate computes the share of repeat sightings within the window,
// optionally restricted to one source. Reporting only; it feeds no
// scheduling decision.
func (s *DedupService) DuplicateRate(
	ctx context.Context,
	window time.Duration,
	sourceID *string,
) (*DuplicateRateReport, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	stats, err := s.records.Stats(ctx, window, sourceID)
	if err != nil {
		return nil, fmt.Errorf("duplicate rate: %w", err)
	}
	return &DuplicateRateReport{
		WindowHours:   int(window.Hours()),
		TotalSeen:     stats.TotalSeen,
		NewKeys:       stats.NewKeys,
		DuplicateRate: stats.DuplicateRate(),
	}, nil
}

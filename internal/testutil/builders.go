package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jobradar/ingest-api/internal/domain/model"
)

// SourceBuilder provides a fluent interface for building JobSource fixtures.
type SourceBuilder struct {
	src model.JobSource
}

// NewSource creates a SourceBuilder with sensible defaults.
func NewSource() *SourceBuilder {
	now := time.Now().UTC()
	return &SourceBuilder{
		src: model.JobSource{
			ID:                  uuid.NewString(),
			Slug:                "src-" + uuid.NewString()[:8],
			Name:                "Test Source",
			Enabled:             true,
			FetchMode:           model.FetchModeAPI,
			AuthMode:            model.AuthModeNone,
			BaseIntervalMinutes: 30,
			CreatedAt:           now,
			UpdatedAt:           now,
		},
	}
}

// WithSlug sets the source slug.
func (b *SourceBuilder) WithSlug(slug string) *SourceBuilder {
	b.src.Slug = slug
	return b
}

// WithFetchMode sets the fetch mode.
func (b *SourceBuilder) WithFetchMode(m model.FetchMode) *SourceBuilder {
	b.src.FetchMode = m
	return b
}

// WithAuthMode sets the auth mode.
func (b *SourceBuilder) WithAuthMode(m model.AuthMode) *SourceBuilder {
	b.src.AuthMode = m
	return b
}

// WithBaseInterval sets the base polling interval in minutes.
func (b *SourceBuilder) WithBaseInterval(minutes int) *SourceBuilder {
	b.src.BaseIntervalMinutes = minutes
	return b
}

// Disabled marks the source disabled.
func (b *SourceBuilder) Disabled() *SourceBuilder {
	b.src.Enabled = false
	return b
}

// Build returns the constructed JobSource.
func (b *SourceBuilder) Build() model.JobSource {
	return b.src
}

// SliceBuilder provides a fluent interface for building SearchSlice fixtures.
type SliceBuilder struct {
	sl model.SearchSlice
}

// NewSlice creates a SliceBuilder with sensible defaults: active,
// immediately eligible, at a 30-minute interval.
func NewSlice() *SliceBuilder {
	now := time.Now().UTC()
	return &SliceBuilder{
		sl: model.SearchSlice{
			ID:                 uuid.NewString(),
			SourceID:           uuid.NewString(),
			Params:             json.RawMessage(`{"endpoint":"https://example.test/jobs","query":{"q":"golang"}}`),
			Status:             model.SliceStatusActive,
			NextAllowedAt:      now.Add(-time.Minute),
			MinIntervalMinutes: 30,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
	}
}

// ForSource attaches the slice to the given source.
func (b *SliceBuilder) ForSource(src model.JobSource) *SliceBuilder {
	b.sl.SourceID = src.ID
	return b
}

// WithParams sets the query parameters.
func (b *SliceBuilder) WithParams(params string) *SliceBuilder {
	b.sl.Params = json.RawMessage(params)
	return b
}

// WithStatus sets the scheduling status.
func (b *SliceBuilder) WithStatus(status model.SliceStatus) *SliceBuilder {
	b.sl.Status = status
	return b
}

// WithInterval sets the current adaptive interval in minutes.
func (b *SliceBuilder) WithInterval(minutes int) *SliceBuilder {
	b.sl.MinIntervalMinutes = minutes
	return b
}

// WithNextAllowedAt sets when the slice next becomes eligible.
func (b *SliceBuilder) WithNextAllowedAt(at time.Time) *SliceBuilder {
	b.sl.NextAllowedAt = at
	return b
}

// WithEmptyRuns sets the consecutive empty run counter.
func (b *SliceBuilder) WithEmptyRuns(n int) *SliceBuilder {
	b.sl.ConsecutiveEmptyRuns = n
	return b
}

// WithFailCount sets the consecutive failure counter.
func (b *SliceBuilder) WithFailCount(n int) *SliceBuilder {
	b.sl.FailCount = n
	return b
}

// Claimed marks the slice as claimed at the given time.
func (b *SliceBuilder) Claimed(at time.Time) *SliceBuilder {
	b.sl.ClaimedAt = &at
	return b
}

// Build returns the constructed SearchSlice.
func (b *SliceBuilder) Build() model.SearchSlice {
	return b.sl
}

// PostingBuilder provides a fluent interface for building RawPosting fixtures.
type PostingBuilder struct {
	p model.RawPosting
}

// NewPosting creates a PostingBuilder with an external id and URL.
func NewPosting() *PostingBuilder {
	n := uuid.NewString()[:8]
	return &PostingBuilder{
		p: model.RawPosting{
			ExternalID: "ext-" + n,
			URL:        fmt.Sprintf("https://example.test/jobs/%s", n),
			Title:      "Backend Engineer",
			Company:    "Example Corp",
			Location:   "Remote",
		},
	}
}

// WithExternalID sets the external id; empty forces URL-based identity.
func (b *PostingBuilder) WithExternalID(id string) *PostingBuilder {
	b.p.ExternalID = id
	return b
}

// WithURL sets the posting URL.
func (b *PostingBuilder) WithURL(url string) *PostingBuilder {
	b.p.URL = url
	return b
}

// WithTitle sets the posting title.
func (b *PostingBuilder) WithTitle(title string) *PostingBuilder {
	b.p.Title = title
	return b
}

// Anonymous removes both identity fields.
func (b *PostingBuilder) Anonymous() *PostingBuilder {
	b.p.ExternalID = ""
	b.p.URL = ""
	return b
}

// Build returns the constructed RawPosting.
func (b *PostingBuilder) Build() model.RawPosting {
	return b.p
}

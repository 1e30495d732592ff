package model

import (
	"encoding/json"
	"strings"
	"time"
)

// RawPosting is one normalized posting handed to the deduplicator by a fetch
// adapter. Normalization itself happens upstream; the ingestion core treats
// the payload as opaque beyond the identity fields.
type RawPosting struct {
	// ExternalID is the source's stable posting id, empty when the source
	// does not provide one.
	ExternalID string `json:"external_id,omitempty"`
	// URL is the canonical posting URL. Required when ExternalID is empty.
	URL      string          `json:"url"`
	Title    string          `json:"title"`
	Company  string          `json:"company,omitempty"`
	Location string          `json:"location,omitempty"`
	PostedAt *time.Time      `json:"posted_at,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Identifiable reports whether the posting carries enough identity to build
// a dedup key.
func (p *RawPosting) Identifiable() bool {
	return strings.TrimSpace(p.ExternalID) != "" || strings.TrimSpace(p.URL) != ""
}

// StoredPosting is a persisted, accepted posting row.
type StoredPosting struct {
	ID         string          `json:"id"          db:"id"`
	SourceID   string          `json:"source_id"   db:"source_id"`
	SliceID    string          `json:"slice_id"    db:"slice_id"`
	DedupKey   string          `json:"dedup_key"   db:"dedup_key"`
	ExternalID *string         `json:"external_id" db:"external_id"`
	URL        string          `json:"url"         db:"url"`
	Title      string          `json:"title"       db:"title"`
	Company    *string         `json:"company"     db:"company"`
	Location   *string         `json:"location"    db:"location"`
	PostedAt   *time.Time      `json:"posted_at"   db:"posted_at"`
	Payload    json.RawMessage `json:"payload"     db:"payload"`
	CreatedAt  time.Time       `json:"created_at"  db:"created_at"`
}

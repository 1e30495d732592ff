// Package model defines the core data types used throughout the jobradar ingestion system.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FetchMode represents how a job source is fetched.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type FetchMode string

// AuthMode represents how a job source authenticates outbound fetches.
type AuthMode string

const (
	// FetchModeAPI fetches postings from a JSON API endpoint.
	FetchModeAPI FetchMode = "api"
	// FetchModeRSS fetches postings from an RSS/Atom feed.
	FetchModeRSS FetchMode = "rss"

	// AuthModeNone performs unauthenticated fetches.
	AuthModeNone AuthMode = "none"
	// AuthModeSingleKey sends a single API key.
	AuthModeSingleKey AuthMode = "single_key"
	// AuthModePublicSecret sends an app id / app secret pair.
	AuthModePublicSecret AuthMode = "public_secret"
)

// UnmarshalText implements encoding.TextUnmarshaler for FetchMode to allow env parsing.
func (m *FetchMode) UnmarshalText(text []byte) error {
	v := FetchMode(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*m = v
		return nil
	}
	return fmt.Errorf("invalid FetchMode: %q", string(text))
}

// Valid returns true if the FetchMode is valid.
func (m FetchMode) Valid() bool {
	return m == FetchModeAPI || m == FetchModeRSS
}

// Valid returns true if the AuthMode is valid.
func (m AuthMode) Valid() bool {
	return m == AuthModeNone || m == AuthModeSingleKey || m == AuthModePublicSecret
}

// JobSource is the configuration record for one external posting provider.
// Sources are created by admin configuration and never deleted while slices
// reference them; availability is controlled through the Enabled flag.
type JobSource struct {
	ID                  string    `json:"id"                    db:"id"`
	Slug                string    `json:"slug"                  db:"slug"`
	Name                string    `json:"name"                  db:"name"`
	Enabled             bool      `json:"enabled"               db:"enabled"`
	FetchMode           FetchMode `json:"fetch_mode"            db:"fetch_mode"`
	AuthMode            AuthMode  `json:"auth_mode"             db:"auth_mode"`
	BaseIntervalMinutes int       `json:"base_interval_minutes" db:"base_interval_minutes"`
	CreatedAt           time.Time `json:"created_at"            db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"            db:"updated_at"`
}

// BaseInterval returns the configured base polling interval as a duration.
func (s *JobSource) BaseInterval() time.Duration {
	return time.Duration(s.BaseIntervalMinutes) * time.Minute
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// CreateSourceRequest represents a request to register a new job source.
type CreateSourceRequest struct {
	Slug                string    `json:"slug"`
	Name                string    `json:"name"`
	Enabled             *bool     `json:"enabled,omitempty"`
	FetchMode           FetchMode `json:"fetch_mode"`
	AuthMode            AuthMode  `json:"auth_mode"`
	BaseIntervalMinutes int       `json:"base_interval_minutes,omitempty"`
}

// Validate validates the CreateSourceRequest fields.
func (r *CreateSourceRequest) Validate() error {
	if !slugPattern.MatchString(r.Slug) {
		return errors.New("slug must be lowercase alphanumeric with dashes or underscores")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if !r.FetchMode.Valid() {
		return fmt.Errorf("invalid fetch mode: %q", r.FetchMode)
	}
	if !r.AuthMode.Valid() {
		return fmt.Errorf("invalid auth mode: %q", r.AuthMode)
	}
	if r.BaseIntervalMinutes < 0 {
		return errors.New("base interval minutes must be >= 0")
	}
	return nil
}

// UpdateSourceRequest represents a partial update to a job source.
// Only enable/disable and base-interval changes are supported; identity
// fields are immutable once slices reference the source.
type UpdateSourceRequest struct {
	Enabled             *bool `json:"enabled,omitempty"`
	BaseIntervalMinutes *int  `json:"base_interval_minutes,omitempty"`
}

// Validate validates the UpdateSourceRequest fields.
func (r *UpdateSourceRequest) Validate() error {
	if r.BaseIntervalMinutes != nil && *r.BaseIntervalMinutes <= 0 {
		return errors.New("base interval minutes must be > 0")
	}
	return nil
}

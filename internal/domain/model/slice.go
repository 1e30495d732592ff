package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SliceStatus represents the scheduling status of a search slice.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type SliceStatus string

const (
	// SliceStatusActive indicates the slice participates in automatic scheduling.
	SliceStatusActive SliceStatus = "active"
	// SliceStatusPaused indicates the slice is excluded from scheduling until resumed.
	SliceStatusPaused SliceStatus = "paused"
	// SliceStatusBad indicates the slice crossed the failure threshold and
	// requires an explicit admin resume before it is scheduled again.
	SliceStatusBad SliceStatus = "bad"
)

// UnmarshalText implements encoding.TextUnmarshaler for SliceStatus.
func (s *SliceStatus) UnmarshalText(text []byte) error {
	v := SliceStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*s = v
		return nil
	}
	return fmt.Errorf("invalid SliceStatus: %q", string(text))
}

// Valid returns true if the SliceStatus is valid.
func (s SliceStatus) Valid() bool {
	return s == SliceStatusActive || s == SliceStatusPaused || s == SliceStatusBad
}

// SearchSlice is one (source, query parameters) pair tracked independently
// for scheduling. Params is opaque to the scheduler beyond serving as a
// cache key; all scheduling decisions read the counters below.
type SearchSlice struct {
	ID                  string          `json:"id"                        db:"id"`
	SourceID            string          `json:"source_id"                 db:"source_id"`
	Params              json.RawMessage `json:"params"                    db:"params"`
	Status              SliceStatus     `json:"status"                    db:"status"`
	LastSuccessAt       *time.Time      `json:"last_success_at,omitempty" db:"last_success_at"`
	NextAllowedAt       time.Time       `json:"next_allowed_at"           db:"next_allowed_at"`
	MinIntervalMinutes  int             `json:"min_interval_minutes"      db:"min_interval_minutes"`
	ResultCountLast     int             `json:"result_count_last"         db:"result_count_last"`
	NewJobsLast         int             `json:"new_jobs_last"             db:"new_jobs_last"`
	ConsecutiveEmptyRuns int            `json:"consecutive_empty_runs"    db:"consecutive_empty_runs"`
	FailCount           int             `json:"fail_count"                db:"fail_count"`
	ClaimedAt           *time.Time      `json:"-"                         db:"claimed_at"`
	CreatedAt           time.Time       `json:"created_at"                db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"                db:"updated_at"`
}

// Interval returns the slice's current adaptive cooldown as a duration.
func (s *SearchSlice) Interval() time.Duration {
	return time.Duration(s.MinIntervalMinutes) * time.Minute
}

// IsCooling reports whether the slice's interval has been widened past the
// source base and it has at least one recent empty run. Derived at read time
// from the authoritative counters, never persisted.
func (s *SearchSlice) IsCooling(baseIntervalMinutes int) bool {
	return s.MinIntervalMinutes > baseIntervalMinutes && s.ConsecutiveEmptyRuns > 0
}

// IsProductive reports whether the most recent run yielded new postings.
func (s *SearchSlice) IsProductive() bool {
	return s.NewJobsLast > 0
}

// SliceView is a SearchSlice plus its read-time projections, as returned by
// the admin list endpoints.
type SliceView struct {
	SearchSlice
	SourceSlug   string `json:"source_slug"`
	IsCooling    bool   `json:"is_cooling"`
	IsProductive bool   `json:"is_productive"`
}

// CreateSliceRequest represents a request to define a new source/query combination.
type CreateSliceRequest struct {
	SourceID string          `json:"source_id"`
	Params   json.RawMessage `json:"params"`
}

// Validate validates the CreateSliceRequest fields.
func (r *CreateSliceRequest) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return errors.New("source_id is required")
	}
	if len(r.Params) == 0 {
		return errors.New("params is required")
	}
	if !json.Valid(r.Params) {
		return errors.New("params must be valid JSON")
	}
	return nil
}

// SliceListOptions carries filters for listing slices.
type SliceListOptions struct {
	SourceID *string
	Status   *SliceStatus
	Limit    int
	Offset   int
}

// AdminSliceAction names one manual override applied through the admin surface.
type AdminSliceAction string

const (
	// SliceActionPause pauses a slice.
	SliceActionPause AdminSliceAction = "pause"
	// SliceActionResume resumes a paused or bad slice.
	SliceActionResume AdminSliceAction = "resume"
	// SliceActionResetCooldown makes the slice immediately eligible and
	// restores the source base interval. Failure history is preserved.
	SliceActionResetCooldown AdminSliceAction = "reset_cooldown"
	// SliceActionEdit updates params and/or the current interval.
	SliceActionEdit AdminSliceAction = "edit"
)

// Valid returns true if the AdminSliceAction is valid.
func (a AdminSliceAction) Valid() bool {
	switch a {
	case SliceActionPause, SliceActionResume, SliceActionResetCooldown, SliceActionEdit:
		return true
	}
	return false
}

// AdminSliceRequest represents one manual override to a slice.
type AdminSliceRequest struct {
	Action             AdminSliceAction `json:"action"`
	Params             json.RawMessage  `json:"params,omitempty"`
	MinIntervalMinutes *int             `json:"min_interval_minutes,omitempty"`
}

// Validate validates the AdminSliceRequest fields.
func (r *AdminSliceRequest) Validate() error {
	if !r.Action.Valid() {
		return fmt.Errorf("invalid action: %q", r.Action)
	}
	if r.Action == SliceActionEdit {
		if len(r.Params) == 0 && r.MinIntervalMinutes == nil {
			return errors.New("edit requires params or min_interval_minutes")
		}
		if len(r.Params) > 0 && !json.Valid(r.Params) {
			return errors.New("params must be valid JSON")
		}
		if r.MinIntervalMinutes != nil && *r.MinIntervalMinutes <= 0 {
			return errors.New("min_interval_minutes must be > 0")
		}
	}
	return nil
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// RunStatus represents the aggregate status of an ingestion run.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type RunStatus string

// TriggerKind represents what started an ingestion run.
type TriggerKind string

const (
	// RunStatusRunning indicates the run has started and not yet finalized.
	RunStatusRunning RunStatus = "running"
	// RunStatusSuccess indicates every attempted slice succeeded.
	RunStatusSuccess RunStatus = "success"
	// RunStatusPartial indicates a mix of successes and failures.
	RunStatusPartial RunStatus = "partial"
	// RunStatusFailed indicates every attempted slice failed, or the run
	// could not start at all.
	RunStatusFailed RunStatus = "failed"

	// TriggerSchedule marks runs started by the cron loop.
	TriggerSchedule TriggerKind = "schedule"
	// TriggerManual marks runs started by a one-off API call.
	TriggerManual TriggerKind = "manual"
	// TriggerAdmin marks runs started from the admin surface.
	TriggerAdmin TriggerKind = "admin"
)

// UnmarshalText implements encoding.TextUnmarshaler for RunStatus.
func (s *RunStatus) UnmarshalText(text []byte) error {
	v := RunStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*s = v
		return nil
	}
	return fmt.Errorf("invalid RunStatus: %q", string(text))
}

// Valid returns true if the RunStatus is valid.
func (s RunStatus) Valid() bool {
	return s == RunStatusRunning || s == RunStatusSuccess || s == RunStatusPartial || s == RunStatusFailed
}

// Terminal returns true if the status is terminal; terminal runs are immutable.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusPartial || s == RunStatusFailed
}

// Valid returns true if the TriggerKind is valid.
func (t TriggerKind) Valid() bool {
	return t == TriggerSchedule || t == TriggerManual || t == TriggerAdmin
}

// IngestionRun is one execution cycle across a set of eligible slices.
type IngestionRun struct {
	ID              string      `json:"id"                      db:"id"`
	Status          RunStatus   `json:"status"                  db:"status"`
	TriggeredBy     TriggerKind `json:"triggered_by"            db:"triggered_by"`
	TotalNormalized int         `json:"total_normalized"        db:"total_normalized"`
	TotalInserted   int         `json:"total_inserted"          db:"total_inserted"`
	TotalDuplicates int         `json:"total_duplicates"        db:"total_duplicates"`
	TotalFailed     int         `json:"total_failed"            db:"total_failed"`
	ErrorSummary    *string     `json:"error_summary,omitempty" db:"error_summary"`
	StartedAt       time.Time   `json:"started_at"              db:"started_at"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"   db:"finished_at"`
}

// Stuck reports whether a running run has gone longer than the given budget
// without finalizing. Clients render this state; it is never persisted as a
// distinct status.
func (r *IngestionRun) Stuck(now time.Time, budget time.Duration) bool {
	return r.Status == RunStatusRunning && now.Sub(r.StartedAt) > budget
}

// DetailStatus represents the outcome of one slice attempt within a run.
type DetailStatus string

const (
	// DetailStatusSuccess marks a slice attempt that fetched and classified postings.
	DetailStatusSuccess DetailStatus = "success"
	// DetailStatusFailed marks a slice attempt that errored or timed out.
	DetailStatusFailed DetailStatus = "failed"
)

// RunSourceDetail is the per-slice line item within a run. Append-only.
type RunSourceDetail struct {
	ID           string       `json:"id"                      db:"id"`
	RunID        string       `json:"run_id"                  db:"run_id"`
	SourceID     string       `json:"source_id"               db:"source_id"`
	SliceID      string       `json:"slice_id"                db:"slice_id"`
	Status       DetailStatus `json:"status"                  db:"status"`
	Normalized   int          `json:"normalized"              db:"normalized"`
	Inserted     int          `json:"inserted"                db:"inserted"`
	Duplicates   int          `json:"duplicates"              db:"duplicates"`
	ErrorSummary *string      `json:"error_summary,omitempty" db:"error_summary"`
	StartedAt    time.Time    `json:"started_at"              db:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"             db:"finished_at"`
}

// RunWithDetails nests per-source detail rows for list expansion.
type RunWithDetails struct {
	IngestionRun
	Details []RunSourceDetail `json:"details"`
}

// DeriveRunStatus computes the terminal run status from per-slice outcomes.
// All failed -> failed; all succeeded (including zero attempts) -> success;
// otherwise partial.
func DeriveRunStatus(details []RunSourceDetail) RunStatus {
	if len(details) == 0 {
		return RunStatusSuccess
	}
	failed := 0
	for _, d := range details {
		if d.Status == DetailStatusFailed {
			failed++
		}
	}
	switch failed {
	case 0:
		return RunStatusSuccess
	case len(details):
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

// RunListOptions carries filters for listing runs.
type RunListOptions struct {
	Status *RunStatus
	// Since restricts results to runs started at or after the cursor.
	// Used by polling clients to fetch updates incrementally.
	Since  *time.Time
	Limit  int
	Offset int
}

// Package notify fans out operator-facing alerts for slices that the
// scheduler has taken out of rotation.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// SliceDisabledPayload captures the canonical data emitted when a slice
// crosses the consecutive-failure threshold and is marked bad.
type SliceDisabledPayload struct {
	SliceID    string
	SourceID   string
	SourceSlug string
	FailCount  int
	LastError  string
	OccurredAt time.Time
}

// Sink describes a destination capable of consuming slice-disabled alerts.
type Sink interface {
	SendSliceDisabled(ctx context.Context, payload SliceDisabledPayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload SliceDisabledPayload) error

// SendSliceDisabled implements the Sink interface.
func (f SinkFunc) SendSliceDisabled(ctx context.Context, payload SliceDisabledPayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}

// LogSink writes alerts to the structured log. It is the default sink when
// no external destination is configured.
type LogSink struct {
	Logger *slog.Logger
}

// SendSliceDisabled implements the Sink interface.
func (s *LogSink) SendSliceDisabled(ctx context.Context, payload SliceDisabledPayload) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "slice disabled after repeated failures",
		"slice_id", payload.SliceID,
		"source_id", payload.SourceID,
		"source_slug", payload.SourceSlug,
		"fail_count", payload.FailCount,
		"last_error", payload.LastError,
		"occurred_at", payload.OccurredAt)
	return nil
}

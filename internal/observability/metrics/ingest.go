// Package metrics emits standardised ingestion metrics to a StatsD sink.
package metrics

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/jobradar/ingest-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultEmpty   = "empty"
	ResultError   = "error"
)

// CycleMetric captures the outcome of one ingestion cycle.
type CycleMetric struct {
	Trigger  string
	Status   string
	Slices   int
	Inserted int
	Duration time.Duration
}

// EmitCycle emits cycle-level counters and timing.
func EmitCycle(sink statsd.Sink, in CycleMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"trigger": in.Trigger,
		"status":  in.Status,
	}

	sink.Count("cycle.completed", 1, tags)
	sink.Count("cycle.slices", int64(in.Slices), tags)
	sink.Count("postings.inserted", int64(in.Inserted), tags)

	if in.Duration > 0 {
		sink.Timing("cycle.duration", in.Duration, tags)
	}
}

// SliceMetric captures the outcome of fetching a single search slice.
type SliceMetric struct {
	SourceSlug string
	Result     string
	Fetched    int
	Duplicates int
	Duration   time.Duration
	Err        error
}

// EmitSliceFetch emits per-slice fetch counters and timing.
func EmitSliceFetch(sink statsd.Sink, in SliceMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"source": in.SourceSlug,
		"result": in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("slice.fetched", 1, tags)
	sink.Count("postings.seen", int64(in.Fetched), tags)
	sink.Count("postings.duplicate", int64(in.Duplicates), tags)

	if in.Duration > 0 {
		sink.Timing("slice.duration", in.Duration, tags)
	}
}

// classify returns a normalized type name for the innermost error, suitable
// for metric tagging.
func classify(err error) string {
	if err == nil {
		return ""
	}

	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}

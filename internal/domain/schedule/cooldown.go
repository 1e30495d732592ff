// Package schedule implements the adaptive cooldown policy that governs how
// often each search slice may be fetched. The policy is pure: it maps a
// slice's counters plus one attempt outcome to the slice's next scheduling
// state, and the service layer persists the result.
package schedule

import (
	"math"
	"time"

	"github.com/jobradar/ingest-api/internal/domain/model"
)

// Policy holds the tunables for the cooldown algorithm. The widen factor,
// empty-run step, and failure threshold are calibration parameters, not
// constants; they are loaded from configuration.
type Policy struct {
	// WidenFactor multiplies the interval every EmptyRunStep consecutive
	// empty runs, and divides it again on productive runs.
	WidenFactor float64
	// EmptyRunStep is how many consecutive empty runs trigger one widening.
	EmptyRunStep int
	// FailThreshold is the number of consecutive fetch failures after which
	// a slice is marked bad and excluded from automatic scheduling.
	FailThreshold int
	// MaxIntervalMinutes bounds widening from above.
	MaxIntervalMinutes int
}

// DefaultPolicy returns the calibration defaults.
func DefaultPolicy() Policy {
	return Policy{
		WidenFactor:        1.5,
		EmptyRunStep:       3,
		FailThreshold:      5,
		MaxIntervalMinutes: 24 * 60,
	}
}

// Sanitize clamps nonsensical values back to the defaults.
func (p *Policy) Sanitize() {
	d := DefaultPolicy()
	if p.WidenFactor <= 1 {
		p.WidenFactor = d.WidenFactor
	}
	if p.EmptyRunStep <= 0 {
		p.EmptyRunStep = d.EmptyRunStep
	}
	if p.FailThreshold <= 0 {
		p.FailThreshold = d.FailThreshold
	}
	if p.MaxIntervalMinutes <= 0 {
		p.MaxIntervalMinutes = d.MaxIntervalMinutes
	}
}

// Outcome is the result of one fetch attempt against a slice.
type Outcome struct {
	// Failed marks a fetch error, timeout, or parse failure for the attempt.
	Failed bool
	// LastError is a short description of the failure. The policy ignores
	// it; it is carried through for operator alerting.
	LastError string
	// ResultCount is the total number of postings returned by the fetch.
	ResultCount int
	// NewJobs is how many of those postings the deduplicator accepted as new.
	NewJobs int
	// AttemptAt is when the attempt happened.
	AttemptAt time.Time
}

// Apply computes the slice's next scheduling state after one attempt.
// baseIntervalMinutes is the owning source's configured base interval, which
// bounds tightening from below. The input slice is not mutated.
//
// Invariant: the returned NextAllowedAt is always AttemptAt plus the
// returned interval, for successes and failures alike.
func (p Policy) Apply(sl model.SearchSlice, baseIntervalMinutes int, out Outcome) model.SearchSlice {
	if out.Failed {
		return p.applyFailure(sl, out)
	}
	return p.applySuccess(sl, baseIntervalMinutes, out)
}

func (p Policy) applyFailure(sl model.SearchSlice, out Outcome) model.SearchSlice {
	sl.FailCount++
	if sl.FailCount >= p.FailThreshold {
		sl.Status = model.SliceStatusBad
	}
	// Transient failures neither widen nor tighten the interval.
	sl.NextAllowedAt = out.AttemptAt.Add(sl.Interval())
	sl.ClaimedAt = nil
	return sl
}

func (p Policy) applySuccess(sl model.SearchSlice, baseIntervalMinutes int, out Outcome) model.SearchSlice {
	// A success of any kind breaks the consecutive-failure streak.
	sl.FailCount = 0
	sl.ResultCountLast = out.ResultCount
	sl.NewJobsLast = out.NewJobs
	at := out.AttemptAt
	sl.LastSuccessAt = &at

	if out.NewJobs > 0 {
		sl.ConsecutiveEmptyRuns = 0
		sl.MinIntervalMinutes = p.tighten(sl.MinIntervalMinutes, baseIntervalMinutes)
	} else {
		sl.ConsecutiveEmptyRuns++
		if sl.ConsecutiveEmptyRuns%p.EmptyRunStep == 0 {
			sl.MinIntervalMinutes = p.widen(sl.MinIntervalMinutes)
		}
	}

	sl.NextAllowedAt = out.AttemptAt.Add(sl.Interval())
	sl.ClaimedAt = nil
	return sl
}

// widen multiplies the interval by the widen factor, bounded above.
func (p Policy) widen(minutes int) int {
	widened := int(math.Round(float64(minutes) * p.WidenFactor))
	if widened <= minutes {
		widened = minutes + 1
	}
	if widened > p.MaxIntervalMinutes {
		return p.MaxIntervalMinutes
	}
	return widened
}

// tighten rewards a productive slice with a shorter interval, bounded below
// by the source's configured base.
func (p Policy) tighten(minutes, baseIntervalMinutes int) int {
	tightened := int(math.Round(float64(minutes) / p.WidenFactor))
	if tightened < baseIntervalMinutes {
		return baseIntervalMinutes
	}
	return tightened
}

// Eligible reports whether a slice may be selected for fetching at now.
// Paused and bad slices are never auto-selected; a claimed slice is already
// in flight in another cycle.
func Eligible(sl *model.SearchSlice, now time.Time) bool {
	return sl.Status == model.SliceStatusActive &&
		sl.ClaimedAt == nil &&
		!sl.NextAllowedAt.After(now)
}

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobradar/ingest-api/internal/domain/model"
)

const baseMinutes = 60

func activeSlice(intervalMinutes int) model.SearchSlice {
	return model.SearchSlice{
		ID:                 "slice-1",
		SourceID:           "source-1",
		Status:             model.SliceStatusActive,
		MinIntervalMinutes: intervalMinutes,
	}
}

func TestApplyEmptyRunBelowStepKeepsInterval(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sl := activeSlice(baseMinutes)
	got := p.Apply(sl, baseMinutes, Outcome{ResultCount: 40, NewJobs: 0, AttemptAt: now})

	assert.Equal(t, 1, got.ConsecutiveEmptyRuns)
	assert.Equal(t, baseMinutes, got.MinIntervalMinutes, "no widening before the step threshold")
	assert.Equal(t, now.Add(60*time.Minute), got.NextAllowedAt)
	assert.Equal(t, model.SliceStatusActive, got.Status)
	require.NotNil(t, got.LastSuccessAt)
	assert.Equal(t, now, *got.LastSuccessAt)
}

func TestApplyThirdEmptyRunWidens(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sl := activeSlice(baseMinutes)
	sl.ConsecutiveEmptyRuns = 2
	got := p.Apply(sl, baseMinutes, Outcome{ResultCount: 40, NewJobs: 0, AttemptAt: now})

	assert.Equal(t, 3, got.ConsecutiveEmptyRuns)
	assert.Equal(t, 90, got.MinIntervalMinutes, "60m widens by 1.5x on the third empty run")
	assert.Equal(t, now.Add(90*time.Minute), got.NextAllowedAt)
	assert.True(t, got.IsCooling(baseMinutes))
}

func TestApplyWideningIsBoundedAbove(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now().UTC()

	sl := activeSlice(baseMinutes)
	for i := 0; i < 100; i++ {
		sl = p.Apply(sl, baseMinutes, Outcome{AttemptAt: now})
	}
	assert.Equal(t, p.MaxIntervalMinutes, sl.MinIntervalMinutes)
	assert.Equal(t, now.Add(time.Duration(p.MaxIntervalMinutes)*time.Minute), sl.NextAllowedAt)
}

func TestApplyProductiveRunTightensBoundedBelow(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now().UTC()

	sl := activeSlice(90)
	sl.ConsecutiveEmptyRuns = 4
	sl.FailCount = 2
	got := p.Apply(sl, baseMinutes, Outcome{ResultCount: 25, NewJobs: 7, AttemptAt: now})

	assert.Equal(t, 0, got.ConsecutiveEmptyRuns)
	assert.Equal(t, 0, got.FailCount)
	assert.Equal(t, baseMinutes, got.MinIntervalMinutes, "90m / 1.5 == 60m")
	assert.Equal(t, 7, got.NewJobsLast)
	assert.True(t, got.IsProductive())
	assert.False(t, got.IsCooling(baseMinutes))

	// Repeated productive runs never push the interval below the base.
	for i := 0; i < 20; i++ {
		got = p.Apply(got, baseMinutes, Outcome{ResultCount: 25, NewJobs: 3, AttemptAt: now})
	}
	assert.Equal(t, baseMinutes, got.MinIntervalMinutes)
}

func TestApplyFailureKeepsIntervalAndCountsUp(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now().UTC()

	sl := activeSlice(baseMinutes)
	got := p.Apply(sl, baseMinutes, Outcome{Failed: true, AttemptAt: now})

	assert.Equal(t, 1, got.FailCount)
	assert.Equal(t, model.SliceStatusActive, got.Status)
	assert.Equal(t, baseMinutes, got.MinIntervalMinutes)
	assert.Equal(t, now.Add(60*time.Minute), got.NextAllowedAt, "failures still push next_allowed_at forward")
	assert.Nil(t, got.LastSuccessAt)
}

func TestApplyFailureThresholdMarksBad(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now().UTC()

	sl := activeSlice(baseMinutes)
	for i := 0; i < p.FailThreshold; i++ {
		sl = p.Apply(sl, baseMinutes, Outcome{Failed: true, AttemptAt: now})
	}

	assert.Equal(t, p.FailThreshold, sl.FailCount)
	assert.Equal(t, model.SliceStatusBad, sl.Status)
	assert.False(t, Eligible(&sl, now.Add(48*time.Hour)), "bad slices are never auto-selected")
}

func TestApplySuccessResetsFailureStreak(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now().UTC()

	sl := activeSlice(baseMinutes)
	sl.FailCount = p.FailThreshold - 1
	got := p.Apply(sl, baseMinutes, Outcome{ResultCount: 10, NewJobs: 0, AttemptAt: now})

	assert.Equal(t, 0, got.FailCount, "any success breaks the consecutive-failure streak")
	assert.Equal(t, model.SliceStatusActive, got.Status)
}

func TestEligible(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	claimed := now.Add(-time.Minute)

	tests := []struct {
		name  string
		slice model.SearchSlice
		want  bool
	}{
		{
			name:  "active and overdue",
			slice: model.SearchSlice{Status: model.SliceStatusActive, NextAllowedAt: now.Add(-10 * time.Minute)},
			want:  true,
		},
		{
			name:  "active and exactly due",
			slice: model.SearchSlice{Status: model.SliceStatusActive, NextAllowedAt: now},
			want:  true,
		},
		{
			name:  "not yet allowed",
			slice: model.SearchSlice{Status: model.SliceStatusActive, NextAllowedAt: now.Add(time.Second)},
			want:  false,
		},
		{
			name:  "paused",
			slice: model.SearchSlice{Status: model.SliceStatusPaused, NextAllowedAt: now.Add(-time.Hour)},
			want:  false,
		},
		{
			name:  "bad",
			slice: model.SearchSlice{Status: model.SliceStatusBad, NextAllowedAt: now.Add(-time.Hour)},
			want:  false,
		},
		{
			name: "in flight",
			slice: model.SearchSlice{
				Status:        model.SliceStatusActive,
				NextAllowedAt: now.Add(-time.Hour),
				ClaimedAt:     &claimed,
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eligible(&tt.slice, now))
		})
	}
}

func TestSanitizeRestoresDefaults(t *testing.T) {
	p := Policy{WidenFactor: 0.5, EmptyRunStep: -1, FailThreshold: 0, MaxIntervalMinutes: 0}
	p.Sanitize()
	assert.Equal(t, DefaultPolicy(), p)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobradar/ingest-api/internal/domain/model"
	"github.com/jobradar/ingest-api/internal/testutil"
)

func TestRunViewFlagsStuckRuns(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	runs := &mockRunRepo{
		listFn: func(context.Context, model.RunListOptions) ([]*model.RunWithDetails, error) {
			return []*model.RunWithDetails{
				{IngestionRun: model.IngestionRun{
					ID: "stuck", Status: model.RunStatusRunning, StartedAt: now.Add(-time.Hour),
				}},
				{IngestionRun: model.IngestionRun{
					ID: "fresh", Status: model.RunStatusRunning, StartedAt: now.Add(-time.Minute),
				}},
				{IngestionRun: model.IngestionRun{
					ID: "done", Status: model.RunStatusSuccess, StartedAt: now.Add(-2 * time.Hour),
				}},
			}, nil
		},
	}

	svc, err := NewRunService(RunServiceOptions{
		Runs:         runs,
		StuckBudget:  30 * time.Minute,
		TimeProvider: testutil.NewTestTimeProvider(now),
	})
	require.NoError(t, err)

	views, err := svc.List(context.Background(), model.RunListOptions{})
	require.NoError(t, err)
	require.Len(t, views, 3)

	assert.True(t, views[0].Stuck, "a running run past the budget is stuck")
	assert.False(t, views[1].Stuck)
	assert.False(t, views[2].Stuck, "finished runs are never stuck regardless of age")
}

func TestRunGetByID(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	runs := &mockRunRepo{
		getByIDFn: func(_ context.Context, id string) (*model.RunWithDetails, error) {
			return &model.RunWithDetails{
				IngestionRun: model.IngestionRun{
					ID: id, Status: model.RunStatusPartial, StartedAt: now.Add(-time.Hour),
				},
				Details: []model.RunSourceDetail{
					{SliceID: "slice-1", Status: model.DetailStatusSuccess},
					{SliceID: "slice-2", Status: model.DetailStatusFailed},
				},
			}, nil
		},
	}

	svc, err := NewRunService(RunServiceOptions{
		Runs:         runs,
		TimeProvider: testutil.NewTestTimeProvider(now),
	})
	require.NoError(t, err)

	view, err := svc.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", view.ID)
	assert.Len(t, view.Details, 2)
	assert.False(t, view.Stuck, "terminal runs never flag stuck")
}

package cleanup

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/services"
)

func newFailedRun(t *testing.T, runs *services.RunService, store *services.MemoryRunStore, completedAgo time.Duration) *models.Run {
	t.Helper()
	run, err := runs.CreateRun(context.Background(), models.CreateRunRequest{
		TenantID:       uuid.New(),
		AssistantID:    uuid.New(),
		ConversationID: uuid.New(),
		InputText:      "question",
	})
	require.NoError(t, err)
	require.NoError(t, runs.StartRun(context.Background(), run.ID))
	require.NoError(t, runs.FailRun(context.Background(), run.ID, "worker_exception", "boom", models.RunStatusFailed))
	store.SetCompletedAt(run.ID, time.Now().Add(-completedAgo))
	return run
}

func TestService_PurgesOldRunsAndTraces(t *testing.T) {
	runStore := services.NewMemoryRunStore()
	traceStore := services.NewMemoryTraceStore()
	runs := services.NewRunService(runStore)
	traces := services.NewTraceService(traceStore, slog.Default())

	old := newFailedRun(t, runs, runStore, 100*24*time.Hour)
	recent := newFailedRun(t, runs, runStore, time.Hour)

	require.NoError(t, traceStore.Insert(context.Background(), &models.LLMTrace{
		ID: uuid.New(), TenantID: old.TenantID, RunID: old.ID,
		Model: "gpt-4o-mini", CreatedAt: time.Now().Add(-60 * 24 * time.Hour),
	}))
	require.NoError(t, traceStore.Insert(context.Background(), &models.LLMTrace{
		ID: uuid.New(), TenantID: recent.TenantID, RunID: recent.ID,
		Model: "gpt-4o-mini", CreatedAt: time.Now(),
	}))

	svc := NewService(&config.RetentionConfig{
		RunRetention:    90 * 24 * time.Hour,
		TraceRetention:  30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}, runs, traces)
	svc.runAll(context.Background())

	_, err := runs.GetRunByID(context.Background(), old.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)
	kept, err := runs.GetRunByID(context.Background(), recent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, kept.Status)

	remaining := traceStore.Traces()
	require.Len(t, remaining, 1)
	assert.Equal(t, recent.ID, remaining[0].RunID)
}

func TestService_KeepsActiveRuns(t *testing.T) {
	runStore := services.NewMemoryRunStore()
	runs := services.NewRunService(runStore)
	traces := services.NewTraceService(services.NewMemoryTraceStore(), slog.Default())

	run, err := runs.CreateRun(context.Background(), models.CreateRunRequest{
		TenantID:       uuid.New(),
		AssistantID:    uuid.New(),
		ConversationID: uuid.New(),
		InputText:      "question",
	})
	require.NoError(t, err)

	svc := NewService(&config.RetentionConfig{
		RunRetention:    0,
		TraceRetention:  0,
		CleanupInterval: time.Hour,
	}, runs, traces)
	svc.runAll(context.Background())

	// Pending runs have no completed_at and survive even a zero retention.
	_, err = runs.GetRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
}

func TestService_StartStop(t *testing.T) {
	runs := services.NewRunService(services.NewMemoryRunStore())
	traces := services.NewTraceService(services.NewMemoryTraceStore(), slog.Default())

	svc := NewService(&config.RetentionConfig{
		RunRetention:    time.Hour,
		TraceRetention:  time.Hour,
		CleanupInterval: 10 * time.Millisecond,
	}, runs, traces)

	svc.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	svc.Stop()
}

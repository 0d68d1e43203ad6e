package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coworkerbot/internal/core"
)

func openTestStore(t *testing.T, keep int) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir(), keep)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newBatch(id string, created time.Time) *core.Batch {
	return &core.Batch{
		ID:        id,
		Label:     "Morning",
		Mode:      core.BatchModeGroup,
		Status:    core.RunStatusRunning,
		Total:     2,
		StartedAt: created,
		CreatedAt: created,
	}
}

func TestBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 10)
	start := time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC)

	batch := newBatch("b1", start)
	batch.Force = true
	require.NoError(t, s.InsertBatch(ctx, batch))

	finished := start.Add(5 * time.Minute)
	batch.Status = core.RunStatusCompleted
	batch.Succeeded = 1
	batch.Skipped = 1
	batch.FinishedAt = &finished
	require.NoError(t, s.CompleteBatch(ctx, batch))

	got, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Morning", got.Label)
	assert.Equal(t, core.BatchModeGroup, got.Mode)
	assert.True(t, got.Force)
	assert.Equal(t, core.RunStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Skipped)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
	assert.True(t, start.Equal(got.StartedAt))
}

func TestGetBatchNotFound(t *testing.T) {
	s := openTestStore(t, 10)
	_, err := s.GetBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	err = s.CompleteBatch(context.Background(), &core.Batch{ID: "missing"})
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestTaskOutcomesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 10)
	start := time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertBatch(ctx, newBatch("b1", start)))

	outcomes := []core.TaskOutcome{
		{Seq: 2, TaskID: "t2", Label: "[Morning] 09:00 - B.xlsx", ResourcePath: "B.xlsx",
			Status: core.RunStatusSkipped, Stage: core.StagePending, Reason: "weekday filter",
			StartedAt: start.Add(time.Minute), EndedAt: start.Add(time.Minute)},
		{Seq: 1, TaskID: "t1", Label: "[Morning] 08:00 - A.xlsx", ResourcePath: "A.xlsx",
			Status: core.RunStatusSucceeded, Stage: core.StageClosed,
			Warnings:  []string{"macro Refresh failed: unsupported"},
			StartedAt: start, EndedAt: start.Add(30 * time.Second)},
	}
	require.NoError(t, s.InsertTaskOutcomes(ctx, "b1", outcomes))
	require.NoError(t, s.InsertTaskOutcomes(ctx, "b1", nil))

	got, err := s.ListTaskRuns(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].TaskID)
	assert.Equal(t, core.StageClosed, got[0].Stage)
	assert.Equal(t, []string{"macro Refresh failed: unsupported"}, got[0].Warnings)
	assert.Equal(t, "t2", got[1].TaskID)
	assert.Equal(t, "weekday filter", got[1].Reason)
	assert.Nil(t, got[1].Warnings)

	history, err := s.ListTaskHistory(ctx, "t1", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.RunStatusSucceeded, history[0].Status)
}

func TestListAndPruneBatches(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 2)
	base := time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"b1", "b2", "b3"} {
		created := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.InsertBatch(ctx, newBatch(id, created)))
		require.NoError(t, s.InsertTaskOutcomes(ctx, id, []core.TaskOutcome{{
			Seq: 1, TaskID: "t1", Status: core.RunStatusSucceeded, Stage: core.StageClosed,
			StartedAt: created, EndedAt: created,
		}}))
	}

	list, err := s.ListBatches(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "b3", list[0].ID)

	require.NoError(t, s.PruneOldBatches(ctx))
	list, err = s.ListBatches(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b3", list[0].ID)
	assert.Equal(t, "b2", list[1].ID)

	runs, err := s.ListTaskRuns(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), dir, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultHistoryKeep, s.HistoryKeep)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), dir, 5)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

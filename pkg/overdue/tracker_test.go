package overdue

import (
	"context"
	"testing"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/notify"
	"github.com/harrisonrobin/eventdesk/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T) (*Tracker, *notify.Recorder) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	var rec notify.Recorder
	return NewTracker(s, &rec, nil), &rec
}

func TestTrackAndSweep(t *testing.T) {
	tr, rec := newTracker(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	recorded := now.Add(-2 * time.Hour)

	tasks := []model.Task{
		{ID: "a", Title: "Confirm AV", Status: model.TaskTodo, DueDate: model.NewTimestamp(now.Add(-time.Hour))},
		{ID: "b", Title: "Print programme", Status: model.TaskInProgress, DueDate: model.NewTimestamp(now.Add(48 * time.Hour))},
		{ID: "c", Title: "Pay venue", Status: model.TaskCompleted, DueDate: model.NewTimestamp(now.Add(-time.Hour))},
		{ID: "d", Title: "No deadline", Status: model.TaskTodo},
	}
	require.NoError(t, tr.Track(ctx, tasks, recorded))

	due, err := tr.Sweep(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].TaskID)

	toasts := rec.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, notify.LevelWarning, toasts[0].Level)
	assert.Contains(t, toasts[0].Description, "Confirm AV")

	// completing b before its deadline drops the reminder
	tasks[1].Status = model.TaskCompleted
	require.NoError(t, tr.Track(ctx, tasks[1:2], now))
	due, err = tr.Sweep(ctx, now.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestOverdueTaskReportedOnce(t *testing.T) {
	tr, rec := newTracker(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	tasks := []model.Task{
		{ID: "a", Title: "Confirm AV", Status: model.TaskTodo, DueDate: model.NewTimestamp(now.Add(time.Hour))},
	}

	require.NoError(t, tr.Track(ctx, tasks, now))
	due, err := tr.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	var swept int
	for run := 1; run <= 3; run++ {
		at := now.Add(time.Duration(run) * 2 * time.Hour)
		require.NoError(t, tr.Track(ctx, tasks, at))
		due, err := tr.Sweep(ctx, at)
		require.NoError(t, err)
		swept += len(due)
	}
	assert.Equal(t, 1, swept)
	assert.Len(t, rec.Toasts(), 1)
}

func TestTrackSkipsDeadlinesAlreadyPast(t *testing.T) {
	tr, rec := newTracker(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	tasks := []model.Task{
		{ID: "late", Title: "Book shuttle", Status: model.TaskTodo, DueDate: model.NewTimestamp(now.Add(-24 * time.Hour))},
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, tr.Track(ctx, tasks, now))
		due, err := tr.Sweep(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, due)
	}
	assert.Empty(t, rec.Toasts())
}

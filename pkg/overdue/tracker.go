// Package overdue remembers pending task deadlines between runs and flags
// the ones that pass.
package overdue

import (
	"context"
	"fmt"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/logging"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/notify"
	"github.com/harrisonrobin/eventdesk/pkg/store"
	"go.uber.org/zap"
)

// Store persists reminders; *store.Store implements it.
type Store interface {
	UpsertReminder(ctx context.Context, r store.Reminder) error
	DeleteReminder(ctx context.Context, taskID string) error
	SweepReminders(ctx context.Context, now time.Time) ([]store.Reminder, error)
}

type Tracker struct {
	store    Store
	notifier notify.Notifier
	log      *zap.Logger
}

func NewTracker(s Store, n notify.Notifier, log *zap.Logger) *Tracker {
	return &Tracker{store: s, notifier: n, log: logging.OrNop(log)}
}

// Track records tasks that are not completed and fall due after now, and
// forgets completed or undated ones. A deadline already past is left to
// Sweep, so each task is reported once.
func (t *Tracker) Track(ctx context.Context, tasks []model.Task, now time.Time) error {
	for _, task := range tasks {
		if task.Status == model.TaskCompleted || !task.DueDate.IsSet() {
			if err := t.store.DeleteReminder(ctx, task.ID); err != nil {
				return err
			}
			continue
		}
		if !task.DueDate.After(now) {
			continue
		}
		err := t.store.UpsertReminder(ctx, store.Reminder{
			TaskID:      task.ID,
			Title:       task.Title,
			WorkspaceID: task.WorkspaceID,
			Due:         task.DueDate.Time,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Sweep returns and forgets reminders due before now, raising a warning
// toast for each.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) ([]store.Reminder, error) {
	due, err := t.store.SweepReminders(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, r := range due {
		t.log.Info("task overdue", zap.String("task_id", r.TaskID), zap.Time("due", r.Due))
		notify.Warning(t.notifier, "Task overdue", fmt.Sprintf("%s was due %s", r.Title, r.Due.Local().Format("Mon Jan 2 15:04")))
	}
	return due, nil
}

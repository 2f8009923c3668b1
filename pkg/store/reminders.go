package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Reminder is a pending task that should be flagged once its due time
// passes.
type Reminder struct {
	TaskID      string
	Title       string
	WorkspaceID string
	Due         time.Time
}

// UpsertReminder adds or updates a reminder.
func (s *Store) UpsertReminder(ctx context.Context, r Reminder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO overdue_reminders (task_id, title, workspace_id, due_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET
		    title = excluded.title,
		    workspace_id = excluded.workspace_id,
		    due_at = excluded.due_at`,
		r.TaskID, r.Title, r.WorkspaceID, toMillis(r.Due),
	)
	if err != nil {
		return fmt.Errorf("store: upsert reminder: %w", err)
	}
	return nil
}

func (s *Store) DeleteReminder(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM overdue_reminders WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("store: delete reminder: %w", err)
	}
	return nil
}

// Reminders lists every reminder, soonest first.
func (s *Store) Reminders(ctx context.Context) ([]Reminder, error) {
	return s.queryReminders(ctx, s.db, `SELECT task_id, title, workspace_id, due_at FROM overdue_reminders ORDER BY due_at, task_id`)
}

// SweepReminders removes and returns reminders due before now.
func (s *Store) SweepReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin sweep: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	due, err := s.queryReminders(ctx, tx,
		`SELECT task_id, title, workspace_id, due_at FROM overdue_reminders WHERE due_at < ? ORDER BY due_at, task_id`,
		toMillis(now))
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM overdue_reminders WHERE due_at < ?`, toMillis(now)); err != nil {
		return nil, fmt.Errorf("store: sweep reminders: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit sweep: %w", err)
	}
	return due, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) queryReminders(ctx context.Context, q querier, query string, args ...any) ([]Reminder, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var r Reminder
		var due int64
		if err := rows.Scan(&r.TaskID, &r.Title, &r.WorkspaceID, &due); err != nil {
			return nil, fmt.Errorf("store: scan reminder: %w", err)
		}
		r.Due = fromMillis(due)
		out = append(out, r)
	}
	return out, rows.Err()
}

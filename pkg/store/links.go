package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EventID returns the calendar event linked to sourceID, or "".
func (s *Store) EventID(ctx context.Context, sourceID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id FROM calendar_links WHERE source_id = ?`, sourceID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get calendar link: %w", err)
	}
	return id, nil
}

func (s *Store) LinkEvent(ctx context.Context, sourceID, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_links (source_id, event_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(source_id) DO UPDATE SET
		    event_id = excluded.event_id,
		    updated_at = excluded.updated_at`,
		sourceID, eventID, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: link calendar event: %w", err)
	}
	return nil
}

func (s *Store) UnlinkEvent(ctx context.Context, sourceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM calendar_links WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("store: unlink calendar event: %w", err)
	}
	return nil
}

// ColorAssignment is the calendar color held by a workspace.
type ColorAssignment struct {
	WorkspaceID string
	ColorID     string
	LastUsed    time.Time
}

func (s *Store) ColorAssignments(ctx context.Context) ([]ColorAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workspace_id, color_id, last_used FROM workspace_colors ORDER BY last_used`)
	if err != nil {
		return nil, fmt.Errorf("store: list colors: %w", err)
	}
	defer rows.Close()

	var out []ColorAssignment
	for rows.Next() {
		var a ColorAssignment
		var used int64
		if err := rows.Scan(&a.WorkspaceID, &a.ColorID, &used); err != nil {
			return nil, fmt.Errorf("store: scan color: %w", err)
		}
		a.LastUsed = fromMillis(used)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveColor(ctx context.Context, a ColorAssignment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_colors (workspace_id, color_id, last_used) VALUES (?, ?, ?)
		 ON CONFLICT(workspace_id) DO UPDATE SET
		    color_id = excluded.color_id,
		    last_used = excluded.last_used`,
		a.WorkspaceID, a.ColorID, toMillis(a.LastUsed),
	)
	if err != nil {
		return fmt.Errorf("store: save color: %w", err)
	}
	return nil
}

func (s *Store) DeleteColor(ctx context.Context, workspaceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workspace_colors WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("store: delete color: %w", err)
	}
	return nil
}

// Package store keeps local state between runs in a SQLite database:
// persisted query results, calendar event links, workspace colors and
// pending deadline reminders.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DBFile is the database name inside the data directory.
const DBFile = "eventdesk.db"

type Store struct {
	db *sql.DB
}

// Open creates the data directory if needed, opens the database with WAL
// enabled and applies the schema.
func Open(dataDir string) (*Store, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("store: data dir is required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, DBFile))
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// SQLite allows one writer; share a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS query_cache (
			cache_key  TEXT PRIMARY KEY,
			payload    BLOB    NOT NULL,
			fetched_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS calendar_links (
			source_id  TEXT PRIMARY KEY,
			event_id   TEXT    NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS workspace_colors (
			workspace_id TEXT PRIMARY KEY,
			color_id     TEXT    NOT NULL,
			last_used    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS overdue_reminders (
			task_id      TEXT PRIMARY KEY,
			title        TEXT    NOT NULL,
			workspace_id TEXT    NOT NULL DEFAULT '',
			due_at       INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_overdue_due ON overdue_reminders(due_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// likePrefix escapes s for use as a LIKE prefix with ESCAPE '\'.
func likePrefix(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s) + "%"
}

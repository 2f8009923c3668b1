package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// keySep separates query key elements; it matches querycache.Key.String.
const keySep = "|"

// Put saves a query payload. The Store satisfies querycache.Persister.
func (s *Store) Put(ctx context.Context, key string, value []byte, at time.Time) error {
	if key == "" {
		return errors.New("store: cache key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_cache (cache_key, payload, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
		    payload = excluded.payload,
		    fetched_at = excluded.fetched_at`,
		key, value, toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("store: put cache entry: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	var payload []byte
	var at int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM query_cache WHERE cache_key = ?`, key,
	).Scan(&payload, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("store: get cache entry: %w", err)
	}
	return payload, fromMillis(at), true, nil
}

// Delete removes the entry for prefix and every key below it. An empty
// prefix clears the table.
func (s *Store) Delete(ctx context.Context, prefix string) error {
	var err error
	if prefix == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM query_cache`)
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM query_cache WHERE cache_key = ? OR cache_key LIKE ? ESCAPE '\'`,
			prefix, likePrefix(prefix+keySep),
		)
	}
	if err != nil {
		return fmt.Errorf("store: delete cache entries: %w", err)
	}
	return nil
}

// PruneCache drops entries fetched before cutoff and returns how many.
func (s *Store) PruneCache(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE fetched_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: prune cache: %w", err)
	}
	return res.RowsAffected()
}

package plugins

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// StateStore persists plugin activation state in SQLite so activation
// survives host restarts.
type StateStore struct {
	db *sql.DB
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS plugin_state (
	id         TEXT PRIMARY KEY,
	active     INTEGER NOT NULL,
	updated_at TEXT    NOT NULL
);`

// OpenState opens (creating if needed) the activation-state database.
func OpenState(path string) (*StateStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state db path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state db '%s': %w", path, err)
	}
	if _, err := db.Exec(stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init state db: %w", err)
	}
	return &StateStore{db: db}, nil
}

// SetActive records a plugin's activation state.
func (s *StateStore) SetActive(ctx context.Context, id string, active bool) error {
	val := 0
	if active {
		val = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugin_state (id, active, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET active = excluded.active, updated_at = excluded.updated_at`,
		id, val, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to persist state for plugin %s: %w", id, err)
	}
	return nil
}

// ActivePlugins returns the ids recorded as active, for restore at startup.
func (s *StateStore) ActivePlugins(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM plugin_state WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plugin state: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *StateStore) Close() error {
	return s.db.Close()
}

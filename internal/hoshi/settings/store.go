// Package settings provides the admin-editable runtime settings store backed
// by the SQLite settings table. Values written through Set are validated
// against an embedded JSON schema and override file configuration at call
// time.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bdobrica/Hoshi/internal/hoshi/store"
)

// ErrNotFound is returned by Get when the requested key does not exist.
var ErrNotFound = errors.New("settings: key not found")

// Store is the read/write interface for runtime settings.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value associated with key. Returns ErrNotFound when the
	// key has not been set.
	Get(ctx context.Context, key string) (string, error)

	// Set validates and stores value under key, recording the current UTC
	// timestamp in updated_at.
	Set(ctx context.Context, key string, value string) error

	// Delete removes key. It is a no-op when the key does not exist.
	Delete(ctx context.Context, key string) error

	// List returns a snapshot of all key/value pairs. An empty map (not nil)
	// is returned when no entries are present.
	List(ctx context.Context) (map[string]string, error)
}

type sqliteStore struct {
	db *store.Store
}

// New creates a Store backed by the application SQLite database.
func New(db *store.Store) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("settings: get %q: %w", key, err)
	}
	return value, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	if err := Validate(key, value); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("settings: set %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.DB().ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("settings: delete %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("settings: list scan: %w", err)
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: list rows: %w", err)
	}
	return result, nil
}

// Getter is the read side of Store used by components that only consume
// overrides.
type Getter interface {
	Get(ctx context.Context, key string) (string, error)
}

// String returns the override for key, or def when unset or unreadable.
// A nil Getter always yields def.
func String(ctx context.Context, g Getter, key, def string) string {
	if g == nil {
		return def
	}
	v, err := g.Get(ctx, key)
	if err != nil || v == "" {
		return def
	}
	return v
}

// Int returns the integer override for key, or def.
func Int(ctx context.Context, g Getter, key string, def int) int {
	raw := String(ctx, g, key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the boolean override for key, or def.
func Bool(ctx context.Context, g Getter, key string, def bool) bool {
	raw := String(ctx, g, key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

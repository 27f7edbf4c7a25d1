package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// PrefStore provides durable key-value preference storage.
type PrefStore struct {
	store *Store
}

// NewPrefStore creates a new preference store.
func NewPrefStore(store *Store) *PrefStore {
	return &PrefStore{store: store}
}

// Get returns the value for key, or fallback when the key is absent.
func (s *PrefStore) Get(ctx context.Context, key, fallback string) (string, error) {
	const query = `SELECT value FROM prefs WHERE key = ?`
	var value string
	err := s.store.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores the value for key, replacing any previous value.
func (s *PrefStore) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO prefs (key, value, updated_at_epoch)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			updated_at_epoch = excluded.updated_at_epoch
	`
	_, err := s.store.ExecContext(ctx, query, key, value, time.Now().UnixMilli())
	return err
}

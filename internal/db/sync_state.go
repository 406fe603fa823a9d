package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SyncStateGet reads a sync-cursor value (e.g. the last successful
// inspection/alert pull watermark). ok is false if the key has never been
// set.
func (r *Repo) SyncStateGet(ctx context.Context, key string) (value string, ok bool, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("db: sync state get: %w", err)
	}
	return value, true, nil
}

// SyncStateSet upserts a sync-cursor value.
func (r *Repo) SyncStateSet(ctx context.Context, key, value string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("db: sync state set: %w", err)
	}
	return nil
}

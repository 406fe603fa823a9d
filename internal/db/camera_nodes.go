package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waggle-hive/hivehub/internal/model"
)

// GetCameraNode fetches one registered camera identity by device id.
func (r *Repo) GetCameraNode(ctx context.Context, deviceID string) (*model.CameraNode, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT device_id, hive_id, api_key_hash, created_at, last_seen_at, row_synced
		FROM camera_nodes WHERE device_id = ?`, deviceID)
	return scanCameraNode(row)
}

func scanCameraNode(row *sql.Row) (*model.CameraNode, error) {
	var c model.CameraNode
	var lastSeenAt sql.NullString
	var rowSynced int
	err := row.Scan(&c.DeviceID, &c.HiveID, &c.APIKeyHash, &c.CreatedAt, &lastSeenAt, &rowSynced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: scan camera node: %w", err)
	}
	if lastSeenAt.Valid {
		c.LastSeenAt = &lastSeenAt.String
	}
	c.RowSynced = rowSynced == 1
	return &c, nil
}

// RegisterCameraNode inserts a new camera identity bound to a hive, with its
// bcrypt-hashed API key.
func (r *Repo) RegisterCameraNode(ctx context.Context, c model.CameraNode) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO camera_nodes (device_id, hive_id, api_key_hash, created_at)
		VALUES (?, ?, ?, ?)`, c.DeviceID, c.HiveID, c.APIKeyHash, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("db: register camera node: %w", err)
	}
	return nil
}

// TouchCameraNodeLastSeen advances last_seen_at, monotonically.
func (r *Repo) TouchCameraNodeLastSeen(ctx context.Context, deviceID, seenAt string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE camera_nodes SET last_seen_at = ?
		WHERE device_id = ? AND (last_seen_at IS NULL OR last_seen_at < ?)`,
		seenAt, deviceID, seenAt)
	if err != nil {
		return fmt.Errorf("db: touch camera node: %w", err)
	}
	return nil
}

// UnsyncedCameraNodes returns up to limit CameraNode rows with row_synced=0.
func (r *Repo) UnsyncedCameraNodes(ctx context.Context, limit int) ([]model.CameraNode, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT device_id, hive_id, api_key_hash, created_at, last_seen_at, row_synced
		FROM camera_nodes WHERE row_synced = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query unsynced camera nodes: %w", err)
	}
	defer rows.Close()

	var out []model.CameraNode
	for rows.Next() {
		var c model.CameraNode
		var lastSeenAt sql.NullString
		var rowSynced int
		if err := rows.Scan(&c.DeviceID, &c.HiveID, &c.APIKeyHash, &c.CreatedAt, &lastSeenAt, &rowSynced); err != nil {
			return nil, fmt.Errorf("db: scan unsynced camera node: %w", err)
		}
		if lastSeenAt.Valid {
			c.LastSeenAt = &lastSeenAt.String
		}
		c.RowSynced = rowSynced == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkCameraNodesSynced sets row_synced = 1 for exactly the given device ids.
func (r *Repo) MarkCameraNodesSynced(ctx context.Context, deviceIDs []string) error {
	return markSyncedStrings(ctx, r.DB, "camera_nodes", "device_id", deviceIDs)
}

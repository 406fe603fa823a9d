package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waggle-hive/hivehub/internal/model"
)

// LastAlertAt returns the created_at of the most recent alert of type for
// hiveID, for the cooldown check. ok is false if none exists.
func (r *Repo) LastAlertAt(ctx context.Context, hiveID int, alertType model.AlertType) (createdAt string, ok bool, err error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT created_at FROM alerts WHERE hive_id = ? AND type = ?
		ORDER BY created_at DESC LIMIT 1`, hiveID, alertType)
	if err := row.Scan(&createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("db: last alert at: %w", err)
	}
	return createdAt, true, nil
}

// InsertAlert fires one alert row.
func (r *Repo) InsertAlert(ctx context.Context, a model.Alert) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO alerts (hive_id, type, severity, message, observed_at, created_at,
		                     updated_at, details_json, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.HiveID, a.Type, a.Severity, a.Message, a.ObservedAt, a.CreatedAt, a.UpdatedAt,
		a.DetailsJSON, a.Source)
	if err != nil {
		return 0, fmt.Errorf("db: insert alert: %w", err)
	}
	return res.LastInsertId()
}

// UnnotifiedCriticalOrHigh selects alerts pending a webhook dispatch
// attempt, oldest created_at first.
func (r *Repo) UnnotifiedCriticalOrHigh(ctx context.Context, limit int) ([]model.Alert, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT a.id, a.hive_id, a.type, a.severity, a.message, a.observed_at, a.created_at,
		       a.updated_at, a.acknowledged, a.acknowledged_at, a.acknowledged_by,
		       a.details_json, a.source, a.row_synced
		FROM alerts a
		WHERE a.notified_at IS NULL AND a.severity IN ('critical', 'high')
		ORDER BY a.created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query unnotified alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// MarkAlertNotified records that dispatch was attempted, regardless of
// delivery outcome — single attempt, no retry storm.
func (r *Repo) MarkAlertNotified(ctx context.Context, id int64, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE alerts SET notified_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("db: mark alert notified: %w", err)
	}
	return nil
}

// HiveName resolves a hive's display name for webhook payloads.
func (r *Repo) HiveName(ctx context.Context, hiveID int) (string, error) {
	var name string
	err := r.DB.QueryRowContext(ctx, `SELECT name FROM hives WHERE id = ?`, hiveID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("db: hive name: %w", err)
	}
	return name, nil
}

// UnsyncedAlerts returns up to limit Alert rows with row_synced = 0.
func (r *Repo) UnsyncedAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, hive_id, type, severity, message, observed_at, created_at, updated_at,
		       acknowledged, acknowledged_at, acknowledged_by, details_json, source, row_synced
		FROM alerts WHERE row_synced = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query unsynced alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func scanAlerts(rows *sql.Rows) ([]model.Alert, error) {
	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var ackAt, ackBy, details sql.NullString
		var acknowledged, rowSynced int
		if err := rows.Scan(&a.ID, &a.HiveID, &a.Type, &a.Severity, &a.Message, &a.ObservedAt,
			&a.CreatedAt, &a.UpdatedAt, &acknowledged, &ackAt, &ackBy, &details, &a.Source, &rowSynced); err != nil {
			return nil, fmt.Errorf("db: scan alert: %w", err)
		}
		a.Acknowledged = acknowledged == 1
		if ackAt.Valid {
			a.AcknowledgedAt = &ackAt.String
		}
		if ackBy.Valid {
			a.AcknowledgedBy = &ackBy.String
		}
		if details.Valid {
			a.DetailsJSON = &details.String
		}
		a.RowSynced = rowSynced == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAlertsSynced sets row_synced = 1 for exactly the given ids.
func (r *Repo) MarkAlertsSynced(ctx context.Context, ids []int64) error {
	return markSyncedInt64s(ctx, r.DB, "alerts", "id", ids)
}

// ApplyCloudAck overwrites the acknowledgement triple from a cloud pull, but
// only if the cloud's updated_at is newer than the local row's — otherwise
// the local state wins and the pull is a no-op. source is stamped 'cloud'
// so the row_synced reset trigger's guard does not immediately echo the
// change back to a push.
func (r *Repo) ApplyCloudAck(ctx context.Context, id int64, acknowledged bool, ackAt, ackBy *string, cloudUpdatedAt string) (applied bool, err error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE alerts SET acknowledged = ?, acknowledged_at = ?, acknowledged_by = ?,
		                   updated_at = ?, source = 'cloud', row_synced = 1
		WHERE id = ? AND updated_at < ?`,
		boolToInt(acknowledged), ackAt, ackBy, cloudUpdatedAt, id, cloudUpdatedAt)
	if err != nil {
		return false, fmt.Errorf("db: apply cloud ack: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db: apply cloud ack rows affected: %w", err)
	}
	return n > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// BackfillNotifiedAt sets notified_at = created_at for every historical
// alert with a null notified_at, so a fresh migration does not produce a
// webhook burst for alerts that predate the notifier.
func (r *Repo) BackfillNotifiedAt(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE alerts SET notified_at = created_at WHERE notified_at IS NULL`)
	if err != nil {
		return fmt.Errorf("db: backfill notified_at: %w", err)
	}
	return nil
}

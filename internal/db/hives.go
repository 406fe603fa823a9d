package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waggle-hive/hivehub/internal/model"
)

var ErrNotFound = errors.New("db: not found")

// GetHive fetches one hive by id.
func (r *Repo) GetHive(ctx context.Context, id int) (*model.Hive, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, name, location, notes, sender_mac, last_seen_at, created_at, row_synced
		FROM hives WHERE id = ?`, id)
	return scanHive(row)
}

// AllHiveIDs returns every registered hive id, used to warm the ingestion
// dedup cache at startup.
func (r *Repo) AllHiveIDs(ctx context.Context) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM hives`)
	if err != nil {
		return nil, fmt.Errorf("db: list hive ids: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db: scan hive id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetHiveBySenderMAC fetches the hive bound to a MAC, if any.
func (r *Repo) GetHiveBySenderMAC(ctx context.Context, mac string) (*model.Hive, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, name, location, notes, sender_mac, last_seen_at, created_at, row_synced
		FROM hives WHERE sender_mac = ? COLLATE NOCASE`, mac)
	return scanHive(row)
}

func scanHive(row *sql.Row) (*model.Hive, error) {
	var h model.Hive
	var location, notes, senderMAC, lastSeenAt sql.NullString
	var rowSynced int
	err := row.Scan(&h.ID, &h.Name, &location, &notes, &senderMAC, &lastSeenAt, &h.CreatedAt, &rowSynced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: scan hive: %w", err)
	}
	h.Location = location.String
	h.Notes = notes.String
	if senderMAC.Valid {
		h.SenderMAC = &senderMAC.String
	}
	if lastSeenAt.Valid {
		h.LastSeenAt = &lastSeenAt.String
	}
	h.RowSynced = rowSynced == 1
	return &h, nil
}

// InsertHive creates a hive with an admin-assigned id. Hive identity is a
// small human-assigned integer, not an autoincrement surrogate.
func (r *Repo) InsertHive(ctx context.Context, h model.Hive) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO hives (id, name, location, notes, sender_mac, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.Name, nullIfEmpty(h.Location), nullIfEmpty(h.Notes), h.SenderMAC, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("db: insert hive: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpdateLastSeenAt advances hive.last_seen_at, but only if observedAt is
// strictly newer than the current value (or the current value is null).
// Returns whether the row was advanced.
func (r *Repo) UpdateLastSeenAt(ctx context.Context, tx *sql.Tx, hiveID int, observedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE hives SET last_seen_at = ?
		WHERE id = ? AND (last_seen_at IS NULL OR last_seen_at < ?)`,
		observedAt, hiveID, observedAt)
	if err != nil {
		return false, fmt.Errorf("db: update last_seen_at: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db: rows affected: %w", err)
	}
	return n > 0, nil
}

// HivesStaleSince returns hives whose last_seen_at is non-null and older
// than cutoff — candidates for the NO_DATA sweep. Hives that have never
// reported are exempt.
func (r *Repo) HivesStaleSince(ctx context.Context, cutoff string) ([]model.Hive, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, name, location, notes, sender_mac, last_seen_at, created_at, row_synced
		FROM hives WHERE last_seen_at IS NOT NULL AND last_seen_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("db: query stale hives: %w", err)
	}
	defer rows.Close()

	var out []model.Hive
	for rows.Next() {
		var h model.Hive
		var location, notes, senderMAC, lastSeenAt sql.NullString
		var rowSynced int
		if err := rows.Scan(&h.ID, &h.Name, &location, &notes, &senderMAC, &lastSeenAt, &h.CreatedAt, &rowSynced); err != nil {
			return nil, fmt.Errorf("db: scan stale hive: %w", err)
		}
		h.Location = location.String
		h.Notes = notes.String
		if senderMAC.Valid {
			h.SenderMAC = &senderMAC.String
		}
		if lastSeenAt.Valid {
			h.LastSeenAt = &lastSeenAt.String
		}
		h.RowSynced = rowSynced == 1
		out = append(out, h)
	}
	return out, rows.Err()
}

// UnsyncedHives returns up to limit hives with row_synced = 0.
func (r *Repo) UnsyncedHives(ctx context.Context, limit int) ([]model.Hive, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, name, location, notes, sender_mac, last_seen_at, created_at, row_synced
		FROM hives WHERE row_synced = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query unsynced hives: %w", err)
	}
	defer rows.Close()

	var out []model.Hive
	for rows.Next() {
		var h model.Hive
		var location, notes, senderMAC, lastSeenAt sql.NullString
		var rowSynced int
		if err := rows.Scan(&h.ID, &h.Name, &location, &notes, &senderMAC, &lastSeenAt, &h.CreatedAt, &rowSynced); err != nil {
			return nil, fmt.Errorf("db: scan unsynced hive: %w", err)
		}
		h.Location = location.String
		h.Notes = notes.String
		if senderMAC.Valid {
			h.SenderMAC = &senderMAC.String
		}
		if lastSeenAt.Valid {
			h.LastSeenAt = &lastSeenAt.String
		}
		h.RowSynced = rowSynced == 1
		out = append(out, h)
	}
	return out, rows.Err()
}

// MarkHivesSynced sets row_synced = 1 for exactly the given ids.
func (r *Repo) MarkHivesSynced(ctx context.Context, ids []int) error {
	return markSyncedInts(ctx, r.DB, "hives", "id", ids)
}

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/waggle-hive/hivehub/internal/model"
)

// InsertReadingIgnore inserts a SensorReading, treating a collision on
// (hive_id, sequence, observed_at) as an authoritative dedup rather than an
// error. Returns the new row id and whether a row was actually inserted.
func (r *Repo) InsertReadingIgnore(ctx context.Context, tx *sql.Tx, rec model.SensorReading) (int64, bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO sensor_readings
			(hive_id, observed_at, ingested_at, weight_kg, temp_c, humidity_pct,
			 pressure_hpa, battery_v, sequence, flags, sender_mac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.HiveID, rec.ObservedAt, rec.IngestedAt, rec.WeightKg, rec.TempC, rec.HumidityPct,
		rec.PressureHPa, rec.BatteryV, rec.Sequence, rec.Flags, rec.SenderMAC)
	if err != nil {
		return 0, false, fmt.Errorf("db: insert reading: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("db: rows affected: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("db: last insert id: %w", err)
	}
	return id, true, nil
}

// InsertBeeCount inserts the paired traffic row for an already-inserted
// SensorReading. bee_counts is append-only; this is the only writer.
func (r *Repo) InsertBeeCount(ctx context.Context, tx *sql.Tx, bc model.BeeCount) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bee_counts
			(reading_id, hive_id, observed_at, period_ms, bees_in, bees_out,
			 lane_mask, stuck_mask, sequence, flags, sender_mac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT sequence FROM sensor_readings WHERE id = ?),
			(SELECT flags FROM sensor_readings WHERE id = ?),
			(SELECT sender_mac FROM sensor_readings WHERE id = ?))`,
		bc.ReadingID, bc.HiveID, bc.ObservedAt, bc.PeriodMs, bc.BeesIn, bc.BeesOut,
		bc.LaneMask, bc.StuckMask, bc.ReadingID, bc.ReadingID, bc.ReadingID)
	if err != nil {
		return fmt.Errorf("db: insert bee_count: %w", err)
	}
	return nil
}

// RecentSequencesForWarmup loads (sequence, observed_at) pairs ingested
// since cutoff, for seeding the in-process dedup cache at startup.
func (r *Repo) RecentSequencesForWarmup(ctx context.Context, hiveID int, cutoff string) (map[uint16]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT sequence, observed_at FROM sensor_readings
		WHERE hive_id = ? AND ingested_at >= ?
		ORDER BY ingested_at ASC`, hiveID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("db: warmup query: %w", err)
	}
	defer rows.Close()

	out := map[uint16]string{}
	for rows.Next() {
		var seq uint16
		var observedAt string
		if err := rows.Scan(&seq, &observedAt); err != nil {
			return nil, fmt.Errorf("db: warmup scan: %w", err)
		}
		out[seq] = observedAt
	}
	return out, rows.Err()
}

// UnsyncedReadings returns up to limit SensorReading ids with row_synced=0
// along with their wire-mapped fields for the sync push pass.
func (r *Repo) UnsyncedReadings(ctx context.Context, limit int) ([]model.SensorReading, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, hive_id, observed_at, ingested_at, weight_kg, temp_c, humidity_pct,
		       pressure_hpa, battery_v, sequence, flags, sender_mac
		FROM sensor_readings WHERE row_synced = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query unsynced readings: %w", err)
	}
	defer rows.Close()

	var out []model.SensorReading
	for rows.Next() {
		var rec model.SensorReading
		if err := rows.Scan(&rec.ID, &rec.HiveID, &rec.ObservedAt, &rec.IngestedAt,
			&rec.WeightKg, &rec.TempC, &rec.HumidityPct, &rec.PressureHPa, &rec.BatteryV,
			&rec.Sequence, &rec.Flags, &rec.SenderMAC); err != nil {
			return nil, fmt.Errorf("db: scan unsynced reading: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkReadingsSynced sets row_synced = 1 for exactly the given ids.
func (r *Repo) MarkReadingsSynced(ctx context.Context, ids []int64) error {
	return markSyncedInt64s(ctx, r.DB, "sensor_readings", "id", ids)
}

// UnsyncedBeeCounts returns up to limit BeeCount rows with row_synced=0.
func (r *Repo) UnsyncedBeeCounts(ctx context.Context, limit int) ([]model.BeeCount, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, reading_id, hive_id, observed_at, period_ms, bees_in, bees_out,
		       lane_mask, stuck_mask
		FROM bee_counts WHERE row_synced = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query unsynced bee_counts: %w", err)
	}
	defer rows.Close()

	var out []model.BeeCount
	for rows.Next() {
		var bc model.BeeCount
		if err := rows.Scan(&bc.ID, &bc.ReadingID, &bc.HiveID, &bc.ObservedAt, &bc.PeriodMs,
			&bc.BeesIn, &bc.BeesOut, &bc.LaneMask, &bc.StuckMask); err != nil {
			return nil, fmt.Errorf("db: scan unsynced bee_count: %w", err)
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

// MarkBeeCountsSynced sets row_synced = 1 for exactly the given ids. This is
// the one exception to bee_counts' append-only trigger: row_synced is not
// in the trigger's guarded column list, so this UPDATE is permitted.
func (r *Repo) MarkBeeCountsSynced(ctx context.Context, ids []int64) error {
	return markSyncedInt64s(ctx, r.DB, "bee_counts", "id", ids)
}

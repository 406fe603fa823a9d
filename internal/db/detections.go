package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waggle-hive/hivehub/internal/model"
)

// InsertDetection writes the one MlDetection summarizing a claimed photo.
func (r *Repo) InsertDetection(ctx context.Context, d model.MlDetection) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO ml_detections
			(photo_id, hive_id, detected_at, top_class, top_confidence, detections_json,
			 varroa_count, pollen_count, wasp_count, bee_count, normal_count,
			 varroa_max_confidence, inference_ms, model_version, model_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.PhotoID, d.HiveID, d.DetectedAt, d.TopClass, d.TopConfidence, d.RawBoxesJSON,
		d.VarroaCount, d.PollenCount, d.WaspCount, d.BeeCount, d.NormalCount,
		d.VarroaMaxConfidence, d.InferenceMs, d.ModelVersion, d.ModelHash)
	if err != nil {
		return 0, fmt.Errorf("db: insert detection: %w", err)
	}
	return res.LastInsertId()
}

// LatestDetection returns the most recent MlDetection for a hive, for the
// VARROA_DETECTED rule.
func (r *Repo) LatestDetection(ctx context.Context, hiveID int) (*model.MlDetection, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, photo_id, hive_id, detected_at, top_class, top_confidence,
		       varroa_count, pollen_count, wasp_count, bee_count, normal_count,
		       varroa_max_confidence, inference_ms, model_version, model_hash
		FROM ml_detections WHERE hive_id = ?
		ORDER BY detected_at DESC, id DESC LIMIT 1`, hiveID)

	var d model.MlDetection
	err := row.Scan(&d.ID, &d.PhotoID, &d.HiveID, &d.DetectedAt, &d.TopClass, &d.TopConfidence,
		&d.VarroaCount, &d.PollenCount, &d.WaspCount, &d.BeeCount, &d.NormalCount,
		&d.VarroaMaxConfidence, &d.InferenceMs, &d.ModelVersion, &d.ModelHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: scan latest detection: %w", err)
	}
	return &d, nil
}

// VarroaLoadRatio is Σ varroa_count * 100 / Σ bee_count over detections for
// hiveID with detected_at in [dayStart, dayEnd), for VARROA_HIGH_LOAD.
func (r *Repo) VarroaLoadRatio(ctx context.Context, hiveID int, dayStart, dayEnd string) (ratio float64, sampleCount int, err error) {
	var varroaSum, beeSum sql.NullInt64
	row := r.DB.QueryRowContext(ctx, `
		SELECT SUM(varroa_count), SUM(bee_count), COUNT(*)
		FROM ml_detections WHERE hive_id = ? AND detected_at >= ? AND detected_at < ?`,
		hiveID, dayStart, dayEnd)
	if err := row.Scan(&varroaSum, &beeSum, &sampleCount); err != nil {
		return 0, 0, fmt.Errorf("db: varroa load ratio: %w", err)
	}
	if !beeSum.Valid || beeSum.Int64 == 0 {
		return 0, sampleCount, nil
	}
	return float64(varroaSum.Int64) * 100 / float64(beeSum.Int64), sampleCount, nil
}

// WaspCountSince sums wasp_count across detections for hiveID since cutoff,
// for the WASP_ATTACK rule.
func (r *Repo) WaspCountSince(ctx context.Context, hiveID int, cutoff string) (int, error) {
	var sum sql.NullInt64
	row := r.DB.QueryRowContext(ctx, `
		SELECT SUM(wasp_count) FROM ml_detections WHERE hive_id = ? AND detected_at >= ?`,
		hiveID, cutoff)
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("db: wasp count since: %w", err)
	}
	return int(sum.Int64), nil
}

// DailyVarroaRatio is one day's Σvarroa*100/Σbee ratio, used by the
// VARROA_RISING trend rule.
type DailyVarroaRatio struct {
	Day     string
	Ratio   float64
	Samples int
}

// DailyVarroaRatios returns one ratio per UTC calendar day in [since, until)
// that has at least one detection, ordered oldest-first.
func (r *Repo) DailyVarroaRatios(ctx context.Context, hiveID int, since, until string) ([]DailyVarroaRatio, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT substr(detected_at, 1, 10) AS day, SUM(varroa_count), SUM(bee_count), COUNT(*)
		FROM ml_detections
		WHERE hive_id = ? AND detected_at >= ? AND detected_at < ?
		GROUP BY day ORDER BY day ASC`, hiveID, since, until)
	if err != nil {
		return nil, fmt.Errorf("db: daily varroa ratios: %w", err)
	}
	defer rows.Close()

	var out []DailyVarroaRatio
	for rows.Next() {
		var day string
		var varroaSum, beeSum sql.NullInt64
		var samples int
		if err := rows.Scan(&day, &varroaSum, &beeSum, &samples); err != nil {
			return nil, fmt.Errorf("db: scan daily varroa ratio: %w", err)
		}
		var ratio float64
		if beeSum.Valid && beeSum.Int64 > 0 {
			ratio = float64(varroaSum.Int64) * 100 / float64(beeSum.Int64)
		}
		out = append(out, DailyVarroaRatio{Day: day, Ratio: ratio, Samples: samples})
	}
	return out, rows.Err()
}

// UnsyncedDetections returns up to limit MlDetection rows with row_synced=0.
func (r *Repo) UnsyncedDetections(ctx context.Context, limit int) ([]model.MlDetection, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, photo_id, hive_id, detected_at, top_class, top_confidence,
		       varroa_count, pollen_count, wasp_count, bee_count, normal_count,
		       varroa_max_confidence, inference_ms, model_version, model_hash
		FROM ml_detections WHERE row_synced = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query unsynced detections: %w", err)
	}
	defer rows.Close()

	var out []model.MlDetection
	for rows.Next() {
		var d model.MlDetection
		if err := rows.Scan(&d.ID, &d.PhotoID, &d.HiveID, &d.DetectedAt, &d.TopClass, &d.TopConfidence,
			&d.VarroaCount, &d.PollenCount, &d.WaspCount, &d.BeeCount, &d.NormalCount,
			&d.VarroaMaxConfidence, &d.InferenceMs, &d.ModelVersion, &d.ModelHash); err != nil {
			return nil, fmt.Errorf("db: scan unsynced detection: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDetectionsSynced sets row_synced = 1 for exactly the given ids.
func (r *Repo) MarkDetectionsSynced(ctx context.Context, ids []int64) error {
	return markSyncedInt64s(ctx, r.DB, "ml_detections", "id", ids)
}

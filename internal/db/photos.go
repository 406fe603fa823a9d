package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/waggle-hive/hivehub/internal/model"
)

// ErrDuplicatePhoto signals the (device_id, boot_id, sequence) unique index
// rejected an insert; ExistingID carries the original row's id.
type ErrDuplicatePhoto struct {
	ExistingID int64
}

func (e *ErrDuplicatePhoto) Error() string {
	return fmt.Sprintf("db: duplicate photo, existing id=%d", e.ExistingID)
}

// InsertPhoto inserts a newly-uploaded photo row. On a (device_id, boot_id,
// sequence) collision it looks up the existing row and returns an
// *ErrDuplicatePhoto carrying its id, so callers can tell a repeat upload
// apart from other insert failures.
func (r *Repo) InsertPhoto(ctx context.Context, p model.Photo) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO photos
			(hive_id, device_id, boot_id, captured_at, captured_at_source, sequence,
			 photo_path, file_size_bytes, sha256, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.HiveID, p.DeviceID, p.BootID, p.CapturedAt, p.CapturedAtSource, p.Sequence,
		p.PhotoPath, p.FileSizeBytes, p.SHA256, p.Width, p.Height)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := r.photoIDByIdempotencyKey(ctx, p.DeviceID, p.BootID, p.Sequence)
			if lookupErr != nil {
				return 0, lookupErr
			}
			return 0, &ErrDuplicatePhoto{ExistingID: existing}
		}
		return 0, fmt.Errorf("db: insert photo: %w", err)
	}
	return res.LastInsertId()
}

func (r *Repo) photoIDByIdempotencyKey(ctx context.Context, deviceID, bootID string, sequence uint32) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `
		SELECT id FROM photos WHERE device_id = ? AND boot_id = ? AND sequence = ?`,
		deviceID, bootID, sequence).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: lookup duplicate photo: %w", err)
	}
	return id, nil
}

// ClaimNextPending atomically transitions the oldest pending photo (by
// ingested_at, id) to processing, incrementing ml_attempts and stamping
// ml_started_at, and returns it. Returns (nil, nil) if no pending photo
// exists. A racing worker that claims the same candidate id first just
// makes this worker retry the next-oldest candidate, rather than re-reading
// by (ml_status, ml_started_at) and risking two concurrent claims within
// the same timestamp colliding on the same row.
func (r *Repo) ClaimNextPending(ctx context.Context, now string) (*model.Photo, error) {
	for {
		var id int64
		err := r.DB.QueryRowContext(ctx, `
			SELECT id FROM photos WHERE ml_status = 'pending'
			ORDER BY ingested_at ASC, id ASC LIMIT 1`).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("db: find pending photo: %w", err)
		}

		res, err := r.DB.ExecContext(ctx, `
			UPDATE photos SET ml_status = 'processing', ml_attempts = ml_attempts + 1, ml_started_at = ?
			WHERE id = ? AND ml_status = 'pending'`, now, id)
		if err != nil {
			return nil, fmt.Errorf("db: claim photo %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("db: claim rows affected: %w", err)
		}
		if n == 0 {
			continue // a racing worker claimed this id between our SELECT and UPDATE; try the next one
		}

		row := r.DB.QueryRowContext(ctx, `
			SELECT id, hive_id, device_id, boot_id, captured_at, captured_at_source, sequence,
			       photo_path, file_size_bytes, sha256, width, height, ml_status, ml_started_at,
			       ml_processed_at, ml_attempts, ml_error
			FROM photos WHERE id = ?`, id)
		return scanPhoto(row)
	}
}

func scanPhoto(row *sql.Row) (*model.Photo, error) {
	var p model.Photo
	var mlStartedAt, mlProcessedAt, mlError sql.NullString
	err := row.Scan(&p.ID, &p.HiveID, &p.DeviceID, &p.BootID, &p.CapturedAt, &p.CapturedAtSource,
		&p.Sequence, &p.PhotoPath, &p.FileSizeBytes, &p.SHA256, &p.Width, &p.Height,
		&p.MLStatus, &mlStartedAt, &mlProcessedAt, &p.MLAttempts, &mlError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: scan photo: %w", err)
	}
	if mlStartedAt.Valid {
		p.MLStartedAt = &mlStartedAt.String
	}
	if mlProcessedAt.Valid {
		p.MLProcessedAt = &mlProcessedAt.String
	}
	if mlError.Valid {
		p.MLError = &mlError.String
	}
	return &p, nil
}

// CompletePhoto marks a photo completed after a successful inference.
func (r *Repo) CompletePhoto(ctx context.Context, id int64, processedAt string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE photos SET ml_status = 'completed', ml_processed_at = ?, ml_error = NULL
		WHERE id = ?`, processedAt, id)
	if err != nil {
		return fmt.Errorf("db: complete photo: %w", err)
	}
	return nil
}

// FailPhoto records an inference failure. If attempts has reached the cap,
// the photo moves to failed with ml_error populated; otherwise it returns
// to pending for another worker to retry.
func (r *Repo) FailPhoto(ctx context.Context, id int64, attempts int, maxAttempts int, errMsg string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := r.DB.ExecContext(ctx, `
		UPDATE photos SET ml_status = ?, ml_error = ? WHERE id = ?`, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("db: fail photo: %w", err)
	}
	return nil
}

// RecoverStaleClaims resets processing photos whose ml_started_at is older
// than cutoff back to pending. This is the sole liveness mechanism for
// crashed ML workers.
func (r *Repo) RecoverStaleClaims(ctx context.Context, cutoff string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE photos SET ml_status = 'pending'
		WHERE ml_status = 'processing' AND ml_started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db: recover stale claims: %w", err)
	}
	return res.RowsAffected()
}

// GetPhoto fetches one photo by id.
func (r *Repo) GetPhoto(ctx context.Context, id int64) (*model.Photo, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, hive_id, device_id, boot_id, captured_at, captured_at_source, sequence,
		       photo_path, file_size_bytes, sha256, width, height, ml_status, ml_started_at,
		       ml_processed_at, ml_attempts, ml_error
		FROM photos WHERE id = ?`, id)
	return scanPhoto(row)
}

// UnfiledPhotos returns photos needing an object-storage upload: terminal
// ML state, file not yet synced.
func (r *Repo) UnfiledPhotos(ctx context.Context, limit int) ([]model.Photo, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, hive_id, device_id, boot_id, captured_at, captured_at_source, sequence,
		       photo_path, file_size_bytes, sha256, width, height, ml_status, ml_started_at,
		       ml_processed_at, ml_attempts, ml_error
		FROM photos
		WHERE file_synced = 0 AND ml_status IN ('completed', 'failed')
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query unfiled photos: %w", err)
	}
	defer rows.Close()

	var out []model.Photo
	for rows.Next() {
		var p model.Photo
		var mlStartedAt, mlProcessedAt, mlError sql.NullString
		if err := rows.Scan(&p.ID, &p.HiveID, &p.DeviceID, &p.BootID, &p.CapturedAt, &p.CapturedAtSource,
			&p.Sequence, &p.PhotoPath, &p.FileSizeBytes, &p.SHA256, &p.Width, &p.Height,
			&p.MLStatus, &mlStartedAt, &mlProcessedAt, &p.MLAttempts, &mlError); err != nil {
			return nil, fmt.Errorf("db: scan unfiled photo: %w", err)
		}
		if mlStartedAt.Valid {
			p.MLStartedAt = &mlStartedAt.String
		}
		if mlProcessedAt.Valid {
			p.MLProcessedAt = &mlProcessedAt.String
		}
		if mlError.Valid {
			p.MLError = &mlError.String
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPhotoFileSynced records a completed object-storage upload.
func (r *Repo) MarkPhotoFileSynced(ctx context.Context, id int64, cloudPath string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE photos SET file_synced = 1, supabase_path = ? WHERE id = ?`, cloudPath, id)
	if err != nil {
		return fmt.Errorf("db: mark photo file synced: %w", err)
	}
	return nil
}

// UnsyncedPhotos returns up to limit photo rows with row_synced = 0.
func (r *Repo) UnsyncedPhotos(ctx context.Context, limit int) ([]model.Photo, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, hive_id, device_id, boot_id, captured_at, captured_at_source, sequence,
		       photo_path, file_size_bytes, sha256, width, height, ml_status, ml_started_at,
		       ml_processed_at, ml_attempts, ml_error
		FROM photos WHERE row_synced = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query unsynced photos: %w", err)
	}
	defer rows.Close()

	var out []model.Photo
	for rows.Next() {
		var p model.Photo
		var mlStartedAt, mlProcessedAt, mlError sql.NullString
		if err := rows.Scan(&p.ID, &p.HiveID, &p.DeviceID, &p.BootID, &p.CapturedAt, &p.CapturedAtSource,
			&p.Sequence, &p.PhotoPath, &p.FileSizeBytes, &p.SHA256, &p.Width, &p.Height,
			&p.MLStatus, &mlStartedAt, &mlProcessedAt, &p.MLAttempts, &mlError); err != nil {
			return nil, fmt.Errorf("db: scan unsynced photo: %w", err)
		}
		if mlStartedAt.Valid {
			p.MLStartedAt = &mlStartedAt.String
		}
		if mlProcessedAt.Valid {
			p.MLProcessedAt = &mlProcessedAt.String
		}
		if mlError.Valid {
			p.MLError = &mlError.String
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPhotosSynced sets row_synced = 1 for exactly the given ids.
func (r *Repo) MarkPhotosSynced(ctx context.Context, ids []int64) error {
	return markSyncedInt64s(ctx, r.DB, "photos", "id", ids)
}

// AllPhotoPaths returns every photo_path currently on record, for the
// reconciler's orphan-file sweep (files on disk with no matching row).
func (r *Repo) AllPhotoPaths(ctx context.Context) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT photo_path FROM photos`)
	if err != nil {
		return nil, fmt.Errorf("db: query photo paths: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("db: scan photo path: %w", err)
		}
		out[path] = true
	}
	return out, rows.Err()
}

// PrunablePhotos returns photos in a terminal ML state, already
// row-synced, captured before cutoff — the rows and files the retention
// prune deletes. file_synced is not checked.
func (r *Repo) PrunablePhotos(ctx context.Context, cutoff string, limit int) ([]model.Photo, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, hive_id, device_id, boot_id, captured_at, captured_at_source, sequence,
		       photo_path, file_size_bytes, sha256, width, height, ml_status, ml_started_at,
		       ml_processed_at, ml_attempts, ml_error
		FROM photos
		WHERE captured_at < ? AND ml_status IN ('completed', 'failed') AND row_synced = 1
		LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query prunable photos: %w", err)
	}
	defer rows.Close()

	var out []model.Photo
	for rows.Next() {
		var p model.Photo
		var mlStartedAt, mlProcessedAt, mlError sql.NullString
		if err := rows.Scan(&p.ID, &p.HiveID, &p.DeviceID, &p.BootID, &p.CapturedAt, &p.CapturedAtSource,
			&p.Sequence, &p.PhotoPath, &p.FileSizeBytes, &p.SHA256, &p.Width, &p.Height,
			&p.MLStatus, &mlStartedAt, &mlProcessedAt, &p.MLAttempts, &mlError); err != nil {
			return nil, fmt.Errorf("db: scan prunable photo: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePhoto removes a photo row (ml_detections cascade via FK).
func (r *Repo) DeletePhoto(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("db: delete photo %d: %w", id, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}

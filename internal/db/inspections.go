package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waggle-hive/hivehub/internal/model"
)

// GetInspection fetches one inspection by its client-supplied UUID.
func (r *Repo) GetInspection(ctx context.Context, id string) (*model.Inspection, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT uuid, hive_id, inspected_at, created_at, updated_at, queen_seen,
		       brood_pattern, treatment_type, treatment_notes, notes, source, row_synced
		FROM inspections WHERE uuid = ?`, id)
	return scanInspection(row)
}

func scanInspection(row *sql.Row) (*model.Inspection, error) {
	var insp model.Inspection
	var brood, treatType, treatNotes, notes sql.NullString
	var queenSeen, rowSynced int
	err := row.Scan(&insp.ID, &insp.HiveID, &insp.InspectedAt, &insp.CreatedAt, &insp.UpdatedAt,
		&queenSeen, &brood, &treatType, &treatNotes, &notes, &insp.Source, &rowSynced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: scan inspection: %w", err)
	}
	insp.QueenSeen = queenSeen == 1
	if brood.Valid {
		bp := model.BroodPattern(brood.String)
		insp.BroodPattern = &bp
	}
	if treatType.Valid {
		insp.TreatmentType = &treatType.String
	}
	if treatNotes.Valid {
		insp.TreatmentNotes = &treatNotes.String
	}
	if notes.Valid {
		insp.Notes = &notes.String
	}
	insp.RowSynced = rowSynced == 1
	return &insp, nil
}

// InsertInspection creates a new beekeeper-authored inspection. The uuid is
// client-supplied, so a repeat submission of the same record fails on the
// uuid key instead of creating a duplicate — callers should check
// GetInspection first for idempotent retries.
func (r *Repo) InsertInspection(ctx context.Context, insp model.Inspection) error {
	var brood, treatType, treatNotes, notes any
	if insp.BroodPattern != nil {
		brood = string(*insp.BroodPattern)
	}
	if insp.TreatmentType != nil {
		treatType = *insp.TreatmentType
	}
	if insp.TreatmentNotes != nil {
		treatNotes = *insp.TreatmentNotes
	}
	if insp.Notes != nil {
		notes = *insp.Notes
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO inspections (uuid, hive_id, inspected_at, created_at, updated_at,
		                          queen_seen, brood_pattern, treatment_type, treatment_notes,
		                          notes, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insp.ID, insp.HiveID, insp.InspectedAt, insp.CreatedAt, insp.UpdatedAt,
		boolToInt(insp.QueenSeen), brood, treatType, treatNotes, notes, insp.Source)
	if err != nil {
		return fmt.Errorf("db: insert inspection: %w", err)
	}
	return nil
}

// ApplyCloudInspection upserts a cloud-authored or cloud-edited inspection
// using last-write-wins on updated_at: a pull with an older or equal
// updated_at than the local row is discarded.
func (r *Repo) ApplyCloudInspection(ctx context.Context, insp model.Inspection) (applied bool, err error) {
	existing, err := r.GetInspection(ctx, insp.ID)
	if errors.Is(err, ErrNotFound) {
		insp.Source = model.SourceCloud
		insp.RowSynced = true
		if err := r.InsertInspection(ctx, insp); err != nil {
			return false, err
		}
		if _, err := r.DB.ExecContext(ctx, `UPDATE inspections SET row_synced = 1 WHERE uuid = ?`, insp.ID); err != nil {
			return false, fmt.Errorf("db: mark cloud inspection synced: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if insp.UpdatedAt <= existing.UpdatedAt {
		return false, nil
	}

	var brood, treatType, treatNotes, notes any
	if insp.BroodPattern != nil {
		brood = string(*insp.BroodPattern)
	}
	if insp.TreatmentType != nil {
		treatType = *insp.TreatmentType
	}
	if insp.TreatmentNotes != nil {
		treatNotes = *insp.TreatmentNotes
	}
	if insp.Notes != nil {
		notes = *insp.Notes
	}
	_, err = r.DB.ExecContext(ctx, `
		UPDATE inspections SET inspected_at = ?, updated_at = ?, queen_seen = ?,
		                        brood_pattern = ?, treatment_type = ?, treatment_notes = ?,
		                        notes = ?, source = 'cloud', row_synced = 1
		WHERE uuid = ?`,
		insp.InspectedAt, insp.UpdatedAt, boolToInt(insp.QueenSeen), brood, treatType,
		treatNotes, notes, insp.ID)
	if err != nil {
		return false, fmt.Errorf("db: apply cloud inspection: %w", err)
	}
	return true, nil
}

// UnsyncedInspections returns up to limit Inspection rows with row_synced=0.
func (r *Repo) UnsyncedInspections(ctx context.Context, limit int) ([]model.Inspection, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT uuid, hive_id, inspected_at, created_at, updated_at, queen_seen,
		       brood_pattern, treatment_type, treatment_notes, notes, source, row_synced
		FROM inspections WHERE row_synced = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query unsynced inspections: %w", err)
	}
	defer rows.Close()

	var out []model.Inspection
	for rows.Next() {
		var insp model.Inspection
		var brood, treatType, treatNotes, notes sql.NullString
		var queenSeen, rowSynced int
		if err := rows.Scan(&insp.ID, &insp.HiveID, &insp.InspectedAt, &insp.CreatedAt, &insp.UpdatedAt,
			&queenSeen, &brood, &treatType, &treatNotes, &notes, &insp.Source, &rowSynced); err != nil {
			return nil, fmt.Errorf("db: scan unsynced inspection: %w", err)
		}
		insp.QueenSeen = queenSeen == 1
		if brood.Valid {
			bp := model.BroodPattern(brood.String)
			insp.BroodPattern = &bp
		}
		if treatType.Valid {
			insp.TreatmentType = &treatType.String
		}
		if treatNotes.Valid {
			insp.TreatmentNotes = &treatNotes.String
		}
		if notes.Valid {
			insp.Notes = &notes.String
		}
		insp.RowSynced = rowSynced == 1
		out = append(out, insp)
	}
	return out, rows.Err()
}

// MarkInspectionsSynced sets row_synced = 1 for exactly the given uuids.
func (r *Repo) MarkInspectionsSynced(ctx context.Context, ids []string) error {
	return markSyncedStrings(ctx, r.DB, "inspections", "uuid", ids)
}

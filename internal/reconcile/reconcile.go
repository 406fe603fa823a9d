// Package reconcile runs a one-shot startup pass that reconciles the photo
// directory against the database before any worker starts claiming or
// serving photos: orphaned files (no matching row) are quarantined rather
// than deleted outright, orphaned rows (no matching file) are dropped,
// any ML claim left mid-processing by a crashed worker is recovered, and
// photos past the configured retention window are pruned.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/model"
)

const sentinelName = ".reconcile.lock"
const quarantineDir = ".quarantine"

// Reconciler owns the photo directory's on-disk/on-row reconciliation.
type Reconciler struct {
	repo          *db.Repo
	photoDir      string
	retentionDays int
	log           zerolog.Logger
	now           func() time.Time
}

// New builds a Reconciler. retentionDays <= 0 disables pruning.
func New(repo *db.Repo, photoDir string, retentionDays int, log zerolog.Logger) *Reconciler {
	return &Reconciler{repo: repo, photoDir: photoDir, retentionDays: retentionDays, log: log, now: time.Now}
}

// Run performs the full startup reconciliation. It is idempotent and safe
// to run again after a crash mid-way — every step only ever moves files
// into quarantine, deletes rows already confirmed orphaned, or deletes
// rows/files already past the retention window.
func (r *Reconciler) Run(ctx context.Context) error {
	sentinelPath := filepath.Join(r.photoDir, sentinelName)
	if _, err := os.Stat(sentinelPath); err == nil {
		r.log.Warn().Str("sentinel", sentinelPath).Msg("reconcile: previous run did not exit cleanly, re-running reconciliation")
	}
	if err := os.WriteFile(sentinelPath, []byte(model.FormatTime(r.now())), 0o600); err != nil {
		return fmt.Errorf("reconcile: write sentinel: %w", err)
	}
	defer os.Remove(sentinelPath)

	if err := r.quarantineOrphanFiles(ctx); err != nil {
		return fmt.Errorf("reconcile: orphan files: %w", err)
	}
	if err := r.deleteOrphanRows(ctx); err != nil {
		return fmt.Errorf("reconcile: orphan rows: %w", err)
	}
	if n, err := r.repo.RecoverStaleClaims(ctx, model.FormatTime(r.now().Add(-10*time.Minute))); err != nil {
		return fmt.Errorf("reconcile: recover stale claims: %w", err)
	} else if n > 0 {
		r.log.Warn().Int64("count", n).Msg("reconcile: recovered ML claims stranded by a prior crash")
	}
	if err := r.pruneExpiredPhotos(ctx); err != nil {
		return fmt.Errorf("reconcile: prune expired photos: %w", err)
	}
	return nil
}

// quarantineOrphanFiles moves any .jpg under photoDir with no matching
// photos.photo_path row into photoDir/.quarantine/, preserving the file
// for manual inspection instead of deleting camera data outright.
func (r *Reconciler) quarantineOrphanFiles(ctx context.Context) error {
	known, err := r.repo.AllPhotoPaths(ctx)
	if err != nil {
		return err
	}

	quarantine := filepath.Join(r.photoDir, quarantineDir)
	if err := os.MkdirAll(quarantine, 0o700); err != nil {
		return fmt.Errorf("reconcile: mkdir quarantine: %w", err)
	}

	return filepath.WalkDir(r.photoDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path == quarantine {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".jpg" {
			return nil
		}
		if known[path] {
			return nil
		}

		dest := filepath.Join(quarantine, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			r.log.Error().Err(err).Str("path", path).Msg("reconcile: could not quarantine orphan file")
			return nil
		}
		r.log.Warn().Str("path", path).Str("dest", dest).Msg("reconcile: quarantined orphan photo file")
		return nil
	})
}

// deleteOrphanRows drops photo rows whose file no longer exists on disk —
// a row with nothing to infer on or serve is dead weight, not data to
// preserve.
func (r *Reconciler) deleteOrphanRows(ctx context.Context) error {
	known, err := r.repo.AllPhotoPaths(ctx)
	if err != nil {
		return err
	}
	for path := range known {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := r.deleteRowByPath(ctx, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) deleteRowByPath(ctx context.Context, path string) error {
	var id int64
	err := r.repo.DB.QueryRowContext(ctx, `SELECT id FROM photos WHERE photo_path = ?`, path).Scan(&id)
	if err != nil {
		return fmt.Errorf("reconcile: lookup orphan row for %s: %w", path, err)
	}
	if err := r.repo.DeletePhoto(ctx, id); err != nil {
		return err
	}
	r.log.Warn().Str("path", path).Int64("photo_id", id).Msg("reconcile: deleted row for missing photo file")
	return nil
}

// pruneExpiredPhotos removes both the row and file for photos captured
// before the retention window, once they're confirmed synced so nothing
// is lost that the cloud store doesn't already have a copy of.
func (r *Reconciler) pruneExpiredPhotos(ctx context.Context) error {
	if r.retentionDays <= 0 {
		return nil
	}
	cutoff := model.FormatTime(r.now().AddDate(0, 0, -r.retentionDays))

	for {
		photos, err := r.repo.PrunablePhotos(ctx, cutoff, 100)
		if err != nil {
			return err
		}
		if len(photos) == 0 {
			return nil
		}
		for _, p := range photos {
			if err := os.Remove(p.PhotoPath); err != nil && !os.IsNotExist(err) {
				r.log.Error().Err(err).Int64("photo_id", p.ID).Msg("reconcile: could not remove expired photo file")
				continue
			}
			if err := r.repo.DeletePhoto(ctx, p.ID); err != nil {
				return err
			}
		}
	}
}

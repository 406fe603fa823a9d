package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/model"
)

func openTestRepo(t *testing.T) *db.Repo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reconcile-test.db")
	conn, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return db.New(conn)
}

func insertCamera(t *testing.T, repo *db.Repo, hiveID int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.InsertHive(ctx, model.Hive{ID: hiveID, Name: "hive", CreatedAt: model.NowUTC()}))
	_, err := repo.DB.ExecContext(ctx, `
		INSERT INTO camera_nodes (device_id, hive_id, api_key_hash, created_at)
		VALUES ('cam-1', ?, 'hash', ?)`, hiveID, model.NowUTC())
	require.NoError(t, err)
}

func TestRunQuarantinesOrphanFile(t *testing.T) {
	repo := openTestRepo(t)
	photoDir := t.TempDir()
	orphan := filepath.Join(photoDir, "orphan.jpg")
	require.NoError(t, os.WriteFile(orphan, []byte("data"), 0o600))

	r := New(repo, photoDir, 0, zerolog.Nop())
	require.NoError(t, r.Run(context.Background()))

	_, err := os.Stat(orphan)
	require.True(t, os.IsNotExist(err), "orphan file must be moved out of place")

	_, err = os.Stat(filepath.Join(photoDir, quarantineDir, "orphan.jpg"))
	require.NoError(t, err, "orphan file must land in quarantine")
}

func TestRunDeletesRowForMissingFile(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	insertCamera(t, repo, 1)
	photoDir := t.TempDir()
	missingPath := filepath.Join(photoDir, "missing.jpg")

	_, err := repo.InsertPhoto(ctx, model.Photo{
		HiveID: 1, DeviceID: "cam-1", BootID: "boot-1", CapturedAt: model.NowUTC(),
		CapturedAtSource: model.CapturedAtIngested, Sequence: 1, PhotoPath: missingPath,
		FileSizeBytes: 10, SHA256: "abc", Width: 800, Height: 600,
	})
	require.NoError(t, err)

	r := New(repo, photoDir, 0, zerolog.Nop())
	require.NoError(t, r.Run(ctx))

	var count int
	require.NoError(t, repo.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos`).Scan(&count))
	require.Equal(t, 0, count, "row with no backing file must be deleted")
}

func TestRunLeavesKnownFileInPlace(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	insertCamera(t, repo, 1)
	photoDir := t.TempDir()
	knownPath := filepath.Join(photoDir, "known.jpg")
	require.NoError(t, os.WriteFile(knownPath, []byte("data"), 0o600))

	_, err := repo.InsertPhoto(ctx, model.Photo{
		HiveID: 1, DeviceID: "cam-1", BootID: "boot-1", CapturedAt: model.NowUTC(),
		CapturedAtSource: model.CapturedAtIngested, Sequence: 1, PhotoPath: knownPath,
		FileSizeBytes: 4, SHA256: "abc", Width: 800, Height: 600,
	})
	require.NoError(t, err)

	r := New(repo, photoDir, 0, zerolog.Nop())
	require.NoError(t, r.Run(ctx))

	_, err = os.Stat(knownPath)
	require.NoError(t, err, "a file with a matching row must be left in place")
}

func TestRunPrunesPhotosPastRetention(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	insertCamera(t, repo, 1)
	photoDir := t.TempDir()
	oldPath := filepath.Join(photoDir, "old.jpg")
	require.NoError(t, os.WriteFile(oldPath, []byte("data"), 0o600))

	oldCapturedAt := model.FormatTime(time.Now().UTC().AddDate(0, 0, -40))
	id, err := repo.InsertPhoto(ctx, model.Photo{
		HiveID: 1, DeviceID: "cam-1", BootID: "boot-1", CapturedAt: oldCapturedAt,
		CapturedAtSource: model.CapturedAtIngested, Sequence: 1, PhotoPath: oldPath,
		FileSizeBytes: 4, SHA256: "abc", Width: 800, Height: 600,
	})
	require.NoError(t, err)
	require.NoError(t, repo.CompletePhoto(ctx, id, model.NowUTC()))
	require.NoError(t, repo.MarkPhotosSynced(ctx, []int64{id}))

	r := New(repo, photoDir, 30, zerolog.Nop())
	require.NoError(t, r.Run(ctx))

	_, err = os.Stat(oldPath)
	require.True(t, os.IsNotExist(err), "photo file past retention must be removed")

	var count int
	require.NoError(t, repo.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos`).Scan(&count))
	require.Equal(t, 0, count)
}

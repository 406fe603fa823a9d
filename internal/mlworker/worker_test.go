package mlworker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/waggle-hive/hivehub/internal/alerts"
	"github.com/waggle-hive/hivehub/internal/apierr"
	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/model"
)

type fakeInferencer struct {
	detections []model.RawDetection
	err        error
	calls      int
}

func (f *fakeInferencer) Infer(ctx context.Context, path string) ([]model.RawDetection, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.detections, nil
}

func openTestRepo(t *testing.T) *db.Repo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mlworker-test.db")
	conn, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return db.New(conn)
}

func insertPendingPhoto(t *testing.T, repo *db.Repo, hiveID int) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.InsertHive(ctx, model.Hive{ID: hiveID, Name: "hive", CreatedAt: model.NowUTC()}))
	_, err := repo.DB.ExecContext(ctx, `
		INSERT INTO camera_nodes (device_id, hive_id, api_key_hash, created_at)
		VALUES ('cam-1', ?, 'hash', ?)`, hiveID, model.NowUTC())
	require.NoError(t, err)
	id, err := repo.InsertPhoto(ctx, model.Photo{
		HiveID:           hiveID,
		DeviceID:         "cam-1",
		BootID:           "boot-1",
		CapturedAt:       model.NowUTC(),
		CapturedAtSource: model.CapturedAtIngested,
		Sequence:         1,
		PhotoPath:        "/tmp/fake.jpg",
		FileSizeBytes:    1024,
		SHA256:           "abc",
		Width:            800,
		Height:           600,
	})
	require.NoError(t, err)
	return id
}

func TestSummarizeComputesVarroaMaxConfidenceBeforeFiltering(t *testing.T) {
	raw := []model.RawDetection{
		{Class: model.ClassVarroa, Confidence: 0.15}, // below threshold, still counts toward max
		{Class: model.ClassBee, Confidence: 0.9},
	}
	d := summarize(raw, 0.5)
	require.InDelta(t, 0.15, d.VarroaMaxConfidence, 0.0001)
	require.Equal(t, 0, d.VarroaCount, "below-threshold detection must not count toward the filtered tally")
	require.Equal(t, model.ClassBee, d.TopClass)
}

func TestSummarizeDefaultsToNormalWhenFilteredListEmpty(t *testing.T) {
	raw := []model.RawDetection{{Class: model.ClassWasp, Confidence: 0.1}}
	d := summarize(raw, 0.5)
	require.Equal(t, model.ClassNormal, d.TopClass)
	require.Equal(t, 0.0, d.TopConfidence)
}

func TestProcessClaimedPhotoCompletesAndFiresAlert(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	photoID := insertPendingPhoto(t, repo, 1)

	infer := &fakeInferencer{detections: []model.RawDetection{
		{Class: model.ClassVarroa, Confidence: 0.9},
		{Class: model.ClassBee, Confidence: 0.8},
	}}
	engine := alerts.New(repo, zerolog.Nop())
	w := New(repo, infer, engine, 0.25, "v1", "deadbeef", zerolog.Nop())

	photo, err := repo.ClaimNextPending(ctx, model.NowUTC())
	require.NoError(t, err)
	require.NotNil(t, photo)
	require.Equal(t, photoID, photo.ID)

	require.NoError(t, w.processClaimedPhoto(ctx, *photo))

	updated, err := repo.GetPhoto(ctx, photoID)
	require.NoError(t, err)
	require.Equal(t, model.MLStatusCompleted, updated.MLStatus)

	detections, err := repo.UnsyncedDetections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	require.Equal(t, 1, detections[0].VarroaCount)
	require.InDelta(t, 0.9, detections[0].VarroaMaxConfidence, 0.0001)

	fired, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)
	var firedTypes []model.AlertType
	for _, a := range fired {
		firedTypes = append(firedTypes, a.Type)
	}
	require.Contains(t, firedTypes, model.AlertVarroaDetected)
}

func TestClaimAndProcessOneRetriesBelowMaxAttempts(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	insertPendingPhoto(t, repo, 1)

	infer := &fakeInferencer{err: errors.New("backend unavailable")}
	engine := alerts.New(repo, zerolog.Nop())
	w := New(repo, infer, engine, 0.25, "v1", "deadbeef", zerolog.Nop())

	processed, err := w.claimAndProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	photos, err := repo.UnsyncedPhotos(ctx, 10)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	require.Equal(t, model.MLStatusPending, photos[0].MLStatus, "a single failed attempt must return the photo to pending, not failed")
}

func TestClaimAndProcessOneFailsAfterMaxAttempts(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	insertPendingPhoto(t, repo, 1)

	infer := &fakeInferencer{err: errors.New("backend unavailable")}
	engine := alerts.New(repo, zerolog.Nop())
	w := New(repo, infer, engine, 0.25, "v1", "deadbeef", zerolog.Nop())

	for i := 0; i < maxAttempts; i++ {
		processed, err := w.claimAndProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	photos, err := repo.UnsyncedPhotos(ctx, 10)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	require.Equal(t, model.MLStatusFailed, photos[0].MLStatus)
	require.NotNil(t, photos[0].MLError)
}

func TestVerifyModelHashSkipsWhenExpectedEmpty(t *testing.T) {
	require.NoError(t, VerifyModelHash("/nonexistent/path", ""))
}

func TestVerifyModelHashRejectsMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.bin")
	require.NoError(t, os.WriteFile(path, []byte("model-bytes"), 0o600))
	err := VerifyModelHash(path, "0000000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)

	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, apierr.Internal, apiErr.Code)
}

package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/model"
	"github.com/waggle-hive/hivehub/internal/supabaseclient"
)

type fakePhotoStore struct {
	uploaded map[string][]byte
}

func (f *fakePhotoStore) UploadPhoto(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[key] = data
	return "https://cloud.example/" + key, nil
}

func openTestRepo(t *testing.T) *db.Repo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync-test.db")
	conn, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return db.New(conn)
}

func TestPushHivesUpsertsAndMarksSynced(t *testing.T) {
	var gotTable string
	var gotRows []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTable = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRows))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	repo := openTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertHive(ctx, model.Hive{ID: 1, Name: "hive-1", CreatedAt: model.NowUTC()}))

	cloud := supabaseclient.New(srv.URL, "key")
	e := New(repo, cloud, nil, zerolog.Nop())

	require.NoError(t, e.pushHives(ctx))
	require.Equal(t, "/rest/v1/hives", gotTable)
	require.Len(t, gotRows, 1)

	remaining, err := repo.UnsyncedHives(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, remaining, "pushed hive must be marked synced")
}

func TestPushHivesSkipsRequestWhenNothingUnsynced(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	repo := openTestRepo(t)
	cloud := supabaseclient.New(srv.URL, "key")
	e := New(repo, cloud, nil, zerolog.Nop())

	require.NoError(t, e.pushHives(context.Background()))
	require.False(t, called)
}

func TestPullInspectionsAppliesCloudRowAndAdvancesWatermark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"uuid":         "11111111-1111-1111-1111-111111111111",
				"hive_id":      float64(1),
				"inspected_at": "2026-07-01T00:00:00.000Z",
				"created_at":   "2026-07-01T00:00:00.000Z",
				"updated_at":   "2026-07-01T00:00:00.000Z",
				"queen_seen":   true,
			},
		})
	}))
	defer srv.Close()

	repo := openTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertHive(ctx, model.Hive{ID: 1, Name: "hive-1", CreatedAt: model.NowUTC()}))

	cloud := supabaseclient.New(srv.URL, "key")
	e := New(repo, cloud, nil, zerolog.Nop())

	require.NoError(t, e.pullInspections(ctx))

	insp, err := repo.GetInspection(ctx, "11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	require.True(t, insp.QueenSeen)
	require.Equal(t, model.SourceCloud, insp.Source)

	watermark, ok, err := repo.SyncStateGet(ctx, stateKeyInspectionsPull)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2026-07-01T00:00:00.000Z", watermark)
}

func TestSyncPhotoFilesUploadsAndMarksFileSynced(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertHive(ctx, model.Hive{ID: 1, Name: "hive-1", CreatedAt: model.NowUTC()}))
	_, err := repo.DB.ExecContext(ctx, `
		INSERT INTO camera_nodes (device_id, hive_id, api_key_hash, created_at)
		VALUES ('cam-1', 1, 'hash', ?)`, model.NowUTC())
	require.NoError(t, err)

	photoPath := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(photoPath, []byte("jpeg-bytes"), 0o600))

	photoID, err := repo.InsertPhoto(ctx, model.Photo{
		HiveID: 1, DeviceID: "cam-1", BootID: "boot-1", CapturedAt: model.NowUTC(),
		CapturedAtSource: model.CapturedAtIngested, Sequence: 1, PhotoPath: photoPath,
		FileSizeBytes: 10, SHA256: "abc", Width: 800, Height: 600,
	})
	require.NoError(t, err)
	require.NoError(t, repo.CompletePhoto(ctx, photoID, model.NowUTC()))

	store := &fakePhotoStore{}
	e := New(repo, nil, store, zerolog.Nop())

	require.NoError(t, e.syncPhotoFiles(ctx))
	require.Len(t, store.uploaded, 1)

	remaining, err := repo.UnfiledPhotos(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

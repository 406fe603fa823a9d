package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/waggle-hive/hivehub/internal/config"
	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/model"
)

func openTestRepo(t *testing.T) *db.Repo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify-test.db")
	conn, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return db.New(conn)
}

func insertCriticalAlert(t *testing.T, repo *db.Repo, hiveID int) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.InsertHive(ctx, model.Hive{ID: hiveID, Name: "hive", CreatedAt: model.NowUTC()}))
	id, err := repo.InsertAlert(ctx, model.Alert{
		HiveID: hiveID, Type: model.AlertHighTemp, Severity: model.SeverityCritical,
		Message: "too hot", ObservedAt: model.NowUTC(), CreatedAt: model.NowUTC(),
		UpdatedAt: model.NowUTC(), Source: model.SourceLocal,
	})
	require.NoError(t, err)
	return id
}

func TestRunOnceSignsPayloadWithHMAC(t *testing.T) {
	var gotSig, gotTS string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Waggle-Signature")
		gotTS = r.Header.Get("X-Waggle-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := openTestRepo(t)
	insertCriticalAlert(t, repo, 1)

	cfg := &config.Config{WebhookURLs: []string{srv.URL}, WebhookSecret: "shh"}
	d := New(repo, cfg, zerolog.Nop())

	require.NoError(t, d.RunOnce(context.Background()))
	require.NotEmpty(t, gotSig)
	require.NotEmpty(t, gotTS)

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write([]byte(gotTS + "."))
	mac.Write(gotBody)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Equal(t, "hive", payload["hive_name"])
}

func TestRunOnceMarksNotifiedEvenOnDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	repo := openTestRepo(t)
	insertCriticalAlert(t, repo, 1)

	cfg := &config.Config{WebhookURLs: []string{srv.URL}, WebhookSecret: "shh"}
	d := New(repo, cfg, zerolog.Nop())

	require.NoError(t, d.RunOnce(context.Background()))

	remaining, err := repo.UnnotifiedCriticalOrHigh(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, remaining, "a failed delivery must still mark notified_at, not retry")
}

func TestRunOnceMarksNotifiedWhenNoURLsConfigured(t *testing.T) {
	repo := openTestRepo(t)
	insertCriticalAlert(t, repo, 1)

	cfg := &config.Config{}
	d := New(repo, cfg, zerolog.Nop())

	require.NoError(t, d.RunOnce(context.Background()))

	remaining, err := repo.UnnotifiedCriticalOrHigh(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, remaining, "RunOnce marks notified_at even when no webhook URL is configured")
}

package heartbeat

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWriteBeatProducesValidJSONWithDetails(t *testing.T) {
	dir := t.TempDir()
	w := New("hub-ingest", dir, zerolog.Nop(), func() map[string]any {
		return map[string]any{"frames_per_sec": 3}
	})

	require.NoError(t, w.writeBeat())

	data, err := os.ReadFile(filepath.Join(dir, "hub-ingest.hb"))
	require.NoError(t, err)

	var beat Beat
	require.NoError(t, json.Unmarshal(data, &beat))
	require.Equal(t, os.Getpid(), beat.PID)
	require.NotEmpty(t, beat.TS)
	require.Equal(t, float64(3), beat.Details["frames_per_sec"])
}

func TestWriteBeatLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	w := New("hub-sync", dir, zerolog.Nop(), nil)
	require.NoError(t, w.writeBeat())
	require.NoError(t, w.writeBeat())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the final .hb file should remain, no .tmp- leftovers")
	require.Equal(t, "hub-sync.hb", entries[0].Name())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	w := New("hub-mlworker", dir, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "hub-mlworker.hb"))
		return err == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestReadReportsUnknownForMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, status, err := Read(dir, "hub-notify", time.Minute, time.Now())
	require.NoError(t, err)
	require.Equal(t, StatusUnknown, status)
}

func TestReadReportsOKThenStaleAsTimeAdvances(t *testing.T) {
	dir := t.TempDir()
	w := New("hub-bridge", dir, zerolog.Nop(), nil)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }
	require.NoError(t, w.writeBeat())

	_, status, err := Read(dir, "hub-bridge", time.Minute, fixed.Add(10*time.Second))
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)

	_, status, err = Read(dir, "hub-bridge", time.Minute, fixed.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, StatusStale, status)
}

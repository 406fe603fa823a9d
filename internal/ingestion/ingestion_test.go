package ingestion

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/waggle-hive/hivehub/internal/alerts"
	"github.com/waggle-hive/hivehub/internal/config"
	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/model"
)

func testDeps(t *testing.T) (*db.Repo, *Pipeline) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingestion-test.db")
	conn, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	repo := db.New(conn)
	require.NoError(t, repo.InsertHive(context.Background(), model.Hive{ID: 1, Name: "hive-1", CreatedAt: model.NowUTC()}))

	cfg := &config.Config{MaxPastSkewHours: 72, MinValidYear: 2020}
	engine := alerts.New(repo, zerolog.Nop())
	p := New(repo, engine, cfg, zerolog.Nop())
	return repo, p
}

func wireMsg(hiveID uint8, seq uint16, weightG int32, flags uint8) model.WireMessage {
	return model.WireMessage{
		SchemaVersion:  1,
		HiveID:         hiveID,
		MsgType:        1,
		Sequence:       seq,
		WeightG:        weightG,
		TempCx100:      3645,
		HumidityX100:   5120,
		PressureHPAx10: 10132,
		BatteryMV:      3710,
		Flags:          flags,
		SenderMAC:      "AA:BB:CC:DD:EE:FF",
		ObservedAt:     model.NowUTC(),
	}
}

func TestHandleMessageAcceptsValidReading(t *testing.T) {
	repo, p := testDeps(t)
	ctx := context.Background()

	msg := wireMsg(1, 1024, 32120, 0)
	require.NoError(t, p.HandleMessage(ctx, "waggle/1/sensors", msg))

	readings, err := repo.UnsyncedReadings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.InDelta(t, 32.12, *readings[0].WeightKg, 0.0001)
	require.InDelta(t, 36.45, *readings[0].TempC, 0.0001)
}

func TestHandleMessageAppliesFaultMasking(t *testing.T) {
	repo, p := testDeps(t)
	ctx := context.Background()

	// bit4 (BME280 error) set: temp/humidity/pressure must be nulled.
	msg := wireMsg(1, 1, 32120, 1<<4)
	require.NoError(t, p.HandleMessage(ctx, "waggle/1/sensors", msg))

	readings, err := repo.UnsyncedReadings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.Nil(t, readings[0].TempC)
	require.Nil(t, readings[0].HumidityPct)
	require.Nil(t, readings[0].PressureHPa)
	require.NotNil(t, readings[0].WeightKg)
}

func TestHandleMessageRejectsTopicHiveMismatch(t *testing.T) {
	repo, p := testDeps(t)
	ctx := context.Background()

	msg := wireMsg(1, 1, 32120, 0)
	require.NoError(t, p.HandleMessage(ctx, "waggle/2/sensors", msg))
	// No error is returned (message is dropped, not fatal), and no row is
	// persisted.
	readings, err := repo.UnsyncedReadings(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, readings)
}

func TestHandleMessageDedupsRepeatedSequence(t *testing.T) {
	repo, p := testDeps(t)
	ctx := context.Background()

	msg := wireMsg(1, 5, 32120, 0)
	require.NoError(t, p.HandleMessage(ctx, "waggle/1/sensors", msg))

	msg2 := msg
	msg2.ObservedAt = model.NowUTC()
	require.NoError(t, p.HandleMessage(ctx, "waggle/1/sensors", msg2))

	readings, err := repo.UnsyncedReadings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, readings, 1, "repeated sequence within TTL must be suppressed")
}

func TestHandleMessageFirstBootClearsDedupCache(t *testing.T) {
	repo, p := testDeps(t)
	ctx := context.Background()

	msg := wireMsg(1, 7, 32120, 0)
	require.NoError(t, p.HandleMessage(ctx, "waggle/1/sensors", msg))

	// FIRST_BOOT (bit1) clears the cache, so the same sequence is accepted
	// again as a fresh reading rather than suppressed as a dup.
	msg2 := wireMsg(1, 7, 32100, 1<<1)
	msg2.ObservedAt = model.FormatTime(time.Now().UTC().Add(time.Second))
	require.NoError(t, p.HandleMessage(ctx, "waggle/1/sensors", msg2))

	readings, err := repo.UnsyncedReadings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, readings, 2)
}

func TestHandleMessageRejectsUnknownHive(t *testing.T) {
	repo, p := testDeps(t)
	ctx := context.Background()

	msg := wireMsg(99, 1, 32120, 0)
	require.NoError(t, p.HandleMessage(ctx, "waggle/99/sensors", msg))

	readings, err := repo.UnsyncedReadings(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, readings)
}

func TestHandleMessagePersistsTrafficForPhase2(t *testing.T) {
	repo, p := testDeps(t)
	ctx := context.Background()

	beesIn, beesOut, period, lane, stuck := uint16(10), uint16(8), uint32(60000), uint8(0), uint8(0)
	msg := wireMsg(1, 1, 32120, 0)
	msg.MsgType = 2
	msg.SchemaVersion = 2
	msg.BeesIn = &beesIn
	msg.BeesOut = &beesOut
	msg.PeriodMs = &period
	msg.LaneMask = &lane
	msg.StuckMask = &stuck

	require.NoError(t, p.HandleMessage(ctx, "waggle/1/sensors", msg))

	counts, err := repo.UnsyncedBeeCounts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	require.EqualValues(t, -2, counts[0].NetOut())
	require.EqualValues(t, 18, counts[0].TotalTraffic())
}

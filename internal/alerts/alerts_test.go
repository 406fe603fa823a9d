package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/model"
)

func openTestRepo(t *testing.T) *db.Repo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hivehub-test.db")
	conn, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return db.New(conn)
}

func mustInsertHive(t *testing.T, repo *db.Repo, id int) model.Hive {
	t.Helper()
	h := model.Hive{ID: id, Name: fmt.Sprintf("hive-%d", id), CreatedAt: model.NowUTC()}
	require.NoError(t, repo.InsertHive(context.Background(), h))
	return h
}

func mustInsertReading(t *testing.T, repo *db.Repo, hiveID int, observedAt string, weightKg, tempC, batteryV *float64, sequence uint16, flags uint8) model.SensorReading {
	t.Helper()
	rec := model.SensorReading{
		HiveID:      hiveID,
		ObservedAt:  observedAt,
		IngestedAt:  model.NowUTC(),
		WeightKg:    weightKg,
		TempC:       tempC,
		BatteryV:    batteryV,
		Sequence:    sequence,
		Flags:       flags,
		SenderMAC:   "AA:BB:CC:DD:EE:FF",
	}
	var id int64
	err := repo.WithTx(context.Background(), func(tx *sql.Tx) error {
		var inserted bool
		var err error
		id, inserted, err = repo.InsertReadingIgnore(context.Background(), tx, rec)
		require.True(t, inserted)
		return err
	})
	require.NoError(t, err)
	rec.ID = id
	return rec
}

func f(v float64) *float64 { return &v }

// mustInsertReadingWithBeeCount inserts a sensor_reading and its paired
// bee_counts row in one transaction, the way ingestion.Pipeline does for a
// msg_type=2 message, so correlation-tier rules have a real joined row to
// query against instead of an orphan sensor_readings row.
func mustInsertReadingWithBeeCount(t *testing.T, repo *db.Repo, hiveID int, observedAt string, weightKg *float64, sequence uint16, beesIn, beesOut uint16) model.SensorReading {
	t.Helper()
	rec := model.SensorReading{
		HiveID:     hiveID,
		ObservedAt: observedAt,
		IngestedAt: model.NowUTC(),
		WeightKg:   weightKg,
		Sequence:   sequence,
		SenderMAC:  "AA:BB:CC:DD:EE:FF",
	}
	err := repo.WithTx(context.Background(), func(tx *sql.Tx) error {
		id, inserted, err := repo.InsertReadingIgnore(context.Background(), tx, rec)
		require.True(t, inserted)
		if err != nil {
			return err
		}
		rec.ID = id
		return repo.InsertBeeCount(context.Background(), tx, model.BeeCount{
			ReadingID:  id,
			HiveID:     hiveID,
			ObservedAt: observedAt,
			PeriodMs:   60000,
			BeesIn:     beesIn,
			BeesOut:    beesOut,
		})
	})
	require.NoError(t, err)
	return rec
}

func TestHighTempRuleFires(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	hive := mustInsertHive(t, repo, 1)
	reading := mustInsertReading(t, repo, hive.ID, model.NowUTC(), nil, f(41.0), nil, 1, 0)

	engine := New(repo, testLogger())
	require.NoError(t, engine.CheckReading(ctx, hive, reading))

	alerts, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, model.AlertHighTemp, alerts[0].Type)
	require.Equal(t, model.SeverityMedium, alerts[0].Severity)
}

func TestHighTempRuleCooldownSuppressesRepeat(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	hive := mustInsertHive(t, repo, 1)
	engine := New(repo, testLogger())

	for i := 0; i < 2; i++ {
		reading := mustInsertReading(t, repo, hive.ID, model.NowUTC(), nil, f(45.0), nil, uint16(i), 0)
		require.NoError(t, engine.CheckReading(ctx, hive, reading))
	}

	alerts, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1, "second identical trigger within cooldown must not fire again")
}

func TestPossibleSwarmWeightOnlyTier(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	hive := mustInsertHive(t, repo, 1)
	engine := New(repo, testLogger())

	base := time.Now().UTC().Add(-50 * time.Minute)
	for i := 0; i < 5; i++ {
		ts := model.FormatTime(base.Add(time.Duration(i) * 10 * time.Minute))
		mustInsertReading(t, repo, hive.ID, ts, f(50.0), nil, nil, uint16(i), 0)
	}
	trigger := mustInsertReading(t, repo, hive.ID, model.NowUTC(), f(47.5), nil, nil, 99, 0)

	require.NoError(t, engine.CheckReading(ctx, hive, trigger))

	alerts, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, model.AlertPossibleSwarm, alerts[0].Type)
	require.Equal(t, model.SeverityHigh, alerts[0].Severity)
}

func TestPossibleSwarmExactlyAtTwoKgDoesNotFire(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	hive := mustInsertHive(t, repo, 1)
	engine := New(repo, testLogger())

	base := time.Now().UTC().Add(-50 * time.Minute)
	for i := 0; i < 5; i++ {
		ts := model.FormatTime(base.Add(time.Duration(i) * 10 * time.Minute))
		mustInsertReading(t, repo, hive.ID, ts, f(50.0), nil, nil, uint16(i), 0)
	}
	// Drop is exactly 2.0kg, not > 2.0kg — strict inequality preserved.
	trigger := mustInsertReading(t, repo, hive.ID, model.NowUTC(), f(48.0), nil, nil, 99, 0)

	require.NoError(t, engine.CheckReading(ctx, hive, trigger))

	alerts, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, alerts)
}

func TestPossibleSwarmCorrelationTierFires(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	hive := mustInsertHive(t, repo, 1)
	engine := New(repo, testLogger())

	base := time.Now().UTC().Add(-58 * time.Minute)
	for i := 0; i < 30; i++ {
		ts := model.FormatTime(base.Add(time.Duration(i) * time.Minute))
		mustInsertReadingWithBeeCount(t, repo, hive.ID, ts, f(50.0), uint16(i), 0, 20)
	}
	trigger := mustInsertReadingWithBeeCount(t, repo, hive.ID, model.NowUTC(), f(48.0), 99, 0, 20)

	require.NoError(t, engine.CheckReading(ctx, hive, trigger))

	alerts, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, model.AlertPossibleSwarm, alerts[0].Type)
	require.Equal(t, model.SeverityCritical, alerts[0].Severity, "31 joined readings with net outflow >500 and a >1.5kg drop must fire the correlation tier, not the weight-only tier")
}

func TestAbscondingRuleFires(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	hive := mustInsertHive(t, repo, 1)
	engine := New(repo, testLogger())

	base := time.Now().UTC().Add(-118 * time.Minute)
	for i := 0; i < 60; i++ {
		ts := model.FormatTime(base.Add(time.Duration(i) * 2 * time.Minute))
		mustInsertReadingWithBeeCount(t, repo, hive.ID, ts, f(50.0), uint16(i), 0, 15)
	}
	trigger := mustInsertReadingWithBeeCount(t, repo, hive.ID, model.NowUTC(), f(47.5), 999, 0, 15)

	require.NoError(t, engine.CheckReading(ctx, hive, trigger))

	alerts, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)
	found := false
	for _, a := range alerts {
		if a.Type == model.AlertAbsconding {
			found = true
			require.Equal(t, model.SeverityCritical, a.Severity)
		}
	}
	require.True(t, found, "expected ABSCONDING to fire for 61 joined readings with a >2kg drop and net outflow >400 over 2h")
}

func TestRobbingRuleFires(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	hive := mustInsertHive(t, repo, 1)
	engine := New(repo, testLogger())

	base := time.Now().UTC().Add(-58 * time.Minute)
	for i := 0; i < 30; i++ {
		ts := model.FormatTime(base.Add(time.Duration(i) * time.Minute))
		mustInsertReadingWithBeeCount(t, repo, hive.ID, ts, f(50.0), uint16(i), 50, 5)
	}
	trigger := mustInsertReadingWithBeeCount(t, repo, hive.ID, model.NowUTC(), f(49.0), 999, 50, 5)

	require.NoError(t, engine.CheckReading(ctx, hive, trigger))

	alerts, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)
	found := false
	for _, a := range alerts {
		if a.Type == model.AlertRobbing {
			found = true
			require.Equal(t, model.SeverityHigh, a.Severity)
		}
	}
	require.True(t, found, "expected ROBBING to fire for high traffic, strong net inflow, and a weight drop over the prior hour")
}

func TestLowActivityRuleFires(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	hive := mustInsertHive(t, repo, 1)
	engine := New(repo, testLogger())

	today := time.Now().UTC()
	todayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	for day := 1; day <= 3; day++ {
		dayStart := todayStart.AddDate(0, 0, -day)
		for i := 0; i < 10; i++ {
			ts := model.FormatTime(dayStart.Add(time.Duration(i) * time.Hour))
			mustInsertReadingWithBeeCount(t, repo, hive.ID, ts, f(50.0), uint16(day*100+i), 50, 50)
		}
	}
	for i := 0; i < 10; i++ {
		ts := model.FormatTime(todayStart.Add(time.Duration(i) * time.Minute))
		mustInsertReadingWithBeeCount(t, repo, hive.ID, ts, f(50.0), uint16(i), 0, 1)
	}
	trigger := mustInsertReadingWithBeeCount(t, repo, hive.ID, model.NowUTC(), f(50.0), 999, 0, 1)

	require.NoError(t, engine.CheckReading(ctx, hive, trigger))

	alerts, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)
	found := false
	for _, a := range alerts {
		if a.Type == model.AlertLowActivity {
			found = true
		}
	}
	require.True(t, found, "expected LOW_ACTIVITY when today's traffic is under 20%% of the qualifying 3-day average")
}

func TestNoDataSweepFiresOncePerHour(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	hive := mustInsertHive(t, repo, 1)

	staleAt := model.FormatTime(time.Now().UTC().Add(-20 * time.Minute))
	require.NoError(t, repo.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := repo.UpdateLastSeenAt(ctx, tx, hive.ID, staleAt)
		return err
	}))

	engine := New(repo, testLogger())
	require.NoError(t, engine.CheckNoData(ctx))
	require.NoError(t, engine.CheckNoData(ctx))

	alerts, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1, "sweeping twice within the 60-minute cooldown must not double-fire")
}

func TestVarroaDetectedAnchorsToDetectionTime(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	hive := mustInsertHive(t, repo, 1)
	photoID := insertCompletedPhoto(t, repo, hive.ID)

	detectedAt := model.FormatTime(time.Now().UTC().Add(-3 * time.Hour))
	_, err := repo.InsertDetection(ctx, model.MlDetection{
		PhotoID:             photoID,
		HiveID:              hive.ID,
		DetectedAt:          detectedAt,
		TopClass:            model.ClassVarroa,
		TopConfidence:       0.8,
		VarroaCount:         1,
		VarroaMaxConfidence: 0.8,
		RawBoxesJSON:        "[]",
		InferenceMs:         120,
		ModelVersion:        "test",
		ModelHash:           "deadbeef",
	})
	require.NoError(t, err)

	engine := New(repo, testLogger())
	require.NoError(t, engine.CheckMLAlerts(ctx, hive))

	alerts, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, model.AlertVarroaDetected, alerts[0].Type)
	require.Equal(t, detectedAt, alerts[0].ObservedAt)
}

func TestWaspAttackRuleFires(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	hive := mustInsertHive(t, repo, 1)
	photoID := insertCompletedPhoto(t, repo, hive.ID)

	for i := 0; i < 3; i++ {
		_, err := repo.InsertDetection(ctx, model.MlDetection{
			PhotoID:       photoID,
			HiveID:        hive.ID,
			DetectedAt:    model.FormatTime(time.Now().UTC().Add(-time.Duration(i) * time.Minute)),
			TopClass:      model.ClassWasp,
			TopConfidence: 0.9,
			WaspCount:     1,
			RawBoxesJSON:  "[]",
			InferenceMs:   80,
			ModelVersion:  "test",
			ModelHash:     "deadbeef",
		})
		require.NoError(t, err)
	}

	engine := New(repo, testLogger())
	require.NoError(t, engine.CheckMLAlerts(ctx, hive))

	alerts, err := repo.UnsyncedAlerts(ctx, 10)
	require.NoError(t, err)

	found := false
	for _, a := range alerts {
		if a.Type == model.AlertWaspAttack {
			found = true
			require.Equal(t, model.SeverityHigh, a.Severity)
		}
	}
	require.True(t, found, "expected WASP_ATTACK to fire for 3 wasp detections within 10 minutes")
}

func insertCompletedPhoto(t *testing.T, repo *db.Repo, hiveID int) int64 {
	t.Helper()
	ctx := context.Background()
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
		PhotoPath:        "/tmp/test.jpg",
		FileSizeBytes:    1024,
		SHA256:           "abc",
		Width:            800,
		Height:           600,
	})
	require.NoError(t, err)
	return id
}

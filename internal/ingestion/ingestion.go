// Package ingestion validates and persists WireMessages published by the
// Bridge, in the fixed pipeline order spec.md §4.2 describes: clock
// sanity, schema/topic/hive checks, unit conversion and range validation,
// dedup, then a single transactional write handed off to the alert engine.
package ingestion

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/waggle-hive/hivehub/internal/alerts"
	"github.com/waggle-hive/hivehub/internal/config"
	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/metrics"
	"github.com/waggle-hive/hivehub/internal/model"
)

const (
	flagFirstBoot = 1 << 1
	flagHX711     = 1 << 3
	flagBME280    = 1 << 4
	flagBattery   = 1 << 5
)

// Pipeline is the ingestion entry point: one instance per process, wrapping
// a single in-process dedup cache and the shared repo/alert engine.
type Pipeline struct {
	repo   *db.Repo
	alerts *alerts.Engine
	cfg    *config.Config
	dedup  *DedupCache
	log    zerolog.Logger
	now    func() time.Time
}

// New builds a Pipeline. Call WarmAll once at startup before consuming
// live messages.
func New(repo *db.Repo, engine *alerts.Engine, cfg *config.Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		repo:   repo,
		alerts: engine,
		cfg:    cfg,
		dedup:  NewDedupCache(),
		log:    log,
		now:    time.Now,
	}
}

// WarmAll seeds the dedup cache for every hive from rows ingested within
// the TTL window, so a process restart doesn't briefly forget recent
// sequence numbers it already has database backing for.
func (p *Pipeline) WarmAll(ctx context.Context, hiveIDs []int) error {
	cutoff := model.FormatTime(p.now().UTC().Add(-dedupTTL))
	for _, id := range hiveIDs {
		recent, err := p.repo.RecentSequencesForWarmup(ctx, id, cutoff)
		if err != nil {
			return fmt.Errorf("ingestion: warm hive %d: %w", id, err)
		}
		p.dedup.Warm(id, recent, p.now())
	}
	return nil
}

// HandleMessage runs the full validation pipeline for one (topic, message)
// tuple. Every rejection is logged, counted by reason, and returns nil —
// a malformed message is never worth crashing the consumer over.
func (p *Pipeline) HandleMessage(ctx context.Context, topic string, msg model.WireMessage) error {
	if p.now().UTC().Year() < p.cfg.MinValidYear {
		return p.drop("clock_sanity", "system clock before MIN_VALID_YEAR")
	}
	if msg.SchemaVersion != 1 && msg.SchemaVersion != 2 {
		return p.drop("schema_version", fmt.Sprintf("unsupported schema_version %d", msg.SchemaVersion))
	}
	topicHiveID, ok := hiveIDFromTopic(topic)
	if !ok || topicHiveID != int(msg.HiveID) {
		return p.drop("topic_mismatch", fmt.Sprintf("topic %q does not match hive_id %d", topic, msg.HiveID))
	}

	hive, err := p.repo.GetHive(ctx, int(msg.HiveID))
	if err != nil {
		if err == db.ErrNotFound {
			return p.drop("unknown_hive", fmt.Sprintf("hive %d not registered", msg.HiveID))
		}
		return fmt.Errorf("ingestion: lookup hive: %w", err)
	}

	if msg.MsgType != 1 && msg.MsgType != 2 {
		return p.drop("msg_type", fmt.Sprintf("unexpected msg_type %d", msg.MsgType))
	}

	if hive.SenderMAC != nil && !strings.EqualFold(*hive.SenderMAC, msg.SenderMAC) {
		return p.drop("mac_mismatch", fmt.Sprintf("hive %d bound to %s, got %s", hive.ID, *hive.SenderMAC, msg.SenderMAC))
	}

	observedAt, err := model.ParseTime(msg.ObservedAt)
	if err != nil {
		return p.drop("bad_timestamp", fmt.Sprintf("unparseable observed_at %q", msg.ObservedAt))
	}
	now := p.now().UTC()
	if observedAt.After(now.Add(30 * time.Second)) {
		return p.drop("future_skew", "observed_at more than 30s in the future")
	}
	if observedAt.Before(now.Add(-time.Duration(p.cfg.MaxPastSkewHours) * time.Hour)) {
		return p.drop("past_skew", "observed_at older than MAX_PAST_SKEW_HOURS")
	}

	rec, bc, err := convert(hive.ID, msg, observedAt)
	if err != nil {
		return p.drop("out_of_range", err.Error())
	}

	if msg.Flags&flagFirstBoot != 0 {
		p.dedup.Clear(hive.ID)
	}
	if p.dedup.CheckAndRemember(hive.ID, msg.Sequence, rec.ObservedAt, now) {
		return p.drop("dedup", fmt.Sprintf("sequence %d seen within TTL for hive %d", msg.Sequence, hive.ID))
	}

	var reading model.SensorReading
	var inserted bool
	err = p.repo.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		var id int64
		id, inserted, txErr = p.repo.InsertReadingIgnore(ctx, tx, rec)
		if txErr != nil || !inserted {
			return txErr
		}
		reading = rec
		reading.ID = id

		if msg.MsgType == 2 && bc != nil {
			bc.ReadingID = reading.ID
			if txErr = p.repo.InsertBeeCount(ctx, tx, *bc); txErr != nil {
				return txErr
			}
		}
		_, txErr = p.repo.UpdateLastSeenAt(ctx, tx, hive.ID, rec.ObservedAt)
		return txErr
	})
	if err != nil {
		return fmt.Errorf("ingestion: persist reading: %w", err)
	}
	if !inserted {
		return p.drop("unique_index", "database unique index caught a redelivery the cache missed")
	}

	metrics.IngestionReadingsAccepted.Inc()

	if p.alerts != nil {
		if err := p.alerts.CheckReading(ctx, *hive, reading); err != nil {
			p.log.Error().Err(err).Int("hive_id", hive.ID).Msg("ingestion: alert evaluation failed")
		}
	}
	return nil
}

func (p *Pipeline) drop(reason, detail string) error {
	metrics.IngestionReadingsDropped.WithLabelValues(reason).Inc()
	p.log.Warn().Str("reason", reason).Msg("ingestion: dropped message: " + detail)
	return nil
}

// hiveIDFromTopic extracts the numeric id from "waggle/{id}/sensors".
func hiveIDFromTopic(topic string) (int, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "waggle" || parts[2] != "sensors" {
		return 0, false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// convert applies sensor-fault masking and unit conversion, then validates
// the converted record's ranges per spec.md §3.
func convert(hiveID int, msg model.WireMessage, observedAt time.Time) (model.SensorReading, *model.BeeCount, error) {
	rec := model.SensorReading{
		HiveID:     hiveID,
		ObservedAt: model.FormatTime(observedAt),
		IngestedAt: model.NowUTC(),
		Sequence:   msg.Sequence,
		Flags:      msg.Flags,
		SenderMAC:  strings.ToUpper(msg.SenderMAC),
	}

	if msg.Flags&flagHX711 == 0 {
		kg := float64(msg.WeightG) / 1000.0
		if kg < 0 || kg > 200 {
			return rec, nil, fmt.Errorf("weight_kg %.3f out of range", kg)
		}
		rec.WeightKg = &kg
	}
	if msg.Flags&flagBME280 == 0 {
		tempC := float64(msg.TempCx100) / 100.0
		if tempC < -20 || tempC > 60 {
			return rec, nil, fmt.Errorf("temp_c %.2f out of range", tempC)
		}
		rec.TempC = &tempC

		humidity := float64(msg.HumidityX100) / 100.0
		if humidity < 0 || humidity > 100 {
			return rec, nil, fmt.Errorf("humidity_pct %.2f out of range", humidity)
		}
		rec.HumidityPct = &humidity

		pressure := float64(msg.PressureHPAx10) / 10.0
		if pressure < 300 || pressure > 1100 {
			return rec, nil, fmt.Errorf("pressure_hpa %.1f out of range", pressure)
		}
		rec.PressureHPa = &pressure
	}
	if msg.Flags&flagBattery == 0 {
		battV := float64(msg.BatteryMV) / 1000.0
		if battV < 2.5 || battV > 4.5 {
			return rec, nil, fmt.Errorf("battery_v %.3f out of range", battV)
		}
		rec.BatteryV = &battV
	}

	if msg.MsgType != 2 {
		return rec, nil, nil
	}
	if msg.PeriodMs == nil || msg.BeesIn == nil || msg.BeesOut == nil || msg.LaneMask == nil || msg.StuckMask == nil {
		return rec, nil, nil // Phase 2 msg_type without traffic fields: persist the reading, skip bee_counts
	}
	if *msg.PeriodMs < 1000 {
		return rec, nil, nil // traffic fields fail validation: reading still persists, bee_counts is skipped
	}
	bc := &model.BeeCount{
		HiveID:     hiveID,
		ObservedAt: rec.ObservedAt,
		PeriodMs:   *msg.PeriodMs,
		BeesIn:     *msg.BeesIn,
		BeesOut:    *msg.BeesOut,
		LaneMask:   *msg.LaneMask,
		StuckMask:  *msg.StuckMask,
	}
	return rec, bc, nil
}

package db

import (
	"context"
	"database/sql"
	"fmt"
)

// flag bits excluded from every correlation aggregation: FIRST_BOOT (1) and
// calibration/transient (6). Readings carrying either, or any stuck_mask,
// must not be allowed to synthesize a swarm/abscond/robbing/low-activity
// alert out of a reboot or a jammed sensor.
const correlationExclusionSQL = `(sr.flags & (1<<1)) = 0 AND (sr.flags & (1<<6)) = 0 AND bc.stuck_mask = 0`

// WeightWindowStats supports the POSSIBLE_SWARM weight-only tier: the count
// of readings and the maximum weight_kg seen for hiveID in [windowStart,
// windowEnd]. No exclusion filter — the weight-only tier runs precisely
// when there is no traffic data to apply one to.
func (r *Repo) WeightWindowStats(ctx context.Context, hiveID int, windowStart, windowEnd string) (count int, maxWeight *float64, err error) {
	var max sql.NullFloat64
	row := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(weight_kg) FROM sensor_readings
		WHERE hive_id = ? AND observed_at >= ? AND observed_at <= ? AND weight_kg IS NOT NULL`,
		hiveID, windowStart, windowEnd)
	if err := row.Scan(&count, &max); err != nil {
		return 0, nil, fmt.Errorf("db: weight window stats: %w", err)
	}
	if max.Valid {
		maxWeight = &max.Float64
	}
	return count, maxWeight, nil
}

// HasTrafficInWindow reports whether any bee_counts row exists for hiveID in
// [windowStart, windowEnd], for the POSSIBLE_SWARM two-tier fallback.
func (r *Repo) HasTrafficInWindow(ctx context.Context, hiveID int, windowStart, windowEnd string) (bool, error) {
	var n int
	row := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bee_counts
		WHERE hive_id = ? AND observed_at >= ? AND observed_at <= ? LIMIT 1`,
		hiveID, windowStart, windowEnd)
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("db: has traffic in window: %w", err)
	}
	return n > 0, nil
}

// CorrelationWindowStats is the joined sensor_readings+bee_counts
// aggregation used by POSSIBLE_SWARM (correlation tier), ABSCONDING, and
// ROBBING: row count, max weight_kg, and summed net_out/total_traffic over
// [windowStart, windowEnd], excluding FIRST_BOOT/calibration readings and
// stuck lanes.
type CorrelationWindowStats struct {
	Count           int
	MaxWeight       *float64
	SumNetOut       int64
	SumTotalTraffic int64
}

func (r *Repo) CorrelationWindowStats(ctx context.Context, hiveID int, windowStart, windowEnd string) (CorrelationWindowStats, error) {
	var out CorrelationWindowStats
	var maxWeight sql.NullFloat64
	var sumNetOut, sumTotal sql.NullInt64
	row := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(sr.weight_kg), SUM(bc.net_out), SUM(bc.total_traffic)
		FROM sensor_readings sr
		JOIN bee_counts bc ON bc.reading_id = sr.id
		WHERE sr.hive_id = ? AND sr.observed_at >= ? AND sr.observed_at <= ?
		AND `+correlationExclusionSQL, hiveID, windowStart, windowEnd)
	if err := row.Scan(&out.Count, &maxWeight, &sumNetOut, &sumTotal); err != nil {
		return out, fmt.Errorf("db: correlation window stats: %w", err)
	}
	if maxWeight.Valid {
		out.MaxWeight = &maxWeight.Float64
	}
	out.SumNetOut = sumNetOut.Int64
	out.SumTotalTraffic = sumTotal.Int64
	return out, nil
}

// DailyTrafficTotal sums total_traffic for hiveID over [dayStart, dayEnd),
// applying the same correlation exclusions, for the LOW_ACTIVITY rule's
// daily-average baseline. sampleCount is the number of contributing rows.
func (r *Repo) DailyTrafficTotal(ctx context.Context, hiveID int, dayStart, dayEnd string) (total int64, sampleCount int, err error) {
	var sum sql.NullInt64
	row := r.DB.QueryRowContext(ctx, `
		SELECT SUM(bc.total_traffic), COUNT(*)
		FROM sensor_readings sr
		JOIN bee_counts bc ON bc.reading_id = sr.id
		WHERE sr.hive_id = ? AND sr.observed_at >= ? AND sr.observed_at < ?
		AND `+correlationExclusionSQL, hiveID, dayStart, dayEnd)
	if err := row.Scan(&sum, &sampleCount); err != nil {
		return 0, 0, fmt.Errorf("db: daily traffic total: %w", err)
	}
	return sum.Int64, sampleCount, nil
}

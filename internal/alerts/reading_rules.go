package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/model"
)

type highTempRule struct{}

func (highTempRule) Type() model.AlertType  { return model.AlertHighTemp }
func (highTempRule) Cooldown() time.Duration { return 30 * time.Minute }

func (highTempRule) Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, reading model.SensorReading) (*Outcome, error) {
	if reading.TempC == nil || *reading.TempC <= 40 {
		return nil, nil
	}
	return &Outcome{
		Severity: model.SeverityMedium,
		Message:  fmt.Sprintf("temperature %.1f°C exceeds 40°C", *reading.TempC),
		Details:  map[string]any{"temp_c": *reading.TempC},
	}, nil
}

type lowTempRule struct{}

func (lowTempRule) Type() model.AlertType  { return model.AlertLowTemp }
func (lowTempRule) Cooldown() time.Duration { return 30 * time.Minute }

func (lowTempRule) Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, reading model.SensorReading) (*Outcome, error) {
	if reading.TempC == nil || *reading.TempC >= 5 {
		return nil, nil
	}
	return &Outcome{
		Severity: model.SeverityLow,
		Message:  fmt.Sprintf("temperature %.1f°C below 5°C", *reading.TempC),
		Details:  map[string]any{"temp_c": *reading.TempC},
	}, nil
}

type lowBatteryRule struct{}

func (lowBatteryRule) Type() model.AlertType  { return model.AlertLowBattery }
func (lowBatteryRule) Cooldown() time.Duration { return 60 * time.Minute }

func (lowBatteryRule) Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, reading model.SensorReading) (*Outcome, error) {
	if reading.BatteryV == nil || *reading.BatteryV >= 3.3 {
		return nil, nil
	}
	return &Outcome{
		Severity: model.SeverityMedium,
		Message:  fmt.Sprintf("battery %.2fV below 3.3V", *reading.BatteryV),
		Details:  map[string]any{"battery_v": *reading.BatteryV},
	}, nil
}

// possibleSwarmRule implements the two-tier fallback: the correlation tier
// runs whenever the window has any traffic data at all, and only the
// weight-only tier's absence of traffic lets it run instead. They are one
// rule type with one cooldown so only one of the two can ever fire for a
// given trigger.
type possibleSwarmRule struct{}

func (possibleSwarmRule) Type() model.AlertType  { return model.AlertPossibleSwarm }
func (possibleSwarmRule) Cooldown() time.Duration { return 12 * time.Hour }

func (possibleSwarmRule) Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, reading model.SensorReading) (*Outcome, error) {
	if reading.WeightKg == nil {
		return nil, nil
	}
	anchor, err := model.ParseTime(reading.ObservedAt)
	if err != nil {
		return nil, fmt.Errorf("possible_swarm: parse observed_at: %w", err)
	}
	windowStart := model.FormatTime(anchor.Add(-1 * time.Hour))

	hasTraffic, err := repo.HasTrafficInWindow(ctx, hive.ID, windowStart, reading.ObservedAt)
	if err != nil {
		return nil, err
	}

	if hasTraffic {
		stats, err := repo.CorrelationWindowStats(ctx, hive.ID, windowStart, reading.ObservedAt)
		if err != nil {
			return nil, err
		}
		if stats.Count < 30 || stats.MaxWeight == nil {
			return nil, nil
		}
		drop := *stats.MaxWeight - *reading.WeightKg
		if drop > 1.5 && stats.SumNetOut > 500 {
			return &Outcome{
				Severity: model.SeverityCritical,
				Message:  fmt.Sprintf("weight drop %.2fkg with net outflow %d bees over prior hour", drop, stats.SumNetOut),
				Details:  map[string]any{"weight_drop_kg": drop, "sum_net_out": stats.SumNetOut, "samples": stats.Count},
			}, nil
		}
		return nil, nil
	}

	count, maxWeight, err := repo.WeightWindowStats(ctx, hive.ID, windowStart, reading.ObservedAt)
	if err != nil {
		return nil, err
	}
	if count < 5 || maxWeight == nil {
		return nil, nil
	}
	drop := *maxWeight - *reading.WeightKg
	if drop > 2.0 {
		return &Outcome{
			Severity: model.SeverityHigh,
			Message:  fmt.Sprintf("weight drop %.2fkg over prior hour with no traffic data", drop),
			Details:  map[string]any{"weight_drop_kg": drop, "samples": count},
		}, nil
	}
	return nil, nil
}

type abscondingRule struct{}

func (abscondingRule) Type() model.AlertType  { return model.AlertAbsconding }
func (abscondingRule) Cooldown() time.Duration { return 24 * time.Hour }

func (abscondingRule) Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, reading model.SensorReading) (*Outcome, error) {
	if reading.WeightKg == nil {
		return nil, nil
	}
	anchor, err := model.ParseTime(reading.ObservedAt)
	if err != nil {
		return nil, fmt.Errorf("absconding: parse observed_at: %w", err)
	}
	windowStart := model.FormatTime(anchor.Add(-2 * time.Hour))

	stats, err := repo.CorrelationWindowStats(ctx, hive.ID, windowStart, reading.ObservedAt)
	if err != nil {
		return nil, err
	}
	if stats.Count < 60 || stats.MaxWeight == nil {
		return nil, nil
	}
	drop := *stats.MaxWeight - *reading.WeightKg
	if drop > 2.0 && stats.SumNetOut > 400 {
		return &Outcome{
			Severity: model.SeverityCritical,
			Message:  fmt.Sprintf("weight drop %.2fkg with net outflow %d bees over prior 2h", drop, stats.SumNetOut),
			Details:  map[string]any{"weight_drop_kg": drop, "sum_net_out": stats.SumNetOut, "samples": stats.Count},
		}, nil
	}
	return nil, nil
}

type robbingRule struct{}

func (robbingRule) Type() model.AlertType  { return model.AlertRobbing }
func (robbingRule) Cooldown() time.Duration { return 4 * time.Hour }

func (robbingRule) Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, reading model.SensorReading) (*Outcome, error) {
	if reading.WeightKg == nil {
		return nil, nil
	}
	anchor, err := model.ParseTime(reading.ObservedAt)
	if err != nil {
		return nil, fmt.Errorf("robbing: parse observed_at: %w", err)
	}
	windowStart := model.FormatTime(anchor.Add(-1 * time.Hour))

	stats, err := repo.CorrelationWindowStats(ctx, hive.ID, windowStart, reading.ObservedAt)
	if err != nil {
		return nil, err
	}
	if stats.Count < 30 || stats.MaxWeight == nil {
		return nil, nil
	}
	drop := *stats.MaxWeight - *reading.WeightKg
	if stats.SumTotalTraffic > 1000 && stats.SumNetOut < -200 && drop > 0.5 {
		return &Outcome{
			Severity: model.SeverityHigh,
			Message:  fmt.Sprintf("traffic %d with net inflow %d bees and weight drop %.2fkg over prior hour", stats.SumTotalTraffic, -stats.SumNetOut, drop),
			Details:  map[string]any{"sum_total_traffic": stats.SumTotalTraffic, "sum_net_out": stats.SumNetOut, "weight_drop_kg": drop},
		}, nil
	}
	return nil, nil
}

type lowActivityRule struct{}

func (lowActivityRule) Type() model.AlertType  { return model.AlertLowActivity }
func (lowActivityRule) Cooldown() time.Duration { return 24 * time.Hour }

// Evaluate requires at least 3 of the 7 prior days to each carry at least 10
// samples before the average is trusted; today's traffic under 20% of that
// average fires the rule.
func (lowActivityRule) Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, reading model.SensorReading) (*Outcome, error) {
	anchor, err := model.ParseTime(reading.ObservedAt)
	if err != nil {
		return nil, fmt.Errorf("low_activity: parse observed_at: %w", err)
	}
	todayStart := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)

	var qualifyingDays int
	var sumOfDailyAverages int64
	for i := 1; i <= 7; i++ {
		dayStart := todayStart.AddDate(0, 0, -i)
		dayEnd := dayStart.AddDate(0, 0, 1)
		total, samples, err := repo.DailyTrafficTotal(ctx, hive.ID, model.FormatTime(dayStart), model.FormatTime(dayEnd))
		if err != nil {
			return nil, err
		}
		if samples >= 10 {
			qualifyingDays++
			sumOfDailyAverages += total
		}
	}
	if qualifyingDays < 3 {
		return nil, nil
	}
	average := float64(sumOfDailyAverages) / float64(qualifyingDays)

	todayTotal, todaySamples, err := repo.DailyTrafficTotal(ctx, hive.ID, model.FormatTime(todayStart), reading.ObservedAt)
	if err != nil {
		return nil, err
	}
	if todaySamples == 0 {
		return nil, nil
	}
	if float64(todayTotal) < 0.2*average {
		return &Outcome{
			Severity: model.SeverityMedium,
			Message:  fmt.Sprintf("today's traffic %d is under 20%% of the %d-day average %.0f", todayTotal, qualifyingDays, average),
			Details:  map[string]any{"today_total": todayTotal, "average": average, "qualifying_days": qualifyingDays},
		}, nil
	}
	return nil, nil
}

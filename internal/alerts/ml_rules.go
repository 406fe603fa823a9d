package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/model"
)

type varroaDetectedRule struct{}

func (varroaDetectedRule) Type() model.AlertType  { return model.AlertVarroaDetected }
func (varroaDetectedRule) Cooldown() time.Duration { return 24 * time.Hour }

// Evaluate anchors observed_at to the triggering detection's own detected_at
// rather than the call-time anchor, unlike the other ML rules.
func (varroaDetectedRule) Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, anchor string) (*Outcome, error) {
	latest, err := repo.LatestDetection(ctx, hive.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if latest.VarroaMaxConfidence < 0.7 {
		return nil, nil
	}
	return &Outcome{
		Severity:   model.SeverityLow,
		Message:    fmt.Sprintf("varroa detected with confidence %.2f", latest.VarroaMaxConfidence),
		Details:    map[string]any{"varroa_max_confidence": latest.VarroaMaxConfidence, "photo_id": latest.PhotoID},
		ObservedAt: latest.DetectedAt,
	}, nil
}

type varroaHighLoadRule struct{}

func (varroaHighLoadRule) Type() model.AlertType  { return model.AlertVarroaHighLoad }
func (varroaHighLoadRule) Cooldown() time.Duration { return 48 * time.Hour }

func (varroaHighLoadRule) Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, anchor string) (*Outcome, error) {
	anchorTime, err := model.ParseTime(anchor)
	if err != nil {
		return nil, fmt.Errorf("varroa_high_load: parse anchor: %w", err)
	}
	dayStart := time.Date(anchorTime.Year(), anchorTime.Month(), anchorTime.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	ratio, samples, err := repo.VarroaLoadRatio(ctx, hive.ID, model.FormatTime(dayStart), model.FormatTime(dayEnd))
	if err != nil {
		return nil, err
	}
	if samples == 0 || ratio <= 3.0 {
		return nil, nil
	}
	return &Outcome{
		Severity: model.SeverityCritical,
		Message:  fmt.Sprintf("today's varroa load ratio %.2f%% exceeds 3.0%%", ratio),
		Details:  map[string]any{"ratio": ratio, "samples": samples},
	}, nil
}

type varroaRisingRule struct{}

func (varroaRisingRule) Type() model.AlertType  { return model.AlertVarroaRising }
func (varroaRisingRule) Cooldown() time.Duration { return 72 * time.Hour }

// Evaluate requires at least 3 daily ratios over the trailing 7 days before
// fitting a trend; it fires when the least-squares slope exceeds 0.3/day
// and the most recent ratio is itself above 1.0 (a flat high plateau alone
// does not trigger a rising alert).
func (varroaRisingRule) Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, anchor string) (*Outcome, error) {
	anchorTime, err := model.ParseTime(anchor)
	if err != nil {
		return nil, fmt.Errorf("varroa_rising: parse anchor: %w", err)
	}
	since := model.FormatTime(anchorTime.AddDate(0, 0, -7))

	days, err := repo.DailyVarroaRatios(ctx, hive.ID, since, anchor)
	if err != nil {
		return nil, err
	}
	if len(days) < 3 {
		return nil, nil
	}

	slope := linearRegressionSlope(days)
	latest := days[len(days)-1].Ratio
	if slope > 0.3 && latest > 1.0 {
		return &Outcome{
			Severity: model.SeverityHigh,
			Message:  fmt.Sprintf("varroa load trending up %.2f/day, latest ratio %.2f%%", slope, latest),
			Details:  map[string]any{"slope_per_day": slope, "latest_ratio": latest, "days": len(days)},
		}, nil
	}
	return nil, nil
}

// linearRegressionSlope fits y = a + b*x over the daily ratios, x indexed
// 0..n-1 in chronological order, and returns b.
func linearRegressionSlope(days []db.DailyVarroaRatio) float64 {
	n := float64(len(days))
	var sumX, sumY, sumXY, sumXX float64
	for i, d := range days {
		x := float64(i)
		sumX += x
		sumY += d.Ratio
		sumXY += x * d.Ratio
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

type waspAttackRule struct{}

func (waspAttackRule) Type() model.AlertType  { return model.AlertWaspAttack }
func (waspAttackRule) Cooldown() time.Duration { return 2 * time.Hour }

func (waspAttackRule) Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, anchor string) (*Outcome, error) {
	anchorTime, err := model.ParseTime(anchor)
	if err != nil {
		return nil, fmt.Errorf("wasp_attack: parse anchor: %w", err)
	}
	cutoff := model.FormatTime(anchorTime.Add(-10 * time.Minute))

	count, err := repo.WaspCountSince(ctx, hive.ID, cutoff)
	if err != nil {
		return nil, err
	}
	if count >= 3 {
		return &Outcome{
			Severity: model.SeverityHigh,
			Message:  fmt.Sprintf("%d wasps detected in the last 10 minutes", count),
			Details:  map[string]any{"wasp_count": count},
		}, nil
	}
	return nil, nil
}

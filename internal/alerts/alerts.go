// Package alerts evaluates the hive alert rule catalogue: threshold rules
// and correlation rules on every ingested reading, ML-derived rules after
// every completed inference, and a periodic NO_DATA sweep. Every firing
// path shares one cooldown-gated insert, mirroring the way the cam-bus
// engines.Manager fans a single event out across independent post-processors.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/model"
)

// Outcome is what a rule returns when its condition holds.
type Outcome struct {
	Severity   model.Severity
	Message    string
	Details    map[string]any
	ObservedAt string // overrides the default anchor when non-empty
}

// ReadingRule evaluates against the reading that just landed, plus whatever
// window it needs around it.
type ReadingRule interface {
	Type() model.AlertType
	Cooldown() time.Duration
	Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, reading model.SensorReading) (*Outcome, error)
}

// MLRule evaluates against a hive's accumulated detection history after a
// completed inference.
type MLRule interface {
	Type() model.AlertType
	Cooldown() time.Duration
	Evaluate(ctx context.Context, repo *db.Repo, hive model.Hive, anchor string) (*Outcome, error)
}

// Engine is the alert evaluation entry point. It owns no state of its own —
// cooldowns are derived from the alerts table itself — so it is safe to
// share across goroutines.
type Engine struct {
	repo           *db.Repo
	readingRules   []ReadingRule
	mlRules        []MLRule
	noDataAfter    time.Duration
	noDataCooldown time.Duration
	log            zerolog.Logger
}

// New builds the engine with the full rule catalogue, in the order threshold
// rules fire before correlation rules before ML rules, so alert firing order
// within a single reading is stable.
func New(repo *db.Repo, log zerolog.Logger) *Engine {
	return &Engine{
		repo: repo,
		readingRules: []ReadingRule{
			highTempRule{},
			lowTempRule{},
			lowBatteryRule{},
			possibleSwarmRule{},
			abscondingRule{},
			robbingRule{},
			lowActivityRule{},
		},
		mlRules: []MLRule{
			varroaDetectedRule{},
			varroaHighLoadRule{},
			varroaRisingRule{},
			waspAttackRule{},
		},
		noDataAfter:    15 * time.Minute,
		noDataCooldown: 60 * time.Minute,
		log:            log,
	}
}

// CheckReading runs every reading rule against the just-persisted reading,
// in catalogue order, firing at most one alert per rule per call.
func (e *Engine) CheckReading(ctx context.Context, hive model.Hive, reading model.SensorReading) error {
	for _, rule := range e.readingRules {
		if err := e.evaluateAndFire(ctx, hive.ID, rule.Type(), rule.Cooldown(), reading.ObservedAt, func() (*Outcome, error) {
			return rule.Evaluate(ctx, e.repo, hive, reading)
		}); err != nil {
			e.log.Error().Err(err).Str("rule", string(rule.Type())).Int("hive_id", hive.ID).Msg("reading rule evaluation failed")
		}
	}
	return nil
}

// CheckMLAlerts runs every ML-derived rule against hive's current detection
// history. anchor is used as the default observed_at for rolling-window
// rules; VARROA_DETECTED overrides it with the triggering detection's own
// detected_at.
func (e *Engine) CheckMLAlerts(ctx context.Context, hive model.Hive) error {
	anchor := model.NowUTC()
	for _, rule := range e.mlRules {
		if err := e.evaluateAndFire(ctx, hive.ID, rule.Type(), rule.Cooldown(), anchor, func() (*Outcome, error) {
			return rule.Evaluate(ctx, e.repo, hive, anchor)
		}); err != nil {
			e.log.Error().Err(err).Str("rule", string(rule.Type())).Int("hive_id", hive.ID).Msg("ml rule evaluation failed")
		}
	}
	return nil
}

// CheckNoData sweeps every hive whose last_seen_at has gone stale and fires
// NO_DATA subject to its own 60-minute cooldown — the same window as the
// sweep interval, so at most one NO_DATA alert is produced per hive per hour
// regardless of how long the silence continues.
func (e *Engine) CheckNoData(ctx context.Context) error {
	cutoff := model.FormatTime(time.Now().UTC().Add(-e.noDataAfter))
	stale, err := e.repo.HivesStaleSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("alerts: no_data sweep: %w", err)
	}
	now := model.NowUTC()
	for _, hive := range stale {
		if err := e.evaluateAndFire(ctx, hive.ID, model.AlertNoData, e.noDataCooldown, now, func() (*Outcome, error) {
			return &Outcome{
				Severity: model.SeverityMedium,
				Message:  fmt.Sprintf("hive %d has not reported since %s", hive.ID, *hive.LastSeenAt),
				Details:  map[string]any{"last_seen_at": *hive.LastSeenAt},
			}, nil
		}); err != nil {
			e.log.Error().Err(err).Int("hive_id", hive.ID).Msg("no_data rule evaluation failed")
		}
	}
	return nil
}

// evaluateAndFire applies the shared cooldown-check-then-fire primitive:
// skip evaluation entirely if an alert of this type fired within the
// cooldown window, otherwise evaluate and persist whatever outcome results.
func (e *Engine) evaluateAndFire(ctx context.Context, hiveID int, alertType model.AlertType, cooldown time.Duration, defaultObservedAt string, evaluate func() (*Outcome, error)) error {
	lastAt, ok, err := e.repo.LastAlertAt(ctx, hiveID, alertType)
	if err != nil {
		return err
	}
	if ok {
		last, err := model.ParseTime(lastAt)
		if err == nil && time.Since(last) < cooldown {
			return nil
		}
	}

	outcome, err := evaluate()
	if err != nil {
		return err
	}
	if outcome == nil {
		return nil
	}

	observedAt := outcome.ObservedAt
	if observedAt == "" {
		observedAt = defaultObservedAt
	}
	var detailsJSON *string
	if outcome.Details != nil {
		b, err := json.Marshal(outcome.Details)
		if err != nil {
			return fmt.Errorf("alerts: marshal details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	now := model.NowUTC()
	_, err = e.repo.InsertAlert(ctx, model.Alert{
		HiveID:      hiveID,
		Type:        alertType,
		Severity:    outcome.Severity,
		Message:     outcome.Message,
		ObservedAt:  observedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
		DetailsJSON: detailsJSON,
		Source:      model.SourceLocal,
	})
	if err != nil {
		return fmt.Errorf("alerts: fire %s: %w", alertType, err)
	}
	e.log.Info().Str("type", string(alertType)).Int("hive_id", hiveID).Str("severity", string(outcome.Severity)).Msg("alert fired")
	return nil
}

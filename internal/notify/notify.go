// Package notify dispatches fired alerts to configured webhook endpoints,
// per spec.md §4.6. Each endpoint receives an HMAC-signed JSON payload;
// dispatch is single-attempt — notified_at is stamped whether or not
// delivery succeeds, since a retry storm on a dead webhook is worse than a
// missed notification the cloud-synced Alert row still carries.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/waggle-hive/hivehub/internal/config"
	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/metrics"
	"github.com/waggle-hive/hivehub/internal/model"
)

const batchSize = 50

// Dispatcher delivers unnotified critical/high alerts to every configured
// webhook URL.
type Dispatcher struct {
	repo   *db.Repo
	urls   []string
	secret string
	http   *http.Client
	log    zerolog.Logger
	now    func() time.Time
}

// New builds a Dispatcher from cfg's WebhookURLs/WebhookSecret. An empty
// URL list makes Run a no-op — webhooks are optional.
func New(repo *db.Repo, cfg *config.Config, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		urls:   cfg.WebhookURLs,
		secret: cfg.WebhookSecret,
		http:   &http.Client{Timeout: 10 * time.Second},
		log:    log,
		now:    time.Now,
	}
}

// Run ticks every interval until ctx is done, dispatching unnotified
// critical/high alerts each tick.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	if len(d.urls) == 0 {
		d.log.Info().Msg("notify: no webhook urls configured, dispatcher idle")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := d.RunOnce(ctx); err != nil {
			d.log.Error().Err(err).Msg("notify: dispatch cycle failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce dispatches every currently-unnotified critical/high alert.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	alerts, err := d.repo.UnnotifiedCriticalOrHigh(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("notify: fetch unnotified alerts: %w", err)
	}
	for _, a := range alerts {
		d.dispatchOne(ctx, a)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, a model.Alert) {
	hiveName, err := d.repo.HiveName(ctx, a.HiveID)
	if err != nil {
		d.log.Error().Err(err).Int("hive_id", a.HiveID).Msg("notify: hive lookup failed")
		hiveName = ""
	}

	payload, err := json.Marshal(webhookPayload{
		AlertID:    a.ID,
		HiveID:     a.HiveID,
		HiveName:   hiveName,
		Type:       a.Type,
		Severity:   a.Severity,
		Message:    a.Message,
		ObservedAt: a.ObservedAt,
		CreatedAt:  a.CreatedAt,
	})
	if err != nil {
		d.log.Error().Err(err).Int64("alert_id", a.ID).Msg("notify: marshal payload failed")
	} else {
		for _, url := range d.urls {
			d.deliver(ctx, url, payload)
		}
	}

	if err := d.repo.MarkAlertNotified(ctx, a.ID, model.FormatTime(d.now())); err != nil {
		d.log.Error().Err(err).Int64("alert_id", a.ID).Msg("notify: mark notified failed")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, url string, payload []byte) {
	ts := strconv.FormatInt(d.now().Unix(), 10)
	sig := sign(d.secret, ts, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		metrics.WebhookDispatches.WithLabelValues("build_error").Inc()
		d.log.Error().Err(err).Str("url", url).Msg("notify: build request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Waggle-Timestamp", ts)
	req.Header.Set("X-Waggle-Signature", sig)

	resp, err := d.http.Do(req)
	if err != nil {
		metrics.WebhookDispatches.WithLabelValues("network_error").Inc()
		d.log.Warn().Err(err).Str("url", url).Msg("notify: delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.WebhookDispatches.WithLabelValues("http_error").Inc()
		d.log.Warn().Str("url", url).Int("status", resp.StatusCode).Msg("notify: webhook returned error status")
		return
	}
	metrics.WebhookDispatches.WithLabelValues("delivered").Inc()
}

// sign computes the hex-encoded HMAC-SHA256 over "{unix_ts}.{body}", the
// same timestamp-prefixed signing scheme Stripe/GitHub-style webhook
// verification uses to defeat replay of a captured payload.
func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type webhookPayload struct {
	AlertID    int64           `json:"alert_id"`
	HiveID     int             `json:"hive_id"`
	HiveName   string          `json:"hive_name"`
	Type       model.AlertType `json:"type"`
	Severity   model.Severity  `json:"severity"`
	Message    string          `json:"message"`
	ObservedAt string          `json:"observed_at"`
	CreatedAt  string          `json:"created_at"`
}

// Package metrics holds the process-internal Prometheus counters hivehub
// keeps for itself. There is no HTTP exposition endpoint — spec.md's HTTP
// surface is a Non-goal — these are counters a future admin endpoint or a
// textfile-collector cron can read via promhttp.Handler, registered against
// the default registry the way every promauto-based Go service does it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BridgeFramesDropped counts frames the Bridge discarded before they ever
// reached MQTT, labeled by the reason the frame never made it through.
// spec.md §4.1: a malformed frame is logged and dropped, never blocks the
// serial read loop.
var BridgeFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hivehub_bridge_frames_dropped_total",
	Help: "Serial frames dropped by the bridge before publish, by reason.",
}, []string{"reason"})

// BridgeFramesPublished counts frames successfully decoded and published.
var BridgeFramesPublished = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hivehub_bridge_frames_published_total",
	Help: "Serial frames decoded and published to MQTT.",
})

// IngestionReadingsDropped counts readings rejected during validation,
// labeled by the validation stage that rejected them (clock_sanity,
// schema_version, topic_mismatch, unknown_hive, msg_type, mac_mismatch,
// bad_timestamp, future_skew, past_skew, out_of_range, dedup, unique_index).
var IngestionReadingsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hivehub_ingestion_readings_dropped_total",
	Help: "Readings rejected during ingestion validation, by reason.",
}, []string{"reason"})

// IngestionReadingsAccepted counts readings persisted successfully.
var IngestionReadingsAccepted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hivehub_ingestion_readings_accepted_total",
	Help: "Readings accepted and persisted by ingestion.",
})

// MLWorkerClaims counts photo claim attempts, labeled by outcome
// (claimed, empty, stale_recovered).
var MLWorkerClaims = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hivehub_mlworker_claims_total",
	Help: "Photo claim attempts made by the ML worker, by outcome.",
}, []string{"outcome"})

// MLWorkerInferences counts completed inference attempts, labeled by
// outcome (completed, failed).
var MLWorkerInferences = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hivehub_mlworker_inferences_total",
	Help: "Inference attempts completed by the ML worker, by outcome.",
}, []string{"outcome"})

// SyncPushRows counts rows pushed to the cloud store per table, labeled by
// outcome (ok, error).
var SyncPushRows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hivehub_sync_push_rows_total",
	Help: "Rows pushed to the cloud store, by table and outcome.",
}, []string{"table", "outcome"})

// SyncPullOutcomes counts cloud-to-local pull cycles, labeled by kind
// (inspections, alert_acks) and outcome (ok, error).
var SyncPullOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hivehub_sync_pull_total",
	Help: "Cloud-to-local pull applications, by kind and outcome.",
}, []string{"kind", "outcome"})

// WebhookDispatches counts webhook delivery attempts, labeled by outcome
// (delivered, http_error, network_error, build_error). Dispatch is single-attempt per
// spec.md §4.6 — this counter is the only record of a failed delivery.
var WebhookDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hivehub_webhook_dispatches_total",
	Help: "Alert webhook delivery attempts, by outcome.",
}, []string{"outcome"})

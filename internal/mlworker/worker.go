package mlworker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/waggle-hive/hivehub/internal/alerts"
	"github.com/waggle-hive/hivehub/internal/apierr"
	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/metrics"
	"github.com/waggle-hive/hivehub/internal/model"
)

const (
	maxAttempts       = 3
	staleClaimTimeout = 10 * time.Minute
	recoverySweep     = 60 * time.Second
)

// Worker claims pending photos one at a time and runs them through an
// Inferencer, per spec.md §4.4's pending->processing->{completed,failed}
// state machine. Safe to run as multiple concurrent processes: the claim
// is a single atomic UPDATE, not a distributed lock.
type Worker struct {
	repo                *db.Repo
	infer               Inferencer
	alerts              *alerts.Engine
	confidenceThreshold float64
	modelVersion        string
	modelHash           string
	log                 zerolog.Logger
	now                 func() time.Time
}

// New builds a Worker. modelHash is the SHA-256 this worker's Inferencer
// backend claims to be running, verified against expectedHash by
// VerifyModelHash before Run starts accepting claims.
func New(repo *db.Repo, infer Inferencer, engine *alerts.Engine, confidenceThreshold float64, modelVersion, modelHash string, log zerolog.Logger) *Worker {
	return &Worker{
		repo:                repo,
		infer:               infer,
		alerts:              engine,
		confidenceThreshold: confidenceThreshold,
		modelVersion:        modelVersion,
		modelHash:           modelHash,
		log:                 log,
		now:                 time.Now,
	}
}

// VerifyModelHash computes the SHA-256 of the model artifact at path and
// compares it against expectedHash. If expectedHash is empty, verification
// is skipped (spec.md §4.4: "optionally verify"). A mismatch is refusal to
// run, not a warning — an unverified model must never silently serve
// inference.
func VerifyModelHash(path, expectedHash string) error {
	if expectedHash == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "open model artifact", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return apierr.Wrap(apierr.Internal, "hash model artifact", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != expectedHash {
		return apierr.New(apierr.Internal, fmt.Sprintf("model hash mismatch: expected %s, got %s", expectedHash, got)).
			WithDetails(map[string]any{"expected": expectedHash, "got": got})
	}
	return nil
}

// Run claims and processes photos until ctx is done, sleeping pollInterval
// between empty claims, and sweeps stale claims on its own ticker.
func (w *Worker) Run(ctx context.Context, pollInterval time.Duration) error {
	go w.runRecoverySweep(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		processed, err := w.claimAndProcessOne(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("mlworker: claim/process cycle failed")
		}
		if processed {
			continue // immediately try for another, FIFO drains as fast as inference allows
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) runRecoverySweep(ctx context.Context) {
	w.sweepStaleClaims(ctx)
	ticker := time.NewTicker(recoverySweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepStaleClaims(ctx)
		}
	}
}

func (w *Worker) sweepStaleClaims(ctx context.Context) {
	cutoff := model.FormatTime(w.now().UTC().Add(-staleClaimTimeout))
	n, err := w.repo.RecoverStaleClaims(ctx, cutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("mlworker: stale claim recovery failed")
		return
	}
	if n > 0 {
		metrics.MLWorkerClaims.WithLabelValues("stale_recovered").Add(float64(n))
		w.log.Warn().Int64("count", n).Msg("mlworker: recovered stale claims")
	}
}

// claimAndProcessOne claims at most one pending photo and runs it through
// inference. Returns processed=false when there was nothing to claim.
func (w *Worker) claimAndProcessOne(ctx context.Context) (processed bool, err error) {
	photo, err := w.repo.ClaimNextPending(ctx, model.NowUTC())
	if err != nil {
		return false, fmt.Errorf("mlworker: claim: %w", err)
	}
	if photo == nil {
		metrics.MLWorkerClaims.WithLabelValues("empty").Inc()
		return false, nil
	}
	metrics.MLWorkerClaims.WithLabelValues("claimed").Inc()

	if err := w.processClaimedPhoto(ctx, *photo); err != nil {
		metrics.MLWorkerInferences.WithLabelValues("failed").Inc()
		if failErr := w.repo.FailPhoto(ctx, photo.ID, photo.MLAttempts, maxAttempts, err.Error()); failErr != nil {
			return true, fmt.Errorf("mlworker: fail photo %d: %w", photo.ID, failErr)
		}
		w.log.Warn().Err(err).Int64("photo_id", photo.ID).Int("attempts", photo.MLAttempts).Msg("mlworker: inference failed")
		return true, nil
	}
	return true, nil
}

func (w *Worker) processClaimedPhoto(ctx context.Context, photo model.Photo) error {
	start := w.now()
	raw, err := w.infer.Infer(ctx, photo.PhotoPath)
	if err != nil {
		return fmt.Errorf("infer: %w", err)
	}
	inferenceMs := w.now().Sub(start).Milliseconds()
	if inferenceMs < 1 {
		inferenceMs = 1 // ml_detections.inference_ms must be > 0; sub-millisecond calls round up
	}

	detection := summarize(raw, w.confidenceThreshold)
	detection.PhotoID = photo.ID
	detection.HiveID = photo.HiveID
	detection.DetectedAt = model.NowUTC()
	detection.InferenceMs = inferenceMs
	detection.ModelVersion = w.modelVersion
	detection.ModelHash = w.modelHash

	boxesJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal raw boxes: %w", err)
	}
	detection.RawBoxesJSON = string(boxesJSON)

	if _, err := w.repo.InsertDetection(ctx, detection); err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	if err := w.repo.CompletePhoto(ctx, photo.ID, model.NowUTC()); err != nil {
		return fmt.Errorf("complete photo: %w", err)
	}
	metrics.MLWorkerInferences.WithLabelValues("completed").Inc()

	if w.alerts != nil {
		hive, err := w.repo.GetHive(ctx, photo.HiveID)
		if err != nil {
			return fmt.Errorf("lookup hive for alert check: %w", err)
		}
		if err := w.alerts.CheckMLAlerts(ctx, *hive); err != nil {
			w.log.Error().Err(err).Int("hive_id", photo.HiveID).Msg("mlworker: ml alert evaluation failed")
		}
	}
	return nil
}

// summarize computes varroa_max_confidence from the raw, unfiltered list
// before applying confidenceThreshold, then derives top_class/top_confidence
// and per-class counts from the filtered list — exactly the two-pass split
// spec.md §4.4 requires so a low-confidence-but-present mite is never
// invisible to VARROA_DETECTED.
func summarize(raw []model.RawDetection, confidenceThreshold float64) model.MlDetection {
	var varroaMax float64
	for _, d := range raw {
		if d.Class == model.ClassVarroa && d.Confidence > varroaMax {
			varroaMax = d.Confidence
		}
	}

	var d model.MlDetection
	d.VarroaMaxConfidence = varroaMax
	d.TopClass = model.ClassNormal
	d.TopConfidence = 0.0

	for _, det := range raw {
		if det.Confidence < confidenceThreshold {
			continue
		}
		switch det.Class {
		case model.ClassVarroa:
			d.VarroaCount++
		case model.ClassPollen:
			d.PollenCount++
		case model.ClassWasp:
			d.WaspCount++
		case model.ClassBee:
			d.BeeCount++
		case model.ClassNormal:
			d.NormalCount++
		}
		// Highest filtered confidence wins ties across classes, e.g. a 0.9
		// bee detection outranks a 0.8 varroa one in the same frame. This
		// matches ml_worker.py's own top_class selection.
		if det.Confidence > d.TopConfidence {
			d.TopConfidence = det.Confidence
			d.TopClass = det.Class
		}
	}
	return d
}

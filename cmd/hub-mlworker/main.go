// Command hub-mlworker claims pending photos and runs them through the
// configured object-detection inference backend.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/waggle-hive/hivehub/internal/alerts"
	"github.com/waggle-hive/hivehub/internal/config"
	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/heartbeat"
	"github.com/waggle-hive/hivehub/internal/logging"
	"github.com/waggle-hive/hivehub/internal/mlworker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("hub-mlworker: config")
	}
	logger := logging.New("mlworker")

	if cfg.ModelPath != "" {
		if err := mlworker.VerifyModelHash(cfg.ModelPath, cfg.ExpectedModelHash); err != nil {
			logger.Fatal().Err(err).Msg("hub-mlworker: model integrity check failed")
		}
	}

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("hub-mlworker: open database")
	}
	defer conn.Close()
	repo := db.New(conn)

	alertEngine := alerts.New(repo, logging.New("alerts"))
	infer := mlworker.NewHTTPClient(cfg.MLInferenceURL)
	worker := mlworker.New(repo, infer, alertEngine, cfg.DetectionConfidenceThreshold, cfg.ModelVersion, cfg.ExpectedModelHash, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hb := heartbeat.New("hub-mlworker", cfg.HeartbeatDir, logger, nil)
	go func() {
		if err := hb.Run(ctx, 10*time.Second); err != nil {
			logger.Error().Err(err).Msg("hub-mlworker: heartbeat writer stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info().Msg("hub-mlworker: signal received, shutting down")
		cancel()
	}()

	pollInterval := time.Duration(cfg.MLPollIntervalSec) * time.Second
	if err := worker.Run(ctx, pollInterval); err != nil {
		logger.Fatal().Err(err).Msg("hub-mlworker: run")
	}
}

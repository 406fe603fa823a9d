// Command hub-ingest subscribes to the sensor telemetry MQTT bus, runs the
// full validation/persistence pipeline on every message, and sweeps for
// hives that have gone silent.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/waggle-hive/hivehub/internal/alerts"
	"github.com/waggle-hive/hivehub/internal/config"
	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/heartbeat"
	"github.com/waggle-hive/hivehub/internal/ingestion"
	"github.com/waggle-hive/hivehub/internal/logging"
	"github.com/waggle-hive/hivehub/internal/model"
	"github.com/waggle-hive/hivehub/internal/mqttclient"
)

const noDataSweepInterval = 60 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("hub-ingest: config")
	}
	logger := logging.New("ingestion")

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("hub-ingest: open database")
	}
	defer conn.Close()
	repo := db.New(conn)

	alertEngine := alerts.New(repo, logging.New("alerts"))
	pipeline := ingestion.New(repo, alertEngine, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hiveIDs, err := repo.AllHiveIDs(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("hub-ingest: list hive ids")
	}
	if err := pipeline.WarmAll(ctx, hiveIDs); err != nil {
		logger.Fatal().Err(err).Msg("hub-ingest: warm dedup cache")
	}

	mqttCli, err := mqttclient.NewFromConfig(cfg, "hub-ingest")
	if err != nil {
		logger.Fatal().Err(err).Msg("hub-ingest: connect mqtt")
	}
	defer mqttCli.Close()

	err = mqttCli.Subscribe("waggle/+/sensors", 1, func(topic string, payload []byte) {
		var msg model.WireMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Warn().Err(err).Str("topic", topic).Msg("hub-ingest: undecodable wire message")
			return
		}
		if err := pipeline.HandleMessage(ctx, topic, msg); err != nil {
			logger.Error().Err(err).Str("topic", topic).Msg("hub-ingest: handle message failed")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("hub-ingest: subscribe")
	}

	hb := heartbeat.New("hub-ingest", cfg.HeartbeatDir, logger, nil)
	go func() {
		if err := hb.Run(ctx, 10*time.Second); err != nil {
			logger.Error().Err(err).Msg("hub-ingest: heartbeat writer stopped")
		}
	}()

	go runNoDataSweep(ctx, alertEngine, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("hub-ingest: signal received, shutting down")
	cancel()
}

// runNoDataSweep ticks the NO_DATA sweep hourly. A tick that arrives while
// the previous sweep is still running is simply dropped by the ticker —
// sweeps never queue.
func runNoDataSweep(ctx context.Context, engine *alerts.Engine, log zerolog.Logger) {
	ticker := time.NewTicker(noDataSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.CheckNoData(ctx); err != nil {
				log.Error().Err(err).Msg("hub-ingest: no_data sweep failed")
			}
		}
	}
}

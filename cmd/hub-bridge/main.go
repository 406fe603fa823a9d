// Command hub-bridge reads COBS/CRC8-framed sensor telemetry off the
// configured serial device and republishes every valid frame to MQTT for
// Ingestion to consume.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/waggle-hive/hivehub/internal/bridge"
	"github.com/waggle-hive/hivehub/internal/config"
	"github.com/waggle-hive/hivehub/internal/heartbeat"
	"github.com/waggle-hive/hivehub/internal/logging"
	"github.com/waggle-hive/hivehub/internal/mqttclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("hub-bridge: config")
	}
	logger := logging.New("bridge")

	if cfg.SerialDevice == "" {
		logger.Fatal().Msg("hub-bridge: SERIAL_DEVICE is required")
	}

	port, err := bridge.Open(bridge.Options{Device: cfg.SerialDevice, Baud: cfg.SerialBaud})
	if err != nil {
		logger.Fatal().Err(err).Msg("hub-bridge: open serial device")
	}
	defer port.Close()

	mqttCli, err := mqttclient.NewFromConfig(cfg, "hub-bridge")
	if err != nil {
		logger.Fatal().Err(err).Msg("hub-bridge: connect mqtt")
	}
	defer mqttCli.Close()

	br := bridge.New(port, mqttCli, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hb := heartbeat.New("hub-bridge", cfg.HeartbeatDir, logger, nil)
	go func() {
		if err := hb.Run(ctx, 10*time.Second); err != nil {
			logger.Error().Err(err).Msg("hub-bridge: heartbeat writer stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info().Msg("hub-bridge: signal received, shutting down")
		cancel()
	}()

	if err := br.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("hub-bridge: run")
	}
}

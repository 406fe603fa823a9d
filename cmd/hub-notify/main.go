// Command hub-notify dispatches single-attempt webhook notifications for
// newly-fired critical and high severity alerts.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/waggle-hive/hivehub/internal/config"
	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/heartbeat"
	"github.com/waggle-hive/hivehub/internal/logging"
	"github.com/waggle-hive/hivehub/internal/notify"
)

const dispatchInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("hub-notify: config")
	}
	logger := logging.New("notify")

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("hub-notify: open database")
	}
	defer conn.Close()
	repo := db.New(conn)

	dispatcher := notify.New(repo, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hb := heartbeat.New("hub-notify", cfg.HeartbeatDir, logger, nil)
	go func() {
		if err := hb.Run(ctx, 10*time.Second); err != nil {
			logger.Error().Err(err).Msg("hub-notify: heartbeat writer stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info().Msg("hub-notify: signal received, shutting down")
		cancel()
	}()

	if err := dispatcher.Run(ctx, dispatchInterval); err != nil {
		logger.Fatal().Err(err).Msg("hub-notify: run")
	}
}

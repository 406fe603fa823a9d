// Command hub-sync pushes locally-generated rows to the optional cloud
// store and pulls back cloud-authored edits. With no SUPABASE_URL
// configured it stays idle — the cloud store is optional per spec.md §5.
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
	"github.com/waggle-hive/hivehub/internal/storage"
	"github.com/waggle-hive/hivehub/internal/sync"
	"github.com/waggle-hive/hivehub/internal/supabaseclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("hub-sync: config")
	}
	logger := logging.New("sync")

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("hub-sync: open database")
	}
	defer conn.Close()
	repo := db.New(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cloud *supabaseclient.Client
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		cloud = supabaseclient.New(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	} else {
		logger.Warn().Msg("hub-sync: SUPABASE_URL/SUPABASE_SERVICE_KEY not set, sync engine idle")
	}

	store, err := storage.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("hub-sync: init object store")
	}
	var photoStore storage.PhotoStore
	if store != nil {
		photoStore = store
	}

	engine := sync.New(repo, cloud, photoStore, logger)

	hb := heartbeat.New("hub-sync", cfg.HeartbeatDir, logger, nil)
	go func() {
		if err := hb.Run(ctx, 10*time.Second); err != nil {
			logger.Error().Err(err).Msg("hub-sync: heartbeat writer stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info().Msg("hub-sync: signal received, shutting down")
		cancel()
	}()

	if err := engine.Run(ctx, cfg.SyncInterval()); err != nil {
		logger.Fatal().Err(err).Msg("hub-sync: run")
	}
}

// Command hub-reconcile runs the startup reconciliation pass once and
// exits: quarantine orphan photo files, delete orphan photo rows, recover
// any ML claim stranded by a prior crash, and prune photos past the
// configured retention window. Intended to run before hub-mlworker starts,
// the same way an init container runs before the long-lived workload.
package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/waggle-hive/hivehub/internal/config"
	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/logging"
	"github.com/waggle-hive/hivehub/internal/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("hub-reconcile: config")
	}
	logger := logging.New("reconcile")

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("hub-reconcile: open database")
	}
	defer conn.Close()
	repo := db.New(conn)

	r := reconcile.New(repo, cfg.PhotoDir, cfg.PhotoRetentionDays, logger)
	if err := r.Run(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("hub-reconcile: run")
	}
	logger.Info().Msg("hub-reconcile: reconciliation complete")
}

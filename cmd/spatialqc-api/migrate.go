package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spatialqc/spatialqc/internal/config"
	"github.com/spatialqc/spatialqc/internal/store"
	"github.com/spatialqc/spatialqc/pkg/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Named("api").Info("migrating data store")
		defer zap.S().Named("api").Info("db migrated")

		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Named("api").Fatalf("initializing data store: %v", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		return s.Migrate()
	},
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spatialqc/spatialqc/internal/cache"
	"github.com/spatialqc/spatialqc/internal/config"
	"github.com/spatialqc/spatialqc/internal/datasource"
	"github.com/spatialqc/spatialqc/internal/jobs"
	"github.com/spatialqc/spatialqc/internal/rules"
	"github.com/spatialqc/spatialqc/internal/service"
	"github.com/spatialqc/spatialqc/internal/store"
	"github.com/spatialqc/spatialqc/internal/validation"
	"github.com/spatialqc/spatialqc/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the validation service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Named("api").Info("starting validation service")
		defer zap.S().Named("api").Info("validation service stopped")

		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Named("api").Fatalf("initializing data store: %v", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if err := s.Migrate(); err != nil {
			zap.S().Named("api").Fatalf("running store migration: %v", err)
		}

		if stageConfigFile == "" {
			stageConfigFile = cfg.Validation.StageConfigFile
		}

		registry := jobs.NewRegistry()
		source := datasource.NewMemorySource(true)
		engine := rules.NewEngineWithOptions(source, rules.EngineOptions{
			SchemaCacheTTL:      cfg.Validation.CacheMaxIdle,
			CacheAdmissionBytes: cfg.Validation.CacheAdmissionBytes,
		})

		orchestrator := validation.NewOrchestrator(validation.OrchestratorOptions{
			Source:   source,
			Table:    passChecker{},
			Schema:   passChecker{},
			Geometry: passChecker{},
			Relation: passChecker{},
			Rules:    engine,
			Store:    store.NewResultAdapter(s),
			Loader:   validation.NewFileConfigLoader(stageConfigFile),
		})
		svc := service.NewValidationService(registry, orchestrator, s)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		if _, total, err := svc.ListResults(ctx, validation.ResultFilter{}, validation.Paging{Limit: 1}); err == nil {
			zap.S().Named("api").Infof("validation service ready, %d historical results", total)
		}

		sweeper := cache.NewSweeper(cfg.Validation.CacheSweepInterval, cfg.Validation.CacheMaxIdle)
		for _, target := range engine.Sweepables() {
			sweeper.Register(target)
		}
		go sweeper.Run(ctx)
		go sweepJobRetention(ctx, registry, cfg.Validation.JobRetention)

		<-ctx.Done()
		return nil
	},
}

// sweepJobRetention periodically drops terminal jobs past the retention
// window so the registry stays bounded.
func sweepJobRetention(ctx context.Context, registry *jobs.Registry, retention time.Duration) {
	ticker := jitterbug.New(retention/4, &jitterbug.Norm{Stdev: 10 * time.Second})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.SweepTerminal(retention)
		}
	}
}

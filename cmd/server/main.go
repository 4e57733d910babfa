// Package main is the entry point for the Cadence predictive publishing
// scheduler. It wires the pattern store, signal feed, scheduling engine and
// background jobs, then runs until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dvoram/cadence/internal/config"
	"github.com/dvoram/cadence/internal/database"
	"github.com/dvoram/cadence/internal/events"
	"github.com/dvoram/cadence/internal/modules/patterns"
	"github.com/dvoram/cadence/internal/modules/scheduling"
	"github.com/dvoram/cadence/internal/modules/signals"
	"github.com/dvoram/cadence/internal/reliability"
	"github.com/dvoram/cadence/internal/scheduler"
	"github.com/dvoram/cadence/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("horizon_hours", cfg.HorizonHours).
		Int("workers", cfg.WorkerCount).
		Msg("Starting Cadence scheduler")

	// ============================================================================
	// DATABASES
	// ============================================================================

	patternsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "patterns.db"),
		Profile: database.ProfileStandard,
		Name:    "patterns",
	})
	if err != nil {
		return fmt.Errorf("failed to open patterns database: %w", err)
	}
	defer patternsDB.Close()

	schedulesDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "schedules.db"),
		Profile: database.ProfileStandard,
		Name:    "schedules",
	})
	if err != nil {
		return fmt.Errorf("failed to open schedules database: %w", err)
	}
	defer schedulesDB.Close()

	for name, db := range map[string]*database.DB{"patterns": patternsDB, "schedules": schedulesDB} {
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("failed to migrate %s database: %w", name, err)
		}
	}

	// ============================================================================
	// PATTERNS AND SIGNALS
	// ============================================================================

	bus := events.NewBus()

	patternRepo := patterns.NewRepository(patternsDB.Conn(), log)
	store := patterns.NewStore(patternRepo, patternsDB.Conn(), patterns.StoreConfig{
		TTL:     cfg.PatternCacheTTL,
		Timeout: cfg.ExternalTimeout,
	}, log)

	// Warm start from the last persisted snapshot; a cold cache is fine too
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.LoadSnapshot(warmCtx); err != nil {
		log.Warn().Err(err).Msg("Pattern snapshot warm start failed, starting cold")
	}
	warmCancel()

	var provider signals.SignalProvider
	var feed *signals.FeedClient
	if cfg.SignalFeedURL != "" {
		feed = signals.NewFeedClient(cfg.SignalFeedURL, bus, log)
		if err := feed.Start(); err != nil {
			log.Warn().Err(err).Msg("Signal feed unavailable, serving neutral signals until it connects")
		}
		provider = feed
	} else {
		log.Info().Msg("No signal feed configured, using neutral signals")
		provider = &signals.StaticProvider{Signals: signals.NeutralSignals()}
	}

	// ============================================================================
	// SCHEDULING ENGINE
	// ============================================================================

	scheduleRepo := scheduling.NewScheduleRepository(schedulesDB, log)

	// A locally fired trigger marks its schedule executed; measured ROI
	// feedback flows in afterwards through the FeedbackRecorder exposed to
	// the embedding API layer.
	local := scheduling.NewLocalRegistry(scheduling.ExecutionMarker(scheduleRepo, bus, log), log)
	registry := scheduling.NewRetryingRegistry(local, scheduling.DefaultRetryConfig(), log)

	serviceCfg := scheduling.DefaultServiceConfig()
	serviceCfg.HorizonHours = cfg.HorizonHours
	serviceCfg.WorkerCount = cfg.WorkerCount
	serviceCfg.SignalTimeout = cfg.ExternalTimeout

	service := scheduling.NewService(store, provider, scheduleRepo, registry, bus, serviceCfg, log)
	reoptimizer := scheduling.NewReoptimizer(service, scheduleRepo, registry, bus, scheduling.DefaultReoptimizerConfig(), log)

	// ============================================================================
	// BACKGROUND JOBS
	// ============================================================================

	jobs := scheduler.New(log)

	if err := jobs.AddJob(fmt.Sprintf("@every %s", cfg.ReoptimizeEvery), reoptimizer); err != nil {
		return fmt.Errorf("failed to register reoptimize job: %w", err)
	}

	refreshJob := patterns.NewRefreshJob(store, bus, serviceCfg.LookbackDays, log)
	if len(cfg.RefreshPlatforms) > 0 {
		refreshJob.SetPlatforms(cfg.RefreshPlatforms)
	}
	if err := jobs.AddJob(cfg.PatternRefreshCron, refreshJob); err != nil {
		return fmt.Errorf("failed to register pattern refresh job: %w", err)
	}

	maintenanceJob := scheduler.NewMaintenanceJob(patternsDB, schedulesDB, store, patternRepo, 0)
	maintenanceJob.SetLogger(log)
	if err := jobs.AddJob("30 3 * * *", maintenanceJob); err != nil {
		return fmt.Errorf("failed to register maintenance job: %w", err)
	}

	healthJob := scheduler.NewHealthJob(patternsDB, schedulesDB)
	healthJob.SetLogger(log)
	if err := jobs.AddJob("*/10 * * * *", healthJob); err != nil {
		return fmt.Errorf("failed to register health job: %w", err)
	}

	if cfg.Backup != nil && cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(reliability.S3Config{
			Bucket:    cfg.Backup.Bucket,
			Region:    cfg.Backup.Region,
			Endpoint:  cfg.Backup.Endpoint,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup client: %w", err)
		}

		backupService := reliability.NewBackupService(s3Client, map[string]*database.DB{
			"patterns":  patternsDB,
			"schedules": schedulesDB,
		}, cfg.DataDir, log)

		backupJob := reliability.NewBackupJob(backupService, cfg.Backup.RetentionDays)
		backupJob.SetLogger(log)
		if err := jobs.AddJob("0 4 * * *", backupJob); err != nil {
			return fmt.Errorf("failed to register backup job: %w", err)
		}
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Off-site backups enabled")
	}

	jobs.Start()

	// ============================================================================
	// SHUTDOWN
	// ============================================================================

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	jobs.Stop()

	if feed != nil {
		if err := feed.Stop(); err != nil {
			log.Warn().Err(err).Msg("Signal feed shutdown failed")
		}
	}

	snapCtx, snapCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := store.SaveSnapshot(snapCtx); err != nil {
		log.Warn().Err(err).Msg("Pattern snapshot save failed")
	}
	snapCancel()

	log.Info().Msg("Shutdown complete")
	return nil
}

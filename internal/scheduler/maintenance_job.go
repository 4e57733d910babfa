package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvoram/cadence/internal/database"
	"github.com/dvoram/cadence/internal/modules/patterns"
)

// MaintenanceJob keeps the SQLite databases healthy: passive WAL
// checkpoints, integrity quick-checks, and pruning of expired pattern
// snapshots and stale buckets.
type MaintenanceJob struct {
	log         zerolog.Logger
	patternsDB  *database.DB
	schedulesDB *database.DB
	store       *patterns.Store
	patternRepo *patterns.Repository
	// Buckets without updates inside this window get pruned
	bucketRetention time.Duration
}

// NewMaintenanceJob creates a maintenance job
func NewMaintenanceJob(
	patternsDB *database.DB,
	schedulesDB *database.DB,
	store *patterns.Store,
	patternRepo *patterns.Repository,
	bucketRetention time.Duration,
) *MaintenanceJob {
	if bucketRetention <= 0 {
		bucketRetention = 90 * 24 * time.Hour
	}
	return &MaintenanceJob{
		log:             zerolog.Nop(),
		patternsDB:      patternsDB,
		schedulesDB:     schedulesDB,
		store:           store,
		patternRepo:     patternRepo,
		bucketRetention: bucketRetention,
	}
}

// SetLogger sets the logger for the job
func (j *MaintenanceJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes one maintenance pass. Each step is independent; a failing
// step is logged and the rest still run.
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for name, db := range map[string]*database.DB{
		"patterns":  j.patternsDB,
		"schedules": j.schedulesDB,
	} {
		if db == nil {
			continue
		}

		if err := db.WALCheckpoint("PASSIVE"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
		if err := db.QuickCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("Integrity check failed")
		}
	}

	if j.store != nil {
		pruned, err := j.store.PruneSnapshots(ctx)
		if err != nil {
			j.log.Warn().Err(err).Msg("Snapshot prune failed")
		} else if pruned > 0 {
			j.log.Debug().Int64("pruned", pruned).Msg("Expired pattern snapshots pruned")
		}
	}

	if j.patternRepo != nil {
		pruned, err := j.patternRepo.PruneStale(ctx, j.bucketRetention)
		if err != nil {
			j.log.Warn().Err(err).Msg("Pattern bucket prune failed")
		} else if pruned > 0 {
			j.log.Info().Int64("pruned", pruned).Msg("Stale pattern buckets pruned")
		}
	}

	j.log.Debug().Msg("Maintenance pass completed")
	return nil
}

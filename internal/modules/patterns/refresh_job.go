package patterns

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvoram/cadence/internal/events"
)

// RefreshJob re-warms the pattern cache for all known platforms and
// persists a fresh snapshot. It should be scheduled at roughly the cache
// TTL so schedule generation rarely hits a cold key.
type RefreshJob struct {
	store        *Store
	bus          *events.Bus
	lookbackDays int
	platforms    []string
	log          zerolog.Logger
}

// NewRefreshJob creates a new pattern refresh job.
func NewRefreshJob(store *Store, bus *events.Bus, lookbackDays int, log zerolog.Logger) *RefreshJob {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	return &RefreshJob{
		store:        store,
		bus:          bus,
		lookbackDays: lookbackDays,
		log:          log.With().Str("job", "pattern_refresh").Logger(),
	}
}

// SetPlatforms overrides the default platform list for the sweep.
func (j *RefreshJob) SetPlatforms(platforms []string) {
	j.platforms = platforms
}

// Run executes the refresh sweep.
func (j *RefreshJob) Run() error {
	start := time.Now()
	degraded := false

	platforms := j.platforms
	if len(platforms) == 0 {
		platforms = KnownPlatforms()
	}
	for _, platform := range platforms {
		j.store.Invalidate(platform, j.lookbackDays)
		result := j.store.Query(context.Background(), platform, j.lookbackDays)
		if result.Degraded {
			degraded = true
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := j.store.SaveSnapshot(ctx); err != nil {
		j.log.Error().Err(err).Msg("Failed to save pattern cache snapshot")
	}

	if j.bus != nil {
		j.bus.EmitTyped("patterns", &events.PatternsRefreshedData{
			Platforms: platforms,
			Degraded:  degraded,
		})
	}

	j.log.Info().
		Int("platforms", len(platforms)).
		Bool("degraded", degraded).
		Dur("duration", time.Since(start)).
		Msg("Pattern refresh sweep completed")

	return nil
}

// Name returns the job name for scheduling and logging.
func (j *RefreshJob) Name() string {
	return "pattern_refresh"
}

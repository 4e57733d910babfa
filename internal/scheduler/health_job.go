package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dvoram/cadence/internal/database"
)

// HealthJob logs a periodic process health snapshot: database
// connectivity, CPU load and memory pressure. This is the engine's
// only heartbeat on a quiet system, so the log line fires even when
// everything is fine.
type HealthJob struct {
	log         zerolog.Logger
	patternsDB  *database.DB
	schedulesDB *database.DB
}

// NewHealthJob creates a health job
func NewHealthJob(patternsDB, schedulesDB *database.DB) *HealthJob {
	return &HealthJob{
		log:         zerolog.Nop(),
		patternsDB:  patternsDB,
		schedulesDB: schedulesDB,
	}
}

// SetLogger sets the logger for the job
func (j *HealthJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *HealthJob) Name() string {
	return "health_check"
}

// Run samples process metrics and pings both databases
func (j *HealthJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	healthy := true
	for name, db := range map[string]*database.DB{
		"patterns":  j.patternsDB,
		"schedules": j.schedulesDB,
	} {
		if db == nil {
			continue
		}
		if err := db.HealthCheck(ctx); err != nil {
			healthy = false
			j.log.Error().Err(err).Str("database", name).Msg("Database health check failed")
		}
	}

	event := j.log.Info()

	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err == nil && len(cpuPercent) > 0 {
		event = event.Float64("cpu_percent", cpuPercent[0])
	}

	memStat, err := mem.VirtualMemory()
	if err == nil {
		event = event.
			Float64("mem_used_percent", memStat.UsedPercent).
			Uint64("mem_used_mb", memStat.Used/1024/1024)
	}

	event.Bool("databases_healthy", healthy).Msg("Health snapshot")
	return nil
}

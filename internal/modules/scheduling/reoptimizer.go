package scheduling

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvoram/cadence/internal/events"
)

// Reoptimizer periodically re-evaluates near-term schedules against current
// patterns and live signals. A schedule only moves when the best available
// slot beats its stored prediction by a meaningful margin; constant churn
// from marginal improvements would erode trust in the engine's decisions.
type Reoptimizer struct {
	service   *Service
	schedules *ScheduleRepository
	registry  TriggerRegistry
	bus       *events.Bus
	cfg       ReoptimizerConfig
	log       zerolog.Logger
}

// ReoptimizerConfig bounds a reoptimization sweep
type ReoptimizerConfig struct {
	// Lookahead limits the sweep to schedules firing within this window.
	// Far-future schedules get revisited on later sweeps anyway.
	Lookahead time.Duration
	// ImprovementFactor is the minimum ratio of new ROI to stored ROI
	// required to move a schedule.
	ImprovementFactor float64
	// NowThreshold is the window inside which a schedule is compared
	// against publishing immediately instead of searching for a new slot.
	NowThreshold time.Duration
	// ConfidenceBar is the minimum stored confidence for an immediate
	// move; low-confidence predictions are not worth disrupting.
	ConfidenceBar float64
	// SweepTimeout caps the total wall time of one sweep.
	SweepTimeout time.Duration
}

// DefaultReoptimizerConfig returns production defaults
func DefaultReoptimizerConfig() ReoptimizerConfig {
	return ReoptimizerConfig{
		Lookahead:         6 * time.Hour,
		ImprovementFactor: 1.20,
		NowThreshold:      30 * time.Minute,
		ConfidenceBar:     0.80,
		SweepTimeout:      2 * time.Minute,
	}
}

// NewReoptimizer creates a reoptimizer
func NewReoptimizer(
	service *Service,
	schedules *ScheduleRepository,
	registry TriggerRegistry,
	bus *events.Bus,
	cfg ReoptimizerConfig,
	log zerolog.Logger,
) *Reoptimizer {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 6 * time.Hour
	}
	if cfg.ImprovementFactor <= 1.0 {
		cfg.ImprovementFactor = 1.20
	}
	if cfg.NowThreshold <= 0 {
		cfg.NowThreshold = 30 * time.Minute
	}
	if cfg.ConfidenceBar <= 0 {
		cfg.ConfidenceBar = 0.80
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 2 * time.Minute
	}
	return &Reoptimizer{
		service:   service,
		schedules: schedules,
		registry:  registry,
		bus:       bus,
		cfg:       cfg,
		log:       log.With().Str("job", "reoptimize").Logger(),
	}
}

// Name returns the job name for scheduler registration
func (r *Reoptimizer) Name() string {
	return "reoptimize"
}

// Run executes one reoptimization sweep
func (r *Reoptimizer) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SweepTimeout)
	defer cancel()
	return r.Sweep(ctx)
}

// Sweep re-evaluates upcoming schedules and retries failed trigger
// registrations. Per-schedule failures are logged and skipped so one bad
// row cannot stall the loop.
func (r *Reoptimizer) Sweep(ctx context.Context) error {
	now := time.Now().UTC()

	upcoming, err := r.schedules.ListUpcoming(ctx, now, now.Add(r.cfg.Lookahead))
	if err != nil {
		return err
	}

	moved := 0
	for _, sched := range upcoming {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.reoptimizeOne(ctx, now, sched) {
			moved++
		}
	}

	retried := r.retryRegistrations(ctx)

	if len(upcoming) > 0 || retried > 0 {
		r.log.Info().
			Int("evaluated", len(upcoming)).
			Int("moved", moved).
			Int("registrations_retried", retried).
			Msg("Reoptimization sweep complete")
	}
	return nil
}

// reoptimizeOne re-evaluates a single schedule. Imminent high-confidence
// schedules are compared against publishing right now; everything else gets
// a fresh slot search. Returns true if the schedule moved.
func (r *Reoptimizer) reoptimizeOne(ctx context.Context, now time.Time, sched *Schedule) bool {
	item := WorkflowItem{
		ID:          sched.WorkflowID,
		Platform:    sched.Platform,
		ContentType: sched.ContentType,
		Hashtags:    sched.Hashtags,
	}

	if sched.ChosenTime.Sub(now) <= r.cfg.NowThreshold {
		if sched.Confidence < r.cfg.ConfidenceBar {
			return false
		}
		nowScores := r.service.ScoreAt(ctx, now, item)
		if nowScores.PredictedROI < sched.PredictedROI*r.cfg.ImprovementFactor {
			return false
		}
		// Stored fallbacks all sit after the original chosen time, so they
		// remain valid behind an immediate publish.
		return r.applyMove(ctx, sched, now, nowScores, sched.FallbackTimes)
	}

	pats := r.service.store.Query(ctx, item.Platform, r.service.cfg.LookbackDays)
	sig := r.service.resolveSignals(ctx, item.Platform)

	existing, err := r.schedules.ActiveTimesForPlatform(ctx, item.Platform)
	if err != nil {
		r.log.Warn().Err(err).Str("schedule_id", sched.ID).Msg("Skipping schedule, active times unavailable")
		return false
	}
	// The schedule under evaluation should not block its own candidates.
	existing = removeTime(existing, sched.ChosenTime)

	candidates, err := GenerateCandidates(now, r.service.cfg.HorizonHours, r.service.cfg.Constraints, pats.Patterns, existing)
	if err != nil || len(candidates) == 0 {
		return false
	}

	newTime, newScores, fallbacks := r.service.pickBest(candidates, item, pats.Patterns, sig)

	if newTime.Equal(sched.ChosenTime) {
		return false
	}
	if newScores.PredictedROI < sched.PredictedROI*r.cfg.ImprovementFactor {
		return false
	}

	return r.applyMove(ctx, sched, newTime, newScores, fallbacks)
}

// applyMove swaps a schedule to a new time: cancel old trigger, register a
// new one, persist. Returns true when the move was persisted.
func (r *Reoptimizer) applyMove(ctx context.Context, sched *Schedule, newTime time.Time, newScores FactorScores, fallbacks []time.Time) bool {
	// One live trigger per schedule: tear down the old one before the swap.
	if sched.TriggerID != "" {
		if err := r.registry.Cancel(ctx, sched.TriggerID); err != nil {
			r.log.Warn().Err(err).
				Str("schedule_id", sched.ID).
				Msg("Old trigger cancellation failed, keeping schedule in place")
			return false
		}
	}

	triggerID, regErr := r.registry.Register(ctx, newTime, TriggerPayload{
		ScheduleID: sched.ID,
		WorkflowID: sched.WorkflowID,
		Platform:   sched.Platform,
	})
	retryRegistration := false
	if regErr != nil {
		r.log.Warn().Err(regErr).
			Str("schedule_id", sched.ID).
			Msg("New trigger registration failed, will retry")
		triggerID = ""
		retryRegistration = true
	}

	if err := r.schedules.Reschedule(ctx, sched.ID, newTime, newScores, fallbacks, triggerID, retryRegistration); err != nil {
		r.log.Error().Err(err).Str("schedule_id", sched.ID).Msg("Reschedule persist failed")
		if triggerID != "" {
			_ = r.registry.Cancel(ctx, triggerID)
		}
		return false
	}

	r.bus.EmitTyped("scheduling", &events.ScheduleRescheduledData{
		ScheduleID: sched.ID,
		OldTime:    sched.ChosenTime,
		NewTime:    newTime,
		OldROI:     sched.PredictedROI,
		NewROI:     newScores.PredictedROI,
	})

	r.log.Info().
		Str("schedule_id", sched.ID).
		Time("old_time", sched.ChosenTime).
		Time("new_time", newTime).
		Float64("old_roi", sched.PredictedROI).
		Float64("new_roi", newScores.PredictedROI).
		Msg("Schedule moved to better slot")

	return true
}

// retryRegistrations re-attempts trigger registration for schedules whose
// earlier registration failed. Returns the number of successful retries.
func (r *Reoptimizer) retryRegistrations(ctx context.Context) int {
	pending, err := r.schedules.ListRetryRegistration(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("Could not list schedules pending registration")
		return 0
	}

	succeeded := 0
	for _, sched := range pending {
		triggerID, err := r.registry.Register(ctx, sched.ChosenTime, TriggerPayload{
			ScheduleID: sched.ID,
			WorkflowID: sched.WorkflowID,
			Platform:   sched.Platform,
		})
		if err != nil {
			r.log.Warn().Err(err).
				Str("schedule_id", sched.ID).
				Msg("Trigger registration retry failed")
			continue
		}
		if err := r.schedules.SetTrigger(ctx, sched.ID, triggerID); err != nil {
			r.log.Error().Err(err).Str("schedule_id", sched.ID).Msg("Could not persist retried trigger")
			_ = r.registry.Cancel(ctx, triggerID)
			continue
		}
		succeeded++
	}
	return succeeded
}

func removeTime(times []time.Time, drop time.Time) []time.Time {
	out := times[:0]
	for _, t := range times {
		if !t.Equal(drop) {
			out = append(out, t)
		}
	}
	return out
}

package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvoram/cadence/internal/events"
	"github.com/dvoram/cadence/internal/modules/patterns"
	"github.com/dvoram/cadence/internal/modules/signals"
	"github.com/dvoram/cadence/internal/utils"
)

// Service orchestrates the scheduling pipeline: it fans workflow items out
// to a bounded worker pool, scores candidate publish times for each item,
// persists the winning schedule and registers its execution trigger.
type Service struct {
	store     *patterns.Store
	signals   signals.SignalProvider
	schedules *ScheduleRepository
	registry  TriggerRegistry
	bus       *events.Bus
	cfg       ServiceConfig
	log       zerolog.Logger
}

// ServiceConfig bounds a scheduling run
type ServiceConfig struct {
	HorizonHours  int
	WorkerCount   int
	LookbackDays  int
	MaxFallbacks  int
	SignalTimeout time.Duration
	Constraints   Constraints
	Scoring       ScoringConfig
}

// DefaultServiceConfig returns production defaults
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		HorizonHours:  72,
		WorkerCount:   4,
		LookbackDays:  30,
		MaxFallbacks:  3,
		SignalTimeout: 10 * time.Second,
		Constraints:   DefaultConstraints(),
		Scoring:       DefaultScoringConfig(),
	}
}

// NewService creates a scheduling service
func NewService(
	store *patterns.Store,
	provider signals.SignalProvider,
	schedules *ScheduleRepository,
	registry TriggerRegistry,
	bus *events.Bus,
	cfg ServiceConfig,
	log zerolog.Logger,
) *Service {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.HorizonHours <= 0 {
		cfg.HorizonHours = 72
	}
	if cfg.MaxFallbacks <= 0 {
		cfg.MaxFallbacks = 3
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = 10 * time.Second
	}
	return &Service{
		store:     store,
		signals:   provider,
		schedules: schedules,
		registry:  registry,
		bus:       bus,
		cfg:       cfg,
		log:       log.With().Str("service", "scheduling").Logger(),
	}
}

// ItemResult is the per-item outcome of a scheduling run. Exactly one of
// Schedule and Err is set.
type ItemResult struct {
	ItemID   string
	Schedule *Schedule
	Err      error
}

// GenerateSchedules schedules a batch of workflow items. Items are processed
// in parallel by a bounded worker pool; an invalid or failed item yields an
// error in its result slot without aborting the rest of the batch. Results
// keep the input order.
func (s *Service) GenerateSchedules(ctx context.Context, items []WorkflowItem) []ItemResult {
	if len(items) == 0 {
		return []ItemResult{}
	}

	timer := utils.NewTimer("generate_schedules", s.log)
	defer timer.StopWithContext(map[string]interface{}{"items": len(items)})

	now := time.Now().UTC()

	type job struct {
		index int
		item  WorkflowItem
	}
	type outcome struct {
		index  int
		result ItemResult
	}

	jobs := make(chan job, len(items))
	results := make(chan outcome, len(items))

	ordered := make([]ItemResult, len(items))

	// Workers race on the active-schedule lookup, so repeats of the same
	// workflow item within one batch are settled up front: the first wins,
	// later copies fail their slot.
	seen := make(map[string]int, len(items))
	dispatched := 0
	for idx, item := range items {
		if first, dup := seen[item.ID]; dup && item.ID != "" {
			ordered[idx] = ItemResult{
				ItemID: item.ID,
				Err:    fmt.Errorf("workflow item %s appears twice in batch (first at index %d)", item.ID, first),
			}
			continue
		}
		seen[item.ID] = idx
		dispatched++
	}

	workers := s.cfg.WorkerCount
	if dispatched < workers {
		workers = dispatched
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				sched, err := s.scheduleItem(ctx, now, j.item)
				results <- outcome{
					index: j.index,
					result: ItemResult{
						ItemID:   j.item.ID,
						Schedule: sched,
						Err:      err,
					},
				}
			}
		}()
	}

	for idx, item := range items {
		if seen[item.ID] != idx && item.ID != "" {
			continue
		}
		jobs <- job{index: idx, item: item}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	for out := range results {
		ordered[out.index] = out.result
	}

	succeeded := 0
	for _, r := range ordered {
		if r.Err == nil {
			succeeded++
		}
	}
	s.log.Info().
		Int("items", len(items)).
		Int("scheduled", succeeded).
		Int("failed", len(items)-succeeded).
		Msg("Scheduling run complete")

	return ordered
}

// scheduleItem runs the full pipeline for a single workflow item
func (s *Service) scheduleItem(ctx context.Context, now time.Time, item WorkflowItem) (*Schedule, error) {
	if err := item.Validate(); err != nil {
		s.log.Warn().Err(err).Msg("Rejected workflow item")
		return nil, err
	}

	// A workflow item carries at most one live schedule. Resubmitting an
	// item supersedes its previous schedule instead of stacking a second.
	prior, err := s.schedules.FindActiveByWorkflow(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		if prior.TriggerID != "" {
			if err := s.registry.Cancel(ctx, prior.TriggerID); err != nil {
				return nil, fmt.Errorf("failed to release trigger of superseded schedule %s: %w", prior.ID, err)
			}
		}
		if err := s.schedules.UpdateStatus(ctx, prior.ID, StatusCancelled); err != nil {
			return nil, err
		}
		s.bus.Emit(events.ScheduleCancelled, "scheduling", map[string]interface{}{
			"schedule_id": prior.ID,
			"reason":      "superseded",
		})
		s.log.Info().
			Str("schedule_id", prior.ID).
			Str("workflow_id", item.ID).
			Msg("Superseded existing schedule for resubmitted item")
	}

	pats := s.store.Query(ctx, item.Platform, s.cfg.LookbackDays)
	if pats.Degraded {
		s.log.Warn().
			Str("platform", item.Platform).
			Msg("Scheduling with default patterns, upstream degraded")
	}

	sig := s.resolveSignals(ctx, item.Platform)

	existing, err := s.schedules.ActiveTimesForPlatform(ctx, item.Platform)
	if err != nil {
		return nil, err
	}

	candidates, err := GenerateCandidates(now, s.cfg.HorizonHours, s.cfg.Constraints, pats.Patterns, existing)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate publish times for item %s", item.ID)
	}

	chosen, scores, fallbacks := s.pickBest(candidates, item, pats.Patterns, sig)

	sched := &Schedule{
		ID:            uuid.New().String(),
		WorkflowID:    item.ID,
		Platform:      item.Platform,
		ContentType:   item.ContentType,
		ChosenTime:    chosen,
		PredictedROI:  scores.PredictedROI,
		Confidence:    scores.Confidence,
		Factors:       scores.Breakdown,
		Reasons:       scores.Reasons,
		FallbackTimes: fallbacks,
		Hashtags:      item.Hashtags,
		Status:        StatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	triggerID, regErr := s.registry.Register(ctx, chosen, TriggerPayload{
		ScheduleID: sched.ID,
		WorkflowID: sched.WorkflowID,
		Platform:   sched.Platform,
	})
	if regErr != nil {
		// The schedule still persists; a sweep retries registration later.
		s.log.Warn().Err(regErr).
			Str("schedule_id", sched.ID).
			Msg("Trigger registration failed, will retry")
		sched.RetryRegistration = true
	} else {
		sched.TriggerID = triggerID
	}

	if err := s.schedules.Create(ctx, sched); err != nil {
		if sched.TriggerID != "" {
			_ = s.registry.Cancel(ctx, sched.TriggerID)
		}
		return nil, err
	}

	s.bus.EmitTyped("scheduling", &events.ScheduleCreatedData{
		ScheduleID:   sched.ID,
		WorkflowID:   sched.WorkflowID,
		Platform:     sched.Platform,
		ChosenTime:   sched.ChosenTime,
		PredictedROI: sched.PredictedROI,
		Confidence:   sched.Confidence,
	})

	s.log.Info().
		Str("schedule_id", sched.ID).
		Str("workflow_id", sched.WorkflowID).
		Str("platform", sched.Platform).
		Time("chosen_time", sched.ChosenTime).
		Float64("predicted_roi", sched.PredictedROI).
		Float64("confidence", sched.Confidence).
		Msg("Schedule created")

	return sched, nil
}

// pickBest scores every candidate, ranks by expected value and returns the
// winner plus up to MaxFallbacks alternates. Fallbacks are strictly after
// the chosen time and strictly increasing.
func (s *Service) pickBest(
	candidates []time.Time,
	item WorkflowItem,
	pats []patterns.MarketPattern,
	sig signals.MarketSignals,
) (time.Time, FactorScores, []time.Time) {
	type scored struct {
		at     time.Time
		scores FactorScores
		value  float64
	}

	all := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		fs := Score(s.cfg.Scoring, c, item, pats, sig)
		all = append(all, scored{at: c, scores: fs, value: fs.PredictedROI * fs.Confidence})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].value != all[j].value {
			return all[i].value > all[j].value
		}
		return all[i].at.Before(all[j].at) // earlier wins ties
	})

	best := all[0]

	var fallbacks []time.Time
	for _, cand := range all[1:] {
		if !cand.at.After(best.at) {
			continue
		}
		fallbacks = append(fallbacks, cand.at)
		if len(fallbacks) == s.cfg.MaxFallbacks {
			break
		}
	}
	sort.Slice(fallbacks, func(i, j int) bool { return fallbacks[i].Before(fallbacks[j]) })

	return best.at, best.scores, fallbacks
}

// ScoreAt exposes the pure scoring path for a single moment, used by the
// reoptimization sweep to compare a live schedule against current conditions.
func (s *Service) ScoreAt(ctx context.Context, at time.Time, item WorkflowItem) FactorScores {
	pats := s.store.Query(ctx, item.Platform, s.cfg.LookbackDays)
	sig := s.resolveSignals(ctx, item.Platform)
	return Score(s.cfg.Scoring, at, item, pats.Patterns, sig)
}

// resolveSignals bounds the signal lookup with the configured budget so a
// stalled provider degrades to neutral instead of blocking a scheduling run.
func (s *Service) resolveSignals(ctx context.Context, platform string) signals.MarketSignals {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SignalTimeout)
	defer cancel()
	return signals.Resolve(ctx, s.signals, platform)
}

// Cancel tears down a live schedule and its trigger
func (s *Service) Cancel(ctx context.Context, scheduleID string) error {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if sched.IsTerminal() {
		return fmt.Errorf("schedule %s is already %s", scheduleID, sched.Status)
	}

	if sched.TriggerID != "" {
		if err := s.registry.Cancel(ctx, sched.TriggerID); err != nil {
			s.log.Warn().Err(err).
				Str("schedule_id", scheduleID).
				Msg("Trigger cancellation failed during schedule cancel")
		}
	}

	if err := s.schedules.UpdateStatus(ctx, scheduleID, StatusCancelled); err != nil {
		return err
	}

	s.bus.Emit(events.ScheduleCancelled, "scheduling", map[string]interface{}{
		"schedule_id": scheduleID,
	})
	return nil
}

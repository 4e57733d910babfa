package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvoram/cadence/internal/events"
	"github.com/dvoram/cadence/internal/modules/patterns"
)

// FeedbackRecorder closes the learning loop: actual publish outcomes fold
// back into the pattern buckets that future predictions draw on. Processing
// is idempotent per schedule; callbacks from the execution side can arrive
// more than once and must not double-count.
type FeedbackRecorder struct {
	schedules *ScheduleRepository
	patterns  *patterns.Repository
	store     *patterns.Store
	bus       *events.Bus
	log       zerolog.Logger
}

// NewFeedbackRecorder creates a feedback recorder
func NewFeedbackRecorder(
	schedules *ScheduleRepository,
	patternRepo *patterns.Repository,
	store *patterns.Store,
	bus *events.Bus,
	log zerolog.Logger,
) *FeedbackRecorder {
	return &FeedbackRecorder{
		schedules: schedules,
		patterns:  patternRepo,
		store:     store,
		bus:       bus,
		log:       log.With().Str("service", "feedback").Logger(),
	}
}

// Record processes an execution outcome. The first call for a schedule folds
// the outcome into pattern history and marks the schedule executed; any
// repeat call is a logged no-op.
func (f *FeedbackRecorder) Record(ctx context.Context, result ExecutionResult) error {
	if result.ScheduleID == "" {
		return fmt.Errorf("execution result missing schedule id")
	}

	sched, err := f.schedules.GetByID(ctx, result.ScheduleID)
	if err != nil {
		return err
	}

	claimed, err := f.schedules.RecordFeedback(ctx, result.ScheduleID, result.ActualROI)
	if err != nil {
		return err
	}
	if !claimed {
		f.log.Info().
			Str("schedule_id", result.ScheduleID).
			Msg("Duplicate feedback ignored")
		return nil
	}

	executedAt := result.ExecutedAt
	if executedAt.IsZero() {
		executedAt = sched.ChosenTime
	}

	err = f.patterns.RecordOutcome(ctx, patterns.Outcome{
		Platform:   sched.Platform,
		ExecutedAt: executedAt,
		ROI:        result.ActualROI,
		Engagement: result.ActualEngagement,
		Hashtags:   sched.Hashtags,
	})
	if err != nil {
		// The ledger already claimed this feedback; surface the fold
		// failure rather than silently losing the observation.
		return fmt.Errorf("feedback for %s recorded but pattern update failed: %w", result.ScheduleID, err)
	}

	f.store.InvalidateAll()

	f.bus.EmitTyped("feedback", &events.ScheduleExecutedData{
		ScheduleID:       result.ScheduleID,
		ActualROI:        result.ActualROI,
		ActualEngagement: result.ActualEngagement,
	})

	f.log.Info().
		Str("schedule_id", result.ScheduleID).
		Str("platform", sched.Platform).
		Float64("actual_roi", result.ActualROI).
		Float64("predicted_roi", sched.PredictedROI).
		Msg("Outcome folded into pattern history")

	return nil
}

// ExecutionMarker returns a trigger callback that flips a fired schedule to
// executed. Measured outcomes arrive later through FeedbackRecorder once the
// platform reports performance.
func ExecutionMarker(schedules *ScheduleRepository, bus *events.Bus, log zerolog.Logger) func(TriggerPayload) {
	mlog := log.With().Str("component", "execution_marker").Logger()
	return func(payload TriggerPayload) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := schedules.UpdateStatus(ctx, payload.ScheduleID, StatusExecuted); err != nil {
			mlog.Error().Err(err).
				Str("schedule_id", payload.ScheduleID).
				Msg("Failed to mark fired schedule executed")
			return
		}

		bus.Emit(events.ScheduleExecuted, "scheduling", map[string]interface{}{
			"schedule_id": payload.ScheduleID,
			"workflow_id": payload.WorkflowID,
			"platform":    payload.Platform,
		})

		mlog.Info().
			Str("schedule_id", payload.ScheduleID).
			Str("workflow_id", payload.WorkflowID).
			Str("platform", payload.Platform).
			Msg("Publish trigger fired")
	}
}

package scheduling

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvoram/cadence/internal/database"
	"github.com/dvoram/cadence/internal/utils"
)

// ScheduleRepository persists schedules and the feedback ledger
type ScheduleRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewScheduleRepository creates a schedule repository
func NewScheduleRepository(db *database.DB, log zerolog.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:  db,
		log: log.With().Str("repository", "schedules").Logger(),
	}
}

// Create inserts a new schedule
func (r *ScheduleRepository) Create(ctx context.Context, s *Schedule) error {
	reasons, err := json.Marshal(s.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	fallbacks, err := marshalTimes(s.FallbackTimes)
	if err != nil {
		return fmt.Errorf("failed to marshal fallback times: %w", err)
	}
	hashtags, err := json.Marshal(s.Hashtags)
	if err != nil {
		return fmt.Errorf("failed to marshal hashtags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO schedules (
			id, workflow_id, platform, content_type, chosen_time,
			predicted_roi, confidence,
			audience_activity, competition_level, trending_relevance, seasonality,
			reasons, fallback_times, hashtags,
			trigger_id, retry_registration, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.WorkflowID, s.Platform, s.ContentType, s.ChosenTime.Unix(),
		s.PredictedROI, s.Confidence,
		s.Factors.AudienceActivity, s.Factors.CompetitionLevel,
		s.Factors.TrendingRelevance, s.Factors.Seasonality,
		string(reasons), string(fallbacks), string(hashtags),
		s.TriggerID, boolToInt(s.RetryRegistration), s.Status,
		s.CreatedAt.Unix(), s.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert schedule %s: %w", s.ID, err)
	}
	return nil
}

// GetByID fetches a single schedule
func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` FROM schedules WHERE id = ?`, id)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %s: %w", id, err)
	}
	return s, nil
}

// FindActiveByWorkflow returns the non-terminal schedule of a workflow item,
// or nil when the item has none.
func (r *ScheduleRepository) FindActiveByWorkflow(ctx context.Context, workflowID string) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+`
		FROM schedules
		WHERE workflow_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		workflowID, StatusScheduled, StatusRescheduled,
	)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active schedule for workflow %s: %w", workflowID, err)
	}
	return s, nil
}

// ListUpcoming returns non-terminal schedules with chosen_time inside the
// given window, ordered soonest first.
func (r *ScheduleRepository) ListUpcoming(ctx context.Context, from, until time.Time) ([]*Schedule, error) {
	done := utils.MeasureDBQuery("list_upcoming_schedules", r.log)
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		FROM schedules
		WHERE status IN (?, ?) AND chosen_time >= ? AND chosen_time <= ?
		ORDER BY chosen_time ASC`,
		StatusScheduled, StatusRescheduled, from.Unix(), until.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming schedules: %w", err)
	}
	defer rows.Close()
	schedules, err := scanSchedules(rows)
	done(int64(len(schedules)))
	return schedules, err
}

// ListRetryRegistration returns non-terminal schedules whose trigger
// registration failed and still needs a retry.
func (r *ScheduleRepository) ListRetryRegistration(ctx context.Context) ([]*Schedule, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		FROM schedules
		WHERE retry_registration = 1 AND status IN (?, ?)
		ORDER BY chosen_time ASC`,
		StatusScheduled, StatusRescheduled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules pending registration: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ActiveTimesForPlatform returns chosen times of non-terminal schedules on a
// platform, used for spacing constraints when generating new candidates.
func (r *ScheduleRepository) ActiveTimesForPlatform(ctx context.Context, platform string) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT chosen_time FROM schedules
		WHERE platform = ? AND status IN (?, ?)`,
		platform, StatusScheduled, StatusRescheduled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active schedule times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var unix int64
		if err := rows.Scan(&unix); err != nil {
			return nil, fmt.Errorf("failed to scan schedule time: %w", err)
		}
		times = append(times, time.Unix(unix, 0).UTC())
	}
	return times, rows.Err()
}

// Reschedule moves a schedule to a new time with fresh scores, flips its
// status to rescheduled, and swaps the trigger ID.
func (r *ScheduleRepository) Reschedule(ctx context.Context, id string, newTime time.Time, scores FactorScores, fallbacks []time.Time, triggerID string, retryRegistration bool) error {
	reasons, err := json.Marshal(scores.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	fb, err := marshalTimes(fallbacks)
	if err != nil {
		return fmt.Errorf("failed to marshal fallback times: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET
			chosen_time = ?, predicted_roi = ?, confidence = ?,
			audience_activity = ?, competition_level = ?,
			trending_relevance = ?, seasonality = ?,
			reasons = ?, fallback_times = ?,
			trigger_id = ?, retry_registration = ?,
			status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		newTime.Unix(), scores.PredictedROI, scores.Confidence,
		scores.Breakdown.AudienceActivity, scores.Breakdown.CompetitionLevel,
		scores.Breakdown.TrendingRelevance, scores.Breakdown.Seasonality,
		string(reasons), string(fb),
		triggerID, boolToInt(retryRegistration),
		StatusRescheduled, time.Now().Unix(),
		id, StatusScheduled, StatusRescheduled,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule %s: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("schedule %s is not active, cannot reschedule", id)
	}
	return nil
}

// SetTrigger records a successful trigger registration
func (r *ScheduleRepository) SetTrigger(ctx context.Context, id, triggerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET trigger_id = ?, retry_registration = 0, updated_at = ?
		WHERE id = ?`,
		triggerID, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record trigger for schedule %s: %w", id, err)
	}
	return nil
}

// UpdateStatus transitions a schedule's status
func (r *ScheduleRepository) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update status of schedule %s: %w", id, err)
	}
	return nil
}

// RecordFeedback marks a schedule's outcome exactly once. Returns true when
// this call claimed the feedback, false when it was already processed.
func (r *ScheduleRepository) RecordFeedback(ctx context.Context, scheduleID string, actualROI float64) (bool, error) {
	claimed := false
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO processed_feedback (schedule_id, actual_roi, processed_at)
			VALUES (?, ?, ?)
			ON CONFLICT(schedule_id) DO NOTHING`,
			scheduleID, actualROI, time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to record feedback for %s: %w", scheduleID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil // already processed
		}
		claimed = true

		_, err = tx.ExecContext(ctx, `
			UPDATE schedules SET status = ?, updated_at = ? WHERE id = ?`,
			StatusExecuted, time.Now().Unix(), scheduleID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark schedule %s executed: %w", scheduleID, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// =============================================================================
// ROW SCANNING
// =============================================================================

const selectColumns = `
	SELECT id, workflow_id, platform, content_type, chosen_time,
		predicted_roi, confidence,
		audience_activity, competition_level, trending_relevance, seasonality,
		reasons, fallback_times, hashtags,
		trigger_id, retry_registration, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var s Schedule
	var chosenUnix, createdUnix, updatedUnix int64
	var reasons, fallbacks, hashtags string
	var retryInt int

	err := row.Scan(
		&s.ID, &s.WorkflowID, &s.Platform, &s.ContentType, &chosenUnix,
		&s.PredictedROI, &s.Confidence,
		&s.Factors.AudienceActivity, &s.Factors.CompetitionLevel,
		&s.Factors.TrendingRelevance, &s.Factors.Seasonality,
		&reasons, &fallbacks, &hashtags,
		&s.TriggerID, &retryInt, &s.Status, &createdUnix, &updatedUnix,
	)
	if err != nil {
		return nil, err
	}

	s.ChosenTime = time.Unix(chosenUnix, 0).UTC()
	s.CreatedAt = time.Unix(createdUnix, 0).UTC()
	s.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	s.RetryRegistration = retryInt != 0

	if err := json.Unmarshal([]byte(reasons), &s.Reasons); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reasons: %w", err)
	}
	times, err := unmarshalTimes(fallbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal fallback times: %w", err)
	}
	s.FallbackTimes = times
	if err := json.Unmarshal([]byte(hashtags), &s.Hashtags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hashtags: %w", err)
	}
	return &s, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var schedules []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// Fallback times are stored as unix seconds so ordering survives the
// round-trip without timezone surprises.
func marshalTimes(times []time.Time) ([]byte, error) {
	unix := make([]int64, len(times))
	for i, t := range times {
		unix[i] = t.Unix()
	}
	return json.Marshal(unix)
}

func unmarshalTimes(data string) ([]time.Time, error) {
	var unix []int64
	if err := json.Unmarshal([]byte(data), &unix); err != nil {
		return nil, err
	}
	times := make([]time.Time, len(unix))
	for i, u := range unix {
		times[i] = time.Unix(u, 0).UTC()
	}
	return times, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

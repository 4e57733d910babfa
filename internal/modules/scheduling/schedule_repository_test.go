package scheduling

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvoram/cadence/internal/database"
)

// setupScheduleDB creates a temporary schedules database with the full schema
func setupScheduleDB(t *testing.T) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_schedules_*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    "schedules",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	cleanup := func() {
		_ = db.Close()
		_ = os.Remove(tmpPath)
	}
	return db, cleanup
}

func sampleSchedule(id string, chosen time.Time) *Schedule {
	return &Schedule{
		ID:           id,
		WorkflowID:   "wf-" + id,
		Platform:     "tiktok",
		ContentType:  "entertainment",
		ChosenTime:   chosen,
		PredictedROI: 0.18,
		Confidence:   0.72,
		Factors: FactorBreakdown{
			AudienceActivity:  0.85,
			CompetitionLevel:  0.40,
			TrendingRelevance: 0.60,
			Seasonality:       0.55,
		},
		Reasons:       []string{"platform peak window"},
		FallbackTimes: []time.Time{chosen.Add(time.Hour), chosen.Add(3 * time.Hour)},
		Hashtags:      []string{"#fitness", "#dance"},
		TriggerID:     "trig-" + id,
		Status:        StatusScheduled,
		CreatedAt:     chosen.Add(-time.Hour),
		UpdatedAt:     chosen.Add(-time.Hour),
	}
}

func TestScheduleRepositoryRoundTrip(t *testing.T) {
	db, cleanup := setupScheduleDB(t)
	defer cleanup()
	repo := NewScheduleRepository(db, zerolog.Nop())
	ctx := context.Background()

	chosen := time.Date(2025, time.June, 10, 19, 0, 0, 0, time.UTC)
	want := sampleSchedule("s1", chosen)
	require.NoError(t, repo.Create(ctx, want))

	got, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.WorkflowID, got.WorkflowID)
	assert.Equal(t, want.Platform, got.Platform)
	assert.Equal(t, want.ContentType, got.ContentType)
	assert.True(t, want.ChosenTime.Equal(got.ChosenTime))
	assert.InDelta(t, want.PredictedROI, got.PredictedROI, 1e-9)
	assert.InDelta(t, want.Confidence, got.Confidence, 1e-9)
	assert.Equal(t, want.Factors, got.Factors)
	assert.Equal(t, want.Reasons, got.Reasons)
	assert.Equal(t, want.Hashtags, got.Hashtags)
	assert.Equal(t, want.TriggerID, got.TriggerID)
	assert.Equal(t, StatusScheduled, got.Status)
	require.Len(t, got.FallbackTimes, 2)
	for i := range want.FallbackTimes {
		assert.True(t, want.FallbackTimes[i].Equal(got.FallbackTimes[i]))
	}
}

func TestScheduleRepositoryFindActiveByWorkflow(t *testing.T) {
	db, cleanup := setupScheduleDB(t)
	defer cleanup()
	repo := NewScheduleRepository(db, zerolog.Nop())
	ctx := context.Background()

	got, err := repo.FindActiveByWorkflow(ctx, "wf-missing")
	require.NoError(t, err)
	assert.Nil(t, got, "a workflow without schedules has no active one")

	chosen := time.Date(2025, time.June, 10, 19, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, sampleSchedule("s1", chosen)))

	got, err = repo.FindActiveByWorkflow(ctx, "wf-s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ID)

	require.NoError(t, repo.UpdateStatus(ctx, "s1", StatusCancelled))
	got, err = repo.FindActiveByWorkflow(ctx, "wf-s1")
	require.NoError(t, err)
	assert.Nil(t, got, "terminal schedules are not active")
}

func TestScheduleRepositoryGetMissing(t *testing.T) {
	db, cleanup := setupScheduleDB(t)
	defer cleanup()
	repo := NewScheduleRepository(db, zerolog.Nop())

	_, err := repo.GetByID(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestScheduleRepositoryListUpcoming(t *testing.T) {
	db, cleanup := setupScheduleDB(t)
	defer cleanup()
	repo := NewScheduleRepository(db, zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, sampleSchedule("soon", base.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, sampleSchedule("later", base.Add(3*time.Hour))))
	require.NoError(t, repo.Create(ctx, sampleSchedule("far", base.Add(48*time.Hour))))

	done := sampleSchedule("done", base.Add(2*time.Hour))
	done.Status = StatusExecuted
	require.NoError(t, repo.Create(ctx, done))

	got, err := repo.ListUpcoming(ctx, base, base.Add(6*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "soon", got[0].ID, "results ordered soonest first")
	assert.Equal(t, "later", got[1].ID)
}

func TestScheduleRepositoryListRetryRegistration(t *testing.T) {
	db, cleanup := setupScheduleDB(t)
	defer cleanup()
	repo := NewScheduleRepository(db, zerolog.Nop())
	ctx := context.Background()

	chosen := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	pending := sampleSchedule("pending", chosen)
	pending.TriggerID = ""
	pending.RetryRegistration = true
	require.NoError(t, repo.Create(ctx, pending))
	require.NoError(t, repo.Create(ctx, sampleSchedule("healthy", chosen.Add(time.Hour))))

	got, err := repo.ListRetryRegistration(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pending", got[0].ID)
	assert.True(t, got[0].RetryRegistration)

	require.NoError(t, repo.SetTrigger(ctx, "pending", "trig-new"))

	got, err = repo.ListRetryRegistration(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	fixed, err := repo.GetByID(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, "trig-new", fixed.TriggerID)
	assert.False(t, fixed.RetryRegistration)
}

func TestScheduleRepositoryReschedule(t *testing.T) {
	db, cleanup := setupScheduleDB(t)
	defer cleanup()
	repo := NewScheduleRepository(db, zerolog.Nop())
	ctx := context.Background()

	chosen := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, sampleSchedule("s1", chosen)))

	newTime := chosen.Add(5 * time.Hour)
	scores := FactorScores{
		Breakdown:    FactorBreakdown{AudienceActivity: 0.9},
		PredictedROI: 0.25,
		Confidence:   0.8,
		Reasons:      []string{"platform peak window"},
	}
	fallbacks := []time.Time{newTime.Add(time.Hour)}

	require.NoError(t, repo.Reschedule(ctx, "s1", newTime, scores, fallbacks, "trig-2", false))

	got, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, newTime.Equal(got.ChosenTime))
	assert.Equal(t, StatusRescheduled, got.Status)
	assert.InDelta(t, 0.25, got.PredictedROI, 1e-9)
	assert.Equal(t, "trig-2", got.TriggerID)

	// Terminal schedules never move
	require.NoError(t, repo.UpdateStatus(ctx, "s1", StatusCancelled))
	err = repo.Reschedule(ctx, "s1", newTime.Add(time.Hour), scores, nil, "trig-3", false)
	require.Error(t, err)
}

func TestScheduleRepositoryFeedbackIdempotent(t *testing.T) {
	db, cleanup := setupScheduleDB(t)
	defer cleanup()
	repo := NewScheduleRepository(db, zerolog.Nop())
	ctx := context.Background()

	chosen := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, sampleSchedule("s1", chosen)))

	claimed, err := repo.RecordFeedback(ctx, "s1", 0.21)
	require.NoError(t, err)
	assert.True(t, claimed, "first feedback claims the ledger entry")

	claimed, err = repo.RecordFeedback(ctx, "s1", 0.99)
	require.NoError(t, err)
	assert.False(t, claimed, "duplicate feedback must not claim again")

	got, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, got.Status)
}

func TestScheduleRepositoryActiveTimes(t *testing.T) {
	db, cleanup := setupScheduleDB(t)
	defer cleanup()
	repo := NewScheduleRepository(db, zerolog.Nop())
	ctx := context.Background()

	chosen := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, sampleSchedule("a", chosen)))
	require.NoError(t, repo.Create(ctx, sampleSchedule("b", chosen.Add(4*time.Hour))))

	other := sampleSchedule("c", chosen.Add(2*time.Hour))
	other.Platform = "instagram"
	require.NoError(t, repo.Create(ctx, other))

	cancelled := sampleSchedule("d", chosen.Add(6*time.Hour))
	cancelled.Status = StatusCancelled
	require.NoError(t, repo.Create(ctx, cancelled))

	times, err := repo.ActiveTimesForPlatform(ctx, "tiktok")
	require.NoError(t, err)
	assert.Len(t, times, 2)
}

package scheduling

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvoram/cadence/internal/database"
	"github.com/dvoram/cadence/internal/events"
	"github.com/dvoram/cadence/internal/modules/patterns"
)

func setupPatternDB(t *testing.T) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_patterns_*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    "patterns",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	cleanup := func() {
		_ = db.Close()
		_ = os.Remove(tmpPath)
	}
	return db, cleanup
}

func newTestRecorder(t *testing.T) (*FeedbackRecorder, *ScheduleRepository, *patterns.Repository, func()) {
	t.Helper()

	schedDB, cleanupSched := setupScheduleDB(t)
	patDB, cleanupPat := setupPatternDB(t)

	schedRepo := NewScheduleRepository(schedDB, zerolog.Nop())
	patRepo := patterns.NewRepository(patDB.Conn(), zerolog.Nop())
	store := patterns.NewStore(patRepo, nil, patterns.StoreConfig{}, zerolog.Nop())

	recorder := NewFeedbackRecorder(schedRepo, patRepo, store, events.NewBus(), zerolog.Nop())
	cleanup := func() {
		cleanupSched()
		cleanupPat()
	}
	return recorder, schedRepo, patRepo, cleanup
}

func TestFeedbackFoldsOutcomeOnce(t *testing.T) {
	recorder, schedRepo, patRepo, cleanup := newTestRecorder(t)
	defer cleanup()
	ctx := context.Background()

	executedAt := time.Date(2025, time.June, 10, 19, 0, 0, 0, time.UTC)
	sched := sampleSchedule("s1", executedAt)
	require.NoError(t, schedRepo.Create(ctx, sched))

	result := ExecutionResult{
		ScheduleID:       "s1",
		ActualROI:        0.22,
		ActualEngagement: 0.05,
		ExecutedAt:       executedAt,
	}

	require.NoError(t, recorder.Record(ctx, result))

	pats, err := patRepo.QueryByPlatform(ctx, "tiktok", 30)
	require.NoError(t, err)
	require.Len(t, pats, 1)
	assert.Equal(t, 1, pats[0].SampleCount)
	assert.InDelta(t, 0.22, pats[0].ROI, 1e-9)
	assert.Equal(t, executedAt.Hour(), pats[0].Window.Hour)
	assert.Equal(t, executedAt.Weekday(), pats[0].Window.DayOfWeek)

	got, err := schedRepo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, got.Status)

	// The duplicate callback is a no-op: no second fold, no error
	require.NoError(t, recorder.Record(ctx, result))

	pats, err = patRepo.QueryByPlatform(ctx, "tiktok", 30)
	require.NoError(t, err)
	require.Len(t, pats, 1)
	assert.Equal(t, 1, pats[0].SampleCount, "duplicate feedback must not double-count")
}

func TestExecutionMarkerMarksFiredScheduleExecuted(t *testing.T) {
	db, cleanup := setupScheduleDB(t)
	defer cleanup()
	repo := NewScheduleRepository(db, zerolog.Nop())
	bus := events.NewBus()
	ctx := context.Background()

	var mu sync.Mutex
	var fired []*events.Event
	bus.Subscribe(events.ScheduleExecuted, func(e *events.Event) {
		mu.Lock()
		fired = append(fired, e)
		mu.Unlock()
	})

	chosen := time.Date(2025, time.June, 12, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, sampleSchedule("s1", chosen)))

	marker := ExecutionMarker(repo, bus, zerolog.Nop())
	marker(TriggerPayload{ScheduleID: "s1", WorkflowID: "wf-s1", Platform: "tiktok"})

	got, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, got.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 1)
	assert.Equal(t, "s1", fired[0].Data["schedule_id"])
}

func TestFeedbackUnknownSchedule(t *testing.T) {
	recorder, _, _, cleanup := newTestRecorder(t)
	defer cleanup()

	err := recorder.Record(context.Background(), ExecutionResult{ScheduleID: "ghost", ActualROI: 0.1})
	require.Error(t, err)
}

func TestFeedbackMissingScheduleID(t *testing.T) {
	recorder, _, _, cleanup := newTestRecorder(t)
	defer cleanup()

	err := recorder.Record(context.Background(), ExecutionResult{ActualROI: 0.1})
	require.Error(t, err)
}

func TestFeedbackUsesChosenTimeWhenExecutedAtMissing(t *testing.T) {
	recorder, schedRepo, patRepo, cleanup := newTestRecorder(t)
	defer cleanup()
	ctx := context.Background()

	chosen := time.Date(2025, time.June, 11, 8, 0, 0, 0, time.UTC)
	require.NoError(t, schedRepo.Create(ctx, sampleSchedule("s1", chosen)))

	require.NoError(t, recorder.Record(ctx, ExecutionResult{ScheduleID: "s1", ActualROI: 0.15}))

	pats, err := patRepo.QueryByPlatform(ctx, "tiktok", 30)
	require.NoError(t, err)
	require.Len(t, pats, 1)
	assert.Equal(t, chosen.Hour(), pats[0].Window.Hour)
	assert.Equal(t, chosen.Weekday(), pats[0].Window.DayOfWeek)
}

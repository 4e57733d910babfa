package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvoram/cadence/internal/events"
	"github.com/dvoram/cadence/internal/modules/patterns"
	"github.com/dvoram/cadence/internal/modules/signals"
)

// fakeUpstream serves a fixed pattern set and counts queries
type fakeUpstream struct {
	mu       sync.Mutex
	patterns []patterns.MarketPattern
	err      error
	queries  int
}

func (f *fakeUpstream) QueryByPlatform(_ context.Context, _ string, _ int) ([]patterns.MarketPattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	return f.patterns, nil
}

// recordingRegistry accepts every registration and records the traffic
type recordingRegistry struct {
	mu         sync.Mutex
	registered map[string]time.Time
	cancelled  []string
	seq        int
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{registered: make(map[string]time.Time)}
}

func (r *recordingRegistry) Register(_ context.Context, fireAt time.Time, _ TriggerPayload) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	id := fmt.Sprintf("trig-%d", r.seq)
	r.registered[id] = fireAt
	return id, nil
}

func (r *recordingRegistry) Cancel(_ context.Context, triggerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, triggerID)
	r.cancelled = append(r.cancelled, triggerID)
	return nil
}

// failingRegistry rejects every registration
type failingRegistry struct{}

func (failingRegistry) Register(_ context.Context, _ time.Time, _ TriggerPayload) (string, error) {
	return "", errors.New("trigger service down")
}

func (failingRegistry) Cancel(_ context.Context, _ string) error {
	return errors.New("trigger service down")
}

func newTestService(t *testing.T, upstream patterns.Upstream, registry TriggerRegistry) (*Service, *ScheduleRepository, *events.Bus, func()) {
	t.Helper()

	db, cleanup := setupScheduleDB(t)
	repo := NewScheduleRepository(db, zerolog.Nop())
	store := patterns.NewStore(upstream, nil, patterns.StoreConfig{}, zerolog.Nop())
	bus := events.NewBus()
	provider := &signals.StaticProvider{Signals: signals.MarketSignals{
		Sentiment:          0.6,
		TrendingHashtags:   []string{"fitness"},
		CompetitorActivity: 0.4,
		Volatility:         0.2,
	}}

	svc := NewService(store, provider, repo, registry, bus, DefaultServiceConfig(), zerolog.Nop())
	return svc, repo, bus, cleanup
}

func TestGenerateSchedulesHappyPath(t *testing.T) {
	upstream := &fakeUpstream{patterns: richPatterns("tiktok", 50, 0.8)}
	registry := newRecordingRegistry()
	svc, repo, bus, cleanup := newTestService(t, upstream, registry)
	defer cleanup()

	var mu sync.Mutex
	var created []*events.Event
	bus.Subscribe(events.ScheduleCreated, func(e *events.Event) {
		mu.Lock()
		created = append(created, e)
		mu.Unlock()
	})

	now := time.Now().UTC()
	items := []WorkflowItem{{
		ID:          "wf-1",
		Platform:    "tiktok",
		ContentType: "entertainment",
		Hashtags:    []string{"#fitness", "#dance"},
	}}

	results := svc.GenerateSchedules(context.Background(), items)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	sched := results[0].Schedule
	require.NotNil(t, sched)

	assert.True(t, sched.ChosenTime.After(now))
	assert.True(t, sched.ChosenTime.Before(now.Add(74*time.Hour)))
	assert.GreaterOrEqual(t, sched.PredictedROI, MinPredictedROI)
	assert.LessOrEqual(t, sched.PredictedROI, MaxPredictedROI)
	assert.NotEmpty(t, sched.Reasons)
	assert.Equal(t, StatusScheduled, sched.Status)
	assert.NotEmpty(t, sched.TriggerID)
	assert.False(t, sched.RetryRegistration)

	// Fallbacks are strictly increasing and all after the chosen time
	prev := sched.ChosenTime
	for _, fb := range sched.FallbackTimes {
		assert.True(t, fb.After(prev))
		prev = fb
	}

	// Persisted and trigger registered at the chosen time
	stored, err := repo.GetByID(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.True(t, sched.ChosenTime.Equal(stored.ChosenTime))

	fireAt, ok := registry.registered[sched.TriggerID]
	require.True(t, ok)
	assert.True(t, fireAt.Equal(sched.ChosenTime))

	require.Len(t, created, 1)
	assert.Equal(t, sched.ID, created[0].Data["schedule_id"])
}

func TestGenerateSchedulesRejectsInvalidItemOnly(t *testing.T) {
	upstream := &fakeUpstream{patterns: richPatterns("tiktok", 50, 0.8)}
	svc, _, _, cleanup := newTestService(t, upstream, newRecordingRegistry())
	defer cleanup()

	items := []WorkflowItem{
		{ID: "", Platform: "tiktok", ContentType: "entertainment"}, // missing id
		{ID: "wf-2", Platform: "tiktok", ContentType: "trending"},
	}

	results := svc.GenerateSchedules(context.Background(), items)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err, "invalid item is rejected")
	assert.Nil(t, results[0].Schedule)
	require.NoError(t, results[1].Err, "valid item in the same batch still schedules")
	assert.NotNil(t, results[1].Schedule)
}

func TestGenerateSchedulesSupersedesResubmittedItem(t *testing.T) {
	upstream := &fakeUpstream{patterns: richPatterns("tiktok", 50, 0.8)}
	registry := newRecordingRegistry()
	svc, repo, _, cleanup := newTestService(t, upstream, registry)
	defer cleanup()
	ctx := context.Background()

	item := WorkflowItem{ID: "wf-dup", Platform: "tiktok", ContentType: "entertainment"}

	first := svc.GenerateSchedules(ctx, []WorkflowItem{item})
	require.Len(t, first, 1)
	require.NoError(t, first[0].Err)
	old := first[0].Schedule
	require.NotNil(t, old)

	second := svc.GenerateSchedules(ctx, []WorkflowItem{item})
	require.Len(t, second, 1)
	require.NoError(t, second[0].Err)
	fresh := second[0].Schedule
	require.NotNil(t, fresh)
	require.NotEqual(t, old.ID, fresh.ID)

	// The first schedule is cancelled and its trigger released
	stored, err := repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	assert.Contains(t, registry.cancelled, old.TriggerID)

	// Exactly one non-terminal schedule and one live trigger remain
	active, err := repo.FindActiveByWorkflow(ctx, "wf-dup")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, fresh.ID, active.ID)

	registry.mu.Lock()
	live := len(registry.registered)
	registry.mu.Unlock()
	assert.Equal(t, 1, live, "a resubmitted item keeps a single live trigger")
}

func TestGenerateSchedulesRejectsDuplicateItemWithinBatch(t *testing.T) {
	upstream := &fakeUpstream{patterns: richPatterns("tiktok", 50, 0.8)}
	registry := newRecordingRegistry()
	svc, repo, _, cleanup := newTestService(t, upstream, registry)
	defer cleanup()

	items := []WorkflowItem{
		{ID: "wf-1", Platform: "tiktok", ContentType: "entertainment"},
		{ID: "wf-1", Platform: "tiktok", ContentType: "trending"},
	}

	results := svc.GenerateSchedules(context.Background(), items)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Schedule)
	assert.Error(t, results[1].Err, "a repeated item in one batch fails its slot")
	assert.Nil(t, results[1].Schedule)

	active, err := repo.FindActiveByWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, results[0].Schedule.ID, active.ID)
}

// stalledProvider never answers until its context is cancelled
type stalledProvider struct{}

func (stalledProvider) Current(ctx context.Context, _ string) (signals.MarketSignals, error) {
	<-ctx.Done()
	return signals.MarketSignals{}, ctx.Err()
}

func TestGenerateSchedulesBoundsStalledSignalProvider(t *testing.T) {
	upstream := &fakeUpstream{patterns: richPatterns("tiktok", 50, 0.8)}
	db, cleanup := setupScheduleDB(t)
	defer cleanup()
	repo := NewScheduleRepository(db, zerolog.Nop())
	store := patterns.NewStore(upstream, nil, patterns.StoreConfig{}, zerolog.Nop())

	cfg := DefaultServiceConfig()
	cfg.SignalTimeout = 50 * time.Millisecond
	svc := NewService(store, stalledProvider{}, repo, newRecordingRegistry(), events.NewBus(), cfg, zerolog.Nop())

	// Deadline-free parent context: only the configured budget bounds the lookup
	start := time.Now()
	results := svc.GenerateSchedules(context.Background(), []WorkflowItem{{
		ID:          "wf-1",
		Platform:    "tiktok",
		ContentType: "entertainment",
	}})
	elapsed := time.Since(start)

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err, "a stalled provider degrades to neutral signals")
	require.NotNil(t, results[0].Schedule)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestGenerateSchedulesDegradedUpstream(t *testing.T) {
	upstream := &fakeUpstream{err: errors.New("patterns db unavailable")}
	svc, _, _, cleanup := newTestService(t, upstream, newRecordingRegistry())
	defer cleanup()

	results := svc.GenerateSchedules(context.Background(), []WorkflowItem{{
		ID:          "wf-1",
		Platform:    "tiktok",
		ContentType: "entertainment",
	}})

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err, "upstream failure degrades to defaults, never aborts")
	sched := results[0].Schedule
	require.NotNil(t, sched)
	assert.GreaterOrEqual(t, sched.PredictedROI, MinPredictedROI)
	assert.LessOrEqual(t, sched.PredictedROI, MaxPredictedROI)
}

func TestGenerateSchedulesRegistrationFailureSetsRetry(t *testing.T) {
	upstream := &fakeUpstream{patterns: richPatterns("tiktok", 50, 0.8)}
	svc, repo, _, cleanup := newTestService(t, upstream, failingRegistry{})
	defer cleanup()

	results := svc.GenerateSchedules(context.Background(), []WorkflowItem{{
		ID:          "wf-1",
		Platform:    "tiktok",
		ContentType: "entertainment",
	}})

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err, "registration failure must not fail the schedule")
	sched := results[0].Schedule
	require.NotNil(t, sched)
	assert.Empty(t, sched.TriggerID)
	assert.True(t, sched.RetryRegistration)

	stored, err := repo.GetByID(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.True(t, stored.RetryRegistration)
}

func TestGenerateSchedulesEmptyBatch(t *testing.T) {
	upstream := &fakeUpstream{}
	svc, _, _, cleanup := newTestService(t, upstream, newRecordingRegistry())
	defer cleanup()

	results := svc.GenerateSchedules(context.Background(), nil)
	assert.Empty(t, results)
	assert.Equal(t, 0, upstream.queries)
}

func TestPickBestFallbacks(t *testing.T) {
	svc := &Service{cfg: DefaultServiceConfig()}
	item := WorkflowItem{ID: "i", Platform: "tiktok", ContentType: "entertainment", Hashtags: []string{"#fitness"}}
	pats := richPatterns("tiktok", 50, 0.8)
	sig := neutralTestSignals()

	// A full 3-day candidate grid guarantees alternates after the winner
	start := time.Date(2025, time.June, 9, 10, 0, 0, 0, time.UTC)
	candidates := make([]time.Time, 0, 72)
	for i := 0; i < 72; i++ {
		candidates = append(candidates, start.Add(time.Duration(i)*time.Hour))
	}

	chosen, scores, fallbacks := svc.pickBest(candidates, item, pats, sig)

	assert.GreaterOrEqual(t, scores.PredictedROI, MinPredictedROI)
	assert.NotEmpty(t, scores.Reasons)

	best := Score(svc.cfg.Scoring, chosen, item, pats, sig)
	for _, c := range candidates {
		s := Score(svc.cfg.Scoring, c, item, pats, sig)
		assert.LessOrEqual(t, s.PredictedROI*s.Confidence, best.PredictedROI*best.Confidence,
			"no candidate may outscore the chosen time")
	}

	require.NotEmpty(t, fallbacks)
	assert.LessOrEqual(t, len(fallbacks), svc.cfg.MaxFallbacks)
	prev := chosen
	for _, fb := range fallbacks {
		assert.True(t, fb.After(prev), "fallbacks must be strictly increasing after the chosen time")
		prev = fb
	}
}

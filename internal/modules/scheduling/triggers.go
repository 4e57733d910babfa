package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TriggerPayload is handed to the external job-trigger service and echoed
// back when the trigger fires.
type TriggerPayload struct {
	ScheduleID string `json:"schedule_id"`
	WorkflowID string `json:"workflow_id"`
	Platform   string `json:"platform"`
}

// TriggerRegistry abstracts the external job-trigger service.
// Register must be idempotent by payload.ScheduleID: registering the same
// schedule again replaces any previous trigger rather than duplicating it.
type TriggerRegistry interface {
	Register(ctx context.Context, fireAt time.Time, payload TriggerPayload) (triggerID string, err error)
	Cancel(ctx context.Context, triggerID string) error
}

// =============================================================================
// RETRYING WRAPPER
// =============================================================================

// RetryingRegistry wraps a TriggerRegistry with exponential backoff retries
// and a per-call timeout. Registration against a flaky trigger service is
// the most common transient failure in the pipeline, so the policies are
// deliberately patient.
type RetryingRegistry struct {
	inner    TriggerRegistry
	executor failsafe.Executor[string]
	log      zerolog.Logger
}

// RetryConfig bounds the retry behavior of a RetryingRegistry
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Timeout    time.Duration
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Timeout:    10 * time.Second,
	}
}

// NewRetryingRegistry wraps a registry with retry and timeout policies
func NewRetryingRegistry(inner TriggerRegistry, cfg RetryConfig, log zerolog.Logger) *RetryingRegistry {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	retry := retrypolicy.NewBuilder[string]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		Build()
	to := timeout.New[string](cfg.Timeout)

	return &RetryingRegistry{
		inner:    inner,
		executor: failsafe.With(retry, to),
		log:      log.With().Str("component", "trigger_registry").Logger(),
	}
}

// Register registers a trigger with retries and a timeout budget
func (r *RetryingRegistry) Register(ctx context.Context, fireAt time.Time, payload TriggerPayload) (string, error) {
	triggerID, err := r.executor.WithContext(ctx).Get(func() (string, error) {
		return r.inner.Register(ctx, fireAt, payload)
	})
	if err != nil {
		return "", fmt.Errorf("trigger registration failed for schedule %s: %w", payload.ScheduleID, err)
	}
	return triggerID, nil
}

// Cancel cancels a trigger with retries and a timeout budget
func (r *RetryingRegistry) Cancel(ctx context.Context, triggerID string) error {
	_, err := r.executor.WithContext(ctx).Get(func() (string, error) {
		return "", r.inner.Cancel(ctx, triggerID)
	})
	if err != nil {
		return fmt.Errorf("trigger cancellation failed for %s: %w", triggerID, err)
	}
	return nil
}

// =============================================================================
// LOCAL REGISTRY
// =============================================================================

// LocalRegistry is an in-process TriggerRegistry backed by timers.
// Used in development and tests; production wires the external trigger
// service adapter instead.
type LocalRegistry struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	byOwner  map[string]string // scheduleID -> triggerID, for idempotent replace
	callback func(payload TriggerPayload)
	log      zerolog.Logger
}

// NewLocalRegistry creates a local registry. callback runs when a trigger
// fires; it may be nil.
func NewLocalRegistry(callback func(payload TriggerPayload), log zerolog.Logger) *LocalRegistry {
	return &LocalRegistry{
		timers:   make(map[string]*time.Timer),
		byOwner:  make(map[string]string),
		callback: callback,
		log:      log.With().Str("component", "local_trigger_registry").Logger(),
	}
}

// Register schedules a timer for fireAt. Re-registering the same schedule
// replaces the previous trigger, keeping the one-live-trigger invariant.
func (l *LocalRegistry) Register(_ context.Context, fireAt time.Time, payload TriggerPayload) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.byOwner[payload.ScheduleID]; ok {
		if timer, ok := l.timers[old]; ok {
			timer.Stop()
			delete(l.timers, old)
		}
	}

	triggerID := uuid.New().String()
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	l.timers[triggerID] = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, triggerID)
		if l.byOwner[payload.ScheduleID] == triggerID {
			delete(l.byOwner, payload.ScheduleID)
		}
		cb := l.callback
		l.mu.Unlock()

		if cb != nil {
			cb(payload)
		}
	})
	l.byOwner[payload.ScheduleID] = triggerID

	l.log.Debug().
		Str("trigger_id", triggerID).
		Str("schedule_id", payload.ScheduleID).
		Time("fire_at", fireAt).
		Msg("Registered local trigger")

	return triggerID, nil
}

// Cancel stops a pending timer. Cancelling an unknown trigger is a no-op.
func (l *LocalRegistry) Cancel(_ context.Context, triggerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if timer, ok := l.timers[triggerID]; ok {
		timer.Stop()
		delete(l.timers, triggerID)
	}
	for owner, id := range l.byOwner {
		if id == triggerID {
			delete(l.byOwner, owner)
		}
	}
	return nil
}

// PendingCount returns the number of live timers (for tests and metrics)
func (l *LocalRegistry) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

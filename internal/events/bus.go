// Package events provides a typed in-process event bus for schedule
// lifecycle notifications. Subscribers run synchronously in Emit order;
// handlers that need to block should hand off to their own goroutine.
package events

import (
	"sync"
	"time"
)

// EventType identifies a class of event on the bus
type EventType string

const (
	// ScheduleCreated is emitted when the orchestrator persists a new schedule
	ScheduleCreated EventType = "schedule_created"
	// ScheduleRescheduled is emitted when the reoptimizer moves a schedule
	ScheduleRescheduled EventType = "schedule_rescheduled"
	// ScheduleExecuted is emitted when feedback confirms execution
	ScheduleExecuted EventType = "schedule_executed"
	// ScheduleCancelled is emitted when a caller cancels a schedule
	ScheduleCancelled EventType = "schedule_cancelled"
	// PatternsRefreshed is emitted after a pattern refresh sweep completes
	PatternsRefreshed EventType = "patterns_refreshed"
	// SignalFeedDegraded is emitted when the live signal feed falls back to neutral
	SignalFeedDegraded EventType = "signal_feed_degraded"
)

// AllEventTypes lists every event type, for subscribers that want everything.
var AllEventTypes = []EventType{
	ScheduleCreated,
	ScheduleRescheduled,
	ScheduleExecuted,
	ScheduleCancelled,
	PatternsRefreshed,
	SignalFeedDegraded,
}

// Event is a single emitted event
type Event struct {
	Type      EventType
	Module    string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Handler processes a single event
type Handler func(event *Event)

// Bus is a minimal synchronous publish/subscribe bus
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for an event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit publishes an event to all subscribers of its type
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Module:    module,
		Data:      data,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[eventType]))
	copy(handlers, b.handlers[eventType])
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// EmitTyped publishes a typed event data payload
func (b *Bus) EmitTyped(module string, data EventData) {
	b.Emit(data.EventType(), module, data.Fields())
}

package events

import "time"

// EventData is the interface that all typed event data types implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
	// Fields returns the loosely-typed payload carried on the bus
	Fields() map[string]interface{}
}

// ScheduleCreatedData contains data for ScheduleCreated events
type ScheduleCreatedData struct {
	ScheduleID   string
	WorkflowID   string
	Platform     string
	ChosenTime   time.Time
	PredictedROI float64
	Confidence   float64
}

// EventType returns the event type for ScheduleCreatedData
func (d *ScheduleCreatedData) EventType() EventType {
	return ScheduleCreated
}

// Fields returns the payload for ScheduleCreatedData
func (d *ScheduleCreatedData) Fields() map[string]interface{} {
	return map[string]interface{}{
		"schedule_id":   d.ScheduleID,
		"workflow_id":   d.WorkflowID,
		"platform":      d.Platform,
		"chosen_time":   d.ChosenTime,
		"predicted_roi": d.PredictedROI,
		"confidence":    d.Confidence,
	}
}

// ScheduleRescheduledData contains data for ScheduleRescheduled events
type ScheduleRescheduledData struct {
	ScheduleID string
	OldTime    time.Time
	NewTime    time.Time
	OldROI     float64
	NewROI     float64
}

// EventType returns the event type for ScheduleRescheduledData
func (d *ScheduleRescheduledData) EventType() EventType {
	return ScheduleRescheduled
}

// Fields returns the payload for ScheduleRescheduledData
func (d *ScheduleRescheduledData) Fields() map[string]interface{} {
	return map[string]interface{}{
		"schedule_id": d.ScheduleID,
		"old_time":    d.OldTime,
		"new_time":    d.NewTime,
		"old_roi":     d.OldROI,
		"new_roi":     d.NewROI,
	}
}

// ScheduleExecutedData contains data for ScheduleExecuted events
type ScheduleExecutedData struct {
	ScheduleID       string
	ActualROI        float64
	ActualEngagement float64
}

// EventType returns the event type for ScheduleExecutedData
func (d *ScheduleExecutedData) EventType() EventType {
	return ScheduleExecuted
}

// Fields returns the payload for ScheduleExecutedData
func (d *ScheduleExecutedData) Fields() map[string]interface{} {
	return map[string]interface{}{
		"schedule_id":       d.ScheduleID,
		"actual_roi":        d.ActualROI,
		"actual_engagement": d.ActualEngagement,
	}
}

// PatternsRefreshedData contains data for PatternsRefreshed events
type PatternsRefreshedData struct {
	Platforms []string
	Degraded  bool
}

// EventType returns the event type for PatternsRefreshedData
func (d *PatternsRefreshedData) EventType() EventType {
	return PatternsRefreshed
}

// Fields returns the payload for PatternsRefreshedData
func (d *PatternsRefreshedData) Fields() map[string]interface{} {
	return map[string]interface{}{
		"platforms": d.Platforms,
		"degraded":  d.Degraded,
	}
}

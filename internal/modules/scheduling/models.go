// Package scheduling implements the predictive publishing scheduler: it
// turns queued workflow items into persisted schedules by enumerating
// candidate publish times, scoring them against historical patterns and
// live signals, and re-evaluating near-term decisions as conditions change.
package scheduling

import (
	"fmt"
	"time"
)

// Schedule status lifecycle
const (
	StatusScheduled   = "scheduled"
	StatusRescheduled = "rescheduled"
	StatusExecuted    = "executed"
	StatusCancelled   = "cancelled"
)

// Predicted ROI is clamped to this range. Compounding multipliers must not
// produce unrealistic or negative predictions.
const (
	MinPredictedROI = 0.05
	MaxPredictedROI = 0.30
)

// WorkflowItem is a queued content-distribution job awaiting a publish time.
// Immutable once submitted to a scheduling run.
type WorkflowItem struct {
	ID             string
	Platform       string
	ContentType    string // e.g. "promotional", "entertainment", "trending", "educational"
	Priority       int
	Hashtags       []string
	AffiliateLinks []string
	TargetAudience string
}

// Validate checks the required fields of a workflow item.
// Invalid items are rejected per-item and do not abort the rest of a queue.
func (w WorkflowItem) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow item missing id")
	}
	if w.Platform == "" {
		return fmt.Errorf("workflow item %s missing platform", w.ID)
	}
	if w.ContentType == "" {
		return fmt.Errorf("workflow item %s missing content type", w.ID)
	}
	return nil
}

// FactorBreakdown holds the individual factor scores behind a prediction
type FactorBreakdown struct {
	AudienceActivity  float64 `json:"audience_activity"`
	CompetitionLevel  float64 `json:"competition_level"`
	TrendingRelevance float64 `json:"trending_relevance"`
	Seasonality       float64 `json:"seasonality"`
}

// FactorScores is the full output of scoring one candidate
type FactorScores struct {
	Breakdown    FactorBreakdown
	PredictedROI float64  // Clamped to [MinPredictedROI, MaxPredictedROI]
	Confidence   float64  // 0-1
	Reasons      []string // Never empty
}

// Schedule is the engine's decision of when to publish a workflow item
type Schedule struct {
	ID                string
	WorkflowID        string
	Platform          string
	ContentType       string
	ChosenTime        time.Time
	PredictedROI      float64
	Confidence        float64
	Factors           FactorBreakdown
	Reasons           []string
	FallbackTimes     []time.Time // Strictly increasing, all after ChosenTime
	Hashtags          []string
	TriggerID         string // ID of the live external trigger, empty if none
	RetryRegistration bool   // Trigger registration failed, needs re-attempt
	Status            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsTerminal reports whether the schedule can no longer change
func (s *Schedule) IsTerminal() bool {
	return s.Status == StatusExecuted || s.Status == StatusCancelled
}

// ExecutionResult is the callback payload reporting an actual outcome
type ExecutionResult struct {
	ScheduleID       string
	ActualROI        float64
	ActualEngagement float64
	ExecutedAt       time.Time
}

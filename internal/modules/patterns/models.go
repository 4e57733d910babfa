// Package patterns provides the historical performance pattern store.
// Patterns aggregate observed publishing outcomes into (platform, hour,
// day-of-week) buckets and back the scoring engine's audience and
// competition factors. The store never fails a scheduling run: missing or
// unreachable data degrades to a deterministic per-platform default table.
package patterns

import "time"

// TimeWindow identifies an (hour-of-day, day-of-week) bucket
type TimeWindow struct {
	Hour      int          `json:"hour" msgpack:"hour"`             // 0-23
	DayOfWeek time.Weekday `json:"day_of_week" msgpack:"day_of_week"` // time.Sunday .. time.Saturday
}

// MarketPattern is aggregated historical performance for one platform bucket
type MarketPattern struct {
	Platform         string     `json:"platform" msgpack:"platform"`
	Window           TimeWindow `json:"window" msgpack:"window"`
	EngagementRate   float64    `json:"engagement_rate" msgpack:"engagement_rate"`
	ConversionRate   float64    `json:"conversion_rate" msgpack:"conversion_rate"`
	ROI              float64    `json:"roi" msgpack:"roi"`
	AudienceSize     float64    `json:"audience_size" msgpack:"audience_size"`
	CompetitionLevel float64    `json:"competition_level" msgpack:"competition_level"`
	TrendingTopics   []string   `json:"trending_topics" msgpack:"trending_topics"`
	ConfidenceScore  float64    `json:"confidence_score" msgpack:"confidence_score"` // 0-1
	SampleCount      int        `json:"sample_count" msgpack:"sample_count"`
}

// QueryResult is the outcome of a pattern store query.
// Patterns is never empty: when the upstream store fails or has no data
// for the requested platform, the seeded default table is returned and
// Degraded is set.
type QueryResult struct {
	Patterns []MarketPattern `msgpack:"patterns"`
	Degraded bool            `msgpack:"degraded"`
}

// Outcome is a single observed publishing result to fold into a bucket
type Outcome struct {
	Platform   string
	ExecutedAt time.Time
	ROI        float64
	Engagement float64
	Hashtags   []string
}

// FindWindow returns the pattern covering the given time, if any
func FindWindow(patterns []MarketPattern, t time.Time) (MarketPattern, bool) {
	for _, p := range patterns {
		if p.Window.Hour == t.Hour() && p.Window.DayOfWeek == t.Weekday() {
			return p, true
		}
	}
	return MarketPattern{}, false
}

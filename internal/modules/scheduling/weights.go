package scheduling

import "time"

// =============================================================================
// SCORING CONFIGURATION
// =============================================================================
// All coefficients here are tunable configuration, not load-bearing
// constants: only their relative ordering is meaningful. Platform weight
// vectors differ materially because the factors matter differently per
// platform (trend-driven platforms reward trending relevance, professional
// networks reward audience timing).

// FactorWeights is the per-platform weight vector for the four factors.
// Each vector sums to 1.0.
type FactorWeights struct {
	AudienceActivity  float64
	CompetitionLevel  float64
	TrendingRelevance float64
	Seasonality       float64
}

// ScoringConfig holds every tunable coefficient of the scoring engine
type ScoringConfig struct {
	// PlatformWeights maps platform to its factor weight vector.
	// Platforms not present use DefaultWeights.
	PlatformWeights map[string]FactorWeights
	DefaultWeights  FactorWeights

	// ContentMultipliers discount or boost the ROI by content type.
	// Promotional content is discounted relative to entertainment/trending.
	ContentMultipliers map[string]float64

	// SeasonalityByMonth is the table-driven bonus/penalty per calendar
	// month, expressed as a 0-1 factor score (0.5 = neutral).
	SeasonalityByMonth map[time.Month]float64

	// AffiliateDiscount is applied (not zeroing) when an item carries
	// affiliate links, reflecting lower organic reach.
	AffiliateDiscount float64

	// SentimentInfluence bounds how much overall sentiment moves the ROI:
	// roi *= 1 + SentimentInfluence*(sentiment-0.5)*2
	SentimentInfluence float64

	// ROIScale converts the 0-1 weighted factor blend into the raw ROI
	// estimate before clamping.
	ROIScale float64

	// FreshTrendBonus is added to trending relevance when hashtag overlap
	// also matches the live trend signal (fresh, not just historical).
	FreshTrendBonus float64

	// PeakCompetitionAmplifier scales competition during peak audience
	// hours, when more publishers compete for the same attention.
	PeakCompetitionAmplifier float64

	// Reason thresholds
	PeakActivityThreshold    float64 // audienceActivity above this => peak window reason
	LowCompetitionThreshold  float64 // competitionLevel below this => low competition reason
	HighTrendingThreshold    float64 // trendingRelevance above this => trending match reason
	HighSeasonalityThreshold float64 // seasonality above this => seasonal boost reason
}

// DefaultScoringConfig returns the standard coefficient set
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		PlatformWeights: map[string]FactorWeights{
			// Trend-driven platforms: trending relevance dominates
			"tiktok":  {AudienceActivity: 0.30, CompetitionLevel: 0.15, TrendingRelevance: 0.40, Seasonality: 0.15},
			"twitter": {AudienceActivity: 0.25, CompetitionLevel: 0.20, TrendingRelevance: 0.40, Seasonality: 0.15},
			// Feed platforms: audience timing dominates
			"instagram": {AudienceActivity: 0.40, CompetitionLevel: 0.20, TrendingRelevance: 0.25, Seasonality: 0.15},
			"facebook":  {AudienceActivity: 0.40, CompetitionLevel: 0.25, TrendingRelevance: 0.15, Seasonality: 0.20},
			// Search/browse platforms: evergreen, seasonality matters more
			"youtube":  {AudienceActivity: 0.35, CompetitionLevel: 0.20, TrendingRelevance: 0.20, Seasonality: 0.25},
			"linkedin": {AudienceActivity: 0.45, CompetitionLevel: 0.25, TrendingRelevance: 0.10, Seasonality: 0.20},
		},
		DefaultWeights: FactorWeights{
			AudienceActivity: 0.35, CompetitionLevel: 0.20, TrendingRelevance: 0.25, Seasonality: 0.20,
		},

		ContentMultipliers: map[string]float64{
			"trending":      1.15,
			"entertainment": 1.10,
			"educational":   1.00,
			"promotional":   0.85,
		},

		// Q4 shopping season peaks, January slump, summer dip
		SeasonalityByMonth: map[time.Month]float64{
			time.January:   0.40,
			time.February:  0.50,
			time.March:     0.55,
			time.April:     0.55,
			time.May:       0.60,
			time.June:      0.50,
			time.July:      0.45,
			time.August:    0.50,
			time.September: 0.60,
			time.October:   0.70,
			time.November:  0.85,
			time.December:  0.80,
		},

		AffiliateDiscount:        0.90,
		SentimentInfluence:       0.20,
		ROIScale:                 0.35,
		FreshTrendBonus:          0.20,
		PeakCompetitionAmplifier: 1.30,

		PeakActivityThreshold:    0.70,
		LowCompetitionThreshold:  0.35,
		HighTrendingThreshold:    0.50,
		HighSeasonalityThreshold: 0.65,
	}
}

// weightsFor returns the weight vector for a platform
func (c ScoringConfig) weightsFor(platform string) FactorWeights {
	if w, ok := c.PlatformWeights[platform]; ok {
		return w
	}
	return c.DefaultWeights
}

// contentMultiplier returns the ROI multiplier for a content type
func (c ScoringConfig) contentMultiplier(contentType string) float64 {
	if m, ok := c.ContentMultipliers[contentType]; ok {
		return m
	}
	return 1.0
}

// =============================================================================
// AUDIENCE ACTIVITY CURVES
// =============================================================================
// Per-platform diurnal activity curves (24 entries, 0-1) with a weekly
// factor. Derived from the same domain knowledge that seeds the pattern
// defaults; the scorer prefers real pattern data and uses the curve as the
// shape prior.

var activityCurves = map[string][24]float64{
	"tiktok": {
		0.25, 0.15, 0.10, 0.08, 0.08, 0.12, 0.30, 0.55, 0.60, 0.65,
		0.55, 0.60, 0.70, 0.60, 0.55, 0.65, 0.60, 0.65, 0.80, 0.90,
		0.95, 0.90, 0.75, 0.45,
	},
	"instagram": {
		0.20, 0.12, 0.08, 0.06, 0.08, 0.15, 0.35, 0.55, 0.65, 0.55,
		0.50, 0.70, 0.75, 0.70, 0.50, 0.45, 0.55, 0.75, 0.80, 0.85,
		0.80, 0.65, 0.50, 0.35,
	},
	"youtube": {
		0.30, 0.20, 0.12, 0.08, 0.08, 0.10, 0.20, 0.35, 0.40, 0.45,
		0.50, 0.55, 0.65, 0.55, 0.55, 0.70, 0.75, 0.80, 0.85, 0.90,
		0.90, 0.85, 0.65, 0.45,
	},
	"twitter": {
		0.25, 0.15, 0.10, 0.08, 0.10, 0.20, 0.40, 0.60, 0.75, 0.70,
		0.60, 0.65, 0.75, 0.70, 0.55, 0.50, 0.55, 0.70, 0.65, 0.55,
		0.50, 0.60, 0.45, 0.35,
	},
	"linkedin": {
		0.05, 0.03, 0.02, 0.02, 0.05, 0.15, 0.40, 0.70, 0.85, 0.75,
		0.60, 0.55, 0.70, 0.60, 0.55, 0.50, 0.55, 0.65, 0.45, 0.25,
		0.15, 0.10, 0.08, 0.05,
	},
	"facebook": {
		0.20, 0.12, 0.08, 0.06, 0.08, 0.15, 0.30, 0.45, 0.55, 0.60,
		0.55, 0.60, 0.65, 0.70, 0.60, 0.60, 0.55, 0.60, 0.70, 0.75,
		0.70, 0.60, 0.45, 0.30,
	},
}

var defaultActivityCurve = [24]float64{
	0.20, 0.12, 0.08, 0.06, 0.08, 0.15, 0.30, 0.50, 0.60, 0.60,
	0.55, 0.60, 0.65, 0.60, 0.55, 0.55, 0.55, 0.65, 0.70, 0.75,
	0.70, 0.60, 0.45, 0.30,
}

// weeklyFactors adjusts activity by weekday per platform class.
// LinkedIn is a working-week platform; entertainment platforms lean weekend.
var weeklyFactors = map[string][7]float64{
	"tiktok":    {1.15, 0.95, 0.95, 1.00, 1.00, 1.05, 1.20}, // Sun..Sat
	"instagram": {1.05, 1.00, 1.00, 1.00, 1.00, 1.05, 1.10},
	"youtube":   {1.20, 0.90, 0.90, 0.95, 0.95, 1.05, 1.25},
	"twitter":   {0.85, 1.05, 1.05, 1.05, 1.05, 1.00, 0.85},
	"linkedin":  {0.40, 1.10, 1.15, 1.15, 1.10, 1.00, 0.45},
	"facebook":  {1.10, 0.95, 0.95, 1.00, 1.00, 1.05, 1.15},
}

// activityAt returns the 0-1 audience activity estimate for a platform at
// a given time, combining the diurnal curve and the weekly factor.
func activityAt(platform string, t time.Time) float64 {
	curve, ok := activityCurves[platform]
	if !ok {
		curve = defaultActivityCurve
	}

	activity := curve[t.Hour()]
	if factors, ok := weeklyFactors[platform]; ok {
		activity *= factors[int(t.Weekday())]
	}

	return clamp(activity, 0, 1)
}

// isPeakHour reports whether the hour is in the platform's top activity band
func isPeakHour(platform string, t time.Time) bool {
	return activityAt(platform, t) >= 0.7
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

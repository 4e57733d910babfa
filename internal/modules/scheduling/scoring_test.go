package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvoram/cadence/internal/modules/patterns"
	"github.com/dvoram/cadence/internal/modules/signals"
)

// richPatterns builds a full weekly pattern grid for one platform
func richPatterns(platform string, samples int, confidence float64) []patterns.MarketPattern {
	var pats []patterns.MarketPattern
	for day := time.Sunday; day <= time.Saturday; day++ {
		for hour := 0; hour < 24; hour++ {
			pats = append(pats, patterns.MarketPattern{
				Platform:         platform,
				Window:           patterns.TimeWindow{Hour: hour, DayOfWeek: day},
				EngagementRate:   0.04,
				ConversionRate:   0.01,
				ROI:              0.12,
				CompetitionLevel: 0.30,
				TrendingTopics:   []string{"summer", "fitness"},
				ConfidenceScore:  confidence,
				SampleCount:      samples,
			})
		}
	}
	return pats
}

func neutralTestSignals() signals.MarketSignals {
	return signals.MarketSignals{
		Sentiment:          0.5,
		CompetitorActivity: 0.5,
		Volatility:         0.2,
	}
}

func TestScoreROIAlwaysWithinBounds(t *testing.T) {
	cfg := DefaultScoringConfig()
	candidate := time.Date(2025, time.November, 20, 19, 0, 0, 0, time.UTC)

	patternSets := map[string][]patterns.MarketPattern{
		"none": nil,
		"rich": richPatterns("tiktok", 50, 0.8),
	}
	sentiments := []float64{0.0, 0.25, 0.5, 0.75, 1.0}
	contentTypes := []string{"trending", "entertainment", "educational", "promotional", "unknown"}

	for name, pats := range patternSets {
		for _, sentiment := range sentiments {
			for _, ct := range contentTypes {
				for _, affiliate := range []bool{true, false} {
					item := WorkflowItem{
						ID:          "item-1",
						Platform:    "tiktok",
						ContentType: ct,
						Hashtags:    []string{"#fitness", "#dance"},
					}
					if affiliate {
						item.AffiliateLinks = []string{"https://example.com/ref"}
					}
					sig := neutralTestSignals()
					sig.Sentiment = sentiment

					scores := Score(cfg, candidate, item, pats, sig)

					assert.GreaterOrEqual(t, scores.PredictedROI, MinPredictedROI,
						"patterns=%s sentiment=%v content=%s", name, sentiment, ct)
					assert.LessOrEqual(t, scores.PredictedROI, MaxPredictedROI,
						"patterns=%s sentiment=%v content=%s", name, sentiment, ct)
				}
			}
		}
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	cfg := DefaultScoringConfig()
	candidate := time.Date(2025, time.June, 3, 12, 0, 0, 0, time.UTC)
	item := WorkflowItem{ID: "i", Platform: "instagram", ContentType: "entertainment", Hashtags: []string{"#summer"}}
	pats := richPatterns("instagram", 30, 0.7)
	sig := neutralTestSignals()

	first := Score(cfg, candidate, item, pats, sig)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Score(cfg, candidate, item, pats, sig))
	}
}

func TestScoreConfidenceBounds(t *testing.T) {
	cfg := DefaultScoringConfig()
	candidate := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	item := WorkflowItem{ID: "i", Platform: "youtube", ContentType: "educational"}

	for _, pats := range [][]patterns.MarketPattern{nil, richPatterns("youtube", 200, 1.0)} {
		for _, vol := range []float64{0.0, 0.5, 1.0} {
			sig := neutralTestSignals()
			sig.Volatility = vol
			scores := Score(cfg, candidate, item, pats, sig)
			assert.GreaterOrEqual(t, scores.Confidence, 0.0)
			assert.LessOrEqual(t, scores.Confidence, 1.0)
		}
	}
}

func TestScoreConfidenceGrowsWithSampleVolume(t *testing.T) {
	cfg := DefaultScoringConfig()
	candidate := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	item := WorkflowItem{ID: "i", Platform: "twitter", ContentType: "trending"}
	sig := neutralTestSignals()

	prev := -1.0
	for _, samples := range []int{0, 5, 25, 100, 500} {
		scores := Score(cfg, candidate, item, richPatterns("twitter", samples, 0.6), sig)
		assert.GreaterOrEqual(t, scores.Confidence, prev,
			"confidence must not drop when sample volume grows (samples=%d)", samples)
		prev = scores.Confidence
	}
}

func TestScoreConfidenceDropsWithVolatility(t *testing.T) {
	cfg := DefaultScoringConfig()
	candidate := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	item := WorkflowItem{ID: "i", Platform: "twitter", ContentType: "trending"}
	pats := richPatterns("twitter", 40, 0.6)

	prev := 2.0
	for _, vol := range []float64{0.0, 0.3, 0.7, 1.0} {
		sig := neutralTestSignals()
		sig.Volatility = vol
		scores := Score(cfg, candidate, item, pats, sig)
		assert.LessOrEqual(t, scores.Confidence, prev,
			"confidence must not rise when volatility grows (volatility=%v)", vol)
		prev = scores.Confidence
	}
}

func TestScoreReasonsNeverEmpty(t *testing.T) {
	cfg := DefaultScoringConfig()

	// A deliberately unremarkable slot: 4 AM with no patterns, no hashtags
	candidate := time.Date(2025, time.January, 15, 4, 0, 0, 0, time.UTC)
	item := WorkflowItem{ID: "i", Platform: "linkedin", ContentType: "promotional"}

	scores := Score(cfg, candidate, item, nil, neutralTestSignals())
	require.NotEmpty(t, scores.Reasons)
	assert.Contains(t, scores.Reasons, "best available slot in posting window")
}

func TestScoreSentimentMovesROI(t *testing.T) {
	cfg := DefaultScoringConfig()
	candidate := time.Date(2025, time.May, 8, 18, 0, 0, 0, time.UTC)
	item := WorkflowItem{ID: "i", Platform: "instagram", ContentType: "entertainment", Hashtags: []string{"#summer"}}
	pats := richPatterns("instagram", 30, 0.7)

	low := neutralTestSignals()
	low.Sentiment = 0.1
	high := neutralTestSignals()
	high.Sentiment = 0.9

	lowScores := Score(cfg, candidate, item, pats, low)
	highScores := Score(cfg, candidate, item, pats, high)

	assert.GreaterOrEqual(t, highScores.PredictedROI, lowScores.PredictedROI)
}

func TestScoreAffiliateDiscount(t *testing.T) {
	cfg := DefaultScoringConfig()
	candidate := time.Date(2025, time.May, 8, 18, 0, 0, 0, time.UTC)
	pats := richPatterns("instagram", 30, 0.7)
	sig := neutralTestSignals()

	plain := WorkflowItem{ID: "i", Platform: "instagram", ContentType: "entertainment", Hashtags: []string{"#summer"}}
	affiliate := plain
	affiliate.AffiliateLinks = []string{"https://example.com/ref"}

	plainScores := Score(cfg, candidate, plain, pats, sig)
	affiliateScores := Score(cfg, candidate, affiliate, pats, sig)

	assert.LessOrEqual(t, affiliateScores.PredictedROI, plainScores.PredictedROI)
}

func TestScoreFreshTrendBeatsHistorical(t *testing.T) {
	cfg := DefaultScoringConfig()
	candidate := time.Date(2025, time.May, 8, 18, 0, 0, 0, time.UTC)
	item := WorkflowItem{ID: "i", Platform: "tiktok", ContentType: "trending", Hashtags: []string{"#fitness"}}
	pats := richPatterns("tiktok", 30, 0.7) // history includes "fitness"

	stale := neutralTestSignals()
	fresh := neutralTestSignals()
	fresh.TrendingHashtags = []string{"fitness"}

	staleScores := Score(cfg, candidate, item, pats, stale)
	freshScores := Score(cfg, candidate, item, pats, fresh)

	assert.Greater(t, freshScores.Breakdown.TrendingRelevance, staleScores.Breakdown.TrendingRelevance)
	assert.Contains(t, freshScores.Reasons, "hashtags match live trends")
}

func TestScoreUnknownPlatformUsesDefaults(t *testing.T) {
	cfg := DefaultScoringConfig()
	candidate := time.Date(2025, time.May, 8, 18, 0, 0, 0, time.UTC)
	item := WorkflowItem{ID: "i", Platform: "myspace", ContentType: "entertainment"}

	scores := Score(cfg, candidate, item, nil, neutralTestSignals())

	assert.GreaterOrEqual(t, scores.PredictedROI, MinPredictedROI)
	assert.LessOrEqual(t, scores.PredictedROI, MaxPredictedROI)
	assert.NotEmpty(t, scores.Reasons)
}

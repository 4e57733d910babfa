package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvoram/cadence/internal/modules/patterns"
	"github.com/dvoram/cadence/internal/modules/signals"
)

// Confidence blend weights: pattern self-confidence, observed data volume,
// inverse signal volatility. Each term is monotonic in its input, so the
// blend is monotonic in each input independently.
const (
	confWeightPattern    = 0.50
	confWeightVolume     = 0.30
	confWeightStability  = 0.20
	volumeSaturationBase = 20.0 // Sample count at which volume confidence reaches 0.5
)

// Score is the pure scoring function: it turns one candidate publish time,
// the item under evaluation, the platform's pattern set and the live
// signals into factor scores, a clamped ROI prediction, a confidence
// estimate and human-readable reasons. No I/O, no clock access, no
// randomness: identical inputs always produce identical output.
func Score(
	cfg ScoringConfig,
	candidate time.Time,
	item WorkflowItem,
	pats []patterns.MarketPattern,
	sig signals.MarketSignals,
) FactorScores {
	bucket, hasBucket := patterns.FindWindow(pats, candidate)

	audienceActivity := activityAt(item.Platform, candidate)

	competition := avgCompetition(pats)
	if hasBucket {
		competition = bucket.CompetitionLevel
	}
	if isPeakHour(item.Platform, candidate) {
		// More publishers compete for attention during peak hours
		competition = clamp(competition*cfg.PeakCompetitionAmplifier, 0, 1)
	}

	trendingRelevance, freshMatch := trendingOverlap(cfg, item.Hashtags, pats, sig.TrendingHashtags)

	seasonality, ok := cfg.SeasonalityByMonth[candidate.Month()]
	if !ok {
		seasonality = 0.5
	}

	// Weighted linear blend with platform-specific weights. Competition
	// contributes inversely: crowded slots earn less.
	w := cfg.weightsFor(item.Platform)
	blend := w.AudienceActivity*audienceActivity +
		w.CompetitionLevel*(1-competition) +
		w.TrendingRelevance*trendingRelevance +
		w.Seasonality*seasonality

	roi := blend * cfg.ROIScale
	roi *= cfg.contentMultiplier(item.ContentType)
	roi *= 1 + cfg.SentimentInfluence*(sig.Sentiment-0.5)*2
	if len(item.AffiliateLinks) > 0 {
		// Discounted, not zeroed: affiliate content still earns
		roi *= cfg.AffiliateDiscount
	}
	roi = clamp(roi, MinPredictedROI, MaxPredictedROI)

	confidence := blendConfidence(pats, hasBucket, bucket, sig.Volatility)

	breakdown := FactorBreakdown{
		AudienceActivity:  audienceActivity,
		CompetitionLevel:  competition,
		TrendingRelevance: trendingRelevance,
		Seasonality:       seasonality,
	}

	return FactorScores{
		Breakdown:    breakdown,
		PredictedROI: roi,
		Confidence:   confidence,
		Reasons:      buildReasons(cfg, breakdown, freshMatch, candidate),
	}
}

// avgCompetition averages competition across a pattern set, 0.5 when empty
func avgCompetition(pats []patterns.MarketPattern) float64 {
	if len(pats) == 0 {
		return 0.5
	}
	var sum float64
	for _, p := range pats {
		sum += p.CompetitionLevel
	}
	return sum / float64(len(pats))
}

// trendingOverlap computes the hashtag overlap ratio against historical
// trending topics, with a bonus when an overlapping tag also matches the
// live trend signal. The bonus distinguishes fresh relevance from stale:
// a tag that trended last month scores lower than one trending right now.
func trendingOverlap(
	cfg ScoringConfig,
	hashtags []string,
	pats []patterns.MarketPattern,
	liveTrends []string,
) (score float64, freshMatch bool) {
	if len(hashtags) == 0 {
		return 0, false
	}

	historical := make(map[string]bool)
	for _, p := range pats {
		for _, topic := range p.TrendingTopics {
			historical[strings.ToLower(topic)] = true
		}
	}
	live := make(map[string]bool, len(liveTrends))
	for _, t := range liveTrends {
		live[strings.ToLower(t)] = true
	}

	matches := 0
	for _, tag := range hashtags {
		normalized := strings.ToLower(strings.TrimPrefix(tag, "#"))
		if historical[normalized] {
			matches++
			if live[normalized] {
				freshMatch = true
			}
		} else if live[normalized] {
			// Trending live but not yet in history still counts
			matches++
			freshMatch = true
		}
	}

	score = float64(matches) / float64(len(hashtags))
	if freshMatch {
		score += cfg.FreshTrendBonus
	}
	return clamp(score, 0, 1), freshMatch
}

// blendConfidence combines pattern self-confidence, observed sample volume
// and inverse signal volatility into the engine's confidence estimate.
func blendConfidence(pats []patterns.MarketPattern, hasBucket bool, bucket patterns.MarketPattern, volatility float64) float64 {
	patternConf := patterns.DefaultConfidence
	if hasBucket {
		patternConf = bucket.ConfidenceScore
	} else if len(pats) > 0 {
		var sum float64
		for _, p := range pats {
			sum += p.ConfidenceScore
		}
		patternConf = sum / float64(len(pats))
	}

	totalSamples := 0
	for _, p := range pats {
		totalSamples += p.SampleCount
	}
	volume := float64(totalSamples) / (float64(totalSamples) + volumeSaturationBase)

	confidence := confWeightPattern*patternConf +
		confWeightVolume*volume +
		confWeightStability*(1-volatility)

	return clamp(confidence, 0, 1)
}

// buildReasons derives human-readable reasons from factor thresholds.
// A generic fallback guarantees the list is never empty.
func buildReasons(cfg ScoringConfig, b FactorBreakdown, freshMatch bool, candidate time.Time) []string {
	var reasons []string

	if b.AudienceActivity > cfg.PeakActivityThreshold {
		reasons = append(reasons, "platform peak window")
	}
	if b.CompetitionLevel < cfg.LowCompetitionThreshold {
		reasons = append(reasons, "low publisher competition")
	}
	if b.TrendingRelevance > cfg.HighTrendingThreshold {
		if freshMatch {
			reasons = append(reasons, "hashtags match live trends")
		} else {
			reasons = append(reasons, "hashtags match historical trends")
		}
	}
	if b.Seasonality > cfg.HighSeasonalityThreshold {
		reasons = append(reasons, fmt.Sprintf("seasonal boost (%s)", candidate.Month()))
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "best available slot in posting window")
	}

	return reasons
}

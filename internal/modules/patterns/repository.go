package patterns

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/dvoram/cadence/internal/database"
)

// maxROISamples caps the per-bucket sample window used for aggregation.
// Old samples roll off so buckets track recent performance.
const maxROISamples = 100

// maxTrendingTopics caps the stored trending topics per bucket.
const maxTrendingTopics = 10

// Repository handles persistence of pattern buckets in patterns.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new pattern repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "patterns").Logger(),
	}
}

// QueryByPlatform returns all buckets for a platform updated within the
// lookback window, ranked by roi*confidence descending.
func (r *Repository) QueryByPlatform(ctx context.Context, platform string, lookbackDays int) ([]MarketPattern, error) {
	cutoff := time.Now().AddDate(0, 0, -lookbackDays).Unix()

	rows, err := r.db.QueryContext(ctx, `
		SELECT platform, hour, day_of_week, engagement_rate, conversion_rate,
		       roi, audience_size, competition_level, trending_topics,
		       confidence, sample_count
		FROM pattern_buckets
		WHERE platform = ? AND updated_at >= ?
		ORDER BY roi * confidence DESC
	`, platform, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern buckets for %s: %w", platform, err)
	}
	defer rows.Close()

	var patterns []MarketPattern
	for rows.Next() {
		var p MarketPattern
		var day int
		var topicsJSON string
		if err := rows.Scan(
			&p.Platform, &p.Window.Hour, &day,
			&p.EngagementRate, &p.ConversionRate, &p.ROI,
			&p.AudienceSize, &p.CompetitionLevel, &topicsJSON,
			&p.ConfidenceScore, &p.SampleCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pattern bucket: %w", err)
		}
		p.Window.DayOfWeek = time.Weekday(day)
		if err := json.Unmarshal([]byte(topicsJSON), &p.TrendingTopics); err != nil {
			// Corrupt topics are not worth failing a query over
			p.TrendingTopics = nil
		}
		patterns = append(patterns, p)
	}

	return patterns, rows.Err()
}

// RecordOutcome folds a single observed publishing result into its bucket.
// Engagement is folded as an incremental weighted average; ROI is recomputed
// from the rolling sample window so dispersion can feed bucket confidence.
// The read-fold-write runs inside one transaction so concurrent feedback
// landing in the same bucket cannot drop an observation.
func (r *Repository) RecordOutcome(ctx context.Context, outcome Outcome) error {
	bucketHour := outcome.ExecutedAt.Hour()
	bucketDay := int(outcome.ExecutedAt.Weekday())

	var sampleCount int
	var roi float64

	txErr := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var engagement, conversion, audience, competition float64
		var topicsJSON, samplesJSON string

		err := tx.QueryRowContext(ctx, `
			SELECT engagement_rate, conversion_rate, audience_size,
			       competition_level, trending_topics, roi_samples, sample_count
			FROM pattern_buckets
			WHERE platform = ? AND hour = ? AND day_of_week = ?
		`, outcome.Platform, bucketHour, bucketDay).Scan(
			&engagement, &conversion, &audience, &competition,
			&topicsJSON, &samplesJSON, &sampleCount,
		)

		var samples []float64
		var topics []string
		switch err {
		case nil:
			if jsonErr := json.Unmarshal([]byte(samplesJSON), &samples); jsonErr != nil {
				samples = nil
			}
			if jsonErr := json.Unmarshal([]byte(topicsJSON), &topics); jsonErr != nil {
				topics = nil
			}
		case sql.ErrNoRows:
			// First observation for this bucket
			competition = 0.5
		default:
			return fmt.Errorf("failed to load pattern bucket: %w", err)
		}

		// Incremental weighted average for engagement
		n := float64(sampleCount)
		engagement = (engagement*n + outcome.Engagement) / (n + 1)

		// Rolling ROI sample window
		samples = append(samples, outcome.ROI)
		if len(samples) > maxROISamples {
			samples = samples[len(samples)-maxROISamples:]
		}
		roi = stat.Mean(samples, nil)

		var dispersion float64
		if len(samples) > 1 {
			dispersion = stat.StdDev(samples, nil)
		}
		confidence := bucketConfidence(sampleCount+1, dispersion)

		topics = mergeTopics(topics, outcome.Hashtags)

		newSamplesJSON, err := json.Marshal(samples)
		if err != nil {
			return fmt.Errorf("failed to marshal roi samples: %w", err)
		}
		newTopicsJSON, err := json.Marshal(topics)
		if err != nil {
			return fmt.Errorf("failed to marshal trending topics: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO pattern_buckets (
				platform, hour, day_of_week, engagement_rate, conversion_rate,
				roi, audience_size, competition_level, trending_topics,
				confidence, sample_count, roi_samples, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(platform, hour, day_of_week) DO UPDATE SET
				engagement_rate = excluded.engagement_rate,
				roi             = excluded.roi,
				trending_topics = excluded.trending_topics,
				confidence      = excluded.confidence,
				sample_count    = excluded.sample_count,
				roi_samples     = excluded.roi_samples,
				updated_at      = excluded.updated_at
		`,
			outcome.Platform, bucketHour, bucketDay, engagement, conversion,
			roi, audience, competition, string(newTopicsJSON),
			confidence, sampleCount+1, string(newSamplesJSON), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert pattern bucket: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	r.log.Debug().
		Str("platform", outcome.Platform).
		Int("hour", bucketHour).
		Int("day_of_week", bucketDay).
		Int("samples", sampleCount+1).
		Float64("roi", roi).
		Msg("Folded outcome into pattern bucket")

	return nil
}

// UpsertBucket writes a full bucket row. Used by external ingestion and tests.
func (r *Repository) UpsertBucket(ctx context.Context, p MarketPattern) error {
	topicsJSON, err := json.Marshal(p.TrendingTopics)
	if err != nil {
		return fmt.Errorf("failed to marshal trending topics: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pattern_buckets (
			platform, hour, day_of_week, engagement_rate, conversion_rate,
			roi, audience_size, competition_level, trending_topics,
			confidence, sample_count, roi_samples, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', ?)
		ON CONFLICT(platform, hour, day_of_week) DO UPDATE SET
			engagement_rate   = excluded.engagement_rate,
			conversion_rate   = excluded.conversion_rate,
			roi               = excluded.roi,
			audience_size     = excluded.audience_size,
			competition_level = excluded.competition_level,
			trending_topics   = excluded.trending_topics,
			confidence        = excluded.confidence,
			sample_count      = excluded.sample_count,
			updated_at        = excluded.updated_at
	`,
		p.Platform, p.Window.Hour, int(p.Window.DayOfWeek),
		p.EngagementRate, p.ConversionRate, p.ROI,
		p.AudienceSize, p.CompetitionLevel, string(topicsJSON),
		p.ConfidenceScore, p.SampleCount, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern bucket: %w", err)
	}
	return nil
}

// PruneStale deletes buckets not updated within the retention window.
// Returns the number of rows deleted.
func (r *Repository) PruneStale(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pattern_buckets WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune stale pattern buckets: %w", err)
	}
	return result.RowsAffected()
}

// bucketConfidence maps sample volume and ROI dispersion to a 0-1 score.
// Monotonically non-decreasing in sample count, non-increasing in dispersion.
func bucketConfidence(sampleCount int, dispersion float64) float64 {
	volume := float64(sampleCount) / (float64(sampleCount) + 10.0)
	penalty := math.Min(0.3, dispersion)
	confidence := volume * (1.0 - penalty)
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// mergeTopics appends new hashtags to the topic list, deduplicated,
// newest last, capped at maxTrendingTopics (oldest evicted first).
func mergeTopics(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, t := range existing {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	for _, t := range incoming {
		t = strings.ToLower(strings.TrimPrefix(t, "#"))
		if t != "" && !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	if len(merged) > maxTrendingTopics {
		merged = merged[len(merged)-maxTrendingTopics:]
	}
	return merged
}

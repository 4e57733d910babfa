package scheduling

import (
	"fmt"
	"time"

	"github.com/dvoram/cadence/internal/modules/patterns"
)

// Constraints bound the candidate search space for one platform
type Constraints struct {
	WindowStartHour int            // Earliest posting hour (inclusive), 0 = midnight
	WindowEndHour   int            // Latest posting hour (inclusive)
	AllowedDays     []time.Weekday // Empty = all days allowed
	MaxPostsPerDay  int            // 0 = unlimited
	MinInterval     time.Duration  // Minimum gap between posts on the same platform
}

// DefaultConstraints allows the full day with a light per-day cap
func DefaultConstraints() Constraints {
	return Constraints{
		WindowStartHour: 0,
		WindowEndHour:   23,
		MaxPostsPerDay:  5,
		MinInterval:     2 * time.Hour,
	}
}

// GenerateCandidates enumerates feasible future publish times: hourly slots
// from now+1h over the horizon, filtered by constraints and pruned to hours
// with pattern coverage. If pruning eliminates everything, the unfiltered
// hourly set is returned so a non-empty result is guaranteed for any
// horizon of at least one hour. existingPosts are already-committed publish
// times on the same platform, used for the per-day cap and minimum gap.
func GenerateCandidates(
	now time.Time,
	horizonHours int,
	constraints Constraints,
	coverage []patterns.MarketPattern,
	existingPosts []time.Time,
) ([]time.Time, error) {
	if horizonHours < 1 {
		return nil, fmt.Errorf("horizon must be at least 1 hour, got %d", horizonHours)
	}

	start := now.Truncate(time.Hour).Add(time.Hour)

	all := make([]time.Time, 0, horizonHours)
	for i := 0; i < horizonHours; i++ {
		all = append(all, start.Add(time.Duration(i)*time.Hour))
	}

	feasible := make([]time.Time, 0, len(all))
	perDay := countPostsPerDay(existingPosts)
	for _, t := range all {
		if !withinWindow(t, constraints) {
			continue
		}
		if !dayAllowed(t, constraints.AllowedDays) {
			continue
		}
		if constraints.MaxPostsPerDay > 0 {
			day := t.Format("2006-01-02")
			if perDay[day] >= constraints.MaxPostsPerDay {
				continue
			}
		}
		if violatesMinInterval(t, existingPosts, constraints.MinInterval) {
			continue
		}
		feasible = append(feasible, t)
	}

	// Prune to hours with pattern coverage
	if len(coverage) > 0 {
		covered := make([]time.Time, 0, len(feasible))
		for _, t := range feasible {
			if _, ok := patterns.FindWindow(coverage, t); ok {
				covered = append(covered, t)
			}
		}
		if len(covered) > 0 {
			feasible = covered
		}
	}

	// Widen the search rather than fail: an over-constrained or
	// coverage-pruned empty set falls back to the raw hourly slots.
	if len(feasible) == 0 {
		return all, nil
	}

	return feasible, nil
}

// withinWindow checks the time-of-day posting window.
// A window wrapping midnight (start > end) is supported.
func withinWindow(t time.Time, c Constraints) bool {
	hour := t.Hour()
	if c.WindowStartHour <= c.WindowEndHour {
		return hour >= c.WindowStartHour && hour <= c.WindowEndHour
	}
	return hour >= c.WindowStartHour || hour <= c.WindowEndHour
}

func dayAllowed(t time.Time, allowed []time.Weekday) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, d := range allowed {
		if t.Weekday() == d {
			return true
		}
	}
	return false
}

func violatesMinInterval(t time.Time, existing []time.Time, minInterval time.Duration) bool {
	if minInterval <= 0 {
		return false
	}
	for _, e := range existing {
		gap := t.Sub(e)
		if gap < 0 {
			gap = -gap
		}
		if gap < minInterval {
			return true
		}
	}
	return false
}

func countPostsPerDay(posts []time.Time) map[string]int {
	counts := make(map[string]int, len(posts))
	for _, p := range posts {
		counts[p.Format("2006-01-02")]++
	}
	return counts
}

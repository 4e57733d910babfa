// Package signals provides ephemeral market signals (sentiment, trends,
// competitor activity) for the scoring engine. Signals are advisory:
// any provider failure degrades to a fixed neutral default so upstream
// unreliability never propagates into a scheduling failure.
package signals

import "context"

// MarketSignals is a point-in-time snapshot of live market conditions
type MarketSignals struct {
	Sentiment          float64  // 0-1, overall market sentiment
	TrendingHashtags   []string // Currently trending hashtags for the platform
	CompetitorActivity float64  // 0-1, how actively competitors are publishing
	Volatility         float64  // 0-1, how fast conditions are changing
	Degraded           bool     // True when this is a fallback, not live data
}

// SignalProvider produces current market signals for a platform.
// Implementations must be side-effect free and return promptly; callers
// bound execution with the context deadline.
type SignalProvider interface {
	Current(ctx context.Context, platform string) (MarketSignals, error)
}

// NeutralSignals returns the fixed fallback used when no live data is
// available. Deliberately mid-range so it neither boosts nor penalizes.
func NeutralSignals() MarketSignals {
	return MarketSignals{
		Sentiment:          0.5,
		TrendingHashtags:   nil,
		CompetitorActivity: 0.5,
		Volatility:         0.5,
		Degraded:           true,
	}
}

// StaticProvider returns a fixed set of signals. Used as a deterministic
// fixture in tests and as a stand-in when no feed is configured.
type StaticProvider struct {
	Signals MarketSignals
}

// Current returns the fixed signals
func (p *StaticProvider) Current(_ context.Context, _ string) (MarketSignals, error) {
	return p.Signals, nil
}

// Resolve queries a provider under the given context and converts any
// failure into the neutral default. This is the only entry point the
// scheduling path uses, so a broken provider can never fail a run.
func Resolve(ctx context.Context, provider SignalProvider, platform string) MarketSignals {
	if provider == nil {
		return NeutralSignals()
	}

	type outcome struct {
		signals MarketSignals
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := provider.Current(ctx, platform)
		done <- outcome{signals: s, err: err}
	}()

	select {
	case <-ctx.Done():
		return NeutralSignals()
	case o := <-done:
		if o.err != nil {
			return NeutralSignals()
		}
		return clampSignals(o.signals)
	}
}

// clampSignals forces all numeric signal fields into [0,1]
func clampSignals(s MarketSignals) MarketSignals {
	s.Sentiment = clamp01(s.Sentiment)
	s.CompetitorActivity = clamp01(s.CompetitorActivity)
	s.Volatility = clamp01(s.Volatility)
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	"nhooyr.io/websocket"

	"github.com/dvoram/cadence/internal/events"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// Snapshots older than this are treated as stale and the provider
	// degrades to neutral signals.
	snapshotStaleThreshold = 10 * time.Minute

	// Sentiment window length used for the volatility estimate
	sentimentWindow = 20
)

// feedMessage is one update on the trending-signal feed
type feedMessage struct {
	Platform           string   `json:"platform"`
	Sentiment          float64  `json:"sentiment"`
	TrendingHashtags   []string `json:"trending_hashtags"`
	CompetitorActivity float64  `json:"competitor_activity"`
}

// platformSnapshot is the last-known live state for one platform
type platformSnapshot struct {
	signals    MarketSignals
	sentiments []float64 // Recent sentiment values, newest last
	updatedAt  time.Time
}

// FeedClient consumes a live trending-signal websocket feed and serves
// per-platform snapshots as a SignalProvider. A dropped feed degrades to
// neutral signals rather than failing callers.
type FeedClient struct {
	url string

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected  bool
	stopped    bool
	stopChan   chan struct{}

	snapshots   map[string]*platformSnapshot
	snapshotsMu sync.RWMutex

	bus *events.Bus
	log zerolog.Logger
}

// NewFeedClient creates a new trending-signal feed client
func NewFeedClient(url string, bus *events.Bus, log zerolog.Logger) *FeedClient {
	return &FeedClient{
		url:       url,
		stopChan:  make(chan struct{}),
		snapshots: make(map[string]*platformSnapshot),
		bus:       bus,
		log:       log.With().Str("component", "signal_feed").Logger(),
	}
}

// Start initializes the websocket connection and starts the read loop
func (fc *FeedClient) Start() error {
	fc.log.Info().Str("url", fc.url).Msg("Starting signal feed client")

	if err := fc.connect(); err != nil {
		fc.log.Warn().Err(err).Msg("Initial feed connection failed, will retry in background")
		go fc.reconnectLoop()
		return err
	}

	fc.mu.RLock()
	ctx := fc.connCtx
	fc.mu.RUnlock()
	go fc.readMessages(ctx)

	return nil
}

// Stop gracefully shuts down the feed connection
func (fc *FeedClient) Stop() error {
	fc.mu.Lock()
	if fc.stopped {
		fc.mu.Unlock()
		return nil
	}
	fc.stopped = true
	fc.mu.Unlock()

	close(fc.stopChan)
	return fc.disconnect()
}

// Current implements SignalProvider from the last-known snapshot.
// Returns neutral signals when no fresh snapshot exists for the platform.
func (fc *FeedClient) Current(_ context.Context, platform string) (MarketSignals, error) {
	fc.snapshotsMu.RLock()
	snap, ok := fc.snapshots[platform]
	fc.snapshotsMu.RUnlock()

	if !ok || time.Since(snap.updatedAt) > snapshotStaleThreshold {
		return NeutralSignals(), nil
	}
	return snap.signals, nil
}

// connect establishes the websocket connection
func (fc *FeedClient) connect() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, fc.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial signal feed: %w", err)
	}

	// Long-lived context for the connection, cancelled on disconnect
	connCtx, connCancel := context.WithCancel(context.Background())
	fc.conn = conn
	fc.connCtx = connCtx
	fc.cancelFunc = connCancel
	fc.connected = true

	fc.log.Info().Msg("Connected to signal feed")
	return nil
}

// disconnect closes the websocket connection
func (fc *FeedClient) disconnect() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.conn == nil {
		return nil
	}

	if fc.cancelFunc != nil {
		fc.cancelFunc()
		fc.cancelFunc = nil
	}

	err := fc.conn.Close(websocket.StatusNormalClosure, "")
	fc.conn = nil
	fc.connCtx = nil
	fc.connected = false

	if err != nil {
		return fmt.Errorf("error closing signal feed: %w", err)
	}
	return nil
}

// reconnectLoop retries the connection with exponential backoff
func (fc *FeedClient) reconnectLoop() {
	delay := baseReconnectDelay

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-fc.stopChan:
			return
		case <-time.After(delay):
		}

		fc.log.Info().Int("attempt", attempt).Msg("Reconnecting to signal feed")
		if err := fc.connect(); err == nil {
			fc.mu.RLock()
			ctx := fc.connCtx
			fc.mu.RUnlock()
			go fc.readMessages(ctx)
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}

	fc.log.Error().Msg("Signal feed reconnection attempts exhausted, serving neutral signals")
	if fc.bus != nil {
		fc.bus.Emit(events.SignalFeedDegraded, "signals", map[string]interface{}{
			"reason": "reconnect_exhausted",
		})
	}
}

// readMessages continuously reads feed updates
func (fc *FeedClient) readMessages(ctx context.Context) {
	defer func() {
		fc.mu.RLock()
		stopped := fc.stopped
		fc.mu.RUnlock()
		if !stopped {
			go fc.reconnectLoop()
		}
	}()

	for {
		select {
		case <-fc.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		fc.mu.RLock()
		conn := fc.conn
		fc.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				fc.log.Info().Msg("Signal feed closed normally")
			} else if ctx.Err() == nil {
				fc.log.Error().Err(err).Msg("Unexpected signal feed read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := fc.handleMessage(message); err != nil {
			// Continue reading despite parse errors
			fc.log.Error().Err(err).Msg("Failed to handle signal feed message")
		}
	}
}

// handleMessage parses a feed update and folds it into the snapshot cache
func (fc *FeedClient) handleMessage(message []byte) error {
	var msg feedMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("failed to parse feed message: %w", err)
	}
	if msg.Platform == "" {
		return fmt.Errorf("feed message missing platform")
	}

	fc.applyUpdate(msg)
	return nil
}

// applyUpdate folds one feed update into the per-platform snapshot.
// Volatility is the standard deviation of the recent sentiment window,
// rescaled so a swing of ~0.25 maps to full volatility.
func (fc *FeedClient) applyUpdate(msg feedMessage) {
	fc.snapshotsMu.Lock()
	defer fc.snapshotsMu.Unlock()

	snap, ok := fc.snapshots[msg.Platform]
	if !ok {
		snap = &platformSnapshot{}
		fc.snapshots[msg.Platform] = snap
	}

	snap.sentiments = append(snap.sentiments, clamp01(msg.Sentiment))
	if len(snap.sentiments) > sentimentWindow {
		snap.sentiments = snap.sentiments[len(snap.sentiments)-sentimentWindow:]
	}

	volatility := 0.0
	if len(snap.sentiments) > 1 {
		volatility = clamp01(stat.StdDev(snap.sentiments, nil) * 4)
	}

	snap.signals = MarketSignals{
		Sentiment:          clamp01(msg.Sentiment),
		TrendingHashtags:   msg.TrendingHashtags,
		CompetitorActivity: clamp01(msg.CompetitorActivity),
		Volatility:         volatility,
	}
	snap.updatedAt = time.Now()
}

package patterns

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// Upstream is the source of historical pattern data.
// Implemented by Repository; tests supply counting/failing fakes.
type Upstream interface {
	QueryByPlatform(ctx context.Context, platform string, lookbackDays int) ([]MarketPattern, error)
}

// cacheEntry is a cached query result with its expiry
type cacheEntry struct {
	result    QueryResult
	expiresAt time.Time
}

// Store serves pattern queries through a TTL cache with single-flight
// upstream collapsing and deterministic degraded fallback.
type Store struct {
	upstream Upstream
	ttl      time.Duration
	timeout  time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
	sf    singleflight.Group

	snapshotDB *sql.DB // Optional: warm-start snapshots (patterns.db)
	log        zerolog.Logger
}

// StoreConfig holds pattern store configuration
type StoreConfig struct {
	TTL     time.Duration // Cache entry lifetime (default 15m)
	Timeout time.Duration // Upstream query budget (default 10s)
}

// NewStore creates a new pattern store.
// snapshotDB may be nil; snapshots are then disabled.
func NewStore(upstream Upstream, snapshotDB *sql.DB, cfg StoreConfig, log zerolog.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Store{
		upstream:   upstream,
		ttl:        cfg.TTL,
		timeout:    cfg.Timeout,
		cache:      make(map[string]cacheEntry),
		snapshotDB: snapshotDB,
		log:        log.With().Str("component", "pattern_store").Logger(),
	}
}

// Query returns ranked patterns for (platform, lookbackDays).
// Never returns an error to the scheduling path: upstream failure, timeout
// or an empty result set all degrade to the seeded default table.
// Concurrent cache misses for the same key collapse into one upstream query.
func (s *Store) Query(ctx context.Context, platform string, lookbackDays int) QueryResult {
	key := cacheKey(platform, lookbackDays)

	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.result
	}

	// Collapse concurrent misses into a single upstream query.
	// The flight runs under its own timeout so one cancelled caller
	// cannot fail the shared result.
	v, _, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.queryUpstream(platform, lookbackDays), nil
	})

	return v.(QueryResult)
}

// queryUpstream performs the actual upstream query and caches the result.
func (s *Store) queryUpstream(platform string, lookbackDays int) QueryResult {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var result QueryResult
	found, err := s.upstream.QueryByPlatform(ctx, platform, lookbackDays)
	switch {
	case err != nil:
		s.log.Warn().
			Err(err).
			Str("platform", platform).
			Msg("Pattern upstream unavailable, serving seeded defaults")
		result = QueryResult{Patterns: DefaultPatterns(platform), Degraded: true}
	case len(found) == 0:
		s.log.Debug().
			Str("platform", platform).
			Msg("No historical patterns, serving seeded defaults")
		result = QueryResult{Patterns: DefaultPatterns(platform), Degraded: true}
	default:
		result = QueryResult{Patterns: found}
	}

	ttl := s.ttl
	if result.Degraded {
		// Degraded entries expire sooner so recovery is picked up quickly
		ttl = s.ttl / 3
	}

	s.mu.Lock()
	s.cache[cacheKey(platform, lookbackDays)] = cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()

	return result
}

// Invalidate drops a cached entry, forcing the next query upstream
func (s *Store) Invalidate(platform string, lookbackDays int) {
	s.mu.Lock()
	delete(s.cache, cacheKey(platform, lookbackDays))
	s.mu.Unlock()
}

// InvalidateAll drops the whole cache
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.mu.Unlock()
}

// SaveSnapshot persists current fresh cache entries so a restart starts
// warm. No-op when the store was built without a snapshot database.
func (s *Store) SaveSnapshot(ctx context.Context) error {
	if s.snapshotDB == nil {
		return nil
	}

	s.mu.RLock()
	entries := make(map[string]cacheEntry, len(s.cache))
	for k, v := range s.cache {
		if time.Now().Before(v.expiresAt) {
			entries[k] = v
		}
	}
	s.mu.RUnlock()

	for key, entry := range entries {
		blob, err := msgpack.Marshal(entry.result)
		if err != nil {
			return fmt.Errorf("failed to marshal pattern snapshot %s: %w", key, err)
		}
		_, err = s.snapshotDB.ExecContext(ctx, `
			INSERT OR REPLACE INTO pattern_snapshots (cache_key, data, expires_at)
			VALUES (?, ?, ?)
		`, key, blob, entry.expiresAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to store pattern snapshot %s: %w", key, err)
		}
	}

	s.log.Debug().Int("entries", len(entries)).Msg("Saved pattern cache snapshot")
	return nil
}

// LoadSnapshot restores unexpired snapshot entries into the cache.
// Called once at startup; corrupt entries are skipped.
func (s *Store) LoadSnapshot(ctx context.Context) error {
	if s.snapshotDB == nil {
		return nil
	}

	rows, err := s.snapshotDB.QueryContext(ctx, `
		SELECT cache_key, data, expires_at FROM pattern_snapshots
		WHERE expires_at > ?
	`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to load pattern snapshots: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var key string
		var blob []byte
		var expiresAt int64
		if err := rows.Scan(&key, &blob, &expiresAt); err != nil {
			return fmt.Errorf("failed to scan pattern snapshot: %w", err)
		}

		var result QueryResult
		if err := msgpack.Unmarshal(blob, &result); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Skipping corrupt pattern snapshot")
			continue
		}

		s.mu.Lock()
		s.cache[key] = cacheEntry{
			result:    result,
			expiresAt: time.Unix(expiresAt, 0),
		}
		s.mu.Unlock()
		loaded++
	}

	if loaded > 0 {
		s.log.Info().Int("entries", loaded).Msg("Restored pattern cache from snapshot")
	}
	return rows.Err()
}

// PruneSnapshots deletes expired snapshot rows.
// Returns the number of rows deleted.
func (s *Store) PruneSnapshots(ctx context.Context) (int64, error) {
	if s.snapshotDB == nil {
		return 0, nil
	}
	result, err := s.snapshotDB.ExecContext(ctx,
		`DELETE FROM pattern_snapshots WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune pattern snapshots: %w", err)
	}
	return result.RowsAffected()
}

func cacheKey(platform string, lookbackDays int) string {
	return fmt.Sprintf("%s:%d", platform, lookbackDays)
}

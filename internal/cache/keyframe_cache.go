// Package cache provides an in-memory keyframe cache keyed by simulation time.
//
// Keyframes are stored under their simulation timestamp rounded down to the
// configured step. The cache keeps a window around the current simulation
// time in both directions so that reverse playback finds its trail, and is
// reset when simulation time jumps.
package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/star/timekeeper/internal/metrics"
	"github.com/star/timekeeper/internal/propagation"
)

// maxLookaround bounds how many steps GetNearest walks from the requested time.
const maxLookaround = 10

// Config holds cache configuration.
type Config struct {
	Step   time.Duration // Keyframe interval (default: 5s)
	Window time.Duration // Entries farther than this from simulation time are evicted (default: 600s)
}

// CacheEntry wraps a keyframe with generation metadata.
type CacheEntry struct {
	Keyframe    *propagation.Keyframe
	GeneratedAt time.Time
}

// KeyframeCache is an in-memory cache of keyframes keyed by simulation time.
// Safe for concurrent use by multiple goroutines.
type KeyframeCache struct {
	mu      sync.RWMutex
	entries map[time.Time]*CacheEntry

	config Config
	logger *slog.Logger

	// Counters (lock-free).
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	resets    atomic.Int64
}

// NewKeyframeCache creates a new keyframe cache.
func NewKeyframeCache(config Config, logger *slog.Logger) *KeyframeCache {
	logger = logger.With("component", "cache")
	logger.Info("cache initialized",
		"step_seconds", config.Step.Seconds(),
		"window_seconds", config.Window.Seconds(),
	)

	return &KeyframeCache{
		entries: make(map[time.Time]*CacheEntry),
		config:  config,
		logger:  logger,
	}
}

// Step returns the keyframe interval.
func (c *KeyframeCache) Step() time.Duration {
	return c.config.Step
}

// RoundToStep rounds a timestamp down to the nearest step boundary.
// This normalizes timestamps so cache lookups hit consistently.
// Always converts to UTC first: SGP4 and GMST expect UTC components.
func (c *KeyframeCache) RoundToStep(t time.Time) time.Time {
	return t.UTC().Truncate(c.config.Step)
}

// Get returns the keyframe for the given simulation time, or nil if not cached.
// The timestamp is rounded to the step boundary.
func (c *KeyframeCache) Get(t time.Time) *propagation.Keyframe {
	key := c.RoundToStep(t)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		metrics.IncCacheHits()
		return entry.Keyframe
	}

	c.misses.Add(1)
	metrics.IncCacheMisses()
	return nil
}

// Contains reports whether a keyframe is cached for t without touching the
// hit and miss counters.
func (c *KeyframeCache) Contains(t time.Time) bool {
	key := c.RoundToStep(t)

	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// GetRecent returns up to count keyframes leading up to (and including)
// simulation time t, ordered oldest-first in playback order. With reverse
// set, "leading up to" means later simulation times. Used to build orbital
// trails.
func (c *KeyframeCache) GetRecent(t time.Time, count int, reverse bool) []*propagation.Keyframe {
	if count <= 0 {
		return nil
	}

	key := c.RoundToStep(t)
	step := c.config.Step
	if reverse {
		step = -step
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*propagation.Keyframe, 0, count)
	for i := count - 1; i >= 0; i-- {
		ts := key.Add(-time.Duration(i) * step)
		if entry, ok := c.entries[ts]; ok {
			result = append(result, entry.Keyframe)
		}
	}
	return result
}

// GetNearest returns the cached keyframe closest to simulation time t,
// preferring earlier keyframes on ties. It looks at most a few steps away.
func (c *KeyframeCache) GetNearest(t time.Time) *propagation.Keyframe {
	key := c.RoundToStep(t)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := 0; i < maxLookaround; i++ {
		offset := time.Duration(i) * c.config.Step
		if entry, ok := c.entries[key.Add(-offset)]; ok {
			c.hits.Add(1)
			metrics.IncCacheHits()
			return entry.Keyframe
		}
		if entry, ok := c.entries[key.Add(offset+c.config.Step)]; ok {
			c.hits.Add(1)
			metrics.IncCacheHits()
			return entry.Keyframe
		}
	}

	c.misses.Add(1)
	metrics.IncCacheMisses()
	return nil
}

// Put stores a keyframe under its rounded simulation timestamp.
func (c *KeyframeCache) Put(kf *propagation.Keyframe) {
	if kf == nil {
		return
	}
	key := c.RoundToStep(kf.Timestamp)
	entry := &CacheEntry{
		Keyframe:    kf,
		GeneratedAt: time.Now(),
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	c.updateMetrics()
}

// EvictOutside removes entries farther than the window from simulation
// time simNow, in either direction, and returns the number removed.
func (c *KeyframeCache) EvictOutside(simNow time.Time) int {
	lo := simNow.Add(-c.config.Window)
	hi := simNow.Add(c.config.Window)
	var removed int

	c.mu.Lock()
	for ts := range c.entries {
		if ts.Before(lo) || ts.After(hi) {
			delete(c.entries, ts)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(removed)
		c.updateMetrics()
		c.logger.Debug("cache eviction", "entries_removed", removed)
	}

	return removed
}

// Reset drops every entry. Called when simulation time jumps or the
// catalog changes, so stale keyframes are never served.
func (c *KeyframeCache) Reset(reason string) {
	c.mu.Lock()
	dropped := len(c.entries)
	c.entries = make(map[time.Time]*CacheEntry)
	c.mu.Unlock()

	c.resets.Add(1)
	metrics.IncCacheResets()
	c.updateMetrics()
	c.logger.Info("cache reset", "reason", reason, "entries_dropped", dropped)
}

// Stats returns current cache statistics.
func (c *KeyframeCache) Stats() CacheStats {
	c.mu.RLock()
	count := len(c.entries)

	var oldest, newest time.Time
	for ts := range c.entries {
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		if newest.IsZero() || ts.After(newest) {
			newest = ts
		}
	}
	c.mu.RUnlock()

	return CacheStats{
		Entries:         count,
		SizeBytes:       c.estimateSizeBytes(),
		OldestTimestamp: oldest,
		NewestTimestamp: newest,
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Evictions:       c.evictions.Load(),
		Resets:          c.resets.Load(),
	}
}

// CacheStats holds cache statistics for the stats endpoint.
type CacheStats struct {
	Entries         int
	SizeBytes       int64
	OldestTimestamp time.Time
	NewestTimestamp time.Time
	Hits            int64
	Misses          int64
	Evictions       int64
	Resets          int64
}

// estimateSizeBytes returns a rough estimate of the cache memory footprint.
func (c *KeyframeCache) estimateSizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total int64
	for _, entry := range c.entries {
		if entry.Keyframe == nil {
			continue
		}
		// Per SatellitePosition: NORADID(8) + PositionECEF(24) + VelocityECEF(24) = 56 bytes.
		satSize := int64(len(entry.Keyframe.Satellites)) * int64(unsafe.Sizeof(propagation.SatellitePosition{}))
		// Keyframe overhead: Timestamp(24) + slice header(24).
		kfOverhead := int64(48)
		// CacheEntry overhead: pointer(8) + GeneratedAt(24).
		entryOverhead := int64(32)
		total += satSize + kfOverhead + entryOverhead
	}

	// Map overhead (rough: 8 bytes per bucket).
	total += int64(len(c.entries)) * 8

	return total
}

// updateMetrics publishes current cache size to Prometheus.
func (c *KeyframeCache) updateMetrics() {
	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()

	metrics.SetCacheEntries(count)
	metrics.SetCacheSizeBytes(c.estimateSizeBytes())
}

// ABOUTME: In-memory cache holding the latest aggregation result for a fixed TTL.
// ABOUTME: Entries are swapped atomically and read against an injectable clock.

package cache

import (
	"sync/atomic"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/sirupsen/logrus"
)

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// CacheEntry is an immutable aggregation result with its creation time
type CacheEntry struct {
	Payload   *types.AggregateResult
	CreatedAt time.Time
	TTL       time.Duration
}

// ExpiresAt returns the instant the entry stops being fresh
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Fresh reports whether the entry is still within its TTL at now
func (e *CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt())
}

// Age returns how long ago the entry was created, never negative
func (e *CacheEntry) Age(now time.Time) time.Duration {
	if age := now.Sub(e.CreatedAt); age > 0 {
		return age
	}
	return 0
}

// ResultCache stores at most one aggregation result
type ResultCache struct {
	entry  atomic.Pointer[CacheEntry]
	ttl    time.Duration
	clock  Clock
	logger *logrus.Logger
}

// NewResultCache creates a cache with the given TTL and clock
func NewResultCache(ttl time.Duration, clock Clock, logger *logrus.Logger) *ResultCache {
	if clock == nil {
		clock = time.Now
	}
	return &ResultCache{
		ttl:    ttl,
		clock:  clock,
		logger: logger,
	}
}

// Get returns the current entry, if any, and whether it is still fresh.
// Expired entries are still returned so callers can serve them as stale.
func (c *ResultCache) Get() (entry *CacheEntry, fresh bool) {
	entry = c.entry.Load()
	if entry == nil {
		return nil, false
	}
	fresh = entry.Fresh(c.clock())
	if fresh {
		c.logger.WithField("cycle_id", entry.Payload.CycleID).Debug("Cache hit")
	}
	return entry, fresh
}

// Set replaces the current entry with a new one created now
func (c *ResultCache) Set(payload *types.AggregateResult) *CacheEntry {
	entry := &CacheEntry{
		Payload:   payload,
		CreatedAt: c.clock(),
		TTL:       c.ttl,
	}
	c.entry.Store(entry)

	c.logger.WithFields(logrus.Fields{
		"cycle_id":   payload.CycleID,
		"records":    len(payload.Records),
		"expires_at": entry.ExpiresAt(),
	}).Debug("Cached aggregation result")
	return entry
}

// Stats reports how many entries are held and how many of them have expired
func (c *ResultCache) Stats() (total int, expired int) {
	entry := c.entry.Load()
	if entry == nil {
		return 0, 0
	}
	if !entry.Fresh(c.clock()) {
		return 1, 1
	}
	return 1, 0
}

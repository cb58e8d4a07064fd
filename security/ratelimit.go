package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimiterMaxEntries bounds the number of tracked identifiers.
	DefaultRateLimiterMaxEntries = 10000

	// DefaultRateLimiterIdleTimeout is how long an identifier may stay idle
	// before its limiter becomes eligible for pruning.
	DefaultRateLimiterIdleTimeout = 30 * time.Minute
)

// rateLimiterEntry tracks a rate limiter and its last access time
type rateLimiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier rate limiting using a token bucket with
// LRU eviction. Idle entries are pruned lazily when the limiter is full.
type RateLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*list.Element
	lruList     *list.List
	rate        rate.Limit
	burst       int
	maxEntries  int
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	totalEvictions int64
}

// NewRateLimiter creates a rate limiter with DefaultRateLimiterMaxEntries.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithConfig(requestsPerSecond, burst, DefaultRateLimiterMaxEntries, logger)
}

// NewRateLimiterWithConfig creates a rate limiter tracking at most maxEntries
// identifiers. maxEntries of 0 means unlimited.
func NewRateLimiterWithConfig(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		logger.Warn("Invalid maxEntries, using default", "maxEntries", maxEntries)
		maxEntries = DefaultRateLimiterMaxEntries
	}

	return &RateLimiter{
		limiters:    make(map[string]*list.Element),
		lruList:     list.New(),
		rate:        rate.Limit(requestsPerSecond),
		burst:       burst,
		maxEntries:  maxEntries,
		idleTimeout: DefaultRateLimiterIdleTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Allow reports whether a request from identifier may proceed.
func (rl *RateLimiter) Allow(identifier string) bool {
	if rl == nil {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	if elem, ok := rl.limiters[identifier]; ok {
		rl.lruList.MoveToFront(elem)
		entry := elem.Value.(*rateLimiterEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if rl.maxEntries > 0 && len(rl.limiters) >= rl.maxEntries {
		if rl.pruneIdle(now) == 0 {
			rl.evictLRU()
		}
	}

	entry := &rateLimiterEntry{
		identifier: identifier,
		limiter:    rate.NewLimiter(rl.rate, rl.burst),
		lastAccess: now,
	}
	rl.limiters[identifier] = rl.lruList.PushFront(entry)

	return entry.limiter.AllowN(now, 1)
}

// pruneIdle drops entries idle for longer than idleTimeout, walking from the
// least recently used end. Must be called with mu held.
func (rl *RateLimiter) pruneIdle(now time.Time) int {
	removed := 0
	for elem := rl.lruList.Back(); elem != nil; {
		entry := elem.Value.(*rateLimiterEntry)
		if now.Sub(entry.lastAccess) <= rl.idleTimeout {
			break
		}
		prev := elem.Prev()
		delete(rl.limiters, entry.identifier)
		rl.lruList.Remove(elem)
		removed++
		elem = prev
	}
	return removed
}

// evictLRU removes the least recently used entry. Must be called with mu held.
func (rl *RateLimiter) evictLRU() {
	elem := rl.lruList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*rateLimiterEntry)
	delete(rl.limiters, entry.identifier)
	rl.lruList.Remove(elem)
	rl.totalEvictions++

	rl.logger.Debug("Rate limiter LRU eviction",
		"total_evictions", rl.totalEvictions,
		"current_entries", len(rl.limiters))
}

// Stats holds rate limiter statistics for monitoring
type Stats struct {
	CurrentEntries int   // Current number of tracked identifiers
	MaxEntries     int   // Maximum allowed entries (0 = unlimited)
	TotalEvictions int64 // Total number of LRU evictions
}

// GetStats returns current rate limiter statistics.
func (rl *RateLimiter) GetStats() Stats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return Stats{
		CurrentEntries: len(rl.limiters),
		MaxEntries:     rl.maxEntries,
		TotalEvictions: rl.totalEvictions,
	}
}

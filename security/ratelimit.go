package security

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxLimiterEntries is the default number of keys a limiter tracks.
	DefaultMaxLimiterEntries = 10000

	// DefaultLimiterCleanupInterval is how often idle keys are swept.
	DefaultLimiterCleanupInterval = 5 * time.Minute

	// DefaultLimiterIdleTimeout is how long an unused key is remembered.
	DefaultLimiterIdleTimeout = 30 * time.Minute
)

// PerMinute returns a limit allowing n events per minute.
func PerMinute(n int) rate.Limit {
	if n <= 0 {
		return 0
	}
	return rate.Every(time.Minute / time.Duration(n))
}

// RateLimiter provides per-key token bucket rate limiting with LRU eviction
// to prevent unbounded memory growth. Keys are client IPs, client ids or
// usernames depending on the caller.
type RateLimiter struct {
	mu          sync.Mutex
	table       *lruTable[*rate.Limiter]
	limit       rate.Limit
	burst       int
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once

	totalCleanups int64
}

// NewRateLimiter creates a rate limiter tracking up to DefaultMaxLimiterEntries keys.
func NewRateLimiter(limit rate.Limit, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithConfig(limit, burst, DefaultMaxLimiterEntries, logger)
}

// NewRateLimiterWithConfig creates a rate limiter with a custom key capacity.
// Set maxEntries to 0 for unlimited (not recommended for production).
func NewRateLimiterWithConfig(limit rate.Limit, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		maxEntries = DefaultMaxLimiterEntries
		logger.Warn("Invalid maxEntries, using default", "maxEntries", maxEntries)
	}
	if burst <= 0 {
		burst = 1
	}

	rl := &RateLimiter{
		table:       newLRUTable[*rate.Limiter](maxEntries),
		limit:       limit,
		burst:       burst,
		idleTimeout: DefaultLimiterIdleTimeout,
		logger:      logger,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop(DefaultLimiterCleanupInterval)

	return rl
}

// Allow reports whether an event for key may happen now and consumes a token if so.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.table.get(key, now)
	if !ok {
		var evicted string
		entry, evicted = rl.table.put(key, rate.NewLimiter(rl.limit, rl.burst), now)
		if evicted != "" {
			rl.logger.Debug("Rate limiter LRU eviction",
				"evicted", evicted,
				"total_evictions", rl.table.evictions)
		}
	}
	return entry.value.AllowN(now, 1)
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(rl.idleTimeout)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup forgets keys that have not been used within maxIdleTime.
func (rl *RateLimiter) Cleanup(maxIdleTime time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if removed := rl.table.removeIdle(rl.now(), maxIdleTime); removed > 0 {
		rl.totalCleanups++
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", rl.table.len())
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Stats holds rate limiter statistics for monitoring
type Stats struct {
	CurrentEntries int     // Current number of tracked keys
	MaxEntries     int     // Maximum allowed entries (0 = unlimited)
	TotalEvictions int64   // Total number of LRU evictions
	TotalCleanups  int64   // Total number of cleanup operations that removed keys
	MemoryPressure float64 // Percentage of max capacity used (0-100)
}

// GetStats returns current rate limiter statistics.
func (rl *RateLimiter) GetStats() Stats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return Stats{
		CurrentEntries: rl.table.len(),
		MaxEntries:     rl.table.maxEntries,
		TotalEvictions: rl.table.evictions,
		TotalCleanups:  rl.totalCleanups,
		MemoryPressure: rl.table.pressure(),
	}
}

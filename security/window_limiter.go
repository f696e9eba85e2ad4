package security

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxAttemptsPerWindow is the default number of attempts a key may make per window
	DefaultMaxAttemptsPerWindow = 10

	// DefaultAttemptWindow is the default sliding window
	DefaultAttemptWindow = 15 * time.Minute
)

// WindowLimiter allows at most maxPerWindow attempts per key within a sliding
// window. Unlike RateLimiter it never refills early, which suits endpoints
// that accept guessable secrets such as one-time login tokens.
type WindowLimiter struct {
	mu           sync.Mutex
	table        *lruTable[[]time.Time]
	maxPerWindow int
	window       time.Duration
	logger       *slog.Logger
	now          func() time.Time
	stopCleanup  chan struct{}
	stopOnce     sync.Once

	totalBlocked int64
	totalAllowed int64
}

// NewWindowLimiter creates a sliding-window limiter. Non-positive values
// fall back to the defaults.
func NewWindowLimiter(maxPerWindow int, window time.Duration, logger *slog.Logger) *WindowLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPerWindow <= 0 {
		maxPerWindow = DefaultMaxAttemptsPerWindow
	}
	if window <= 0 {
		window = DefaultAttemptWindow
	}

	wl := &WindowLimiter{
		table:        newLRUTable[[]time.Time](DefaultMaxLimiterEntries),
		maxPerWindow: maxPerWindow,
		window:       window,
		logger:       logger,
		now:          time.Now,
		stopCleanup:  make(chan struct{}),
	}

	go wl.cleanupLoop(DefaultLimiterCleanupInterval)

	return wl
}

// Allow records an attempt for key and reports whether it is within the limit.
// Rejected attempts are not recorded.
func (wl *WindowLimiter) Allow(key string) bool {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	now := wl.now()
	windowStart := now.Add(-wl.window)

	entry, ok := wl.table.get(key, now)
	if !ok {
		entry, _ = wl.table.put(key, nil, now)
	}

	// Drop attempts that left the window (in-place filtering).
	n := 0
	for _, t := range entry.value {
		if t.After(windowStart) {
			entry.value[n] = t
			n++
		}
	}
	entry.value = entry.value[:n]

	if len(entry.value) >= wl.maxPerWindow {
		wl.totalBlocked++
		wl.logger.Warn("Attempt limit exceeded",
			"key", key,
			"attempts_in_window", len(entry.value),
			"max_per_window", wl.maxPerWindow,
			"window", wl.window)
		return false
	}

	entry.value = append(entry.value, now)
	wl.totalAllowed++
	return true
}

func (wl *WindowLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wl.Cleanup()
		case <-wl.stopCleanup:
			return
		}
	}
}

// Cleanup forgets keys idle for longer than twice the window.
func (wl *WindowLimiter) Cleanup() {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	if removed := wl.table.removeIdle(wl.now(), 2*wl.window); removed > 0 {
		wl.logger.Debug("Window limiter cleanup completed",
			"removed", removed,
			"remaining", wl.table.len())
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (wl *WindowLimiter) Stop() {
	wl.stopOnce.Do(func() { close(wl.stopCleanup) })
}

// WindowStats holds window limiter statistics for monitoring
type WindowStats struct {
	CurrentEntries int
	TotalBlocked   int64
	TotalAllowed   int64
	TotalEvictions int64
	MaxPerWindow   int
	Window         time.Duration
}

// GetStats returns current limiter statistics.
func (wl *WindowLimiter) GetStats() WindowStats {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	return WindowStats{
		CurrentEntries: wl.table.len(),
		TotalBlocked:   wl.totalBlocked,
		TotalAllowed:   wl.totalAllowed,
		TotalEvictions: wl.table.evictions,
		MaxPerWindow:   wl.maxPerWindow,
		Window:         wl.window,
	}
}

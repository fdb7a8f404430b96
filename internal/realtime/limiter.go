package realtime

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultAttemptWindow = 60 * time.Second
	DefaultMaxAttempts   = 10
)

type attemptWindow struct {
	count       int
	windowStart time.Time
}

// AttemptLimiter bounds connection attempts per client address using a fixed
// window: the counter resets one window after the first attempt in it, not on
// a sliding basis. Entries idle past the window are pruned so the map does
// not grow without bound.
type AttemptLimiter struct {
	mu      sync.Mutex
	entries map[string]*attemptWindow
	window  time.Duration
	max     int
	now     func() time.Time
}

func NewAttemptLimiter(window time.Duration, maxAttempts int) *AttemptLimiter {
	if window <= 0 {
		window = DefaultAttemptWindow
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &AttemptLimiter{
		entries: make(map[string]*attemptWindow),
		window:  window,
		max:     maxAttempts,
		now:     time.Now,
	}
}

// Allow records a connection attempt from addr and reports whether it is
// within the window budget.
func (l *AttemptLimiter) Allow(addr string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[addr]
	if !ok || now.Sub(entry.windowStart) >= l.window {
		l.entries[addr] = &attemptWindow{count: 1, windowStart: now}
		return true
	}

	entry.count++
	return entry.count <= l.max
}

// Prune removes entries whose window has fully elapsed. Returns how many
// were removed.
func (l *AttemptLimiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for addr, entry := range l.entries {
		if now.Sub(entry.windowStart) >= l.window {
			delete(l.entries, addr)
			removed++
		}
	}
	return removed
}

// PruneLoop prunes stale entries on the interval until context cancellation,
// keeping the map bounded independent of request traffic.
func (l *AttemptLimiter) PruneLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

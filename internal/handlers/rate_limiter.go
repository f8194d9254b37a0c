package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts requests per key inside a fixed window. Expired
// windows are swept opportunistically whenever a new window opens, keeping
// the map bounded without a background goroutine.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]windowState
}

type windowState struct {
	hits      int
	expiresAt time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]windowState),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.windows[key]
	if !ok || now.After(state.expiresAt) {
		l.sweepLocked(now)
		l.windows[key] = windowState{hits: 1, expiresAt: now.Add(l.window)}
		return true
	}
	if state.hits >= l.limit {
		return false
	}
	state.hits++
	l.windows[key] = state
	return true
}

func (l *fixedWindowLimiter) sweepLocked(now time.Time) {
	for key, state := range l.windows {
		if now.After(state.expiresAt) {
			delete(l.windows, key)
		}
	}
}

// Package ratelimit implements the per-client admission quota. A fixed
// window per identity caps how many gated requests (mutations and listings)
// pass within the configured interval; the quota metadata is surfaced to
// clients as X-RateLimit-* headers on every response.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned by Allow when the identity has exhausted its
// quota for the current window.
var ErrRateLimited = errors.New("rate limit exceeded")

// purgeInterval is the number of charges between opportunistic sweeps of
// expired windows, keeping the identity map bounded without a janitor
// goroutine.
const purgeInterval = 256

// Result carries the quota metadata for one identity at one point in time.
type Result struct {
	// Limit is the per-window request ceiling.
	Limit int

	// Remaining is how many requests the identity may still make in the
	// current window.
	Remaining int

	// Reset is when the current window ends and the quota refills.
	Reset time.Time
}

// window tracks one identity's consumption within its current fixed window.
type window struct {
	count int
	start time.Time
}

// FixedWindowLimiter counts requests per identity over fixed windows. The
// first charge after a window elapses opens a fresh one. Counting is exact
// under concurrency: the mutex serializes charges, so the ceiling can never
// be overshot.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*window
	charges int

	// now is the clock, overridable in tests.
	now func() time.Time
}

// NewFixedWindowLimiter creates a limiter allowing limit requests per
// identity within each window of the given length.
func NewFixedWindowLimiter(limit int, windowLen time.Duration) *FixedWindowLimiter {
	// ALLOW-PANIC: Constructor enforcing required dependency
	if limit <= 0 {
		panic("ratelimit: limit must be positive")
	}
	// ALLOW-PANIC: Constructor enforcing required dependency
	if windowLen <= 0 {
		panic("ratelimit: window must be positive")
	}

	return &FixedWindowLimiter{
		limit:   limit,
		window:  windowLen,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow charges one request against the identity's quota. When the quota is
// exhausted it returns ErrRateLimited together with a Result whose Remaining
// is zero, so the boundary can still emit accurate headers on the rejection.
func (l *FixedWindowLimiter) Allow(identity string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	l.charges++
	if l.charges%purgeInterval == 0 {
		l.purgeLocked(now)
	}

	w, ok := l.windows[identity]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.windows[identity] = w
	}

	reset := w.start.Add(l.window)
	if w.count >= l.limit {
		return Result{Limit: l.limit, Remaining: 0, Reset: reset}, ErrRateLimited
	}

	w.count++
	return Result{Limit: l.limit, Remaining: l.limit - w.count, Reset: reset}, nil
}

// Snapshot reports the identity's quota without consuming any of it. An
// identity with no live window has the full quota ahead of it.
func (l *FixedWindowLimiter) Snapshot(identity string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[identity]
	if !ok || now.Sub(w.start) >= l.window {
		return Result{Limit: l.limit, Remaining: l.limit, Reset: now.Add(l.window)}
	}

	remaining := l.limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Limit: l.limit, Remaining: remaining, Reset: w.start.Add(l.window)}
}

// purgeLocked drops windows that have already elapsed. Caller holds the
// mutex.
func (l *FixedWindowLimiter) purgeLocked(now time.Time) {
	for identity, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, identity)
		}
	}
}

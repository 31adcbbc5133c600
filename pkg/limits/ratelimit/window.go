// Package ratelimit implements per-key request rate limiting over a
// trailing time window.
//
// Each key accumulates request timestamps; a request is allowed when the
// number of timestamps inside the trailing window is below the key's
// effective limit. Entries age out of the window naturally and empty
// per-key windows are swept periodically to bound long-run memory growth.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// Window is the trailing interval over which requests are counted.
	Window = 60 * time.Second

	// SweepInterval is the minimum spacing between full sweeps of empty
	// per-key windows. Sweeps run opportunistically during Allow calls.
	SweepInterval = 5 * time.Minute
)

// WindowLimiter tracks request timestamps per key over a trailing window.
// It is safe for concurrent use.
type WindowLimiter struct {
	mu        sync.Mutex
	windows   map[string][]time.Time
	lastSweep time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewWindowLimiter creates an empty limiter.
func NewWindowLimiter() *WindowLimiter {
	return &WindowLimiter{
		windows:   make(map[string][]time.Time),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow reports whether key may make another request under limit
// requests per window, recording the request timestamp when it may.
//
// Timestamps older than the window are pruned before counting, so entries
// outside the trailing 60 seconds are never held against the key.
func (l *WindowLimiter) Allow(key string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeSweepLocked(now)

	recent := pruneBefore(l.windows[key], now.Add(-Window))

	if len(recent) >= limit {
		l.windows[key] = recent
		return false
	}

	l.windows[key] = append(recent, now)
	return true
}

// Count returns the number of requests key has made inside the current
// window. It does not record a request.
func (l *WindowLimiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(pruneBefore(l.windows[key], l.now().Add(-Window)))
}

// Retain drops window state for every key not present in keep. Called on
// key table reloads so history survives for keys that still exist.
func (l *WindowLimiter) Retain(keep map[string]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.windows {
		if _, ok := keep[key]; !ok {
			delete(l.windows, key)
		}
	}
}

// Backdate shifts every recorded timestamp for key into the past by d.
// It exists for tests that need to age a window without sleeping.
func (l *WindowLimiter) Backdate(key string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.windows[key]
	for i := range ts {
		ts[i] = ts[i].Add(-d)
	}
}

// maybeSweepLocked removes per-key entries whose windows are empty, at most
// once per SweepInterval. Caller must hold the lock.
func (l *WindowLimiter) maybeSweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < SweepInterval {
		return
	}
	l.lastSweep = now

	cutoff := now.Add(-Window)
	for key, ts := range l.windows {
		recent := pruneBefore(ts, cutoff)
		if len(recent) == 0 {
			delete(l.windows, key)
		} else {
			l.windows[key] = recent
		}
	}
}

// pruneBefore returns the timestamps at or after cutoff.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	// Timestamps are appended in order, so find the first survivor.
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}

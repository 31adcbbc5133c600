package ratelimit

import (
	"testing"
	"time"
)

func TestWindowLimiterBasic(t *testing.T) {
	l := NewWindowLimiter()

	for i := 0; i < 5; i++ {
		if !l.Allow("alice", 5) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("alice", 5) {
		t.Error("request 6 should exceed limit 5")
	}
	if got := l.Count("alice"); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}

	// Other keys are unaffected.
	if !l.Allow("bob", 5) {
		t.Error("bob should have a fresh window")
	}
}

func TestWindowLimiterAging(t *testing.T) {
	l := NewWindowLimiter()

	for i := 0; i < 3; i++ {
		l.Allow("key", 3)
	}
	if l.Allow("key", 3) {
		t.Fatal("limit should be hit")
	}

	// Age the window past 60s; the next request fits again.
	l.Backdate("key", Window+time.Second)

	if !l.Allow("key", 3) {
		t.Error("request should be allowed after window entries age out")
	}
	if got := l.Count("key"); got != 1 {
		t.Errorf("Count after aging = %d, want 1", got)
	}
}

func TestWindowLimiterRejectionDoesNotRecord(t *testing.T) {
	l := NewWindowLimiter()

	l.Allow("key", 1)
	for i := 0; i < 10; i++ {
		l.Allow("key", 1) // all rejected
	}
	if got := l.Count("key"); got != 1 {
		t.Errorf("rejected requests must not be recorded, Count = %d", got)
	}
}

func TestWindowLimiterRetain(t *testing.T) {
	l := NewWindowLimiter()

	l.Allow("keep", 10)
	l.Allow("drop", 10)

	l.Retain(map[string]struct{}{"keep": {}})

	if got := l.Count("keep"); got != 1 {
		t.Errorf("retained key lost history, Count = %d", got)
	}
	l.mu.Lock()
	_, exists := l.windows["drop"]
	l.mu.Unlock()
	if exists {
		t.Error("dropped key should have no window state")
	}
}

func TestWindowLimiterSweep(t *testing.T) {
	l := NewWindowLimiter()

	base := time.Now()
	now := base
	l.now = func() time.Time { return now }
	l.lastSweep = base

	l.Allow("stale", 10)
	l.Allow("fresh", 10)

	// Move past the sweep interval; stale's entries are now outside the
	// window, fresh gets a new entry at the current time.
	now = base.Add(SweepInterval + time.Second)
	l.Allow("fresh", 10)

	l.mu.Lock()
	_, staleExists := l.windows["stale"]
	_, freshExists := l.windows["fresh"]
	l.mu.Unlock()

	if staleExists {
		t.Error("stale empty window should be swept")
	}
	if !freshExists {
		t.Error("fresh window must survive the sweep")
	}
}

func TestWindowLimiterConcurrent(t *testing.T) {
	l := NewWindowLimiter()

	done := make(chan int)
	for g := 0; g < 8; g++ {
		go func() {
			allowed := 0
			for i := 0; i < 100; i++ {
				if l.Allow("shared", 200) {
					allowed++
				}
			}
			done <- allowed
		}()
	}

	total := 0
	for g := 0; g < 8; g++ {
		total += <-done
	}
	if total != 200 {
		t.Errorf("allowed %d requests, want exactly 200", total)
	}
}

// Package limits implements the concurrency gate that provides
// backpressure toward the inference backend.
//
// The gate combines a semaphore sized to the number of proxy calls allowed
// to execute simultaneously with an explicit queue-depth counter. When the
// queue is bounded and full, new admissions are rejected immediately so the
// caller can answer 503 instead of accumulating unbounded waiters.
package limits

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrQueueFull is returned by Admit when the wait queue is at capacity.
var ErrQueueFull = errors.New("admission queue full")

// Gate admits proxy calls up to a fixed concurrency, queueing excess
// admissions up to an optional bound.
//
// Waiters block on a channel-based semaphore. The Go runtime wakes channel
// waiters in the order they blocked, so admission is FIFO in practice,
// though the language spec does not promise it.
type Gate struct {
	sem      chan struct{}
	capacity int
	maxQueue int

	depth          atomic.Int64
	rejections     atomic.Int64
	waitSecondsSum atomic.Int64 // microseconds, converted on read
}

// NewGate creates a gate with the given concurrency capacity and queue
// bound. maxQueue of 0 means the queue is unbounded.
func NewGate(capacity, maxQueue int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		sem:      make(chan struct{}, capacity),
		capacity: capacity,
		maxQueue: maxQueue,
	}
}

// Admit blocks until a concurrency slot is available, then returns a
// release function that must be called exactly once when the proxy call
// completes, whether it succeeded, failed, or was cancelled.
//
// When the queue is bounded and already full, Admit returns ErrQueueFull
// without touching the semaphore. When ctx is done before a slot frees,
// Admit returns ctx.Err().
func (g *Gate) Admit(ctx context.Context) (release func(), err error) {
	if g.maxQueue > 0 && g.depth.Load() >= int64(g.maxQueue) {
		g.rejections.Add(1)
		return nil, ErrQueueFull
	}

	g.depth.Add(1)
	start := time.Now()

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		g.depth.Add(-1)
		return nil, ctx.Err()
	}

	g.waitSecondsSum.Add(time.Since(start).Microseconds())
	g.depth.Add(-1)

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			<-g.sem
		}
	}, nil
}

// Capacity returns the configured concurrency capacity.
func (g *Gate) Capacity() int {
	return g.capacity
}

// Active returns the number of slots currently held.
func (g *Gate) Active() int {
	return len(g.sem)
}

// Depth returns the number of admissions currently waiting for a slot.
func (g *Gate) Depth() int64 {
	return g.depth.Load()
}

// Rejections returns the number of admissions rejected because the queue
// was full.
func (g *Gate) Rejections() int64 {
	return g.rejections.Load()
}

// WaitSeconds returns the total time admissions have spent waiting for a
// slot, in seconds.
func (g *Gate) WaitSeconds() float64 {
	return float64(g.waitSecondsSum.Load()) / 1e6
}

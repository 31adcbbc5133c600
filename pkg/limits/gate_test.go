package limits

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateAdmitRelease(t *testing.T) {
	g := NewGate(2, 0)

	r1, err := g.Admit(context.Background())
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	r2, err := g.Admit(context.Background())
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	if g.Active() != 2 {
		t.Errorf("Active = %d, want 2", g.Active())
	}

	r1()
	r2()
	if g.Active() != 0 {
		t.Errorf("Active after release = %d, want 0", g.Active())
	}
}

func TestGateReleaseIdempotent(t *testing.T) {
	g := NewGate(1, 0)

	release, err := g.Admit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	release()
	release() // second call must be a no-op, not an underflow

	if g.Active() != 0 {
		t.Errorf("Active = %d, want 0", g.Active())
	}
}

func TestGateQueueFull(t *testing.T) {
	g := NewGate(1, 1)

	// Occupy the slot.
	release, err := g.Admit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	// Second admission waits in the queue.
	waiting := make(chan struct{})
	admitted := make(chan struct{})
	go func() {
		close(waiting)
		r, err := g.Admit(context.Background())
		if err == nil {
			r()
		}
		close(admitted)
	}()
	<-waiting
	// Give the waiter time to register in the depth counter.
	for i := 0; i < 100 && g.Depth() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	if g.Depth() != 1 {
		t.Fatalf("Depth = %d, want 1", g.Depth())
	}

	// Third admission: slot occupied, queue full, immediate rejection.
	if _, err := g.Admit(context.Background()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if g.Rejections() != 1 {
		t.Errorf("Rejections = %d, want 1", g.Rejections())
	}

	release()
	<-admitted
}

func TestGateNeverExceedsCapacity(t *testing.T) {
	g := NewGate(1, 0)

	var active, maxActive atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Admit(context.Background())
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			defer release()

			cur := active.Add(1)
			for {
				m := maxActive.Load()
				if cur <= m || maxActive.CompareAndSwap(m, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if maxActive.Load() > 1 {
		t.Errorf("observed %d simultaneous admissions with capacity 1", maxActive.Load())
	}
	if g.WaitSeconds() <= 0 {
		t.Error("waiters should have accumulated wait time")
	}
}

func TestGateContextCancellation(t *testing.T) {
	g := NewGate(1, 0)

	release, err := g.Admit(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := g.Admit(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if g.Depth() != 0 {
		t.Errorf("Depth after cancelled wait = %d, want 0", g.Depth())
	}

	release()
}

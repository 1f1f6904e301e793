package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGate_AcquireRelease(t *testing.T) {
	gate := NewGate(2)
	ctx := context.Background()

	if gate.Available() != 2 {
		t.Errorf("got available=%d, want 2", gate.Available())
	}

	if err := gate.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if !gate.TryAcquire() {
		t.Error("second acquire should succeed")
	}
	if gate.Available() != 0 {
		t.Errorf("got available=%d, want 0", gate.Available())
	}

	if gate.TryAcquire() {
		t.Error("third acquire should fail when gate exhausted")
	}

	gate.Release()
	if gate.InUse() != 1 {
		t.Errorf("got inUse=%d, want 1", gate.InUse())
	}
}

func TestGate_MinimumCapacity(t *testing.T) {
	if got := NewGate(0).Capacity(); got != 1 {
		t.Errorf("got capacity=%d, want 1", got)
	}
}

func TestGate_AcquireBlocksUntilRelease(t *testing.T) {
	gate := NewGate(1)
	gate.TryAcquire()

	acquired := make(chan struct{})
	go func() {
		if err := gate.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while gate is full")
	case <-time.After(50 * time.Millisecond):
	}

	gate.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestGate_AcquireContextCancel(t *testing.T) {
	gate := NewGate(1)
	gate.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := gate.Acquire(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if gate.InUse() != 1 {
		t.Errorf("failed acquire changed inUse to %d", gate.InUse())
	}
}

func TestGate_NeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	gate := NewGate(capacity)

	var current, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gate.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&current, -1)
			gate.Release()
		}()
	}
	wg.Wait()

	if peak > capacity {
		t.Errorf("peak concurrency %d exceeded capacity %d", peak, capacity)
	}
	if gate.InUse() != 0 {
		t.Errorf("got inUse=%d after all releases, want 0", gate.InUse())
	}
}

func TestGate_OnSlotsChanged(t *testing.T) {
	gate := NewGate(3)

	var mu sync.Mutex
	notifications := []int{}
	gate.SetOnSlotsChanged(func(inUse int) {
		mu.Lock()
		notifications = append(notifications, inUse)
		mu.Unlock()
	})

	gate.TryAcquire()
	gate.TryAcquire()
	gate.Release()

	mu.Lock()
	got := notifications
	mu.Unlock()

	want := []int{1, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("got %d notifications, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification[%d]: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestGate_FailedTryAcquireNoCallback(t *testing.T) {
	gate := NewGate(1)

	callCount := 0
	gate.SetOnSlotsChanged(func(int) { callCount++ })

	gate.TryAcquire()
	gate.TryAcquire()
	if callCount != 1 {
		t.Errorf("failed acquire triggered callback: got %d callbacks, want 1", callCount)
	}
}

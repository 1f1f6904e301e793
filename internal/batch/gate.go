package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many workflow invocations of one task run at once. A
// permit is held for an item's whole retry sequence.
type Gate struct {
	capacity       int
	sem            *semaphore.Weighted
	inUse          int
	mu             sync.Mutex
	onSlotsChanged func(inUse int) // Callback when permits change
}

// NewGate creates a gate with the given capacity (minimum 1)
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// SetOnSlotsChanged sets a callback invoked with the number of held permits
// whenever it changes
func (g *Gate) SetOnSlotsChanged(callback func(inUse int)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onSlotsChanged = callback
}

// Acquire blocks until a permit is free or ctx is done
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.changed(1)
	return nil
}

// TryAcquire claims a permit without blocking. Returns true if successful.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.changed(1)
	return true
}

// Release returns a permit
func (g *Gate) Release() {
	g.changed(-1)
	g.sem.Release(1)
}

func (g *Gate) changed(delta int) {
	g.mu.Lock()
	g.inUse += delta
	callback := g.onSlotsChanged
	inUse := g.inUse
	g.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(inUse)
	}
}

// InUse returns the number of held permits
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// Available returns the number of free permits
func (g *Gate) Available() int {
	return g.capacity - g.InUse()
}

// Capacity returns the gate size
func (g *Gate) Capacity() int {
	return g.capacity
}

package batch

import (
	"sync"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

// Progress fans out task snapshots after every registry update. Counts are
// never tracked here; subscribers receive the registry record itself.
type Progress struct {
	mu          sync.RWMutex
	subscribers map[chan domain.BatchTask]struct{}
	listeners   []func(domain.BatchTask)
}

// NewProgress creates an empty fan-out
func NewProgress() *Progress {
	return &Progress{subscribers: make(map[chan domain.BatchTask]struct{})}
}

// OnUpdate registers a synchronous listener. Listeners run on the
// orchestrator's goroutine and must not block.
func (p *Progress) OnUpdate(fn func(domain.BatchTask)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Subscribe returns a buffered channel of snapshots and a cancel func. Slow
// subscribers miss intermediate snapshots rather than stalling the run.
func (p *Progress) Subscribe() (<-chan domain.BatchTask, func()) {
	ch := make(chan domain.BatchTask, 64)
	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, ch)
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers a snapshot to all listeners and subscribers
func (p *Progress) Publish(task domain.BatchTask) {
	if p == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, fn := range p.listeners {
		fn(task)
	}
	for ch := range p.subscribers {
		select {
		case ch <- task:
		default:
		}
	}
}

// Package registry holds the canonical BatchTask records. All mutation is
// whole-record replacement under the registry lock, so readers always get a
// consistent snapshot.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

// Registry tracks batch tasks by id
type Registry struct {
	tasks map[string]domain.BatchTask
	order map[string]int
	seq   int
	mu    sync.RWMutex
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		tasks: make(map[string]domain.BatchTask),
		order: make(map[string]int),
	}
}

// Create adds a pending task. An empty id gets a generated one.
func (r *Registry) Create(id string, items []domain.WorkItem) (domain.BatchTask, error) {
	task := domain.NewBatchTask(id, items)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.ID]; exists {
		return domain.BatchTask{}, fmt.Errorf("%w: %s", domain.ErrDuplicateTask, task.ID)
	}
	r.put(task)
	return task, nil
}

// Restore inserts a previously persisted task. Tasks that were still active
// when their process died are marked stopped since nothing drives them now.
func (r *Registry) Restore(task domain.BatchTask) error {
	if task.Status.IsActive() {
		task = task.WithStatus(domain.StatusStopped, time.Now())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateTask, task.ID)
	}
	r.put(task)
	return nil
}

// put must be called with mu held
func (r *Registry) put(task domain.BatchTask) {
	if _, ok := r.order[task.ID]; !ok {
		r.seq++
		r.order[task.ID] = r.seq
	}
	r.tasks[task.ID] = task
}

// Get returns a task snapshot by id
func (r *Registry) Get(id string) (domain.BatchTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	return task, ok
}

// List returns snapshots of all tasks in creation order
func (r *Registry) List() []domain.BatchTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.BatchTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return r.order[result[i].ID] < r.order[result[j].ID]
	})
	return result
}

// Count returns the number of tasks
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Replace swaps the whole record for id
func (r *Registry) Replace(id string, next domain.BatchTask) error {
	if next.ID != id {
		return fmt.Errorf("replace %s: record has id %s", id, next.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	r.tasks[id] = next
	return nil
}

// Update applies fn to the current record and stores its result atomically.
// fn runs under the write lock and must not call back into the registry. If
// fn returns an error the record is left untouched.
func (r *Registry) Update(id string, fn func(domain.BatchTask) (domain.BatchTask, error)) (domain.BatchTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tasks[id]
	if !ok {
		return domain.BatchTask{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	if next.ID != id {
		return current, fmt.Errorf("update %s: record has id %s", id, next.ID)
	}
	if err := next.CheckInvariants(); err != nil {
		return current, err
	}
	r.tasks[id] = next
	return next, nil
}

// Delete removes a task unless it is running or paused
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if task.Status.IsActive() {
		return fmt.Errorf("%w: %s is %s", domain.ErrTaskBusy, id, task.Status)
	}
	delete(r.tasks, id)
	delete(r.order, id)
	return nil
}

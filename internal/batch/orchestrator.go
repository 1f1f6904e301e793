// Package batch drives batch tasks: bounded admission of work items, retry
// of failed attempts, pause/resume/stop and progress persistence.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
	"github.com/hochfrequenz/signup-orchestrator/internal/metrics"
	"github.com/hochfrequenz/signup-orchestrator/internal/registry"
)

// Sink persists task snapshots
type Sink interface {
	SaveSnapshot(ctx context.Context, task domain.BatchTask) error
}

// SnapshotDeleter is implemented by sinks that can drop a task's snapshot
type SnapshotDeleter interface {
	DeleteSnapshot(ctx context.Context, id string) error
}

// Options configures an Orchestrator
type Options struct {
	Registry     *registry.Registry
	Runner       Runner
	Sink         Sink // optional
	Logger       logr.Logger
	Metrics      *metrics.Recorder // optional
	Progress     *Progress         // optional
	Concurrency  int
	Retry        RetryPolicy
	PollInterval time.Duration
}

// Orchestrator runs batch tasks held in a registry. Each running task gets
// its own Gate and PauseController; tasks share nothing but the registry.
type Orchestrator struct {
	registry     *registry.Registry
	runner       Runner
	sink         Sink
	logger       logr.Logger
	metrics      *metrics.Recorder
	progress     *Progress
	concurrency  int
	retry        RetryPolicy
	pollInterval time.Duration

	mu   sync.Mutex
	runs map[string]*run
}

// run is the live control state of one started task
type run struct {
	id      string
	gate    *Gate
	control *PauseController
	done    chan struct{}

	persistMu sync.Mutex

	mu      sync.Mutex
	failure error
}

func (r *run) escalate(err error) {
	r.mu.Lock()
	if r.failure == nil {
		r.failure = err
	}
	r.mu.Unlock()
	r.control.RequestStop()
}

func (r *run) failed() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// New creates an orchestrator
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if err := opts.Retry.Validate(); err != nil {
		return nil, err
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Progress == nil {
		opts.Progress = NewProgress()
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}

	return &Orchestrator{
		registry:     opts.Registry,
		runner:       opts.Runner,
		sink:         opts.Sink,
		logger:       opts.Logger.WithName("orchestrator"),
		metrics:      opts.Metrics,
		progress:     opts.Progress,
		concurrency:  opts.Concurrency,
		retry:        opts.Retry,
		pollInterval: opts.PollInterval,
		runs:         make(map[string]*run),
	}, nil
}

// Progress returns the snapshot fan-out
func (o *Orchestrator) Progress() *Progress {
	return o.progress
}

// Create registers a pending task and persists its first snapshot
func (o *Orchestrator) Create(ctx context.Context, id string, items []domain.WorkItem) (domain.BatchTask, error) {
	task, err := o.registry.Create(id, items)
	if err != nil {
		return domain.BatchTask{}, err
	}
	o.logger.Info("Created batch task", "task", task.ID, "items", len(task.Items))
	o.progress.Publish(task)
	if o.sink != nil {
		if err := o.sink.SaveSnapshot(ctx, task); err != nil {
			o.logger.Error(err, "Failed to persist new task", "task", task.ID)
		}
	}
	return task, nil
}

// StartOption customizes a single Start call
type StartOption func(*startConfig)

type startConfig struct {
	concurrency int
}

// WithConcurrency overrides the gate capacity for one task
func WithConcurrency(n int) StartOption {
	return func(c *startConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Start moves a pending task to running and begins admitting its items in
// the background. ctx bounds the whole run: cancelling it aborts in-flight
// attempts, unlike Stop.
func (o *Orchestrator) Start(ctx context.Context, id string, opts ...StartOption) error {
	cfg := startConfig{concurrency: o.concurrency}
	for _, opt := range opts {
		opt(&cfg)
	}

	o.mu.Lock()
	if _, busy := o.runs[id]; busy {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s is already running", domain.ErrInvalidTransition, id)
	}
	task, err := o.registry.Update(id, func(t domain.BatchTask) (domain.BatchTask, error) {
		if t.Status != domain.StatusPending {
			return t, fmt.Errorf("%w: cannot start %s task %s", domain.ErrInvalidTransition, t.Status, id)
		}
		return t.WithStatus(domain.StatusRunning, time.Now()), nil
	})
	if err != nil {
		o.mu.Unlock()
		return err
	}

	r := &run{
		id:      id,
		gate:    NewGate(cfg.concurrency),
		control: NewPauseController(),
		done:    make(chan struct{}),
	}
	r.gate.SetOnSlotsChanged(func(inUse int) { o.metrics.SetInflight(id, inUse) })
	o.runs[id] = r
	o.mu.Unlock()

	o.logger.Info("Started batch task", "task", id, "items", len(task.Items), "concurrency", r.gate.Capacity())
	o.metrics.RecordTransition(domain.StatusRunning)
	o.commit(ctx, r)

	go o.execute(ctx, r, task.Items)
	return nil
}

// Pause stops admitting new items. Items already admitted keep running.
func (o *Orchestrator) Pause(ctx context.Context, id string) error {
	return o.transition(ctx, id, domain.StatusPaused, func(t domain.BatchTask, r *run) error {
		if t.Status != domain.StatusRunning || r == nil || !r.control.Pause() {
			return fmt.Errorf("%w: cannot pause %s task %s", domain.ErrInvalidTransition, t.Status, id)
		}
		return nil
	})
}

// Resume continues admitting the remaining items of a paused task
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	return o.transition(ctx, id, domain.StatusRunning, func(t domain.BatchTask, r *run) error {
		if t.Status != domain.StatusPaused || r == nil || !r.control.Resume() {
			return fmt.Errorf("%w: cannot resume %s task %s", domain.ErrInvalidTransition, t.Status, id)
		}
		return nil
	})
}

// Stop ends admission for good. In-flight items finish on their own and
// their outcomes are still recorded.
func (o *Orchestrator) Stop(ctx context.Context, id string) error {
	return o.transition(ctx, id, domain.StatusStopped, func(t domain.BatchTask, r *run) error {
		if !t.Status.IsActive() || r == nil || !r.control.RequestStop() {
			return fmt.Errorf("%w: cannot stop %s task %s", domain.ErrInvalidTransition, t.Status, id)
		}
		return nil
	})
}

// transition flips the registry status and the run's controller under the
// registry lock so the two never disagree
func (o *Orchestrator) transition(ctx context.Context, id string, to domain.TaskStatus, check func(domain.BatchTask, *run) error) error {
	r := o.lookup(id)
	_, err := o.registry.Update(id, func(t domain.BatchTask) (domain.BatchTask, error) {
		if err := check(t, r); err != nil {
			return t, err
		}
		return t.WithStatus(to, time.Now()), nil
	})
	if err != nil {
		return err
	}

	o.logger.Info("Batch task transition", "task", id, "status", to)
	o.metrics.RecordTransition(to)
	o.commit(ctx, r)
	return nil
}

func (o *Orchestrator) lookup(id string) *run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[id]
}

// execute is the admission loop of one task
func (o *Orchestrator) execute(ctx context.Context, r *run, items []domain.WorkItem) {
	logger := o.logger.WithValues("task", r.id)
	ctx = logr.NewContext(ctx, logger)

	results := make(chan domain.Outcome)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for out := range results {
			o.record(ctx, r, out)
		}
	}()

	var wg sync.WaitGroup
	admitted := 0
	for _, item := range items {
		if !o.admit(ctx, r) {
			break
		}
		admitted++
		wg.Add(1)
		go func(item domain.WorkItem) {
			defer wg.Done()
			out := o.retry.Run(ctx, item, o.runner, func(attempt int) {
				o.metrics.RecordAttempt(r.id)
				logger.V(1).Info("Attempt started", "identity", item.Identity, "attempt", attempt)
			})
			r.gate.Release()
			results <- out
		}(item)
	}
	if admitted < len(items) {
		logger.Info("Admission ended early", "admitted", admitted, "items", len(items))
	}

	wg.Wait()
	close(results)
	<-collected

	o.finish(ctx, r)

	o.mu.Lock()
	delete(o.runs, r.id)
	o.mu.Unlock()
	close(r.done)
}

// admit blocks until the next item may start. It holds a gate permit when it
// returns true.
func (o *Orchestrator) admit(ctx context.Context, r *run) bool {
	for {
		if !r.control.AwaitRunnable(ctx, o.pollInterval) {
			return false
		}
		if err := r.gate.Acquire(ctx); err != nil {
			return false
		}
		// the flag may have changed while waiting for a permit
		switch r.control.State() {
		case ControlRunning:
			return true
		case ControlStopRequested:
			r.gate.Release()
			return false
		default:
			r.gate.Release()
		}
	}
}

// record appends one outcome; it runs only on the collector goroutine
func (o *Orchestrator) record(ctx context.Context, r *run, out domain.Outcome) {
	task, err := o.registry.Update(r.id, func(t domain.BatchTask) (domain.BatchTask, error) {
		return t.WithOutcome(out), nil
	})
	if err != nil {
		o.logger.Error(err, "Failed to record outcome", "task", r.id, "identity", out.Identity)
		r.escalate(err)
		return
	}

	o.metrics.RecordOutcome(r.id, out)
	if out.Succeeded() {
		o.logger.Info("Item completed", "task", r.id, "identity", out.Identity,
			"attempts", out.Attempts, "progress", fmt.Sprintf("%d/%d", task.Finished(), len(task.Items)))
	} else {
		o.logger.Info("Item failed", "task", r.id, "identity", out.Identity, "attempts", out.Attempts,
			"errorKind", out.ErrorKind, "step", out.Step, "error", out.Message,
			"progress", fmt.Sprintf("%d/%d", task.Finished(), len(task.Items)))
	}
	o.commit(ctx, r)
}

var errNoChange = errors.New("no change")

// finish moves the task to its terminal state once nothing is in flight
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	failure := r.failed()
	task, err := o.registry.Update(r.id, func(t domain.BatchTask) (domain.BatchTask, error) {
		now := time.Now()
		switch {
		case t.Status.IsTerminal():
			return t, errNoChange
		case failure != nil:
			t.Error = failure.Error()
			return t.WithStatus(domain.StatusFailed, now), nil
		case t.AllFinished():
			return t.WithStatus(domain.StatusCompleted, now), nil
		default:
			// context cancelled before every item was admitted
			return t.WithStatus(domain.StatusStopped, now), nil
		}
	})
	switch {
	case errors.Is(err, errNoChange):
	case err != nil:
		o.logger.Error(err, "Failed to finalize task", "task", r.id)
		return
	default:
		o.metrics.RecordTransition(task.Status)
		o.commit(ctx, r)
	}

	stats := domain.Stats(task)
	o.logger.Info("Batch task finished", "task", r.id, "status", task.Status,
		"completed", stats.Completed, "failed", stats.Failed, "pending", stats.Pending,
		"duration", task.Duration().Round(time.Millisecond).String())
}

// commit publishes and persists the latest registry record for a run.
// Persisting is serialized per task and always reads the newest record, so
// an older snapshot never overwrites a newer one.
func (o *Orchestrator) commit(ctx context.Context, r *run) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	task, ok := o.registry.Get(r.id)
	if !ok {
		return
	}
	o.progress.Publish(task)

	if o.sink == nil {
		return
	}
	if err := o.sink.SaveSnapshot(context.WithoutCancel(ctx), task); err != nil {
		o.logger.Error(err, "Failed to persist snapshot", "task", r.id, "status", task.Status)
		if errors.Is(err, domain.ErrSinkUnavailable) && !task.Status.IsTerminal() {
			r.escalate(err)
		}
	}
}

// Wait blocks until the task's run ends or ctx is done and returns the
// latest record
func (o *Orchestrator) Wait(ctx context.Context, id string) (domain.BatchTask, error) {
	select {
	case <-o.Done(id):
	case <-ctx.Done():
		return domain.BatchTask{}, ctx.Err()
	}
	task, ok := o.registry.Get(id)
	if !ok {
		return domain.BatchTask{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return task, nil
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel closed when the task is not being run
func (o *Orchestrator) Done(id string) <-chan struct{} {
	if r := o.lookup(id); r != nil {
		return r.done
	}
	return closedChan
}

// InFlight returns how many items of a task currently hold a permit
func (o *Orchestrator) InFlight(id string) int {
	if r := o.lookup(id); r != nil {
		return r.gate.InUse()
	}
	return 0
}

// Get returns a task snapshot
func (o *Orchestrator) Get(id string) (domain.BatchTask, error) {
	task, ok := o.registry.Get(id)
	if !ok {
		return domain.BatchTask{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return task, nil
}

// List returns snapshots of all tasks
func (o *Orchestrator) List() []domain.BatchTask {
	return o.registry.List()
}

// Stats returns the progress projection of a task
func (o *Orchestrator) Stats(id string) (domain.BatchStats, error) {
	task, err := o.Get(id)
	if err != nil {
		return domain.BatchStats{}, err
	}
	return domain.Stats(task), nil
}

// Delete removes a task that is not running or paused, including its
// persisted snapshot when the sink supports it. A stopped task whose
// in-flight items have not drained yet is still busy.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	if _, live := o.runs[id]; live {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s still has items in flight", domain.ErrTaskBusy, id)
	}
	err := o.registry.Delete(id)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	if d, ok := o.sink.(SnapshotDeleter); ok {
		if err := d.DeleteSnapshot(ctx, id); err != nil {
			o.logger.Error(err, "Failed to delete snapshot", "task", id)
		}
	}
	o.logger.Info("Deleted batch task", "task", id)
	return nil
}

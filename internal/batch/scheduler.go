package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler decides when scheduled batches are due. A batch never overlaps
// with its own previous run.
type Scheduler struct {
	configs   map[string]ScheduledBatch
	schedules map[string]cron.Schedule
	lastRun   map[string]time.Time
	running   map[string]bool
	started   time.Time
	logger    logr.Logger
	tick      time.Duration
	mu        sync.RWMutex
}

// NewScheduler creates a scheduler for the given batches
func NewScheduler(configs []ScheduledBatch, logger logr.Logger) (*Scheduler, error) {
	s := &Scheduler{
		configs:   make(map[string]ScheduledBatch),
		schedules: make(map[string]cron.Schedule),
		lastRun:   make(map[string]time.Time),
		running:   make(map[string]bool),
		started:   time.Now(),
		logger:    logger.WithName("scheduler"),
		tick:      time.Minute,
	}

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		sched, err := ParseCron(cfg.Cron)
		if err != nil {
			return nil, err
		}
		s.configs[cfg.Name] = cfg
		s.schedules[cfg.Name] = sched
	}

	return s, nil
}

// NextRun returns the next scheduled run time for a batch
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// ShouldRun returns true if a batch is due and not already running
func (s *Scheduler) ShouldRun(name string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok || s.running[name] {
		return false
	}

	lastRun := s.lastRun[name]
	if lastRun.IsZero() {
		// nothing fires for slots that passed before the scheduler existed
		lastRun = s.started
	}
	return !now.Before(sched.Next(lastRun))
}

// MarkRunning marks a batch as currently running
func (s *Scheduler) MarkRunning(name string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
	s.lastRun[name] = now
}

// MarkComplete marks a batch as complete
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
}

// IsRunning reports whether a batch run is in progress
func (s *Scheduler) IsRunning(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running[name]
}

// GetConfig returns the config for a batch
func (s *Scheduler) GetConfig(name string) (ScheduledBatch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[name]
	return cfg, ok
}

// ListBatches returns all batch names, sorted
func (s *Scheduler) ListBatches() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start checks the schedule every tick until ctx is done. Due batches run
// in their own goroutine; Start waits for them before returning.
func (s *Scheduler) Start(ctx context.Context, run func(context.Context, ScheduledBatch) error) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.dispatch(ctx, now, run, &wg)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, now time.Time, run func(context.Context, ScheduledBatch) error, wg *sync.WaitGroup) {
	for _, name := range s.ListBatches() {
		if !s.ShouldRun(name, now) {
			continue
		}
		cfg, _ := s.GetConfig(name)
		s.MarkRunning(name, now)
		s.logger.Info("Starting scheduled batch", "batch", name, "count", cfg.Count)

		wg.Add(1)
		go func(c ScheduledBatch) {
			defer wg.Done()
			defer s.MarkComplete(c.Name)
			if err := run(ctx, c); err != nil {
				s.logger.Error(err, "Scheduled batch failed", "batch", c.Name)
			}
		}(cfg)
	}
}

package batch

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/signup-orchestrator/internal/config"
)

// ScheduledBatch is one [[batch]] entry of schedule.toml: a generated batch
// of Count identities started on a cron schedule
type ScheduledBatch struct {
	Name             string          `toml:"name"`
	Cron             string          `toml:"cron"`
	Count            int             `toml:"count"`
	Concurrency      int             `toml:"concurrency"`
	MaxDuration      config.Duration `toml:"max_duration"`
	NotifyOnComplete bool            `toml:"notify_on_complete"`
}

// ScheduleConfig holds all scheduled batches
type ScheduleConfig struct {
	Batches []ScheduledBatch `toml:"batch"`
}

// Validate checks the entry and fills defaults
func (c *ScheduledBatch) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("batch name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.Count <= 0 {
		return fmt.Errorf("batch %s: count must be positive", c.Name)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.MaxDuration.Duration <= 0 {
		c.MaxDuration = config.D(4 * time.Hour)
	}
	return nil
}

// LoadScheduleConfig loads scheduled batches from a TOML file. A missing
// file means no schedule.
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for i := range cfg.Batches {
		if err := cfg.Batches[i].Validate(); err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		if seen[cfg.Batches[i].Name] {
			return nil, fmt.Errorf("batch %d: duplicate name %q", i, cfg.Batches[i].Name)
		}
		seen[cfg.Batches[i].Name] = true
	}

	return &cfg, nil
}

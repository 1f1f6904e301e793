package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Batch         BatchConfig         `toml:"batch"`
	Workflow      WorkflowConfig      `toml:"workflow"`
	Email         EmailConfig         `toml:"email"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DataDir        string `toml:"data_dir"`
	DatabasePath   string `toml:"database_path"`
	LogLevel       string `toml:"log_level"`
	LogDevelopment bool   `toml:"log_development"`
}

// BatchConfig holds orchestration settings
type BatchConfig struct {
	Concurrency       int      `toml:"concurrency"`
	MaxAttempts       int      `toml:"max_attempts"`
	RetryDelay        Duration `toml:"retry_delay"`
	AttemptTimeout    Duration `toml:"attempt_timeout"`
	PausePollInterval Duration `toml:"pause_poll_interval"`
	SnapshotDir       string   `toml:"snapshot_dir"`
	ScheduleFile      string   `toml:"schedule_file"`
	DropDir           string   `toml:"drop_dir"`
}

// WorkflowConfig selects the page driver and the resolvers
type WorkflowConfig struct {
	Driver            string   `toml:"driver"`
	CaptchaMode       string   `toml:"captcha_mode"`
	CaptchaTimeout    Duration `toml:"captcha_timeout"`
	EmailTimeout      Duration `toml:"email_timeout"`
	ExpectedSender    string   `toml:"expected_sender"`
	DryRunFailureRate float64  `toml:"dryrun_failure_rate"`
}

// EmailConfig holds the mailbox used for generated identities
type EmailConfig struct {
	BaseAddress  string   `toml:"base_address"`
	PlusMode     bool     `toml:"plus_mode"`
	SuffixMode   string   `toml:"suffix_mode"`
	ManualSuffix string   `toml:"manual_suffix"`
	PollInterval Duration `toml:"poll_interval"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Duration is a time.Duration written as "3s", "10m" in TOML
type Duration struct {
	time.Duration
}

// D wraps a time.Duration
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".signup-orch")
	return &Config{
		General: GeneralConfig{
			DataDir:      dataDir,
			DatabasePath: filepath.Join(dataDir, "signup.db"),
			LogLevel:     "info",
		},
		Batch: BatchConfig{
			Concurrency:       3,
			MaxAttempts:       3,
			RetryDelay:        D(3 * time.Second),
			AttemptTimeout:    D(10 * time.Minute),
			PausePollInterval: D(time.Second),
			SnapshotDir:       filepath.Join(dataDir, "snapshots"),
			ScheduleFile:      filepath.Join(dataDir, "schedule.toml"),
			DropDir:           filepath.Join(dataDir, "drop"),
		},
		Workflow: WorkflowConfig{
			Driver:         "dryrun",
			CaptchaMode:    "manual",
			CaptchaTimeout: D(2 * time.Minute),
			EmailTimeout:   D(300 * time.Second),
		},
		Email: EmailConfig{
			PlusMode:     true,
			SuffixMode:   "auto",
			PollInterval: D(3 * time.Second),
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Batch.SnapshotDir = ExpandPath(cfg.Batch.SnapshotDir)
	cfg.Batch.ScheduleFile = ExpandPath(cfg.Batch.ScheduleFile)
	cfg.Batch.DropDir = ExpandPath(cfg.Batch.DropDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as TOML, creating parent directories
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}

// Validate rejects settings the orchestrator cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Batch.Concurrency < 1:
		return fmt.Errorf("batch.concurrency must be >= 1, got %d", c.Batch.Concurrency)
	case c.Batch.MaxAttempts < 1:
		return fmt.Errorf("batch.max_attempts must be >= 1, got %d", c.Batch.MaxAttempts)
	case c.Batch.RetryDelay.Duration < 0:
		return fmt.Errorf("batch.retry_delay must not be negative")
	case c.Workflow.DryRunFailureRate < 0 || c.Workflow.DryRunFailureRate > 1:
		return fmt.Errorf("workflow.dryrun_failure_rate must be within [0, 1]")
	case c.Email.SuffixMode != "auto" && c.Email.SuffixMode != "manual":
		return fmt.Errorf("email.suffix_mode must be auto or manual, got %q", c.Email.SuffixMode)
	case c.Email.SuffixMode == "manual" && c.Email.ManualSuffix == "":
		return fmt.Errorf("email.manual_suffix is required when suffix_mode is manual")
	case c.Web.Port < 0 || c.Web.Port > 65535:
		return fmt.Errorf("web.port %d out of range", c.Web.Port)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "signup-orch", "config.toml")
}

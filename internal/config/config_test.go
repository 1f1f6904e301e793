package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Batch.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", cfg.Batch.Concurrency)
	}
	if cfg.Batch.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Batch.MaxAttempts)
	}
	if cfg.Batch.RetryDelay.Duration != 3*time.Second {
		t.Errorf("RetryDelay = %s, want 3s", cfg.Batch.RetryDelay)
	}
	if cfg.Workflow.EmailTimeout.Duration != 300*time.Second {
		t.Errorf("EmailTimeout = %s, want 5m0s", cfg.Workflow.EmailTimeout)
	}
	if cfg.Workflow.CaptchaMode != "manual" {
		t.Errorf("CaptchaMode = %q, want manual", cfg.Workflow.CaptchaMode)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Web.Port = %d, want 8080", cfg.Web.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Batch.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want default 3", cfg.Batch.Concurrency)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[general]
log_level = "debug"

[batch]
concurrency = 5
retry_delay = "500ms"
attempt_timeout = "2m"
snapshot_dir = "~/snaps"

[workflow]
captcha_mode = "third_party"
expected_sender = "noreply@example.com"

[email]
base_address = "someone@example.com"
suffix_mode = "manual"
manual_suffix = "lab"

[web]
port = 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	home, _ := os.UserHomeDir()
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"log_level", cfg.General.LogLevel, "debug"},
		{"concurrency", cfg.Batch.Concurrency, 5},
		{"max_attempts keeps default", cfg.Batch.MaxAttempts, 3},
		{"retry_delay", cfg.Batch.RetryDelay.Duration, 500 * time.Millisecond},
		{"attempt_timeout", cfg.Batch.AttemptTimeout.Duration, 2 * time.Minute},
		{"snapshot_dir", cfg.Batch.SnapshotDir, filepath.Join(home, "snaps")},
		{"captcha_mode", cfg.Workflow.CaptchaMode, "third_party"},
		{"expected_sender", cfg.Workflow.ExpectedSender, "noreply@example.com"},
		{"manual_suffix", cfg.Email.ManualSuffix, "lab"},
		{"port", cfg.Web.Port, 9000},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad duration", "[batch]\nretry_delay = \"soon\"\n", "invalid duration"},
		{"zero concurrency", "[batch]\nconcurrency = 0\n", "batch.concurrency"},
		{"manual suffix missing", "[email]\nsuffix_mode = \"manual\"\n", "manual_suffix"},
		{"unknown suffix mode", "[email]\nsuffix_mode = \"random\"\n", "suffix_mode"},
		{"failure rate", "[workflow]\ndryrun_failure_rate = 1.5\n", "dryrun_failure_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got err=%v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Batch.Concurrency = 7
	cfg.Batch.RetryDelay = D(1500 * time.Millisecond)
	cfg.Email.BaseAddress = "me@example.com"

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Batch.Concurrency != 7 {
		t.Errorf("Concurrency = %d, want 7", got.Batch.Concurrency)
	}
	if got.Batch.RetryDelay.Duration != 1500*time.Millisecond {
		t.Errorf("RetryDelay = %s, want 1.5s", got.Batch.RetryDelay)
	}
	if got.Email.BaseAddress != "me@example.com" {
		t.Errorf("BaseAddress = %q", got.Email.BaseAddress)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDefaultConfigPath(t *testing.T) {
	if !strings.HasSuffix(DefaultConfigPath(), filepath.Join("signup-orch", "config.toml")) {
		t.Errorf("unexpected default path %s", DefaultConfigPath())
	}
}

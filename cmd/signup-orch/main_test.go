package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

func TestPositiveArg(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{"0", 0, true},
		{"-2", 0, true},
		{"many", 0, true},
	}
	for _, tt := range tests {
		got, err := positiveArg("COUNT", tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("positiveArg(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestExitFor(t *testing.T) {
	tests := []struct {
		status   domain.TaskStatus
		wantCode int // 0 means no error
	}{
		{domain.StatusCompleted, 0},
		{domain.StatusStopped, 0},
		{domain.StatusFailed, 2},
		{domain.StatusRunning, 1},
	}
	for _, tt := range tests {
		err := exitFor(domain.BatchTask{ID: "t", Status: tt.status})
		if tt.wantCode == 0 {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.status, err)
			}
			continue
		}
		var exit *exitError
		if !errors.As(err, &exit) || exit.code != tt.wantCode {
			t.Errorf("%s: got %v, want exit code %d", tt.status, err, tt.wantCode)
		}
	}
}

func TestDropTaskID(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	got := dropTaskID("/drop/new users.csv", now)
	if got != "drop_new-users_20250101T120000" {
		t.Errorf("dropTaskID() = %q", got)
	}
}

// writeConfig points the CLI at a throwaway data dir with the dry-run driver
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := `
[general]
data_dir = "` + dir + `"
database_path = "` + filepath.Join(dir, "signup.db") + `"
log_level = "error"

[batch]
retry_delay = "1ms"
pause_poll_interval = "5ms"
snapshot_dir = "` + filepath.Join(dir, "snapshots") + `"
schedule_file = "` + filepath.Join(dir, "schedule.toml") + `"
drop_dir = "` + filepath.Join(dir, "drop") + `"

[email]
base_address = "someone@example.com"
suffix_mode = "manual"
manual_suffix = "t"
poll_interval = "5ms"

[notifications]
desktop = false
`
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApp_RunTaskAndRestore(t *testing.T) {
	configPath = writeConfig(t)
	t.Cleanup(func() { configPath = "" })
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		t.Fatal(err)
	}
	items, err := a.generate(3)
	if err != nil {
		t.Fatal(err)
	}
	if items[2].Identity != "someone+t2@example.com" {
		t.Errorf("identity = %q", items[2].Identity)
	}
	if err := a.runTask(ctx, items, 2, false); err != nil {
		t.Fatalf("runTask() = %v", err)
	}
	tasks := a.orch.List()
	if len(tasks) != 1 || tasks[0].Status != domain.StatusCompleted || tasks[0].CompletedCount != 3 {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	id := tasks[0].ID
	a.Close()

	// a second process sees the persisted task
	b, err := newApp(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	got, err := b.orch.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedCount != 3 || len(got.Outcomes) != 3 {
		t.Errorf("restored %d completed, %d outcomes", got.CompletedCount, len(got.Outcomes))
	}
	if !strings.HasPrefix(got.Outcomes[0].Email, "someone+t") {
		t.Errorf("email = %q", got.Outcomes[0].Email)
	}
}

func TestApp_StartFromFile(t *testing.T) {
	configPath = writeConfig(t)
	t.Cleanup(func() { configPath = "" })
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	drop := filepath.Join(a.cfg.Batch.DropDir)
	if err := os.MkdirAll(drop, 0755); err != nil {
		t.Fatal(err)
	}
	good := filepath.Join(drop, "ids.txt")
	if err := os.WriteFile(good, []byte("a@example.com\nb@example.com\n"), 0644); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(drop, "bad.csv")
	if err := os.WriteFile(bad, []byte("nothing,useful\n1,2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	a.startDropFile(ctx, good)
	a.startDropFile(ctx, bad)

	if _, err := os.Stat(filepath.Join(drop, "processed", "ids.txt")); err != nil {
		t.Errorf("good file not moved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(drop, "failed", "bad.csv")); err != nil {
		t.Errorf("bad file not moved: %v", err)
	}

	tasks := a.orch.List()
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	final, err := a.orch.Wait(waitCtx, tasks[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != domain.StatusCompleted || final.CompletedCount != 2 {
		t.Errorf("final = %s with %d completed", final.Status, final.CompletedCount)
	}
}

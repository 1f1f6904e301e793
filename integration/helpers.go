//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// FixturesDir returns the path to the fixtures directory
func FixturesDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(filename), "fixtures")
}

// binaryPath returns the path to the built CLI binary
func binaryPath(t *testing.T) string {
	t.Helper()
	paths := []string{
		"../signup-orch",
		"./signup-orch",
		filepath.Join(os.Getenv("GOPATH"), "bin", "signup-orch"),
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../signup-orch", "../cmd/signup-orch")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}

	abs, _ := filepath.Abs("../signup-orch")
	return abs
}

// testEnv is one isolated data dir plus the config pointing at it
type testEnv struct {
	binary  string
	dataDir string
	config  string
}

// newTestEnv writes a dry-run config. extra is appended verbatim, so it
// may override whole tables that the base config leaves out.
func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dataDir := t.TempDir()
	config := `[general]
data_dir = "` + dataDir + `"
database_path = "` + filepath.Join(dataDir, "signup.db") + `"
log_level = "error"

[batch]
retry_delay = "1ms"
pause_poll_interval = "10ms"
snapshot_dir = "` + filepath.Join(dataDir, "snapshots") + `"
schedule_file = "` + filepath.Join(dataDir, "schedule.toml") + `"
drop_dir = "` + filepath.Join(dataDir, "drop") + `"

[email]
base_address = "tester@example.com"
suffix_mode = "manual"
manual_suffix = "it"
poll_interval = "10ms"

[notifications]
desktop = false
` + extra

	configPath := filepath.Join(dataDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return &testEnv{binary: binaryPath(t), dataDir: dataDir, config: configPath}
}

// run executes the CLI and returns combined output and the exit code
func (e *testEnv) run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(e.binary, append(args, "--config", e.config)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if exit, ok := err.(*exec.ExitError); ok {
			return string(out), exit.ExitCode()
		}
		t.Fatalf("running %v: %v", args, err)
	}
	return string(out), 0
}

// mustRun fails the test unless the command exits 0
func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, code := e.run(t, args...)
	if code != 0 {
		t.Fatalf("%s exited %d:\n%s", strings.Join(args, " "), code, out)
	}
	return out
}

// taskID extracts the id from "Started <id> with ..." output
func taskID(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "Started "); ok {
			return strings.Fields(rest)[0]
		}
	}
	t.Fatalf("no task id in output:\n%s", out)
	return ""
}

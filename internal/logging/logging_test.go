package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.Level(-1), false},
		{"trace", zapcore.Level(-3), false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	logger, flush, err := New(Options{Level: "debug", OutputPaths: []string{path}})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("task started", "task", "t1")
	logger.V(VERBOSE).Info("attempt", "n", 1)
	logger.V(DEBUG).Info("hidden")
	flush()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "task started") || !strings.Contains(out, `"task":"t1"`) {
		t.Errorf("missing info line:\n%s", out)
	}
	if !strings.Contains(out, "attempt") {
		t.Errorf("V(1) should be enabled at debug:\n%s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("V(2) should be disabled at debug:\n%s", out)
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "nope"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

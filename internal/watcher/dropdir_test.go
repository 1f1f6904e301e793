package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
)

func TestDropWatcher_Accepts(t *testing.T) {
	dw, err := NewDropWatcher(t.TempDir(), nil, testr.New(t))
	if err != nil {
		t.Fatal(err)
	}
	defer dw.watcher.Close()

	tests := []struct {
		name string
		want bool
	}{
		{"ids.csv", true},
		{"IDS.JSON", true},
		{"ids.yml", true},
		{"ids.txt", true},
		{"ids.xlsx", false},
		{".hidden.csv", false},
		{"noext", false},
	}
	for _, tt := range tests {
		if got := dw.Accepts(tt.name); got != tt.want {
			t.Errorf("Accepts(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDropWatcher_Existing(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.csv", "a.txt", "skip.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	dw, err := NewDropWatcher(dir, nil, testr.New(t))
	if err != nil {
		t.Fatal(err)
	}
	defer dw.watcher.Close()

	got, err := dw.Existing()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.csv")}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Existing() = %v, want %v", got, want)
	}
}

func TestDropWatcher_DebouncesNewFiles(t *testing.T) {
	dir := t.TempDir()

	var (
		mu    sync.Mutex
		calls [][]string
	)
	got := make(chan struct{}, 10)
	dw, err := NewDropWatcher(dir, func(paths []string) {
		mu.Lock()
		calls = append(calls, paths)
		mu.Unlock()
		got <- struct{}{}
	}, testr.New(t))
	if err != nil {
		t.Fatal(err)
	}
	dw.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go dw.Run(ctx)
	defer func() {
		cancel()
		<-dw.Done()
	}()

	path := filepath.Join(dir, "ids.csv")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("identity\na@example.com\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("callback not called")
	}
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("got %d callbacks, want 1", len(calls))
	}
	if len(calls[0]) != 1 || calls[0][0] != path {
		t.Errorf("got paths %v, want [%s]", calls[0], path)
	}
}

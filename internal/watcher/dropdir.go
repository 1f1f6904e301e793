// Package watcher turns files dropped into a directory into batch input.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// DropCallback receives the files that settled since the last call
type DropCallback func(paths []string)

// Extensions accepted by default
var DefaultExtensions = []string{".csv", ".json", ".yaml", ".yml", ".txt"}

// DropWatcher watches one directory for new identity files. Writes are
// debounced so a file is reported once after its writer is done.
type DropWatcher struct {
	dir        string
	watcher    *fsnotify.Watcher
	callback   DropCallback
	debounce   time.Duration
	extensions map[string]bool
	logger     logr.Logger

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	done chan struct{}
}

// NewDropWatcher creates dir if needed and watches it
func NewDropWatcher(dir string, callback DropCallback, logger logr.Logger) (*DropWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	exts := make(map[string]bool)
	for _, e := range DefaultExtensions {
		exts[e] = true
	}
	return &DropWatcher{
		dir:        dir,
		watcher:    w,
		callback:   callback,
		debounce:   500 * time.Millisecond,
		extensions: exts,
		logger:     logger.WithName("dropdir"),
		pending:    make(map[string]struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Dir returns the watched directory
func (dw *DropWatcher) Dir() string {
	return dw.dir
}

// Accepts reports whether a file name has a supported extension
func (dw *DropWatcher) Accepts(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return dw.extensions[strings.ToLower(filepath.Ext(base))]
}

// Existing returns supported files already in the directory, sorted
func (dw *DropWatcher) Existing() ([]string, error) {
	entries, err := os.ReadDir(dw.dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && dw.Accepts(e.Name()) {
			paths = append(paths, filepath.Join(dw.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Run processes events until ctx is done, then closes the watcher
func (dw *DropWatcher) Run(ctx context.Context) error {
	defer close(dw.done)
	defer dw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			dw.mu.Lock()
			if dw.timer != nil {
				dw.timer.Stop()
			}
			dw.mu.Unlock()
			return nil
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return nil
			}
			dw.handleEvent(event)
		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return nil
			}
			dw.logger.Error(err, "Watcher error")
		}
	}
}

// Done is closed when Run returned
func (dw *DropWatcher) Done() <-chan struct{} {
	return dw.done
}

func (dw *DropWatcher) handleEvent(event fsnotify.Event) {
	if !dw.Accepts(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	dw.mu.Lock()
	defer dw.mu.Unlock()

	dw.pending[event.Name] = struct{}{}
	if dw.timer != nil {
		dw.timer.Stop()
	}
	dw.timer = time.AfterFunc(dw.debounce, dw.flush)
}

func (dw *DropWatcher) flush() {
	dw.mu.Lock()
	pending := dw.pending
	dw.pending = make(map[string]struct{})
	dw.mu.Unlock()

	var paths []string
	for p := range pending {
		// renamed away or deleted while settling
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 || dw.callback == nil {
		return
	}
	sort.Strings(paths)
	dw.logger.Info("New drop files", "files", len(paths))
	dw.callback(paths)
}

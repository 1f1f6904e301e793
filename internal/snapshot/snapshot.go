// Package snapshot persists BatchTask snapshots so an interrupted run can be
// inspected and resumed from its recorded outcomes.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"go.uber.org/multierr"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

// FileSink writes one JSON file per task, <dir>/<task id>.json. Writes go
// through a temp file and a rename so readers never see a partial snapshot.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Dir returns the snapshot directory
func (s *FileSink) Dir() string {
	return s.dir
}

func (s *FileSink) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid task id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// SaveSnapshot implements batch.Sink
func (s *FileSink) SaveSnapshot(_ context.Context, task domain.BatchTask) error {
	path, err := s.path(task.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+task.ID+".*.tmp")
	if err != nil {
		return classify(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return classify(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return classify(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return classify(err)
	}
	return nil
}

// classify marks errors that retrying will not fix
func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EROFS):
		return fmt.Errorf("%w: %w", domain.ErrSinkUnavailable, err)
	}
	return err
}

// DeleteSnapshot removes a task's file; a missing file is not an error
func (s *FileSink) DeleteSnapshot(_ context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Load reads one snapshot
func (s *FileSink) Load(id string) (domain.BatchTask, error) {
	path, err := s.path(id)
	if err != nil {
		return domain.BatchTask{}, err
	}
	return readSnapshot(path)
}

func readSnapshot(path string) (domain.BatchTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.BatchTask{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, filepath.Base(path))
		}
		return domain.BatchTask{}, err
	}
	var task domain.BatchTask
	if err := json.Unmarshal(data, &task); err != nil {
		return domain.BatchTask{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := task.CheckInvariants(); err != nil {
		return domain.BatchTask{}, fmt.Errorf("%s: %w", path, err)
	}
	return task, nil
}

// LoadAll reads every snapshot in the directory, oldest task first. Corrupt
// files are reported together but do not hide the readable ones.
func (s *FileSink) LoadAll() ([]domain.BatchTask, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}

	var (
		tasks []domain.BatchTask
		errs  error
	)
	for _, p := range paths {
		task, err := readSnapshot(p)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		tasks = append(tasks, task)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, errs
}

// Sink matches batch.Sink
type Sink interface {
	SaveSnapshot(ctx context.Context, task domain.BatchTask) error
}

// Multi writes to several sinks. It reports ErrSinkUnavailable only when
// every sink is unavailable; other failures are combined with multierr.
type Multi []Sink

// SaveSnapshot implements batch.Sink
func (m Multi) SaveSnapshot(ctx context.Context, task domain.BatchTask) error {
	var (
		errs        error
		unavailable int
	)
	for _, s := range m {
		if err := s.SaveSnapshot(ctx, task); err != nil {
			if errors.Is(err, domain.ErrSinkUnavailable) {
				unavailable++
			}
			errs = multierr.Append(errs, err)
		}
	}
	if errs == nil {
		return nil
	}
	if len(m) > 0 && unavailable == len(m) {
		return errs
	}
	// at least one sink still works: strip the escalation marker
	return fmt.Errorf("partial snapshot failure: %s", errs.Error())
}

// DeleteSnapshot removes the snapshot from every sink that supports it
func (m Multi) DeleteSnapshot(ctx context.Context, id string) error {
	var errs error
	for _, s := range m {
		if d, ok := s.(interface {
			DeleteSnapshot(context.Context, string) error
		}); ok {
			errs = multierr.Append(errs, d.DeleteSnapshot(ctx, id))
		}
	}
	return errs
}

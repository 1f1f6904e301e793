package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

func sampleTask(id string) domain.BatchTask {
	items := []domain.WorkItem{
		{Identity: "a@example.com", DisplayName: "A", Password: "pw-a-123", BirthDate: domain.BirthDate{Year: 1990, Month: 1, Day: 2}},
		{Identity: "b@example.com", DisplayName: "B", Password: "pw-b-123", BirthDate: domain.BirthDate{Year: 1991, Month: 3, Day: 4}},
	}
	task := domain.NewBatchTask(id, items).WithStatus(domain.StatusRunning, time.Now())
	return task.WithOutcome(domain.Outcome{
		Identity:  "a@example.com",
		Email:     "a@example.com",
		Password:  "pw-a-123",
		Kind:      domain.OutcomeCompleted,
		Step:      domain.StepCompleted,
		Attempts:  2,
		Elapsed:   1500 * time.Millisecond,
		Timestamp: time.Now(),
	})
}

func TestFileSink_SaveLoad(t *testing.T) {
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "snaps"))
	require.NoError(t, err)
	ctx := context.Background()

	task := sampleTask("t1")
	require.NoError(t, sink.SaveSnapshot(ctx, task))

	got, err := sink.Load("t1")
	require.NoError(t, err)
	if diff := cmp.Diff(task, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	// overwrite in place, no temp files left behind
	task = task.WithStatus(domain.StatusStopped, time.Now())
	require.NoError(t, sink.SaveSnapshot(ctx, task))
	entries, err := os.ReadDir(sink.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t1.json", entries[0].Name())

	got, err = sink.Load("t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, got.Status)
}

func TestFileSink_LoadMissing(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	_, err = sink.Load("nope")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	_, err = sink.Load("../escape")
	assert.Error(t, err)
}

func TestFileSink_LoadAll(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	ctx := context.Background()

	first := sampleTask("first")
	second := sampleTask("second")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, sink.SaveSnapshot(ctx, second))
	require.NoError(t, sink.SaveSnapshot(ctx, first))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644))

	tasks, err := sink.LoadAll()
	assert.Error(t, err, "corrupt file is reported")
	require.Len(t, tasks, 2)
	assert.Equal(t, "first", tasks[0].ID)
	assert.Equal(t, "second", tasks[1].ID)
}

func TestFileSink_Delete(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sink.SaveSnapshot(ctx, sampleTask("t1")))
	require.NoError(t, sink.DeleteSnapshot(ctx, "t1"))
	require.NoError(t, sink.DeleteSnapshot(ctx, "t1"))
	_, err = sink.Load("t1")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestFileSink_UnavailableDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	err = sink.SaveSnapshot(context.Background(), sampleTask("t1"))
	assert.ErrorIs(t, err, domain.ErrSinkUnavailable)
}

type stubSink struct {
	err   error
	saved int
}

func (s *stubSink) SaveSnapshot(context.Context, domain.BatchTask) error {
	s.saved++
	return s.err
}

func TestMulti(t *testing.T) {
	unavailable := errors.Join(domain.ErrSinkUnavailable, errors.New("disk full"))
	ctx := context.Background()
	task := sampleTask("t1")

	tests := []struct {
		name            string
		sinks           []error
		wantErr         bool
		wantUnavailable bool
	}{
		{"all ok", []error{nil, nil}, false, false},
		{"one transient", []error{nil, errors.New("busy")}, true, false},
		{"one unavailable", []error{unavailable, nil}, true, false},
		{"all unavailable", []error{unavailable, unavailable}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var multi Multi
			var stubs []*stubSink
			for _, err := range tt.sinks {
				s := &stubSink{err: err}
				stubs = append(stubs, s)
				multi = append(multi, s)
			}

			err := multi.SaveSnapshot(ctx, task)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.wantUnavailable, errors.Is(err, domain.ErrSinkUnavailable))
			for _, s := range stubs {
				assert.Equal(t, 1, s.saved, "every sink is attempted")
			}
		})
	}
}

func TestMulti_Delete(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	multi := Multi{sink, &stubSink{}}
	require.NoError(t, multi.SaveSnapshot(ctx, sampleTask("t1")))
	require.NoError(t, multi.DeleteSnapshot(ctx, "t1"))
	_, err = sink.Load("t1")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

package batch

import (
	"context"
	"testing"
	"time"
)

func TestPauseController_Transitions(t *testing.T) {
	c := NewPauseController()

	if c.Resume() {
		t.Error("resume from running should fail")
	}
	if !c.Pause() {
		t.Error("pause from running should succeed")
	}
	if c.Pause() {
		t.Error("pause from paused should fail")
	}
	if !c.Resume() {
		t.Error("resume from paused should succeed")
	}
	if !c.Pause() {
		t.Fatal("pause should succeed")
	}
	if !c.RequestStop() {
		t.Error("stop from paused should succeed")
	}
	if c.RequestStop() {
		t.Error("second stop should report no change")
	}
	if c.Resume() || c.Pause() {
		t.Error("no transitions out of stop requested")
	}
	if c.State() != ControlStopRequested {
		t.Errorf("got state=%s, want stop_requested", c.State())
	}
}

func TestPauseController_AwaitRunnable(t *testing.T) {
	c := NewPauseController()
	ctx := context.Background()

	if !c.AwaitRunnable(ctx, time.Millisecond) {
		t.Fatal("running controller should be runnable")
	}

	c.Pause()
	done := make(chan bool)
	go func() { done <- c.AwaitRunnable(ctx, 5*time.Millisecond) }()

	select {
	case <-done:
		t.Fatal("AwaitRunnable returned while paused")
	case <-time.After(30 * time.Millisecond):
	}

	c.Resume()
	select {
	case ok := <-done:
		if !ok {
			t.Error("AwaitRunnable should return true after resume")
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitRunnable did not observe resume")
	}
}

func TestPauseController_AwaitRunnableStop(t *testing.T) {
	c := NewPauseController()
	c.Pause()

	done := make(chan bool)
	go func() { done <- c.AwaitRunnable(context.Background(), 5*time.Millisecond) }()
	c.RequestStop()

	select {
	case ok := <-done:
		if ok {
			t.Error("AwaitRunnable should return false after stop")
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitRunnable did not observe stop")
	}
}

func TestPauseController_AwaitRunnableContext(t *testing.T) {
	c := NewPauseController()
	c.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if c.AwaitRunnable(ctx, time.Hour) {
		t.Error("AwaitRunnable should return false when ctx expires")
	}
}

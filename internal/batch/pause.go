package batch

import (
	"context"
	"sync/atomic"
	"time"
)

// ControlState is the admission flag consulted between work items
type ControlState int32

const (
	ControlRunning ControlState = iota
	ControlPaused
	ControlStopRequested
)

func (s ControlState) String() string {
	switch s {
	case ControlRunning:
		return "running"
	case ControlPaused:
		return "paused"
	case ControlStopRequested:
		return "stop_requested"
	}
	return "unknown"
}

// DefaultPollInterval is how often a paused run re-checks its flag
const DefaultPollInterval = time.Second

// PauseController is a cooperative pause/resume/stop flag for one task. It
// never interrupts work already admitted.
type PauseController struct {
	state atomic.Int32
}

// NewPauseController returns a controller in the running state
func NewPauseController() *PauseController {
	return &PauseController{}
}

// State returns the current flag
func (c *PauseController) State() ControlState {
	return ControlState(c.state.Load())
}

// Pause moves running to paused
func (c *PauseController) Pause() bool {
	return c.state.CompareAndSwap(int32(ControlRunning), int32(ControlPaused))
}

// Resume moves paused to running
func (c *PauseController) Resume() bool {
	return c.state.CompareAndSwap(int32(ControlPaused), int32(ControlRunning))
}

// RequestStop blocks all further admission. Valid from running or paused.
func (c *PauseController) RequestStop() bool {
	for {
		cur := c.state.Load()
		if ControlState(cur) == ControlStopRequested {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(ControlStopRequested)) {
			return true
		}
	}
}

// AwaitRunnable returns true once admission may proceed. It polls every
// interval while paused and returns false on stop or when ctx is done.
func (c *PauseController) AwaitRunnable(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	var ticker *time.Ticker
	for {
		if ctx.Err() != nil {
			return false
		}
		switch c.State() {
		case ControlRunning:
			return true
		case ControlStopRequested:
			return false
		}

		if ticker == nil {
			ticker = time.NewTicker(interval)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

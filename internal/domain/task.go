package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome is the recorded result of one work item within a task run. Only
// the last attempt is recorded; earlier attempts are counted in Attempts.
type Outcome struct {
	Identity  string        `json:"identity"`
	Email     string        `json:"email"`
	Password  string        `json:"password,omitempty"`
	Kind      OutcomeKind   `json:"kind"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Step      Step          `json:"step,omitempty"`
	Message   string        `json:"message,omitempty"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed"`
	Timestamp time.Time     `json:"timestamp"`
}

// Succeeded returns true for completed outcomes
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeCompleted
}

// BatchTask is a named run over an ordered list of work items
type BatchTask struct {
	ID             string     `json:"id"`
	Items          []WorkItem `json:"items"`
	Status         TaskStatus `json:"status"`
	CompletedCount int        `json:"completed_count"`
	FailedCount    int        `json:"failed_count"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Outcomes       []Outcome  `json:"outcomes"`
	Error          string     `json:"error,omitempty"`
}

// NewTaskID generates a unique batch task id
func NewTaskID() string {
	return fmt.Sprintf("batch_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// NewBatchTask creates a pending task
func NewBatchTask(id string, items []WorkItem) BatchTask {
	if id == "" {
		id = NewTaskID()
	}
	return BatchTask{
		ID:        id,
		Items:     Reindex(items),
		Status:    StatusPending,
		CreatedAt: time.Now(),
		Outcomes:  []Outcome{},
	}
}

// Finished returns how many items have an outcome
func (t BatchTask) Finished() int {
	return t.CompletedCount + t.FailedCount
}

// AllFinished returns true once every item has an outcome
func (t BatchTask) AllFinished() bool {
	return t.Finished() >= len(t.Items)
}

// WithOutcome returns a copy of the task with the outcome appended and the
// counters advanced. Outcomes are append-only: older snapshots may share the
// backing array but never see elements past their own length.
func (t BatchTask) WithOutcome(o Outcome) BatchTask {
	t.Outcomes = append(t.Outcomes, o)
	if o.Succeeded() {
		t.CompletedCount++
	} else {
		t.FailedCount++
	}
	return t
}

// WithStatus returns a copy with the new status, stamping start/end times
func (t BatchTask) WithStatus(status TaskStatus, now time.Time) BatchTask {
	t.Status = status
	if status == StatusRunning && t.StartedAt == nil {
		t.StartedAt = &now
	}
	if status.IsTerminal() && t.EndedAt == nil {
		t.EndedAt = &now
	}
	return t
}

// CheckInvariants verifies the counter invariants of a task record
func (t BatchTask) CheckInvariants() error {
	if t.Finished() != len(t.Outcomes) {
		return fmt.Errorf("task %s: completed+failed=%d but %d outcomes", t.ID, t.Finished(), len(t.Outcomes))
	}
	if t.Finished() > len(t.Items) {
		return fmt.Errorf("task %s: %d outcomes for %d items", t.ID, t.Finished(), len(t.Items))
	}
	if t.Status == StatusCompleted && t.Finished() != len(t.Items) {
		return fmt.Errorf("task %s: completed with %d/%d outcomes", t.ID, t.Finished(), len(t.Items))
	}
	return nil
}

// Duration returns elapsed run time, up to now for unfinished tasks
func (t BatchTask) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if t.EndedAt != nil {
		end = *t.EndedAt
	}
	return end.Sub(*t.StartedAt)
}

// BatchStats is a read projection of a task's progress
type BatchStats struct {
	Total           int        `json:"total"`
	Completed       int        `json:"completed"`
	Failed          int        `json:"failed"`
	Pending         int        `json:"pending"`
	ProgressPercent float64    `json:"progress_percent"`
	Status          TaskStatus `json:"status"`
}

// Stats derives BatchStats from a task
func Stats(t BatchTask) BatchStats {
	total := len(t.Items)
	s := BatchStats{
		Total:     total,
		Completed: t.CompletedCount,
		Failed:    t.FailedCount,
		Pending:   total - t.CompletedCount - t.FailedCount,
		Status:    t.Status,
	}
	if total > 0 {
		s.ProgressPercent = float64(t.CompletedCount+t.FailedCount) / float64(total) * 100
	}
	return s
}

package notify

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Field is one labelled value of a notification, such as a task counter
type Field struct {
	Label string
	Value string
}

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	TaskID  string // Optional task reference
	Fields  []Field
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and combines their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs error
	for _, notifier := range m.notifiers {
		errs = multierr.Append(errs, notifier.Send(n))
	}
	return errs
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// ForTask summarizes a finished batch task
func ForTask(task domain.BatchTask) Notification {
	stats := domain.Stats(task)
	n := Notification{
		TaskID: task.ID,
		Message: fmt.Sprintf("%d/%d registered, %d failed, %d not attempted (%s)",
			stats.Completed, stats.Total, stats.Failed, stats.Pending,
			task.Duration().Round(time.Second)),
		Fields: []Field{
			{Label: "Registered", Value: strconv.Itoa(stats.Completed)},
			{Label: "Failed", Value: strconv.Itoa(stats.Failed)},
			{Label: "Pending", Value: strconv.Itoa(stats.Pending)},
			{Label: "Progress", Value: fmt.Sprintf("%.0f%%", stats.ProgressPercent)},
		},
	}
	switch task.Status {
	case domain.StatusCompleted:
		n.Title = "Batch completed"
		n.Type = NotifySuccess
		if stats.Failed > 0 {
			n.Type = NotifyWarning
		}
	case domain.StatusStopped:
		n.Title = "Batch stopped"
		n.Type = NotifyWarning
	case domain.StatusFailed:
		n.Title = "Batch failed"
		n.Type = NotifyError
		if task.Error != "" {
			n.Message += ": " + task.Error
		}
	default:
		n.Title = "Batch " + string(task.Status)
		n.Type = NotifyInfo
	}
	return n
}

// OnTerminal returns a progress listener that notifies once per task when
// it reaches a terminal state. Sending happens off the caller's goroutine.
func OnTerminal(notifier Notifier, logger logr.Logger) func(domain.BatchTask) {
	var (
		mu   sync.Mutex
		sent = make(map[string]bool)
	)
	return func(task domain.BatchTask) {
		if !task.Status.IsTerminal() {
			return
		}
		mu.Lock()
		if sent[task.ID] {
			mu.Unlock()
			return
		}
		sent[task.ID] = true
		mu.Unlock()

		go func() {
			if err := notifier.Send(ForTask(task)); err != nil {
				logger.Error(err, "Failed to send notification", "task", task.ID)
			}
		}()
	}
}

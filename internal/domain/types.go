package domain

// TaskStatus represents the lifecycle state of a batch task
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusPaused    TaskStatus = "paused"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusStopped   TaskStatus = "stopped"
)

// IsTerminal returns true for states with no transitions out
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// IsActive returns true while an orchestrator owns the task
func (s TaskStatus) IsActive() bool {
	return s == StatusRunning || s == StatusPaused
}

// CanTransition reports whether moving from s to next is a legal lifecycle step
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusPaused || next == StatusStopped ||
			next == StatusCompleted || next == StatusFailed
	case StatusPaused:
		return next == StatusRunning || next == StatusStopped ||
			next == StatusCompleted || next == StatusFailed
	}
	return false
}

// ParseTaskStatus validates a status string
func ParseTaskStatus(s string) (TaskStatus, bool) {
	st := TaskStatus(s)
	switch st {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusStopped:
		return st, true
	}
	return "", false
}

// OutcomeKind is the result of one work item
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
)

// ErrorKind classifies a failed attempt
type ErrorKind string

const (
	ErrorNone                ErrorKind = ""
	ErrorAutomation          ErrorKind = "automation"
	ErrorValidation          ErrorKind = "validation"
	ErrorCaptchaUnsolved     ErrorKind = "captcha_unsolved"
	ErrorVerificationTimeout ErrorKind = "verification_timeout"
	ErrorCanceled            ErrorKind = "canceled"
)

// Retryable reports whether another attempt may succeed
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorAutomation, ErrorCaptchaUnsolved, ErrorVerificationTimeout:
		return true
	}
	return false
}

// Step is a state of the per-item signup workflow
type Step string

const (
	StepStart             Step = "start"
	StepEmailModeSelected Step = "email_mode_selected"
	StepProfileFilled     Step = "profile_filled"
	StepCaptchaSolved     Step = "captcha_solved"
	StepEmailVerified     Step = "email_verified"
	StepPasswordSet       Step = "password_set"
	StepCompleted         Step = "completed"
)

// Steps lists the workflow states in order
var Steps = []Step{
	StepStart,
	StepEmailModeSelected,
	StepProfileFilled,
	StepCaptchaSolved,
	StepEmailVerified,
	StepPasswordSet,
	StepCompleted,
}

// Ordinal returns the position of the step in the workflow, or -1
func (s Step) Ordinal() int {
	for i, st := range Steps {
		if st == s {
			return i
		}
	}
	return -1
}

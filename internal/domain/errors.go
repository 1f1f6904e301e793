package domain

import (
	"context"
	"errors"
	"fmt"
)

// Orchestrator-level errors. They are returned synchronously to callers and
// never affect a running task.
var (
	ErrDuplicateTask     = errors.New("task already exists")
	ErrTaskBusy          = errors.New("task is running or paused")
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task transition")
)

// ErrSinkUnavailable marks a persistence failure that will not heal by
// itself. Sinks wrap it; the orchestrator fails the task when it sees it.
var ErrSinkUnavailable = errors.New("snapshot sink unavailable")

// AutomationError is a transient page interaction failure (element missing,
// navigation timeout, ...)
type AutomationError struct {
	Msg string
	Err error
}

func (e *AutomationError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *AutomationError) Unwrap() error { return e.Err }

// Automationf builds an AutomationError
func Automationf(format string, args ...any) error {
	return &AutomationError{Msg: fmt.Sprintf(format, args...)}
}

// ValidationError marks input data that will never register successfully
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// Validationf builds a ValidationError
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// CaptchaUnsolvedError means the resolver gave no answer within its timeout
type CaptchaUnsolvedError struct {
	Err error
}

func (e *CaptchaUnsolvedError) Error() string {
	if e.Err != nil {
		return "captcha unsolved: " + e.Err.Error()
	}
	return "captcha unsolved"
}

func (e *CaptchaUnsolvedError) Unwrap() error { return e.Err }

// VerificationTimeoutError means no verification code arrived in time
type VerificationTimeoutError struct {
	Address string
	Err     error
}

func (e *VerificationTimeoutError) Error() string {
	msg := "no verification code received for " + e.Address
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationTimeoutError) Unwrap() error { return e.Err }

// StepError records the workflow state that failed and why
type StepError struct {
	Step Step
	Kind ErrorKind
	// Email is the address the attempt submitted, when it got that far
	Email string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Classify maps an error to its ErrorKind
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorNone
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) && stepErr.Kind != ErrorNone {
		return stepErr.Kind
	}
	var (
		validation   *ValidationError
		captcha      *CaptchaUnsolvedError
		verification *VerificationTimeoutError
	)
	switch {
	case errors.As(err, &validation):
		return ErrorValidation
	case errors.As(err, &captcha):
		return ErrorCaptchaUnsolved
	case errors.As(err, &verification):
		return ErrorVerificationTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCanceled
	}
	return ErrorAutomation
}

// IsRetryable reports whether the failure may succeed on another attempt
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

// FailedEmail returns the address a failed attempt used, or "" when the
// error does not carry one
func FailedEmail(err error) string {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Email
	}
	return ""
}

// FailedStep extracts the failing workflow step, if recorded
func FailedStep(err error) Step {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}

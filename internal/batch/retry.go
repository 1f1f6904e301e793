package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

// Runner performs one registration attempt for a work item
type Runner interface {
	Run(ctx context.Context, item domain.WorkItem) (domain.Account, error)
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, item domain.WorkItem) (domain.Account, error)

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, item domain.WorkItem) (domain.Account, error) {
	return f(ctx, item)
}

// RetryPolicy bounds re-attempts of one work item
type RetryPolicy struct {
	MaxAttempts    int
	Delay          time.Duration
	AttemptTimeout time.Duration // zero means no per-attempt limit
}

// DefaultRetryPolicy mirrors the configuration defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 3 * time.Second, AttemptTimeout: 10 * time.Minute}
}

// Validate normalizes the policy
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}
	return nil
}

// Run executes the item until it succeeds, fails permanently or runs out of
// attempts, and converts the result into exactly one Outcome. Failures never
// escape as errors. onAttempt, if set, is called before each attempt.
func (p RetryPolicy) Run(ctx context.Context, item domain.WorkItem, runner Runner, onAttempt func(attempt int)) domain.Outcome {
	logger := logr.FromContextOrDiscard(ctx).WithValues("identity", item.Identity)
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := time.Now()
	var (
		lastErr  error
		attempts int
	)
	for attempts < maxAttempts {
		if ctx.Err() != nil {
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			break
		}

		attempts++
		if onAttempt != nil {
			onAttempt(attempts)
		}
		account, err := p.attempt(ctx, item, runner)
		if err == nil {
			return domain.Outcome{
				Identity:  item.Identity,
				Email:     account.Email,
				Password:  account.Password,
				Kind:      domain.OutcomeCompleted,
				Step:      domain.StepCompleted,
				Attempts:  attempts,
				Elapsed:   time.Since(start),
				Timestamp: time.Now(),
			}
		}
		lastErr = err

		if ctx.Err() != nil || !domain.IsRetryable(err) {
			break
		}
		if attempts < maxAttempts {
			logger.V(1).Info("Attempt failed, retrying", "attempt", attempts, "maxAttempts", maxAttempts, "error", err.Error())
			if !sleep(ctx, p.Delay) {
				break
			}
		}
	}

	kind := domain.Classify(lastErr)
	if ctx.Err() != nil {
		kind = domain.ErrorCanceled
	}
	email := domain.FailedEmail(lastErr)
	if email == "" {
		email = item.Identity
	}
	return domain.Outcome{
		Identity:  item.Identity,
		Email:     email,
		Kind:      domain.OutcomeFailed,
		ErrorKind: kind,
		Step:      domain.FailedStep(lastErr),
		Message:   errorMessage(lastErr),
		Attempts:  attempts,
		Elapsed:   time.Since(start),
		Timestamp: time.Now(),
	}
}

func (p RetryPolicy) attempt(ctx context.Context, item domain.WorkItem, runner Runner) (domain.Account, error) {
	if p.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()
	}
	return runner.Run(ctx, item)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package batch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

// scriptedRunner fails with the given errors in order, then succeeds
func scriptedRunner(errs ...error) (Runner, *int32) {
	var calls int32
	return RunnerFunc(func(ctx context.Context, item domain.WorkItem) (domain.Account, error) {
		n := atomic.AddInt32(&calls, 1)
		if int(n) <= len(errs) {
			return domain.Account{}, errs[n-1]
		}
		return domain.Account{Identity: item.Identity, Email: item.Identity, Password: item.Password}, nil
	}), &calls
}

func TestRetryPolicy_SucceedsOnThirdAttempt(t *testing.T) {
	runner, calls := scriptedRunner(
		&domain.StepError{Step: domain.StepEmailModeSelected, Kind: domain.ErrorAutomation, Err: domain.Automationf("button missing")},
		&domain.StepError{Step: domain.StepCaptchaSolved, Kind: domain.ErrorCaptchaUnsolved, Err: &domain.CaptchaUnsolvedError{}},
	)
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}

	var seen []int
	out := policy.Run(context.Background(), domain.WorkItem{Identity: "a@x.io", Password: "pw"}, runner, func(n int) { seen = append(seen, n) })

	assert.Equal(t, domain.OutcomeCompleted, out.Kind)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, domain.ErrorNone, out.ErrorKind)
	assert.Equal(t, "pw", out.Password)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	timeout := &domain.StepError{Step: domain.StepEmailVerified, Kind: domain.ErrorVerificationTimeout, Err: &domain.VerificationTimeoutError{Address: "a@x.io"}}
	runner, calls := scriptedRunner(domain.Automationf("first"), domain.Automationf("second"), timeout, domain.Automationf("never"))
	policy := RetryPolicy{MaxAttempts: 3}

	out := policy.Run(context.Background(), domain.WorkItem{Identity: "a@x.io"}, runner, nil)

	assert.Equal(t, domain.OutcomeFailed, out.Kind)
	assert.Equal(t, 3, out.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	// last failure wins
	assert.Equal(t, domain.ErrorVerificationTimeout, out.ErrorKind)
	assert.Equal(t, domain.StepEmailVerified, out.Step)
	assert.Contains(t, out.Message, "no verification code")
}

func TestRetryPolicy_ValidationNotRetried(t *testing.T) {
	runner, calls := scriptedRunner(&domain.StepError{Step: domain.StepProfileFilled, Kind: domain.ErrorValidation, Err: domain.Validationf("bad")})
	policy := RetryPolicy{MaxAttempts: 5, Delay: time.Hour}

	out := policy.Run(context.Background(), domain.WorkItem{Identity: "a@x.io"}, runner, nil)

	assert.Equal(t, domain.OutcomeFailed, out.Kind)
	assert.Equal(t, domain.ErrorValidation, out.ErrorKind)
	assert.Equal(t, 1, out.Attempts)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestRetryPolicy_AttemptTimeout(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, item domain.WorkItem) (domain.Account, error) {
		<-ctx.Done()
		return domain.Account{}, ctx.Err()
	})
	policy := RetryPolicy{MaxAttempts: 2, AttemptTimeout: 10 * time.Millisecond}

	out := policy.Run(context.Background(), domain.WorkItem{Identity: "a@x.io"}, runner, nil)

	assert.Equal(t, domain.OutcomeFailed, out.Kind)
	assert.Equal(t, 2, out.Attempts, "deadline exceeded is retryable")
	assert.Equal(t, domain.ErrorAutomation, out.ErrorKind)
}

func TestRetryPolicy_ParentCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := RunnerFunc(func(context.Context, domain.WorkItem) (domain.Account, error) {
		cancel()
		return domain.Account{}, domain.Automationf("flaky")
	})
	policy := RetryPolicy{MaxAttempts: 5, Delay: time.Hour}

	done := make(chan domain.Outcome)
	go func() { done <- policy.Run(ctx, domain.WorkItem{Identity: "a@x.io"}, runner, nil) }()

	select {
	case out := <-done:
		assert.Equal(t, 1, out.Attempts)
		assert.Equal(t, domain.ErrorCanceled, out.ErrorKind)
	case <-time.After(time.Second):
		t.Fatal("retry delay ignored context cancellation")
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultRetryPolicy().Validate())
	require.Error(t, RetryPolicy{MaxAttempts: 0}.Validate())
	require.Error(t, RetryPolicy{MaxAttempts: 1, Delay: -time.Second}.Validate())
}

func TestRetryPolicy_FailedOutcomeEmail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "submitted alias",
			err: &domain.StepError{Step: domain.StepPasswordSet, Kind: domain.ErrorValidation,
				Email: "a+t3@x.io", Err: domain.Validationf("weak password")},
			want: "a+t3@x.io",
		},
		{
			name: "no address recorded",
			err:  domain.Validationf("bad item"),
			want: "a@x.io",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, _ := scriptedRunner(tt.err)
			out := RetryPolicy{MaxAttempts: 1}.Run(context.Background(), domain.WorkItem{Identity: "a@x.io"}, runner, nil)
			assert.Equal(t, domain.OutcomeFailed, out.Kind)
			assert.Equal(t, tt.want, out.Email)
		})
	}
}

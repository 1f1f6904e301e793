// Package workflow drives one registration attempt through the signup
// states. It never retries internally; that is the batch retry policy's job.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

// DefaultEmailTimeout bounds the wait for a verification code
const DefaultEmailTimeout = 300 * time.Second

// Profile is what gets filled into the signup form
type Profile struct {
	Email       string
	DisplayName string
	BirthDate   domain.BirthDate
	Phone       string
}

// Challenge is a captcha presented by the page
type Challenge struct {
	Kind   string
	Prompt string
	Image  []byte
}

// OpenOptions configures a fresh page for one attempt
type OpenOptions struct {
	Item  domain.WorkItem
	Proxy string
}

// Page is a driven signup page. Implementations return *domain.ValidationError
// when the site rejects the submitted data; any other error is treated as an
// automation failure.
type Page interface {
	SelectEmailSignup(ctx context.Context) error
	FillProfile(ctx context.Context, p Profile) error
	// Challenge returns nil when no captcha is shown
	Challenge(ctx context.Context) (*Challenge, error)
	SubmitChallenge(ctx context.Context, answer string) error
	SubmitVerificationCode(ctx context.Context, code string) error
	SubmitPassword(ctx context.Context, password string) error
	Finish(ctx context.Context) error
	Close() error
}

// PageFactory opens one page per attempt
type PageFactory interface {
	Open(ctx context.Context, opts OpenOptions) (Page, error)
}

// CaptchaResolver answers a challenge. An empty answer means unsolved.
type CaptchaResolver interface {
	Solve(ctx context.Context, ch Challenge) (string, error)
}

// EmailCodeResolver fetches the verification code sent to address. An empty
// code means none arrived within timeout.
type EmailCodeResolver interface {
	VerificationCode(ctx context.Context, address, expectedSender string, timeout time.Duration) (string, error)
}

// AliasGenerator derives the signup address for the index-th item of a base
// mailbox
type AliasGenerator interface {
	Alias(base string, index int) (string, error)
}

// Options configures a Workflow
type Options struct {
	Pages          PageFactory
	Captcha        CaptchaResolver
	Codes          EmailCodeResolver
	Aliases        AliasGenerator // optional
	ExpectedSender string
	EmailTimeout   time.Duration
	Proxy          string
}

// Workflow runs the signup state machine. It implements batch.Runner.
type Workflow struct {
	pages          PageFactory
	captcha        CaptchaResolver
	codes          EmailCodeResolver
	aliases        AliasGenerator
	expectedSender string
	emailTimeout   time.Duration
	proxy          string
}

// New creates a workflow
func New(opts Options) (*Workflow, error) {
	switch {
	case opts.Pages == nil:
		return nil, errors.New("page factory is required")
	case opts.Captcha == nil:
		return nil, errors.New("captcha resolver is required")
	case opts.Codes == nil:
		return nil, errors.New("email code resolver is required")
	}
	if opts.EmailTimeout <= 0 {
		opts.EmailTimeout = DefaultEmailTimeout
	}
	return &Workflow{
		pages:          opts.Pages,
		captcha:        opts.Captcha,
		codes:          opts.Codes,
		aliases:        opts.Aliases,
		expectedSender: opts.ExpectedSender,
		emailTimeout:   opts.EmailTimeout,
		proxy:          opts.Proxy,
	}, nil
}

// WithProxy returns a copy of the workflow that opens pages through proxy
func (w *Workflow) WithProxy(proxy string) *Workflow {
	c := *w
	c.proxy = proxy
	return &c
}

// attempt carries the state of one Run
type attempt struct {
	page  Page
	item  domain.WorkItem
	email string
	step  domain.Step
	log   logr.Logger
}

// advance records that the machine reached next. Steps only move forward.
func (a *attempt) advance(next domain.Step) {
	if next.Ordinal() <= a.step.Ordinal() {
		panic(fmt.Sprintf("workflow: backward transition %s -> %s", a.step, next))
	}
	a.step = next
	a.log.V(1).Info("Step reached", "step", next)
}

// tag attaches the submitted address to a step failure
func (a *attempt) tag(err error) error {
	var stepErr *domain.StepError
	if errors.As(err, &stepErr) && stepErr.Email == "" {
		stepErr.Email = a.email
	}
	return err
}

// fail wraps err as the failure of the transition into target
func fail(target domain.Step, kind domain.ErrorKind, err error) error {
	return &domain.StepError{Step: target, Kind: kind, Err: err}
}

// canceled reports a caller abort, as opposed to an attempt deadline
func canceled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// pageFailure classifies an error returned by the page
func pageFailure(target domain.Step, err error) error {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return fail(target, domain.ErrorValidation, err)
	}
	if errors.Is(err, context.Canceled) {
		return fail(target, domain.ErrorCanceled, err)
	}
	var automation *domain.AutomationError
	if !errors.As(err, &automation) {
		err = &domain.AutomationError{Msg: "page interaction failed", Err: err}
	}
	return fail(target, domain.ErrorAutomation, err)
}

// Run performs one registration attempt for item. Errors are *domain.StepError.
func (w *Workflow) Run(ctx context.Context, item domain.WorkItem) (domain.Account, error) {
	a := &attempt{
		item:  item,
		email: item.Identity,
		step:  domain.StepStart,
		log:   logr.FromContextOrDiscard(ctx).WithValues("identity", item.Identity),
	}

	if w.aliases != nil {
		alias, err := w.aliases.Alias(item.Identity, item.Index)
		if err != nil {
			return domain.Account{}, fail(domain.StepProfileFilled, domain.ErrorValidation,
				&domain.ValidationError{Msg: err.Error()})
		}
		a.email = alias
	}

	page, err := w.pages.Open(ctx, OpenOptions{Item: item, Proxy: w.proxy})
	if err != nil {
		return domain.Account{}, a.tag(pageFailure(domain.StepEmailModeSelected, err))
	}
	a.page = page
	defer func() {
		if err := page.Close(); err != nil {
			a.log.V(1).Info("Closing page failed", "error", err.Error())
		}
	}()

	for _, step := range []func(context.Context, *attempt) error{
		w.selectEmailMode,
		w.fillProfile,
		w.solveCaptcha,
		w.verifyEmail,
		w.setPassword,
		w.finish,
	} {
		if err := ctx.Err(); err != nil {
			return domain.Account{}, a.tag(pageFailure(domain.Steps[a.step.Ordinal()+1], err))
		}
		if err := step(ctx, a); err != nil {
			a.log.V(1).Info("Step failed", "reached", a.step, "error", err.Error())
			return domain.Account{}, a.tag(err)
		}
	}

	return domain.Account{Identity: item.Identity, Email: a.email, Password: item.Password}, nil
}

func (w *Workflow) selectEmailMode(ctx context.Context, a *attempt) error {
	if err := a.page.SelectEmailSignup(ctx); err != nil {
		return pageFailure(domain.StepEmailModeSelected, err)
	}
	a.advance(domain.StepEmailModeSelected)
	return nil
}

func (w *Workflow) fillProfile(ctx context.Context, a *attempt) error {
	if err := a.item.Validate(); err != nil {
		return fail(domain.StepProfileFilled, domain.ErrorValidation, err)
	}
	profile := Profile{
		Email:       a.email,
		DisplayName: a.item.DisplayName,
		BirthDate:   a.item.BirthDate,
		Phone:       a.item.Phone,
	}
	if err := a.page.FillProfile(ctx, profile); err != nil {
		return pageFailure(domain.StepProfileFilled, err)
	}
	a.advance(domain.StepProfileFilled)
	return nil
}

func (w *Workflow) solveCaptcha(ctx context.Context, a *attempt) error {
	ch, err := a.page.Challenge(ctx)
	if err != nil {
		return pageFailure(domain.StepCaptchaSolved, err)
	}
	if ch != nil {
		answer, err := w.captcha.Solve(ctx, *ch)
		switch {
		case canceled(ctx):
			return fail(domain.StepCaptchaSolved, domain.ErrorCanceled, ctx.Err())
		case err != nil:
			return fail(domain.StepCaptchaSolved, domain.ErrorCaptchaUnsolved, &domain.CaptchaUnsolvedError{Err: err})
		case answer == "":
			return fail(domain.StepCaptchaSolved, domain.ErrorCaptchaUnsolved, &domain.CaptchaUnsolvedError{})
		}
		if err := a.page.SubmitChallenge(ctx, answer); err != nil {
			return pageFailure(domain.StepCaptchaSolved, err)
		}
	}
	a.advance(domain.StepCaptchaSolved)
	return nil
}

func (w *Workflow) verifyEmail(ctx context.Context, a *attempt) error {
	code, err := w.codes.VerificationCode(ctx, a.email, w.expectedSender, w.emailTimeout)
	switch {
	case canceled(ctx):
		return fail(domain.StepEmailVerified, domain.ErrorCanceled, ctx.Err())
	case err != nil:
		return fail(domain.StepEmailVerified, domain.ErrorVerificationTimeout,
			&domain.VerificationTimeoutError{Address: a.email, Err: err})
	case code == "":
		return fail(domain.StepEmailVerified, domain.ErrorVerificationTimeout,
			&domain.VerificationTimeoutError{Address: a.email})
	}
	if err := a.page.SubmitVerificationCode(ctx, code); err != nil {
		return pageFailure(domain.StepEmailVerified, err)
	}
	a.advance(domain.StepEmailVerified)
	return nil
}

func (w *Workflow) setPassword(ctx context.Context, a *attempt) error {
	if err := a.page.SubmitPassword(ctx, a.item.Password); err != nil {
		return pageFailure(domain.StepPasswordSet, err)
	}
	a.advance(domain.StepPasswordSet)
	return nil
}

func (w *Workflow) finish(ctx context.Context, a *attempt) error {
	if err := a.page.Finish(ctx); err != nil {
		return pageFailure(domain.StepCompleted, err)
	}
	a.advance(domain.StepCompleted)
	return nil
}

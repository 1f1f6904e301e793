package workflow

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

// DryRunSender is the From address of simulated verification mails
const DryRunSender = "verify@dryrun.invalid"

// DryRunFactory opens simulated signup pages. Each page walks the same steps
// as a real one, mails its verification code into Inbox and fails at random
// with FailureRate.
type DryRunFactory struct {
	Inbox         *MemoryInbox
	FailureRate   float64
	ChallengeRate float64
	StepDelay     time.Duration
	Rand          *rand.Rand // nil uses the global source

	mu sync.Mutex
}

func (f *DryRunFactory) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Rand != nil {
		return f.Rand.Float64() < p
	}
	return rand.Float64() < p
}

func (f *DryRunFactory) code() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Rand != nil {
		return fmt.Sprintf("%06d", f.Rand.IntN(1000000))
	}
	return fmt.Sprintf("%06d", rand.IntN(1000000))
}

// Open implements PageFactory
func (f *DryRunFactory) Open(ctx context.Context, opts OpenOptions) (Page, error) {
	if f.Inbox == nil {
		return nil, fmt.Errorf("dry run factory has no inbox")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &dryRunPage{factory: f, item: opts.Item}, nil
}

type dryRunPage struct {
	factory *DryRunFactory
	item    domain.WorkItem
	email   string
	code    string
	mailed  bool
	closed  bool
}

func (p *dryRunPage) step(ctx context.Context, name string) error {
	if p.closed {
		return domain.Automationf("%s: page closed", name)
	}
	if d := p.factory.StepDelay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	if p.factory.roll(p.factory.FailureRate) {
		return domain.Automationf("%s: simulated element not found", name)
	}
	return nil
}

func (p *dryRunPage) SelectEmailSignup(ctx context.Context) error {
	return p.step(ctx, "select email signup")
}

func (p *dryRunPage) FillProfile(ctx context.Context, profile Profile) error {
	if err := p.step(ctx, "fill profile"); err != nil {
		return err
	}
	p.email = profile.Email
	return nil
}

func (p *dryRunPage) Challenge(ctx context.Context) (*Challenge, error) {
	if err := p.step(ctx, "captcha"); err != nil {
		return nil, err
	}
	if p.factory.roll(p.factory.ChallengeRate) {
		return &Challenge{Kind: "dryrun", Prompt: "type any word to continue"}, nil
	}
	p.mail()
	return nil, nil
}

func (p *dryRunPage) SubmitChallenge(ctx context.Context, answer string) error {
	if err := p.step(ctx, "submit captcha"); err != nil {
		return err
	}
	if answer == "" {
		return domain.Automationf("submit captcha: empty answer")
	}
	p.mail()
	return nil
}

// mail sends the verification code once the page passed the challenge
func (p *dryRunPage) mail() {
	if p.mailed {
		return
	}
	p.mailed = true
	p.code = p.factory.code()
	p.factory.Inbox.Deliver(Message{
		From:    DryRunSender,
		To:      p.email,
		Subject: "Confirm your email address",
		Body:    "Your verification code: " + p.code,
	})
}

func (p *dryRunPage) SubmitVerificationCode(ctx context.Context, code string) error {
	if err := p.step(ctx, "submit verification code"); err != nil {
		return err
	}
	if code != p.code {
		return domain.Automationf("verification code %s rejected", code)
	}
	return nil
}

func (p *dryRunPage) SubmitPassword(ctx context.Context, password string) error {
	if err := p.step(ctx, "set password"); err != nil {
		return err
	}
	if len(password) < 8 {
		return domain.Validationf("password for %s is shorter than 8 characters", p.email)
	}
	return nil
}

func (p *dryRunPage) Finish(ctx context.Context) error {
	return p.step(ctx, "finish")
}

func (p *dryRunPage) Close() error {
	p.closed = true
	return nil
}

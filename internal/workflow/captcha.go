package workflow

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Captcha modes accepted by configuration
const (
	CaptchaManual     = "manual"
	CaptchaAuto       = "auto"
	CaptchaThirdParty = "third_party"
	CaptchaLLM        = "llm"
)

// ErrUnsupportedCaptchaMode is returned for modes without a resolver here
var ErrUnsupportedCaptchaMode = errors.New("unsupported captcha mode")

// DefaultCaptchaTimeout bounds how long a human gets to answer
const DefaultCaptchaTimeout = 2 * time.Minute

// CaptchaOptions configures NewCaptchaResolver
type CaptchaOptions struct {
	In      io.Reader
	Out     io.Writer
	Timeout time.Duration
}

// NewCaptchaResolver returns the resolver for mode
func NewCaptchaResolver(mode string, opts CaptchaOptions) (CaptchaResolver, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case CaptchaManual, "":
		return NewManualCaptchaResolver(opts.In, opts.Out, opts.Timeout), nil
	case CaptchaAuto, CaptchaThirdParty, CaptchaLLM:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCaptchaMode, mode)
	default:
		return nil, fmt.Errorf("unknown captcha mode %q", mode)
	}
}

// ManualCaptchaResolver asks a human on a terminal. Prompts are serialized;
// concurrent items wait their turn.
type ManualCaptchaResolver struct {
	out     io.Writer
	timeout time.Duration

	lines    chan string
	readOnce sync.Once
	in       io.Reader

	mu sync.Mutex
}

// NewManualCaptchaResolver reads answers line by line from in
func NewManualCaptchaResolver(in io.Reader, out io.Writer, timeout time.Duration) *ManualCaptchaResolver {
	if timeout <= 0 {
		timeout = DefaultCaptchaTimeout
	}
	if out == nil {
		out = io.Discard
	}
	return &ManualCaptchaResolver{
		in:      in,
		out:     out,
		timeout: timeout,
		lines:   make(chan string, 1),
	}
}

func (m *ManualCaptchaResolver) startReader() {
	m.readOnce.Do(func() {
		if m.in == nil {
			return
		}
		go func() {
			scanner := bufio.NewScanner(m.in)
			for scanner.Scan() {
				m.lines <- strings.TrimSpace(scanner.Text())
			}
			close(m.lines)
		}()
	})
}

// Solve implements CaptchaResolver. A timeout yields an empty answer.
func (m *ManualCaptchaResolver) Solve(ctx context.Context, ch Challenge) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.in == nil {
		return "", errors.New("no input available for manual captcha")
	}
	m.startReader()

	// drop answers typed for an earlier prompt that already timed out
	for drained := false; !drained; {
		select {
		case _, ok := <-m.lines:
			if !ok {
				return "", io.EOF
			}
		default:
			drained = true
		}
	}

	prompt := ch.Prompt
	if prompt == "" {
		prompt = "solve the challenge in the browser window"
	}
	fmt.Fprintf(m.out, "\ncaptcha (%s): %s\nanswer within %s: ", ch.Kind, prompt, m.timeout)

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case line, ok := <-m.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-timer.C:
		fmt.Fprintln(m.out, "\ncaptcha timed out")
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

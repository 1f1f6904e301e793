package workflow

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/jellydator/ttlcache/v3"
)

// Message is one mail in an inbox
type Message struct {
	ID       string
	From     string
	To       string
	Subject  string
	Body     string
	Received time.Time
}

// Inbox lists the messages of a mailbox
type Inbox interface {
	Messages(ctx context.Context, mailbox string) ([]Message, error)
}

var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)verification code:?\s*(\d{6})\b`),
	regexp.MustCompile(`(?i)code:\s*(\d{6})\b`),
	regexp.MustCompile(`\b(\d{6})\b`),
}

// ExtractCode finds a six digit verification code in text, or ""
func ExtractCode(text string) string {
	for _, re := range codePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// DefaultCodePollInterval is how often the inbox is checked
const DefaultCodePollInterval = 3 * time.Second

// consumedTTL bounds how long a handed out message is remembered
const consumedTTL = time.Hour

// PollingCodeResolver polls an Inbox until a matching message carries a code.
// A message is handed out at most once, so a retry never reuses the code of
// a previous attempt.
type PollingCodeResolver struct {
	inbox    Inbox
	interval time.Duration
	consumed *ttlcache.Cache[string, struct{}]
	mu       sync.Mutex
}

// NewPollingCodeResolver creates a resolver over inbox
func NewPollingCodeResolver(inbox Inbox, interval time.Duration) *PollingCodeResolver {
	if interval <= 0 {
		interval = DefaultCodePollInterval
	}
	return &PollingCodeResolver{
		inbox:    inbox,
		interval: interval,
		consumed: ttlcache.New(ttlcache.WithTTL[string, struct{}](consumedTTL)),
	}
}

// VerificationCode implements EmailCodeResolver. Plus aliases are read from
// their base mailbox and matched on the recipient.
func (r *PollingCodeResolver) VerificationCode(ctx context.Context, address, expectedSender string, timeout time.Duration) (string, error) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("address", address)
	if timeout <= 0 {
		timeout = DefaultEmailTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mailbox := BaseMailbox(address)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var lastErr error
	for {
		msgs, err := r.inbox.Messages(ctx, mailbox)
		if err != nil {
			lastErr = err
			logger.V(1).Info("Inbox poll failed", "error", err.Error())
		} else if code := r.claim(msgs, address, expectedSender); code != "" {
			return code, nil
		}

		select {
		case <-ctx.Done():
			// a parent cancel is reported as such; the own deadline means no code
			if errors.Is(ctx.Err(), context.Canceled) {
				return "", ctx.Err()
			}
			return "", lastErr
		case <-ticker.C:
		}
	}
}

// claim picks the newest unconsumed matching message and marks it consumed
func (r *PollingCodeResolver) claim(msgs []Message, address, expectedSender string) string {
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Received.After(sorted[j].Received)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed.DeleteExpired()
	for _, m := range sorted {
		if !strings.EqualFold(strings.TrimSpace(m.To), strings.TrimSpace(address)) {
			continue
		}
		if expectedSender != "" && !strings.Contains(strings.ToLower(m.From), strings.ToLower(expectedSender)) {
			continue
		}
		key := messageKey(m)
		if r.consumed.Has(key) {
			continue
		}
		code := ExtractCode(m.Subject + "\n" + m.Body)
		if code == "" {
			continue
		}
		r.consumed.Set(key, struct{}{}, ttlcache.DefaultTTL)
		return code
	}
	return ""
}

func messageKey(m Message) string {
	if m.ID != "" {
		return m.ID
	}
	return m.To + "|" + m.Received.Format(time.RFC3339Nano) + "|" + m.Subject
}

// MemoryInbox is a concurrency-safe in-memory Inbox keyed by base mailbox
type MemoryInbox struct {
	mu    sync.RWMutex
	boxes map[string][]Message
	seq   int
}

// NewMemoryInbox creates an empty inbox
func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{boxes: make(map[string][]Message)}
}

// Deliver files m under the base mailbox of its recipient
func (b *MemoryInbox) Deliver(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	if m.ID == "" {
		m.ID = "msg-" + strconv.Itoa(b.seq)
	}
	if m.Received.IsZero() {
		m.Received = time.Now()
	}
	key := strings.ToLower(BaseMailbox(m.To))
	b.boxes[key] = append(b.boxes[key], m)
}

// Messages implements Inbox
func (b *MemoryInbox) Messages(ctx context.Context, mailbox string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	msgs := b.boxes[strings.ToLower(BaseMailbox(mailbox))]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

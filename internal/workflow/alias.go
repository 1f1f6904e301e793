package workflow

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
)

// SuffixMode selects how plus-alias suffixes are chosen
type SuffixMode string

const (
	SuffixAuto   SuffixMode = "auto"
	SuffixManual SuffixMode = "manual"
)

// PlusAliasGenerator derives user+<suffix><index>@domain addresses from a
// base mailbox. All aliases land in the base mailbox.
type PlusAliasGenerator struct {
	Mode         SuffixMode
	ManualSuffix string

	once sync.Once
	auto string
}

// Alias implements AliasGenerator
func (g *PlusAliasGenerator) Alias(base string, index int) (string, error) {
	local, domainPart, err := splitAddress(base)
	if err != nil {
		return "", err
	}
	if index < 0 {
		return "", fmt.Errorf("alias index must not be negative, got %d", index)
	}
	suffix, err := g.suffix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s+%s%d@%s", BaseLocalPart(local), suffix, index, domainPart), nil
}

func (g *PlusAliasGenerator) suffix() (string, error) {
	if g.Mode == SuffixManual {
		if g.ManualSuffix == "" {
			return "", fmt.Errorf("manual suffix mode requires a suffix")
		}
		for _, r := range g.ManualSuffix {
			if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
				return "", fmt.Errorf("suffix %q must be alphanumeric", g.ManualSuffix)
			}
		}
		return g.ManualSuffix, nil
	}
	// one random token per generator keeps aliases of separate runs apart
	g.once.Do(func() {
		g.auto = strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	})
	return g.auto, nil
}

// BaseMailbox strips a plus tag from an address: a+x1@d -> a@d
func BaseMailbox(address string) string {
	local, domainPart, err := splitAddress(address)
	if err != nil {
		return address
	}
	return BaseLocalPart(local) + "@" + domainPart
}

// BaseLocalPart drops everything from the first '+'
func BaseLocalPart(local string) string {
	if i := strings.IndexByte(local, '+'); i >= 0 {
		return local[:i]
	}
	return local
}

func splitAddress(address string) (local, domainPart string, err error) {
	address = strings.TrimSpace(address)
	i := strings.LastIndexByte(address, '@')
	if i <= 0 || i == len(address)-1 {
		return "", "", fmt.Errorf("invalid email address %q", address)
	}
	return address[:i], address[i+1:], nil
}

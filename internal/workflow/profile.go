package workflow

import (
	"math/rand/v2"
	"strings"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

var (
	firstNames = []string{
		"Alex", "Jordan", "Taylor", "Morgan", "Casey", "Riley", "Jamie", "Avery",
		"Quinn", "Robin", "Sam", "Charlie", "Drew", "Elliot", "Finley", "Harper",
	}
	lastNames = []string{
		"Baker", "Carter", "Ellis", "Fischer", "Hayes", "Keller", "Lang", "Meyer",
		"Novak", "Parker", "Reed", "Schultz", "Turner", "Vogel", "Walsh", "Young",
	}
)

const (
	lowerChars   = "abcdefghijkmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars   = "23456789"
	specialChars = "!@#$%&*?"

	passwordLength = 16
)

// ProfileGenerator makes synthetic profile data for generated work items
type ProfileGenerator struct {
	Rand *rand.Rand // nil uses the global source
}

func (g ProfileGenerator) intN(n int) int {
	if g.Rand != nil {
		return g.Rand.IntN(n)
	}
	return rand.IntN(n)
}

func (g ProfileGenerator) pick(s string) byte {
	return s[g.intN(len(s))]
}

// DisplayName returns "First Last"
func (g ProfileGenerator) DisplayName() string {
	return firstNames[g.intN(len(firstNames))] + " " + lastNames[g.intN(len(lastNames))]
}

// Password returns a 16 character password with at least one lower, upper,
// digit and special character
func (g ProfileGenerator) Password() string {
	all := lowerChars + upperChars + digitChars + specialChars
	buf := []byte{g.pick(lowerChars), g.pick(upperChars), g.pick(digitChars), g.pick(specialChars)}
	for len(buf) < passwordLength {
		buf = append(buf, g.pick(all))
	}
	for i := len(buf) - 1; i > 0; i-- {
		j := g.intN(i + 1)
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// BirthDate returns a date between 1980 and 2000; days stop at 28 so every
// month is valid
func (g ProfileGenerator) BirthDate() domain.BirthDate {
	return domain.BirthDate{
		Year:  1980 + g.intN(21),
		Month: 1 + g.intN(12),
		Day:   1 + g.intN(28),
	}
}

// Items builds count work items. Identities are plus aliases of base when
// aliases is set, otherwise base itself is reused for every item.
func (g ProfileGenerator) Items(base string, count int, aliases AliasGenerator) ([]domain.WorkItem, error) {
	items := make([]domain.WorkItem, 0, count)
	for i := 0; i < count; i++ {
		identity := strings.TrimSpace(base)
		if aliases != nil {
			alias, err := aliases.Alias(base, i)
			if err != nil {
				return nil, err
			}
			identity = alias
		}
		items = append(items, domain.WorkItem{
			Index:       i,
			Identity:    identity,
			DisplayName: g.DisplayName(),
			Password:    g.Password(),
			BirthDate:   g.BirthDate(),
		})
	}
	return items, nil
}

// Complete fills missing profile fields of imported items
func (g ProfileGenerator) Complete(items []domain.WorkItem) []domain.WorkItem {
	out := make([]domain.WorkItem, len(items))
	for i, it := range items {
		if it.DisplayName == "" {
			it.DisplayName = g.DisplayName()
		}
		if it.Password == "" {
			it.Password = g.Password()
		}
		if it.BirthDate == (domain.BirthDate{}) {
			it.BirthDate = g.BirthDate()
		}
		out[i] = it
	}
	return out
}

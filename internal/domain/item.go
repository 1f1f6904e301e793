package domain

import (
	"fmt"
	"strings"
	"time"
)

// BirthDate is the date of birth submitted on the signup form
type BirthDate struct {
	Year  int `json:"year" yaml:"year"`
	Month int `json:"month" yaml:"month"`
	Day   int `json:"day" yaml:"day"`
}

// ParseBirthDate parses YYYY-MM-DD
func ParseBirthDate(s string) (BirthDate, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return BirthDate{}, fmt.Errorf("invalid birth date %q: %w", s, err)
	}
	return BirthDate{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}, nil
}

// String formats the date as YYYY-MM-DD
func (b BirthDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", b.Year, b.Month, b.Day)
}

// Validate checks that the date exists on the calendar
func (b BirthDate) Validate() error {
	if b.Year < 1900 || b.Month < 1 || b.Month > 12 || b.Day < 1 {
		return fmt.Errorf("birth date %s out of range", b)
	}
	t := time.Date(b.Year, time.Month(b.Month), b.Day, 0, 0, 0, 0, time.UTC)
	if t.Day() != b.Day {
		return fmt.Errorf("birth date %s does not exist", b)
	}
	if t.After(time.Now()) {
		return fmt.Errorf("birth date %s is in the future", b)
	}
	return nil
}

// WorkItem is one identity plus the data needed to attempt registration.
// Items are immutable once enqueued into a task.
type WorkItem struct {
	Index       int       `json:"index" yaml:"-"`
	Identity    string    `json:"identity" yaml:"identity"`
	DisplayName string    `json:"display_name" yaml:"display_name"`
	Password    string    `json:"password" yaml:"password"`
	BirthDate   BirthDate `json:"birth_date" yaml:"birth_date"`
	Phone       string    `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// Validate returns a ValidationError describing malformed input
func (w WorkItem) Validate() error {
	switch {
	case strings.TrimSpace(w.Identity) == "":
		return Validationf("identity is empty")
	case !strings.Contains(w.Identity, "@"):
		return Validationf("identity %q is not an email address", w.Identity)
	case w.Password == "":
		return Validationf("password is empty for %s", w.Identity)
	case w.DisplayName == "":
		return Validationf("display name is empty for %s", w.Identity)
	}
	if err := w.BirthDate.Validate(); err != nil {
		return &ValidationError{Msg: err.Error()}
	}
	return nil
}

// Reindex assigns positional indexes to items in order
func Reindex(items []WorkItem) []WorkItem {
	out := make([]WorkItem, len(items))
	for i, it := range items {
		it.Index = i
		out[i] = it
	}
	return out
}

// Account is what a successful signup produced
type Account struct {
	Identity string `json:"identity"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

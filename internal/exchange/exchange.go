// Package exchange moves identities and outcomes in and out of files.
package exchange

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

// Format is a file format for import or export
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatTXT  Format = "txt"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format name
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "txt", "text":
		return FormatTXT, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q (want json, csv, txt or yaml)", s)
}

// DetectFormat derives the format from a file extension
func DetectFormat(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot detect format of %s: no extension", path)
	}
	return ParseFormat(ext)
}

// OutcomeHeader is the CSV header of exported outcomes
var OutcomeHeader = []string{
	"identity", "email", "password", "status", "error_kind", "step",
	"message", "attempts", "elapsed_ms", "timestamp",
}

// WriteOutcomes encodes outcomes. TXT carries only completed outcomes as
// identity,password,email lines.
func WriteOutcomes(w io.Writer, outcomes []domain.Outcome, format Format) error {
	switch format {
	case FormatJSON:
		if outcomes == nil {
			outcomes = []domain.Outcome{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)

	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(OutcomeHeader); err != nil {
			return err
		}
		for _, o := range outcomes {
			record := []string{
				o.Identity,
				o.Email,
				o.Password,
				string(o.Kind),
				string(o.ErrorKind),
				string(o.Step),
				o.Message,
				strconv.Itoa(o.Attempts),
				strconv.FormatInt(o.Elapsed.Milliseconds(), 10),
				o.Timestamp.Format(time.RFC3339),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	case FormatTXT:
		bw := bufio.NewWriter(w)
		for _, o := range outcomes {
			if !o.Succeeded() {
				continue
			}
			if _, err := fmt.Fprintf(bw, "%s,%s,%s\n", o.Identity, o.Password, o.Email); err != nil {
				return err
			}
		}
		return bw.Flush()

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(outcomesYAML(outcomes)); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported export format %q", format)
}

type outcomeYAML struct {
	Identity  string `yaml:"identity"`
	Email     string `yaml:"email"`
	Password  string `yaml:"password,omitempty"`
	Status    string `yaml:"status"`
	ErrorKind string `yaml:"error_kind,omitempty"`
	Step      string `yaml:"step,omitempty"`
	Message   string `yaml:"message,omitempty"`
	Attempts  int    `yaml:"attempts"`
	ElapsedMs int64  `yaml:"elapsed_ms"`
	Timestamp string `yaml:"timestamp"`
}

func outcomesYAML(outcomes []domain.Outcome) []outcomeYAML {
	out := make([]outcomeYAML, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, outcomeYAML{
			Identity:  o.Identity,
			Email:     o.Email,
			Password:  o.Password,
			Status:    string(o.Kind),
			ErrorKind: string(o.ErrorKind),
			Step:      string(o.Step),
			Message:   o.Message,
			Attempts:  o.Attempts,
			ElapsedMs: o.Elapsed.Milliseconds(),
			Timestamp: o.Timestamp.Format(time.RFC3339),
		})
	}
	return out
}

// ExportOutcomes writes outcomes to path, creating parent directories
func ExportOutcomes(path string, outcomes []domain.Outcome, format Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteOutcomes(f, outcomes, format); err != nil {
		f.Close()
		return fmt.Errorf("export %s: %w", path, err)
	}
	return f.Close()
}

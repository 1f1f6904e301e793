package exchange

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

// record is one imported identity as written in JSON, YAML or CSV
type record struct {
	Identity    string `json:"identity" yaml:"identity"`
	Email       string `json:"email" yaml:"email"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Password    string `json:"password" yaml:"password"`
	BirthDate   string `json:"birth_date" yaml:"birth_date"`
	Phone       string `json:"phone" yaml:"phone"`
}

func (r record) item(where string) (domain.WorkItem, error) {
	identity := strings.TrimSpace(r.Identity)
	if identity == "" {
		identity = strings.TrimSpace(r.Email)
	}
	if identity == "" || !strings.Contains(identity, "@") {
		return domain.WorkItem{}, fmt.Errorf("%s: invalid identity %q", where, identity)
	}
	item := domain.WorkItem{
		Identity:    identity,
		DisplayName: strings.TrimSpace(r.DisplayName),
		Password:    r.Password,
		Phone:       strings.TrimSpace(r.Phone),
	}
	if strings.TrimSpace(r.BirthDate) != "" {
		bd, err := domain.ParseBirthDate(r.BirthDate)
		if err != nil {
			return domain.WorkItem{}, fmt.Errorf("%s: %w", where, err)
		}
		item.BirthDate = bd
	}
	return item, nil
}

// ImportItems reads work items from path, choosing the decoder by extension
func ImportItems(path string) ([]domain.WorkItem, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	items, err := ReadItems(f, format)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	return items, nil
}

// ReadItems decodes work items and re-indexes them
func ReadItems(r io.Reader, format Format) ([]domain.WorkItem, error) {
	var (
		records []record
		err     error
	)
	switch format {
	case FormatCSV:
		records, err = readCSV(r)
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&records)
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&records)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case FormatTXT:
		records, err = readTXT(r)
	default:
		err = fmt.Errorf("unsupported import format %q", format)
	}
	if err != nil {
		return nil, err
	}

	items := make([]domain.WorkItem, 0, len(records))
	seen := make(map[string]bool)
	for i, rec := range records {
		item, err := rec.item(fmt.Sprintf("entry %d", i+1))
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(item.Identity)
		if seen[key] {
			return nil, fmt.Errorf("entry %d: duplicate identity %s", i+1, item.Identity)
		}
		seen[key] = true
		items = append(items, item)
	}
	return domain.Reindex(items), nil
}

func readCSV(r io.Reader) ([]record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cols := make(map[string]int)
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["identity"]; !ok {
		if _, ok := cols["email"]; !ok {
			return nil, fmt.Errorf("csv header needs an identity or email column, got %v", header)
		}
	}

	field := func(row []string, name string) string {
		if i, ok := cols[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var records []record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record{
			Identity:    field(row, "identity"),
			Email:       field(row, "email"),
			DisplayName: field(row, "display_name"),
			Password:    field(row, "password"),
			BirthDate:   field(row, "birth_date"),
			Phone:       field(row, "phone"),
		})
	}
	return records, nil
}

// readTXT parses identity[,password] lines; blank lines and # comments are
// skipped
func readTXT(r io.Reader) ([]record, error) {
	var records []record
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, password, _ := strings.Cut(line, ",")
		records = append(records, record{
			Identity: strings.TrimSpace(identity),
			Password: strings.TrimSpace(password),
		})
	}
	return records, scanner.Err()
}

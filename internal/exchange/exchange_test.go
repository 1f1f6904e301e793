package exchange

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

var ts = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func outcomes() []domain.Outcome {
	return []domain.Outcome{
		{Identity: "a@example.com", Email: "a+x0@example.com", Password: "pw-a", Kind: domain.OutcomeCompleted,
			Step: domain.StepCompleted, Attempts: 1, Elapsed: 2500 * time.Millisecond, Timestamp: ts},
		{Identity: "b@example.com", Email: "b@example.com", Kind: domain.OutcomeFailed,
			ErrorKind: domain.ErrorCaptchaUnsolved, Step: domain.StepCaptchaSolved, Message: "captcha unsolved, gave up",
			Attempts: 3, Elapsed: time.Minute, Timestamp: ts},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"CSV", FormatCSV, false},
		{"text", FormatTXT, false},
		{"yml", FormatYAML, false},
		{"xlsx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}

	f, err := DetectFormat("/tmp/out/accounts.yaml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = DetectFormat("/tmp/noext")
	assert.Error(t, err)
}

func TestWriteOutcomes_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOutcomes(&buf, outcomes(), FormatCSV))

	want := strings.Join([]string{
		"identity,email,password,status,error_kind,step,message,attempts,elapsed_ms,timestamp",
		"a@example.com,a+x0@example.com,pw-a,completed,,completed,,1,2500,2026-03-14T15:09:26Z",
		`b@example.com,b@example.com,,failed,captcha_unsolved,captcha_solved,"captcha unsolved, gave up",3,60000,2026-03-14T15:09:26Z`,
		"",
	}, "\n")
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteOutcomes_TXT(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOutcomes(&buf, outcomes(), FormatTXT))
	assert.Equal(t, "a@example.com,pw-a,a+x0@example.com\n", buf.String())
}

func TestWriteOutcomes_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOutcomes(&buf, nil, FormatJSON))
	assert.JSONEq(t, "[]", buf.String())

	buf.Reset()
	require.NoError(t, WriteOutcomes(&buf, outcomes(), FormatJSON))
	var decoded []domain.Outcome
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, 2)
	assert.Equal(t, domain.ErrorCaptchaUnsolved, decoded[1].ErrorKind)
}

func TestWriteOutcomes_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOutcomes(&buf, outcomes(), FormatYAML))
	assert.Contains(t, buf.String(), "error_kind: captcha_unsolved")
	assert.Contains(t, buf.String(), "elapsed_ms: 2500")
}

func TestExportOutcomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "accounts.txt")
	require.NoError(t, ExportOutcomes(path, outcomes(), FormatTXT))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com,pw-a,a+x0@example.com\n", string(data))
}

func TestReadItems(t *testing.T) {
	want := []domain.WorkItem{
		{Index: 0, Identity: "a@example.com", DisplayName: "Ann", Password: "pw-a", BirthDate: domain.BirthDate{Year: 1990, Month: 1, Day: 2}},
		{Index: 1, Identity: "b@example.com", Password: "pw-b"},
	}

	tests := []struct {
		name   string
		format Format
		input  string
	}{
		{"csv", FormatCSV, "identity,display_name,password,birth_date,phone\n" +
			"a@example.com,Ann,pw-a,1990-01-02,\n" +
			"# skipped\n" +
			"b@example.com,,pw-b,,\n"},
		{"csv with email column", FormatCSV, "email,password,display_name,birth_date\n" +
			"a@example.com,pw-a,Ann,1990-01-02\n" +
			"b@example.com,pw-b,,\n"},
		{"json", FormatJSON, `[
			{"identity": "a@example.com", "display_name": "Ann", "password": "pw-a", "birth_date": "1990-01-02"},
			{"email": "b@example.com", "password": "pw-b"}
		]`},
		{"yaml", FormatYAML, "- identity: a@example.com\n  display_name: Ann\n  password: pw-a\n  birth_date: \"1990-01-02\"\n" +
			"- identity: b@example.com\n  password: pw-b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadItems(strings.NewReader(tt.input), tt.format)
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("items mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadItems_TXT(t *testing.T) {
	input := "# accounts\n\na@example.com, pw-a\nb@example.com\n"
	got, err := ReadItems(strings.NewReader(input), FormatTXT)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pw-a", got[0].Password)
	assert.Equal(t, "", got[1].Password)
	assert.Equal(t, 1, got[1].Index)
}

func TestReadItems_Errors(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		input  string
	}{
		{"no identity column", FormatCSV, "name,password\nx,y\n"},
		{"bad identity", FormatTXT, "not-an-email\n"},
		{"bad date", FormatCSV, "identity,birth_date\na@example.com,1990-13-01\n"},
		{"duplicate", FormatTXT, "a@example.com\nA@example.com\n"},
		{"bad json", FormatJSON, "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadItems(strings.NewReader(tt.input), tt.format)
			assert.Error(t, err)
		})
	}
}

func TestImportItems(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ids.yml")
	require.NoError(t, os.WriteFile(path, []byte("- identity: z@example.com\n"), 0644))

	items, err := ImportItems(path)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "z@example.com", items[0].Identity)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	items, err = ImportItems(empty)
	require.NoError(t, err)
	assert.Empty(t, items)
}

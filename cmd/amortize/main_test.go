package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestRunYAMLToCSV(t *testing.T) {
	path := writeFile(t, "loan.yaml", `
loanAmount: "10000"
annualInterestRate: "0.05"
term: 12
startDate: 2024-01-01
`)
	var out bytes.Buffer
	if err := run([]string{"-format", "csv", path}, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	rows, err := csv.NewReader(&out).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse csv: %v", err)
	}
	if len(rows) != 13 {
		t.Errorf("Expected header and 12 rows, got %d", len(rows))
	}
}

func TestRunJSONSnapshot(t *testing.T) {
	path := writeFile(t, "loan.json", `{
  "loanAmount": "10000",
  "annualInterestRate": "0.05",
  "term": 12,
  "startDate": "2024-01-01",
  "billingModel": "dailySimpleInterest",
  "calendarType": "ACTUAL_365"
}`)
	var out bytes.Buffer
	if err := run([]string{"-format", "json", "-current-date", "2024-03-15", path}, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var snap struct {
		CurrentDate string            `json:"currentDate"`
		Schedule    []json.RawMessage `json:"schedule"`
	}
	if err := json.Unmarshal(out.Bytes(), &snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snap.CurrentDate != "2024-03-15" {
		t.Errorf("Expected current date 2024-03-15, got %q", snap.CurrentDate)
	}
	if len(snap.Schedule) != 12 {
		t.Errorf("Expected 12 entries, got %d", len(snap.Schedule))
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	good := writeFile(t, "loan.json", `{"loanAmount": "1000", "annualInterestRate": "0.05", "term": 6, "startDate": "2024-01-01"}`)
	bad := writeFile(t, "bad.json", `{"loanAmount": "1000", "annualInterestRate": "0.05", "term": 6, "startDate": "2024-01-01", "roundingMethod": "ROUND_SIDEWAYS"}`)

	cases := map[string][]string{
		"no file":        {},
		"unknown format": {"-format", "xml", good},
		"bad date":       {"-current-date", "15/03/2024", good},
		"unknown option": {bad},
		"missing file":   {filepath.Join(t.TempDir(), "nope.yaml")},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(args, &out); err == nil {
				t.Errorf("Expected error, got output %q", strings.TrimSpace(out.String()))
			}
		})
	}
}

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"a@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactionOnKeyedFields(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{level: DEBUG, out: &buf, redactPII: true}

	l.log(INFO, "dispatched", "recipient", "john.doe@example.com", "job_id", "j1")

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("entry is not json: %v", err)
	}
	if entry["recipient"] != "jo***@example.com" {
		t.Errorf("recipient not redacted: %q", entry["recipient"])
	}
	if entry["job_id"] != "j1" {
		t.Errorf("non-PII field mangled: %q", entry["job_id"])
	}
}

func TestRedactionOfEmbeddedEmails(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{level: DEBUG, out: &buf, redactPII: true}

	l.log(WARN, "bounce", "detail", "hard bounce for john.doe@example.com from provider")

	if strings.Contains(buf.String(), "john.doe@example.com") {
		t.Errorf("embedded email leaked: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "jo***@example.com") {
		t.Errorf("embedded email not masked: %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{level: WARN, out: &buf}

	l.log(INFO, "suppressed message")
	if buf.Len() != 0 {
		t.Errorf("INFO emitted below WARN threshold: %s", buf.String())
	}

	l.log(ERROR, "kept message")
	if !strings.Contains(buf.String(), "kept message") {
		t.Errorf("ERROR not emitted: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
		{"nonsense", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

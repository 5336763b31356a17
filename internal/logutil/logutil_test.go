package logutil

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "warn", "json")
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hidden")
	log.Warn("shown", "user_id", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "shown" || rec["user_id"] != float64(7) {
		t.Errorf("record = %v", rec)
	}
}

func TestNewRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		level, format string
	}{
		{"loud", "text"},
		{"info", "xml"},
	}
	for _, tt := range tests {
		if _, err := New(tt.level, tt.format); err == nil {
			t.Errorf("New(%q, %q) accepted", tt.level, tt.format)
		}
	}
}

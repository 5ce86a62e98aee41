package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newBufferLogger(level string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New(&Config{Level: level, Output: "stdout", JSONFormat: true})
	l.output = buf
	return l, buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) LogEntry {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry LogEntry
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("Unmarshal failed: %v: %s", err, lines[len(lines)-1])
	}
	return entry
}

// ============================================================================
// TEST CASES: ENTRY FORMAT
// ============================================================================

// TestKeyValueArgs verifies key-value args land in the fields map
func TestKeyValueArgs(t *testing.T) {
	l, buf := newBufferLogger("INFO")

	l.Info("Exit triggered", "mint", "MintAAA", "pnl_percent", -30.5)

	entry := lastEntry(t, buf)
	if entry.Message != "Exit triggered" {
		t.Errorf("Expected message preserved, got %q", entry.Message)
	}
	if entry.Fields["mint"] != "MintAAA" {
		t.Errorf("Expected mint field, got %v", entry.Fields)
	}
}

// TestErrorValuesFlattened verifies error args serialize as strings
func TestErrorValuesFlattened(t *testing.T) {
	l, buf := newBufferLogger("INFO")

	l.Error("Tick aborted", "error", errors.New("store unavailable"))

	entry := lastEntry(t, buf)
	if entry.Fields["error"] != "store unavailable" {
		t.Errorf("Expected flattened error, got %v", entry.Fields["error"])
	}
}

// TestMalformedArgsPreserved verifies odd arg counts are kept under a
// single field instead of being dropped or formatted into the message
func TestMalformedArgsPreserved(t *testing.T) {
	l, buf := newBufferLogger("INFO")

	l.Info("processed positions", 7)

	entry := lastEntry(t, buf)
	if entry.Message != "processed positions" {
		t.Errorf("Expected message untouched, got %q", entry.Message)
	}
	if entry.Fields["log_args"] != "7" {
		t.Errorf("Expected log_args field, got %v", entry.Fields)
	}
}

// TestLevelFiltering verifies entries below the level are dropped
func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger("WARN")

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "visible") {
		t.Errorf("Expected WARN entry, got %s", lines[0])
	}
}

// ============================================================================
// TEST CASES: DERIVED LOGGERS
// ============================================================================

// TestDerivedScopes verifies domain scope helpers carry their fields
func TestDerivedScopes(t *testing.T) {
	l, buf := newBufferLogger("INFO")

	l.WithComponent("sentinel").ForExit("MintAAA", "STOP_LOSS").Info("Exit triggered")

	entry := lastEntry(t, buf)
	if entry.Component != "sentinel" {
		t.Errorf("Expected component sentinel, got %q", entry.Component)
	}
	if entry.Fields["mint"] != "MintAAA" || entry.Fields["reason"] != "STOP_LOSS" {
		t.Errorf("Unexpected fields: %v", entry.Fields)
	}
}

// TestDerivedLoggerIsolation verifies derivation does not mutate the parent
func TestDerivedLoggerIsolation(t *testing.T) {
	l, buf := newBufferLogger("INFO")

	_ = l.ForCommand("cmd-1", "CLOSE_POSITION", "api")
	l.Info("plain entry")

	entry := lastEntry(t, buf)
	if len(entry.Fields) != 0 {
		t.Errorf("Parent logger should have no fields, got %v", entry.Fields)
	}
}

package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l, err := NewLogger(path, 100)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.LogAttackDetected("req-1", "sess-1", "alice", "instruction_override", "blocked", 0.95, nil)
	l.LogRequestComplete("req-2", "sess-1", "alice", 0.1, 5*time.Millisecond)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("bad JSON line: %v", err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("lines = %d, want 2", len(events))
	}
	if events[0].EventType != EventAttackDetected || events[0].Severity != SeverityCritical {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].EventType != EventRequestComplete || events[1].Severity != SeverityInfo {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestRecentTail(t *testing.T) {
	l, err := NewLogger(filepath.Join(t.TempDir(), "events.jsonl"), 3)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Log(Event{EventType: EventRequestComplete, Severity: SeverityInfo})
	}

	if got := len(l.Recent(0)); got != 3 {
		t.Fatalf("tail = %d, want bounded at 3", got)
	}
	if got := len(l.Recent(2)); got != 2 {
		t.Fatalf("Recent(2) = %d", got)
	}
}

func TestSeverityForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.95, SeverityCritical},
		{0.8, SeverityCritical},
		{0.5, SeverityWarning},
		{0.4, SeverityWarning},
		{0.1, SeverityInfo},
		{0, SeverityInfo},
	}
	for _, tt := range tests {
		if got := SeverityForScore(tt.score); got != tt.want {
			t.Fatalf("SeverityForScore(%f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

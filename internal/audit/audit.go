package audit

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event types.
const (
	EventAttackDetected   = "attack_detected"
	EventRequestBlocked   = "request_blocked"
	EventRequestComplete  = "request_complete"
	EventLeakagePrevented = "leakage_prevented"
	EventRateLimited      = "rate_limited"
)

// Event is one structured security log entry.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Identity   string         `json:"identity,omitempty"`
	EventType  string         `json:"event_type"`
	Severity   string         `json:"severity"`
	RiskScore  float64        `json:"risk_score"`
	AttackType string         `json:"attack_type,omitempty"`
	Action     string         `json:"action,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Logger writes security events as JSON lines and keeps a bounded
// in-memory tail for the events API.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	fallback *log.Logger

	recent    []Event
	maxRecent int
}

// NewLogger creates a security event logger.
// If filePath is empty, events go to stdout.
func NewLogger(filePath string, maxRecent int) (*Logger, error) {
	var file *os.File
	var err error

	if filePath != "" {
		file, err = os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
	} else {
		file = os.Stdout
	}

	if maxRecent <= 0 {
		maxRecent = 1000
	}

	return &Logger{
		file:      file,
		encoder:   json.NewEncoder(file),
		fallback:  log.New(os.Stderr, "[SECURITY] ", log.LstdFlags),
		maxRecent: maxRecent,
	}, nil
}

// Log writes an event and records it in the in-memory tail.
func (l *Logger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityForScore(event.RiskScore)
	}

	if err := l.encoder.Encode(event); err != nil {
		l.fallback.Printf("Failed to write security event: %v, event: %+v", err, event)
	}

	l.recent = append(l.recent, event)
	if len(l.recent) > l.maxRecent {
		l.recent = l.recent[len(l.recent)-l.maxRecent:]
	}
}

// LogAttackDetected records a detected attack on input.
func (l *Logger) LogAttackDetected(requestID, sessionID, identity, attackType, action string, riskScore float64, details map[string]any) {
	l.Log(Event{
		RequestID:  requestID,
		SessionID:  sessionID,
		Identity:   identity,
		EventType:  EventAttackDetected,
		RiskScore:  riskScore,
		AttackType: attackType,
		Action:     action,
		Details:    details,
	})
}

// LogRequestComplete records a request that made it through the pipeline.
func (l *Logger) LogRequestComplete(requestID, sessionID, identity string, riskScore float64, latency time.Duration) {
	l.Log(Event{
		RequestID: requestID,
		SessionID: sessionID,
		Identity:  identity,
		EventType: EventRequestComplete,
		Severity:  SeverityInfo,
		RiskScore: riskScore,
		Details:   map[string]any{"latency_ms": float64(latency.Microseconds()) / 1000},
	})
}

// Recent returns up to limit most recent events, newest last.
func (l *Logger) Recent(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.recent
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil && l.file != os.Stdout {
		return l.file.Close()
	}
	return nil
}

// SeverityForScore maps a risk score onto a severity label.
func SeverityForScore(score float64) string {
	switch {
	case score >= 0.8:
		return SeverityCritical
	case score >= 0.4:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

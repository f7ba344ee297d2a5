package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/promptgate/promptgate/internal/audit"
	"github.com/promptgate/promptgate/internal/backend"
	"github.com/promptgate/promptgate/internal/lengthguard"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/outfilter"
	"github.com/promptgate/promptgate/internal/session"
	"github.com/promptgate/promptgate/internal/validate"
)

// Canned user-facing messages for blocked outcomes.
const (
	blockedInputMessage = "I cannot process that request as it appears to contain unsafe content."
	rateLimitMessage    = "You have exceeded the request rate limit. Please try again shortly."
	tooLongMessage      = "Your message is too long to process."
	errorMessage        = "I apologize, but I encountered an error. Please try again."
)

// Validator decides what to do with raw input.
type Validator interface {
	Validate(text string) *validate.Result
}

// Filter screens model output.
type Filter interface {
	Filter(text string) *outfilter.Result
}

// Request is one user turn entering the pipeline.
type Request struct {
	Input     string
	SessionID string
	Identity  string
	RequestID string
}

// Response is the pipeline's final answer for one request.
type Response struct {
	Message        string         `json:"message"`
	Blocked        bool           `json:"blocked"`
	RiskScore      float64        `json:"risk_score"`
	SessionID      string         `json:"session_id"`
	RequestID      string         `json:"request_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	SecurityAlerts []string       `json:"security_alerts,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	LatencyMs      float64        `json:"latency_ms"`
}

// Stats is the orchestrator's lifetime counters plus derived rates.
type Stats struct {
	TotalRequests      int     `json:"total_requests"`
	BlockedInputs      int     `json:"blocked_inputs"`
	BlockedOutputs     int     `json:"blocked_outputs"`
	SuccessfulRequests int     `json:"successful_requests"`
	TotalBlocked       int     `json:"total_blocked"`
	BlockRate          float64 `json:"block_rate"`
	SuccessRate        float64 `json:"success_rate"`
	ActiveSessions     int     `json:"active_sessions"`
}

// Orchestrator runs requests through the layered security pipeline:
// length guard, input validation, backend call, output filtering. Every
// path out of the pipeline writes both turns to session history.
type Orchestrator struct {
	guard     *lengthguard.Guard
	validator Validator
	backend   backend.Backend
	filter    Filter
	sessions  *session.Store
	events    *audit.Logger
	collector *metrics.Collector
	logger    *log.Logger

	systemPrompt string
	historyLimit int

	mu                 sync.Mutex
	totalRequests      int
	blockedInputs      int
	blockedOutputs     int
	successfulRequests int
}

// Options configures an Orchestrator.
type Options struct {
	Guard        *lengthguard.Guard
	Validator    Validator
	Backend      backend.Backend
	Filter       Filter
	Sessions     *session.Store
	Events       *audit.Logger
	Collector    *metrics.Collector
	Logger       *log.Logger
	SystemPrompt string
	HistoryLimit int
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Orchestrator{
		guard:        opts.Guard,
		validator:    opts.Validator,
		backend:      opts.Backend,
		filter:       opts.Filter,
		sessions:     opts.Sessions,
		events:       opts.Events,
		collector:    opts.Collector,
		logger:       logger,
		systemPrompt: opts.SystemPrompt,
		historyLimit: historyLimit,
	}
}

// HandleRequest runs one user turn through every security layer and
// returns the final response. It never returns an error: failures come
// back as blocked responses so callers always have something to show.
func (o *Orchestrator) HandleRequest(ctx context.Context, req Request) (resp *Response) {
	start := time.Now()

	var sess *session.Session
	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("[ERROR] pipeline panic: %v", r)
			sessionID := req.SessionID
			if sess != nil {
				sessionID = sess.ID
			}
			resp = &Response{
				Message:        errorMessage,
				Blocked:        true,
				SessionID:      sessionID,
				RequestID:      req.RequestID,
				Timestamp:      time.Now().UTC(),
				SecurityAlerts: []string{"internal_error"},
				Metadata:       map[string]any{"error": "internal"},
				LatencyMs:      msSince(start),
			}
		}
	}()

	o.mu.Lock()
	o.totalRequests++
	o.mu.Unlock()
	metrics.RequestsTotal.Inc()

	sess = o.sessions.GetOrCreate(req.SessionID)

	input := req.Input
	var alerts []string
	var inputRisk float64
	inputAction := string(validate.ActionAllow)

	// Layer 1: length and rate limits.
	lengthResult := o.guard.Validate(input, req.Identity)
	if !lengthResult.Valid {
		switch lengthResult.RecommendedAction {
		case lengthguard.ActionRateLimit:
			metrics.RecordBlocked("length")
			o.events.Log(audit.Event{
				RequestID: req.RequestID,
				SessionID: sess.ID,
				Identity:  req.Identity,
				EventType: audit.EventRateLimited,
				Severity:  audit.SeverityWarning,
				Action:    lengthguard.ActionRateLimit,
				Details:   map[string]any{"reason": lengthResult.Reason},
			})
			return o.blocked(sess, req, rateLimitMessage, 0, []string{"rate_limited"}, string(validate.ActionBlock), start)
		case lengthguard.ActionTruncate:
			// Oversized but salvageable input is cut down and allowed
			// through with an alert, rather than rejected outright.
			input = o.guard.TruncateSafely(input, o.guard.MaxTokens())
			alerts = append(alerts, "input_truncated")
		default:
			metrics.RecordBlocked("length")
			return o.blocked(sess, req, tooLongMessage, 0, []string{"input_too_long"}, string(validate.ActionBlock), start)
		}
	}

	// Layer 2: input validation.
	validation := o.validator.Validate(input)
	inputRisk = validation.RiskScore
	inputAction = string(validation.Action)
	metrics.RecordDecision(inputAction)

	if validation.Action == validate.ActionBlock {
		o.mu.Lock()
		o.blockedInputs++
		o.mu.Unlock()
		metrics.RecordBlocked("input")

		attackType := "unknown"
		if validation.Detection != nil && validation.Detection.Category != "" {
			attackType = validation.Detection.Category
			metrics.RecordAttack(attackType)
		}
		o.events.LogAttackDetected(req.RequestID, sess.ID, req.Identity, attackType, "blocked", inputRisk, map[string]any{
			"reasoning": validation.Reasoning,
		})

		alerts = append(alerts, "input_blocked")
		return o.blocked(sess, req, blockedInputMessage, inputRisk, alerts, inputAction, start)
	}

	if validation.SanitizedInput != "" {
		input = validation.SanitizedInput
		alerts = append(alerts, "input_sanitized")
	}

	// Layer 3: backend call with session context.
	turns := historyToTurns(sess.History(o.historyLimit))
	turns = append(turns, backend.Message{Role: "user", Content: input})

	backendResp, err := o.backend.Generate(ctx, o.systemPrompt, turns)
	if err != nil {
		o.logger.Printf("[ERROR] backend %s: %v", o.backend.Name(), err)
		return o.blocked(sess, req, errorMessage, inputRisk, append(alerts, "backend_error"), inputAction, start)
	}
	if backendResp.Blocked {
		alerts = append(alerts, "agent_blocked")
		resp := &Response{
			Message:        backendResp.Text,
			Blocked:        true,
			RiskScore:      inputRisk,
			SessionID:      sess.ID,
			RequestID:      req.RequestID,
			Timestamp:      time.Now().UTC(),
			SecurityAlerts: alerts,
			LatencyMs:      msSince(start),
		}
		o.finalize(sess, req.Input, resp, inputAction)
		return resp
	}

	// Layer 4: output filtering.
	filterResult := o.filter.Filter(backendResp.Text)
	alerts = append(alerts, filterResult.IssuesFound...)

	// Reported risk is the worse of the two sides of the exchange.
	risk := inputRisk
	if filterResult.RiskScore > risk {
		risk = filterResult.RiskScore
	}

	if !filterResult.Approved {
		o.mu.Lock()
		o.blockedOutputs++
		o.mu.Unlock()
		metrics.RecordBlocked("output")
		o.events.Log(audit.Event{
			RequestID: req.RequestID,
			SessionID: sess.ID,
			Identity:  req.Identity,
			EventType: audit.EventLeakagePrevented,
			RiskScore: risk,
			Action:    "blocked",
			Details:   map[string]any{"issues": filterResult.IssuesFound},
		})
		return o.blocked(sess, req, filterResult.FilteredText, risk, alerts, inputAction, start)
	}

	// Success.
	o.mu.Lock()
	o.successfulRequests++
	o.mu.Unlock()

	latency := msSince(start)
	if o.collector != nil {
		o.collector.Record(latency, risk, false, "")
	}
	metrics.LatencyHistogram.Observe(latency / 1000)
	o.events.LogRequestComplete(req.RequestID, sess.ID, req.Identity, risk, time.Since(start))

	resp = &Response{
		Message:        filterResult.FilteredText,
		Blocked:        false,
		RiskScore:      risk,
		SessionID:      sess.ID,
		RequestID:      req.RequestID,
		Timestamp:      time.Now().UTC(),
		SecurityAlerts: alerts,
		Metadata: map[string]any{
			"input_risk":      inputRisk,
			"input_action":    inputAction,
			"output_approved": filterResult.Approved,
			"backend":         o.backend.Name(),
		},
		LatencyMs: latency,
	}
	o.finalize(sess, req.Input, resp, inputAction)
	return resp
}

// blocked builds a blocked response, records metrics, and finalizes the
// session history.
func (o *Orchestrator) blocked(sess *session.Session, req Request, message string, risk float64, alerts []string, inputAction string, start time.Time) *Response {
	latency := msSince(start)
	if o.collector != nil {
		attackType := "unknown"
		if len(alerts) > 0 {
			attackType = alerts[0]
		}
		o.collector.Record(latency, risk, true, attackType)
	}
	metrics.LatencyHistogram.Observe(latency / 1000)

	resp := &Response{
		Message:        message,
		Blocked:        true,
		RiskScore:      risk,
		SessionID:      sess.ID,
		RequestID:      req.RequestID,
		Timestamp:      time.Now().UTC(),
		SecurityAlerts: alerts,
		Metadata: map[string]any{
			"input_risk": risk,
		},
		LatencyMs: latency,
	}
	o.finalize(sess, req.Input, resp, inputAction)
	return resp
}

// finalize writes both turns of the exchange into session history.
func (o *Orchestrator) finalize(sess *session.Session, userInput string, resp *Response, inputAction string) {
	sess.AddMessage("user", userInput, map[string]any{
		"risk_score": resp.RiskScore,
		"action":     inputAction,
	})
	sess.AddMessage("assistant", resp.Message, map[string]any{
		"blocked": resp.Blocked,
		"issues":  resp.SecurityAlerts,
	})
}

// Stats computes lifetime counters and rates on read.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Stats{
		TotalRequests:      o.totalRequests,
		BlockedInputs:      o.blockedInputs,
		BlockedOutputs:     o.blockedOutputs,
		SuccessfulRequests: o.successfulRequests,
		ActiveSessions:     o.sessions.Count(),
	}
	s.TotalBlocked = s.BlockedInputs + s.BlockedOutputs
	if s.TotalRequests > 0 {
		s.BlockRate = float64(s.TotalBlocked) / float64(s.TotalRequests) * 100
		s.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests) * 100
	}
	return s
}

// ClearSession wipes a session's history. Returns false when the session
// does not exist.
func (o *Orchestrator) ClearSession(sessionID string) bool {
	sess, ok := o.sessions.Get(sessionID)
	if !ok {
		return false
	}
	sess.Clear()
	return true
}

// Sessions exposes the underlying store for the HTTP layer.
func (o *Orchestrator) Sessions() *session.Store {
	return o.sessions
}

// Guard exposes the length guard for usage queries.
func (o *Orchestrator) Guard() *lengthguard.Guard {
	return o.guard
}

func historyToTurns(msgs []session.Message) []backend.Message {
	turns := make([]backend.Message, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, backend.Message{Role: m.Role, Content: m.Content})
	}
	return turns
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/promptgate/promptgate/internal/audit"
	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/lengthguard"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/pipeline"
	"github.com/promptgate/promptgate/internal/policy"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Identity  string `json:"identity,omitempty"`
}

// ErrorResponse is returned when a request is rejected before the pipeline
// runs.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Server hosts the gateway HTTP API.
type Server struct {
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	engine       *policy.Engine
	events       *audit.Logger
	collector    *metrics.Collector
	logger       *log.Logger
	router       *mux.Router
}

// New builds the server and its routes.
func New(cfg *config.Config, orch *pipeline.Orchestrator, engine *policy.Engine, events *audit.Logger, collector *metrics.Collector, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		engine:       engine,
		events:       events,
		collector:    collector,
		logger:       logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/chat", s.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/usage/{identity}", s.handleUsage).Methods(http.MethodGet)
	r.HandleFunc("/api/session/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/api/dashboard", s.handleDashboard).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router = r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server with the configured timeouts.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	s.logger.Printf("[INFO] Gateway listening on %s", addr)
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"policy_version": s.engine.PolicyVersion(),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body", requestID)
		return
	}
	if req.Message == "" {
		s.sendError(w, http.StatusBadRequest, "invalid_request", "message is required", requestID)
		return
	}

	identity := req.Identity
	if identity == "" {
		identity = r.Header.Get("X-Identity")
	}
	if identity == "" {
		identity = "anonymous"
	}

	// Admission policy runs once, before the pipeline.
	facts := policy.Facts{
		Identity:   identity,
		Tier:       s.cfg.Security.Tier,
		SessionID:  req.SessionID,
		CharCount:  len([]rune(req.Message)),
		TokenCount: lengthguard.EstimateTokens(req.Message),
	}
	decision, reason, err := s.engine.Evaluate(facts)
	if err != nil {
		s.logger.Printf("[ERROR] Policy evaluation failed: %v", err)
		s.sendError(w, http.StatusForbidden, "policy_error", "Security policy evaluation failed", requestID)
		return
	}
	w.Header().Set("X-Gateway-Policy-Version", s.engine.PolicyVersion())
	if decision == policy.DENY {
		s.logger.Printf("[INFO] Request %s denied by policy: %s", requestID, reason)
		metrics.RecordBlocked("policy")
		s.sendError(w, http.StatusForbidden, "policy_blocked", reason, requestID)
		return
	}

	resp := s.orchestrator.HandleRequest(r.Context(), pipeline.Request{
		Input:     req.Message,
		SessionID: req.SessionID,
		Identity:  identity,
		RequestID: requestID,
	})

	w.Header().Set("X-Gateway-Request-ID", requestID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Stats())
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	summary := s.collector.GetSummary()
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":             summary,
		"block_rate":          summary.BlockRate(),
		"success_rate":        summary.SuccessRate(),
		"attack_distribution": s.collector.AttackDistribution(),
		"last_hour":           s.collector.RequestsInWindow(60),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": s.events.Recent(limit),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]
	writeJSON(w, http.StatusOK, s.orchestrator.Guard().Usage(identity))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.orchestrator.Sessions().Delete(id) {
		writeJSON(w, http.StatusNotFound, map[string]any{"deleted": false, "session_id": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "session_id": id})
}

// handleDashboard aggregates everything the monitoring CLI renders in one
// round trip.
func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	summary := s.collector.GetSummary()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":               s.orchestrator.Stats(),
		"metrics":             summary,
		"block_rate":          summary.BlockRate(),
		"success_rate":        summary.SuccessRate(),
		"attack_distribution": s.collector.AttackDistribution(),
		"recent_events":       s.events.Recent(10),
		"sessions":            s.orchestrator.Sessions().Stats(),
		"policy_version":      s.engine.PolicyVersion(),
		"tier":                s.cfg.Security.Tier,
	})
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("X-Gateway-Request-ID", requestID)
	writeJSON(w, status, ErrorResponse{
		Error:     code,
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

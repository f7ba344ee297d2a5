package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/promptgate/promptgate/internal/audit"
	"github.com/promptgate/promptgate/internal/backend"
	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/detect"
	"github.com/promptgate/promptgate/internal/lengthguard"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/outfilter"
	"github.com/promptgate/promptgate/internal/pipeline"
	"github.com/promptgate/promptgate/internal/policy"
	"github.com/promptgate/promptgate/internal/protect"
	"github.com/promptgate/promptgate/internal/server"
	"github.com/promptgate/promptgate/internal/session"
	"github.com/promptgate/promptgate/internal/validate"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger
	logger := log.New(os.Stdout, "[promptgate] ", log.LstdFlags|log.Lshortfile)

	// Load configuration
	cfg := config.Load()
	logger.Println("Configuration loaded")

	// Model backend
	var be backend.Backend
	switch cfg.Backend.Kind {
	case "openai":
		be = backend.NewBreaker(
			backend.NewOpenAIClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.Model, cfg.Backend.Timeout),
			backend.BreakerConfig{},
		)
	default:
		be = backend.NewMock()
	}
	logger.Printf("Backend: %s", be.Name())

	// Security pipeline components
	detector := detect.NewDetector()
	validator := validate.NewValidator(detector)
	guard := lengthguard.NewGuard(cfg.Security.Tier)
	protector := protect.NewProtector(protect.Context{
		SystemPrompt:     cfg.Security.SystemPrompt,
		SecretKeys:       cfg.Security.SecretKeys,
		ProtectedPhrases: cfg.Security.ProtectedPhrases,
	})
	filter := outfilter.NewFilter(protector)

	// Session store
	sessions, err := session.NewStore(cfg.Sessions.MaxSessions)
	if err != nil {
		logger.Fatalf("Failed to create session store: %v", err)
	}

	// Security event log
	events, err := audit.NewLogger(cfg.Logging.EventLogPath, cfg.Logging.MaxRecent)
	if err != nil {
		logger.Fatalf("Failed to open event log: %v", err)
	}
	defer events.Close()

	// Metrics
	metrics.Init()
	collector := metrics.NewCollector(cfg.Metrics.WindowSize)

	// Admission policy engine
	engine, err := policy.NewEngineWithLogger(cfg.Policy.Path, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize policy engine: %v", err)
	}
	if cfg.Policy.WatchChanges {
		if err := engine.StartHotReload(); err != nil {
			logger.Printf("[ERROR] Policy hot-reload unavailable: %v", err)
		}
		defer engine.StopHotReload()
	}

	orch := pipeline.NewOrchestrator(pipeline.Options{
		Guard:        guard,
		Validator:    validator,
		Backend:      be,
		Filter:       filter,
		Sessions:     sessions,
		Events:       events,
		Collector:    collector,
		Logger:       logger,
		SystemPrompt: cfg.Security.SystemPrompt,
		HistoryLimit: cfg.Sessions.HistoryLimit,
	})

	srv := server.New(cfg, orch, engine, events, collector, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Println("=================================")
	logger.Println("PromptGate Security Gateway")
	logger.Println("=================================")
	logger.Printf("Server:  http://%s", addr)
	logger.Printf("Backend: %s", be.Name())
	logger.Printf("Tier:    %s", cfg.Security.Tier)
	logger.Printf("Policy:  %s (version %s)", cfg.Policy.Path, engine.PolicyVersion())
	logger.Println("=================================")

	if err := srv.ListenAndServe(); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
}

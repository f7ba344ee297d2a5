package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all gateway configuration
type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Security SecurityConfig
	Sessions SessionConfig
	Policy   PolicyConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BackendConfig selects and configures the model backend
type BackendConfig struct {
	Kind    string // mock, openai
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// SecurityConfig holds pipeline settings
type SecurityConfig struct {
	Tier             string // free, starter, pro, enterprise
	BlockThreshold   float64
	SystemPrompt     string
	SecretKeys       []string
	ProtectedPhrases []string
}

// SessionConfig bounds the session store
type SessionConfig struct {
	MaxSessions  int
	HistoryLimit int
}

// PolicyConfig holds admission policy settings
type PolicyConfig struct {
	Path         string
	WatchChanges bool
}

// LoggingConfig holds security event log settings
type LoggingConfig struct {
	EventLogPath string
	MaxRecent    int
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled    bool
	WindowSize int
}

const defaultSystemPrompt = "You are a helpful assistant. Answer questions accurately and concisely."

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT_SEC", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 60)) * time.Second,
		},
		Backend: BackendConfig{
			Kind:    getEnv("BACKEND_KIND", "mock"),
			BaseURL: getEnv("BACKEND_URL", ""),
			APIKey:  getEnv("BACKEND_API_KEY", ""),
			Model:   getEnv("BACKEND_MODEL", "gpt-4o-mini"),
			Timeout: time.Duration(getEnvInt("BACKEND_TIMEOUT_SEC", 30)) * time.Second,
		},
		Security: SecurityConfig{
			Tier:             getEnv("SECURITY_TIER", "free"),
			BlockThreshold:   getEnvFloat("SECURITY_BLOCK_THRESHOLD", 0.8),
			SystemPrompt:     getEnv("SYSTEM_PROMPT", defaultSystemPrompt),
			SecretKeys:       getEnvList("SECRET_KEYS"),
			ProtectedPhrases: getEnvList("PROTECTED_PHRASES"),
		},
		Sessions: SessionConfig{
			MaxSessions:  getEnvInt("SESSION_MAX", 1000),
			HistoryLimit: getEnvInt("SESSION_HISTORY_LIMIT", 50),
		},
		Policy: PolicyConfig{
			Path:         getEnv("POLICY_PATH", "configs/policies.cedar"),
			WatchChanges: getEnvBool("POLICY_WATCH_CHANGES", true),
		},
		Logging: LoggingConfig{
			EventLogPath: getEnv("EVENT_LOG_PATH", ""),
			MaxRecent:    getEnvInt("EVENT_LOG_MAX_RECENT", 1000),
		},
		Metrics: MetricsConfig{
			Enabled:    getEnvBool("METRICS_ENABLED", true),
			WindowSize: getEnvInt("METRICS_WINDOW_SIZE", 10000),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvList parses a comma separated environment variable, trimming
// whitespace and dropping empty entries.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

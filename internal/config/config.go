// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Agent backends.
const (
	BackendLLM  = "llm"
	BackendGRPC = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	AllowedOrigins []string
	AppName        string
	LogLevel       slog.Level
	SessionPolicy  string
	SessionTTL     time.Duration

	Agent      AgentConfig
	Tools      ToolsConfig
	Warehouse  WarehouseConfig
	RateLimit  RateLimitConfig
	Transcript TranscriptConfig
	Timeout    TimeoutConfig
}

// AgentConfig selects and configures the agent backend.
type AgentConfig struct {
	Backend     string
	RuntimeAddr string
	BaseURL     string
	APIKey      string
	MaxSteps    int
	AgentsFile  string
}

// ToolsConfig holds credentials for the agent tools.
type ToolsConfig struct {
	MapsAPIKey     string
	SearchAPIKey   string
	SearchEngineID string
}

// WarehouseConfig selects the anomaly store.
type WarehouseConfig struct {
	Driver          string
	DSN             string
	Project         string
	Table           string
	CredentialsFile string
	Lookback        time.Duration
}

// RateLimitConfig bounds query traffic per client.
type RateLimitConfig struct {
	RPS       float64
	Burst     int
	ClientTTL time.Duration
	// TrustProxy derives the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy bool
}

// TranscriptConfig controls NDJSON transcripts of agent invocations.
type TranscriptConfig struct {
	Dir       string
	QueueSize int
}

// Enabled reports whether transcripts are written.
func (t TranscriptConfig) Enabled() bool { return t.Dir != "" }

// TimeoutConfig holds the per-call bounds.
type TimeoutConfig struct {
	Agent       time.Duration
	Tool        time.Duration
	Warehouse   time.Duration
	HealthCheck time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		AppName:        getEnv("APP_NAME", "city_predictor_agent"),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		SessionPolicy:  getEnv("SESSION_POLICY", "serialize"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 0),
		Agent: AgentConfig{
			Backend:     getEnv("AGENT_BACKEND", BackendLLM),
			RuntimeAddr: getEnv("AGENT_RUNTIME_ADDR", "localhost:50051"),
			BaseURL:     getEnv("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
			APIKey:      getEnv("LLM_API_KEY", os.Getenv("GOOGLE_API_KEY")),
			MaxSteps:    getEnvInt("LLM_MAX_STEPS", 8),
			AgentsFile:  getEnv("AGENTS_FILE", ""),
		},
		Tools: ToolsConfig{
			MapsAPIKey:     getEnv("GOOGLE_MAPS_API_KEY", ""),
			SearchAPIKey:   getEnv("SEARCH_API_KEY", ""),
			SearchEngineID: getEnv("SEARCH_ENGINE_ID", ""),
		},
		Warehouse: WarehouseConfig{
			Driver:          getEnv("WAREHOUSE_DRIVER", "bigquery"),
			DSN:             getEnv("WAREHOUSE_DSN", "./data/anomalies.db"),
			Project:         getEnv("WAREHOUSE_PROJECT", ""),
			Table:           getEnv("WAREHOUSE_TABLE", "direct_store.anamoly_data"),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", "tools/key.json"),
			Lookback:        getEnvDuration("ANOMALY_LOOKBACK", 2*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RPS:        getEnvFloat("RATE_LIMIT_RPS", 1),
			Burst:      getEnvInt("RATE_LIMIT_BURST", 5),
			ClientTTL:  getEnvDuration("RATE_LIMIT_CLIENT_TTL", 10*time.Minute),
			TrustProxy: getEnvBool("TRUST_PROXY_HEADERS", false),
		},
		Transcript: TranscriptConfig{
			Dir:       getEnv("TRANSCRIPT_DIR", ""),
			QueueSize: getEnvInt("TRANSCRIPT_QUEUE_SIZE", 1000),
		},
		Timeout: TimeoutConfig{
			Agent:       getEnvDuration("AGENT_TIMEOUT", 3*time.Minute),
			Tool:        getEnvDuration("TOOL_TIMEOUT", 180*time.Second),
			Warehouse:   getEnvDuration("WAREHOUSE_TIMEOUT", 30*time.Second),
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.AppName == "" {
		return fmt.Errorf("APP_NAME cannot be empty")
	}
	if c.SessionPolicy != "serialize" && c.SessionPolicy != "reject" {
		return fmt.Errorf("SESSION_POLICY must be serialize or reject, got %q", c.SessionPolicy)
	}

	switch c.Agent.Backend {
	case BackendLLM:
		if c.Agent.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY or GOOGLE_API_KEY is required for the llm backend")
		}
		if c.Tools.MapsAPIKey == "" {
			return fmt.Errorf("GOOGLE_MAPS_API_KEY is required for the llm backend")
		}
		// The embedded catalog's context agents call web_search. A custom
		// AGENTS_FILE is checked against the registered tools at startup.
		if c.Agent.AgentsFile == "" && (c.Tools.SearchAPIKey == "" || c.Tools.SearchEngineID == "") {
			return fmt.Errorf("SEARCH_API_KEY and SEARCH_ENGINE_ID are required for the llm backend")
		}
		if c.Agent.MaxSteps <= 0 {
			return fmt.Errorf("LLM_MAX_STEPS must be > 0")
		}
	case BackendGRPC:
		if c.Agent.RuntimeAddr == "" {
			return fmt.Errorf("AGENT_RUNTIME_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("AGENT_BACKEND must be llm or grpc, got %q", c.Agent.Backend)
	}

	switch c.Warehouse.Driver {
	case "bigquery":
		if c.Warehouse.Table == "" {
			return fmt.Errorf("WAREHOUSE_TABLE cannot be empty")
		}
	case "sqlite", "postgres":
		if c.Warehouse.DSN == "" {
			return fmt.Errorf("WAREHOUSE_DSN cannot be empty")
		}
	default:
		return fmt.Errorf("WAREHOUSE_DRIVER must be bigquery, sqlite or postgres, got %q", c.Warehouse.Driver)
	}
	if c.Warehouse.Lookback <= 0 {
		return fmt.Errorf("ANOMALY_LOOKBACK must be > 0")
	}

	if c.Timeout.Agent <= 0 || c.Timeout.Tool <= 0 || c.Timeout.Warehouse <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT, TOOL_TIMEOUT and WAREHOUSE_TIMEOUT must be > 0")
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be > 0")
	}
	if c.RateLimit.ClientTTL <= 0 {
		return fmt.Errorf("RATE_LIMIT_CLIENT_TTL must be > 0")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_QUEUE_SIZE must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return lvl
}

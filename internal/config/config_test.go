package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("GOOGLE_MAPS_API_KEY", "maps-key")
	t.Setenv("SEARCH_API_KEY", "search-key")
	t.Setenv("SEARCH_ENGINE_ID", "engine")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "city_predictor_agent", cfg.AppName)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "serialize", cfg.SessionPolicy)
	assert.Equal(t, BackendLLM, cfg.Agent.Backend)
	assert.Equal(t, 8, cfg.Agent.MaxSteps)
	assert.Equal(t, "bigquery", cfg.Warehouse.Driver)
	assert.Equal(t, "direct_store.anamoly_data", cfg.Warehouse.Table)
	assert.Equal(t, 2*time.Hour, cfg.Warehouse.Lookback)
	assert.Equal(t, 3*time.Minute, cfg.Timeout.Agent)
	assert.Equal(t, 180*time.Second, cfg.Timeout.Tool)
	assert.Equal(t, 30*time.Second, cfg.Timeout.Warehouse)
	assert.False(t, cfg.Transcript.Enabled())
	assert.Equal(t, 10*time.Minute, cfg.RateLimit.ClientTTL)
	assert.False(t, cfg.RateLimit.TrustProxy)
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ANOMALY_LOOKBACK", "90m")
	t.Setenv("WAREHOUSE_DRIVER", "sqlite")
	t.Setenv("RATE_LIMIT_RPS", "0.5")
	t.Setenv("TRANSCRIPT_DIR", "/tmp/transcripts")
	t.Setenv("LLM_MAX_STEPS", "not-a-number")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 90*time.Minute, cfg.Warehouse.Lookback)
	assert.Equal(t, "sqlite", cfg.Warehouse.Driver)
	assert.InDelta(t, 0.5, cfg.RateLimit.RPS, 1e-9)
	assert.True(t, cfg.Transcript.Enabled())
	assert.Equal(t, 8, cfg.Agent.MaxSteps, "unparseable values fall back to the default")
	assert.True(t, cfg.RateLimit.TrustProxy)
}

func TestCustomCatalogDefersSearchKeyCheck(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SEARCH_API_KEY", "")
	t.Setenv("AGENTS_FILE", "/etc/citycast/agents.yaml")

	_, err := Load()
	require.NoError(t, err)
}

func TestLoadFallsBackToGoogleAPIKey(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LLM_API_KEY", "")
	os.Unsetenv("LLM_API_KEY")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "google-key", cfg.Agent.APIKey)
}

func TestGRPCBackendNeedsNoModelKey(t *testing.T) {
	t.Setenv("AGENT_BACKEND", "grpc")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:50051", cfg.Agent.RuntimeAddr)
}

func TestValidate(t *testing.T) {
	tests := map[string]map[string]string{
		"missing model key":  {"LLM_API_KEY": "", "GOOGLE_API_KEY": ""},
		"missing maps key":   {"GOOGLE_MAPS_API_KEY": ""},
		"missing search key": {"SEARCH_API_KEY": ""},
		"missing engine id":  {"SEARCH_ENGINE_ID": ""},
		"zero client ttl":    {"RATE_LIMIT_CLIENT_TTL": "0s"},
		"unknown backend":    {"AGENT_BACKEND": "local"},
		"unknown driver":     {"WAREHOUSE_DRIVER": "mysql"},
		"bad policy":         {"SESSION_POLICY": "queue"},
		"zero lookback":      {"ANOMALY_LOOKBACK": "0s"},
		"negative timeout":   {"AGENT_TIMEOUT": "-1s"},
		"empty port":         {"PORT": ""},
		"zero burst":         {"RATE_LIMIT_BURST": "0"},
		"empty sqlite dsn":   {"WAREHOUSE_DRIVER": "sqlite", "WAREHOUSE_DSN": ""},
		"empty bigquery tbl": {"WAREHOUSE_TABLE": ""},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/citycast/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:          "0",
		AppName:       "city_predictor_agent",
		SessionPolicy: "serialize",
		Agent: config.AgentConfig{
			Backend:  config.BackendLLM,
			BaseURL:  "http://127.0.0.1:1/v1",
			APIKey:   "test",
			MaxSteps: 4,
		},
		Tools: config.ToolsConfig{
			MapsAPIKey:     "AIza-test",
			SearchAPIKey:   "search-test",
			SearchEngineID: "engine",
		},
		Warehouse: config.WarehouseConfig{
			Driver:   "sqlite",
			DSN:      filepath.Join(t.TempDir(), "anomalies.db"),
			Lookback: time.Hour,
		},
		Transcript: config.TranscriptConfig{QueueSize: 10},
		Timeout: config.TimeoutConfig{
			Agent:     time.Second,
			Tool:      time.Second,
			Warehouse: time.Second,
		},
	}
}

func TestNewWiresPipeline(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Sessions)
	require.NoError(t, a.Warehouse.Ping(context.Background()))
	require.NoError(t, a.Backend.Health(context.Background()))
}

func TestNewRequiresEveryCatalogTool(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tools.SearchAPIKey = ""

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web_search")
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionPolicy = "queue"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNewRejectsBadCatalogFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.AgentsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

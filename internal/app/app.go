// Package app wires configuration into a ready-to-serve pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/citycast/internal/agent"
	"github.com/ashureev/citycast/internal/config"
	"github.com/ashureev/citycast/internal/matcher"
	"github.com/ashureev/citycast/internal/pipeline"
	"github.com/ashureev/citycast/internal/session"
	"github.com/ashureev/citycast/internal/tool"
	"github.com/ashureev/citycast/internal/warehouse"
)

// App holds the long-lived collaborators shared by the binaries.
type App struct {
	Sessions   *session.InMemoryService
	Pipeline   *pipeline.Pipeline
	Backend    agent.Backend
	Warehouse  warehouse.Warehouse
	Transcript agent.TranscriptLogger

	logger *slog.Logger
}

// New builds every collaborator from cfg. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	policy, err := session.ParsePolicy(cfg.SessionPolicy)
	if err != nil {
		return nil, err
	}
	a.Sessions = session.NewInMemoryService(policy)

	catalog, err := pipeline.LoadCatalog(cfg.Agent.AgentsFile)
	if err != nil {
		return nil, err
	}

	wh, err := warehouse.Open(ctx, warehouse.Config{
		Driver:          cfg.Warehouse.Driver,
		DSN:             cfg.Warehouse.DSN,
		Project:         cfg.Warehouse.Project,
		Table:           cfg.Warehouse.Table,
		CredentialsFile: cfg.Warehouse.CredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	a.Warehouse = wh
	logger.Info("Warehouse ready", "driver", cfg.Warehouse.Driver)

	backend, err := newBackend(ctx, cfg, catalog, logger)
	if err != nil {
		return nil, err
	}
	a.Backend = backend

	transcript, err := agent.NewTranscriptLogger(agent.TranscriptConfig{
		Enabled:   cfg.Transcript.Enabled(),
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Transcript = transcript

	runner := agent.NewRunner(agent.RunnerConfig{
		Sessions:   a.Sessions,
		Backend:    a.Backend,
		Timeout:    cfg.Timeout.Agent,
		Transcript: a.Transcript,
		Logger:     logger,
	})

	m := matcher.New(a.Warehouse, matcher.Config{
		Window:       cfg.Warehouse.Lookback,
		QueryTimeout: cfg.Timeout.Warehouse,
		Logger:       logger,
	})

	a.Pipeline, err = pipeline.New(pipeline.Config{
		Runner:  runner,
		Matcher: m,
		Catalog: catalog,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newBackend(ctx context.Context, cfg *config.Config, catalog *pipeline.Catalog, logger *slog.Logger) (agent.Backend, error) {
	switch cfg.Agent.Backend {
	case config.BackendGRPC:
		logger.Info("Connecting to agent runtime via gRPC", "address", cfg.Agent.RuntimeAddr)
		return agent.NewGrpcBackend(agent.GrpcClientConfig{Address: cfg.Agent.RuntimeAddr}, logger)

	case config.BackendLLM:
		registry, err := newToolRegistry(ctx, cfg.Tools)
		if err != nil {
			return nil, err
		}
		if _, err := registry.Select(catalog.ToolNames()); err != nil {
			return nil, fmt.Errorf("agent catalog needs a tool that is not configured: %w", err)
		}
		logger.Info("Using in-process agent loop", "base_url", cfg.Agent.BaseURL, "tools", registry.Names())
		return agent.NewLLMBackend(agent.LLMConfig{
			BaseURL:     cfg.Agent.BaseURL,
			APIKey:      cfg.Agent.APIKey,
			MaxSteps:    cfg.Agent.MaxSteps,
			ToolTimeout: cfg.Timeout.Tool,
		}, registry, logger), nil

	default:
		return nil, fmt.Errorf("unknown agent backend %q", cfg.Agent.Backend)
	}
}

func newToolRegistry(ctx context.Context, cfg config.ToolsConfig) (*tool.Registry, error) {
	registry := tool.NewRegistry()

	mapsClient, err := tool.NewMapsClient(cfg.MapsAPIKey)
	if err != nil {
		return nil, err
	}
	registry.Register(tool.NewGeocode(mapsClient))
	registry.Register(tool.NewDirections(mapsClient))

	if cfg.SearchAPIKey != "" && cfg.SearchEngineID != "" {
		search, err := tool.NewWebSearch(ctx, cfg.SearchAPIKey, cfg.SearchEngineID)
		if err != nil {
			return nil, err
		}
		registry.Register(search)
	}
	return registry, nil
}

// Close releases every collaborator that was opened.
func (a *App) Close() {
	var errs []error
	if a.Transcript != nil {
		errs = append(errs, a.Transcript.Close())
	}
	if a.Backend != nil {
		errs = append(errs, a.Backend.Close())
	}
	if a.Warehouse != nil {
		errs = append(errs, a.Warehouse.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("Failed to close application resources", "error", err)
	}
}

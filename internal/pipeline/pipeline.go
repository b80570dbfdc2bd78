package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/citycast/internal/agent"
	"github.com/ashureev/citycast/internal/domain"
	"github.com/ashureev/citycast/internal/session"
)

// Slot names shared between stages.
const (
	SlotInput       = "input"
	SlotRoute       = "route"
	SlotMatches     = "matches"
	SlotNews        = "news"
	SlotWeather     = "feature_weather"
	SlotFinalOutput = "final_output"
)

// AgentRunner drives one agent definition against a session.
type AgentRunner interface {
	Run(ctx context.Context, def *agent.Definition, key session.Key, msg domain.Content) (string, error)
}

// Matcher finds past anomalies for a list of locations.
type Matcher interface {
	Match(ctx context.Context, locations []string) ([]domain.AnomalyRow, error)
}

// Config holds the collaborators of a Pipeline.
type Config struct {
	Runner  AgentRunner
	Matcher Matcher
	Catalog *Catalog
	Logger  *slog.Logger
}

// Pipeline answers a travel query with a short anomaly forecast.
type Pipeline struct {
	runner  AgentRunner
	matcher Matcher
	catalog *Catalog
	graph   *Graph
	logger  *slog.Logger
}

type runKey struct{}

// New builds the stage graph:
//
//	route -> match -> (history, weather) -> predict
func New(cfg Config) (*Pipeline, error) {
	if cfg.Runner == nil || cfg.Matcher == nil || cfg.Catalog == nil {
		return nil, errors.New("pipeline: runner, matcher and catalog are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Pipeline{
		runner:  cfg.Runner,
		matcher: cfg.Matcher,
		catalog: cfg.Catalog,
		logger:  cfg.Logger,
	}

	g, err := NewGraph([]string{SlotInput},
		Stage{Name: "route", Inputs: []string{SlotInput}, Output: SlotRoute, Run: p.route},
		Stage{Name: "match", Inputs: []string{SlotRoute}, Output: SlotMatches, Run: p.match},
		Stage{Name: "history", Inputs: []string{SlotMatches}, Output: SlotNews, Run: p.history},
		Stage{Name: "weather", Inputs: []string{SlotRoute, SlotMatches}, Output: SlotWeather, Run: p.weather},
		Stage{Name: "predict", Inputs: []string{SlotMatches, SlotNews, SlotWeather}, Output: SlotFinalOutput, Run: p.predict},
	)
	if err != nil {
		return nil, fmt.Errorf("build pipeline graph: %w", err)
	}
	p.graph = g
	return p, nil
}

// Run executes the pipeline for one query against the session identified
// by key, which must already exist. Observe may be nil.
func (p *Pipeline) Run(ctx context.Context, key session.Key, query string, observe Observer) (string, error) {
	started := time.Now()
	ctx = context.WithValue(ctx, runKey{}, key)

	res, err := p.graph.Run(ctx, map[string]any{SlotInput: query}, observe)
	if err != nil {
		p.logger.Error("Pipeline failed",
			"session", key.String(),
			"duration_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
		return "", err
	}

	if res.HaltedBy != "" {
		p.logger.Info("Pipeline halted early", "session", key.String(), "stage", res.HaltedBy)
		out, _ := res.Value.(string)
		return out, nil
	}

	out, err := Input[string](Inputs(res.Slots), SlotFinalOutput)
	if err != nil {
		return "", err
	}
	p.logger.Info("Pipeline finished", "session", key.String(), "duration_ms", time.Since(started).Milliseconds())
	return out, nil
}

func sessionKey(ctx context.Context) session.Key {
	k, _ := ctx.Value(runKey{}).(session.Key)
	return k
}

func (p *Pipeline) route(ctx context.Context, in Inputs) (any, error) {
	query, err := Input[string](in, SlotInput)
	if err != nil {
		return nil, err
	}
	text, err := p.runner.Run(ctx, p.catalog.Route, sessionKey(ctx), domain.NewUserContent(query))
	if err != nil {
		return nil, err
	}
	route, err := ParseRoute(text)
	if err != nil {
		p.logger.Error("Failed to parse formatted route", "error", err, "raw", text)
		return nil, err
	}
	return route, nil
}

func (p *Pipeline) match(ctx context.Context, in Inputs) (any, error) {
	route, err := Input[domain.Route](in, SlotRoute)
	if err != nil {
		return nil, err
	}
	matches, err := p.matcher.Match(ctx, route.Locations)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, Halt(NoAnomalyFound)
	}
	return matches, nil
}

func (p *Pipeline) history(ctx context.Context, in Inputs) (any, error) {
	matches, err := Input[[]domain.AnomalyRow](in, SlotMatches)
	if err != nil {
		return nil, err
	}
	return p.runner.Run(ctx, p.catalog.History, sessionKey(ctx), domain.NewUserContent(historyPayload(matches)))
}

func (p *Pipeline) weather(ctx context.Context, in Inputs) (any, error) {
	route, err := Input[domain.Route](in, SlotRoute)
	if err != nil {
		return nil, err
	}
	return p.runner.Run(ctx, p.catalog.Weather, sessionKey(ctx), domain.NewUserContent(weatherPayload(route.Locations)))
}

func (p *Pipeline) predict(ctx context.Context, in Inputs) (any, error) {
	matches, err := Input[[]domain.AnomalyRow](in, SlotMatches)
	if err != nil {
		return nil, err
	}
	news, err := Input[string](in, SlotNews)
	if err != nil {
		return nil, err
	}
	weather, err := Input[string](in, SlotWeather)
	if err != nil {
		return nil, err
	}
	payload, err := predictionPayload(matches, news, weather)
	if err != nil {
		return nil, err
	}
	return p.runner.Run(ctx, p.catalog.Prediction, sessionKey(ctx), domain.NewUserContent(payload))
}

package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	require.True(t, c.Route.IsSequential())
	require.Len(t, c.Route.SubAgents, 3)
	finder, directions, formatter := c.Route.SubAgents[0], c.Route.SubAgents[1], c.Route.SubAgents[2]

	assert.Equal(t, "geocode", finder.OutputKey)
	assert.Equal(t, []string{"maps_geocode"}, finder.Tools)
	assert.NotNil(t, finder.Validate)

	assert.Equal(t, "directions", directions.OutputKey)
	assert.Contains(t, directions.Instruction, "{geocode}")

	assert.Contains(t, formatter.Instruction, "{directions}")
	assert.JSONEq(t, string(outputSchemas["route"]), string(formatter.OutputSchema))
	require.NotNil(t, formatter.Validate)
	require.ErrorIs(t, formatter.Validate("not json"), ErrInvalidJSON)

	assert.Equal(t, "news", c.History.OutputKey)
	assert.Equal(t, "feature_weather", c.Weather.OutputKey)
	assert.Equal(t, "final_output", c.Prediction.OutputKey)
	assert.Equal(t, "gemini-2.5-flash", c.Prediction.Model)

	assert.ElementsMatch(t, []string{"maps_geocode", "maps_directions", "web_search"}, c.ToolNames())
}

func TestParseCatalogRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"missing pipeline": `agents: [{name: a, model: m, instruction: i}]`,
		"unknown agent": `
pipeline: {route: [a], history: a, weather: a, prediction: ghost}
agents: [{name: a, model: m, instruction: i}]`,
		"bad validator": `
pipeline: {route: [a], history: a, weather: a, prediction: a}
agents: [{name: a, model: m, instruction: i, validate: sql}]`,
		"duplicate agent": `
pipeline: {route: [a], history: a, weather: a, prediction: a}
agents: [{name: a, model: m, instruction: i}, {name: a, model: m, instruction: j}]`,
		"not yaml": "pipeline: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline: {route: [a], history: a, weather: a, prediction: a}
agents:
  - name: a
    model: gemini-2.0-flash
    instruction: "  answer briefly  "
`), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "answer briefly", c.Prediction.Instruction)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

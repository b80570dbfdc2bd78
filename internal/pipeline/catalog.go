package pipeline

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/citycast/internal/agent"
	"github.com/ashureev/citycast/internal/domain"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed agents.yaml
var defaultCatalog []byte

const catalogSchema = `{
  "type": "object",
  "required": ["pipeline", "agents"],
  "properties": {
    "pipeline": {
      "type": "object",
      "required": ["route", "history", "weather", "prediction"],
      "properties": {
        "route": {"type": "array", "minItems": 1, "items": {"type": "string"}},
        "history": {"type": "string"},
        "weather": {"type": "string"},
        "prediction": {"type": "string"}
      }
    },
    "agents": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "model", "instruction"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "pattern": "^[a-z0-9_]+$"},
          "description": {"type": "string"},
          "model": {"type": "string", "minLength": 1},
          "instruction": {"type": "string", "minLength": 1},
          "tools": {"type": "array", "items": {"type": "string"}},
          "output_key": {"type": "string"},
          "output_schema": {"enum": ["route"]},
          "validate": {"enum": ["route", "geocode"]}
        }
      }
    }
  }
}`

type catalogFile struct {
	Pipeline struct {
		Route      []string `yaml:"route"`
		History    string   `yaml:"history"`
		Weather    string   `yaml:"weather"`
		Prediction string   `yaml:"prediction"`
	} `yaml:"pipeline"`
	Agents []agentSpec `yaml:"agents"`
}

type agentSpec struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Model        string   `yaml:"model"`
	Instruction  string   `yaml:"instruction"`
	Tools        []string `yaml:"tools"`
	OutputKey    string   `yaml:"output_key"`
	OutputSchema string   `yaml:"output_schema"`
	Validate     string   `yaml:"validate"`
}

var outputSchemas = map[string]json.RawMessage{
	"route": json.RawMessage(domain.RouteSchema),
}

var validators = map[string]func(string) error{
	"route":   validateRoute,
	"geocode": validateGeocode,
}

// Catalog holds the agent definitions for each pipeline role.
type Catalog struct {
	// Route is the sequential geocode, directions and formatter agent.
	Route      *agent.Definition
	History    *agent.Definition
	Weather    *agent.Definition
	Prediction *agent.Definition
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file, or the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog validates and decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	if err := validateCatalog(data); err != nil {
		return nil, err
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agent catalog: %w", err)
	}

	defs := make(map[string]*agent.Definition, len(f.Agents))
	for _, a := range f.Agents {
		if _, dup := defs[a.Name]; dup {
			return nil, fmt.Errorf("agent catalog: duplicate agent %q", a.Name)
		}
		defs[a.Name] = &agent.Definition{
			Name:         a.Name,
			Description:  a.Description,
			Model:        a.Model,
			Instruction:  strings.TrimSpace(a.Instruction),
			Tools:        a.Tools,
			OutputKey:    a.OutputKey,
			OutputSchema: outputSchemas[a.OutputSchema],
			Validate:     validators[a.Validate],
		}
	}

	lookup := func(name string) (*agent.Definition, error) {
		d, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("agent catalog: unknown agent %q", name)
		}
		return d, nil
	}

	c := &Catalog{Route: &agent.Definition{
		Name:        "route_pipeline",
		Description: "Resolves a travel query into a structured route.",
	}}
	for _, name := range f.Pipeline.Route {
		d, err := lookup(name)
		if err != nil {
			return nil, err
		}
		c.Route.SubAgents = append(c.Route.SubAgents, d)
	}

	var err error
	if c.History, err = lookup(f.Pipeline.History); err != nil {
		return nil, err
	}
	if c.Weather, err = lookup(f.Pipeline.Weather); err != nil {
		return nil, err
	}
	if c.Prediction, err = lookup(f.Pipeline.Prediction); err != nil {
		return nil, err
	}
	return c, nil
}

func validateCatalog(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse agent catalog: %w", err)
	}
	doc, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("convert agent catalog to JSON: %w", err)
	}

	res, err := gojsonschema.Validate(gojsonschema.NewStringLoader(catalogSchema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate agent catalog: %w", err)
	}
	if !res.Valid() {
		var b strings.Builder
		for _, e := range res.Errors() {
			fmt.Fprintf(&b, "\n- %s", e)
		}
		return fmt.Errorf("agent catalog is invalid:%s", b.String())
	}
	return nil
}

// ToolNames returns every tool referenced by the catalog.
func (c *Catalog) ToolNames() []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(d *agent.Definition)
	walk = func(d *agent.Definition) {
		for _, t := range d.Tools {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
		for _, s := range d.SubAgents {
			walk(s)
		}
	}
	for _, d := range []*agent.Definition{c.Route, c.History, c.Weather, c.Prediction} {
		walk(d)
	}
	return out
}

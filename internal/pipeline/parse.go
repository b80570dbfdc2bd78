package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/citycast/internal/domain"
	"github.com/xeipuuv/gojsonschema"
)

var routeSchema = mustSchema(domain.RouteSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return s
}

// stripFences removes a surrounding Markdown code fence, which models
// often add around JSON.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// ParseRoute decodes formatter output into a Route. Text that is not JSON
// yields ErrInvalidJSON; JSON that fails the schema yields ErrStructureMismatch.
func ParseRoute(text string) (domain.Route, error) {
	var route domain.Route
	raw := stripFences(text)
	if !json.Valid([]byte(raw)) {
		return route, ErrInvalidJSON
	}

	res, err := routeSchema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return route, fmt.Errorf("%w: %v", ErrStructureMismatch, err)
	}
	if !res.Valid() {
		details := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			details = append(details, e.String())
		}
		return route, fmt.Errorf("%w: %s", ErrStructureMismatch, strings.Join(details, "; "))
	}

	if err := json.Unmarshal([]byte(raw), &route); err != nil {
		return route, fmt.Errorf("%w: %v", ErrStructureMismatch, err)
	}
	return route, nil
}

// ParseGeocode decodes the place-resolution output and requires both ends.
func ParseGeocode(text string) (domain.Geocode, error) {
	var g domain.Geocode
	if err := json.Unmarshal([]byte(stripFences(text)), &g); err != nil {
		return g, fmt.Errorf("%w: %v", ErrNoRoute, err)
	}
	if !g.Complete() {
		return g, ErrNoRoute
	}
	return g, nil
}

func validateRoute(text string) error {
	_, err := ParseRoute(text)
	return err
}

func validateGeocode(text string) error {
	_, err := ParseGeocode(text)
	return err
}

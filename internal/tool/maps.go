package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"
)

var errEmptyArgument = errors.New("argument must not be empty")

// GeocodeResult is one resolved place.
type GeocodeResult struct {
	FormattedAddress string  `json:"formatted_address"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	PlaceID          string  `json:"place_id,omitempty"`
}

// DirectionsResult is a flattened driving route.
type DirectionsResult struct {
	Summary  string           `json:"summary"`
	Distance string           `json:"distance"`
	Duration string           `json:"duration"`
	Start    string           `json:"start_address"`
	End      string           `json:"end_address"`
	Steps    []DirectionsStep `json:"steps"`
}

// DirectionsStep is one instruction along a route.
type DirectionsStep struct {
	Instruction string `json:"instruction"`
	Distance    string `json:"distance"`
	Duration    string `json:"duration"`
}

// NewMapsClient creates a Maps client. Extra options such as maps.WithBaseURL
// are appended after the API key.
func NewMapsClient(apiKey string, opts ...maps.ClientOption) (*maps.Client, error) {
	if apiKey == "" {
		return nil, errors.New("maps API key is required")
	}
	c, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return c, nil
}

// Geocode resolves a place name to coordinates.
type Geocode struct {
	client *maps.Client
}

// NewGeocode creates the maps_geocode tool.
func NewGeocode(client *maps.Client) *Geocode {
	return &Geocode{client: client}
}

func (g *Geocode) Name() string { return "maps_geocode" }

func (g *Geocode) Description() string {
	return "Convert an address or place name into geographic coordinates."
}

func (g *Geocode) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"address": stringParam("The address or place name to geocode"),
		},
		"required": []string{"address"},
	}
}

func (g *Geocode) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Address string `json:"address"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	address := strings.TrimSpace(in.Address)
	if address == "" {
		return nil, fmt.Errorf("maps_geocode: address: %w", errEmptyArgument)
	}

	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return nil, fmt.Errorf("maps_geocode %q: %w", address, err)
	}

	out := make([]GeocodeResult, 0, len(results))
	for _, r := range results {
		out = append(out, GeocodeResult{
			FormattedAddress: r.FormattedAddress,
			Latitude:         r.Geometry.Location.Lat,
			Longitude:        r.Geometry.Location.Lng,
			PlaceID:          r.PlaceID,
		})
	}
	return out, nil
}

// Directions resolves a driving route between two places or coordinates.
type Directions struct {
	client *maps.Client
}

// NewDirections creates the maps_directions tool.
func NewDirections(client *maps.Client) *Directions {
	return &Directions{client: client}
}

func (d *Directions) Name() string { return "maps_directions" }

func (d *Directions) Description() string {
	return "Get driving directions between an origin and a destination. Both accept an address or a 'lat,lng' pair."
}

func (d *Directions) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"origin":      stringParam("Starting point address or coordinates"),
			"destination": stringParam("Ending point address or coordinates"),
		},
		"required": []string{"origin", "destination"},
	}
}

func (d *Directions) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Origin      string `json:"origin"`
		Destination string `json:"destination"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Origin) == "" || strings.TrimSpace(in.Destination) == "" {
		return nil, fmt.Errorf("maps_directions: origin and destination: %w", errEmptyArgument)
	}

	routes, _, err := d.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      in.Origin,
		Destination: in.Destination,
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return nil, fmt.Errorf("maps_directions: %w", err)
	}

	out := make([]DirectionsResult, 0, len(routes))
	for _, route := range routes {
		res := DirectionsResult{Summary: route.Summary}
		for _, leg := range route.Legs {
			res.Distance = leg.Distance.HumanReadable
			res.Duration = leg.Duration.String()
			res.Start = leg.StartAddress
			res.End = leg.EndAddress
			for _, step := range leg.Steps {
				res.Steps = append(res.Steps, DirectionsStep{
					Instruction: step.HTMLInstructions,
					Distance:    step.Distance.HumanReadable,
					Duration:    step.Duration.String(),
				})
			}
		}
		out = append(out, res)
	}
	return out, nil
}

package domain

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geocode is the output of the place-resolution stage.
type Geocode struct {
	Source      *Coordinates `json:"source"`
	Destination *Coordinates `json:"destination"`
}

// Complete reports whether both ends of the trip were resolved.
func (g Geocode) Complete() bool {
	return g.Source != nil && g.Destination != nil
}

// Route is the structured record the directions formatter must emit.
type Route struct {
	Source      string   `json:"source,omitempty"`
	Destination string   `json:"destination,omitempty"`
	Locations   []string `json:"locations"`
	Distance    string   `json:"distance,omitempty"`
	Duration    string   `json:"duration,omitempty"`
}

// RouteSchema is the JSON schema a formatted route must validate against.
const RouteSchema = `{
  "type": "object",
  "properties": {
    "source": {"type": "string"},
    "destination": {"type": "string"},
    "locations": {"type": "array", "items": {"type": "string"}},
    "distance": {"type": "string"},
    "duration": {"type": "string"}
  },
  "required": ["locations"],
  "additionalProperties": false
}`

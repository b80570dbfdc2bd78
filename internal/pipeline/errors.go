package pipeline

import "errors"

var (
	// ErrInvalidJSON is returned when the formatted route is not JSON.
	ErrInvalidJSON = errors.New("agent returned invalid JSON")
	// ErrStructureMismatch is returned when the formatted route does not
	// validate against the route schema.
	ErrStructureMismatch = errors.New("agent response did not match expected structure")
	// ErrNoRoute is returned when source and destination could not both be resolved.
	ErrNoRoute = errors.New("could not resolve source and destination")
)

// NoAnomalyFound is the final output when no location matched.
const NoAnomalyFound = "No anomaly found"

package domain

import (
	"strconv"
	"strings"
)

// AnomalyRow is one warehouse record describing a past incident at a street.
// Rows are comparable; two rows are duplicates when every field is equal.
type AnomalyRow struct {
	EventType     string  `json:"event_type"`
	SubEventType  string  `json:"sub_event_type"`
	AreaName      string  `json:"area_name"`
	StreetName    string  `json:"street_name"`
	City          string  `json:"city"`
	Description   string  `json:"description"`
	SeverityScore float64 `json:"severity_score"`
}

// SearchTerms returns the non-empty leading descriptive fields
// (event type through city) used to build web-search queries.
func (r AnomalyRow) SearchTerms() []string {
	terms := make([]string, 0, 5)
	for _, f := range []string{r.EventType, r.SubEventType, r.AreaName, r.StreetName, r.City} {
		if f = strings.TrimSpace(f); f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}

// String renders the row on one line for logs and prompts.
func (r AnomalyRow) String() string {
	return strings.Join(append(r.SearchTerms(), r.Description, strconv.FormatFloat(r.SeverityScore, 'f', -1, 64)), ",")
}

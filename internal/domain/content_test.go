package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserContent(t *testing.T) {
	c := NewUserContent("I have to go from Hoodi to Silk Board")

	assert.Equal(t, RoleUser, c.Role)
	require.Len(t, c.Parts, 1)
	assert.Equal(t, "I have to go from Hoodi to Silk Board", c.Parts[0].Text)
	assert.Equal(t, "I have to go from Hoodi to Silk Board", c.Text())
	assert.False(t, c.IsEmpty())
}

func TestNewUserContentKeepsTextVerbatim(t *testing.T) {
	raw := "  spaced {braces} \n"
	assert.Equal(t, raw, NewUserContent(raw).Text())
	assert.True(t, NewUserContent("").IsEmpty())
}

func TestContentTextJoinsParts(t *testing.T) {
	c := Content{Role: RoleModel, Parts: []Part{{Text: "a"}, {Text: "b"}}}
	assert.Equal(t, "ab", c.Text())
}

func TestAnomalyRowSearchTerms(t *testing.T) {
	row := AnomalyRow{
		EventType:     "traffic",
		SubEventType:  "congestion",
		AreaName:      "BTM",
		StreetName:    "Silk Board Junction",
		City:          "Bengaluru",
		Description:   "slow moving",
		SeverityScore: 7,
	}
	assert.Equal(t, []string{"traffic", "congestion", "BTM", "Silk Board Junction", "Bengaluru"}, row.SearchTerms())

	row.AreaName = " "
	assert.Equal(t, []string{"traffic", "congestion", "Silk Board Junction", "Bengaluru"}, row.SearchTerms())
}

func TestAnomalyRowsAreComparable(t *testing.T) {
	a := AnomalyRow{StreetName: "Hoodi Main Road", SeverityScore: 3}
	b := a
	seen := map[AnomalyRow]bool{a: true}
	assert.True(t, seen[b])

	b.Description = "different"
	assert.False(t, seen[b])
}

func TestRouteJSONRoundTripKeepsLocations(t *testing.T) {
	in := `{"locations": ["Hoodi Main Road", "Silk Board Junction"]}`
	var r Route
	require.NoError(t, json.Unmarshal([]byte(in), &r))
	assert.Equal(t, []string{"Hoodi Main Road", "Silk Board Junction"}, r.Locations)
}

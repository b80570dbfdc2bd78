package warehouse

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	now := time.Date(2025, 7, 20, 9, 0, 0, 0, time.UTC)
	in := `street_name,event_type,city,severity_score,observed_at,description
Silk Board Junction,traffic,Bengaluru,7.5,2025-07-20T08:30:00Z,"signal failure, long queues"
Hoodi Main Road,flood,Bengaluru,,1752998400,
MG Road,accident,Bengaluru,3,,
`
	recs, err := ReadCSV(strings.NewReader(in), now)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "Silk Board Junction", recs[0].StreetName)
	assert.Equal(t, "signal failure, long queues", recs[0].Description)
	assert.InDelta(t, 7.5, recs[0].SeverityScore, 1e-9)
	assert.Equal(t, time.Date(2025, 7, 20, 8, 30, 0, 0, time.UTC), recs[0].ObservedAt)

	assert.Equal(t, time.Unix(1752998400, 0).UTC(), recs[1].ObservedAt)
	assert.Zero(t, recs[1].SeverityScore)

	assert.Equal(t, now, recs[2].ObservedAt)
}

func TestReadCSVNaNSeverity(t *testing.T) {
	recs, err := ReadCSV(strings.NewReader("street_name,severity_score\nMG Road,NaN\n"), time.Now())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Zero(t, recs[0].SeverityScore)
}

func TestReadCSVErrors(t *testing.T) {
	tests := map[string]string{
		"no street column": "event_type,city\ntraffic,Bengaluru\n",
		"empty street":     "street_name,event_type\n,traffic\n",
		"bad severity":     "street_name,severity_score\nMG Road,high\n",
		"bad timestamp":    "street_name,observed_at\nMG Road,yesterday\n",
		"empty input":      "",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(in), time.Now())
			require.Error(t, err)
		})
	}
}

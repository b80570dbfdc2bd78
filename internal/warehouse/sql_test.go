package warehouse

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/citycast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQL {
	t.Helper()
	w, err := OpenSQL(DriverSQLite, filepath.Join(t.TempDir(), "anomalies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestSQLiteFindByStreet(t *testing.T) {
	ctx := context.Background()
	w := openTestSQLite(t)
	now := time.Now()

	silk := domain.AnomalyRow{
		EventType: "traffic", SubEventType: "congestion", AreaName: "BTM",
		StreetName: "  Silk Board Junction ", City: "Bengaluru",
		Description: "signal failure", SeverityScore: 7.5,
	}
	old := silk
	old.Description = "last year"
	hoodi := domain.AnomalyRow{EventType: "flood", StreetName: "Hoodi Main Road", City: "Bengaluru"}

	require.NoError(t, w.Insert(ctx, []Record{
		{AnomalyRow: silk, ObservedAt: now.Add(-30 * time.Minute)},
		{AnomalyRow: old, ObservedAt: now.Add(-48 * time.Hour)},
		{AnomalyRow: hoodi, ObservedAt: now.Add(-10 * time.Minute)},
	}))

	rows, err := w.FindByStreet(ctx, "silk board junction", now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "signal failure", rows[0].Description)
	assert.InDelta(t, 7.5, rows[0].SeverityScore, 1e-9)

	rows, err = w.FindByStreet(ctx, " SILK BOARD JUNCTION ", now.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "last year", rows[0].Description, "rows come back in observation order")

	rows, err = w.FindByStreet(ctx, "Silk Board", now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSQLiteQueryIsParameterised(t *testing.T) {
	ctx := context.Background()
	w := openTestSQLite(t)
	require.NoError(t, w.Insert(ctx, []Record{
		{AnomalyRow: domain.AnomalyRow{StreetName: "MG Road"}, ObservedAt: time.Now()},
	}))

	rows, err := w.FindByStreet(ctx, "x') OR 1=1 --", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSQLiteNaNSeverityComparesEqual(t *testing.T) {
	ctx := context.Background()
	w := openTestSQLite(t)
	now := time.Now()

	row := domain.AnomalyRow{EventType: "traffic", StreetName: "Outer Ring Road", SeverityScore: math.NaN()}
	require.NoError(t, w.Insert(ctx, []Record{
		{AnomalyRow: row, ObservedAt: now.Add(-20 * time.Minute)},
		{AnomalyRow: row, ObservedAt: now.Add(-10 * time.Minute)},
	}))

	rows, err := w.FindByStreet(ctx, "outer ring road", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Zero(t, rows[0].SeverityScore)
	assert.True(t, rows[0] == rows[1], "identical rows must be usable as one dedup key")
}

func TestSeverityScore(t *testing.T) {
	assert.Zero(t, severityScore(math.NaN()))
	assert.InDelta(t, 4.2, severityScore(4.2), 1e-9)
	assert.True(t, math.IsInf(severityScore(math.Inf(1)), 1))
}

func TestSQLitePing(t *testing.T) {
	w := openTestSQLite(t)
	require.NoError(t, w.Ping(context.Background()))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	require.Error(t, err)

	_, err = OpenSQL("mysql", "x")
	require.Error(t, err)
}

func TestBigQueryTableValidation(t *testing.T) {
	_, err := NewBigQuery(context.Background(), BigQueryConfig{Table: "evil`; DROP TABLE x"})
	require.Error(t, err)

	assert.True(t, tableNamePattern.MatchString("direct_store.anamoly_data"))
	assert.True(t, tableNamePattern.MatchString("mystical-magnet-466811-s3.direct_store.anamoly_data"))
	assert.Contains(t, buildBigQueryQuery("direct_store.anamoly_data"), "`direct_store.anamoly_data`")
	assert.Contains(t, buildBigQueryQuery("direct_store.anamoly_data"), "@since")
}

package matcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/citycast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timedRow struct {
	row domain.AnomalyRow
	at  time.Time
}

// fakeWarehouse applies the same street and window predicate as the real stores.
type fakeWarehouse struct {
	mu      sync.Mutex
	rows    []timedRow
	queries []string
	err     error
}

func (f *fakeWarehouse) FindByStreet(ctx context.Context, street string, since time.Time) ([]domain.AnomalyRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, street)
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.AnomalyRow
	for _, r := range f.rows {
		if strings.EqualFold(strings.TrimSpace(r.row.StreetName), strings.TrimSpace(street)) && !r.at.Before(since) {
			out = append(out, r.row)
		}
	}
	return out, nil
}

func (f *fakeWarehouse) Ping(context.Context) error { return nil }
func (f *fakeWarehouse) Close() error               { return nil }

var now = time.Date(2025, 7, 20, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

func row(street, desc string) domain.AnomalyRow {
	return domain.AnomalyRow{
		EventType: "traffic", SubEventType: "congestion", AreaName: "BTM",
		StreetName: street, City: "Bengaluru", Description: desc, SeverityScore: 6,
	}
}

func TestMatchDeduplicatesInFirstSeenOrder(t *testing.T) {
	a := row("Silk Board Junction", "jam")
	b := row("Hoodi Main Road", "waterlogging")
	wh := &fakeWarehouse{rows: []timedRow{
		{a, now.Add(-time.Minute)},
		{a, now.Add(-2 * time.Minute)},
		{b, now.Add(-time.Minute)},
	}}
	m := New(wh, Config{Window: time.Hour, Now: fixedClock})

	got, err := m.Match(context.Background(), []string{"Silk Board Junction", "Hoodi Main Road", "silk board junction"})
	require.NoError(t, err)
	assert.Equal(t, []domain.AnomalyRow{a, b}, got)
	assert.Len(t, wh.queries, 3)
}

func TestMatchSkipsBlankLocations(t *testing.T) {
	wh := &fakeWarehouse{}
	m := New(wh, Config{Now: fixedClock})

	got, err := m.Match(context.Background(), []string{"", "   ", "\t"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, wh.queries)

	got, err = m.Match(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatchTrimsLocations(t *testing.T) {
	wh := &fakeWarehouse{rows: []timedRow{{row("MG Road", "accident"), now}}}
	m := New(wh, Config{Now: fixedClock})

	got, err := m.Match(context.Background(), []string{"  MG Road  "})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"MG Road"}, wh.queries)
}

func TestMatchWindowExcludesOldRows(t *testing.T) {
	wh := &fakeWarehouse{rows: []timedRow{
		{row("Silk Board Junction", "yesterday"), now.Add(-24 * time.Hour)},
		{row("Silk Board Junction", "edge"), now.Add(-2 * time.Hour)},
	}}
	m := New(wh, Config{Now: fixedClock})
	assert.Equal(t, DefaultWindow, m.Window())

	got, err := m.Match(context.Background(), []string{"Silk Board Junction"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "edge", got[0].Description, "the window lower bound is inclusive")

	m = New(wh, Config{Window: time.Hour, Now: fixedClock})
	got, err = m.Match(context.Background(), []string{"Silk Board Junction"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatchPropagatesWarehouseErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	m := New(&fakeWarehouse{err: boom}, Config{Now: fixedClock})

	_, err := m.Match(context.Background(), []string{"Silk Board Junction"})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "Silk Board Junction")
}

func TestMatchHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(&fakeWarehouse{}, Config{Now: fixedClock, QueryTimeout: time.Second})

	_, err := m.Match(ctx, []string{"Silk Board Junction"})
	require.ErrorIs(t, err, context.Canceled)
}

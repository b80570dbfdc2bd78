// Package matcher looks up past anomalies for the locations along a route.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/citycast/internal/domain"
	"github.com/ashureev/citycast/internal/warehouse"
)

// DefaultWindow is the lookback applied when none is configured.
const DefaultWindow = 2 * time.Hour

// Config holds matcher settings.
type Config struct {
	// Window is how far back from now a row's timestamp may lie.
	Window time.Duration
	// QueryTimeout bounds each warehouse lookup. Zero means no bound.
	QueryTimeout time.Duration
	// Now overrides the clock.
	Now    func() time.Time
	Logger *slog.Logger
}

// Matcher queries the warehouse once per location and merges the results.
type Matcher struct {
	store        warehouse.Warehouse
	window       time.Duration
	queryTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// New creates a Matcher backed by store.
func New(store warehouse.Warehouse, cfg Config) *Matcher {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Matcher{
		store:        store,
		window:       cfg.Window,
		queryTimeout: cfg.QueryTimeout,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}
}

// Window returns the configured lookback.
func (m *Matcher) Window() time.Duration {
	return m.window
}

// Match returns every distinct row recorded within the lookback window for
// any of the locations, in first-seen order. Blank locations are skipped.
// An empty result means nothing matched and is not an error.
func (m *Matcher) Match(ctx context.Context, locations []string) ([]domain.AnomalyRow, error) {
	since := m.now().Add(-m.window)
	seen := make(map[domain.AnomalyRow]struct{})
	var matches []domain.AnomalyRow

	for _, loc := range locations {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}

		rows, err := m.lookup(ctx, loc, since)
		if err != nil {
			return nil, err
		}

		added := 0
		for _, row := range rows {
			if _, dup := seen[row]; dup {
				continue
			}
			seen[row] = struct{}{}
			matches = append(matches, row)
			added++
		}
		m.logger.Debug("Matched location", "location", loc, "rows", len(rows), "new", added)
	}

	return matches, nil
}

func (m *Matcher) lookup(ctx context.Context, location string, since time.Time) ([]domain.AnomalyRow, error) {
	if m.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.queryTimeout)
		defer cancel()
	}

	rows, err := m.store.FindByStreet(ctx, location, since)
	if err != nil {
		return nil, fmt.Errorf("match location %q: %w", location, err)
	}
	return rows, nil
}

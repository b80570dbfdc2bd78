// Package warehouse provides the tabular stores queried for past anomalies.
package warehouse

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ashureev/citycast/internal/domain"
)

// Warehouse looks up anomaly rows by street.
type Warehouse interface {
	// FindByStreet returns rows whose street name equals street, compared
	// case-insensitively after trimming, with a timestamp at or after since.
	FindByStreet(ctx context.Context, street string, since time.Time) ([]domain.AnomalyRow, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying client.
	Close() error
}

// Record is an anomaly row together with when it was observed.
type Record struct {
	domain.AnomalyRow
	ObservedAt time.Time
}

// Driver names accepted by Open.
const (
	DriverBigQuery = "bigquery"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a warehouse implementation.
type Config struct {
	Driver          string
	DSN             string
	Project         string
	Table           string
	CredentialsFile string
}

// Open creates the warehouse named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Warehouse, error) {
	switch cfg.Driver {
	case DriverBigQuery:
		return NewBigQuery(ctx, BigQueryConfig{
			Project:         cfg.Project,
			Table:           cfg.Table,
			CredentialsFile: cfg.CredentialsFile,
		})
	case DriverSQLite, DriverPostgres:
		return OpenSQL(cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown warehouse driver %q", cfg.Driver)
	}
}

// severityScore maps NaN to 0 so rows stay comparable as dedup keys.
func severityScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

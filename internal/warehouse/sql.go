package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/citycast/internal/domain"
	"github.com/ashureev/citycast/internal/shared"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect struct {
	driver  string
	schema  string
	find    string
	insert  string
	timeArg func(time.Time) any
}

var sqliteDialect = dialect{
	driver: "sqlite",
	schema: `
	CREATE TABLE IF NOT EXISTS anomaly_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		sub_event_type TEXT NOT NULL DEFAULT '',
		area_name TEXT NOT NULL DEFAULT '',
		street_name TEXT NOT NULL,
		city TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		severity_score REAL NOT NULL DEFAULT 0,
		observed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_anomaly_street ON anomaly_data(LOWER(TRIM(street_name)), observed_at);
	`,
	find: `
		SELECT event_type, sub_event_type, area_name, street_name, city, description, severity_score
		FROM anomaly_data
		WHERE LOWER(TRIM(street_name)) = LOWER(TRIM(?)) AND observed_at >= ?
		ORDER BY observed_at, id`,
	insert: `
		INSERT INTO anomaly_data (event_type, sub_event_type, area_name, street_name, city, description, severity_score, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	timeArg: func(t time.Time) any { return t.Unix() },
}

var postgresDialect = dialect{
	driver: "postgres",
	schema: `
	CREATE TABLE IF NOT EXISTS anomaly_data (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		sub_event_type TEXT NOT NULL DEFAULT '',
		area_name TEXT NOT NULL DEFAULT '',
		street_name TEXT NOT NULL,
		city TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		severity_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		observed_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_anomaly_street ON anomaly_data (LOWER(TRIM(street_name)), observed_at);
	`,
	find: `
		SELECT event_type, sub_event_type, area_name, street_name, city, description, severity_score
		FROM anomaly_data
		WHERE LOWER(TRIM(street_name)) = LOWER(TRIM($1)) AND observed_at >= $2
		ORDER BY observed_at, id`,
	insert: `
		INSERT INTO anomaly_data (event_type, sub_event_type, area_name, street_name, city, description, severity_score, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	timeArg: func(t time.Time) any { return t.UTC() },
}

// SQL implements Warehouse over database/sql for SQLite and Postgres.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQL opens a SQL warehouse and ensures its schema exists.
// For SQLite, dsn is a file path.
func OpenSQL(driver, dsn string) (*SQL, error) {
	var d dialect
	switch driver {
	case DriverSQLite:
		d = sqliteDialect
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	case DriverPostgres:
		d = postgresDialect
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &SQL{db: db, dialect: d}
	if err := w.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return w, nil
}

func (w *SQL) initSchema() error {
	if _, err := w.db.Exec(w.dialect.schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (w *SQL) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes the database connection.
func (w *SQL) Close() error {
	return w.db.Close()
}

// FindByStreet returns matching rows in observation order.
func (w *SQL) FindByStreet(ctx context.Context, street string, since time.Time) ([]domain.AnomalyRow, error) {
	rows, err := w.db.QueryContext(ctx, w.dialect.find, strings.TrimSpace(street), w.dialect.timeArg(since))
	if err != nil {
		return nil, fmt.Errorf("query anomalies for %q: %w", street, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close anomaly rows", "error", closeErr)
		}
	}()

	var out []domain.AnomalyRow
	for rows.Next() {
		var r domain.AnomalyRow
		if err := rows.Scan(
			&r.EventType, &r.SubEventType, &r.AreaName,
			&r.StreetName, &r.City, &r.Description, &r.SeverityScore,
		); err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}
		r.SeverityScore = severityScore(r.SeverityScore)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomaly rows: %w", err)
	}
	return out, nil
}

// Insert stores records in one transaction. SQLite busy errors are retried
// with exponential backoff.
func (w *SQL) Insert(ctx context.Context, records []Record) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := w.insertOnce(ctx, records)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			return fmt.Errorf("insert %d anomaly records after %d attempts: %w", len(records), i+1, err)
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("Anomaly insert hit a locked database, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (w *SQL) insertOnce(ctx context.Context, records []Record) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, w.dialect.insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.EventType, r.SubEventType, r.AreaName, r.StreetName,
			r.City, r.Description, severityScore(r.SeverityScore), w.dialect.timeArg(r.ObservedAt),
		); err != nil {
			return fmt.Errorf("insert anomaly row: %w", err)
		}
	}
	return tx.Commit()
}

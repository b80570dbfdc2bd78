package warehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/ashureev/citycast/internal/domain"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_$-]+){1,2}$`)

// BigQueryConfig configures the BigQuery warehouse.
type BigQueryConfig struct {
	// Project defaults to the project of the credentials.
	Project string
	// Table is "dataset.table" or "project.dataset.table".
	Table           string
	CredentialsFile string
}

// BigQuery implements Warehouse against a BigQuery table whose timestamp
// column is unix_timestamp.
type BigQuery struct {
	client *bigquery.Client
	query  string
}

type bigQueryRow struct {
	EventType     bigquery.NullString  `bigquery:"event_type"`
	SubEventType  bigquery.NullString  `bigquery:"sub_event_type"`
	AreaName      bigquery.NullString  `bigquery:"area_name"`
	StreetName    bigquery.NullString  `bigquery:"street_name"`
	City          bigquery.NullString  `bigquery:"city"`
	Description   bigquery.NullString  `bigquery:"description"`
	SeverityScore bigquery.NullFloat64 `bigquery:"severity_score"`
}

// NewBigQuery creates a BigQuery client authenticated with a service-account file.
func NewBigQuery(ctx context.Context, cfg BigQueryConfig) (*BigQuery, error) {
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid bigquery table %q", cfg.Table)
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	project := cfg.Project
	if project == "" {
		project = bigquery.DetectProjectID
	}

	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}

	return &BigQuery{client: client, query: buildBigQueryQuery(cfg.Table)}, nil
}

func buildBigQueryQuery(table string) string {
	return fmt.Sprintf(`
		SELECT
			event_type, sub_event_type, area_name, street_name, city, description,
			CAST(severity_score AS FLOAT64) AS severity_score
		FROM
			`+"`%s`"+`
		WHERE
			LOWER(TRIM(street_name)) = LOWER(TRIM(@street))
			AND unix_timestamp >= @since`, table)
}

// FindByStreet runs the parameterised lookup.
func (b *BigQuery) FindByStreet(ctx context.Context, street string, since time.Time) ([]domain.AnomalyRow, error) {
	q := b.client.Query(b.query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "street", Value: strings.TrimSpace(street)},
		{Name: "since", Value: since.UTC()},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery query for %q: %w", street, err)
	}

	var out []domain.AnomalyRow
	for {
		var row bigQueryRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read bigquery row: %w", err)
		}
		out = append(out, domain.AnomalyRow{
			EventType:     row.EventType.StringVal,
			SubEventType:  row.SubEventType.StringVal,
			AreaName:      row.AreaName.StringVal,
			StreetName:    row.StreetName.StringVal,
			City:          row.City.StringVal,
			Description:   row.Description.StringVal,
			SeverityScore: severityScore(row.SeverityScore.Float64),
		})
	}
	return out, nil
}

// Ping dry-runs a trivial query.
func (b *BigQuery) Ping(ctx context.Context) error {
	q := b.client.Query("SELECT 1")
	q.DryRun = true
	if _, err := q.Run(ctx); err != nil {
		return fmt.Errorf("bigquery dry run: %w", err)
	}
	return nil
}

// Close closes the client.
func (b *BigQuery) Close() error {
	return b.client.Close()
}

package warehouse

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/citycast/internal/domain"
)

var csvColumns = []string{
	"event_type", "sub_event_type", "area_name", "street_name",
	"city", "description", "severity_score", "observed_at",
}

// ReadCSV parses anomaly records from CSV with a header row naming the
// columns event_type through severity_score and observed_at. Column order
// is free. observed_at is RFC 3339 or Unix seconds; when absent, now is used.
func ReadCSV(r io.Reader, now time.Time) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["street_name"]; !ok {
		return nil, errors.New("csv header must include street_name")
	}

	field := func(row []string, name string) string {
		if i, ok := idx[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		rec := Record{
			AnomalyRow: domain.AnomalyRow{
				EventType:    field(row, csvColumns[0]),
				SubEventType: field(row, csvColumns[1]),
				AreaName:     field(row, csvColumns[2]),
				StreetName:   field(row, csvColumns[3]),
				City:         field(row, csvColumns[4]),
				Description:  field(row, csvColumns[5]),
			},
			ObservedAt: now,
		}
		if rec.StreetName == "" {
			return nil, fmt.Errorf("csv line %d: street_name is empty", line)
		}

		if s := field(row, csvColumns[6]); s != "" {
			if rec.SeverityScore, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("csv line %d: severity_score: %w", line, err)
			}
			rec.SeverityScore = severityScore(rec.SeverityScore)
		}
		if s := field(row, csvColumns[7]); s != "" {
			if rec.ObservedAt, err = parseTimestamp(s); err != nil {
				return nil, fmt.Errorf("csv line %d: observed_at: %w", line, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

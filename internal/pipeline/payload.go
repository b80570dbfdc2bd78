package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/citycast/internal/domain"
)

// historyPayload lists one search query per matched row.
func historyPayload(matches []domain.AnomalyRow) string {
	var b strings.Builder
	b.WriteString("Search Queries : ")
	for i, m := range matches {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Event_%d : %s", i, strings.Join(m.SearchTerms(), ","))
	}
	return b.String()
}

func weatherPayload(locations []string) string {
	quoted := make([]string, len(locations))
	for i, l := range locations {
		quoted[i] = strconv.Quote(l)
	}
	return "Locations : [" + strings.Join(quoted, ", ") + "]"
}

func predictionPayload(matches []domain.AnomalyRow, news, weather string) (string, error) {
	current, err := json.Marshal(matches)
	if err != nil {
		return "", fmt.Errorf("encode current data: %w", err)
	}
	var b strings.Builder
	b.WriteString("Current Data : ")
	b.Write(current)
	if news != "" {
		b.WriteString("\n\nPast Incidents : ")
		b.WriteString(news)
	}
	if weather != "" {
		b.WriteString("\n\nForecast Weather : ")
		b.WriteString(weather)
	}
	return b.String(), nil
}

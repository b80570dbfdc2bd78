package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// WebSearch queries a programmable search engine.
type WebSearch struct {
	svc        *customsearch.Service
	engineID   string
	maxResults int64
}

// NewWebSearch creates the web_search tool. opts are passed to the
// search service after the API key.
func NewWebSearch(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) (*WebSearch, error) {
	if apiKey == "" || engineID == "" {
		return nil, errors.New("search API key and engine id are required")
	}
	svc, err := customsearch.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create search service: %w", err)
	}
	return &WebSearch{svc: svc, engineID: engineID, maxResults: 8}, nil
}

func (s *WebSearch) Name() string { return "web_search" }

func (s *WebSearch) Description() string {
	return "Search the web for recent news, reports and forecasts. Returns titles, links and snippets."
}

func (s *WebSearch) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": stringParam("Free-text search query"),
		},
		"required": []string{"query"},
	}
}

func (s *WebSearch) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, fmt.Errorf("web_search: query: %w", errEmptyArgument)
	}

	res, err := s.svc.Cse.List().Cx(s.engineID).Q(query).Num(s.maxResults).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("web_search %q: %w", query, err)
	}

	out := make([]SearchResult, 0, len(res.Items))
	for _, item := range res.Items {
		out = append(out, SearchResult{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
	}
	return out, nil
}

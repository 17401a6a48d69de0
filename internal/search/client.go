// Package search wraps the external web search capability. The transport
// behind it (native provider grounding, DuckDuckGo fallback, or anything
// else) is the search service's concern; this client only sees
// (url, title, content) tuples.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/prosearch-ai/orchestrator/internal/tracing"
)

// Result is one web result for a query.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Query is one search call. Provider/Model/Effort are advisory hints for
// the model-backed search service; an empty value lets the service pick.
type Query struct {
	Text     string `json:"query"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Effort   string `json:"effort,omitempty"`
}

// Searcher is the search-capable call consumed by the research executor.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// HTTPSearcher implements Searcher against the search service.
type HTTPSearcher struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPSearcher builds a searcher for the service at baseURL. maxResults
// caps results per query; timeout bounds a single HTTP call (retries are the
// executor's job, not the transport's).
func NewHTTPSearcher(baseURL string, maxResults int, timeout time.Duration, logger *zap.Logger) *HTTPSearcher {
	if maxResults <= 0 {
		maxResults = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSearcher{
		baseURL:    baseURL,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type searchRequest struct {
	Query
	MaxResults int `json:"max_results"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

func (s *HTTPSearcher) Search(ctx context.Context, q Query) ([]Result, error) {
	body, err := json.Marshal(searchRequest{Query: q, MaxResults: s.maxResults})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}
	url := fmt.Sprintf("%s/v1/search", s.baseURL)

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call search service: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("search service returned status %d", httpResp.StatusCode)
	}
	var out searchResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return out.Results, nil
}

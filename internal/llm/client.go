// Package llm calls the external model service over HTTP. Every model-backed
// stage (query generation, reflection, synthesis, search summarization) goes
// through this client; the orchestrator never talks to a provider SDK
// directly.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/prosearch-ai/orchestrator/internal/tracing"
)

// ErrModelCall is the sentinel for transport or parse failures on a single
// model call, after the client's retry budget is exhausted.
var ErrModelCall = errors.New("model call failed")

// Request is one completion call.
type Request struct {
	Stage       string  `json:"stage"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	Effort      string  `json:"effort,omitempty"`
	// JSONResponse asks the service for a structured JSON body matching the
	// prompt's declared shape.
	JSONResponse bool `json:"json_response,omitempty"`
}

// Response is the model service's reply.
type Response struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Client is the LLM call capability consumed by the pipeline stages.
type Client interface {
	// Complete returns free-form text.
	Complete(ctx context.Context, req Request) (Response, error)
	// CompleteStructured decodes the model's JSON output into out. A
	// response that does not parse is an ErrModelCall like any transport
	// failure; callers that want fail-safe behavior handle it themselves.
	CompleteStructured(ctx context.Context, req Request, out any) error
}

// HTTPClient implements Client against the model service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
	logger     *zap.Logger
}

// Options tunes the HTTP client. Zero values fall back to defaults.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// NewHTTPClient builds a client for the model service at baseURL.
func NewHTTPClient(baseURL string, opts Options, logger *zap.Logger) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBase,
		logger:     logger,
	}
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	return c.call(ctx, req)
}

func (c *HTTPClient) CompleteStructured(ctx context.Context, req Request, out any) error {
	req.JSONResponse = true
	resp, err := c.call(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(resp.Text), out); err != nil {
		return fmt.Errorf("%w: decode structured output for stage %s: %v", ErrModelCall, req.Stage, err)
	}
	return nil
}

// call posts the request, retrying transport and 5xx failures with
// exponential backoff.
func (c *HTTPClient) call(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: marshal request: %v", ErrModelCall, err)
	}
	url := fmt.Sprintf("%s/v1/completions", c.baseURL)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBase << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Response{}, fmt.Errorf("%w: %v", ErrModelCall, ctx.Err())
			}
		}
		resp, err := c.post(ctx, url, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("Model call attempt failed",
			zap.String("stage", req.Stage),
			zap.String("model", req.Model),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return Response{}, fmt.Errorf("%w: stage %s: %v", ErrModelCall, req.Stage, lastErr)
}

func (c *HTTPClient) post(ctx context.Context, url string, body []byte) (Response, error) {
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("call model service: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("model service returned status %d", httpResp.StatusCode)
	}
	var out Response
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode model service response: %w", err)
	}
	if out.Text == "" {
		return Response{}, fmt.Errorf("model service returned empty text")
	}
	return out, nil
}

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prosearch-ai/orchestrator/internal/catalog"
	"github.com/prosearch-ai/orchestrator/internal/config"
	"github.com/prosearch-ai/orchestrator/internal/llm"
	"github.com/prosearch-ai/orchestrator/internal/research"
	"github.com/prosearch-ai/orchestrator/internal/search"
	"github.com/prosearch-ai/orchestrator/internal/streaming"
)

// stageLLM answers each pipeline stage with a canned payload, so a full run
// completes without any model service.
type stageLLM struct{}

func (stageLLM) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{Text: "The findings are conclusive [1].", Model: req.Model, Provider: req.Provider}, nil
}

func (stageLLM) CompleteStructured(_ context.Context, req llm.Request, out any) error {
	var payload string
	switch req.Stage {
	case catalog.StageQueryGeneration:
		payload = `{"queries":[{"query":"test query","rationale":"covers the question"}]}`
	case catalog.StageReflection:
		payload = `{"is_sufficient":true,"knowledge_gap":"","follow_up_queries":[]}`
	default:
		payload = `{}`
	}
	return json.Unmarshal([]byte(payload), out)
}

type stubSearcher struct{}

func (stubSearcher) Search(_ context.Context, q search.Query) ([]search.Result, error) {
	return []search.Result{{URL: "https://source.test/1", Title: "Source One", Content: "body"}}, nil
}

func testStack(t *testing.T) (*ResearchHandler, *streaming.Manager) {
	t.Helper()

	cat, err := catalog.New([]catalog.ProviderProfile{{
		Name: "gemini",
		Models: []catalog.ModelDescriptor{{
			Name:         "gemini-2.0-flash",
			DisplayName:  "Gemini 2.0 Flash",
			Capabilities: []string{catalog.CapabilityStructuredOutput, catalog.CapabilityWebSearch},
		}},
	}})
	require.NoError(t, err)

	defaults := map[string]catalog.StageDefault{}
	for _, stage := range []string{
		catalog.StageQueryGeneration, catalog.StageWebResearch,
		catalog.StageReflection, catalog.StageSynthesis,
	} {
		defaults[stage] = catalog.StageDefault{Provider: "gemini", Model: "gemini-2.0-flash"}
	}
	reg, err := catalog.NewRegistry(cat, defaults)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Research.MaxResearchLoops = 2
	cfg.Research.InitialQueryCount = 2
	cfg.Research.WorkerPoolSize = 2
	cfg.Research.QueryTimeout = time.Second

	streams := streaming.NewManager(64)
	svc := research.NewService(cfg, reg, stageLLM{}, stubSearcher{}, streams, zap.NewNop())
	return NewResearchHandler(svc, cat, 10*time.Second, zap.NewNop()), streams
}

func newMux(t *testing.T) (*http.ServeMux, *streaming.Manager) {
	t.Helper()
	h, streams := testStack(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, streams
}

func TestResearchEndpoint(t *testing.T) {
	mux, _ := newMux(t)

	body := strings.NewReader(`{"question":"what is known about the topic"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/research", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var ans research.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.NotEmpty(t, ans.RunID)
	assert.Equal(t, 1, ans.Iterations)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "https://source.test/1", ans.Citations[0].URL)
}

func TestResearchEndpointRejectsBadJSON(t *testing.T) {
	mux, _ := newMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/research", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResearchEndpointRequiresQuestion(t *testing.T) {
	mux, _ := newMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/research", strings.NewReader(`{"question":""}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResearchEndpointProviderUnavailable(t *testing.T) {
	// A registry with no stage defaults cannot resolve anything, which the
	// API reports as unprocessable rather than a gateway failure.
	cat, err := catalog.New([]catalog.ProviderProfile{{Name: "gemini"}})
	require.NoError(t, err)
	reg, err := catalog.NewRegistry(cat, map[string]catalog.StageDefault{})
	require.NoError(t, err)

	cfg := &config.Config{}
	svc := research.NewService(cfg, reg, stageLLM{}, stubSearcher{}, streaming.NewManager(8), zap.NewNop())
	h := NewResearchHandler(svc, cat, time.Second, zap.NewNop())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/research", strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestResearchAsyncEndpoint(t *testing.T) {
	mux, streams := newMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/research/async", strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	runID := resp["run_id"]
	require.NotEmpty(t, runID)

	// The answer arrives on the event stream; replay covers events published
	// before this subscriber showed up.
	deadline := time.After(5 * time.Second)
	for {
		var done bool
		for _, evt := range streams.ReplaySince(runID, 0) {
			if evt.Type == streaming.TypeAnswerReady {
				done = true
			}
		}
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("answer_ready event never published")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestModelsEndpoint(t *testing.T) {
	mux, _ := newMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Providers []catalog.ProviderProfile `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "gemini", resp.Providers[0].Name)
	require.Len(t, resp.Providers[0].Models, 1)
	assert.Contains(t, resp.Providers[0].Models[0].Capabilities, catalog.CapabilityWebSearch)
}

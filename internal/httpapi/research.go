// Package httpapi exposes the run submission boundary: synchronous and
// asynchronous research submission, the model catalog listing, and progress
// streaming over SSE and WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/prosearch-ai/orchestrator/internal/catalog"
	"github.com/prosearch-ai/orchestrator/internal/research"
)

// ResearchHandler serves run submission and catalog endpoints.
type ResearchHandler struct {
	svc        *research.Service
	cat        *catalog.Catalog
	runTimeout time.Duration
	logger     *zap.Logger
}

// NewResearchHandler builds the handler. runTimeout bounds one run
// end-to-end for both sync and async submissions.
func NewResearchHandler(svc *research.Service, cat *catalog.Catalog, runTimeout time.Duration, logger *zap.Logger) *ResearchHandler {
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	return &ResearchHandler{svc: svc, cat: cat, runTimeout: runTimeout, logger: logger}
}

// RegisterRoutes registers the research API on mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/research", h.handleResearch)
	mux.HandleFunc("POST /api/v1/research/async", h.handleResearchAsync)
	mux.HandleFunc("GET /api/v1/models", h.handleModels)
}

type researchPayload struct {
	Question          string                            `json:"question"`
	MaxResearchLoops  int                               `json:"max_research_loops,omitempty"`
	InitialQueryCount int                               `json:"initial_query_count,omitempty"`
	Stages            map[string]research.StageOverride `json:"stages,omitempty"`
}

func (h *ResearchHandler) decode(w http.ResponseWriter, r *http.Request) (research.Request, bool) {
	var p researchPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return research.Request{}, false
	}
	if p.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return research.Request{}, false
	}
	return research.Request{
		Question:          p.Question,
		MaxResearchLoops:  p.MaxResearchLoops,
		InitialQueryCount: p.InitialQueryCount,
		Stages:            p.Stages,
	}, true
}

// handleResearch runs a request to completion and returns the Answer.
func (h *ResearchHandler) handleResearch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	ctx, cancel := contextWithTimeout(r, h.runTimeout)
	defer cancel()

	ans, err := h.svc.Run(ctx, req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, catalog.ErrProviderUnavailable) {
			status = http.StatusUnprocessableEntity
		}
		h.logger.Error("Research request failed", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// handleResearchAsync starts a run and returns its run ID immediately.
// Progress and the final answer arrive on the event stream.
func (h *ResearchHandler) handleResearchAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	runID := h.svc.Start(req, h.runTimeout)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleModels lists the provider catalog for frontend model pickers.
func (h *ResearchHandler) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": h.cat.Providers()})
}

func contextWithTimeout(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

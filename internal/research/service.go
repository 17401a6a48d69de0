package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prosearch-ai/orchestrator/internal/catalog"
	"github.com/prosearch-ai/orchestrator/internal/config"
	"github.com/prosearch-ai/orchestrator/internal/llm"
	"github.com/prosearch-ai/orchestrator/internal/search"
	"github.com/prosearch-ai/orchestrator/internal/streaming"
)

// Service wires the registry, clients, and streaming manager into
// per-request research runs. Runs share no mutable state, so any number may
// execute concurrently.
type Service struct {
	cfg      *config.Config
	registry *catalog.Registry
	llm      llm.Client
	searcher search.Searcher
	streams  *streaming.Manager
	logger   *zap.Logger
}

// NewService builds the research service.
func NewService(cfg *config.Config, registry *catalog.Registry, llmClient llm.Client,
	searcher search.Searcher, streams *streaming.Manager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		registry: registry,
		llm:      llmClient,
		searcher: searcher,
		streams:  streams,
		logger:   logger,
	}
}

// resolvedStages holds the model selection for every stage of one run,
// resolved up front so ErrProviderUnavailable aborts before any call.
type resolvedStages struct {
	queryGen    catalog.ModelDescriptor
	webResearch catalog.ModelDescriptor
	reflection  catalog.ModelDescriptor
	synthesis   catalog.ModelDescriptor
	efforts     map[string]string
}

func (s *Service) resolveStages(req Request) (resolvedStages, error) {
	rs := resolvedStages{efforts: make(map[string]string)}
	stages := []struct {
		name string
		dst  *catalog.ModelDescriptor
	}{
		{catalog.StageQueryGeneration, &rs.queryGen},
		{catalog.StageWebResearch, &rs.webResearch},
		{catalog.StageReflection, &rs.reflection},
		{catalog.StageSynthesis, &rs.synthesis},
	}
	for _, st := range stages {
		override := req.Stages[st.name]
		desc, err := s.registry.Resolve(st.name, override.Provider, override.Model)
		if err != nil {
			return resolvedStages{}, err
		}
		*st.dst = desc
		effort := override.Effort
		if effort == "" {
			effort = s.cfg.Stages[st.name].Effort
		}
		rs.efforts[st.name] = effort
	}
	return rs, nil
}

// Run executes a research request to completion and returns its Answer.
func (s *Service) Run(ctx context.Context, req Request) (Answer, error) {
	if req.Question == "" {
		return Answer{}, ErrEmptyQuestion
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	stages, err := s.resolveStages(req)
	if err != nil {
		return Answer{}, fmt.Errorf("resolve stage models: %w", err)
	}

	rc := s.cfg.Research
	if req.MaxResearchLoops > 0 {
		rc.MaxResearchLoops = req.MaxResearchLoops
	}
	if req.InitialQueryCount > 0 {
		rc.InitialQueryCount = req.InitialQueryCount
	}
	if req.CallTimeout > 0 {
		rc.QueryTimeout = req.CallTimeout
	}

	logger := s.logger.With(zap.String("run_id", req.RunID))
	gen := NewQueryGenerator(s.llm, stages.queryGen, stages.efforts[catalog.StageQueryGeneration], logger)
	exec := NewExecutor(s.searcher, ExecutorOptions{
		Workers:      rc.WorkerPoolSize,
		QueryTimeout: rc.QueryTimeout,
		MaxRetries:   rc.MaxRetries,
		RetryBase:    rc.RetryBaseDelay,
		RatePerSec:   rc.SearchRatePerSec,
		RateBurst:    rc.SearchRateBurst,
		Provider:     stages.webResearch.Provider,
		Model:        stages.webResearch.Name,
		Effort:       stages.efforts[catalog.StageWebResearch],
	}, logger)
	refl := NewReflector(s.llm, stages.reflection, stages.efforts[catalog.StageReflection], logger)
	synth := NewSynthesizer(s.llm, stages.synthesis, stages.efforts[catalog.StageSynthesis], logger)

	ctrl := NewController(req, gen, exec, refl, synth, s.streams, ControllerOptions{
		MaxResearchLoops:  rc.MaxResearchLoops,
		InitialQueryCount: rc.InitialQueryCount,
		SynthesisGrace:    rc.SynthesisGraceTime,
	}, logger)

	logger.Info("Starting research run",
		zap.String("question", req.Question),
		zap.Int("max_research_loops", rc.MaxResearchLoops),
	)
	ans, err := ctrl.Run(ctx)
	if err != nil {
		logger.Error("Research run failed", zap.Error(err))
		return Answer{}, err
	}
	logger.Info("Research run completed",
		zap.Int("iterations", ans.Iterations),
		zap.Int("citations", len(ans.Citations)),
	)
	return ans, nil
}

// Start launches a run in the background and returns its run ID. Progress
// is observable on the streaming manager; the terminal answer is published
// as an answer_ready event.
func (s *Service) Start(req Request, timeout time.Duration) string {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	go func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		_, err := s.Run(ctx, req)
		if err != nil && (errors.Is(err, catalog.ErrProviderUnavailable) || errors.Is(err, ErrEmptyQuestion)) {
			// Controller-internal failures already published run_failed;
			// pre-flight failures happen before the controller exists.
			s.streams.Publish(req.RunID, streaming.Event{
				Type:    streaming.TypeRunFailed,
				Message: err.Error(),
			})
		}
	}()
	return req.RunID
}

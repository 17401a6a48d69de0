package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prosearch-ai/orchestrator/internal/metrics"
	"github.com/prosearch-ai/orchestrator/internal/streaming"
	"github.com/prosearch-ai/orchestrator/internal/tracing"
)

// Publisher receives progress events after every controller transition.
// *streaming.Manager satisfies it.
type Publisher interface {
	Publish(runID string, evt streaming.Event)
}

// nopPublisher discards events; used when no stream consumer exists.
type nopPublisher struct{}

func (nopPublisher) Publish(string, streaming.Event) {}

// ControllerOptions configures one run of the loop.
type ControllerOptions struct {
	MaxResearchLoops  int
	InitialQueryCount int
	// SynthesisGrace bounds the detached synthesis call after the run
	// context is cancelled, so a best-effort answer is still produced.
	SynthesisGrace time.Duration
}

// Controller drives a single research run through the state machine
//
//	INIT -> QUERYING -> RESEARCHING -> REFLECTING
//	                        ^               |
//	                        +---------------+-> SYNTHESIZING -> DONE
//
// It is the sole writer of the run's state and evidence; the executor and
// reflector return values that the controller folds in.
type Controller struct {
	req    Request
	gen    QueryGenerator
	exec   Executor
	refl   Reflector
	synth  Synthesizer
	events Publisher
	opts   ControllerOptions
	logger *zap.Logger
}

// NewController wires the stages for one run.
func NewController(req Request, gen QueryGenerator, exec Executor, refl Reflector, synth Synthesizer,
	events Publisher, opts ControllerOptions, logger *zap.Logger) *Controller {
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxResearchLoops <= 0 {
		opts.MaxResearchLoops = 2
	}
	if opts.InitialQueryCount <= 0 {
		opts.InitialQueryCount = 3
	}
	if opts.SynthesisGrace <= 0 {
		opts.SynthesisGrace = 30 * time.Second
	}
	return &Controller{
		req: req, gen: gen, exec: exec, refl: refl, synth: synth,
		events: events, opts: opts, logger: logger,
	}
}

// runState is the mutable state of a run. Only the controller touches it.
type runState struct {
	state     State
	iteration int
	terminal  bool
	queries   []Query
	issued    []string
	evidence  *EvidenceSet
	verdict   Verdict
	cancelled bool
}

// Run executes the loop to completion. It returns an error only for
// failures the caller must see (query generation or synthesis exhausting
// retries); everything else degrades toward still producing an Answer.
func (c *Controller) Run(ctx context.Context) (Answer, error) {
	if c.req.Question == "" {
		return Answer{}, ErrEmptyQuestion
	}
	ctx, span := tracing.StartSpan(ctx, "research.run")
	defer span.End()

	metrics.RunsStarted.Inc()
	start := time.Now()

	st := &runState{state: StateInit, evidence: NewEvidenceSet()}
	ans, err := c.loop(ctx, st)

	status := "completed"
	switch {
	case err != nil:
		status = "failed"
	case st.cancelled:
		status = "cancelled"
	}
	metrics.RunsCompleted.WithLabelValues(status).Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	metrics.ResearchIterations.Observe(float64(st.iteration))
	if err == nil {
		metrics.EvidenceSize.Observe(float64(st.evidence.Len()))
	}
	return ans, err
}

func (c *Controller) loop(ctx context.Context, st *runState) (Answer, error) {
	for !st.terminal {
		if ctx.Err() != nil && !st.cancelled && st.state != StateSynthesizing {
			st.cancelled = true
			c.publish(streaming.TypeRunCancelled, "run cancelled, synthesizing from merged evidence", nil)
			st.state = nextState(st.state, stepInput{cancelled: true})
			continue
		}

		switch st.state {
		case StateInit:
			c.publish(streaming.TypeRunStarted, c.req.Question, map[string]any{
				"max_research_loops": c.opts.MaxResearchLoops,
			})
			st.state = nextState(st.state, stepInput{})

		case StateQuerying:
			if err := c.stepQuerying(ctx, st); err != nil {
				c.publish(streaming.TypeRunFailed, err.Error(), nil)
				return Answer{}, err
			}

		case StateResearching:
			c.stepResearching(ctx, st)

		case StateReflecting:
			c.stepReflecting(ctx, st)

		case StateSynthesizing:
			return c.stepSynthesizing(ctx, st)
		}
	}
	// Unreachable: SYNTHESIZING always returns.
	return Answer{}, fmt.Errorf("research loop exited without synthesizing")
}

func (c *Controller) stepQuerying(ctx context.Context, st *runState) error {
	stageStart := time.Now()
	queries, err := c.gen.Generate(ctx, GenerateInput{
		Question:  c.req.Question,
		Iteration: 1,
		Count:     c.opts.InitialQueryCount,
	})
	metrics.StageLatency.WithLabelValues("query_generation").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return fmt.Errorf("generate queries: %w", err)
	}

	st.queries = queries
	for _, q := range queries {
		st.issued = append(st.issued, q.Text)
	}
	c.publish(streaming.TypeQueriesGenerated, "", map[string]any{
		"queries": queryTexts(queries),
	})

	if len(queries) == 0 {
		c.logger.Warn("Query generator produced an empty batch; synthesizing with existing evidence")
	} else {
		st.iteration = 1
	}
	st.state = nextState(st.state, stepInput{emptyBatch: len(queries) == 0})
	return nil
}

func (c *Controller) stepResearching(ctx context.Context, st *runState) {
	c.publish(streaming.TypeIterationStarted, "", map[string]any{
		"iteration": st.iteration,
		"queries":   queryTexts(st.queries),
	})

	stageStart := time.Now()
	batch, err := c.exec.Execute(ctx, st.queries)
	metrics.StageLatency.WithLabelValues("web_research").Observe(time.Since(stageStart).Seconds())

	// Merge only after the whole fan-in completed so reflection always
	// observes a consistent snapshot.
	added := st.evidence.Merge(batch.Sources)

	switch {
	case err == nil:
	case errors.Is(err, ErrResearchExhausted):
		c.logger.Warn("Research batch exhausted without sources",
			zap.Int("iteration", st.iteration),
			zap.Int("query_failures", len(batch.Errors)),
		)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Cancellation is handled at the top of the loop.
	default:
		c.logger.Warn("Research batch error", zap.Error(err))
	}
	for _, qErr := range batch.Errors {
		c.logger.Warn("Query failed after retries", zap.String("query", qErr.Query), zap.Error(qErr.Err))
	}

	failed := make(map[string]bool, len(batch.Errors))
	for _, qErr := range batch.Errors {
		failed[qErr.Query] = true
	}
	perQuery := make(map[string]int, len(st.queries))
	for _, src := range batch.Sources {
		perQuery[src.Query]++
	}
	for _, q := range st.queries {
		if failed[q.Text] {
			continue
		}
		c.publish(streaming.TypeSearchCompleted, q.Text, map[string]any{
			"iteration": st.iteration,
			"sources":   perQuery[q.Text],
		})
	}

	c.publish(streaming.TypeBatchCompleted, "", map[string]any{
		"iteration":      st.iteration,
		"sources_added":  added,
		"sources_total":  st.evidence.Len(),
		"query_failures": len(batch.Errors),
	})
	st.state = nextState(st.state, stepInput{})
}

func (c *Controller) stepReflecting(ctx context.Context, st *runState) {
	stageStart := time.Now()
	verdict := c.refl.Reflect(ctx, c.req.Question, st.evidence)
	metrics.StageLatency.WithLabelValues("reflection").Observe(time.Since(stageStart).Seconds())

	st.verdict = verdict
	c.publish(streaming.TypeReflectionCompleted, verdict.KnowledgeGap, map[string]any{
		"iteration":  st.iteration,
		"sufficient": verdict.Sufficient,
		"follow_ups": len(verdict.FollowUpQueries),
	})

	atCeiling := st.iteration >= c.opts.MaxResearchLoops
	emptyBatch := false
	if !verdict.Sufficient && !atCeiling {
		// The reflector owns follow-up wording; the generator only
		// validates and dedups against queries already issued.
		queries, _ := c.gen.Generate(ctx, GenerateInput{
			Question:  c.req.Question,
			Iteration: st.iteration + 1,
			FollowUps: verdict.FollowUpQueries,
			Issued:    st.issued,
		})
		emptyBatch = len(queries) == 0
		if !emptyBatch {
			st.queries = queries
			for _, q := range queries {
				st.issued = append(st.issued, q.Text)
			}
		}
	}

	prev := st.state
	st.state = nextState(st.state, stepInput{
		sufficient: verdict.Sufficient,
		atCeiling:  atCeiling,
		emptyBatch: emptyBatch,
	})
	if prev == StateReflecting && st.state == StateResearching {
		st.iteration++
	}
}

func (c *Controller) stepSynthesizing(ctx context.Context, st *runState) (Answer, error) {
	c.publish(streaming.TypeSynthesisStarted, "", map[string]any{
		"sources": st.evidence.Len(),
	})

	synthCtx := ctx
	var cancel context.CancelFunc
	if st.cancelled || ctx.Err() != nil {
		// The run context is gone; give synthesis its own bounded window.
		synthCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), c.opts.SynthesisGrace)
		defer cancel()
	}

	stageStart := time.Now()
	ans, err := c.synth.Synthesize(synthCtx, c.req.Question, st.evidence)
	metrics.StageLatency.WithLabelValues("synthesis").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		if st.cancelled {
			// A cancelled run must still end with an Answer.
			ans = FallbackAnswer(c.req.Question, st.evidence)
		} else {
			err = fmt.Errorf("synthesize: %w", err)
			c.publish(streaming.TypeRunFailed, err.Error(), nil)
			return Answer{}, err
		}
	}

	ans.RunID = c.req.RunID
	ans.Iterations = st.iteration
	st.state = nextState(st.state, stepInput{})
	st.terminal = true
	c.publish(streaming.TypeAnswerReady, "", map[string]any{
		"answer":     ans,
		"iterations": ans.Iterations,
	})
	return ans, nil
}

func (c *Controller) publish(typ, msg string, data map[string]any) {
	c.events.Publish(c.req.RunID, streaming.Event{Type: typ, Message: msg, Data: data})
}

func queryTexts(queries []Query) []string {
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		out = append(out, q.Text)
	}
	return out
}

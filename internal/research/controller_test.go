package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prosearch-ai/orchestrator/internal/streaming"
)

// Stage stubs. The controller only sees the interfaces, so the loop's
// behavior is testable without any model or search transport.

type stubGenerator struct {
	initial []Query
	err     error
}

func (g *stubGenerator) Generate(_ context.Context, in GenerateInput) ([]Query, error) {
	if in.Iteration > 1 {
		return dedupeFollowUps(in), nil
	}
	return g.initial, g.err
}

type stubExecutor struct {
	mu      sync.Mutex
	batches [][]Query
	sources func(batch int, queries []Query) ([]Source, error)
}

func (e *stubExecutor) Execute(_ context.Context, queries []Query) (BatchResult, error) {
	e.mu.Lock()
	e.batches = append(e.batches, queries)
	n := len(e.batches)
	e.mu.Unlock()
	if e.sources == nil {
		return BatchResult{}, ErrResearchExhausted
	}
	src, err := e.sources(n, queries)
	return BatchResult{Sources: src}, err
}

func (e *stubExecutor) batchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

type stubReflector struct {
	verdicts func(call int) Verdict
	calls    int
}

func (r *stubReflector) Reflect(context.Context, string, *EvidenceSet) Verdict {
	r.calls++
	if r.verdicts == nil {
		return Verdict{Sufficient: true}
	}
	return r.verdicts(r.calls)
}

type stubSynthesizer struct {
	err error
}

func (s *stubSynthesizer) Synthesize(_ context.Context, question string, ev *EvidenceSet) (Answer, error) {
	if s.err != nil {
		return Answer{}, s.err
	}
	if ev.Len() == 0 {
		return Answer{Text: noEvidenceText, Citations: []Citation{}, NoEvidence: true}, nil
	}
	citations := make([]Citation, 0, ev.Len())
	for i, src := range ev.Sources() {
		citations = append(citations, Citation{Index: i + 1, URL: src.URL, Title: src.Title})
	}
	return Answer{Text: fmt.Sprintf("answer to %s", question), Citations: citations}, nil
}

func oneSourcePerQuery(batch int, queries []Query) ([]Source, error) {
	out := make([]Source, 0, len(queries))
	for i, q := range queries {
		out = append(out, Source{
			URL:     fmt.Sprintf("https://src.test/%d/%d", batch, i),
			Title:   q.Text,
			Content: "content",
			Query:   q.Text,
		})
	}
	return out, nil
}

func newTestController(req Request, gen QueryGenerator, exec Executor, refl Reflector, synth Synthesizer,
	events Publisher, maxLoops int) *Controller {
	return NewController(req, gen, exec, refl, synth, events, ControllerOptions{
		MaxResearchLoops:  maxLoops,
		InitialQueryCount: 3,
		SynthesisGrace:    time.Second,
	}, zap.NewNop())
}

func TestControllerLoopCeiling(t *testing.T) {
	// A reflector that is never satisfied and always offers one fresh
	// follow-up must drive exactly maxLoops research batches.
	const maxLoops = 3
	gen := &stubGenerator{initial: queriesOf("initial")}
	exec := &stubExecutor{sources: oneSourcePerQuery}
	refl := &stubReflector{verdicts: func(call int) Verdict {
		return Verdict{Sufficient: false, FollowUpQueries: []string{fmt.Sprintf("follow-up %d", call)}}
	}}

	ctrl := newTestController(Request{RunID: "r1", Question: "q"}, gen, exec, refl, &stubSynthesizer{}, nil, maxLoops)
	ans, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, maxLoops, exec.batchCount())
	assert.Equal(t, maxLoops, ans.Iterations)
	assert.Equal(t, maxLoops, refl.calls)
}

func TestControllerStopsWhenSufficient(t *testing.T) {
	gen := &stubGenerator{initial: queriesOf("initial")}
	exec := &stubExecutor{sources: oneSourcePerQuery}
	refl := &stubReflector{} // sufficient on first call

	ctrl := newTestController(Request{RunID: "r2", Question: "q"}, gen, exec, refl, &stubSynthesizer{}, nil, 5)
	ans, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, exec.batchCount())
	assert.Equal(t, 1, ans.Iterations)
	assert.NotEmpty(t, ans.Citations)
}

func TestControllerAllQueriesFailStillAnswers(t *testing.T) {
	gen := &stubGenerator{initial: queriesOf("a", "b")}
	exec := &stubExecutor{} // every batch exhausted
	refl := &stubReflector{verdicts: func(int) Verdict {
		return Verdict{Sufficient: false, FollowUpQueries: []string{"retry something else"}}
	}}

	ctrl := newTestController(Request{RunID: "r3", Question: "q"}, gen, exec, refl, &stubSynthesizer{}, nil, 2)
	ans, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, ans.NoEvidence)
	assert.Empty(t, ans.Citations)
	assert.Contains(t, ans.Text, "No supporting evidence")
}

func TestControllerEmptyQueryBatchSynthesizesImmediately(t *testing.T) {
	gen := &stubGenerator{initial: nil}
	exec := &stubExecutor{sources: oneSourcePerQuery}

	ctrl := newTestController(Request{RunID: "r4", Question: "q"}, gen, exec, &stubReflector{}, &stubSynthesizer{}, nil, 2)
	ans, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, exec.batchCount())
	assert.True(t, ans.NoEvidence)
	assert.Equal(t, 0, ans.Iterations)
}

func TestControllerFollowUpDedupEndsRun(t *testing.T) {
	// The reflector keeps suggesting the query that was already issued;
	// after dedup the batch is empty, so the run finalizes early.
	gen := &stubGenerator{initial: queriesOf("same query")}
	exec := &stubExecutor{sources: oneSourcePerQuery}
	refl := &stubReflector{verdicts: func(int) Verdict {
		return Verdict{Sufficient: false, FollowUpQueries: []string{"Same Query"}}
	}}

	ctrl := newTestController(Request{RunID: "r5", Question: "q"}, gen, exec, refl, &stubSynthesizer{}, nil, 5)
	ans, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, exec.batchCount())
	assert.Equal(t, 1, ans.Iterations)
}

func TestControllerQueryGenerationFailureIsFatal(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model down")}
	ctrl := newTestController(Request{RunID: "r6", Question: "q"}, gen, &stubExecutor{}, &stubReflector{}, &stubSynthesizer{}, nil, 2)

	_, err := ctrl.Run(context.Background())
	assert.Error(t, err)
}

func TestControllerCancellationYieldsAnswer(t *testing.T) {
	gen := &stubGenerator{initial: queriesOf("a")}

	ctx, cancel := context.WithCancel(context.Background())
	// Executor cancels the run mid-batch after returning one source.
	exec := &stubExecutor{sources: func(batch int, queries []Query) ([]Source, error) {
		cancel()
		return []Source{{URL: "https://partial.test/1", Title: "partial"}}, ctx.Err()
	}}
	refl := &stubReflector{verdicts: func(int) Verdict {
		t.Fatal("reflector must not run after cancellation")
		return Verdict{}
	}}

	ctrl := newTestController(Request{RunID: "r7", Question: "q"}, gen, exec, refl, &stubSynthesizer{}, nil, 5)

	done := make(chan struct{})
	var ans Answer
	var err error
	go func() {
		ans, err = ctrl.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled run did not terminate in bounded time")
	}

	require.NoError(t, err)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "https://partial.test/1", ans.Citations[0].URL)
}

func TestControllerCancelledSynthesisFallsBack(t *testing.T) {
	gen := &stubGenerator{initial: queriesOf("a")}
	ctx, cancel := context.WithCancel(context.Background())
	exec := &stubExecutor{sources: func(batch int, queries []Query) ([]Source, error) {
		cancel()
		return []Source{{URL: "https://partial.test/1", Title: "partial"}}, ctx.Err()
	}}
	synth := &stubSynthesizer{err: errors.New("model unreachable")}

	ctrl := newTestController(Request{RunID: "r8", Question: "q"}, gen, exec, &stubReflector{}, synth, nil, 5)
	ans, err := ctrl.Run(ctx)
	require.NoError(t, err)

	// The fallback answer still cites only merged evidence.
	require.Len(t, ans.Citations, 1)
	assert.Contains(t, ans.Text, "interrupted")
}

func TestControllerEmitsProgressEvents(t *testing.T) {
	streams := streaming.NewManager(64)
	ch := streams.Subscribe("r9", 64)
	defer streams.Unsubscribe("r9", ch)

	gen := &stubGenerator{initial: queriesOf("a")}
	exec := &stubExecutor{sources: oneSourcePerQuery}
	ctrl := newTestController(Request{RunID: "r9", Question: "q"}, gen, exec, &stubReflector{}, &stubSynthesizer{}, streams, 2)

	_, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{
		streaming.TypeRunStarted,
		streaming.TypeQueriesGenerated,
		streaming.TypeIterationStarted,
		streaming.TypeSearchCompleted,
		streaming.TypeBatchCompleted,
		streaming.TypeReflectionCompleted,
		streaming.TypeSynthesisStarted,
		streaming.TypeAnswerReady,
	}, types)
}

func TestControllerEmptyQuestion(t *testing.T) {
	ctrl := newTestController(Request{RunID: "r10"}, &stubGenerator{}, &stubExecutor{}, &stubReflector{}, &stubSynthesizer{}, nil, 2)
	_, err := ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

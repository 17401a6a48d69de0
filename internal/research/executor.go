package research

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prosearch-ai/orchestrator/internal/metrics"
	"github.com/prosearch-ai/orchestrator/internal/search"
)

// Executor fans a query batch out against the search capability and fans
// the results back in.
type Executor interface {
	// Execute returns the batch's deduplicated sources and absorbed
	// per-query errors. The only error returned is ErrResearchExhausted
	// (zero sources across a non-empty batch) or the context's error when
	// the run was cancelled mid-batch.
	Execute(ctx context.Context, queries []Query) (BatchResult, error)
}

// ExecutorOptions tunes the fan-out.
type ExecutorOptions struct {
	// Workers is the fixed pool size, independent of batch size.
	Workers int
	// QueryTimeout bounds one attempt of one query.
	QueryTimeout time.Duration
	// MaxRetries is the per-query retry budget after the first attempt.
	MaxRetries int
	// RetryBase is the backoff base; attempt n waits RetryBase << (n-1).
	RetryBase time.Duration
	// RatePerSec / RateBurst cap outbound calls to the search capability
	// across the pool. Zero disables limiting.
	RatePerSec float64
	RateBurst  int
	// Provider/Model/Effort are the resolved web research stage selection,
	// passed through to the search capability as advisory hints.
	Provider string
	Model    string
	Effort   string
}

type executor struct {
	searcher search.Searcher
	opts     ExecutorOptions
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewExecutor builds a bounded-concurrency research executor.
func NewExecutor(searcher search.Searcher, opts ExecutorOptions, logger *zap.Logger) Executor {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 45 * time.Second
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return &executor{searcher: searcher, opts: opts, limiter: limiter, logger: logger}
}

// outcome is one query's terminal result, indexed so the merge is
// deterministic in query order regardless of completion order.
type outcome struct {
	index   int
	sources []search.Result
	err     error
}

func (e *executor) Execute(ctx context.Context, queries []Query) (BatchResult, error) {
	if len(queries) == 0 {
		return BatchResult{}, nil
	}

	jobs := make(chan int)
	// Buffered to the batch size so abandoned workers never block on send.
	outcomes := make(chan outcome, len(queries))

	workers := e.opts.Workers
	if workers > len(queries) {
		workers = len(queries)
	}
	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				src, err := e.runQuery(ctx, queries[i])
				outcomes <- outcome{index: i, sources: src, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range queries {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Fan-in: wait for every unit, or abandon the rest on cancellation.
	collected := make([]outcome, 0, len(queries))
	done := 0
collect:
	for done < len(queries) {
		select {
		case o := <-outcomes:
			collected = append(collected, o)
			done++
		case <-ctx.Done():
			break collect
		}
	}

	byIndex := make(map[int]outcome, len(collected))
	for _, o := range collected {
		byIndex[o.index] = o
	}

	result := BatchResult{}
	dedup := make(map[string]struct{})
	for i, q := range queries {
		o, ok := byIndex[i]
		if !ok {
			continue // abandoned on cancellation
		}
		if o.err != nil {
			metrics.QueryFailures.Inc()
			result.Errors = append(result.Errors, PerQueryError{Query: q.Text, Err: o.err})
			continue
		}
		for _, r := range o.sources {
			key := CanonicalURL(r.URL)
			if key == "" {
				continue
			}
			if _, seen := dedup[key]; seen {
				continue
			}
			dedup[key] = struct{}{}
			result.Sources = append(result.Sources, Source{
				URL:     key,
				Title:   r.Title,
				Content: r.Content,
				Query:   q.Text,
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if len(result.Sources) == 0 {
		return result, ErrResearchExhausted
	}
	return result, nil
}

// runQuery executes one query with its timeout and retry budget.
func (e *executor) runQuery(ctx context.Context, q Query) ([]search.Result, error) {
	metrics.QueriesExecuted.Inc()
	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.opts.RetryBase << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, e.opts.QueryTimeout)
		results, err := e.searcher.Search(attemptCtx, search.Query{
			Text:     q.Text,
			Provider: e.opts.Provider,
			Model:    e.opts.Model,
			Effort:   e.opts.Effort,
		})
		cancel()
		if err == nil {
			return results, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("Search attempt failed",
			zap.String("query", q.Text),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("search failed after %d attempts: %w", e.opts.MaxRetries+1, lastErr)
}

package research

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/prosearch-ai/orchestrator/internal/catalog"
	"github.com/prosearch-ai/orchestrator/internal/llm"
)

// GenerateInput is the query generator's input for one iteration.
type GenerateInput struct {
	Question  string
	Iteration int
	Count     int
	// FollowUps are the reflector's suggested queries (iteration > 1). The
	// reflector owns their wording; the generator only validates and
	// deduplicates them.
	FollowUps []string
	// Issued lists every query text already dispatched in this run.
	Issued []string
}

// QueryGenerator produces the search query batch for an iteration.
type QueryGenerator interface {
	Generate(ctx context.Context, in GenerateInput) ([]Query, error)
}

type queryGenerator struct {
	llm    llm.Client
	model  catalog.ModelDescriptor
	effort string
	logger *zap.Logger
}

// NewQueryGenerator builds the model-backed query generator for a run.
func NewQueryGenerator(client llm.Client, model catalog.ModelDescriptor, effort string, logger *zap.Logger) QueryGenerator {
	return &queryGenerator{llm: client, model: model, effort: effort, logger: logger}
}

type generatedQuery struct {
	Query     string `json:"query"`
	Rationale string `json:"rationale"`
}

type queryList struct {
	Queries []generatedQuery `json:"queries"`
}

func (g *queryGenerator) Generate(ctx context.Context, in GenerateInput) ([]Query, error) {
	if in.Iteration > 1 {
		return dedupeFollowUps(in), nil
	}

	var out queryList
	err := g.llm.CompleteStructured(ctx, llm.Request{
		Stage:       catalog.StageQueryGeneration,
		Provider:    g.model.Provider,
		Model:       g.model.Name,
		Prompt:      queryWriterPrompt(in.Question, in.Count),
		Temperature: 1.0,
		Effort:      g.effort,
	}, &out)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	queries := make([]Query, 0, len(out.Queries))
	for _, q := range out.Queries {
		text := strings.TrimSpace(q.Query)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		queries = append(queries, Query{Text: text, Rationale: q.Rationale, Iteration: in.Iteration})
		if in.Count > 0 && len(queries) >= in.Count {
			break
		}
	}
	g.logger.Debug("Generated initial queries",
		zap.Int("requested", in.Count),
		zap.Int("produced", len(queries)),
	)
	return queries, nil
}

// dedupeFollowUps validates the reflector's suggestions against queries
// already issued in the run, case-insensitive exact match.
func dedupeFollowUps(in GenerateInput) []Query {
	seen := make(map[string]struct{}, len(in.Issued))
	for _, q := range in.Issued {
		seen[strings.ToLower(strings.TrimSpace(q))] = struct{}{}
	}
	queries := make([]Query, 0, len(in.FollowUps))
	for _, f := range in.FollowUps {
		text := strings.TrimSpace(f)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		queries = append(queries, Query{Text: text, Iteration: in.Iteration})
	}
	return queries
}

package research

import (
	"context"

	"go.uber.org/zap"

	"github.com/prosearch-ai/orchestrator/internal/catalog"
	"github.com/prosearch-ai/orchestrator/internal/llm"
)

// Reflector judges whether the accumulated evidence answers the question.
type Reflector interface {
	// Reflect never fails: a malformed or unreachable model degrades to an
	// insufficient verdict with no follow-ups, biasing the loop toward more
	// research instead of a silent false answer.
	Reflect(ctx context.Context, question string, evidence *EvidenceSet) Verdict
}

type reflector struct {
	llm    llm.Client
	model  catalog.ModelDescriptor
	effort string
	logger *zap.Logger
}

// NewReflector builds the model-backed reflector for a run.
func NewReflector(client llm.Client, model catalog.ModelDescriptor, effort string, logger *zap.Logger) Reflector {
	return &reflector{llm: client, model: model, effort: effort, logger: logger}
}

type reflectionPayload struct {
	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

func (r *reflector) Reflect(ctx context.Context, question string, evidence *EvidenceSet) Verdict {
	var out reflectionPayload
	err := r.llm.CompleteStructured(ctx, llm.Request{
		Stage:       catalog.StageReflection,
		Provider:    r.model.Provider,
		Model:       r.model.Name,
		Prompt:      reflectionPrompt(question, evidence),
		Temperature: 1.0,
		Effort:      r.effort,
	}, &out)
	if err != nil {
		r.logger.Warn("Reflection degraded to insufficient verdict", zap.Error(err))
		return Verdict{Sufficient: false}
	}
	return Verdict{
		Sufficient:      out.IsSufficient,
		KnowledgeGap:    out.KnowledgeGap,
		FollowUpQueries: out.FollowUpQueries,
	}
}

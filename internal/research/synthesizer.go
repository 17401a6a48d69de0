package research

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/prosearch-ai/orchestrator/internal/catalog"
	"github.com/prosearch-ai/orchestrator/internal/llm"
)

// Synthesizer produces the final cited answer from the evidence set.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, evidence *EvidenceSet) (Answer, error)
}

type synthesizer struct {
	llm    llm.Client
	model  catalog.ModelDescriptor
	effort string
	logger *zap.Logger
}

// NewSynthesizer builds the model-backed synthesizer for a run.
func NewSynthesizer(client llm.Client, model catalog.ModelDescriptor, effort string, logger *zap.Logger) Synthesizer {
	return &synthesizer{llm: client, model: model, effort: effort, logger: logger}
}

const noEvidenceText = "No supporting evidence could be found for this question. " +
	"Web research returned no usable sources, so an answer cannot be given with confidence."

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

func (s *synthesizer) Synthesize(ctx context.Context, question string, evidence *EvidenceSet) (Answer, error) {
	if evidence == nil || evidence.Len() == 0 {
		return Answer{Text: noEvidenceText, Citations: []Citation{}, NoEvidence: true}, nil
	}

	resp, err := s.llm.Complete(ctx, llm.Request{
		Stage:    catalog.StageSynthesis,
		Provider: s.model.Provider,
		Model:    s.model.Name,
		Prompt:   answerPrompt(question, evidence),
		Effort:   s.effort,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("synthesize answer: %w", err)
	}

	text, citations := resolveCitations(resp.Text, evidence)
	return Answer{Text: text, Citations: citations}, nil
}

// resolveCitations validates every [n] marker in the answer text against
// the evidence set. Markers that do not resolve are stripped rather than
// emitted as dangling references; resolving markers become citations in
// order of first appearance.
func resolveCitations(text string, evidence *EvidenceSet) (string, []Citation) {
	sources := evidence.Sources()
	cited := make(map[int]bool)
	var citations []Citation

	cleaned := citationMarker.ReplaceAllStringFunc(text, func(marker string) string {
		n, err := strconv.Atoi(strings.Trim(marker, "[]"))
		if err != nil || n < 1 || n > len(sources) {
			return ""
		}
		if !cited[n] {
			cited[n] = true
			src := sources[n-1]
			citations = append(citations, Citation{Index: n, URL: src.URL, Title: src.Title})
		}
		return marker
	})

	if citations == nil {
		citations = []Citation{}
	}
	return strings.TrimSpace(cleaned), citations
}

// FallbackAnswer composes a deterministic answer from the evidence without
// a model call. Used when a cancelled run can no longer reach the model
// service but must still terminate with an Answer.
func FallbackAnswer(question string, evidence *EvidenceSet) Answer {
	if evidence == nil || evidence.Len() == 0 {
		return Answer{Text: noEvidenceText, Citations: []Citation{}, NoEvidence: true}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Research was interrupted before a full answer could be written. "+
		"The following sources were gathered for %q:\n", question)
	citations := make([]Citation, 0, evidence.Len())
	for i, s := range evidence.Sources() {
		fmt.Fprintf(&b, "[%d] %s (%s)\n", i+1, s.Title, s.URL)
		citations = append(citations, Citation{Index: i + 1, URL: s.URL, Title: s.Title})
	}
	return Answer{Text: strings.TrimSpace(b.String()), Citations: citations}
}

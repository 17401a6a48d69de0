// Package research implements the orchestration core: a bounded-iteration
// loop that generates search queries, fans them out against the web search
// capability, reflects on the accumulated evidence, and synthesizes a cited
// answer.
package research

import (
	"fmt"
	"time"
)

// StageOverride carries a caller-requested model selection for one stage.
type StageOverride struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Effort   string `json:"effort,omitempty"`
}

// Request describes one research run. It is immutable once submitted; the
// controller copies what it needs into its own run state.
type Request struct {
	RunID             string                   `json:"run_id"`
	Question          string                   `json:"question"`
	MaxResearchLoops  int                      `json:"max_research_loops,omitempty"`
	InitialQueryCount int                      `json:"initial_query_count,omitempty"`
	CallTimeout       time.Duration            `json:"call_timeout,omitempty"`
	Stages            map[string]StageOverride `json:"stages,omitempty"`
}

// Query is a generated search string tagged with the iteration that
// produced it.
type Query struct {
	Text      string `json:"text"`
	Rationale string `json:"rationale,omitempty"`
	Iteration int    `json:"iteration"`
}

// Source is one unique web result. URL is the canonical identity key; Query
// records which search produced it. Sources are immutable once stored.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Query   string `json:"query"`
}

// Verdict is the reflector's structured judgment of the evidence.
type Verdict struct {
	Sufficient      bool     `json:"sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap,omitempty"`
	FollowUpQueries []string `json:"follow_up_queries,omitempty"`
}

// Citation points into the evidence set backing an answer.
type Citation struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Answer is the terminal output of a run. Every citation resolves to a
// source that was present in the evidence set at synthesis time.
type Answer struct {
	RunID      string     `json:"run_id"`
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	Iterations int        `json:"iterations"`
	NoEvidence bool       `json:"no_evidence,omitempty"`
}

// PerQueryError records one query's research failure after retries. It
// never aborts the batch it belongs to.
type PerQueryError struct {
	Query string
	Err   error
}

func (e PerQueryError) Error() string {
	return fmt.Sprintf("query %q: %v", e.Query, e.Err)
}

func (e PerQueryError) Unwrap() error { return e.Err }

// BatchResult is the outcome of one research fan-out: deduplicated sources
// plus the failures that were absorbed along the way.
type BatchResult struct {
	Sources []Source
	Errors  []PerQueryError
}

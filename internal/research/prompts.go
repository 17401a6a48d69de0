package research

import (
	"fmt"
	"strings"
	"time"
)

func currentDate() string {
	return time.Now().UTC().Format("January 2, 2006")
}

func queryWriterPrompt(question string, count int) string {
	return fmt.Sprintf(`Your goal is to generate sophisticated and diverse web search queries.

Instructions:
- Today's date is %s.
- Generate at most %d queries; prefer a single query unless the question has several distinct aspects.
- Each query should focus on one specific aspect of the question.
- Don't produce similar queries; each should target different information.

Respond with a JSON object with exactly these keys:
- "queries": a list of objects, each with "query" and "rationale" strings.

Question: %s`, currentDate(), count, question)
}

func reflectionPrompt(question string, evidence *EvidenceSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are evaluating whether the gathered evidence fully answers the question.

Instructions:
- Today's date is %s.
- If the evidence is sufficient to answer the question, say so.
- If there is a knowledge gap, describe it and write self-contained
  follow-up search queries that would close it.

Respond with a JSON object with exactly these keys:
- "is_sufficient": boolean
- "knowledge_gap": string (empty when sufficient)
- "follow_up_queries": list of strings (empty when sufficient)

Question: %s

Evidence:
`, currentDate(), question)
	writeEvidence(&b, evidence)
	return b.String()
}

func answerPrompt(question string, evidence *EvidenceSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Write a high-quality answer to the question based only on the numbered sources below.

Instructions:
- Today's date is %s.
- Cite sources inline using bracketed numbers, e.g. [1] or [2][3].
- Only cite source numbers that appear in the list.
- If the sources do not cover part of the question, say so rather than guessing.

Question: %s

Sources:
`, currentDate(), question)
	writeEvidence(&b, evidence)
	return b.String()
}

func writeEvidence(b *strings.Builder, evidence *EvidenceSet) {
	if evidence == nil || evidence.Len() == 0 {
		b.WriteString("(none)\n")
		return
	}
	for i, s := range evidence.Sources() {
		fmt.Fprintf(b, "[%d] %s (%s)\n%s\n\n", i+1, s.Title, s.URL, s.Content)
	}
}

// Package solver dispatches a question to N parallel language-model calls
// with a diversity-inducing temperature schedule, and collects their
// citation-bearing answers for the judge to arbitrate.
package solver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Passage is a single retrieved, reranked candidate handed to every solver.
type Passage struct {
	DocID string
	Text  string
}

// Output is one solver's result. A solver whose call fails or misses its
// per-call deadline produces no Output: Dispatch omits it.
type Output struct {
	SolverID     int
	Answer       string
	RawCitations []string
	Confidence   float64
	Temperature  float64
}

var citationRE = regexp.MustCompile(`\[([^\]\s]+)\]`)
var confidenceRE = regexp.MustCompile(`(?i)CONFIDENCE:\s*([0-9]*\.?[0-9]+)`)

// extractCitations returns the distinct bracketed doc_ids referenced in
// answer, in first-seen order.
func extractCitations(answer string) []string {
	matches := citationRE.FindAllStringSubmatch(answer, -1)
	seen := make(map[string]bool, len(matches))
	citations := make([]string, 0, len(matches))
	for _, m := range matches {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		citations = append(citations, id)
	}
	return citations
}

// parseConfidence reads a trailing "CONFIDENCE: x.xx" marker out of a
// solver's raw response, defaulting to 0.5 when absent, unparseable, or
// outside [0,1].
func parseConfidence(answer string) float64 {
	m := confidenceRE.FindStringSubmatch(answer)
	if m == nil {
		return 0.5
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 1 {
		return 0.5
	}
	return v
}

func buildPrompt(question string, passages []Passage) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\n")
	for _, p := range passages {
		fmt.Fprintf(&b, "[%s] %s\n", p.DocID, p.Text)
	}
	b.WriteString("\nAnswer using only the passages above. Cite every passage you rely on " +
		"inline using its bracketed id, e.g. [doc_id]. If the passages do not contain enough " +
		"information to answer, say so plainly.")
	return b.String()
}

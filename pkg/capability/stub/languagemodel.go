package stub

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ragpp/ragpp/internal/apperr"
)

// docIDMarkerRE finds the "[doc_id] passage text" markers the solver pool
// prefixes each retrieved passage with (see the prompt template in
// package solver).
var docIDMarkerRE = regexp.MustCompile(`\[([^\]\s]+)\]`)

// LanguageModel is a deterministic, network-free LLM stand-in: it scans
// the prompt for doc_id markers and synthesizes an answer that cites
// every one of them, so that pipeline tests can exercise citation
// extraction and verification without a real model in the loop.
type LanguageModel struct{}

// NewLanguageModel constructs the stub language model.
func NewLanguageModel() *LanguageModel { return &LanguageModel{} }

func (m *LanguageModel) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperr.Canceled(err)
	}

	docIDs := extractDocIDs(prompt)
	question := extractQuestion(prompt)

	var b strings.Builder
	if len(docIDs) == 0 {
		b.WriteString("I don't have enough information to answer that.\n")
	} else {
		fmt.Fprintf(&b, "Based on the provided passages, here is an answer to %q: ", question)
		for i, id := range docIDs {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "This is supported by [%s].", id)
		}
		b.WriteString("\n")
	}

	confidence := 0.9 - temperature*0.15
	if confidence < 0.1 {
		confidence = 0.1
	}
	fmt.Fprintf(&b, "CONFIDENCE: %.2f\n", confidence)

	return b.String(), nil
}

// extractDocIDs returns the unique doc_id markers found in prompt, sorted.
func extractDocIDs(prompt string) []string {
	matches := docIDMarkerRE.FindAllStringSubmatch(prompt, -1)
	seen := make(map[string]bool)
	var ids []string
	for _, m := range matches {
		id := m[1]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func extractQuestion(prompt string) string {
	const marker = "Question: "
	idx := strings.Index(prompt, marker)
	if idx == -1 {
		return "the question"
	}
	rest := prompt[idx+len(marker):]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest)
}

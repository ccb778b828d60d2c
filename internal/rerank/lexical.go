package rerank

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"

	"github.com/ragpp/ragpp/internal/apperr"
)

// lexicalDoc is the only field bleve indexes per candidate.
type lexicalDoc struct {
	Content string `json:"content"`
}

// LexicalBlendReranker corroborates the ANN similarity score with a
// keyword-overlap signal: it builds an ephemeral in-memory bleve index
// over the candidate set, scores the query against it with a match
// query, min-max normalizes the BM25-family scores into [0,1], and blends
// them with the original similarity via a fixed weight.
type LexicalBlendReranker struct {
	// Weight is how much the lexical signal contributes; 0 reduces this
	// to the identity reranker, 1 ignores the original similarity.
	Weight float32
}

// NewLexicalBlendReranker returns a reranker blending ANN similarity with
// bleve keyword overlap at the given weight (clamped to [0,1]).
func NewLexicalBlendReranker(weight float32) *LexicalBlendReranker {
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	return &LexicalBlendReranker{Weight: weight}
}

func (r *LexicalBlendReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]float32, error) {
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Similarity
	}
	if len(candidates) == 0 || query == "" {
		return scores, nil
	}

	mapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, apperr.Internal("failed to build ephemeral rerank index", err)
	}
	defer index.Close()

	for i, c := range candidates {
		if err := index.Index(fmt.Sprintf("%d", i), lexicalDoc{Content: c.Text}); err != nil {
			return nil, apperr.Internal("failed to index rerank candidate", err)
		}
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")
	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = len(candidates)

	result, err := index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, apperr.Internal("rerank search failed", err)
	}

	lexical := make([]float64, len(candidates))
	var maxScore float64
	for _, hit := range result.Hits {
		var idx int
		if _, err := fmt.Sscanf(hit.ID, "%d", &idx); err != nil || idx < 0 || idx >= len(candidates) {
			continue
		}
		lexical[idx] = hit.Score
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}

	for i := range candidates {
		var normalizedLexical float32
		if maxScore > 0 {
			normalizedLexical = float32(lexical[i] / maxScore)
		}
		scores[i] = (1-r.Weight)*candidates[i].Similarity + r.Weight*normalizedLexical
		if scores[i] > 1 {
			scores[i] = 1
		}
		if scores[i] < 0 {
			scores[i] = 0
		}
	}
	return scores, nil
}

func (r *LexicalBlendReranker) Available(_ context.Context) bool { return true }
func (r *LexicalBlendReranker) Close() error                      { return nil }

var _ Reranker = (*LexicalBlendReranker)(nil)

// Package rerank re-scores a candidate set against a query (C4). Unlike a
// search engine's reranker, this one returns a score per candidate in the
// caller's order — it never reorders or drops candidates; the caller
// (package gate) decides what to do with the scores.
package rerank

import "context"

// Candidate is one retrieved passage awaiting a rerank score.
type Candidate struct {
	DocID      string
	ChunkID    int
	Text       string
	Similarity float32 // the post-normalization ANN similarity, used as the identity score
}

// Reranker scores candidates against query. The returned slice has the
// same length and order as candidates; every score is in [0,1].
// Implementations must be deterministic for identical inputs.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]float32, error)
	Available(ctx context.Context) bool
	Close() error
}

// IdentityReranker returns each candidate's existing similarity score
// unchanged. This is the reranker used when none is configured.
type IdentityReranker struct{}

func (IdentityReranker) Rerank(_ context.Context, _ string, candidates []Candidate) ([]float32, error) {
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Similarity
	}
	return scores, nil
}

func (IdentityReranker) Available(_ context.Context) bool { return true }
func (IdentityReranker) Close() error                      { return nil }

var _ Reranker = IdentityReranker{}

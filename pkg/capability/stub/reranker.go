package stub

import "context"

// Reranker is the identity capability.Reranker: it assigns decreasing
// scores by input position, giving deterministic output without any
// actual cross-encoding.
type Reranker struct{}

// NewReranker constructs the stub reranker.
func NewReranker() *Reranker { return &Reranker{} }

func (r *Reranker) Rerank(_ context.Context, _ string, documents []string) ([]float64, error) {
	scores := make([]float64, len(documents))
	for i := range documents {
		scores[i] = 1.0 - float64(i)*0.01
	}
	return scores, nil
}

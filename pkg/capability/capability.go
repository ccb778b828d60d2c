// Package capability defines the external model contracts the RAG++ core
// depends on: embedding, generation, and reranking. The interface lives
// here; concrete implementations (stub, mock, and vendor adapters such as
// ollama) live in their own subpackages.
package capability

import "context"

// Embedder turns text into a fixed-dimension embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// LanguageModel generates a completion for a prompt at a given sampling
// temperature.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Reranker scores documents against a query; document order in the
// returned slice matches the input order.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)
}

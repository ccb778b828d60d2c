// Package mock provides fixture-driven capability.* implementations for
// end-to-end scenario tests: instead of deriving responses algorithmically
// (as pkg/capability/stub does), a mock is seeded with an exact
// question/text -> response map recorded ahead of time.
package mock

import (
	"context"
	"fmt"

	"github.com/ragpp/ragpp/internal/apperr"
)

// Embedder returns a pre-recorded vector for each known text and fails
// with UPSTREAM_ERROR for anything else.
type Embedder struct {
	Dimension int
	Model     string
	Fixtures  map[string][]float32
}

// NewEmbedder constructs a mock embedder from a question/text -> vector map.
func NewEmbedder(dimension int, fixtures map[string][]float32) *Embedder {
	return &Embedder{Dimension: dimension, Model: "mock-embedder", Fixtures: fixtures}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Canceled(err)
	}
	if v, ok := e.Fixtures[text]; ok {
		return v, nil
	}
	return nil, apperr.UpstreamError("embed", fmt.Errorf("no fixture recorded for text %q", text))
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Embedder) Dimensions() int   { return e.Dimension }
func (e *Embedder) ModelName() string { return e.Model }

// LanguageModel returns a pre-recorded completion for each known prompt.
type LanguageModel struct {
	Fixtures map[string]string
}

// NewLanguageModel constructs a mock language model from a prompt -> response map.
func NewLanguageModel(fixtures map[string]string) *LanguageModel {
	return &LanguageModel{Fixtures: fixtures}
}

func (m *LanguageModel) Generate(ctx context.Context, prompt string, _ float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperr.Canceled(err)
	}
	if response, ok := m.Fixtures[prompt]; ok {
		return response, nil
	}
	return "", apperr.UpstreamError("generate", fmt.Errorf("no fixture recorded for prompt"))
}

// Reranker returns pre-recorded scores for a (query, documents) pair.
type Reranker struct {
	Fixtures map[string][]float64
}

// NewReranker constructs a mock reranker from a query -> scores map.
func NewReranker(fixtures map[string][]float64) *Reranker {
	return &Reranker{Fixtures: fixtures}
}

func (r *Reranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Canceled(err)
	}
	scores, ok := r.Fixtures[query]
	if !ok {
		return nil, apperr.UpstreamError("rerank", fmt.Errorf("no fixture recorded for query %q", query))
	}
	if len(scores) != len(documents) {
		return nil, apperr.Internal("fixture score count does not match document count", nil)
	}
	return scores, nil
}

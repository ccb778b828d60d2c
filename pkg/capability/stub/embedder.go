// Package stub provides deterministic, network-free implementations of
// every capability.* interface, used throughout the test suite and for
// offline operation.
package stub

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/ragpp/ragpp/internal/apperr"
)

// DefaultDimensions is the embedding width produced by Embedder when none
// is specified.
const DefaultDimensions = 64

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "of": true, "to": true, "and": true,
	"in": true, "on": true, "for": true, "with": true, "that": true,
	"this": true, "it": true, "as": true, "by": true, "at": true,
}

// Embedder generates deterministic hash-based embeddings: no network, no
// model download, reproducible across runs. Semantic quality is much
// lower than a real embedding model, but identical text always maps to
// the identical vector, which is what the test suite needs.
type Embedder struct {
	mu         sync.RWMutex
	dimensions int
	closed     bool
}

// NewEmbedder constructs a stub embedder with the given output dimension.
func NewEmbedder(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Canceled(err)
	}
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, apperr.ServiceUnavailable()
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dimensions), nil
	}
	return normalize(e.generateVector(trimmed)), nil
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

func (e *Embedder) Dimensions() int { return e.dimensions }
func (e *Embedder) ModelName() string { return "stub-hash-embedder" }

func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Embedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dimensions)

	for _, tok := range tokenize(text) {
		if stopWords[tok] {
			continue
		}
		vector[hashToIndex(tok, e.dimensions)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, e.dimensions)] += ngramWeight
	}

	return vector
}

func tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, strings.ToLower(w))
	}
	return tokens
}

func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return nil
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

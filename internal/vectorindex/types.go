// Package vectorindex implements the approximate nearest-neighbor vector
// index (C1): an HNSW graph over dense embeddings with add/search/persist
// and thread-safe mutation, independent of document metadata (owned by
// package metastore).
package vectorindex

import "time"

// Space is the similarity space the index searches in.
type Space string

const (
	SpaceCosine        Space = "cosine"
	SpaceInnerProduct  Space = "inner_product"
	SpaceL2            Space = "l2"
)

// Config holds the parameters fixed at construction (Dimension, Capacity,
// Fanout, EfConstruction, Space) plus the runtime-tunable EfSearch.
type Config struct {
	// Dimension is the fixed embedding width D for the life of the index.
	Dimension int

	// Capacity is N_max: the maximum number of live vectors.
	Capacity int

	// Fanout is M, the HNSW max connections per layer.
	Fanout int

	// EfConstruction is the build-time search width.
	EfConstruction int

	// EfSearch is the query-time search width; runtime-tunable via SetEfSearch.
	EfSearch int

	// Space selects the similarity space.
	Space Space

	// Seed is the random seed driving level assignment; recorded in the
	// snapshot so that two indices built from the same add sequence with
	// the same seed return identical search results (P10).
	Seed uint64
}

// DefaultConfig returns sensible defaults matching the coder/hnsw
// recommendations used throughout the retrieval pack.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:      dimension,
		Capacity:       1_000_000,
		Fanout:         16,
		EfConstruction: 128,
		EfSearch:       64,
		Space:          SpaceCosine,
		Seed:           1,
	}
}

// Result is a single search hit: a doc_id, a similarity normalized to
// [0,1] regardless of the underlying space, and its rank (0-based,
// descending similarity).
type Result struct {
	DocID      string
	Similarity float32
	Rank       int
}

// BatchItem is a single add_batch input.
type BatchItem struct {
	DocID     string
	Embedding []float32
}

// ItemError records a per-item failure within a batch add.
type ItemError struct {
	DocID string
	Err   error
}

// BatchResult is the outcome of AddBatch: partial success is explicit.
type BatchResult struct {
	Total      int
	Successful int
	Failed     int
	Errors     []ItemError
	Elapsed    time.Duration
}

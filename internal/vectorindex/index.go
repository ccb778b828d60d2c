package vectorindex

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/ragpp/ragpp/internal/apperr"
)

// Index is an HNSW-backed approximate nearest-neighbor index over document
// embeddings. It owns only the vector <-> doc_id mapping; document text and
// user metadata live in package metastore.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	cfg    Config

	idToKey map[string]uint64
	keyToID map[uint64]string
	nextKey uint64

	generation uint64
	closed     bool
}

// New constructs an empty index for the given config.
func New(cfg Config) (*Index, error) {
	if cfg.Dimension <= 0 {
		return nil, apperr.InvalidInput("dimension must be positive", nil)
	}
	if cfg.Fanout == 0 {
		cfg.Fanout = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if cfg.EfConstruction == 0 {
		cfg.EfConstruction = 128
	}
	if cfg.Space == "" {
		cfg.Space = SpaceCosine
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 1_000_000
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Space {
	case SpaceCosine, SpaceInnerProduct:
		// Inner product over embeddings normalized at insertion time
		// behaves identically to cosine similarity, so both spaces share
		// the normalize-then-cosine-distance path; only the reported
		// similarity formula differs (see scoreFromDistance).
		graph.Distance = hnsw.CosineDistance
	case SpaceL2:
		graph.Distance = hnsw.EuclideanDistance
	default:
		return nil, apperr.InvalidInput(fmt.Sprintf("unknown similarity space %q", cfg.Space), nil)
	}
	graph.M = cfg.Fanout
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 1 / math.Log(float64(cfg.Fanout))
	// Seeding the graph's own RNG (rather than leaving it to the package
	// default) makes level assignment a deterministic function of the add
	// sequence, so two indices built the same way with the same seed
	// search identically (P10).
	graph.Rng = rand.New(rand.NewSource(int64(cfg.Seed)))

	return &Index{
		graph:   graph,
		cfg:     cfg,
		idToKey: make(map[string]uint64),
		keyToID: make(map[uint64]string),
	}, nil
}

// Dimension returns the fixed embedding width.
func (ix *Index) Dimension() int { return ix.cfg.Dimension }

// Space returns the configured similarity space.
func (ix *Index) Space() Space { return ix.cfg.Space }

// Generation returns the monotonically increasing mutation counter,
// incremented on every successful Add/AddBatch/Delete.
func (ix *Index) Generation() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.generation
}

// Count returns the number of live (non-deleted) vectors.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.idToKey)
}

// SetEfSearch updates the query-time search width at runtime.
func (ix *Index) SetEfSearch(ef int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.cfg.EfSearch = ef
	ix.graph.EfSearch = ef
}

func (ix *Index) validateVector(v []float32) error {
	if len(v) != ix.cfg.Dimension {
		return apperr.DimensionMismatch(ix.cfg.Dimension, len(v))
	}
	return nil
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sumSq float64
	for _, x := range out {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return out
	}
	for i, x := range out {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// AddDocument inserts or replaces the vector for doc_id. A pre-existing
// doc_id is lazily replaced: the old graph node is orphaned rather than
// deleted, since coder/hnsw corrupts the graph when the last remaining
// node is removed.
func (ix *Index) AddDocument(ctx context.Context, docID string, embedding []float32) error {
	if err := ctx.Err(); err != nil {
		return apperr.Canceled(err)
	}
	if docID == "" {
		return apperr.InvalidInput("doc_id must not be empty", nil)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return apperr.ServiceUnavailable()
	}
	if err := ix.validateVector(embedding); err != nil {
		return err
	}
	if _, exists := ix.idToKey[docID]; !exists && len(ix.idToKey) >= ix.cfg.Capacity {
		return apperr.CapacityExceeded(fmt.Sprintf("index capacity %d reached", ix.cfg.Capacity))
	}

	ix.addLocked(docID, embedding)
	ix.generation++
	return nil
}

func (ix *Index) addLocked(docID string, embedding []float32) {
	if existingKey, exists := ix.idToKey[docID]; exists {
		delete(ix.keyToID, existingKey)
		delete(ix.idToKey, docID)
	}

	key := ix.nextKey
	ix.nextKey++

	vec := embedding
	if ix.cfg.Space == SpaceCosine || ix.cfg.Space == SpaceInnerProduct {
		vec = normalize(embedding)
	}

	node := hnsw.MakeNode(key, vec)

	// coder/hnsw has a single EfSearch knob used both to build and to
	// query the graph; swap in the wider build-time width while
	// inserting, then restore the query-time width so SetEfSearch's
	// effect on search speed/recall isn't shadowed by construction.
	queryEf := ix.graph.EfSearch
	ix.graph.EfSearch = ix.cfg.EfConstruction
	ix.graph.Add(node)
	ix.graph.EfSearch = queryEf

	ix.idToKey[docID] = key
	ix.keyToID[key] = docID
}

// AddBatch inserts a batch of documents, accumulating per-item failures
// rather than aborting on the first error.
func (ix *Index) AddBatch(ctx context.Context, items []BatchItem) BatchResult {
	start := time.Now()
	result := BatchResult{Total: len(items)}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		result.Failed = len(items)
		for _, item := range items {
			result.Errors = append(result.Errors, ItemError{DocID: item.DocID, Err: apperr.ServiceUnavailable()})
		}
		result.Elapsed = time.Since(start)
		return result
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, ItemError{DocID: item.DocID, Err: apperr.Canceled(err)})
			result.Failed++
			continue
		}
		if item.DocID == "" {
			result.Errors = append(result.Errors, ItemError{DocID: item.DocID, Err: apperr.InvalidInput("doc_id must not be empty", nil)})
			result.Failed++
			continue
		}
		if err := ix.validateVector(item.Embedding); err != nil {
			result.Errors = append(result.Errors, ItemError{DocID: item.DocID, Err: err})
			result.Failed++
			continue
		}
		if _, exists := ix.idToKey[item.DocID]; !exists && len(ix.idToKey) >= ix.cfg.Capacity {
			result.Errors = append(result.Errors, ItemError{DocID: item.DocID, Err: apperr.CapacityExceeded(fmt.Sprintf("index capacity %d reached", ix.cfg.Capacity))})
			result.Failed++
			continue
		}

		ix.addLocked(item.DocID, item.Embedding)
		result.Successful++
	}

	if result.Successful > 0 {
		ix.generation++
	}
	result.Elapsed = time.Since(start)
	return result
}

// Delete removes doc_id from the index. Deletion is lazy: the underlying
// graph node is orphaned, not physically removed.
func (ix *Index) Delete(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return apperr.Canceled(err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return apperr.ServiceUnavailable()
	}

	key, exists := ix.idToKey[docID]
	if !exists {
		return nil
	}
	delete(ix.keyToID, key)
	delete(ix.idToKey, docID)
	ix.generation++
	return nil
}

// Contains reports whether doc_id has a live vector.
func (ix *Index) Contains(docID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, exists := ix.idToKey[docID]
	return exists
}

// scoreFromDistance converts an HNSW graph distance into a similarity in
// [0,1], using the normalization appropriate to the configured space:
//
//	cosine / inner_product: similarity = (raw_cosine + 1) / 2
//	l2:                     similarity = 1 / (1 + distance)
//
// Both cosine and inner_product store pre-normalized unit vectors, so the
// graph's cosine distance (1 - raw_cosine) yields raw_cosine = 1-distance,
// giving similarity = (2-distance)/2 = 1 - distance/2.
func scoreFromDistance(distance float32, space Space) float32 {
	switch space {
	case SpaceL2:
		return 1 / (1 + distance)
	default: // cosine, inner_product
		return 1 - distance/2
	}
}

// Search returns up to k nearest documents to query, ordered by descending
// similarity with ties broken by ascending internal key (insertion order)
// to keep results deterministic (P10).
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Canceled(err)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return nil, apperr.ServiceUnavailable()
	}
	if err := ix.validateVector(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, apperr.InvalidInput("k must be positive", nil)
	}
	if ix.graph.Len() == 0 {
		return []Result{}, nil
	}

	q := query
	if ix.cfg.Space == SpaceCosine || ix.cfg.Space == SpaceInnerProduct {
		q = normalize(query)
	}

	// Over-fetch to absorb orphaned (lazily deleted) nodes the graph may
	// still return, then trim to k live results.
	fetch := k * 4
	if fetch < k+8 {
		fetch = k + 8
	}
	nodes := ix.graph.Search(q, fetch)

	type scored struct {
		docID string
		key   uint64
		sim   float32
	}
	candidates := make([]scored, 0, len(nodes))
	for _, node := range nodes {
		docID, ok := ix.keyToID[node.Key]
		if !ok {
			continue
		}
		distance := ix.graph.Distance(q, node.Value)
		candidates = append(candidates, scored{
			docID: docID,
			key:   node.Key,
			sim:   scoreFromDistance(distance, ix.cfg.Space),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		return candidates[i].key < candidates[j].key
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{DocID: c.docID, Similarity: c.sim, Rank: i}
	}
	return results, nil
}

// Close marks the index unusable; subsequent operations return
// SERVICE_UNAVAILABLE.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.closed = true
	return nil
}

package factstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ragpp/ragpp/internal/apperr"
	"github.com/ragpp/ragpp/internal/vectorindex"
)

// Config holds the facts store's tunables, matching spec defaults.
type Config struct {
	// Dimension is the question-embedding width.
	Dimension int

	// Capacity is the maximum number of cached facts.
	Capacity int

	// TauCache is the minimum confidence required for Insert to accept a fact.
	TauCache float32

	// TauFuzzy is the minimum fuzzy-tier cosine similarity to count as a hit.
	TauFuzzy float32

	// Alpha weights staleness (now - last_access) in the eviction score.
	Alpha float64

	// Beta weights access_count in the eviction score.
	Beta float64

	// HotSetSize bounds a small LRU-accelerated subset of the exact tier
	// used as a fast path for the most recently touched facts.
	HotSetSize int
}

// DefaultConfig returns the default cache configuration for the given
// question-embedding dimension.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:  dimension,
		Capacity:   10_000,
		TauCache:   0.70,
		TauFuzzy:   0.85,
		Alpha:      1,
		Beta:       3600,
		HotSetSize: 256,
	}
}

// Store is the two-tier semantic answer cache.
type Store struct {
	cfg Config

	mu    sync.RWMutex
	exact map[string]*Fact // normalized question -> fact
	fuzzy *vectorindex.Index // keyed by the same normalized-question key

	hot *lru.Cache[string, *Fact]
}

// New constructs an empty facts store.
func New(cfg Config) (*Store, error) {
	if cfg.Dimension <= 0 {
		return nil, apperr.InvalidInput("facts store dimension must be positive", nil)
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10_000
	}
	if cfg.HotSetSize <= 0 {
		cfg.HotSetSize = 256
	}

	fuzzyCfg := vectorindex.DefaultConfig(cfg.Dimension)
	fuzzyCfg.Space = vectorindex.SpaceCosine
	fuzzyCfg.Capacity = cfg.Capacity
	fuzzy, err := vectorindex.New(fuzzyCfg)
	if err != nil {
		return nil, err
	}

	hot, err := lru.New[string, *Fact](cfg.HotSetSize)
	if err != nil {
		return nil, apperr.Internal("failed to construct facts store hot set", err)
	}

	return &Store{
		cfg:   cfg,
		exact: make(map[string]*Fact),
		fuzzy: fuzzy,
		hot:   hot,
	}, nil
}

func normalizedKey(question string) string {
	sum := sha256.Sum256([]byte(normalizeQuestion(question)))
	return hex.EncodeToString(sum[:])
}

// Lookup checks the exact tier first, then the fuzzy tier, updating
// last_access/access_count on any hit.
func (s *Store) Lookup(ctx context.Context, question string, questionEmbedding []float32) (LookupResult, error) {
	if err := ctx.Err(); err != nil {
		return LookupResult{}, apperr.Canceled(err)
	}

	key := normalizedKey(question)

	s.mu.Lock()
	if fact, ok := s.exact[key]; ok {
		fact.LastAccess = time.Now()
		fact.AccessCount++
		s.hot.Add(key, fact)
		s.mu.Unlock()
		return LookupResult{Fact: fact, MatchType: MatchExact, Similarity: 1.0, Found: true}, nil
	}
	s.mu.Unlock()

	if len(questionEmbedding) == 0 {
		return LookupResult{MatchType: MatchNone}, nil
	}
	if len(questionEmbedding) != s.cfg.Dimension {
		return LookupResult{}, apperr.DimensionMismatch(s.cfg.Dimension, len(questionEmbedding))
	}

	results, err := s.fuzzy.Search(ctx, questionEmbedding, 1)
	if err != nil {
		return LookupResult{}, err
	}
	if len(results) == 0 || results[0].Similarity < s.cfg.TauFuzzy {
		return LookupResult{MatchType: MatchNone}, nil
	}

	s.mu.Lock()
	fact, ok := s.exact[results[0].DocID]
	if ok {
		fact.LastAccess = time.Now()
		fact.AccessCount++
		s.hot.Add(results[0].DocID, fact)
	}
	s.mu.Unlock()
	if !ok {
		// fuzzy index and exact map diverged (shouldn't happen); treat as a miss.
		return LookupResult{MatchType: MatchNone}, nil
	}

	return LookupResult{Fact: fact, MatchType: MatchFuzzy, Similarity: results[0].Similarity, Found: true}, nil
}

// Insert adds fact to the cache, rejecting anything below TauCache and
// evicting the stalest, least-accessed entry (per the alpha/beta formula,
// see evictLocked) when the cache is at capacity.
func (s *Store) Insert(ctx context.Context, fact *Fact) error {
	if err := ctx.Err(); err != nil {
		return apperr.Canceled(err)
	}
	if fact.Confidence < s.cfg.TauCache {
		return apperr.InvalidInput("fact confidence below cache threshold", nil)
	}
	if len(fact.QuestionEmbedding) != s.cfg.Dimension {
		return apperr.DimensionMismatch(s.cfg.Dimension, len(fact.QuestionEmbedding))
	}

	key := normalizedKey(fact.QuestionText)
	now := time.Now()
	stored := *fact
	stored.CreatedAt = now
	stored.LastAccess = now
	if stored.AccessCount == 0 {
		stored.AccessCount = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.exact[key]; !exists && len(s.exact) >= s.cfg.Capacity {
		s.evictLocked()
	}

	s.exact[key] = &stored
	s.hot.Add(key, &stored)
	if err := s.fuzzy.AddDocument(ctx, key, stored.QuestionEmbedding); err != nil {
		delete(s.exact, key)
		s.hot.Remove(key)
		return err
	}
	return nil
}

// evictLocked removes the entry with the highest
// alpha*staleness_seconds - beta*access_count, i.e. the stalest,
// least-accessed entry. Callers must hold s.mu.
func (s *Store) evictLocked() {
	if len(s.exact) == 0 {
		return
	}
	now := time.Now()

	var worstKey string
	var worstScore float64
	first := true
	for key, fact := range s.exact {
		staleness := now.Sub(fact.LastAccess).Seconds()
		score := s.cfg.Alpha*staleness - s.cfg.Beta*float64(fact.AccessCount)
		if first || score > worstScore {
			worstScore = score
			worstKey = key
			first = false
		}
	}

	delete(s.exact, worstKey)
	s.hot.Remove(worstKey)
	_ = s.fuzzy.Delete(context.Background(), worstKey)
}

// Clear empties both tiers.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exact = make(map[string]*Fact)
	s.hot.Purge()

	fuzzyCfg := vectorindex.DefaultConfig(s.cfg.Dimension)
	fuzzyCfg.Space = vectorindex.SpaceCosine
	fuzzyCfg.Capacity = s.cfg.Capacity
	fresh, err := vectorindex.New(fuzzyCfg)
	if err == nil {
		s.fuzzy = fresh
	}
}

// Stats summarizes the cache.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totalConfidence float32
	var totalAccesses int64
	for _, fact := range s.exact {
		totalConfidence += fact.Confidence
		totalAccesses += fact.AccessCount
	}
	var avg float32
	if len(s.exact) > 0 {
		avg = totalConfidence / float32(len(s.exact))
	}
	return Stats{Count: len(s.exact), AvgConfidence: avg, TotalAccesses: totalAccesses}
}

// List returns up to limit facts, most-recently-accessed first.
func (s *Store) List(limit int) []*Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	facts := make([]*Fact, 0, len(s.exact))
	for _, f := range s.exact {
		facts = append(facts, f)
	}
	sort.Slice(facts, func(i, j int) bool {
		return facts[i].LastAccess.After(facts[j].LastAccess)
	})
	if limit > 0 && limit < len(facts) {
		facts = facts[:limit]
	}
	return facts
}

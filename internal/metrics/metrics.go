// Package metrics collects the per-request counters, latency histograms,
// and gauges the core emits. It reports in-process only — no external
// scrape endpoint is wired (see DESIGN.md).
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stage names used to label latency histograms and stage timeouts.
const (
	StageEmbed    = "embed"
	StageRetrieve = "retrieve"
	StageRerank   = "rerank"
	StageSolve    = "solver"
	StageTotal    = "total"
)

// LatencyBucket names a coarse latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// ewmaAlpha is the smoothing factor for the avg_confidence gauge.
const ewmaAlpha = 0.1

// Registry holds all counters, histograms, and gauges for one running
// instance of the core. The zero value is not usable; use New.
type Registry struct {
	queriesTotal     atomic.Int64
	refusalsTotal    atomic.Int64
	solverErrorsTotal atomic.Int64

	mu              sync.Mutex
	cacheHitsByType map[string]int64
	timeoutsByStage map[string]int64
	latencyByStage  map[string]map[LatencyBucket]int64

	documents atomic.Int64
	cacheSize atomic.Int64

	confMu       sync.Mutex
	avgConfidence float64
	confInit      bool
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		cacheHitsByType: make(map[string]int64),
		timeoutsByStage: make(map[string]int64),
		latencyByStage:  make(map[string]map[LatencyBucket]int64),
	}
}

// IncQueries increments queries_total.
func (r *Registry) IncQueries() { r.queriesTotal.Add(1) }

// IncCacheHit increments cache_hits_total{match_type}.
func (r *Registry) IncCacheHit(matchType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheHitsByType[matchType]++
}

// IncRefusals increments refusals_total.
func (r *Registry) IncRefusals() { r.refusalsTotal.Add(1) }

// IncSolverErrors increments solver_errors_total.
func (r *Registry) IncSolverErrors() { r.solverErrorsTotal.Add(1) }

// IncTimeouts increments timeouts_total{stage}.
func (r *Registry) IncTimeouts(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeoutsByStage[stage]++
}

// ObserveLatency records a stage latency into its histogram bucket.
func (r *Registry) ObserveLatency(stage string, d time.Duration) {
	bucket := LatencyToBucket(d)
	r.mu.Lock()
	defer r.mu.Unlock()
	byBucket, ok := r.latencyByStage[stage]
	if !ok {
		byBucket = make(map[LatencyBucket]int64)
		r.latencyByStage[stage] = byBucket
	}
	byBucket[bucket]++
}

// SetDocuments sets the documents gauge.
func (r *Registry) SetDocuments(n int) { r.documents.Store(int64(n)) }

// SetCacheSize sets the cache_size gauge.
func (r *Registry) SetCacheSize(n int) { r.cacheSize.Store(int64(n)) }

// ObserveConfidence folds a new confidence sample into the avg_confidence
// EWMA gauge (alpha=0.1): first sample seeds the average directly.
func (r *Registry) ObserveConfidence(c float64) {
	r.confMu.Lock()
	defer r.confMu.Unlock()
	if !r.confInit {
		r.avgConfidence = c
		r.confInit = true
		return
	}
	r.avgConfidence = ewmaAlpha*c + (1-ewmaAlpha)*r.avgConfidence
}

// Snapshot is a point-in-time copy of the registry, safe to serialize.
type Snapshot struct {
	QueriesTotal      int64
	RefusalsTotal     int64
	SolverErrorsTotal int64
	CacheHitsByType   map[string]int64
	TimeoutsByStage   map[string]int64
	LatencyByStage    map[string]map[LatencyBucket]int64
	Documents         int64
	CacheSize         int64
	AvgConfidence     float64
}

// Snapshot returns a deep copy of the registry's current values.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	cacheHits := make(map[string]int64, len(r.cacheHitsByType))
	for k, v := range r.cacheHitsByType {
		cacheHits[k] = v
	}
	timeouts := make(map[string]int64, len(r.timeoutsByStage))
	for k, v := range r.timeoutsByStage {
		timeouts[k] = v
	}
	latency := make(map[string]map[LatencyBucket]int64, len(r.latencyByStage))
	for stage, byBucket := range r.latencyByStage {
		cp := make(map[LatencyBucket]int64, len(byBucket))
		for b, n := range byBucket {
			cp[b] = n
		}
		latency[stage] = cp
	}
	r.mu.Unlock()

	r.confMu.Lock()
	avgConf := r.avgConfidence
	r.confMu.Unlock()

	return Snapshot{
		QueriesTotal:      r.queriesTotal.Load(),
		RefusalsTotal:     r.refusalsTotal.Load(),
		SolverErrorsTotal: r.solverErrorsTotal.Load(),
		CacheHitsByType:   cacheHits,
		TimeoutsByStage:   timeouts,
		LatencyByStage:    latency,
		Documents:         r.documents.Load(),
		CacheSize:         r.cacheSize.Load(),
		AvgConfidence:     avgConf,
	}
}

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_CountersAccumulate(t *testing.T) {
	r := New()
	r.IncQueries()
	r.IncQueries()
	r.IncRefusals()
	r.IncCacheHit("exact")
	r.IncCacheHit("exact")
	r.IncCacheHit("fuzzy")
	r.IncTimeouts(StageSolve)

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.QueriesTotal)
	assert.Equal(t, int64(1), snap.RefusalsTotal)
	assert.Equal(t, int64(2), snap.CacheHitsByType["exact"])
	assert.Equal(t, int64(1), snap.CacheHitsByType["fuzzy"])
	assert.Equal(t, int64(1), snap.TimeoutsByStage[StageSolve])
}

func TestRegistry_LatencyBucketing(t *testing.T) {
	r := New()
	r.ObserveLatency(StageRetrieve, 5*time.Millisecond)
	r.ObserveLatency(StageRetrieve, 5*time.Millisecond)
	r.ObserveLatency(StageRetrieve, 600*time.Millisecond)

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.LatencyByStage[StageRetrieve][BucketP10])
	assert.Equal(t, int64(1), snap.LatencyByStage[StageRetrieve][BucketP1000])
}

func TestRegistry_ConfidenceEWMASeedsThenSmooths(t *testing.T) {
	r := New()
	r.ObserveConfidence(0.9)
	assert.InDelta(t, 0.9, r.Snapshot().AvgConfidence, 1e-9)

	r.ObserveConfidence(0.0)
	// 0.1*0 + 0.9*0.9 = 0.81
	assert.InDelta(t, 0.81, r.Snapshot().AvgConfidence, 1e-9)
}

func TestLatencyToBucket_Boundaries(t *testing.T) {
	assert.Equal(t, BucketP10, LatencyToBucket(9*time.Millisecond))
	assert.Equal(t, BucketP50, LatencyToBucket(10*time.Millisecond))
	assert.Equal(t, BucketP1000, LatencyToBucket(500*time.Millisecond))
}

func TestRegistry_GaugesReflectLastSet(t *testing.T) {
	r := New()
	r.SetDocuments(42)
	r.SetCacheSize(7)
	snap := r.Snapshot()
	assert.Equal(t, int64(42), snap.Documents)
	assert.Equal(t, int64(7), snap.CacheSize)
}

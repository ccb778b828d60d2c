package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_EmptyScoresRefuses(t *testing.T) {
	d := Evaluate(nil, DefaultTauEvidence)
	assert.False(t, d.Pass)
	assert.Equal(t, float32(0), d.Evidence)
}

func TestEvaluate_SingleStrongScorePasses(t *testing.T) {
	d := Evaluate([]float32{0.95}, DefaultTauEvidence)
	assert.True(t, d.Pass)
	assert.Equal(t, float32(0.95), d.Evidence)
}

func TestEvaluate_TakesMaxOfTopAndMeanOfTop3(t *testing.T) {
	// mean(0.9, 0.2, 0.2) = 0.433; max(0.9, 0.433) = 0.9
	d := Evaluate([]float32{0.9, 0.2, 0.2, 0.1}, DefaultTauEvidence)
	assert.InDelta(t, 0.9, float64(d.Evidence), 1e-6)
	assert.True(t, d.Pass)
}

func TestEvaluate_WeakEvidenceRefuses(t *testing.T) {
	d := Evaluate([]float32{0.5, 0.4, 0.3}, DefaultTauEvidence)
	assert.False(t, d.Pass)
}

func TestEvaluate_MeanOnlyUsesTopThree(t *testing.T) {
	// mean should only consider the first 3 even with more candidates
	d1 := Evaluate([]float32{0.4, 0.4, 0.4, 0.99, 0.99}, DefaultTauEvidence)
	d2 := Evaluate([]float32{0.4, 0.4, 0.4}, DefaultTauEvidence)
	assert.Equal(t, d1.Evidence, d2.Evidence)
}

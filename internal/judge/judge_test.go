package judge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragpp/ragpp/internal/solver"
	"github.com/ragpp/ragpp/pkg/capability/mock"
)

func TestDecide_PicksHighestScoringSolver(t *testing.T) {
	embedder := mock.NewEmbedder(2, map[string][]float32{
		"weak answer":   {1, 0},
		"strong answer": {0, 1},
	})
	j := New(embedder)

	outputs := []solver.Output{
		{SolverID: 0, Answer: "weak answer", RawCitations: []string{"d1"}, Confidence: 0.4},
		{SolverID: 1, Answer: "strong answer", RawCitations: []string{"d1", "d2"}, Confidence: 0.9},
	}
	v, err := j.Decide(context.Background(), outputs, []string{"d1", "d2"}, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Winner.SolverID)
	assert.Equal(t, 1.0, v.Grounding)
	assert.True(t, v.Verified)
}

func TestDecide_TiesBreakByLowestSolverID(t *testing.T) {
	embedder := mock.NewEmbedder(2, map[string][]float32{"same": {1, 0}})
	j := New(embedder)

	outputs := []solver.Output{
		{SolverID: 0, Answer: "same", RawCitations: []string{"d1"}, Confidence: 0.5},
		{SolverID: 1, Answer: "same", RawCitations: []string{"d1"}, Confidence: 0.5},
	}
	v, err := j.Decide(context.Background(), outputs, []string{"d1"}, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Winner.SolverID)
}

func TestDecide_DropsUnknownCitationsAndMarksUnverified(t *testing.T) {
	embedder := mock.NewEmbedder(2, map[string][]float32{"answer": {1, 0}})
	j := New(embedder)

	outputs := []solver.Output{
		{SolverID: 0, Answer: "answer", RawCitations: []string{"d1", "unknown-doc"}, Confidence: 0.8},
	}
	v, err := j.Decide(context.Background(), outputs, []string{"d1"}, 0.9)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, v.VerifiedDocIDs)
	assert.False(t, v.Verified)
}

func TestDecide_SingleSolverHasZeroAgreement(t *testing.T) {
	embedder := mock.NewEmbedder(2, map[string][]float32{"only": {1, 0}})
	j := New(embedder)

	outputs := []solver.Output{{SolverID: 0, Answer: "only", RawCitations: []string{"d1"}, Confidence: 0.7}}
	v, err := j.Decide(context.Background(), outputs, []string{"d1"}, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v.Agreement)
}

func TestDecide_FinalConfidenceClampedToUnitInterval(t *testing.T) {
	embedder := mock.NewEmbedder(2, map[string][]float32{"a": {1, 0}})
	j := New(embedder)

	outputs := []solver.Output{{SolverID: 0, Answer: "a", RawCitations: []string{"d1"}, Confidence: 1.0}}
	v, err := j.Decide(context.Background(), outputs, []string{"d1"}, 1.0)
	require.NoError(t, err)
	assert.LessOrEqual(t, v.FinalConfidence, 1.0)
	assert.GreaterOrEqual(t, v.FinalConfidence, 0.0)
}

func TestGroundingScore_ZeroCitationsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, groundingScore(nil, map[string]bool{"d1": true}))
}

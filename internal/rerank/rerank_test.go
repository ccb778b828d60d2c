package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityReranker_ReturnsSimilarityUnchanged(t *testing.T) {
	candidates := []Candidate{
		{DocID: "a", Text: "alpha", Similarity: 0.9},
		{DocID: "b", Text: "beta", Similarity: 0.5},
	}

	scores, err := IdentityReranker{}.Rerank(context.Background(), "query", candidates)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, float32(0.9), scores[0])
	assert.Equal(t, float32(0.5), scores[1])
}

func TestLexicalBlendReranker_PreservesOrderAndLength(t *testing.T) {
	candidates := []Candidate{
		{DocID: "a", Text: "the quick brown fox", Similarity: 0.6},
		{DocID: "b", Text: "totally unrelated content", Similarity: 0.6},
	}

	r := NewLexicalBlendReranker(0.5)
	scores, err := r.Rerank(context.Background(), "quick fox", candidates)
	require.NoError(t, err)
	require.Len(t, scores, 2)

	for _, s := range scores {
		assert.GreaterOrEqual(t, s, float32(0))
		assert.LessOrEqual(t, s, float32(1))
	}
	// The candidate matching the query terms should score at least as
	// high as the unrelated one once lexical overlap is blended in.
	assert.GreaterOrEqual(t, scores[0], scores[1])
}

func TestLexicalBlendReranker_ZeroWeightIsIdentity(t *testing.T) {
	candidates := []Candidate{
		{DocID: "a", Text: "alpha", Similarity: 0.42},
	}
	r := NewLexicalBlendReranker(0)
	scores, err := r.Rerank(context.Background(), "alpha", candidates)
	require.NoError(t, err)
	assert.InDelta(t, float64(0.42), float64(scores[0]), 1e-6)
}

func TestLexicalBlendReranker_EmptyCandidates(t *testing.T) {
	r := NewLexicalBlendReranker(0.5)
	scores, err := r.Rerank(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

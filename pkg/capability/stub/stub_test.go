package stub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedder_Deterministic(t *testing.T) {
	e := NewEmbedder(32)
	a, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	e := NewEmbedder(32)
	v, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, x := range v {
		assert.Equal(t, float32(0), x)
	}
}

func TestEmbedder_DifferentTextDiffers(t *testing.T) {
	e := NewEmbedder(32)
	a, err := e.Embed(context.Background(), "alpha document about cats")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "beta document about rockets")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLanguageModel_CitesDocIDsFromPrompt(t *testing.T) {
	m := NewLanguageModel()
	prompt := "Question: What is the capital?\n[doc-1] Paris is the capital of France.\n[doc-2] Other passage."
	out, err := m.Generate(context.Background(), prompt, 0.0)
	require.NoError(t, err)
	assert.Contains(t, out, "[doc-1]")
	assert.Contains(t, out, "[doc-2]")
	assert.Contains(t, out, "CONFIDENCE:")
}

func TestLanguageModel_NoPassagesRefuses(t *testing.T) {
	m := NewLanguageModel()
	out, err := m.Generate(context.Background(), "Question: anything\n", 0.0)
	require.NoError(t, err)
	assert.Contains(t, out, "don't have enough information")
}

func TestReranker_DecreasingScores(t *testing.T) {
	r := NewReranker()
	scores, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Greater(t, scores[0], scores[1])
	assert.Greater(t, scores[1], scores[2])
}

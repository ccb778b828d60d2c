package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedder_ReturnsFixture(t *testing.T) {
	e := NewEmbedder(2, map[string][]float32{"hello": {1, 0}})
	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)
}

func TestEmbedder_UnrecordedTextErrors(t *testing.T) {
	e := NewEmbedder(2, map[string][]float32{})
	_, err := e.Embed(context.Background(), "nope")
	require.Error(t, err)
}

func TestLanguageModel_ReturnsFixture(t *testing.T) {
	m := NewLanguageModel(map[string]string{"prompt": "response"})
	out, err := m.Generate(context.Background(), "prompt", 0)
	require.NoError(t, err)
	assert.Equal(t, "response", out)
}

func TestReranker_ValidatesFixtureLength(t *testing.T) {
	r := NewReranker(map[string][]float64{"q": {0.9, 0.1}})
	_, err := r.Rerank(context.Background(), "q", []string{"only one doc"})
	require.Error(t, err)
}

func TestReranker_ReturnsFixture(t *testing.T) {
	r := NewReranker(map[string][]float64{"q": {0.9, 0.1}})
	scores, err := r.Rerank(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.1}, scores)
}

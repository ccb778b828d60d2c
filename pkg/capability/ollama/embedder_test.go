package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOllama serves /api/tags with the given installed models and /api/embed
// with a deterministic embedding (dims copies of 1.0 per text; the client
// normalizes it).
func mockOllama(t *testing.T, models []string, dims int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		type modelInfo struct {
			Name string `json:"name"`
		}
		resp := struct {
			Models []modelInfo `json:"models"`
		}{}
		for _, m := range models {
			resp.Models = append(resp.Models, modelInfo{Name: m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var texts []string
		switch v := req.Input.(type) {
		case string:
			texts = []string{v}
		case []any:
			for _, item := range v {
				texts = append(texts, item.(string))
			}
		}

		embeddings := make([][]float64, len(texts))
		for i := range texts {
			vec := make([]float64, dims)
			for j := range vec {
				vec[j] = 1.0
			}
			embeddings[i] = vec
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: embeddings})
	})
	return httptest.NewServer(mux)
}

func TestNew_ResolvesPrimaryModelAndDetectsDimensions(t *testing.T) {
	srv := mockOllama(t, []string{"qwen3-embedding:0.6b"}, 8)
	defer srv.Close()

	e, err := New(context.Background(), Config{Host: srv.URL, Model: "qwen3-embedding:0.6b"})
	require.NoError(t, err)
	assert.Equal(t, "qwen3-embedding:0.6b", e.ModelName())
	assert.Equal(t, 8, e.Dimensions())
}

func TestNew_FallsBackWhenPrimaryModelMissing(t *testing.T) {
	srv := mockOllama(t, []string{"mxbai-embed-large:latest"}, 4)
	defer srv.Close()

	e, err := New(context.Background(), Config{Host: srv.URL, Model: "qwen3-embedding:0.6b"})
	require.NoError(t, err)
	assert.Equal(t, "mxbai-embed-large:latest", e.ModelName())
}

func TestNew_NoModelAvailableReturnsUpstreamError(t *testing.T) {
	srv := mockOllama(t, []string{"unrelated-model"}, 4)
	defer srv.Close()

	_, err := New(context.Background(), Config{Host: srv.URL, Model: "qwen3-embedding:0.6b", FallbackModels: []string{}})
	require.Error(t, err)
}

func TestEmbed_EmptyTextSkipsNetworkCall(t *testing.T) {
	e := &Embedder{
		client: http.DefaultClient,
		cfg:    Config{Host: "http://unused.invalid"}.withDefaults(),
		dims:   6,
	}
	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 6), vec)
}

func TestEmbed_ReturnsNormalizedVector(t *testing.T) {
	srv := mockOllama(t, []string{"qwen3-embedding:0.6b"}, 4)
	defer srv.Close()

	e, err := New(context.Background(), Config{Host: srv.URL, Model: "qwen3-embedding:0.6b"})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, vec, 4)
	assert.InDelta(t, 0.5, vec[0], 0.001)
}

func TestEmbedBatch_PreservesPositionsAndSkipsEmptyTexts(t *testing.T) {
	srv := mockOllama(t, []string{"qwen3-embedding:0.6b"}, 4)
	defer srv.Close()

	e, err := New(context.Background(), Config{Host: srv.URL, Model: "qwen3-embedding:0.6b"})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"alpha", "", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, make([]float32, 4), vecs[1])
	assert.NotEqual(t, make([]float32, 4), vecs[0])
	assert.NotEqual(t, make([]float32, 4), vecs[2])
}

func TestEmbed_FailsAfterClose(t *testing.T) {
	srv := mockOllama(t, []string{"qwen3-embedding:0.6b"}, 4)
	defer srv.Close()

	e, err := New(context.Background(), Config{Host: srv.URL, Model: "qwen3-embedding:0.6b"})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "hello")
	require.Error(t, err)
}

func TestNew_SkipHealthCheckTrustsGivenConfig(t *testing.T) {
	e, err := New(context.Background(), Config{
		Host:            "http://unused.invalid",
		Model:           "custom-model",
		Dimensions:      12,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "custom-model", e.ModelName())
	assert.Equal(t, 12, e.Dimensions())
}

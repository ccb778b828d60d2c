// Package ollama implements capability.Embedder against a local Ollama
// server's HTTP API. It is the production counterpart to the stub
// embedder: same interface, real model, real network calls.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ragpp/ragpp/internal/apperr"
)

const (
	// DefaultHost is the default Ollama API endpoint.
	DefaultHost = "http://localhost:11434"
	// DefaultModel is the primary embedding model requested.
	DefaultModel = "qwen3-embedding:0.6b"
	// DefaultConnectTimeout bounds the initial health check / model
	// discovery call; cold model loads can take far longer than a
	// steady-state embed call.
	DefaultConnectTimeout = 60 * time.Second
	// DefaultTimeout bounds a single embed/embed-batch call.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the retry budget passed to apperr.Retry for
	// transient upstream failures.
	DefaultMaxRetries = 3
	// DefaultPoolSize is the HTTP connection pool size.
	DefaultPoolSize = 4
	// DefaultCircuitMaxFailures trips the breaker after this many
	// consecutive embed failures.
	DefaultCircuitMaxFailures = 5
	// DefaultCircuitResetTimeout is how long the breaker stays open before
	// letting a single probe call through.
	DefaultCircuitResetTimeout = 30 * time.Second
)

// FallbackModels are tried in order if Config.Model is not installed.
var FallbackModels = []string{"embeddinggemma", "mxbai-embed-large"}

// Config configures an Embedder.
type Config struct {
	Host string
	// Model is the embedding model requested first.
	Model string
	// FallbackModels are tried in order if Model is not installed.
	FallbackModels []string
	// Dimensions overrides auto-detection. Zero means auto-detect from a
	// probe embed call during New.
	Dimensions int
	Timeout    time.Duration
	// ConnectTimeout bounds model discovery and dimension detection.
	ConnectTimeout time.Duration
	MaxRetries     int
	PoolSize       int
	// SkipHealthCheck skips model discovery and dimension detection,
	// trusting Model and Dimensions as given. Used in tests against a
	// fake server that doesn't implement /api/tags.
	SkipHealthCheck bool
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.FallbackModels == nil {
		c.FallbackModels = FallbackModels
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	return c
}

// Embedder generates embeddings through Ollama's /api/embed endpoint.
type Embedder struct {
	client *http.Client
	cfg    Config

	circuit *apperr.CircuitBreaker

	mu        sync.RWMutex
	modelName string
	dims      int
	closed    bool
}

// New connects to an Ollama server, resolves which model to use (Model,
// falling back through FallbackModels), and determines the embedding
// dimension, unless cfg.SkipHealthCheck is set.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	cfg = cfg.withDefaults()

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	e := &Embedder{
		client:    &http.Client{Transport: transport},
		cfg:       cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
		circuit:   apperr.NewCircuitBreaker("ollama-embed", DefaultCircuitMaxFailures, DefaultCircuitResetTimeout),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		modelName, err := e.findAvailableModel(checkCtx)
		if err != nil {
			return nil, apperr.UpstreamError("embed", fmt.Errorf("resolve ollama model: %w", err))
		}
		e.modelName = modelName

		if cfg.Dimensions == 0 {
			dims, err := e.detectDimensions(checkCtx)
			if err != nil {
				return nil, apperr.UpstreamError("embed", fmt.Errorf("detect ollama embedding dimension: %w", err))
			}
			e.dims = dims
		}
	}

	return e, nil
}

type modelListResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (e *Embedder) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, body)
	}

	var result modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

// findAvailableModel matches cfg.Model, then each of cfg.FallbackModels,
// against the installed model list, ignoring tag suffixes.
func (e *Embedder) findAvailableModel(ctx context.Context) (string, error) {
	installed, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string, len(installed)*2)
	for _, name := range installed {
		lower := strings.ToLower(name)
		available[lower] = name
		base := strings.Split(lower, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = name
		}
	}

	candidates := append([]string{e.cfg.Model}, e.cfg.FallbackModels...)
	for _, candidate := range candidates {
		lower := strings.ToLower(candidate)
		if actual, ok := available[lower]; ok {
			return actual, nil
		}
		if actual, ok := available[strings.Split(lower, ":")[0]]; ok {
			return actual, nil
		}
	}

	return "", fmt.Errorf("no embedding model available (tried %s and %v)", e.cfg.Model, e.cfg.FallbackModels)
}

func (e *Embedder) detectDimensions(ctx context.Context) (int, error) {
	embeddings, err := e.callEmbed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(embeddings[0]), nil
}

// Embed returns the embedding for a single text. The empty string embeds
// to the zero vector, matching stub.Embedder's convention.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.Dimensions()), nil
	}
	embeddings, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, apperr.UpstreamError("embed", fmt.Errorf("no embedding returned"))
	}
	return embeddings[0], nil
}

// EmbedBatch embeds every text in one Ollama request. Empty texts embed
// to the zero vector without a round trip for that slot.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	nonEmpty := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			nonEmpty = append(nonEmpty, t)
			positions = append(positions, i)
		}
	}

	out := make([][]float32, len(texts))
	dims := e.Dimensions()
	for i := range out {
		out[i] = make([]float32, dims)
	}
	if len(nonEmpty) == 0 {
		return out, nil
	}

	embeddings, err := e.embedWithRetry(ctx, nonEmpty)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(nonEmpty) {
		return nil, apperr.UpstreamError("embed", fmt.Errorf("expected %d embeddings, got %d", len(nonEmpty), len(embeddings)))
	}
	for j, pos := range positions {
		out[pos] = embeddings[j]
	}
	return out, nil
}

// embedWithRetry runs callEmbed through the retry budget, with the circuit
// breaker wrapping the whole retried call: a string of failed retry
// sequences trips the breaker so the next call fails fast with
// ErrCircuitOpen instead of paying out a full retry budget against a
// server that is still down.
func (e *Embedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.circuit.Execute(func() error {
		var innerErr error
		out, innerErr = apperr.RetryWithResult(ctx, apperr.DefaultUpstreamRetryConfig(e.cfg.MaxRetries), func() ([][]float32, error) {
			return e.callEmbed(ctx, texts)
		})
		return innerErr
	})
	if errors.Is(err, apperr.ErrCircuitOpen) {
		return nil, apperr.UpstreamError("embed", fmt.Errorf("ollama embed circuit open: %w", err))
	}
	return out, err
}

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// callEmbed issues one POST /api/embed and classifies the result into
// apperr kinds so apperr.Retry knows whether to retry it.
func (e *Embedder) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	model := e.modelName
	e.mu.RUnlock()
	if closed {
		return nil, apperr.ServiceUnavailable()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(embedRequest{Model: model, Input: input})
	if err != nil {
		return nil, apperr.Internal("marshal ollama embed request", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Internal("build ollama embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, apperr.UpstreamTimeout("embed", err)
		}
		return nil, apperr.UpstreamError("embed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, apperr.UpstreamError("embed", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperr.UpstreamError("embed", fmt.Errorf("decode ollama embed response: %w", err))
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, raw := range result.Embeddings {
		vec := make([]float32, len(raw))
		for j, v := range raw {
			vec[j] = float32(v)
		}
		embeddings[i] = normalize(vec)
	}
	return embeddings, nil
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}

// Dimensions returns the embedding width, resolved during New.
func (e *Embedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model resolved during New (which may be a
// fallback, not cfg.Model).
func (e *Embedder) ModelName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.modelName
}

// Close releases pooled connections. Embed/EmbedBatch fail after Close.
func (e *Embedder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.client.CloseIdleConnections()
	return nil
}

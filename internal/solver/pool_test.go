package solver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragpp/ragpp/internal/apperr"
)

type fakeLLM struct {
	fn func(ctx context.Context, prompt string, temperature float64) (string, error)
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return f.fn(ctx, prompt, temperature)
}

func TestPool_DispatchReturnsOnePerSolver(t *testing.T) {
	llm := &fakeLLM{fn: func(ctx context.Context, prompt string, temperature float64) (string, error) {
		return "The sky is blue [d1]. CONFIDENCE: 0.90", nil
	}}
	p, err := New(Config{NSolvers: 3, TSolver: time.Second, TPool: 2 * time.Second}, llm)
	require.NoError(t, err)

	outs, err := p.Dispatch(context.Background(), "why is the sky blue?", []Passage{{DocID: "d1", Text: "Rayleigh scattering"}})
	require.NoError(t, err)
	require.Len(t, outs, 3)
	for _, o := range outs {
		assert.Equal(t, []string{"d1"}, o.RawCitations)
		assert.InDelta(t, 0.90, o.Confidence, 1e-9)
	}
}

func TestPool_PartialTimeoutKeepsCompletedSolvers(t *testing.T) {
	llm := &fakeLLM{fn: func(ctx context.Context, prompt string, temperature float64) (string, error) {
		if temperature == 0.0 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "answer [d1]", nil
	}}
	p, err := New(Config{NSolvers: 3, TSolver: 20 * time.Millisecond, TPool: time.Second}, llm)
	require.NoError(t, err)

	outs, err := p.Dispatch(context.Background(), "q", []Passage{{DocID: "d1", Text: "t"}})
	require.NoError(t, err)
	assert.Len(t, outs, 2)
}

func TestPool_AllSolversTimeoutReturnsUpstreamTimeout(t *testing.T) {
	llm := &fakeLLM{fn: func(ctx context.Context, prompt string, temperature float64) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	p, err := New(Config{NSolvers: 2, TSolver: 10 * time.Millisecond, TPool: 30 * time.Millisecond}, llm)
	require.NoError(t, err)

	_, err = p.Dispatch(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamTimeout, apperr.KindOf(err))
}

func TestPool_RejectsTooManySolvers(t *testing.T) {
	llm := &fakeLLM{fn: func(ctx context.Context, prompt string, temperature float64) (string, error) { return "", nil }}
	_, err := New(Config{NSolvers: 9}, llm)
	require.Error(t, err)
}

func TestExtractCitations_DedupesPreservingOrder(t *testing.T) {
	got := extractCitations("see [d1] and [d2], also [d1] again")
	assert.Equal(t, []string{"d1", "d2"}, got)
}

func TestParseConfidence_DefaultsWhenOutOfRange(t *testing.T) {
	assert.Equal(t, 0.5, parseConfidence("CONFIDENCE: 1.5"))
	assert.Equal(t, 0.5, parseConfidence("no marker here"))
	assert.InDelta(t, 0.42, parseConfidence("answer. CONFIDENCE: 0.42"), 1e-9)
}

func TestBuildPrompt_PrefixesPassagesWithDocID(t *testing.T) {
	prompt := buildPrompt("why?", []Passage{{DocID: "doc-7", Text: "because"}})
	assert.Contains(t, prompt, "[doc-7] because")
	assert.Contains(t, prompt, "why?")
}

package factstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ExactLookupHit(t *testing.T) {
	store, err := New(DefaultConfig(4))
	require.NoError(t, err)

	ctx := context.Background()
	fact := &Fact{
		QuestionText:      "What is the capital of France?",
		QuestionEmbedding: []float32{1, 0, 0, 0},
		Answer:            "Paris",
		Confidence:        0.9,
	}
	require.NoError(t, store.Insert(ctx, fact))

	result, err := store.Lookup(ctx, "What is the capital of France?", []float32{1, 0, 0, 0})
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, MatchExact, result.MatchType)
	assert.Equal(t, float32(1.0), result.Similarity)
	assert.Equal(t, "Paris", result.Fact.Answer)
}

func TestStore_ExactLookupNormalizesQuestion(t *testing.T) {
	store, err := New(DefaultConfig(4))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &Fact{
		QuestionText:      "What is the capital of France?",
		QuestionEmbedding: []float32{1, 0, 0, 0},
		Answer:            "Paris",
		Confidence:        0.9,
	}))

	result, err := store.Lookup(ctx, "  what is THE capital of france  ", []float32{1, 0, 0, 0})
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, MatchExact, result.MatchType)
}

func TestStore_FuzzyLookupHit(t *testing.T) {
	store, err := New(DefaultConfig(4))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &Fact{
		QuestionText:      "What is the capital of France?",
		QuestionEmbedding: []float32{1, 0, 0, 0},
		Answer:            "Paris",
		Confidence:        0.9,
	}))

	result, err := store.Lookup(ctx, "a totally different phrasing", []float32{0.99, 0.01, 0, 0})
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, MatchFuzzy, result.MatchType)
	assert.Greater(t, result.Similarity, float32(0.85))
}

func TestStore_LookupMiss(t *testing.T) {
	store, err := New(DefaultConfig(4))
	require.NoError(t, err)

	result, err := store.Lookup(context.Background(), "nothing cached", []float32{1, 0, 0, 0})
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Equal(t, MatchNone, result.MatchType)
}

func TestStore_InsertRejectsLowConfidence(t *testing.T) {
	store, err := New(DefaultConfig(4))
	require.NoError(t, err)

	err = store.Insert(context.Background(), &Fact{
		QuestionText:      "low confidence question",
		QuestionEmbedding: []float32{1, 0, 0, 0},
		Answer:            "maybe",
		Confidence:        0.5,
	})
	require.Error(t, err)
}

func TestStore_EvictsLowestScoreUnderCapacity(t *testing.T) {
	cfg := DefaultConfig(4)
	cfg.Capacity = 2
	store, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &Fact{
		QuestionText: "question one", QuestionEmbedding: []float32{1, 0, 0, 0}, Answer: "a", Confidence: 0.9,
	}))
	require.NoError(t, store.Insert(ctx, &Fact{
		QuestionText: "question two", QuestionEmbedding: []float32{0, 1, 0, 0}, Answer: "b", Confidence: 0.9,
	}))

	// Access "question one" repeatedly so it accumulates access_count and
	// should survive eviction over the untouched "question two".
	for i := 0; i < 5; i++ {
		_, err := store.Lookup(ctx, "question one", []float32{1, 0, 0, 0})
		require.NoError(t, err)
	}

	require.NoError(t, store.Insert(ctx, &Fact{
		QuestionText: "question three", QuestionEmbedding: []float32{0, 0, 1, 0}, Answer: "c", Confidence: 0.9,
	}))

	assert.Equal(t, 2, store.Stats().Count)
	r1, _ := store.Lookup(ctx, "question one", []float32{1, 0, 0, 0})
	assert.True(t, r1.Found)
	r2, _ := store.Lookup(ctx, "question two", []float32{0, 1, 0, 0})
	assert.False(t, r2.Found)
}

func TestStore_Clear(t *testing.T) {
	store, err := New(DefaultConfig(4))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &Fact{
		QuestionText: "q", QuestionEmbedding: []float32{1, 0, 0, 0}, Answer: "a", Confidence: 0.9,
	}))
	store.Clear()
	assert.Equal(t, 0, store.Stats().Count)
}

func TestStore_ConcurrentLookupIsRaceFree(t *testing.T) {
	store, err := New(DefaultConfig(4))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &Fact{
		QuestionText: "same question", QuestionEmbedding: []float32{1, 0, 0, 0}, Answer: "computed", Confidence: 0.9,
	}))

	var wg sync.WaitGroup
	results := make([]LookupResult, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r, err := store.Lookup(ctx, "same question", []float32{1, 0, 0, 0})
			require.NoError(t, err)
			results[idx] = r
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.Found)
		assert.Equal(t, "computed", r.Fact.Answer)
	}
}

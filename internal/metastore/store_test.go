package metastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutAndGet(t *testing.T) {
	// Given: an empty in-memory store
	store, err := New(context.Background(), nil)
	require.NoError(t, err)
	defer store.Close()

	// When: I put a document with user metadata
	doc := &Document{
		DocID: "doc-1",
		Text:  "hello world",
		UserMetadata: map[string]UserValue{
			"source": StringValue("wiki"),
		},
		MetadataOrder: []string{"source"},
	}
	require.NoError(t, store.Put(context.Background(), doc))

	// Then: Get returns a clone with system metadata filled in
	got, ok := store.Get("doc-1")
	require.True(t, ok)
	assert.Equal(t, "hello world", got.Text)
	assert.Equal(t, len("hello world"), got.SystemMetadata.ContentLength)
	assert.NotZero(t, got.SystemMetadata.IndexedAt)
	assert.Equal(t, "wiki", got.UserMetadata["source"].Str)
}

func TestStore_GetMissing(t *testing.T) {
	store, err := New(context.Background(), nil)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.Get("nope")
	assert.False(t, ok)
	assert.False(t, store.Has("nope"))
}

func TestStore_Delete(t *testing.T) {
	store, err := New(context.Background(), nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(context.Background(), &Document{DocID: "doc-1", Text: "x"}))
	require.True(t, store.Has("doc-1"))

	require.NoError(t, store.Delete(context.Background(), "doc-1"))
	assert.False(t, store.Has("doc-1"))

	// Deleting an absent doc_id is not an error.
	require.NoError(t, store.Delete(context.Background(), "doc-1"))
}

func TestStore_CloneIsolatesCallers(t *testing.T) {
	store, err := New(context.Background(), nil)
	require.NoError(t, err)
	defer store.Close()

	doc := &Document{
		DocID:         "doc-1",
		Text:          "x",
		UserMetadata:  map[string]UserValue{"k": StringValue("v")},
		MetadataOrder: []string{"k"},
	}
	require.NoError(t, store.Put(context.Background(), doc))

	got, _ := store.Get("doc-1")
	got.UserMetadata["k"] = StringValue("mutated")

	again, _ := store.Get("doc-1")
	assert.Equal(t, "v", again.UserMetadata["k"].Str)
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	// Given: a SQLite-backed store with one document
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.db")

	backend, err := NewSQLiteBackend(path)
	require.NoError(t, err)

	store, err := New(context.Background(), backend)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), &Document{
		DocID:         "doc-1",
		Text:          "persisted text",
		UserMetadata:  map[string]UserValue{"n": IntValue(7)},
		MetadataOrder: []string{"n"},
	}))
	require.NoError(t, store.Close())

	// When: a fresh store reopens the same backend path
	backend2, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	store2, err := New(context.Background(), backend2)
	require.NoError(t, err)
	defer store2.Close()

	// Then: the document is loaded back from disk
	got, ok := store2.Get("doc-1")
	require.True(t, ok)
	assert.Equal(t, "persisted text", got.Text)
	assert.Equal(t, int64(7), got.UserMetadata["n"].Int)
}

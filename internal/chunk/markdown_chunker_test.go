package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownChunker_Chunk_SmallDocumentIsOneChunk(t *testing.T) {
	chunker := NewMarkdownChunker()

	content := "# Title\n\nWelcome to the project.\n"
	doc := &DocumentInput{DocID: "doc-1", Content: []byte(content)}

	chunks, err := chunker.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Content)
	assert.Equal(t, "doc-1", chunks[0].DocID)
	assert.NotEmpty(t, chunks[0].ID)
}

func TestMarkdownChunker_Chunk_EmptyContentReturnsNoChunks(t *testing.T) {
	chunker := NewMarkdownChunker()

	chunks, err := chunker.Chunk(&DocumentInput{DocID: "doc-1", Content: []byte("   \n\n")})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestMarkdownChunker_Chunk_HeaderBasedSplitting(t *testing.T) {
	chunker := NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{MaxChunkTokens: 10})

	content := `# Title

Welcome to the project.

## Section 1

Content for section 1.

## Section 2

Content for section 2.
`

	doc := &DocumentInput{DocID: "readme", Content: []byte(content)}

	chunks, err := chunker.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 3, "expected 3 chunks for 3 sections")

	assert.Contains(t, chunks[0].Content, "# Title")
	assert.Contains(t, chunks[0].Content, "Welcome to the project")

	assert.Contains(t, chunks[1].Content, "## Section 1")
	assert.Contains(t, chunks[1].Content, "Content for section 1")

	assert.Contains(t, chunks[2].Content, "## Section 2")
	assert.Contains(t, chunks[2].Content, "Content for section 2")

	for _, c := range chunks {
		assert.Equal(t, "readme", c.DocID)
		assert.NotEmpty(t, c.ID)
	}
}

func TestMarkdownChunker_Chunk_PreservesFencedCodeBlocks(t *testing.T) {
	chunker := NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{MaxChunkTokens: 8})

	content := "# Installation\n\nInstall using:\n\n```bash\nbrew install myapp\napt-get install myapp\nyum install myapp\n```\n\nThen run it.\n"

	doc := &DocumentInput{DocID: "install", Content: []byte(content)}

	chunks, err := chunker.Chunk(doc)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 1)

	found := false
	for _, c := range chunks {
		if strings.Contains(c.Content, "brew install") &&
			strings.Contains(c.Content, "apt-get install") &&
			strings.Contains(c.Content, "yum install") {
			found = true
		}
	}
	assert.True(t, found, "fenced code block should stay intact in a single chunk")
}

func TestMarkdownChunker_Chunk_FrontmatterBecomesItsOwnChunk(t *testing.T) {
	chunker := NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{MaxChunkTokens: 10})

	content := "---\ntitle: Doc\ntags: [a, b]\n---\n\n# Title\n\nBody content goes here.\n\n## More\n\nMore content goes here.\n"

	doc := &DocumentInput{DocID: "fm", Content: []byte(content)}

	chunks, err := chunker.Chunk(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "frontmatter", chunks[0].Metadata["type"])
	assert.Contains(t, chunks[0].Content, "title: Doc")
}

func TestMarkdownChunker_Chunk_NoHeadersFallsBackToParagraphs(t *testing.T) {
	chunker := NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{MaxChunkTokens: 5})

	content := "First paragraph with some words in it.\n\nSecond paragraph with more words in it.\n\nThird paragraph here too.\n"

	doc := &DocumentInput{DocID: "plain", Content: []byte(content)}

	chunks, err := chunker.Chunk(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, "plain", c.DocID)
	}
}

func TestMarkdownChunker_Chunk_IsDeterministicAcrossReindex(t *testing.T) {
	chunker := NewMarkdownChunker()
	content := "# Title\n\nSome stable content.\n"
	doc := &DocumentInput{DocID: "stable", Content: []byte(content)}

	first, err := chunker.Chunk(doc)
	require.NoError(t, err)
	second, err := chunker.Chunk(doc)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "chunk ID must be stable for unchanged content")
}

func TestGenerateChunkID_DiffersByContent(t *testing.T) {
	id1 := generateChunkID("doc", "content a")
	id2 := generateChunkID("doc", "content b")
	assert.NotEqual(t, id1, id2)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 2, estimateTokens("12345678"))
}

package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MarkdownChunkerOptions configures the markdown chunker behavior.
type MarkdownChunkerOptions struct {
	MaxChunkTokens int // default: DefaultMaxChunkTokens
}

// MarkdownChunker implements header-based markdown chunking.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

var (
	headerPattern      = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// NewMarkdownChunker creates a markdown chunker with default options.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a markdown chunker with custom options.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	return &MarkdownChunker{options: opts}
}

// Chunk splits doc's content into semantic chunks: one per header-delimited
// section (a header of any level starts a new section) when it fits the
// token budget, split further by paragraph when
// it doesn't. A document with no headers chunks by paragraph from the
// start. Documents under MaxChunkTokens come back as a single chunk.
func (c *MarkdownChunker) Chunk(doc *DocumentInput) ([]*Chunk, error) {
	content := string(doc.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	if estimateTokens(content) <= c.options.MaxChunkTokens {
		return []*Chunk{c.wholeDocumentChunk(doc, content)}, nil
	}

	var chunks []*Chunk
	now := time.Now()
	remaining := content

	if fm := frontmatterPattern.FindStringSubmatch(remaining); fm != nil {
		frontmatter := fm[0]
		chunks = append(chunks, c.frontmatterChunk(doc, frontmatter, now))
		remaining = remaining[len(frontmatter):]
	}

	sections := c.parseSections(remaining)
	if len(sections) == 0 {
		chunks = append(chunks, c.chunkByParagraphs(doc, remaining, "", 1, now)...)
		return chunks, nil
	}

	baseLineOffset := 1
	if len(chunks) > 0 {
		baseLineOffset = strings.Count(content[:len(content)-len(remaining)], "\n") + 1
	}
	for _, sec := range sections {
		chunks = append(chunks, c.sectionChunks(doc, sec, baseLineOffset, now)...)
	}
	return chunks, nil
}

func (c *MarkdownChunker) wholeDocumentChunk(doc *DocumentInput, content string) *Chunk {
	return &Chunk{
		ID:        generateChunkID(doc.DocID, content),
		DocID:     doc.DocID,
		Content:   content,
		StartLine: 1,
		EndLine:   strings.Count(content, "\n") + 1,
		Metadata:  map[string]string{"header_path": "", "header_level": "0"},
		CreatedAt: time.Now(),
	}
}

type section struct {
	headerLevel int
	headerTitle string
	headerPath  string
	content     string
	startLine   int
}

func (c *MarkdownChunker) parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	var sections []*section
	headerStack := make([]string, 6)

	var current *section
	var body strings.Builder

	for lineNum, line := range lines {
		if match := headerPattern.FindStringSubmatch(line); match != nil {
			if current != nil {
				current.content = body.String()
				sections = append(sections, current)
				body.Reset()
			}

			level := len(match[1])
			title := strings.TrimSpace(match[2])

			headerStack[level-1] = title
			for i := level; i < 6; i++ {
				headerStack[i] = ""
			}

			var pathParts []string
			for i := 0; i < level; i++ {
				if headerStack[i] != "" {
					pathParts = append(pathParts, headerStack[i])
				}
			}

			current = &section{
				headerLevel: level,
				headerTitle: title,
				headerPath:  strings.Join(pathParts, " > "),
				startLine:   lineNum,
			}
			body.WriteString(line)
			body.WriteString("\n")
		} else {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}

	if current != nil {
		current.content = body.String()
		sections = append(sections, current)
	}

	return sections
}

func (c *MarkdownChunker) frontmatterChunk(doc *DocumentInput, content string, now time.Time) *Chunk {
	lineCount := strings.Count(content, "\n")
	if lineCount == 0 {
		lineCount = 1
	}
	return &Chunk{
		ID:        generateChunkID(doc.DocID, content),
		DocID:     doc.DocID,
		Content:   content,
		StartLine: 1,
		EndLine:   lineCount,
		Metadata:  map[string]string{"type": "frontmatter", "header_path": "", "header_level": "0"},
		CreatedAt: now,
	}
}

func (c *MarkdownChunker) sectionChunks(doc *DocumentInput, sec *section, baseLineOffset int, now time.Time) []*Chunk {
	content := strings.TrimRight(sec.content, "\n")

	trimmed := strings.TrimSpace(content)
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= 1 && headerPattern.MatchString(trimmed) {
		return nil
	}

	if estimateTokens(content) <= c.options.MaxChunkTokens {
		startLine := baseLineOffset + sec.startLine
		return []*Chunk{{
			ID:        generateChunkID(doc.DocID, content),
			DocID:     doc.DocID,
			Content:   content,
			StartLine: startLine,
			EndLine:   startLine + strings.Count(content, "\n"),
			Metadata: map[string]string{
				"header_path":   sec.headerPath,
				"header_level":  strconv.Itoa(sec.headerLevel),
				"section_title": sec.headerTitle,
			},
			CreatedAt: now,
		}}
	}

	startLine := baseLineOffset + sec.startLine
	return c.splitLargeSection(doc, sec, content, startLine, now)
}

func (c *MarkdownChunker) splitLargeSection(doc *DocumentInput, sec *section, content string, startLine int, now time.Time) []*Chunk {
	paragraphs := c.splitByParagraphs(content)

	var chunks []*Chunk
	var current strings.Builder
	currentStart := startLine
	lineCount := 0

	for i, para := range paragraphs {
		paraLines := strings.Count(para, "\n") + 1
		paraTokens := estimateTokens(para)
		currentTokens := estimateTokens(current.String())

		if current.Len() > 0 && currentTokens+paraTokens > c.options.MaxChunkTokens {
			chunks = append(chunks, c.fromContent(doc, sec, current.String(), currentStart, lineCount, now))
			current.Reset()
			currentStart = startLine + lineCount
			if i > 0 {
				current.WriteString("<!-- Section: ")
				current.WriteString(sec.headerPath)
				current.WriteString(" -->\n\n")
			}
		}

		current.WriteString(para)
		current.WriteString("\n\n")
		lineCount += paraLines + 1
	}

	if current.Len() > 0 {
		chunks = append(chunks, c.fromContent(doc, sec, current.String(), currentStart, lineCount, now))
	}

	return chunks
}

// splitByParagraphs splits on blank lines, re-merging any fenced code
// block or table that a naive split would otherwise cut in half.
func (c *MarkdownChunker) splitByParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")

	var paragraphs []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return c.mergeFencedBlocks(paragraphs)
}

func (c *MarkdownChunker) mergeFencedBlocks(paragraphs []string) []string {
	var result []string
	var inCodeBlock bool
	var block strings.Builder

	for _, para := range paragraphs {
		if inCodeBlock {
			block.WriteString("\n\n")
			block.WriteString(para)
			if strings.Contains(para, "```") {
				result = append(result, block.String())
				block.Reset()
				inCodeBlock = false
			}
			continue
		}

		if openCount := strings.Count(para, "```"); openCount > 0 && openCount%2 == 1 {
			inCodeBlock = true
			block.WriteString(para)
			continue
		}

		result = append(result, para)
	}

	if inCodeBlock {
		result = append(result, block.String())
	}

	return result
}

func (c *MarkdownChunker) fromContent(doc *DocumentInput, sec *section, content string, startLine, lineCount int, now time.Time) *Chunk {
	content = strings.TrimRight(content, "\n ")
	return &Chunk{
		ID:        generateChunkID(doc.DocID, content),
		DocID:     doc.DocID,
		Content:   content,
		StartLine: startLine,
		EndLine:   startLine + lineCount,
		Metadata: map[string]string{
			"header_path":   sec.headerPath,
			"header_level":  strconv.Itoa(sec.headerLevel),
			"section_title": sec.headerTitle,
		},
		CreatedAt: now,
	}
}

func (c *MarkdownChunker) chunkByParagraphs(doc *DocumentInput, content, headerPath string, startLine int, now time.Time) []*Chunk {
	paragraphs := strings.Split(content, "\n\n")

	var chunks []*Chunk
	var current strings.Builder
	currentStart := startLine
	lineCount := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		text := current.String()
		chunks = append(chunks, &Chunk{
			ID:        generateChunkID(doc.DocID, text),
			DocID:     doc.DocID,
			Content:   text,
			StartLine: currentStart,
			EndLine:   currentStart + lineCount,
			Metadata:  map[string]string{"header_path": headerPath, "header_level": "0"},
			CreatedAt: now,
		})
		current.Reset()
		currentStart = startLine + lineCount
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		paraLines := strings.Count(para, "\n") + 1
		paraTokens := estimateTokens(para)
		currentTokens := estimateTokens(current.String())

		if current.Len() > 0 && currentTokens+paraTokens > c.options.MaxChunkTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		lineCount += paraLines + 1
	}
	flush()

	return chunks
}

// generateChunkID derives a stable, content-addressable chunk ID: the
// same text in the same document reindexes to the same ID, so unchanged
// passages don't churn their citations across reindexing.
func generateChunkID(docID, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	input := fmt.Sprintf("%s:%s", docID, hex.EncodeToString(contentHash[:])[:16])
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

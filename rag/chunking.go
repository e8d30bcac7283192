package rag

import (
	"strings"

	"go.uber.org/zap"
)

// ChunkingStrategy selects how DocumentChunker splits a document.
type ChunkingStrategy string

const (
	ChunkingFixed     ChunkingStrategy = "fixed"     // fixed-size, no boundary awareness
	ChunkingRecursive ChunkingStrategy = "recursive" // split on paragraph/sentence/word boundaries
	ChunkingSemantic  ChunkingStrategy = "semantic"  // split where adjacent sentences diverge
	ChunkingDocument  ChunkingStrategy = "document"  // preserve code/table blocks, recurse on the rest
)

// ChunkingConfig tunes DocumentChunker. The ingest_document tool uses
// DefaultChunkingConfig; other strategies exist for callers that need them
// but aren't wired into any tool today.
type ChunkingConfig struct {
	Strategy     ChunkingStrategy `json:"strategy"`
	ChunkSize    int              `json:"chunk_size"`     // target chunk size in tokens
	ChunkOverlap int              `json:"chunk_overlap"`  // overlap between adjacent chunks, in tokens
	MinChunkSize int              `json:"min_chunk_size"` // drop trailing chunks smaller than this

	// Semantic chunking
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// Document-aware chunking
	PreserveTables     bool `json:"preserve_tables"`
	PreserveCodeBlocks bool `json:"preserve_code_blocks"`
	PreserveHeaders    bool `json:"preserve_headers"`
}

// DefaultChunkingConfig is what newIngestDocumentTool uses to turn an
// ingested file into long-term-memory facts: recursive splitting at
// ~512 tokens with a 20% overlap so recall doesn't lose context that
// straddled a chunk boundary.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Strategy:            ChunkingRecursive,
		ChunkSize:           512,
		ChunkOverlap:        102,
		MinChunkSize:        50,
		SimilarityThreshold: 0.8,
		PreserveTables:      true,
		PreserveCodeBlocks:  true,
		PreserveHeaders:     true,
	}
}

// Chunk is one piece of a chunked Document, captured into long-term memory
// as its own fact.
type Chunk struct {
	Content    string                 `json:"content"`
	StartPos   int                    `json:"start_pos"`
	EndPos     int                    `json:"end_pos"`
	Metadata   map[string]interface{} `json:"metadata"`
	TokenCount int                    `json:"token_count"`
}

// DocumentChunker splits a loaded Document into memory-sized Chunks.
type DocumentChunker struct {
	config    ChunkingConfig
	tokenizer Tokenizer
	logger    *zap.Logger
}

// Tokenizer is the minimal token-counting surface DocumentChunker needs;
// rag/tokenizer_adapter.go adapts llm/tokenizer's Tokenizer to it.
type Tokenizer interface {
	CountTokens(text string) int
	Encode(text string) []int
}

// NewDocumentChunker creates a chunker that measures chunk size with
// tokenizer.
func NewDocumentChunker(config ChunkingConfig, tokenizer Tokenizer, logger *zap.Logger) *DocumentChunker {
	return &DocumentChunker{
		config:    config,
		tokenizer: tokenizer,
		logger:    logger,
	}
}

// ChunkDocument splits doc according to the chunker's configured strategy.
func (c *DocumentChunker) ChunkDocument(doc Document) []Chunk {
	switch c.config.Strategy {
	case ChunkingFixed:
		return c.fixedSizeChunking(doc)
	case ChunkingRecursive:
		return c.recursiveChunking(doc)
	case ChunkingSemantic:
		return c.semanticChunking(doc)
	case ChunkingDocument:
		return c.documentAwareChunking(doc)
	default:
		return c.recursiveChunking(doc)
	}
}

// recursiveChunking splits at paragraph, then sentence, then word
// boundaries, stopping as soon as a chunk fits within ChunkSize tokens.
// This is what ingest_document uses, since it keeps sentences intact
// instead of truncating mid-thought.
func (c *DocumentChunker) recursiveChunking(doc Document) []Chunk {
	content := doc.Content

	// Separator priority: paragraph > sentence > word.
	separators := []string{"\n\n", "\n", ". ", "。", "! ", "！", "? ", "？", " "}

	chunks := c.recursiveSplit(content, separators, 0, 0)

	if c.config.ChunkOverlap > 0 {
		chunks = c.addOverlap(chunks, content)
	}

	c.logger.Info("recursive chunking completed",
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", c.config.ChunkSize),
		zap.Int("overlap", c.config.ChunkOverlap))

	return chunks
}

func (c *DocumentChunker) recursiveSplit(text string, separators []string, startPos int, depth int) []Chunk {
	if len(separators) == 0 {
		// Out of separators: fall back to a sentence-boundary-aware character split.
		return c.splitByCharactersWithBoundary(text, startPos)
	}

	separator := separators[0]
	parts := strings.Split(text, separator)

	chunks := []Chunk{}
	currentChunk := ""
	currentStart := startPos

	for i, part := range parts {
		// Restore the separator except on the final part.
		if i < len(parts)-1 {
			part += separator
		}

		testChunk := currentChunk + part
		tokenCount := c.tokenizer.CountTokens(testChunk)

		if tokenCount <= c.config.ChunkSize {
			currentChunk = testChunk
		} else {
			// The current chunk is full.
			if currentChunk != "" {
				finalChunk := c.adjustToSentenceBoundary(currentChunk)
				chunks = append(chunks, Chunk{
					Content:    strings.TrimSpace(finalChunk),
					StartPos:   currentStart,
					EndPos:     currentStart + len(finalChunk),
					TokenCount: c.tokenizer.CountTokens(finalChunk),
				})
				currentStart += len(finalChunk)

				remainder := currentChunk[len(finalChunk):]
				currentChunk = remainder + part
			}

			// If a single part still overflows, recurse with the next separator.
			if c.tokenizer.CountTokens(part) > c.config.ChunkSize {
				subChunks := c.recursiveSplit(part, separators[1:], currentStart, depth+1)
				chunks = append(chunks, subChunks...)
				currentStart += len(part)
				currentChunk = ""
			} else if currentChunk == "" {
				currentChunk = part
			}
		}
	}

	if currentChunk != "" && c.tokenizer.CountTokens(currentChunk) >= c.config.MinChunkSize {
		chunks = append(chunks, Chunk{
			Content:    strings.TrimSpace(currentChunk),
			StartPos:   currentStart,
			EndPos:     currentStart + len(currentChunk),
			TokenCount: c.tokenizer.CountTokens(currentChunk),
		})
	}

	return chunks
}

// splitByCharactersWithBoundary is the last-resort splitter when no
// separator fits: cut every ~ChunkSize*4 characters, then back off to the
// nearest sentence boundary.
func (c *DocumentChunker) splitByCharactersWithBoundary(text string, startPos int) []Chunk {
	chunks := []Chunk{}
	runes := []rune(text)

	charsPerChunk := c.config.ChunkSize * 4 // ~4 chars/token

	for i := 0; i < len(runes); i += charsPerChunk {
		end := i + charsPerChunk
		if end > len(runes) {
			end = len(runes)
		}

		chunkText := string(runes[i:end])
		adjustedText := c.adjustToSentenceBoundary(chunkText)

		chunks = append(chunks, Chunk{
			Content:    adjustedText,
			StartPos:   startPos + i,
			EndPos:     startPos + i + len([]rune(adjustedText)),
			TokenCount: c.tokenizer.CountTokens(adjustedText),
		})
	}

	return chunks
}

// adjustToSentenceBoundary trims text back to the nearest sentence (or
// word) boundary in its second half, so a chunk never ends mid-sentence.
func (c *DocumentChunker) adjustToSentenceBoundary(text string) string {
	if len(text) == 0 {
		return text
	}

	sentenceEnders := []rune{'.', '。', '!', '！', '?', '？', '\n'}

	runes := []rune(text)
	for i := len(runes) - 1; i >= len(runes)/2; i-- { // only search the back half
		for _, ender := range sentenceEnders {
			if runes[i] == ender {
				return string(runes[:i+1])
			}
		}
	}

	for i := len(runes) - 1; i >= len(runes)/2; i-- {
		if runes[i] == ' ' || runes[i] == '\t' {
			return string(runes[:i])
		}
	}

	return text
}

// addOverlap prepends the tail of each chunk's predecessor, so a concept
// split across a chunk boundary still appears whole in at least one chunk.
func (c *DocumentChunker) addOverlap(chunks []Chunk, fullText string) []Chunk {
	if len(chunks) <= 1 {
		return chunks
	}

	overlapped := make([]Chunk, len(chunks))
	overlapChars := c.config.ChunkOverlap * 4

	for i := range chunks {
		chunk := chunks[i]

		if i > 0 {
			prevChunk := chunks[i-1]
			overlapStart := prevChunk.EndPos - overlapChars
			if overlapStart < prevChunk.StartPos {
				overlapStart = prevChunk.StartPos
			}

			if overlapStart < chunk.StartPos {
				overlapText := fullText[overlapStart:chunk.StartPos]
				chunk.Content = overlapText + chunk.Content
				chunk.StartPos = overlapStart
			}
		}

		overlapped[i] = chunk
	}

	return overlapped
}

// semanticChunking splits wherever adjacent sentences diverge, using word
// overlap as a cheap stand-in for real sentence embeddings.
func (c *DocumentChunker) semanticChunking(doc Document) []Chunk {
	sentences := c.splitIntoSentences(doc.Content)

	if len(sentences) == 0 {
		return []Chunk{}
	}

	similarities := c.calculateSentenceSimilarities(sentences)

	chunks := []Chunk{}
	currentChunk := sentences[0]
	currentStart := 0

	for i := 1; i < len(sentences); i++ {
		similarity := similarities[i-1]

		testChunk := currentChunk + " " + sentences[i]
		tokenCount := c.tokenizer.CountTokens(testChunk)

		if similarity < c.config.SimilarityThreshold || tokenCount > c.config.ChunkSize {
			chunks = append(chunks, Chunk{
				Content:    strings.TrimSpace(currentChunk),
				StartPos:   currentStart,
				EndPos:     currentStart + len(currentChunk),
				TokenCount: c.tokenizer.CountTokens(currentChunk),
			})
			currentStart += len(currentChunk) + 1
			currentChunk = sentences[i]
		} else {
			currentChunk = testChunk
		}
	}

	if currentChunk != "" {
		chunks = append(chunks, Chunk{
			Content:    strings.TrimSpace(currentChunk),
			StartPos:   currentStart,
			EndPos:     currentStart + len(currentChunk),
			TokenCount: c.tokenizer.CountTokens(currentChunk),
		})
	}

	return chunks
}

// documentAwareChunking keeps code blocks and tables intact and runs
// recursiveChunking over everything else, so ingesting a README doesn't
// split a code sample in half.
func (c *DocumentChunker) documentAwareChunking(doc Document) []Chunk {
	content := doc.Content
	chunks := []Chunk{}

	blocks := c.identifyStructuralBlocks(content)

	for _, block := range blocks {
		if block.Type == "code" && c.config.PreserveCodeBlocks {
			chunks = append(chunks, Chunk{
				Content:    block.Content,
				StartPos:   block.StartPos,
				EndPos:     block.EndPos,
				TokenCount: c.tokenizer.CountTokens(block.Content),
				Metadata: map[string]interface{}{
					"type": "code",
				},
			})
		} else if block.Type == "table" && c.config.PreserveTables {
			chunks = append(chunks, Chunk{
				Content:    block.Content,
				StartPos:   block.StartPos,
				EndPos:     block.EndPos,
				TokenCount: c.tokenizer.CountTokens(block.Content),
				Metadata: map[string]interface{}{
					"type": "table",
				},
			})
		} else {
			subDoc := Document{Content: block.Content}
			subChunks := c.recursiveChunking(subDoc)

			for i := range subChunks {
				subChunks[i].StartPos += block.StartPos
				subChunks[i].EndPos += block.StartPos
			}

			chunks = append(chunks, subChunks...)
		}
	}

	return chunks
}

// fixedSizeChunking cuts every ChunkSize*4 characters with no boundary
// awareness. Kept for callers that explicitly opt into ChunkingFixed;
// recursiveChunking is what ingest_document actually uses.
func (c *DocumentChunker) fixedSizeChunking(doc Document) []Chunk {
	content := doc.Content
	chunks := []Chunk{}

	charsPerChunk := c.config.ChunkSize * 4
	overlapChars := c.config.ChunkOverlap * 4

	for i := 0; i < len(content); i += (charsPerChunk - overlapChars) {
		end := i + charsPerChunk
		if end > len(content) {
			end = len(content)
		}

		chunkText := content[i:end]
		chunks = append(chunks, Chunk{
			Content:    chunkText,
			StartPos:   i,
			EndPos:     end,
			TokenCount: c.tokenizer.CountTokens(chunkText),
		})

		if end >= len(content) {
			break
		}
	}

	return chunks
}

func (c *DocumentChunker) splitIntoSentences(text string) []string {
	sentences := []string{}

	delimiters := []rune{'.', '。', '!', '！', '?', '？', '\n'}

	currentSentence := ""
	for _, char := range text {
		currentSentence += string(char)

		isDelimiter := false
		for _, delim := range delimiters {
			if char == delim {
				isDelimiter = true
				break
			}
		}

		if isDelimiter {
			trimmed := strings.TrimSpace(currentSentence)
			if trimmed != "" {
				sentences = append(sentences, trimmed)
			}
			currentSentence = ""
		}
	}

	if strings.TrimSpace(currentSentence) != "" {
		sentences = append(sentences, strings.TrimSpace(currentSentence))
	}

	return sentences
}

func (c *DocumentChunker) calculateSentenceSimilarities(sentences []string) []float64 {
	if len(sentences) <= 1 {
		return []float64{}
	}

	similarities := make([]float64, len(sentences)-1)

	for i := 0; i < len(sentences)-1; i++ {
		similarities[i] = c.wordOverlapSimilarity(sentences[i], sentences[i+1])
	}

	return similarities
}

// wordOverlapSimilarity is the Jaccard similarity of two sentences' word
// sets — a cheap stand-in for a real sentence-embedding comparison.
func (c *DocumentChunker) wordOverlapSimilarity(s1, s2 string) float64 {
	words1 := strings.Fields(strings.ToLower(s1))
	words2 := strings.Fields(strings.ToLower(s2))

	if len(words1) == 0 || len(words2) == 0 {
		return 0.0
	}

	set1 := make(map[string]bool)
	for _, w := range words1 {
		set1[w] = true
	}

	overlap := 0
	for _, w := range words2 {
		if set1[w] {
			overlap++
		}
	}

	union := len(words1) + len(words2) - overlap
	if union == 0 {
		return 0.0
	}

	return float64(overlap) / float64(union)
}

// StructuralBlock is one code/table/text span identified by
// identifyStructuralBlocks.
type StructuralBlock struct {
	Type     string // code, table, text
	Content  string
	StartPos int
	EndPos   int
}

// identifyStructuralBlocks scans markdown-style content for fenced code
// blocks and pipe tables, splitting the rest into plain text spans.
func (c *DocumentChunker) identifyStructuralBlocks(content string) []StructuralBlock {
	blocks := []StructuralBlock{}

	lines := strings.Split(content, "\n")

	currentBlock := StructuralBlock{Type: "text"}
	currentPos := 0
	inCodeBlock := false
	inTable := false

	for _, line := range lines {
		lineLen := len(line) + 1 // +1 for the newline

		if strings.HasPrefix(line, "```") {
			if inCodeBlock {
				currentBlock.Content += line + "\n"
				currentBlock.EndPos = currentPos + lineLen
				blocks = append(blocks, currentBlock)

				currentBlock = StructuralBlock{
					Type:     "text",
					StartPos: currentPos + lineLen,
				}
				inCodeBlock = false
			} else {
				if currentBlock.Content != "" {
					currentBlock.EndPos = currentPos
					blocks = append(blocks, currentBlock)
				}

				currentBlock = StructuralBlock{
					Type:     "code",
					Content:  line + "\n",
					StartPos: currentPos,
				}
				inCodeBlock = true
			}
		} else if strings.Contains(line, "|") && strings.Count(line, "|") >= 2 {
			if !inTable {
				if currentBlock.Content != "" {
					currentBlock.EndPos = currentPos
					blocks = append(blocks, currentBlock)
				}

				currentBlock = StructuralBlock{
					Type:     "table",
					Content:  line + "\n",
					StartPos: currentPos,
				}
				inTable = true
			} else {
				currentBlock.Content += line + "\n"
			}
		} else {
			if inTable {
				currentBlock.EndPos = currentPos
				blocks = append(blocks, currentBlock)

				currentBlock = StructuralBlock{
					Type:     "text",
					Content:  line + "\n",
					StartPos: currentPos,
				}
				inTable = false
			} else {
				currentBlock.Content += line + "\n"
			}
		}

		currentPos += lineLen
	}

	if currentBlock.Content != "" {
		currentBlock.EndPos = currentPos
		blocks = append(blocks, currentBlock)
	}

	return blocks
}

// SimpleTokenizer is a length/4 estimator used by chunking tests that don't
// need a real tokenizer.
type SimpleTokenizer struct{}

func (t *SimpleTokenizer) CountTokens(text string) int {
	return len(text) / 4
}

func (t *SimpleTokenizer) Encode(text string) []int {
	tokens := make([]int, len(text)/4)
	for i := range tokens {
		tokens[i] = i
	}
	return tokens
}

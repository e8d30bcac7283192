package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultChunkingConfig_MatchesIngestDocumentTool(t *testing.T) {
	config := DefaultChunkingConfig()

	assert.Equal(t, ChunkingRecursive, config.Strategy)
	assert.Equal(t, 512, config.ChunkSize)
	assert.Equal(t, 102, config.ChunkOverlap)
	assert.Equal(t, 50, config.MinChunkSize)
}

func TestDocumentChunker_RecursiveChunking_KeepsChunksNonEmptyAndOrdered(t *testing.T) {
	config := ChunkingConfig{
		Strategy:     ChunkingRecursive,
		ChunkSize:    20,
		ChunkOverlap: 4,
		MinChunkSize: 2,
	}
	chunker := NewDocumentChunker(config, &SimpleTokenizer{}, zap.NewNop())

	doc := Document{
		ID: "notes.md",
		Content: `The user prefers ruff over flake8 for linting.

They use uv for dependency management instead of pip.

Their CI runs on GitHub Actions with a matrix build across Python 3.11 and 3.12.`,
	}

	chunks := chunker.ChunkDocument(doc)
	require.NotEmpty(t, chunks)

	for i, chunk := range chunks {
		assert.NotEmpty(t, chunk.Content, "chunk %d", i)
		assert.GreaterOrEqual(t, chunk.StartPos, 0, "chunk %d", i)
		if i > 0 {
			assert.GreaterOrEqual(t, chunk.StartPos, chunks[i-1].StartPos, "chunk %d", i)
		}
	}
}

func TestDocumentChunker_RecursiveChunking_OverlapCarriesContextAcrossChunks(t *testing.T) {
	config := ChunkingConfig{
		Strategy:     ChunkingRecursive,
		ChunkSize:    8,
		ChunkOverlap: 4,
		MinChunkSize: 1,
	}
	chunker := NewDocumentChunker(config, &SimpleTokenizer{}, zap.NewNop())

	doc := Document{
		ID:      "preferences.md",
		Content: "First paragraph about the user's editor setup.\n\nSecond paragraph about their deployment pipeline.",
	}

	chunks := chunker.ChunkDocument(doc)
	require.Greater(t, len(chunks), 1)
	assert.Less(t, chunks[1].StartPos, chunks[0].EndPos)
}

func TestDocumentChunker_DocumentAwareChunking_PreservesCodeBlock(t *testing.T) {
	config := ChunkingConfig{
		Strategy:           ChunkingDocument,
		ChunkSize:          50,
		ChunkOverlap:       10,
		MinChunkSize:       2,
		PreserveTables:     true,
		PreserveCodeBlocks: true,
		PreserveHeaders:    true,
	}
	chunker := NewDocumentChunker(config, &SimpleTokenizer{}, zap.NewNop())

	doc := Document{
		ID: "runbook.md",
		Content: `# Deploy steps

Run the migration before restarting the service.

` + "```bash\nkubectl rollout restart deployment/gateway\n```" + `

Then watch the logs for errors.`,
	}

	chunks := chunker.ChunkDocument(doc)
	require.NotEmpty(t, chunks)

	var sawCodeBlock bool
	for _, chunk := range chunks {
		if chunk.Metadata["type"] == "code" {
			sawCodeBlock = true
			assert.Contains(t, chunk.Content, "kubectl rollout restart")
		}
	}
	assert.True(t, sawCodeBlock, "expected the fenced code block to survive as its own chunk")
}

func TestDocumentChunker_SemanticChunking_SplitsOnTopicShift(t *testing.T) {
	config := ChunkingConfig{
		Strategy:            ChunkingSemantic,
		ChunkSize:           100,
		MinChunkSize:        1,
		SimilarityThreshold: 0.8,
	}
	chunker := NewDocumentChunker(config, &SimpleTokenizer{}, zap.NewNop())

	doc := Document{
		ID:      "mixed-topics.md",
		Content: "The user likes Go and writes a lot of concurrent code. They also enjoy baking sourdough bread on weekends.",
	}

	chunks := chunker.ChunkDocument(doc)
	assert.Len(t, chunks, 2)
}

func TestDocumentChunker_EmptyDocument_ProducesNoChunks(t *testing.T) {
	chunker := NewDocumentChunker(DefaultChunkingConfig(), &SimpleTokenizer{}, zap.NewNop())

	chunks := chunker.ChunkDocument(Document{ID: "empty", Content: ""})
	assert.Empty(t, chunks)
}

func TestDocumentChunker_SmallDocument_FitsInOneChunk(t *testing.T) {
	config := ChunkingConfig{
		Strategy:     ChunkingRecursive,
		ChunkSize:    1000,
		ChunkOverlap: 200,
		MinChunkSize: 1,
	}
	chunker := NewDocumentChunker(config, &SimpleTokenizer{}, zap.NewNop())

	doc := Document{ID: "short", Content: "The user's timezone is America/New_York."}

	chunks := chunker.ChunkDocument(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, doc.Content, chunks[0].Content)
}

func BenchmarkDocumentChunker_RecursiveChunking(b *testing.B) {
	chunker := NewDocumentChunker(DefaultChunkingConfig(), &SimpleTokenizer{}, zap.NewNop())

	content := ""
	for i := 0; i < 100; i++ {
		content += "This is a fact captured from a conversation, repeated for bulk. "
	}
	doc := Document{ID: "benchmark-doc", Content: content}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		chunker.ChunkDocument(doc)
	}
}

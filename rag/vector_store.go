package rag

// Document is one chunk or whole file produced by a loader or chunker: its
// text, its embedding once computed, and whatever metadata its loader
// attached (source path, content type, and so on). Chunking, context
// generation, and the ingest tool all pass Document around; the embedding
// itself ends up in the long-term memory system's HNSW index, not here.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float64      `json:"embedding,omitempty"`
}

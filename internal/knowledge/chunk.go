package knowledge

import "context"

// Chunk is one indexed unit of a knowledge source. Chunks are produced by
// an external ingestion pipeline and are read-only here.
type Chunk struct {
	ID        string            `json:"id"`
	SourceID  string            `json:"source_id"`
	Content   string            `json:"content"`
	Embedding []float64         `json:"embedding,omitempty"`
	Ordinal   int               `json:"ordinal"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ScoredChunk is a chunk plus the score assigned by one sub-query.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// Store exposes the two sub-query capabilities the retrieval service
// combines. Implementations must be safe for concurrent readers.
type Store interface {
	VectorSearch(ctx context.Context, embedding []float64, sourceIDs []string, limit int) ([]ScoredChunk, error)
	KeywordSearch(ctx context.Context, terms []string, sourceIDs []string, limit int) ([]ScoredChunk, error)
	Close() error
}

// Embedder turns query text into an embedding comparable with chunk
// embeddings from the same ingestion pipeline.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimension() int
}

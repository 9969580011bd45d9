package domain

import "time"

// Document is a knowledge base source text.
type Document struct {
	ID          string
	Title       string
	Filename    string
	FileType    string
	Content     string
	TotalChunks int
	CreatedAt   time.Time
}

// Chunk is a bounded slice of a document used for retrieval. StartPos and
// EndPos are rune offsets into Document.Content, EndPos exclusive.
type Chunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	StartPos   int
	EndPos     int
}

// VectorEntry is the embedding of exactly one chunk.
type VectorEntry struct {
	ChunkID   string
	Embedding []float32
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

package vectorstore

import (
	"context"

	"autosurvey/internal/domain"
)

// Entry is one chunk with its embedding and the title of its document,
// which is snapshotted into retrieval references.
type Entry struct {
	Chunk         domain.Chunk
	DocumentTitle string
	Embedding     []float32
}

// SearchParams restricts and truncates a similarity search. An empty
// DocumentIDs searches every document.
type SearchParams struct {
	TopK           int
	ScoreThreshold float64
	DocumentIDs    []string
}

// Result is a scored search hit.
type Result struct {
	Chunk         domain.Chunk
	DocumentTitle string
	Score         float64
}

// Storage persists vectors and supports similarity search.
type Storage interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, vector []float32, p SearchParams) ([]Result, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Clear(ctx context.Context) error
}

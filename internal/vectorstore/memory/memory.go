package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"autosurvey/internal/vectorstore"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
// Entries are kept in insertion order and replaced in place on re-upsert.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   []vectorstore.Entry
	byChunk   map[string]int
}

func NewStorage() *Storage { return &Storage{byChunk: make(map[string]int)} }

// Init sets the vector dimension. A different dimension drops every entry
// since old vectors are not comparable with new ones.
func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != dimension {
		s.entries = nil
		s.byChunk = make(map[string]int)
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(_ context.Context, entries []vectorstore.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if s.dimension == 0 {
			s.dimension = len(e.Embedding)
		}
		if len(e.Embedding) != s.dimension {
			return fmt.Errorf("vector dimension mismatch: want %d got %d", s.dimension, len(e.Embedding))
		}
	}
	for _, e := range entries {
		if i, ok := s.byChunk[e.Chunk.ID]; ok {
			s.entries[i] = e
			continue
		}
		s.byChunk[e.Chunk.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, p vectorstore.SearchParams) ([]vectorstore.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keep := vectorstore.DocumentFilter(p.DocumentIDs)
	results := make([]vectorstore.Result, 0, len(s.entries))
	for _, e := range s.entries {
		if !keep(e.Chunk.DocumentID) {
			continue
		}
		results = append(results, vectorstore.Result{
			Chunk:         e.Chunk,
			DocumentTitle: e.DocumentTitle,
			Score:         vectorstore.Cosine(e.Embedding, vector),
		})
	}
	return vectorstore.Rank(results, p), nil
}

func (s *Storage) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Chunk.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	// zero the tail so dropped vectors can be collected
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = vectorstore.Entry{}
	}
	s.entries = kept
	s.byChunk = make(map[string]int, len(kept))
	for i, e := range kept {
		s.byChunk[e.Chunk.ID] = i
	}
	return nil
}

func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.byChunk = make(map[string]int)
	return nil
}

// Len returns the number of stored vectors.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

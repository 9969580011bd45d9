package memory

import (
	"context"
	"fmt"
	"testing"

	"autosurvey/internal/domain"
	"autosurvey/internal/vectorstore"
)

func entry(doc string, idx int, vec ...float32) vectorstore.Entry {
	return vectorstore.Entry{
		Chunk:         domain.Chunk{ID: fmt.Sprintf("%s:%d", doc, idx), DocumentID: doc, ChunkIndex: idx, Content: doc},
		DocumentTitle: "title " + doc,
		Embedding:     vec,
	}
}

func TestSearchThresholdTopKAndTies(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()
	// cosine with query (1,0): 0.9, 0.5, 0.5, 0.2
	err := s.Upsert(ctx, []vectorstore.Entry{
		entry("a", 0, 0.9, 0.43588989),
		entry("a", 1, 0.5, 0.8660254),
		entry("a", 2, 0.5, 0.8660254),
		entry("a", 3, 0.2, 0.9797959),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	out, err := s.Search(ctx, []float32{1, 0}, vectorstore.SearchParams{TopK: 2, ScoreThreshold: 0.4})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len: want=2 got=%d", len(out))
	}
	if out[0].Chunk.ChunkIndex != 0 || out[1].Chunk.ChunkIndex != 1 {
		t.Fatalf("order: got=%d,%d", out[0].Chunk.ChunkIndex, out[1].Chunk.ChunkIndex)
	}
	if out[0].DocumentTitle != "title a" {
		t.Fatalf("title: got=%q", out[0].DocumentTitle)
	}
}

func TestSearchRestrictsToDocuments(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()
	_ = s.Upsert(ctx, []vectorstore.Entry{entry("a", 0, 1, 0), entry("b", 0, 1, 0)})
	out, _ := s.Search(ctx, []float32{1, 0}, vectorstore.SearchParams{DocumentIDs: []string{"b"}})
	if len(out) != 1 || out[0].Chunk.DocumentID != "b" {
		t.Fatalf("restricted search: %+v", out)
	}
	all, _ := s.Search(ctx, []float32{1, 0}, vectorstore.SearchParams{})
	if len(all) != 2 {
		t.Fatalf("unrestricted search: want=2 got=%d", len(all))
	}
}

func TestUpsertReplacesAndDeleteCascades(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()
	_ = s.Upsert(ctx, []vectorstore.Entry{entry("a", 0, 1, 0), entry("b", 0, 0, 1)})
	_ = s.Upsert(ctx, []vectorstore.Entry{entry("a", 0, 0, 1)})
	if s.Len() != 2 {
		t.Fatalf("len after replace: want=2 got=%d", s.Len())
	}
	if err := s.DeleteDocument(ctx, "a"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	out, _ := s.Search(ctx, []float32{0, 1}, vectorstore.SearchParams{})
	if len(out) != 1 || out[0].Chunk.DocumentID != "b" {
		t.Fatalf("after delete: %+v", out)
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()
	if err := s.Init(ctx, 2); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Upsert(ctx, []vectorstore.Entry{entry("a", 0, 1, 0, 0)}); err == nil {
		t.Fatalf("expected dimension error")
	}
}

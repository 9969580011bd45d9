package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"autosurvey/internal/domain"
	"autosurvey/internal/vectorstore"
)

func TestSearchSendsFilterAndRanksTies(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/c/points/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.5,"payload":{"chunk_id":"d:3","document_id":"d","chunk_index":3,"text":"three"}},
			{"score":0.5,"payload":{"chunk_id":"d:1","document_id":"d","chunk_index":1,"text":"one","document_title":"Doc"}}
		]}`))
	}))
	defer srv.Close()

	s := NewStorage(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "c"})
	out, err := s.Search(context.Background(), []float32{1, 0}, vectorstore.SearchParams{TopK: 2, ScoreThreshold: 0.4, DocumentIDs: []string{"d"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 2 || out[0].Chunk.ChunkIndex != 1 || out[0].DocumentTitle != "Doc" {
		t.Fatalf("unexpected results: %+v", out)
	}
	if got["score_threshold"].(float64) != 0.4 {
		t.Fatalf("score_threshold: got=%v", got["score_threshold"])
	}
	if _, ok := got["filter"]; !ok {
		t.Fatalf("expected document filter in request")
	}
}

func TestInitToleratesExistingCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()
	s := NewStorage(Config{URL: srv.URL, Collection: "c"})
	if err := s.Init(context.Background(), 3); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func TestUpsertUsesStablePointIDs(t *testing.T) {
	var body struct {
		Points []struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()
	s := NewStorage(Config{URL: srv.URL, Collection: "c"})
	err := s.Upsert(context.Background(), []vectorstore.Entry{{
		Chunk:     domain.Chunk{ID: "doc:0", DocumentID: "doc"},
		Embedding: []float32{1, 2},
	}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(body.Points) != 1 || body.Points[0].ID != PointID("doc:0") {
		t.Fatalf("point id: got=%+v", body.Points)
	}
	if PointID("doc:0") == PointID("doc:1") {
		t.Fatalf("point ids must differ per chunk")
	}
}

func TestErrorStatusIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	s := NewStorage(Config{URL: srv.URL, Collection: "c"})
	if err := s.DeleteDocument(context.Background(), "d"); err == nil {
		t.Fatalf("expected error")
	}
}

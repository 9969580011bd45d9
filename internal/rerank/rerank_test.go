package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRerankParsesScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("path: got=%s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["top_n"].(float64) != 2 {
			t.Errorf("top_n: got=%v", body["top_n"])
		}
		_, _ = w.Write([]byte(`{"results":[{"index":2,"relevance_score":0.8},{"index":0,"score":0.3}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Model: "m"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	scores, err := c.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 2)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(scores) != 2 || scores[0].Index != 2 || scores[0].Score != 0.8 || scores[1].Score != 0.3 {
		t.Fatalf("unexpected scores: %+v", scores)
	}
}

func TestRerankRejectsOutOfRangeIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":7,"relevance_score":0.8}]}`))
	}))
	defer srv.Close()
	c, _ := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.Rerank(context.Background(), "q", []string{"a"}, 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

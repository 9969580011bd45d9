package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestEmbedBatchSplitsIntoProviderBatches(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing auth header")
		}
		var body struct {
			Input any `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var inputs []any
		switch v := body.Input.(type) {
		case []any:
			inputs = v
		default:
			inputs = []any{v}
		}
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		out := struct {
			Data []item `json:"data"`
		}{}
		for i, in := range inputs {
			out.Data = append(out.Data, item{Index: i, Embedding: []float32{float32(len(in.(string))), 1}})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", BatchSize: 2}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got := requests.Load(); got != 3 {
		t.Fatalf("requests: want=3 got=%d", got)
	}
	for i, v := range vecs {
		if int(v[0]) != i+1 {
			t.Fatalf("order at %d: got=%v", i, v)
		}
	}
	if c.Dimension() != 2 {
		t.Fatalf("dimension: want=2 got=%d", c.Dimension())
	}
}

func TestEmbedRetriesOnTooManyRequests(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"embedding":[0.5,0.5]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", MaxRetries: 2}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	v, err := c.Embed(context.Background(), "q")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 2 || requests.Load() != 2 {
		t.Fatalf("unexpected result vec=%v requests=%d", v, requests.Load())
	}
}

func TestEmbedFailsFastOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "k", MaxRetries: 3}, nil)
	if _, err := c.Embed(context.Background(), "q"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("AUTOSURVEY_TEST_EMPTY_KEY", "")
	if _, err := NewClient(Config{APIKeyEnv: "AUTOSURVEY_TEST_EMPTY_KEY"}, nil); err == nil {
		t.Fatalf("expected missing key error")
	}
}

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCompleteSendsMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path: got=%s", r.URL.Path)
		}
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Model != "m" {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"answer\":1}"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	out, err := c.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"answer":1}` {
		t.Fatalf("content: got=%q", out)
	}
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()
	c, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m", MaxRetries: 1}, nil)
	out, err := c.Complete(context.Background(), "", "u")
	if err != nil || out != "ok" || calls.Load() != 2 {
		t.Fatalf("want retry success, got out=%q err=%v calls=%d", out, err, calls.Load())
	}
}

func TestCompleteTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	c, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m", Timeout: 50 * time.Millisecond}, nil)
	if _, err := c.Complete(context.Background(), "", "u"); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "k"}, nil); err == nil {
		t.Fatalf("expected missing model error")
	}
	if _, err := NewClient(Config{APIKey: "k", Model: "m", Temperature: 3}, nil); err == nil {
		t.Fatalf("expected temperature error")
	}
}

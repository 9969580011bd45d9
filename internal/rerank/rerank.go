package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Score is the relevance of documents[Index] to the query.
type Score struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Reranker reorders candidate passages by a finer relevance model.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]Score, error)
}

// Client talks to a Cohere/Jina-compatible /rerank endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rerank base_url is required")
	}
	t := cfg.Timeout
	if t == 0 {
		t = 20 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: t}
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  key,
		model:   cfg.Model,
		client:  hc,
	}, nil
}

func (c *Client) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Score, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}
	body := map[string]any{
		"model":     c.model,
		"query":     query,
		"documents": documents,
		"top_n":     topK,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank failed: %s", resp.Status)
	}
	var out struct {
		Results []struct {
			Index          int      `json:"index"`
			RelevanceScore *float64 `json:"relevance_score"`
			Score          *float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	scores := make([]Score, 0, len(out.Results))
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank returned index %d for %d documents", r.Index, len(documents))
		}
		var v float64
		switch {
		case r.RelevanceScore != nil:
			v = *r.RelevanceScore
		case r.Score != nil:
			v = *r.Score
		}
		scores = append(scores, Score{Index: r.Index, Score: v})
	}
	return scores, nil
}

package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"autosurvey/internal/domain"
	"autosurvey/internal/vectorstore"
)

// pointNamespace derives stable point UUIDs from chunk IDs, since Qdrant only
// accepts unsigned integers or UUIDs as point IDs.
var pointNamespace = uuid.MustParse("6f1d3c2a-7b54-4e0c-9a51-3f0f2d8c7e11")

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "autosurvey_chunks"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     hc,
	}
}

// PointID maps a chunk ID to its Qdrant point ID.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	// Create collection if not exists
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusConflict {
		return nil
	}
	return err
}

func (s *Storage) Upsert(ctx context.Context, entries []vectorstore.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		if s.dimension > 0 && len(e.Embedding) != s.dimension {
			return fmt.Errorf("vector dimension mismatch: want %d got %d", s.dimension, len(e.Embedding))
		}
		points[i] = map[string]any{
			"id":     PointID(e.Chunk.ID),
			"vector": e.Embedding,
			"payload": map[string]any{
				"chunk_id":       e.Chunk.ID,
				"document_id":    e.Chunk.DocumentID,
				"document_title": e.DocumentTitle,
				"chunk_index":    e.Chunk.ChunkIndex,
				"start_pos":      e.Chunk.StartPos,
				"end_pos":        e.Chunk.EndPos,
				"text":           e.Chunk.Content,
			},
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

func (s *Storage) Search(ctx context.Context, vector []float32, p vectorstore.SearchParams) ([]vectorstore.Result, error) {
	limit := p.TopK
	if limit <= 0 {
		limit = 5
	}
	req := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": p.ScoreThreshold,
	}
	if f := documentFilter(p.DocumentIDs); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload payload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]vectorstore.Result, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, vectorstore.Result{
			Chunk:         r.Payload.chunk(),
			DocumentTitle: r.Payload.DocumentTitle,
			Score:         r.Score,
		})
	}
	// Qdrant does not promise an order for equal scores.
	return vectorstore.Rank(results, p), nil
}

func (s *Storage) DeleteDocument(ctx context.Context, documentID string) error {
	body := map[string]any{"filter": documentFilter([]string{documentID})}
	return s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
}

// Clear drops the collection. The next Init recreates it.
func (s *Storage) Clear(ctx context.Context) error {
	err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return nil
	}
	return err
}

type payload struct {
	ChunkID       string `json:"chunk_id"`
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
	ChunkIndex    int    `json:"chunk_index"`
	StartPos      int    `json:"start_pos"`
	EndPos        int    `json:"end_pos"`
	Text          string `json:"text"`
}

func (p payload) chunk() domain.Chunk {
	return domain.Chunk{
		ID:         p.ChunkID,
		DocumentID: p.DocumentID,
		ChunkIndex: p.ChunkIndex,
		Content:    p.Text,
		StartPos:   p.StartPos,
		EndPos:     p.EndPos,
	}
}

func documentFilter(ids []string) map[string]any {
	if len(ids) == 0 {
		return nil
	}
	return map[string]any{
		"must": []any{
			map[string]any{
				"key":   "document_id",
				"match": map[string]any{"any": ids},
			},
		},
	}
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

type statusError struct {
	method string
	url    string
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s", e.method, e.url, e.status)
}

func (s *Storage) do(ctx context.Context, method, url string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{method: method, url: url, code: resp.StatusCode, status: resp.Status}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

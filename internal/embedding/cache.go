package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"sync"
	"sync/atomic"

	"autosurvey/internal/logger"
)

// Cache stores embeddings by content key. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// CachedEmbedder serves repeated texts from a Cache and only sends misses to
// the wrapped embedder, preserving input order in batch calls.
type CachedEmbedder struct {
	inner      Embedder
	cache      Cache
	log        *logger.Logger
	generation atomic.Int64
}

func NewCachedEmbedder(inner Embedder, cache Cache, log *logger.Logger) *CachedEmbedder {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedEmbedder{inner: inner, cache: cache, log: log}
}

func (c *CachedEmbedder) Name() string   { return c.inner.Name() }
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Prepare forwards to the wrapped embedder and invalidates cached vectors,
// since a new corpus defines a new vector space.
func (c *CachedEmbedder) Prepare(corpus []string) error {
	p, ok := c.inner.(Preparer)
	if !ok {
		return nil
	}
	if err := p.Prepare(corpus); err != nil {
		return err
	}
	c.generation.Add(1)
	return nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		vec, ok, err := c.cache.Get(ctx, c.key(text))
		if err != nil {
			c.log.Warn("embedding cache read failed", "error", err)
		}
		if ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.cache.Set(ctx, c.key(missTexts[j]), vecs[j]); err != nil {
			c.log.Warn("embedding cache write failed", "error", err)
		}
	}
	return out, nil
}

func (c *CachedEmbedder) key(text string) string {
	h := sha1.New()
	h.Write([]byte(c.inner.Name()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(c.generation.Load(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is a bounded in-process Cache evicting oldest entries first.
type MemoryCache struct {
	mu      sync.RWMutex
	max     int
	entries map[string][]float32
	order   []string
}

func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryCache{max: maxEntries, entries: make(map[string][]float32)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		m.entries[key] = vec
		return nil
	}
	for len(m.order) >= m.max {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.entries, oldest)
	}
	m.entries[key] = vec
	m.order = append(m.order, key)
	return nil
}

func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

package embedding

import (
	"context"
	"testing"
)

type countingEmbedder struct {
	calls    int
	texts    []string
	prepared int
}

func (c *countingEmbedder) Name() string   { return "counting" }
func (c *countingEmbedder) Dimension() int { return 2 }

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts = append(c.texts, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(c.prepared)}
	}
	return out, nil
}

type preparingEmbedder struct{ countingEmbedder }

func (p *preparingEmbedder) Prepare([]string) error {
	p.prepared++
	return nil
}

func TestCachedEmbedderOnlySendsMisses(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, NewMemoryCache(10), nil)
	ctx := context.Background()

	if _, err := cached.EmbedBatch(ctx, []string{"a", "bb"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	out, err := cached.EmbedBatch(ctx, []string{"bb", "ccc", "a"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls: want=2 got=%d", inner.calls)
	}
	if len(inner.texts) != 3 || inner.texts[2] != "ccc" {
		t.Fatalf("inner saw: %v", inner.texts)
	}
	want := []float32{2, 3, 1}
	for i, v := range out {
		if v[0] != want[i] {
			t.Fatalf("order at %d: want=%v got=%v", i, want[i], v[0])
		}
	}
}

func TestCachedEmbedderPrepareInvalidates(t *testing.T) {
	inner := &preparingEmbedder{}
	cached := NewCachedEmbedder(inner, NewMemoryCache(10), nil)
	ctx := context.Background()
	if !NeedsCorpus(cached) {
		t.Fatalf("cached preparer should need corpus")
	}
	if _, err := cached.Embed(ctx, "x"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if err := cached.Prepare([]string{"x"}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	v, err := cached.Embed(ctx, "x")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.calls != 2 || v[1] != 1 {
		t.Fatalf("expected re-embed after prepare: calls=%d vec=%v", inner.calls, v)
	}
}

func TestNeedsCorpusPlainEmbedder(t *testing.T) {
	if NeedsCorpus(NewCachedEmbedder(&countingEmbedder{}, NewMemoryCache(1), nil)) {
		t.Fatalf("plain embedder should not need corpus")
	}
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()
	_ = c.Set(ctx, "a", []float32{1})
	_ = c.Set(ctx, "b", []float32{2})
	_ = c.Set(ctx, "c", []float32{3})
	if c.Len() != 2 {
		t.Fatalf("len: want=2 got=%d", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Fatalf("oldest entry should be evicted")
	}
	if v, ok, _ := c.Get(ctx, "c"); !ok || v[0] != 3 {
		t.Fatalf("newest entry missing")
	}
}

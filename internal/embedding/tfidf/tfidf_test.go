package tfidf

import (
	"context"
	"math"
	"testing"
)

func TestEmbedRequiresPrepare(t *testing.T) {
	if _, err := NewEmbedder().Embed(context.Background(), "x"); err == nil {
		t.Fatalf("expected error before Prepare")
	}
}

func TestEmbedIsNormalizedAndSimilar(t *testing.T) {
	e := NewEmbedder()
	corpus := []string{
		"Go channels coordinate goroutines",
		"Redis caches embedding vectors",
		"问卷调查自动填写",
	}
	if err := e.Prepare(corpus); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	vecs, err := e.EmbedBatch(context.Background(), corpus)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range vecs {
		if len(v) != e.Dimension() {
			t.Fatalf("dimension: want=%d got=%d", e.Dimension(), len(v))
		}
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		if math.Abs(norm-1) > 1e-4 {
			t.Fatalf("vector %d not normalized: %v", i, norm)
		}
	}
	q, _ := e.Embed(context.Background(), "自动填写问卷")
	best, bestScore := -1, -1.0
	for i, v := range vecs {
		var s float64
		for j := range v {
			s += float64(v[j]) * float64(q[j])
		}
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	if best != 2 {
		t.Fatalf("nearest document: want=2 got=%d", best)
	}
}

func TestUnknownTokensGiveZeroVector(t *testing.T) {
	e := NewEmbedder()
	_ = e.Prepare([]string{"alpha beta"})
	v, err := e.Embed(context.Background(), "gamma")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector, got %v", v)
		}
	}
}

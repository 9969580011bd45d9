package vectorstore

import (
	"math"
	"testing"

	"autosurvey/internal/domain"
)

func result(idx int, score float64) Result {
	return Result{Chunk: domain.Chunk{DocumentID: "d", ChunkIndex: idx}, Score: score}
}

func TestRankThresholdBeforeTopK(t *testing.T) {
	in := []Result{result(0, 0.9), result(1, 0.5), result(2, 0.5), result(3, 0.2)}
	out := Rank(in, SearchParams{TopK: 2, ScoreThreshold: 0.4})
	if len(out) != 2 {
		t.Fatalf("len: want=2 got=%d", len(out))
	}
	if out[0].Score != 0.9 || out[1].Score != 0.5 || out[1].Chunk.ChunkIndex != 1 {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestRankTieBreaksByChunkIndex(t *testing.T) {
	in := []Result{result(5, 0.7), result(2, 0.7), result(9, 0.8)}
	out := Rank(in, SearchParams{})
	want := []int{9, 2, 5}
	for i, r := range out {
		if r.Chunk.ChunkIndex != want[i] {
			t.Fatalf("position %d: want=%d got=%d", i, want[i], r.Chunk.ChunkIndex)
		}
	}
}

func TestRankDropsEverythingBelowThreshold(t *testing.T) {
	out := Rank([]Result{result(0, 0.1)}, SearchParams{TopK: 3, ScoreThreshold: 0.5})
	if len(out) != 0 {
		t.Fatalf("want empty, got %+v", out)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{2, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("parallel: want=1 got=%v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 3}); got != 0 {
		t.Fatalf("orthogonal: want=0 got=%v", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("zero vector: want=0 got=%v", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 1}); got != 0 {
		t.Fatalf("length mismatch: want=0 got=%v", got)
	}
}

package vectorstore

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Rank orders results by descending score with ties broken by ascending chunk
// index, drops scores below the threshold and then truncates to TopK.
// Equal (score, chunk index) pairs keep their input order.
func Rank(results []Result, p SearchParams) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ChunkIndex < results[j].Chunk.ChunkIndex
	})
	out := results[:0]
	for _, r := range results {
		if r.Score < p.ScoreThreshold {
			continue
		}
		out = append(out, r)
	}
	if p.TopK > 0 && len(out) > p.TopK {
		out = out[:p.TopK]
	}
	return out
}

// DocumentFilter returns a membership test for p.DocumentIDs. A nil filter
// accepts everything.
func DocumentFilter(ids []string) func(string) bool {
	if len(ids) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(id string) bool {
		_, ok := set[id]
		return ok
	}
}

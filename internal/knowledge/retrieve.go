package knowledge

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"autosurvey/internal/domain"
	"autosurvey/internal/vectorstore"
)

// RetrieveParams are the per-call retrieval settings.
type RetrieveParams struct {
	TopK           int
	ScoreThreshold float64
	DocumentIDs    []string
	UseRerank      bool
}

// Retrieve returns up to TopK references for query. When the embedder or
// reranker fails the result is degraded rather than failed: the returned
// error wraps domain.ErrRetrievalDegraded and the references (possibly
// empty) are still usable.
func (kb *KnowledgeBase) Retrieve(ctx context.Context, query string, p RetrieveParams) ([]domain.Reference, error) {
	start := time.Now()
	defer func() { kb.metrics.Retrieval(time.Since(start)) }()

	if p.TopK <= 0 {
		p.TopK = 5
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vec, err := kb.embedder.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		kb.metrics.RetrievalDegraded("embedding")
		kb.log.Warn("query embedding failed, answering without context", "error", err)
		return []domain.Reference{}, fmt.Errorf("%w: embed query: %v", domain.ErrRetrievalDegraded, err)
	}
	// Detect zero vector (no known tokens)
	if vectorstore.IsZero(vec) {
		return kb.lexicalSearch(query, p), nil
	}

	rerank := p.UseRerank && kb.reranker != nil
	sp := vectorstore.SearchParams{TopK: p.TopK, ScoreThreshold: p.ScoreThreshold, DocumentIDs: p.DocumentIDs}
	if rerank {
		sp.TopK = p.TopK * kb.opts.RerankOversample
	}
	kb.mu.RLock()
	res, err := kb.index.Search(ctx, vec, sp)
	kb.mu.RUnlock()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		kb.metrics.RetrievalDegraded("search")
		kb.log.Warn("vector search failed, answering without context", "error", err)
		return []domain.Reference{}, fmt.Errorf("%w: search: %v", domain.ErrRetrievalDegraded, err)
	}
	allZero := len(res) > 0
	for _, r := range res {
		if r.Score > 1e-9 {
			allZero = false
			break
		}
	}
	if allZero {
		return kb.lexicalSearch(query, p), nil
	}

	refs := make([]domain.Reference, len(res))
	for i, r := range res {
		refs[i] = reference(r.Chunk, r.DocumentTitle, r.Score)
	}
	if !rerank || len(refs) == 0 {
		return truncate(refs, p.TopK), nil
	}
	reranked, err := kb.rerank(ctx, query, refs, p.TopK)
	if err != nil {
		kb.metrics.RetrievalDegraded("rerank")
		kb.log.Warn("rerank failed, using similarity order", "error", err)
		return truncate(refs, p.TopK), fmt.Errorf("%w: rerank: %v", domain.ErrRetrievalDegraded, err)
	}
	return reranked, nil
}

// rerank reorders candidates by reranker score, ties keeping similarity
// order. Candidates the reranker did not score follow in similarity order.
func (kb *KnowledgeBase) rerank(ctx context.Context, query string, refs []domain.Reference, topK int) ([]domain.Reference, error) {
	docs := make([]string, len(refs))
	for i, r := range refs {
		docs[i] = r.Content
	}
	scores, err := kb.reranker.Rerank(ctx, query, docs, topK)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Index < scores[j].Index
	})
	used := make(map[int]bool, len(scores))
	out := make([]domain.Reference, 0, topK)
	for _, s := range scores {
		if used[s.Index] || len(out) == topK {
			continue
		}
		used[s.Index] = true
		ref := refs[s.Index]
		ref.RerankScore = domain.Float(s.Score)
		out = append(out, ref)
	}
	for i := 0; i < len(refs) && len(out) < topK; i++ {
		if !used[i] {
			out = append(out, refs[i])
		}
	}
	return out, nil
}

var unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// lexicalSearch ranks stored chunks by token overlap with the query. It
// serves queries whose embedding carries no signal.
func (kb *KnowledgeBase) lexicalSearch(query string, p RetrieveParams) []domain.Reference {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	qset := toTokenSet(query)
	keep := vectorstore.DocumentFilter(p.DocumentIDs)
	results := make([]vectorstore.Result, 0, len(kb.chunks))
	for _, c := range kb.chunks {
		if !keep(c.Chunk.DocumentID) {
			continue
		}
		score := overlapOchiai(qset, c.Chunk.Content)
		if score <= 0 {
			continue
		}
		results = append(results, vectorstore.Result{Chunk: c.Chunk, DocumentTitle: c.DocumentTitle, Score: score})
	}
	ranked := vectorstore.Rank(results, vectorstore.SearchParams{TopK: p.TopK})
	refs := make([]domain.Reference, len(ranked))
	for i, r := range ranked {
		refs[i] = reference(r.Chunk, r.DocumentTitle, r.Score)
	}
	return refs
}

func reference(c domain.Chunk, title string, score float64) domain.Reference {
	return domain.Reference{
		DocumentID:    c.DocumentID,
		DocumentTitle: title,
		ChunkIndex:    c.ChunkIndex,
		Content:       c.Content,
		Similarity:    score,
	}
}

func truncate(refs []domain.Reference, topK int) []domain.Reference {
	if len(refs) > topK {
		return refs[:topK]
	}
	return refs
}

func toTokenSet(s string) map[string]struct{} {
	tokens := tokens(s)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// tokens splits text into lowercase words, with Han runs split into single
// characters so Chinese text can overlap at all.
func tokens(s string) []string {
	var out []string
	for _, w := range unicodeWordRe.FindAllString(strings.ToLower(s), -1) {
		han := false
		for _, r := range w {
			if r >= 0x4e00 && r <= 0x9fff {
				han = true
				break
			}
		}
		if !han {
			out = append(out, w)
			continue
		}
		for _, r := range w {
			out = append(out, string(r))
		}
	}
	return out
}

func overlapOchiai(qset map[string]struct{}, text string) float64 {
	stoks := tokens(text)
	seen := make(map[string]struct{}, len(stoks))
	inter := 0
	for _, t := range stoks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	if len(qset) == 0 || len(seen) == 0 {
		return 0
	}
	// Ochiai coefficient: |A∩B| / sqrt(|A||B|)
	return float64(inter) / (math.Sqrt(float64(len(qset))) * math.Sqrt(float64(len(seen))))
}

package embedding

import "context"

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Preparer is implemented by embedders whose vector space is derived from the
// corpus. Every stored vector must be recomputed after Prepare.
type Preparer interface {
	Prepare(corpus []string) error
}

// NeedsCorpus reports whether e must see the whole corpus before embedding.
func NeedsCorpus(e Embedder) bool {
	if c, ok := e.(*CachedEmbedder); ok {
		e = c.inner
	}
	_, ok := e.(Preparer)
	return ok
}

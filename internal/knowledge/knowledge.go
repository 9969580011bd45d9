package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"autosurvey/internal/domain"
	"autosurvey/internal/embedding"
	"autosurvey/internal/logger"
	"autosurvey/internal/metrics"
	"autosurvey/internal/rerank"
	"autosurvey/internal/store"
	"autosurvey/internal/vectorstore"
)

// Store is the persistence the knowledge base needs.
type Store interface {
	CreateDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk, vectors []domain.VectorEntry, embedder string) error
	ReplaceVectors(ctx context.Context, chunks []domain.Chunk, vectors []domain.VectorEntry, embedder string) error
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
	IndexedChunks(ctx context.Context) ([]store.IndexedChunk, error)
	DeleteDocument(ctx context.Context, id string) error
}

type Options struct {
	// EmbedBatchSize is the number of chunks per embedding call.
	EmbedBatchSize int
	// EmbedConcurrency bounds in-flight embedding calls during ingestion.
	EmbedConcurrency int
	// RerankOversample multiplies TopK to size the rerank candidate pool.
	RerankOversample int
}

// KnowledgeBase ingests documents and answers retrieval queries over them.
type KnowledgeBase struct {
	chunker  domain.Chunker
	embedder embedding.Embedder
	index    vectorstore.Storage
	store    Store
	reranker rerank.Reranker
	log      *logger.Logger
	metrics  *metrics.Metrics
	opts     Options

	// mu serializes writers and guards chunks, the lexical fallback corpus.
	mu     sync.RWMutex
	chunks []store.IndexedChunk
}

func New(chunker domain.Chunker, embedder embedding.Embedder, index vectorstore.Storage, st Store, reranker rerank.Reranker, log *logger.Logger, m *metrics.Metrics, opts Options) *KnowledgeBase {
	if log == nil {
		log = logger.Nop()
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 10
	}
	if opts.EmbedConcurrency <= 0 {
		opts.EmbedConcurrency = 4
	}
	if opts.RerankOversample <= 0 {
		opts.RerankOversample = 3
	}
	return &KnowledgeBase{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		store:    st,
		reranker: reranker,
		log:      log,
		metrics:  m,
		opts:     opts,
	}
}

// NewDocument is the input of AddDocument.
type NewDocument struct {
	Title    string
	Filename string
	FileType string
	Content  string
}

// Load fills the vector index from the store. Chunks without a vector from
// the current embedder are embedded first. Corpus-derived embedders always
// rebuild every vector.
func (kb *KnowledgeBase) Load(ctx context.Context) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	all, err := kb.store.IndexedChunks(ctx)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	kb.chunks = all
	if len(all) == 0 {
		return nil
	}
	if embedding.NeedsCorpus(kb.embedder) {
		return kb.rebuildLocked(ctx)
	}
	var stale []int
	for i, c := range all {
		if c.Embedding == nil || c.Embedder != kb.embedder.Name() {
			stale = append(stale, i)
		}
	}
	if len(stale) > 0 {
		kb.log.Info("embedding stale chunks", "count", len(stale), "embedder", kb.embedder.Name())
		chunks := make([]domain.Chunk, len(stale))
		for j, i := range stale {
			chunks[j] = all[i].Chunk
		}
		vectors, err := kb.embedChunks(ctx, chunks)
		if err != nil {
			return err
		}
		if err := kb.store.ReplaceVectors(ctx, chunks, vectors, kb.embedder.Name()); err != nil {
			return err
		}
		for j, i := range stale {
			all[i].Embedding = vectors[j].Embedding
			all[i].Embedder = kb.embedder.Name()
		}
	}
	return kb.reindexLocked(ctx)
}

// AddDocument chunks, embeds, persists and indexes one document.
func (kb *KnowledgeBase) AddDocument(ctx context.Context, in NewDocument) (domain.Document, error) {
	if strings.TrimSpace(in.Content) == "" {
		return domain.Document{}, errors.New("document content is empty")
	}
	doc := domain.Document{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Filename:  in.Filename,
		FileType:  in.FileType,
		Content:   in.Content,
		CreatedAt: time.Now(),
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(in.Filename), filepath.Ext(in.Filename))
	}
	chunks, err := kb.chunker.Chunk(doc)
	if err != nil {
		return domain.Document{}, fmt.Errorf("chunk document: %w", err)
	}
	doc.TotalChunks = len(chunks)

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if embedding.NeedsCorpus(kb.embedder) {
		if err := kb.store.CreateDocument(ctx, doc, chunks, nil, kb.embedder.Name()); err != nil {
			return domain.Document{}, err
		}
		if err := kb.reloadLocked(ctx); err != nil {
			return domain.Document{}, kb.rollbackLocked(ctx, doc.ID, err)
		}
		if err := kb.rebuildLocked(ctx); err != nil {
			return domain.Document{}, kb.rollbackLocked(ctx, doc.ID, err)
		}
	} else {
		vectors, err := kb.embedChunks(ctx, chunks)
		if err != nil {
			return domain.Document{}, err
		}
		if err := kb.store.CreateDocument(ctx, doc, chunks, vectors, kb.embedder.Name()); err != nil {
			return domain.Document{}, err
		}
		entries := make([]vectorstore.Entry, len(chunks))
		indexed := make([]store.IndexedChunk, len(chunks))
		for i, c := range chunks {
			entries[i] = vectorstore.Entry{Chunk: c, DocumentTitle: doc.Title, Embedding: vectors[i].Embedding}
			indexed[i] = store.IndexedChunk{Chunk: c, DocumentTitle: doc.Title, Embedder: kb.embedder.Name(), Embedding: vectors[i].Embedding}
		}
		if len(entries) > 0 {
			if err := kb.index.Init(ctx, len(entries[0].Embedding)); err != nil {
				return domain.Document{}, kb.rollbackLocked(ctx, doc.ID, err)
			}
		}
		if err := kb.index.Upsert(ctx, entries); err != nil {
			return domain.Document{}, kb.rollbackLocked(ctx, doc.ID, err)
		}
		kb.chunks = append(kb.chunks, indexed...)
	}
	kb.metrics.DocumentIngested(len(chunks))
	kb.log.Info("document added", "document_id", doc.ID, "title", doc.Title, "chunks", len(chunks))
	return doc, nil
}

// IngestFiles adds every .txt or .md file matched by the given paths or
// globs. Each file becomes one document titled after its base name.
func (kb *KnowledgeBase) IngestFiles(ctx context.Context, paths []string) ([]domain.Document, error) {
	var files []string
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			switch strings.ToLower(filepath.Ext(m)) {
			case ".txt", ".md":
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		return nil, errors.New("no .txt or .md documents found")
	}
	var docs []domain.Document
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return docs, err
		}
		doc, err := kb.AddDocument(ctx, NewDocument{
			Filename: filepath.Base(f),
			FileType: strings.TrimPrefix(strings.ToLower(filepath.Ext(f)), "."),
			Content:  string(data),
		})
		if err != nil {
			return docs, fmt.Errorf("%s: %w", f, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// DeleteDocument removes a document, its chunks and its vectors.
func (kb *KnowledgeBase) DeleteDocument(ctx context.Context, id string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if err := kb.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if err := kb.index.DeleteDocument(ctx, id); err != nil {
		return err
	}
	kb.chunks = withoutDocument(kb.chunks, id)
	if embedding.NeedsCorpus(kb.embedder) && len(kb.chunks) > 0 {
		return kb.rebuildLocked(ctx)
	}
	kb.log.Info("document deleted", "document_id", id)
	return nil
}

func (kb *KnowledgeBase) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	return kb.store.ListDocuments(ctx)
}

func (kb *KnowledgeBase) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return kb.store.GetDocument(ctx, id)
}

func (kb *KnowledgeBase) Chunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	return kb.store.ListChunks(ctx, documentID)
}

// rollbackLocked removes a document whose indexing failed so the store,
// the lexical corpus and the vector index hold the same documents again.
// It returns cause.
func (kb *KnowledgeBase) rollbackLocked(ctx context.Context, id string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := kb.store.DeleteDocument(ctx, id); err != nil {
		kb.log.Error("rollback of failed document", "document_id", id, "error", err)
	}
	if err := kb.index.DeleteDocument(ctx, id); err != nil {
		kb.log.Warn("drop vectors of failed document", "document_id", id, "error", err)
	}
	kb.chunks = withoutDocument(kb.chunks, id)
	if embedding.NeedsCorpus(kb.embedder) && len(kb.chunks) > 0 {
		if err := kb.rebuildLocked(ctx); err != nil {
			kb.log.Error("rebuild after rollback", "error", err)
		}
	}
	return cause
}

func withoutDocument(chunks []store.IndexedChunk, id string) []store.IndexedChunk {
	kept := chunks[:0]
	for _, c := range chunks {
		if c.Chunk.DocumentID != id {
			kept = append(kept, c)
		}
	}
	return kept
}

func (kb *KnowledgeBase) reloadLocked(ctx context.Context) error {
	all, err := kb.store.IndexedChunks(ctx)
	if err != nil {
		return err
	}
	kb.chunks = all
	return nil
}

// rebuildLocked refits a corpus-derived embedder and re-embeds every chunk.
func (kb *KnowledgeBase) rebuildLocked(ctx context.Context) error {
	p, ok := kb.embedder.(embedding.Preparer)
	if !ok {
		return kb.reindexLocked(ctx)
	}
	corpus := make([]string, len(kb.chunks))
	chunks := make([]domain.Chunk, len(kb.chunks))
	for i, c := range kb.chunks {
		corpus[i] = c.Chunk.Content
		chunks[i] = c.Chunk
	}
	if err := p.Prepare(corpus); err != nil {
		return fmt.Errorf("prepare embedder: %w", err)
	}
	vectors, err := kb.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}
	if err := kb.store.ReplaceVectors(ctx, chunks, vectors, kb.embedder.Name()); err != nil {
		return err
	}
	for i := range kb.chunks {
		kb.chunks[i].Embedding = vectors[i].Embedding
		kb.chunks[i].Embedder = kb.embedder.Name()
	}
	kb.log.Debug("vector space rebuilt", "chunks", len(chunks), "dimension", kb.embedder.Dimension())
	return kb.reindexLocked(ctx)
}

func (kb *KnowledgeBase) reindexLocked(ctx context.Context) error {
	if err := kb.index.Clear(ctx); err != nil {
		return err
	}
	if len(kb.chunks) == 0 {
		return nil
	}
	if err := kb.index.Init(ctx, len(kb.chunks[0].Embedding)); err != nil {
		return err
	}
	entries := make([]vectorstore.Entry, 0, len(kb.chunks))
	for _, c := range kb.chunks {
		if c.Embedding == nil {
			continue
		}
		entries = append(entries, vectorstore.Entry{Chunk: c.Chunk, DocumentTitle: c.DocumentTitle, Embedding: c.Embedding})
	}
	return kb.index.Upsert(ctx, entries)
}

// embedChunks embeds chunk texts in batches, running up to
// EmbedConcurrency batches at once.
func (kb *KnowledgeBase) embedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.VectorEntry, error) {
	out := make([]domain.VectorEntry, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(kb.opts.EmbedConcurrency)
	for start := 0; start < len(chunks); start += kb.opts.EmbedBatchSize {
		end := start + kb.opts.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = chunks[i].Content
			}
			vecs, err := kb.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end-1, len(vecs))
			}
			for i, v := range vecs {
				out[start+i] = domain.VectorEntry{ChunkID: chunks[start+i].ID, Embedding: v}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

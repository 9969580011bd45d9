package main

import (
	"context"
	"fmt"
	"os"

	"autosurvey/internal/chunker"
	"autosurvey/internal/config"
	"autosurvey/internal/domain"
	"autosurvey/internal/embedding"
	"autosurvey/internal/embedding/openai"
	"autosurvey/internal/embedding/rediscache"
	"autosurvey/internal/embedding/tfidf"
	"autosurvey/internal/knowledge"
	"autosurvey/internal/logger"
	"autosurvey/internal/metrics"
	"autosurvey/internal/rerank"
	"autosurvey/internal/store"
	"autosurvey/internal/vectorstore"
	"autosurvey/internal/vectorstore/memory"
	"autosurvey/internal/vectorstore/qdrant"
)

// app holds the components shared by every command.
type app struct {
	cfg     *config.AppConfig
	log     *logger.Logger
	metrics *metrics.Metrics
	store   *store.Store
	kb      *knowledge.KnowledgeBase
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	log, err := logger.New(logger.Options{
		Mode:       cfg.Log.Mode,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	a.closers = append(a.closers, log.Sync)

	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, func() { _ = st.Close() })

	emb, err := a.buildEmbedder(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	ch, err := buildChunker(cfg.Chunker)
	if err != nil {
		a.Close()
		return nil, err
	}
	index, err := buildIndex(cfg.VectorStore)
	if err != nil {
		a.Close()
		return nil, err
	}
	var rr rerank.Reranker
	if cfg.Rerank.Enabled {
		client, err := rerank.NewClient(rerank.Config{
			BaseURL:   cfg.Rerank.BaseURL,
			APIKeyEnv: cfg.Rerank.APIKeyEnv,
			Model:     cfg.Rerank.Model,
			Timeout:   config.Secs(cfg.Rerank.TimeoutSecs),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("reranker init failed: %w", err)
		}
		rr = client
	}
	a.kb = knowledge.New(ch, emb, index, st, rr, log, a.metrics, knowledge.Options{
		EmbedBatchSize:   embedBatchSize(cfg.Embedder),
		EmbedConcurrency: cfg.Embedder.Concurrency,
		RerankOversample: cfg.Rerank.Oversample,
	})
	if err := a.kb.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}
	return a, nil
}

func (a *app) buildEmbedder(ctx context.Context) (embedding.Embedder, error) {
	cfg := a.cfg.Embedder
	var emb embedding.Embedder
	switch cfg.Type {
	case "tfidf", "":
		emb = tfidf.NewEmbedder()
	case "openai":
		client, err := openai.NewClient(openai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.OpenAI.Model,
			Timeout:    config.Secs(cfg.OpenAI.TimeoutSecs),
			BatchSize:  cfg.OpenAI.BatchSize,
			MaxRetries: cfg.OpenAI.MaxRetries,
		}, a.log)
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		emb = client
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}

	switch cfg.Cache.Type {
	case "none", "":
		return emb, nil
	case "memory":
		return embedding.NewCachedEmbedder(emb, embedding.NewMemoryCache(cfg.Cache.MaxEntries), a.log), nil
	case "redis":
		if embedding.NeedsCorpus(emb) {
			// cache generations restart per process, so shared entries would go stale
			a.log.Warn("redis embedding cache ignored for corpus-derived embedder", "embedder", emb.Name())
			return embedding.NewCachedEmbedder(emb, embedding.NewMemoryCache(cfg.Cache.MaxEntries), a.log), nil
		}
		rc := cfg.Cache.Redis
		cache := rediscache.New(rediscache.Config{
			Addr:     rc.Addr,
			Password: os.Getenv(rc.PasswordEnv),
			DB:       rc.DB,
			Prefix:   rc.Prefix,
			TTL:      config.Secs(rc.TTLHours * 3600),
		})
		if err := cache.Ping(ctx); err != nil {
			_ = cache.Close()
			a.log.Warn("redis unavailable, using in-memory embedding cache", "addr", rc.Addr, "error", err)
			return embedding.NewCachedEmbedder(emb, embedding.NewMemoryCache(cfg.Cache.MaxEntries), a.log), nil
		}
		a.closers = append(a.closers, func() { _ = cache.Close() })
		return embedding.NewCachedEmbedder(emb, cache, a.log), nil
	default:
		return nil, fmt.Errorf("unknown embedding cache: %s", cfg.Cache.Type)
	}
}

func buildChunker(cfg config.ChunkerConfig) (domain.Chunker, error) {
	switch cfg.Type {
	case "fixed", "":
		return chunker.NewFixedChunker(cfg.ChunkSize, cfg.ChunkOverlap), nil
	case "sentence":
		return chunker.NewSentenceChunker(cfg.SentencesPerChunk, cfg.OverlapSentences), nil
	}
	return nil, fmt.Errorf("unknown chunker: %s", cfg.Type)
}

func buildIndex(cfg config.VectorStoreConfig) (vectorstore.Storage, error) {
	switch cfg.Type {
	case "memory", "":
		return memory.NewStorage(), nil
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     os.Getenv(cfg.Qdrant.APIKeyEnv),
			Collection: cfg.Qdrant.Collection,
			Timeout:    config.Secs(cfg.Qdrant.TimeoutSecs),
		}), nil
	}
	return nil, fmt.Errorf("unknown vector store: %s", cfg.Type)
}

func embedBatchSize(cfg config.EmbedderConfig) int {
	if cfg.Type == "openai" && cfg.OpenAI != nil {
		return cfg.OpenAI.BatchSize
	}
	return 0
}

// retrieveParams maps retrieval settings onto one query.
func retrieveParams(cfg *config.AppConfig) knowledge.RetrieveParams {
	return knowledge.RetrieveParams{
		TopK:           cfg.Retrieval.TopK,
		ScoreThreshold: cfg.Retrieval.ScoreThreshold,
		UseRerank:      cfg.Rerank.Enabled,
	}
}

// kbSearcher adapts the knowledge base to the search screen.
type kbSearcher struct {
	kb     *knowledge.KnowledgeBase
	params knowledge.RetrieveParams
}

func (s kbSearcher) Search(ctx context.Context, q string) ([]domain.Reference, error) {
	return s.kb.Retrieve(ctx, q, s.params)
}

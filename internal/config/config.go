package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"autosurvey/internal/detect"
)

// LLMConfig configures the OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	MaxRetries  int    `yaml:"max_retries"`
}

// RedisConfig locates the Redis server backing the embedding cache.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
	TTLHours    int    `yaml:"ttl_hours"`
}

// EmbedCacheConfig selects the embedding cache: none, memory or redis.
type EmbedCacheConfig struct {
	Type       string       `yaml:"type"`
	MaxEntries int          `yaml:"max_entries"`
	Redis      *RedisConfig `yaml:"redis,omitempty"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                `yaml:"type"`
	Concurrency int                   `yaml:"concurrency"`
	OpenAI      *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Cache       EmbedCacheConfig      `yaml:"cache"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	ChunkSize         int    `yaml:"chunk_size"`
	ChunkOverlap      int    `yaml:"chunk_overlap"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type RerankConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	Oversample  int    `yaml:"oversample"`
}

type RetrievalConfig struct {
	Enabled        bool    `yaml:"enabled"`
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float64 `yaml:"score_threshold"`
}

// AnsweringConfig tunes answer synthesis.
type AnsweringConfig struct {
	// ConfidenceThreshold flags answers below it for review. Zero disables.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	ContextTopK         int     `yaml:"context_top_k"`
	SystemPrompt        string  `yaml:"system_prompt,omitempty"`
}

type BrowserConfig struct {
	Headless          bool           `yaml:"headless"`
	ExecPath          string         `yaml:"exec_path,omitempty"`
	UserAgent         string         `yaml:"user_agent,omitempty"`
	ActionTimeoutSecs int            `yaml:"action_timeout_secs"`
	PageTimeoutSecs   int            `yaml:"page_timeout_secs"`
	Markers           detect.Markers `yaml:"markers"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Mode       string `yaml:"mode"`
	Level      string `yaml:"level"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	LLM         LLMConfig         `yaml:"llm"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Rerank      RerankConfig      `yaml:"rerank"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Answering   AnsweringConfig   `yaml:"answering"`
	Browser     BrowserConfig     `yaml:"browser"`
	Database    DatabaseConfig    `yaml:"database"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries $AUTOSURVEY_CONFIG, ./config.yaml, then
// ~/.config/autosurvey/config.yaml. If none exists, it writes defaults to
// the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	if p := os.Getenv("AUTOSURVEY_CONFIG"); p != "" {
		cfg, err := Load(p)
		return cfg, p, err
	}
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnvOverrides(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "autosurvey", "config.yaml"), nil
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("data", "autosurvey.db")
	}
	return filepath.Join(home, ".local", "share", "autosurvey", "autosurvey.db")
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   1024,
			TimeoutSecs: 60,
			MaxRetries:  2,
		},
		Embedder: EmbedderConfig{
			Type:        "tfidf",
			Concurrency: 4,
			Cache:       EmbedCacheConfig{Type: "memory", MaxEntries: 10000},
		},
		Chunker:     ChunkerConfig{Type: "fixed", ChunkSize: 500, ChunkOverlap: 50, SentencesPerChunk: 5, OverlapSentences: 1},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Rerank:      RerankConfig{APIKeyEnv: "RERANK_API_KEY", TimeoutSecs: 20, Oversample: 3},
		Retrieval:   RetrievalConfig{Enabled: true, TopK: 3, ScoreThreshold: 0.5},
		Answering:   AnsweringConfig{ConfidenceThreshold: 0.7, ContextTopK: 5},
		Browser: BrowserConfig{
			Headless:          true,
			ActionTimeoutSecs: 5,
			PageTimeoutSecs:   30,
			Markers:           detect.DefaultMarkers(),
		},
		Database: DatabaseConfig{Path: defaultDataPath()},
		Log:      LogConfig{Mode: "development", Level: "info", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 28},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 500
	}
	if cfg.Embedder.Concurrency <= 0 {
		cfg.Embedder.Concurrency = 4
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 10
		}
	}
	if cfg.Embedder.Cache.Type == "redis" {
		if cfg.Embedder.Cache.Redis == nil {
			cfg.Embedder.Cache.Redis = &RedisConfig{}
		}
		if cfg.Embedder.Cache.Redis.Addr == "" {
			cfg.Embedder.Cache.Redis.Addr = "localhost:6379"
		}
		if cfg.Embedder.Cache.Redis.TTLHours == 0 {
			cfg.Embedder.Cache.Redis.TTLHours = 24 * 7
		}
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.URL == "" {
			cfg.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Rerank.Oversample <= 0 {
		cfg.Rerank.Oversample = 3
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Answering.ContextTopK <= 0 {
		cfg.Answering.ContextTopK = 5
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 60
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Browser.ActionTimeoutSecs == 0 {
		cfg.Browser.ActionTimeoutSecs = 5
	}
	if cfg.Browser.PageTimeoutSecs == 0 {
		cfg.Browser.PageTimeoutSecs = 30
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDataPath()
	}
}

// applyEnvOverrides lets deployments change endpoints without editing the
// file. Secrets are never stored in the config; only the names of the
// variables holding them are.
func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("AUTOSURVEY_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("AUTOSURVEY_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AUTOSURVEY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("AUTOSURVEY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AUTOSURVEY_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("AUTOSURVEY_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
}

// Validate rejects values the components cannot work with.
func (c *AppConfig) Validate() error {
	switch c.Embedder.Type {
	case "tfidf", "openai":
	default:
		return fmt.Errorf("embedder.type: unknown %q", c.Embedder.Type)
	}
	switch c.Embedder.Cache.Type {
	case "", "none", "memory", "redis":
	default:
		return fmt.Errorf("embedder.cache.type: unknown %q", c.Embedder.Cache.Type)
	}
	switch c.Chunker.Type {
	case "fixed", "sentence":
	default:
		return fmt.Errorf("chunker.type: unknown %q", c.Chunker.Type)
	}
	if c.Chunker.Type == "fixed" && c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("chunker.chunk_overlap %d must be below chunk_size %d", c.Chunker.ChunkOverlap, c.Chunker.ChunkSize)
	}
	switch c.VectorStore.Type {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("vector_store.type: unknown %q", c.VectorStore.Type)
	}
	if c.Rerank.Enabled && c.Rerank.BaseURL == "" {
		return errors.New("rerank.base_url is required when rerank is enabled")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature %.2f out of range [0,2]", c.LLM.Temperature)
	}
	if t := c.Answering.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("answering.confidence_threshold %.2f out of range [0,1]", t)
	}
	if t := c.Retrieval.ScoreThreshold; t < -1 || t > 1 {
		return fmt.Errorf("retrieval.score_threshold %.2f out of range [-1,1]", t)
	}
	return nil
}

func Secs(n int) time.Duration { return time.Duration(n) * time.Second }

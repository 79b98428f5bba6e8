package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
)

// ChunkingConfig configures how extracted text is split before embedding.
type ChunkingConfig struct {
	Size    int `yaml:"size" validate:"gt=0"`
	Overlap int `yaml:"overlap" validate:"gte=0"`
}

// EmbeddingConfig configures the OpenAI-compatible embedding client.
type EmbeddingConfig struct {
	BaseURL        string `yaml:"base_url" validate:"required,url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Model          string `yaml:"model" validate:"required"`
	Dimensions     int    `yaml:"dimensions" validate:"gt=0"`
	BatchSize      int    `yaml:"batch_size" validate:"gt=0"`
	MaxConcurrency int    `yaml:"max_concurrency" validate:"gt=0"`
	MaxRetries     int    `yaml:"max_retries" validate:"gte=0"`
	TimeoutSecs    int    `yaml:"timeout_secs" validate:"gt=0"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type" validate:"oneof=memory qdrant"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// RetrievalConfig holds query-side search parameters.
type RetrievalConfig struct {
	TopK                int     `yaml:"top_k" validate:"gt=0"`
	SimilarityThreshold float32 `yaml:"similarity_threshold" validate:"gte=0,lte=1"`
}

// GenerationConfig configures the completion client and prompt assembly.
type GenerationConfig struct {
	BaseURL         string  `yaml:"base_url" validate:"required,url"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Model           string  `yaml:"model" validate:"required"`
	MaxTokens       int     `yaml:"max_tokens" validate:"gt=0"`
	Temperature     float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxContextChars int     `yaml:"max_context_chars" validate:"gt=0"`
	TimeoutSecs     int     `yaml:"timeout_secs" validate:"gt=0"`
}

// DocStoreConfig locates the SQLite database holding document and
// query records.
type DocStoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// IngestConfig bounds what the pipeline accepts.
type IngestConfig struct {
	AllowedFileTypes []string `yaml:"allowed_file_types" validate:"min=1"`
	MaxFileSizeMB    int64    `yaml:"max_file_size_mb" validate:"gt=0"`
}

// AppConfig is the immutable root configuration, loaded once at startup.
type AppConfig struct {
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	DocStore    DocStoreConfig    `yaml:"doc_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Generation  GenerationConfig  `yaml:"generation"`
	Ingest      IngestConfig      `yaml:"ingest"`
}

// Load reads a config from the given path, expanding ${ENV} references.
// A missing file yields the defaults. Any validation failure is a fatal
// configuration error.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfiguration, path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints plus the cross-field chunking rule
// overlap < size, which the tag grammar cannot express.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: chunking overlap %d must be smaller than size %d",
			domain.ErrConfiguration, c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.VectorStore.Type == "qdrant" && c.VectorStore.Qdrant == nil {
		return fmt.Errorf("%w: vector_store.qdrant section missing", domain.ErrConfiguration)
	}
	return nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Chunking: ChunkingConfig{Size: 1000, Overlap: 200},
		Embedding: EmbeddingConfig{
			BaseURL:        "https://api.openai.com/v1",
			APIKeyEnv:      "OPENAI_API_KEY",
			Model:          "text-embedding-3-small",
			Dimensions:     1536,
			BatchSize:      100,
			MaxConcurrency: 4,
			MaxRetries:     5,
			TimeoutSecs:    30,
		},
		VectorStore: VectorStoreConfig{Type: "memory"},
		DocStore:    DocStoreConfig{Path: "data/docqa.db"},
		Retrieval:   RetrievalConfig{TopK: 5, SimilarityThreshold: 0.2},
		Generation: GenerationConfig{
			BaseURL:         "https://api.openai.com/v1",
			APIKeyEnv:       "OPENAI_API_KEY",
			Model:           "gpt-4o-mini",
			MaxTokens:       1000,
			Temperature:     0.1,
			MaxContextChars: 12000,
			TimeoutSecs:     60,
		},
		Ingest: IngestConfig{AllowedFileTypes: []string{"pdf", "txt"}, MaxFileSizeMB: 10},
	}
}

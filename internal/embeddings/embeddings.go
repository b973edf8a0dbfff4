package embeddings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates embeddings and owns its resources. It satisfies
// vectorstore.Embedder so a provider plugs straight into a store.
type Provider interface {
	vectorstore.Embedder

	// Close releases resources held by the provider.
	Close() error
}

// Config selects and configures an embedding provider.
type Config struct {
	// Provider is "fastembed" (local ONNX, default), "openai"
	// (any OpenAI-compatible endpoint: OpenAI, TEI, Ollama), or
	// "static" (deterministic, offline; tests and CI).
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// BaseURL is the API base URL for the openai provider,
	// e.g. https://api.openai.com/v1 or http://localhost:8080/v1.
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates the openai provider. Optional for
	// self-hosted endpoints like TEI.
	APIKey string `koanf:"api_key"`

	// CacheDir is the fastembed model cache directory.
	CacheDir string `koanf:"cache_dir"`

	// Dimension overrides the detected embedding dimension.
	Dimension int `koanf:"dimension"`
}

// NewProvider creates an embedding provider from config.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "openai":
		dim := cfg.Dimension
		if dim == 0 {
			dim = detectDimension(cfg.Model)
		}
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: dim,
		})
	case "static":
		dim := cfg.Dimension
		if dim == 0 {
			dim = 384
		}
		return NewStaticProvider(dim)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// detectDimension returns the embedding dimension for a model name,
// falling back to 384 (bge-small class) for unknown models.
func detectDimension(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.Contains(model, "text-embedding-3-large"):
		return 3072
	case strings.Contains(model, "text-embedding-3-small"), strings.Contains(model, "ada-002"):
		return 1536
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "small"), strings.Contains(model, "mini"), strings.Contains(model, "MiniLM"):
		return 384
	default:
		return 384
	}
}

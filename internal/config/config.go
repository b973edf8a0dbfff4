// Package config provides configuration loading for recalld.
//
// Configuration is loaded from a YAML file with environment-variable
// overrides and sensible defaults. A small subset of fields can be
// mutated at runtime through the configure tool; see Runtime.
package config

import (
	"fmt"
	"time"
)

// LLM provider names accepted by llm.provider and the configure tool.
var ValidLLMProviders = map[string]bool{
	"anthropic":  true,
	"claude-cli": true,
	"ollama":     true,
	"openrouter": true,
	"none":       true,
}

// Config holds the complete recalld configuration.
type Config struct {
	// Enabled is the global kill switch. When false every tool answers
	// with a disabled notice instead of touching the store.
	Enabled bool `koanf:"enabled"`
	Verbose bool `koanf:"verbose"`

	Server        ServerConfig        `koanf:"server"`
	Storage       StorageConfig       `koanf:"storage"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Qdrant        QdrantConfig        `koanf:"qdrant"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Search        SearchConfig        `koanf:"search"`
	Ingest        IngestConfig        `koanf:"ingest"`
	LLM           LLMConfig           `koanf:"llm"`
	Autocapture   AutocaptureConfig   `koanf:"autocapture"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig holds filesystem layout configuration. Everything the
// daemon persists lives under DataDir: the vector store, the schema
// version file, ingestion state, the capture queue, and backups.
type StorageConfig struct {
	DataDir string `koanf:"data_dir"`
}

// VectorStoreConfig selects and configures the vector-store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant" (remote).
	Provider   string `koanf:"provider"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig holds connection settings for the optional qdrant backend.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (local ONNX, default), "openai"
	// (OpenAI-compatible HTTP endpoint), or "static" (tests only).
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
	Dimension int    `koanf:"dimension"`
}

// SearchConfig holds retrieval tuning. All fields are runtime-mutable
// through the configure tool.
type SearchConfig struct {
	MinScore            float64 `koanf:"min_score"`
	TopKRetrieve        int     `koanf:"top_k_retrieve"`
	TopKRerank          int     `koanf:"top_k_rerank"`
	RecencyBoost        bool    `koanf:"recency_boost"`
	RecencyHalfLifeDays float64 `koanf:"recency_half_life_days"`
}

// IngestConfig holds ingestion pipeline tuning.
type IngestConfig struct {
	// AsyncThreshold is the delta size above which ingestion runs in
	// the background and the call returns a task id.
	AsyncThreshold   int  `koanf:"async_threshold"`
	SkeletonMaxDepth int  `koanf:"skeleton_max_depth"`
	MaxFileSizeKB    int  `koanf:"max_file_size_kb"`
	UseIgnoreFiles   bool `koanf:"use_ignore_files"`
	Concurrency      int  `koanf:"concurrency"`

	// GlobalIgnoreFile is an optional gitignore-style file applied to
	// every repository, e.g. ~/.config/recalld/ignore.
	GlobalIgnoreFile string `koanf:"global_ignore_file"`
}

// LLMConfig selects the provider used for summarization.
type LLMConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`
	// Timeout bounds a single generation call.
	Timeout time.Duration `koanf:"timeout"`
	// RequestsPerMinute rate-limits outbound LLM calls; 0 disables.
	RequestsPerMinute int `koanf:"requests_per_minute"`
}

// AutocaptureConfig holds session-capture settings.
type AutocaptureConfig struct {
	Enabled bool `koanf:"enabled"`
	// Async enqueues capture jobs; sync processes inline with a timeout.
	Async            bool   `koanf:"async"`
	SyncTimeout      int    `koanf:"sync_timeout"` // seconds
	MinTokens        int    `koanf:"min_tokens"`
	MinToolCalls     int    `koanf:"min_tool_calls"`
	MinFileEdits     int    `koanf:"min_file_edits"`
	TranscriptDir    string `koanf:"transcript_dir"`
	WatchTranscripts bool   `koanf:"watch_transcripts"`
}

// SecretsConfig holds scrubbing settings.
type SecretsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

// ObservabilityConfig holds OpenTelemetry configuration. Exporter
// details (endpoint, protocol, sampling) are read by the telemetry
// package from its own environment variables.
type ObservabilityConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// Validate validates the configuration.
//
// Numeric tuning fields are clamped by applyDefaults rather than
// rejected; Validate only fails on values with no sensible fallback.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.HTTPPort)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid vectorstore provider %q (valid: chromem, qdrant)", c.VectorStore.Provider)
	}

	switch c.Embeddings.Provider {
	case "fastembed", "openai", "static":
	default:
		return fmt.Errorf("invalid embeddings provider %q (valid: fastembed, openai, static)", c.Embeddings.Provider)
	}

	if !ValidLLMProviders[c.LLM.Provider] {
		return fmt.Errorf("invalid llm provider %q (valid: anthropic, claude-cli, ollama, openrouter, none)", c.LLM.Provider)
	}

	if c.Observability.Enabled && c.Observability.ServiceName == "" {
		return fmt.Errorf("service name required when telemetry is enabled")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir must not be empty")
	}

	return nil
}

// clampFloat bounds v to [lo, hi].
func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampInt bounds v to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

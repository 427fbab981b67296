// Package config provides layered configuration for the TabGraph backend:
// compiled defaults, an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Search     SearchConfig     `yaml:"search"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	Tracing    TracingConfig    `yaml:"tracing"`
	LogLevel   string           `yaml:"log_level"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins is appended to the built-in extension/localhost origins.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig configures the SQLite graph store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OpenAIConfig configures the embedding and completion models.
type OpenAIConfig struct {
	APIKey         string        `yaml:"api_key"`
	EmbeddingModel string        `yaml:"embedding_model"`
	LLMModel       string        `yaml:"llm_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

// SearchConfig configures the external search/agent API.
type SearchConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ClusteringConfig holds the cluster-engine tunables. These are
// hot-reloadable through the config watcher.
type ClusteringConfig struct {
	// SimilarityThreshold applies when only cosine similarity is available.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// HybridThreshold applies when the hybrid cosine+Jaccard score is active.
	HybridThreshold float64 `yaml:"hybrid_threshold"`
	// HybridWeight is the Jaccard share of the hybrid score, in [0,1].
	HybridWeight    float64 `yaml:"hybrid_weight"`
	RenameThreshold int     `yaml:"rename_threshold"`
}

// EnrichmentConfig holds the background-enrichment tunables.
type EnrichmentConfig struct {
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
}

// MetadataConfig selects the metadata provider implementation.
type MetadataConfig struct {
	// Provider is "agent" or "static".
	Provider string `yaml:"provider"`
}

// TracingConfig configures the optional OTLP trace exporter.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Environment string `yaml:"environment"`
}

// Default returns the compiled-in defaults, mirroring the reference
// deployment configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			RequestTimeout:  120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/knowledge_graph.db",
		},
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-small",
			LLMModel:       "gpt-4o-mini",
			Timeout:        30 * time.Second,
		},
		Search: SearchConfig{
			BaseURL: "https://api.ydc-index.io",
			Timeout: 60 * time.Second,
		},
		Clustering: ClusteringConfig{
			SimilarityThreshold: 0.75,
			HybridThreshold:     0.50,
			HybridWeight:        0.5,
			RenameThreshold:     3,
		},
		Enrichment: EnrichmentConfig{
			CacheTTL:    7 * 24 * time.Hour,
			MaxAttempts: 3,
			BackoffBase: time.Second,
			BackoffCap:  10 * time.Second,
		},
		Metadata: MetadataConfig{
			Provider: "static",
		},
		Tracing: TracingConfig{
			Environment: "development",
		},
		LogLevel: "info",
	}
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Clustering.HybridWeight < 0 || c.Clustering.HybridWeight > 1 {
		return fmt.Errorf("clustering.hybrid_weight must be in [0,1], got %f", c.Clustering.HybridWeight)
	}
	if c.Clustering.SimilarityThreshold < 0 || c.Clustering.SimilarityThreshold > 1 {
		return fmt.Errorf("clustering.similarity_threshold must be in [0,1], got %f", c.Clustering.SimilarityThreshold)
	}
	if c.Clustering.RenameThreshold < 1 {
		return fmt.Errorf("clustering.rename_threshold must be >= 1, got %d", c.Clustering.RenameThreshold)
	}
	if c.Enrichment.MaxAttempts < 1 {
		return fmt.Errorf("enrichment.max_attempts must be >= 1, got %d", c.Enrichment.MaxAttempts)
	}
	switch c.Metadata.Provider {
	case "agent", "static":
	default:
		return fmt.Errorf("metadata.provider must be \"agent\" or \"static\", got %q", c.Metadata.Provider)
	}
	return nil
}

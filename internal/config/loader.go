package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration from a hierarchy of sources, lowest to
// highest priority:
//  1. compiled defaults
//  2. the YAML file at path (skipped when path is empty or missing)
//  3. environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables onto the configuration.
// Variable names follow the reference deployment's dotfile contract.
func applyEnv(cfg *Config) {
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.EmbeddingModel, "OPENAI_EMBEDDING_MODEL")
	setString(&cfg.OpenAI.LLMModel, "OPENAI_LLM_MODEL")
	setString(&cfg.Search.APIKey, "YOU_API_KEY")
	setString(&cfg.Search.BaseURL, "SEARCH_BASE_URL")
	setString(&cfg.Database.Path, "DB_PATH")
	setString(&cfg.Server.Host, "HOST")
	setInt(&cfg.Server.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Metadata.Provider, "METADATA_PROVIDER")
	setString(&cfg.Tracing.Endpoint, "OTLP_ENDPOINT")
	setString(&cfg.Tracing.Environment, "ENVIRONMENT")
	setFloat(&cfg.Clustering.SimilarityThreshold, "SIMILARITY_THRESHOLD")
	setFloat(&cfg.Clustering.HybridThreshold, "HYBRID_THRESHOLD")
	setFloat(&cfg.Clustering.HybridWeight, "HYBRID_WEIGHT")
	setInt(&cfg.Clustering.RenameThreshold, "RENAME_THRESHOLD")
	setDuration(&cfg.Enrichment.CacheTTL, "ENRICHMENT_CACHE_TTL")

	if cfg.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	}
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setFloat(target *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func setDuration(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

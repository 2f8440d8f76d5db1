// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package config holds the service configuration. Values are loaded from an
// optional YAML file and QACACHE_-prefixed environment variables, environment
// winning.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type OpenAIConfig struct {
	APIKey              string        `mapstructure:"apiKey"`
	APIURL              string        `mapstructure:"apiURL"`
	OrgID               string        `mapstructure:"orgID"`
	Model               string        `mapstructure:"model"`
	Temperature         float64       `mapstructure:"temperature"`
	MaxTokens           int           `mapstructure:"maxTokens"`
	RequestTimeout      time.Duration `mapstructure:"requestTimeout"`
	EmbeddingModel      string        `mapstructure:"embeddingModel"`
	EmbeddingDimensions int           `mapstructure:"embeddingDimensions"`
}

type PostgresConfig struct {
	DSN           string `mapstructure:"dsn"`
	Table         string `mapstructure:"table"`
	FallbackTable string `mapstructure:"fallbackTable"`
}

type CacheConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarityThreshold"`
	DuplicateThreshold  float64 `mapstructure:"duplicateThreshold"`
	TopK                int     `mapstructure:"topK"`
	MinParaphraseLength int     `mapstructure:"minParaphraseLength"`
	SystemType          string  `mapstructure:"systemType"`
}

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Cache    CacheConfig    `mapstructure:"cache"`
	LogLevel string         `mapstructure:"logLevel"`
	// DevMode swaps the OpenAI providers and Postgres index for the mock
	// embedder and the in-memory index.
	DevMode bool `mapstructure:"devMode"`
}

// Load reads configuration from the given file (may be empty) plus the
// environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http.addr", ":8077")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.temperature", 0.0)
	v.SetDefault("openai.requestTimeout", 30*time.Second)
	v.SetDefault("openai.embeddingModel", "text-embedding-3-small")
	v.SetDefault("openai.embeddingDimensions", 1536)
	v.SetDefault("postgres.table", "qa_cache")
	v.SetDefault("cache.similarityThreshold", 0.80)
	v.SetDefault("cache.duplicateThreshold", 0.95)
	v.SetDefault("cache.topK", 5)
	v.SetDefault("cache.minParaphraseLength", 5)
	v.SetDefault("cache.systemType", "chatbot_response")
	v.SetDefault("logLevel", "info")

	v.SetEnvPrefix("QACACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr must be set")
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		return errors.Errorf("cache.similarityThreshold must be in (0, 1], got %v", c.Cache.SimilarityThreshold)
	}
	if c.Cache.DuplicateThreshold <= 0 || c.Cache.DuplicateThreshold > 1 {
		return errors.Errorf("cache.duplicateThreshold must be in (0, 1], got %v", c.Cache.DuplicateThreshold)
	}
	if c.Cache.DuplicateThreshold < c.Cache.SimilarityThreshold {
		return errors.New("cache.duplicateThreshold must not be below cache.similarityThreshold")
	}
	if c.Cache.TopK <= 0 {
		return errors.Errorf("cache.topK must be positive, got %d", c.Cache.TopK)
	}
	if c.OpenAI.EmbeddingDimensions <= 0 {
		return errors.Errorf("openai.embeddingDimensions must be positive, got %d", c.OpenAI.EmbeddingDimensions)
	}

	if !c.DevMode {
		if c.OpenAI.APIKey == "" {
			return errors.New("openai.apiKey must be set outside dev mode")
		}
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn must be set outside dev mode")
		}
	}

	return nil
}

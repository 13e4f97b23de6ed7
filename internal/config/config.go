// Package config provides configuration loading for retrievald.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
	"github.com/fyrsmithlabs/retrievald/internal/index"
	"github.com/fyrsmithlabs/retrievald/internal/logging"
	"github.com/fyrsmithlabs/retrievald/internal/rerank"
	"github.com/fyrsmithlabs/retrievald/internal/retriever"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "RETRIEVALD_"
)

// Config is the root configuration.
type Config struct {
	Logging    logging.Config    `koanf:"logging"`
	Embeddings embeddings.Config `koanf:"embeddings"`
	Index      index.Config      `koanf:"index"`
	Retriever  retriever.Config  `koanf:"retriever"`
	Rerank     rerank.Config     `koanf:"rerank"`
}

// Default returns the configuration used when a field is set neither in
// the YAML file nor in the environment.
func Default() Config {
	cfg := Config{}
	cfg.Retriever.EnableHybrid = true
	cfg.Logging.ApplyDefaults()
	cfg.Embeddings.ApplyDefaults()
	cfg.Index.Chromem.ApplyDefaults()
	cfg.Index.Qdrant.ApplyDefaults()
	cfg.Retriever.ApplyDefaults()
	cfg.Rerank.ApplyDefaults()
	return cfg
}

// Load reads configuration from a YAML file, then overrides with
// RETRIEVALD_* environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (RETRIEVALD_RETRIEVER_TOP_K, ...)
//  2. YAML config file (~/.config/retrievald/config.yaml by default)
//  3. Defaults
//
// The config file must not be world-readable (0600 or 0400) and must stay
// under 1MB. A missing file is not an error; defaults and environment
// apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "retrievald", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a
		// TOCTOU race between stat and read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment overrides. The first underscore after the prefix splits
	// section from field: RETRIEVALD_RETRIEVER_TOP_K -> retriever.top_k.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if err := c.Embeddings.Validate(); err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}
	if c.Retriever.TopK < 1 {
		return fmt.Errorf("retriever.top_k must be at least 1, got %d", c.Retriever.TopK)
	}
	if c.Retriever.HybridWeight <= 0 || c.Retriever.HybridWeight >= 1 {
		return fmt.Errorf("retriever.hybrid_weight must be in (0, 1), got %g", c.Retriever.HybridWeight)
	}
	if c.Retriever.RerankThreshold < 0 || c.Retriever.RerankThreshold > 1 {
		return fmt.Errorf("retriever.rerank_threshold must be in [0, 1], got %g", c.Retriever.RerankThreshold)
	}
	return nil
}

// validateConfigFileProperties checks file permissions and size. Runs on
// the already-opened descriptor's FileInfo.
func validateConfigFileProperties(info os.FileInfo) error {
	// Permission model differs on Windows; skip there.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// Package config provides configuration management for recall.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Defaults for settings not present in the settings file.
const (
	DefaultWorkerPort         = 7542
	DefaultMaxConns           = 4
	DefaultEmbeddingDim       = 384
	DefaultMaxDocumentBytes   = 1 << 20 // 1 MiB
	DefaultContextTokenBudget = 2048
	DefaultEmbedCacheSize     = 512
	DefaultEmbedCacheTTLSecs  = 3600
	DefaultRuntimeURL         = "http://127.0.0.1:8080"
	DefaultGatewayURL         = "https://gateway.recall.dev/v1/chat"
	DefaultEmbeddingModel     = "all-minilm-l6-v2.gguf"
	DefaultGenerationModel    = "qwen2.5-0.5b-instruct.gguf"
)

// Config holds the recall settings.
type Config struct {
	RuntimeURL         string `yaml:"runtime_url"`
	GatewayURL         string `yaml:"gateway_url"`
	GatewayToken       string `yaml:"gateway_token"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingModelURL  string `yaml:"embedding_model_url"`
	GenerationModel    string `yaml:"generation_model"`
	GenerationModelURL string `yaml:"generation_model_url"`
	WorkerPort         int    `yaml:"worker_port"`
	MaxConns           int    `yaml:"max_conns"`
	EmbeddingDim       int    `yaml:"embedding_dim"`
	MaxDocumentBytes   int    `yaml:"max_document_bytes"`
	ContextTokenBudget int    `yaml:"context_token_budget"`
	EmbedCacheSize     int    `yaml:"embed_cache_size"`
	EmbedCacheTTLSecs  int    `yaml:"embed_cache_ttl_secs"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		WorkerPort:         DefaultWorkerPort,
		MaxConns:           DefaultMaxConns,
		EmbeddingDim:       DefaultEmbeddingDim,
		MaxDocumentBytes:   DefaultMaxDocumentBytes,
		ContextTokenBudget: DefaultContextTokenBudget,
		EmbedCacheSize:     DefaultEmbedCacheSize,
		EmbedCacheTTLSecs:  DefaultEmbedCacheTTLSecs,
		RuntimeURL:         DefaultRuntimeURL,
		GatewayURL:         DefaultGatewayURL,
		EmbeddingModel:     DefaultEmbeddingModel,
		GenerationModel:    DefaultGenerationModel,
	}
}

// DataDir returns the recall data directory (~/.recall).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recall"
	}
	return filepath.Join(home, ".recall")
}

// DBPath returns the path of the SQLite database file.
func DBPath() string {
	return filepath.Join(DataDir(), "recall.db")
}

// SettingsPath returns the path of the settings file.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// ModelsDir returns the directory model files are downloaded to.
func ModelsDir() string {
	return filepath.Join(DataDir(), "models")
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureAll creates the data directory and the models directory.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return os.MkdirAll(ModelsDir(), 0o755)
}

// Load reads the settings file, filling missing fields with defaults.
// A missing settings file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Save writes the settings file.
func (c *Config) Save() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(SettingsPath(), data, 0o644)
}

// applyDefaults fills zero-valued fields after unmarshalling a partial file.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.WorkerPort <= 0 {
		cfg.WorkerPort = def.WorkerPort
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = def.MaxConns
	}
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = def.EmbeddingDim
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = def.MaxDocumentBytes
	}
	if cfg.ContextTokenBudget <= 0 {
		cfg.ContextTokenBudget = def.ContextTokenBudget
	}
	if cfg.EmbedCacheSize <= 0 {
		cfg.EmbedCacheSize = def.EmbedCacheSize
	}
	if cfg.EmbedCacheTTLSecs <= 0 {
		cfg.EmbedCacheTTLSecs = def.EmbedCacheTTLSecs
	}
	if cfg.RuntimeURL == "" {
		cfg.RuntimeURL = def.RuntimeURL
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = def.GatewayURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = def.EmbeddingModel
	}
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = def.GenerationModel
	}
}

var (
	current   *Config
	currentMu sync.RWMutex
)

// Get returns the process-wide config, loading it on first use.
func Get() *Config {
	currentMu.RLock()
	if current != nil {
		defer currentMu.RUnlock()
		return current
	}
	currentMu.RUnlock()

	currentMu.Lock()
	defer currentMu.Unlock()
	if current == nil {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		current = cfg
	}
	return current
}

// Set replaces the process-wide config. Intended for main and tests.
func Set(cfg *Config) {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = cfg
}

// Package config provides configuration loading and structs for the Kotae server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool            `yaml:"debug"`
	GoogleAPIKey string          `yaml:"google_api_key"`
	Server       ServerConfig    `yaml:"server"`
	Documents    DocumentsConfig `yaml:"documents"`
	RAG          RAGConfig       `yaml:"rag"`
	Embedding    EmbeddingConfig `yaml:"embedding"`
	LLM          LLMConfig       `yaml:"llm"`
	Vector       VectorConfig    `yaml:"vector"`
	Storage      StorageConfig   `yaml:"storage"`
	Watch        WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// DocumentsConfig holds upload limits and chunking settings.
type DocumentsConfig struct {
	MaxFileSizeMB       int      `yaml:"max_file_size_mb"`
	ChunkSize           int      `yaml:"chunk_size"`
	ChunkOverlap        int      `yaml:"chunk_overlap"`
	MinTextLength       int      `yaml:"min_text_length"`
	SupportedExtensions []string `yaml:"supported_extensions"`
}

// MaxFileSizeBytes returns the upload limit in bytes.
func (d *DocumentsConfig) MaxFileSizeBytes() int64 {
	return int64(d.MaxFileSizeMB) * 1024 * 1024
}

// RAGConfig holds retrieval and prompt assembly settings.
type RAGConfig struct {
	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxContextLength    int     `yaml:"max_context_length"`
	FallbackAnswer      string  `yaml:"fallback_answer"`
}

// EmbeddingConfig selects and configures the embedding provider.
// Provider is one of "gemini", "ollama" or "mock".
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int           `yaml:"cache_size"`
}

// LLMConfig selects and configures the generative model. Provider is "gemini",
// "ollama" or "anthropic". APIKey and MaxTokens apply to anthropic only; Gemini
// uses the top-level google_api_key.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// VectorConfig selects the similarity index backend: "memory", "pgvector" or "qdrant".
type VectorConfig struct {
	Type         string         `yaml:"type"`
	SnapshotPath string         `yaml:"snapshot_path"`
	Postgres     PostgresConfig `yaml:"postgres"`
	Qdrant       QdrantConfig   `yaml:"qdrant"`
}

// PostgresConfig holds pgvector connection settings.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// QdrantConfig holds Qdrant REST settings.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"api_key"`
}

// StorageConfig selects the document registry and conversation store backends.
type StorageConfig struct {
	Registry         string `yaml:"registry"`
	DatabasePath     string `yaml:"database_path"`
	Conversations    string `yaml:"conversations"`
	BadgerPath       string `yaml:"badger_path"`
	MaxConversations int    `yaml:"max_conversations"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies environment overrides,
// expands paths, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BadgerPath = expandPath(cfg.Storage.BadgerPath, configDir)
	if cfg.Vector.SnapshotPath != "" {
		cfg.Vector.SnapshotPath = expandPath(cfg.Vector.SnapshotPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment.
// A missing file is not an error.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// ApplyEnv overrides secrets and a few switches from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.GoogleAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("KOTAE_DATABASE_URL"); v != "" {
		cfg.Vector.Postgres.DSN = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.Vector.Qdrant.APIKey = v
	}
	if v := os.Getenv("KOTAE_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

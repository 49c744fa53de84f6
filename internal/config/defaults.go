package config

import "time"

// DefaultFallbackAnswer is returned when retrieval finds nothing above the threshold.
const DefaultFallbackAnswer = "I don't have any information about that in the available documents. " +
	"Please ask about the background, research, projects, or experience covered by the indexed documents."

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"http://localhost:4000", "http://127.0.0.1:4000"}
	}
	if cfg.Server.RateLimitPerMinute == 0 {
		cfg.Server.RateLimitPerMinute = 20
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}

	if cfg.Documents.MaxFileSizeMB == 0 {
		cfg.Documents.MaxFileSizeMB = 10
	}
	if cfg.Documents.ChunkSize == 0 {
		cfg.Documents.ChunkSize = 1000
	}
	if cfg.Documents.ChunkOverlap == 0 {
		cfg.Documents.ChunkOverlap = 200
	}
	if cfg.Documents.MinTextLength == 0 {
		cfg.Documents.MinTextLength = 10
	}
	if cfg.Documents.SupportedExtensions == nil {
		cfg.Documents.SupportedExtensions = []string{".pdf", ".txt", ".md", ".docx", ".html", ".xlsx", ".pptx"}
	}

	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.SimilarityThreshold == 0 {
		cfg.RAG.SimilarityThreshold = 0.3
	}
	if cfg.RAG.MaxContextLength == 0 {
		cfg.RAG.MaxContextLength = 4000
	}
	if cfg.RAG.FallbackAnswer == "" {
		cfg.RAG.FallbackAnswer = DefaultFallbackAnswer
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "gemini"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "ollama":
			cfg.Embedding.Model = "nomic-embed-text"
		default:
			cfg.Embedding.Model = "text-embedding-004"
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == "ollama" {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "gemini"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "ollama":
			cfg.LLM.Model = "llama3.2"
		case "anthropic":
			cfg.LLM.Model = "claude-3-5-haiku-latest"
		default:
			cfg.LLM.Model = "gemini-1.5-flash"
		}
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == "ollama" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.MaxTokens == 0 && cfg.LLM.Provider == "anthropic" {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}

	if cfg.Vector.Type == "" {
		cfg.Vector.Type = "memory"
	}
	if cfg.Vector.Postgres.Table == "" {
		cfg.Vector.Postgres.Table = "chunks"
	}
	if cfg.Vector.Qdrant.URL == "" {
		cfg.Vector.Qdrant.URL = "http://localhost:6333"
	}
	if cfg.Vector.Qdrant.Collection == "" {
		cfg.Vector.Qdrant.Collection = "academic-rag"
	}

	if cfg.Storage.Registry == "" {
		cfg.Storage.Registry = "memory"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/documents.db"
	}
	if cfg.Storage.Conversations == "" {
		cfg.Storage.Conversations = "memory"
	}
	if cfg.Storage.BadgerPath == "" {
		cfg.Storage.BadgerPath = "./data/conversations"
	}

	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

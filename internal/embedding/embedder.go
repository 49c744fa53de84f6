// Package embedding provides text embedding gateways and caching.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
	"go.uber.org/zap"
)

// Purpose tells the embedding model whether text is a stored passage or a search query.
type Purpose string

const (
	PurposeDocument Purpose = "document"
	PurposeQuery    Purpose = "query"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New builds the embedder selected by cfg.Provider, wrapped in an LRU cache when
// cfg.CacheSize is positive.
func New(ctx context.Context, cfg *config.EmbeddingConfig, apiKey string, logger *zap.Logger) (Embedder, error) {
	var e Embedder
	switch cfg.Provider {
	case "gemini":
		g, err := NewGeminiEmbedder(ctx, apiKey, cfg.Model, cfg.Dimensions, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		e = g
	case "ollama":
		e = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions, cfg.Timeout)
	case "mock":
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if logger != nil {
		logger.Debug("embedder ready",
			zap.String("provider", cfg.Provider),
			zap.String("model", cfg.Model),
			zap.Int("dimensions", e.Dimensions()))
	}
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}

// embedEach calls embed for every text in order.
func embedEach(ctx context.Context, texts []string, purpose Purpose, embed func(context.Context, string, Purpose) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := embed(ctx, text, purpose)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Package llm provides generative model gateways used to write grounded answers.
package llm

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"go.uber.org/zap"
)

// Generator produces answer text for a prompt. When history is non-empty it is
// sent as prior turns; otherwise the prompt is sent as a single shot.
type Generator interface {
	Generate(ctx context.Context, prompt string, history []models.Turn) (string, error)
	HealthCheck(ctx context.Context) bool
}

// New builds the generator selected by cfg.Provider.
func New(ctx context.Context, cfg *config.LLMConfig, apiKey string, logger *zap.Logger) (Generator, error) {
	var g Generator
	switch cfg.Provider {
	case "gemini":
		gg, err := NewGeminiGenerator(ctx, apiKey, cfg.Model, cfg.Temperature, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		g = gg
	case "ollama":
		g = NewOllamaGenerator(cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.Timeout)
	case "anthropic":
		ag, err := NewAnthropicGenerator(cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		g = ag
	default:
		return nil, fmt.Errorf("unknown llm provider: %s (supported: gemini, ollama, anthropic)", cfg.Provider)
	}
	if logger != nil {
		logger.Debug("generator ready", zap.String("provider", cfg.Provider), zap.String("model", cfg.Model))
	}
	return g, nil
}

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"google.golang.org/genai"
)

// GeminiGenerator calls the Gemini content generation API.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewGeminiGenerator creates a Gemini API client for model.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, temperature float32, timeout time.Duration) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini generator: GOOGLE_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model, temperature: temperature, timeout: timeout}, nil
}

// Generate sends history as prior chat turns followed by prompt as the new user turn.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, history []models.Turn) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	contents := geminiContents(prompt, history)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("content generation failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("no response generated from model %s", g.model)
	}
	return text, nil
}

// HealthCheck sends a trivial prompt and reports whether any text came back.
func (g *GeminiGenerator) HealthCheck(ctx context.Context) bool {
	text, err := g.Generate(ctx, "Hello", nil)
	return err == nil && text != ""
}

func geminiContents(prompt string, history []models.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		var role genai.Role = genai.RoleUser
		if turn.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	return append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
}

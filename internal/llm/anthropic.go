package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hyperjump/kotae/internal/models"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicGenerator calls the Anthropic Messages API.
type AnthropicGenerator struct {
	messages    anthropic.MessageService
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// NewAnthropicGenerator creates a Messages API client for model. Extra request
// options are passed to the client (base URL overrides, retries).
func NewAnthropicGenerator(apiKey, model string, temperature float32, maxTokens int, timeout time.Duration, opts ...option.RequestOption) (*AnthropicGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic generator: ANTHROPIC_API_KEY is required")
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &AnthropicGenerator{
		messages:    client.Messages,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
	}, nil
}

// Generate sends history as prior messages followed by prompt as the new user message.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string, history []models.Turn) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(g.maxTokens),
		Messages:  anthropicMessages(prompt, history),
	}
	if g.temperature > 0 {
		params.Temperature = anthropic.Float(float64(g.temperature))
	}
	resp, err := g.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("messages call failed: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("no response generated from model %s", g.model)
	}
	return text, nil
}

// HealthCheck sends a trivial prompt and reports whether any text came back.
func (g *AnthropicGenerator) HealthCheck(ctx context.Context) bool {
	text, err := g.Generate(ctx, "Hello", nil)
	return err == nil && text != ""
}

func anthropicMessages(prompt string, history []models.Turn) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, turn := range history {
		if turn.Role == models.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text)))
			continue
		}
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
	}
	return append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
}

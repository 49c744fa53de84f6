package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// OllamaGenerator calls a local Ollama server. Single-shot prompts use /api/generate;
// prompts with history use /api/chat.
type OllamaGenerator struct {
	baseURL     string
	model       string
	temperature float32
	client      *http.Client
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

// NewOllamaGenerator creates a generator for model served at baseURL.
func NewOllamaGenerator(baseURL, model string, temperature float32, timeout time.Duration) *OllamaGenerator {
	return &OllamaGenerator{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		client:      &http.Client{Timeout: timeout},
	}
}

// Generate returns the model's answer to prompt.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, history []models.Turn) (string, error) {
	var text string
	if len(history) == 0 {
		var out ollamaGenerateResponse
		err := g.post(ctx, "/api/generate", ollamaGenerateRequest{
			Model:   g.model,
			Prompt:  prompt,
			Options: ollamaOptions{Temperature: g.temperature},
		}, &out)
		if err != nil {
			return "", err
		}
		text = out.Response
	} else {
		messages := make([]ollamaMessage, 0, len(history)+1)
		for _, turn := range history {
			messages = append(messages, ollamaMessage{Role: turn.Role, Content: turn.Text})
		}
		messages = append(messages, ollamaMessage{Role: models.RoleUser, Content: prompt})
		var out ollamaChatResponse
		err := g.post(ctx, "/api/chat", ollamaChatRequest{
			Model:    g.model,
			Messages: messages,
			Options:  ollamaOptions{Temperature: g.temperature},
		}, &out)
		if err != nil {
			return "", err
		}
		text = out.Message.Content
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("ollama returned an empty response")
	}
	return text, nil
}

// HealthCheck reports whether the Ollama server answers its model listing endpoint.
func (g *OllamaGenerator) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (g *OllamaGenerator) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

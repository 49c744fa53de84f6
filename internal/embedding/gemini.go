package embedding

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiEmbedder calls the Gemini embedding API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
	timeout    time.Duration
}

// NewGeminiEmbedder creates a Gemini API client for model.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int, timeout time.Duration) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini embedder: GOOGLE_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model, dimensions: dimensions, timeout: timeout}, nil
}

// TaskType maps a purpose to the Gemini embedding task type.
func TaskType(p Purpose) string {
	if p == PurposeQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

// Embed returns the embedding of text for the given purpose.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	dim := int32(e.dimensions)
	result, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{
			OutputDimensionality: &dim,
			TaskType:             TaskType(purpose),
		})
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}
	if result == nil || len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("no embedding returned from API")
	}
	values := result.Embeddings[0].Values
	if len(values) != e.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimensions, len(values))
	}
	return values, nil
}

// EmbedBatch embeds texts one request at a time.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	return embedEach(ctx, texts, purpose, e.Embed)
}

// Dimensions returns the configured output dimensionality.
func (e *GeminiEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the genai client holds no resources that need releasing.
func (e *GeminiEmbedder) Close() error {
	return nil
}

package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/hyperjump/kotae/pkg/utils"
)

// MockEmbedder is a deterministic offline embedder. Each lowercased word is hashed
// into one of the dimensions, so texts sharing vocabulary land close together under
// cosine similarity. Used for tests and for running without a model provider.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a unit-length bag-of-words vector for text. Purpose is ignored.
func (e *MockEmbedder) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	words := Words(text)
	for _, w := range words {
		h := HashString(w)
		emb[h%e.dimensions] += 1
	}
	if len(words) == 0 {
		h := HashString(text)
		for i := range emb {
			emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	return embedEach(ctx, texts, purpose, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// Words lowercases text and returns its letter/digit runs.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		h = 0
	}
	return h
}

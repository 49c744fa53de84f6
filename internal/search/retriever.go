// Package search retrieves the chunks most similar to a query and scores how well
// they cover it.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
)

// Retriever embeds queries and looks them up in the similarity index.
type Retriever struct {
	embedder embedding.Embedder
	index    vector.Index
	logger   *zap.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

// NewRetriever creates a retriever over index using embedder for queries.
func NewRetriever(embedder embedding.Embedder, index vector.Index, opts ...RetrieverOption) *Retriever {
	r := &Retriever{embedder: embedder, index: index}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search returns up to topK chunks scoring at least threshold, best first. An empty
// result is not an error; embedding and index failures are returned as retrieval errors.
func (r *Retriever) Search(ctx context.Context, query string, topK int, threshold float64) ([]models.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.NewValidationError("query cannot be empty")
	}
	if topK <= 0 {
		return nil, models.NewValidationError("top_k must be positive")
	}

	vec, err := r.embedder.Embed(ctx, query, embedding.PurposeQuery)
	if err != nil {
		return nil, models.NewRetrievalError("failed to embed query", err)
	}
	matches, err := r.index.Query(ctx, vec, topK)
	if err != nil {
		return nil, models.NewRetrievalError("similarity query failed", err)
	}

	results := make([]models.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		if m.Score < threshold {
			continue
		}
		results = append(results, toResult(m))
	}
	if r.logger != nil {
		r.logger.Debug("retrieval finished",
			zap.Int("candidates", len(matches)),
			zap.Int("results", len(results)),
			zap.Float64("threshold", threshold))
	}
	return results, nil
}

// Run executes a retrieval-only request and reports results with their confidence.
func (r *Retriever) Run(ctx context.Context, req *models.SearchRequest, threshold float64) (*models.SearchResponse, error) {
	start := time.Now()
	results, err := r.Search(ctx, req.Query, req.TopK, threshold)
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Query:      req.Query,
		Results:    results,
		Confidence: Confidence(results, req.TopK),
		QueryTime:  time.Since(start).Milliseconds(),
	}, nil
}

// toResult moves the stored chunk text out of the match metadata.
func toResult(m vector.Match) models.RetrievalResult {
	meta := make(map[string]interface{}, len(m.Metadata))
	var text string
	for k, v := range m.Metadata {
		if k == "text" {
			text, _ = v.(string)
			continue
		}
		meta[k] = v
	}
	return models.RetrievalResult{ID: m.ID, Text: text, Score: m.Score, Metadata: meta}
}

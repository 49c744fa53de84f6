package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search, optionally snapshotted to disk.
	IndexTypeMemory IndexType = "memory"
	// IndexTypePgVector stores vectors in PostgreSQL with the pgvector extension.
	IndexTypePgVector IndexType = "pgvector"
	// IndexTypeQdrant stores vectors in a Qdrant collection over REST.
	IndexTypeQdrant IndexType = "qdrant"
)

// NewIndex creates the index selected by cfg.Type for vectors of the given dimension.
func NewIndex(ctx context.Context, cfg *config.VectorConfig, dimensions int) (Index, error) {
	switch IndexType(cfg.Type) {
	case IndexTypeMemory, "":
		if cfg.SnapshotPath != "" {
			return OpenMemoryIndex(dimensions, cfg.SnapshotPath)
		}
		return NewMemoryIndex(dimensions)
	case IndexTypePgVector:
		if cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("pgvector index requires vector.postgres.dsn or KOTAE_DATABASE_URL")
		}
		return NewPgVectorIndex(ctx, cfg.Postgres.DSN, cfg.Postgres.Table, dimensions)
	case IndexTypeQdrant:
		return NewQdrantIndex(ctx, cfg.Qdrant.URL, cfg.Qdrant.APIKey, cfg.Qdrant.Collection, dimensions, 0)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, pgvector, qdrant)", cfg.Type)
	}
}

// Package storage provides the document registry: the record of what has been ingested.
package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
)

// Registry records ingested documents. Get returns models.ErrNotFound for unknown ids.
type Registry interface {
	Put(ctx context.Context, doc *models.DocumentInfo) error
	Get(ctx context.Context, id string) (*models.DocumentInfo, error)
	Delete(ctx context.Context, id string) error
	// List returns all documents, newest upload first.
	List(ctx context.Context) ([]*models.DocumentInfo, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// NewRegistry opens the registry backend selected by cfg.Registry.
func NewRegistry(cfg *config.StorageConfig) (Registry, error) {
	switch cfg.Registry {
	case "memory", "":
		return NewMemoryRegistry(), nil
	case "sqlite":
		return NewSQLiteRegistry(cfg.DatabasePath)
	default:
		return nil, fmt.Errorf("unknown registry backend: %s (supported: memory, sqlite)", cfg.Registry)
	}
}

func copyInfo(doc *models.DocumentInfo) *models.DocumentInfo {
	c := *doc
	if doc.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(doc.Metadata))
		for k, v := range doc.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
)

// MemoryRegistry keeps document records in a map. Contents are lost on restart.
type MemoryRegistry struct {
	mu   sync.RWMutex
	docs map[string]*models.DocumentInfo
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{docs: make(map[string]*models.DocumentInfo)}
}

// Put inserts or replaces a record.
func (r *MemoryRegistry) Put(ctx context.Context, doc *models.DocumentInfo) error {
	if doc.DocumentID == "" {
		return fmt.Errorf("document id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.DocumentID] = copyInfo(doc)
	return nil
}

// Get returns a copy of the record for id.
func (r *MemoryRegistry) Get(ctx context.Context, id string) (*models.DocumentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return copyInfo(doc), nil
}

// Delete removes the record for id. Unknown ids return models.ErrNotFound.
func (r *MemoryRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	delete(r.docs, id)
	return nil
}

// List returns copies of all records, newest first.
func (r *MemoryRegistry) List(ctx context.Context) ([]*models.DocumentInfo, error) {
	r.mu.RLock()
	out := make([]*models.DocumentInfo, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, copyInfo(d))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadDate.Equal(out[j].UploadDate) {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].UploadDate.After(out[j].UploadDate)
	})
	return out, nil
}

// Count returns the number of records.
func (r *MemoryRegistry) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs), nil
}

// Close is a no-op.
func (r *MemoryRegistry) Close() error {
	return nil
}

// Package vector provides similarity index backends for chunk embeddings.
package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/models"
)

// Index stores chunk vectors with metadata and answers nearest-neighbour queries.
type Index interface {
	// Upsert inserts or replaces records by ID.
	Upsert(ctx context.Context, records []Record) error
	// Query returns up to k matches ordered by descending similarity.
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	// Delete removes every record whose metadata matches all filter entries.
	Delete(ctx context.Context, filter Filter) error
	Stats(ctx context.Context) (models.IndexStats, error)
	Close() error
}

// Record is a vector with its chunk ID and metadata.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]interface{}
}

// Match is a single query hit. Score is cosine similarity clamped to [0, 1].
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]interface{}
}

// Filter is an equality filter over metadata keys.
type Filter map[string]interface{}

// Matches reports whether metadata satisfies every entry of f. Values are
// compared by their string form so JSON round-trips (int vs float64) still match.
func (f Filter) Matches(metadata map[string]interface{}) bool {
	for k, want := range f {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// DocumentFilter selects all chunks of a document.
func DocumentFilter(docID string) Filter {
	return Filter{"document_id": docID}
}

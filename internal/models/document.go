// Package models defines core data structures for documents, chunks, chat exchanges, and retrieval results.
package models

import "time"

// Document status values recorded in the registry.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// DocumentInfo is the registry record for an ingested document.
type DocumentInfo struct {
	DocumentID   string                 `json:"document_id" db:"document_id"`
	Filename     string                 `json:"filename" db:"filename"`
	DocumentType string                 `json:"document_type" db:"document_type"`
	UploadDate   time.Time              `json:"upload_date" db:"upload_date"`
	ChunkCount   int                    `json:"chunk_count" db:"chunk_count"`
	Status       string                 `json:"status" db:"status"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
}

// DocumentChunk is a contiguous span of normalized document text, the unit of
// embedding and retrieval.
type DocumentChunk struct {
	ChunkID    string                 `json:"chunk_id"`
	DocumentID string                 `json:"document_id"`
	Text       string                 `json:"text"`
	ChunkIndex int                    `json:"chunk_index"`
	Embedding  []float32              `json:"-"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// RetrievalResult is a chunk returned by a similarity query, best first.
type RetrievalResult struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Filename returns the filename recorded in the result metadata, or "Unknown".
func (r RetrievalResult) Filename() string {
	if s, ok := r.Metadata["filename"].(string); ok && s != "" {
		return s
	}
	return "Unknown"
}

// UploadResponse is returned after a document has been ingested.
type UploadResponse struct {
	DocumentID    string    `json:"document_id"`
	Filename      string    `json:"filename"`
	Status        string    `json:"status"`
	ChunksCreated int       `json:"chunks_created"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// DocumentList is the response body for listing documents.
type DocumentList struct {
	Documents  []*DocumentInfo `json:"documents"`
	TotalCount int             `json:"total_count"`
}

// IndexStats describes the similarity index.
type IndexStats struct {
	Count     int `json:"count"`
	Dimension int `json:"dimension"`
}

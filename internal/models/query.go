package models

import (
	"strings"
	"time"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxQueryLength is the longest accepted chat query, in characters.
const MaxQueryLength = 1000

// Turn is one entry of a conversation history.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ChatRequest is a user question, optionally continuing a conversation.
type ChatRequest struct {
	Query          string `json:"query" validate:"required,max=1000"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,max=128"`
}

// Normalize trims surrounding whitespace from the query.
func (r *ChatRequest) Normalize() {
	r.Query = strings.TrimSpace(r.Query)
	r.ConversationID = strings.TrimSpace(r.ConversationID)
}

// ChatResponse is the answer to a ChatRequest.
type ChatResponse struct {
	Answer         string    `json:"answer"`
	Sources        []Source  `json:"sources"`
	ConversationID string    `json:"conversation_id"`
	Confidence     float64   `json:"confidence"`
	Timestamp      time.Time `json:"timestamp"`
}

// Source is a display-trimmed retrieval result attached to an answer.
type Source struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata SourceMetadata `json:"metadata"`
}

// SourceMetadata identifies where a source passage came from.
type SourceMetadata struct {
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	DocumentID string `json:"document_id"`
}

// SearchRequest asks for retrieval results without answer generation.
type SearchRequest struct {
	Query string `json:"query" validate:"required,max=1000"`
	TopK  int    `json:"top_k,omitempty" validate:"omitempty,min=1,max=50"`
}

// SearchResponse is the response body for a retrieval-only query.
type SearchResponse struct {
	Query      string            `json:"query"`
	Results    []RetrievalResult `json:"results"`
	Confidence float64           `json:"confidence"`
	QueryTime  int64             `json:"query_time_ms"`
}

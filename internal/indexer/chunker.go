// Package indexer provides sentence-aware chunking and the document ingestion pipeline.
package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrEmptyDocument is returned when normalized text yields no sentences.
var ErrEmptyDocument = &models.Error{Kind: models.KindValidation, Message: "document contains no text"}

// Chunker groups sentences into chunks of at most chunkSize characters, carrying
// trailing sentences of each closed chunk forward as overlap.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	splitter     Splitter
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithSplitter replaces the default sentence splitter.
func WithSplitter(s Splitter) ChunkerOption {
	return func(c *Chunker) { c.splitter = s }
}

// NewChunker creates a chunker with the given size and overlap (in characters).
func NewChunker(chunkSize, chunkOverlap int, opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		splitter:     HeuristicSplitter{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk normalizes text and splits it into ordered chunks for docID. Every chunk's
// metadata holds filename, chunk_index and document_id on top of the extra entries.
// A sentence longer than the chunk size becomes a chunk on its own.
func (c *Chunker) Chunk(text, docID, filename string, extra map[string]interface{}) ([]*models.DocumentChunk, error) {
	sentences := c.splitter.Split(Normalize(text))
	if len(sentences) == 0 {
		return nil, ErrEmptyDocument
	}

	var chunks []*models.DocumentChunk
	var current []string
	currentLen := 0
	for _, sentence := range sentences {
		n := utf8.RuneCountInString(sentence)
		if currentLen+n > c.chunkSize && len(current) > 0 {
			chunks = append(chunks, newChunk(current, docID, filename, len(chunks), extra))
			current = append(overlapTail(current, c.chunkOverlap), sentence)
			currentLen = runeLen(current)
			continue
		}
		current = append(current, sentence)
		currentLen += n
	}
	if len(current) > 0 {
		chunks = append(chunks, newChunk(current, docID, filename, len(chunks), extra))
	}
	return chunks, nil
}

// overlapTail walks sentences backwards, taking each one until at least overlap
// characters have been collected.
func overlapTail(sentences []string, overlap int) []string {
	count := 0
	start := len(sentences)
	for start > 0 && count < overlap {
		start--
		count += utf8.RuneCountInString(sentences[start])
	}
	tail := make([]string, len(sentences)-start, len(sentences)-start+1)
	copy(tail, sentences[start:])
	return tail
}

func runeLen(sentences []string) int {
	n := 0
	for _, s := range sentences {
		n += utf8.RuneCountInString(s)
	}
	return n
}

func newChunk(sentences []string, docID, filename string, index int, extra map[string]interface{}) *models.DocumentChunk {
	meta := make(map[string]interface{}, len(extra)+3)
	for k, v := range extra {
		meta[k] = v
	}
	meta["filename"] = filename
	meta["chunk_index"] = index
	meta["document_id"] = docID
	return &models.DocumentChunk{
		ChunkID:    ChunkID(docID, index),
		DocumentID: docID,
		Text:       strings.Join(sentences, " "),
		ChunkIndex: index,
		Metadata:   meta,
	}
}

// ChunkID returns the first 16 hex characters of SHA-256("<docID>_<index>").
func ChunkID(docID string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%d", docID, index)))
	return hex.EncodeToString(sum[:])[:16]
}


package indexer

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentence returns a sentence of exactly n characters starting with lead.
func sentence(lead byte, n int) string {
	return string(lead) + strings.Repeat("x", n-2) + "."
}

func TestChunker_ThreeLongSentences(t *testing.T) {
	s1, s2, s3 := sentence('A', 500), sentence('B', 500), sentence('C', 500)
	c := NewChunker(1000, 200)

	chunks, err := c.Chunk(s1+" "+s2+" "+s3, "doc1", "cv.txt", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, s1+" "+s2, chunks[0].Text)
	assert.Equal(t, s2+" "+s3, chunks[1].Text, "second chunk should start with the overlap sentence")
}

func TestChunker_Metadata(t *testing.T) {
	c := NewChunker(40, 10)
	text := "The first sentence is here. The second one follows. A third closes it."
	chunks, err := c.Chunk(text, "doc1", "notes.md", map[string]interface{}{
		"upload_date": "2024-03-01T10:00:00Z",
		"filename":    "should be overridden",
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, "doc1", ch.DocumentID)
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, ChunkID("doc1", i), ch.ChunkID)
		assert.Len(t, ch.ChunkID, 16)
		assert.Equal(t, "notes.md", ch.Metadata["filename"])
		assert.Equal(t, "doc1", ch.Metadata["document_id"])
		assert.Equal(t, i, ch.Metadata["chunk_index"])
		assert.Equal(t, "2024-03-01T10:00:00Z", ch.Metadata["upload_date"])
	}
}

func TestChunker_Idempotent(t *testing.T) {
	c := NewChunker(60, 20)
	text := "Alpha beta gamma. Delta epsilon zeta! Eta theta iota? Kappa lambda mu. Nu xi omicron."
	a, err := c.Chunk(text, "d", "f.txt", nil)
	require.NoError(t, err)
	b, err := c.Chunk(text, "d", "f.txt", nil)
	require.NoError(t, err)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Text, b[i].Text)
		assert.Equal(t, a[i].ChunkID, b[i].ChunkID)
	}
}

func TestChunker_OverlapContinuity(t *testing.T) {
	c := NewChunker(50, 15)
	text := "One short sentence. Two short sentence. Three short sentence. Four short sentence. Five short sentence."
	chunks, err := c.Chunk(text, "d", "f.txt", nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	split := HeuristicSplitter{}
	for i := 1; i < len(chunks); i++ {
		prev := split.Split(chunks[i-1].Text)
		cur := split.Split(chunks[i].Text)
		assert.Equal(t, prev[len(prev)-1], cur[0], "chunk %d should open with the last sentence of chunk %d", i, i-1)
	}
}

func TestChunker_SizeBound(t *testing.T) {
	c := NewChunker(100, 0)
	long := sentence('L', 250)
	text := "Short one. " + long + " Another short one. And one more here."
	chunks, err := c.Chunk(text, "d", "f.txt", nil)
	require.NoError(t, err)

	found := false
	for _, ch := range chunks {
		if ch.Text == long {
			found = true
			continue
		}
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 100)
	}
	assert.True(t, found, "an oversized sentence should become its own chunk unsplit")
}

func TestChunker_CountsRunes(t *testing.T) {
	c := NewChunker(12, 0)
	chunks, err := c.Chunk("日本語です. Next.", "d", "f.txt", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1, "both sentences fit when measured in characters")
}

func TestChunker_Empty(t *testing.T) {
	c := NewChunker(100, 10)
	chunks, err := c.Chunk("   \n\t\x00  ", "d", "f.txt", nil)
	assert.Nil(t, chunks)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))
	assert.Same(t, ErrEmptyDocument, err)
}

type lineSplitter struct{}

func (lineSplitter) Split(text string) []string { return strings.Split(text, " | ") }

func TestChunker_WithSplitter(t *testing.T) {
	c := NewChunker(5, 0, WithSplitter(lineSplitter{}))
	chunks, err := c.Chunk("abc | def | ghi", "d", "f.txt", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "def", chunks[1].Text)
}

func TestHeuristicSplitter(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello world. This is Go.", []string{"Hello world.", "This is Go."}},
		{"Really? Yes! Fine.", []string{"Really?", "Yes!", "Fine."}},
		{"Version 1.2 is out. it stays.", []string{"Version 1.2 is out. it stays."}},
		{"No terminator", []string{"No terminator"}},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HeuristicSplitter{}.Split(tt.in), "Split(%q)", tt.in)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b", Normalize("  a \n\t b  "))
	assert.Equal(t, "ab c", Normalize("a\x00b\x0b c\x7f"))
	assert.Equal(t, "", Normalize(" \x01 "))
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, ChunkID("doc", 0), ChunkID("doc", 0))
	assert.NotEqual(t, ChunkID("doc", 0), ChunkID("doc", 1))
	assert.NotEqual(t, ChunkID("doc_1", 0), ChunkID("doc", 10))
}

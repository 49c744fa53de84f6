package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testText = "Kotae indexes personal documents. It answers questions about research and projects. " +
	"Every answer cites the passages it used."

func testDocumentsConfig() *config.DocumentsConfig {
	return &config.DocumentsConfig{
		MaxFileSizeMB:       1,
		ChunkSize:           60,
		ChunkOverlap:        10,
		MinTextLength:       10,
		SupportedExtensions: []string{".txt", ".md", ".xlsx", ".pdf"},
	}
}

// countingEmbedder wraps the mock embedder and counts batch calls.
type countingEmbedder struct {
	*embedding.MockEmbedder
	batches atomic.Int32
	fail    error
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string, purpose embedding.Purpose) ([][]float32, error) {
	e.batches.Add(1)
	if e.fail != nil {
		return nil, e.fail
	}
	return e.MockEmbedder.EmbedBatch(ctx, texts, purpose)
}

// failingUpsertIndex writes records and then reports an error, like a store that
// accepted part of a batch before failing.
type failingUpsertIndex struct {
	*vector.MemoryIndex
}

func (f failingUpsertIndex) Upsert(ctx context.Context, records []vector.Record) error {
	if err := f.MemoryIndex.Upsert(ctx, records); err != nil {
		return err
	}
	return errors.New("connection reset")
}

type fixture struct {
	idx      *Indexer
	registry *storage.MemoryRegistry
	index    *vector.MemoryIndex
	embedder *countingEmbedder
}

func newFixture(t *testing.T, opts ...IndexerOption) *fixture {
	t.Helper()
	index, err := vector.NewMemoryIndex(16)
	require.NoError(t, err)
	f := &fixture{
		registry: storage.NewMemoryRegistry(),
		index:    index,
		embedder: &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(16)},
	}
	f.idx = NewIndexer(f.registry, f.embedder, f.index, nil, testDocumentsConfig(), opts...)
	return f
}

func indexCount(t *testing.T, idx vector.Index) int {
	t.Helper()
	stats, err := idx.Stats(context.Background())
	require.NoError(t, err)
	return stats.Count
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{".txt", ".md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
		{"docx", []string{".docx"}, true},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestUpload(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return at }))
	ctx := context.Background()

	resp, err := f.idx.Upload(ctx, "notes.txt", []byte(testText))
	require.NoError(t, err)
	assert.Equal(t, fileid.UploadDocID("notes.txt", at), resp.DocumentID)
	assert.Equal(t, models.StatusCompleted, resp.Status)
	assert.Equal(t, "notes.txt", resp.Filename)
	assert.Greater(t, resp.ChunksCreated, 1)
	assert.Contains(t, resp.Message, "Created")

	docs, err := f.idx.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, resp.DocumentID, docs[0].DocumentID)
	assert.Equal(t, "txt", docs[0].DocumentType)
	assert.Equal(t, resp.ChunksCreated, docs[0].ChunkCount)
	assert.Equal(t, "2024-03-01T10:00:00Z", docs[0].Metadata["upload_date"])

	assert.Equal(t, resp.ChunksCreated, indexCount(t, f.index))
	vec, err := f.embedder.Embed(ctx, "research projects", embedding.PurposeQuery)
	require.NoError(t, err)
	matches, err := f.index.Query(ctx, vec, 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, resp.DocumentID, m.Metadata["document_id"])
		assert.Equal(t, "notes.txt", m.Metadata["filename"])
		assert.NotEmpty(t, m.Metadata["text"])
	}
}

func TestUpload_storedTextIsCapped(t *testing.T) {
	f := newFixture(t)
	cfg := testDocumentsConfig()
	cfg.ChunkSize = 5000
	f.idx = NewIndexer(f.registry, f.embedder, f.index, nil, cfg)

	long := "A" + strings.Repeat("b", 2500) + "."
	_, err := f.idx.Upload(context.Background(), "long.txt", []byte(long))
	require.NoError(t, err)

	vec, _ := f.embedder.Embed(context.Background(), long, embedding.PurposeQuery)
	matches, err := f.index.Query(context.Background(), vec, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Len(t, matches[0].Metadata["text"], storedTextLimit)
}

func TestUpload_sameFileTwice(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()

	a, err := f.idx.Upload(ctx, "notes.txt", []byte(testText))
	require.NoError(t, err)
	b, err := f.idx.Upload(ctx, "notes.txt", []byte(testText))
	require.NoError(t, err)
	assert.NotEqual(t, a.DocumentID, b.DocumentID)

	docs, err := f.idx.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, b.DocumentID, docs[0].DocumentID, "newest first")
}

func TestUpload_validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.idx.Upload(ctx, "", []byte(testText))
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.idx.Upload(ctx, "script.sh", []byte(testText))
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.NotErrorIs(t, err, ErrFileTooLarge)

	big := make([]byte, 1024*1024+1)
	_, err = f.idx.Upload(ctx, "big.txt", big)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	assert.Equal(t, int32(0), f.embedder.batches.Load())
	n, err := f.registry.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpload_insufficientText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.idx.Upload(ctx, "tiny.txt", []byte("  short  "))
	assert.ErrorIs(t, err, models.ErrExtraction)

	_, err = f.idx.Upload(ctx, "broken.pdf", []byte("not a pdf"))
	assert.ErrorIs(t, err, models.ErrExtraction)

	assert.Equal(t, int32(0), f.embedder.batches.Load())
	docs, err := f.idx.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestUpload_embedFailureRegistersNothing(t *testing.T) {
	f := newFixture(t)
	f.embedder.fail = errors.New("quota exceeded")
	ctx := context.Background()

	_, err := f.idx.Upload(ctx, "notes.txt", []byte(testText))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	docs, err := f.idx.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Zero(t, indexCount(t, f.index))
}

func TestUpload_upsertFailureCleansUpVectors(t *testing.T) {
	f := newFixture(t)
	f.idx = NewIndexer(f.registry, f.embedder, failingUpsertIndex{f.index}, nil, testDocumentsConfig())
	ctx := context.Background()

	_, err := f.idx.Upload(ctx, "notes.txt", []byte(testText))
	require.Error(t, err)

	assert.Zero(t, indexCount(t, f.index), "partially written vectors should be removed")
	docs, err := f.idx.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep, err := f.idx.Upload(ctx, "keep.md", []byte(testText))
	require.NoError(t, err)
	gone, err := f.idx.Upload(ctx, "gone.txt", []byte("Deleted documents leave no vectors behind. None at all."))
	require.NoError(t, err)

	require.NoError(t, f.idx.DeleteDocument(ctx, gone.DocumentID))

	vec, _ := f.embedder.Embed(ctx, "deleted documents vectors", embedding.PurposeQuery)
	matches, err := f.index.Query(ctx, vec, 100)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, gone.DocumentID, m.Metadata["document_id"])
	}
	assert.Equal(t, keep.ChunksCreated, indexCount(t, f.index))

	err = f.idx.DeleteDocument(ctx, gone.DocumentID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	err = f.idx.DeleteDocument(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	a, err := filepath.Abs(path)
	require.NoError(t, err)
	return a
}

func TestIndexFile_createAndUpdate(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(fPath, []byte("Hello world content."), 0600))
	require.NoError(t, f.idx.IndexFile(ctx, fPath))

	docID := fileid.FileDocID(mustAbs(t, fPath))
	doc, err := f.registry.Get(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", doc.Filename)
	assert.Equal(t, mustAbs(t, fPath), doc.Metadata["source_path"])
	assert.Equal(t, 1, indexCount(t, f.index))

	require.NoError(t, os.WriteFile(fPath, []byte("Updated content that is a little longer."), 0600))
	require.NoError(t, f.idx.IndexFile(ctx, fPath))

	vec, _ := f.embedder.Embed(ctx, "updated content", embedding.PurposeQuery)
	matches, err := f.index.Query(ctx, vec, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1, "previous vectors should be replaced")
	assert.Equal(t, "Updated content that is a little longer.", matches[0].Metadata["text"])
}

func TestIndexFile_skipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(fPath, []byte("# Title\n\nSome markdown body text."), 0600))
	require.NoError(t, f.idx.IndexFile(ctx, fPath))
	require.NoError(t, f.idx.IndexFile(ctx, fPath))
	assert.Equal(t, int32(1), f.embedder.batches.Load())
}

// rewrite changes the file's content and pushes its mtime forward so IndexFile sees a change.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
}

func TestIndexFile_reindexEmbedFailureKeepsPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(fPath, []byte(testText), 0600))
	require.NoError(t, f.idx.IndexFile(ctx, fPath))
	docID := fileid.FileDocID(mustAbs(t, fPath))
	before, err := f.registry.Get(ctx, docID)
	require.NoError(t, err)
	vectorsBefore := indexCount(t, f.index)
	require.Equal(t, before.ChunkCount, vectorsBefore)

	rewrite(t, fPath, testText+" A fourth sentence was added later.")
	f.embedder.fail = errors.New("gateway down")
	err = f.idx.IndexFile(ctx, fPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway down")

	after, err := f.registry.Get(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, before.ChunkCount, after.ChunkCount)
	assert.Equal(t, vectorsBefore, indexCount(t, f.index), "vectors of the registered version must survive")
}

func TestIndexFile_reindexUpsertFailureUnregisters(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(fPath, []byte(testText), 0600))
	require.NoError(t, f.idx.IndexFile(ctx, fPath))
	docID := fileid.FileDocID(mustAbs(t, fPath))

	rewrite(t, fPath, "Replacement text for the document. It is shorter.")
	failing := NewIndexer(f.registry, f.embedder, failingUpsertIndex{f.index}, nil, testDocumentsConfig())
	require.Error(t, failing.IndexFile(ctx, fPath))

	_, err := f.registry.Get(ctx, docID)
	assert.ErrorIs(t, err, models.ErrNotFound, "a document without vectors must not stay registered")
	assert.Zero(t, indexCount(t, f.index))
}

func TestIndexFile_rejected(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t)
	ctx := context.Background()

	script := filepath.Join(dir, "script.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/bash"), 0600))
	assert.ErrorIs(t, f.idx.IndexFile(ctx, script), models.ErrValidation)

	assert.Error(t, f.idx.IndexFile(ctx, dir), "directories are not regular files")
	assert.Error(t, f.idx.IndexFile(ctx, filepath.Join(dir, "missing.txt")))
}

func TestIndexFile_excel(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "data.xlsx")
	x := excelize.NewFile()
	require.NoError(t, x.SetCellValue("Sheet1", "A1", "Excel searchable content"))
	require.NoError(t, x.SaveAs(fPath))
	require.NoError(t, x.Close())

	require.NoError(t, f.idx.IndexFile(ctx, fPath))
	doc, err := f.registry.Get(ctx, fileid.FileDocID(mustAbs(t, fPath)))
	require.NoError(t, err)
	assert.Equal(t, "xlsx", doc.DocumentType)

	vec, _ := f.embedder.Embed(ctx, "excel", embedding.PurposeQuery)
	matches, err := f.index.Query(ctx, vec, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "[Sheet1] Excel searchable content", matches[0].Metadata["text"])
}

func TestIndexDirectory(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t)
	ctx := context.Background()

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	files := []struct{ path, content string }{
		{filepath.Join(dir, "a.txt"), "File a has enough text."},
		{filepath.Join(dir, "b.md"), "File b has enough text."},
		{filepath.Join(sub, "c.txt"), "File c has enough text."},
		{filepath.Join(dir, "skip.sh"), "echo skipped"},
		{filepath.Join(dir, "tiny.txt"), "tiny"},
	}
	for _, file := range files {
		require.NoError(t, os.WriteFile(file.path, []byte(file.content), 0600))
	}

	n, err := f.idx.IndexDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = f.idx.IndexDirectory(ctx, filepath.Join(dir, "a.txt"))
	assert.Error(t, err, "a file is not a directory")
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// ErrFileTooLarge is wrapped in the validation error returned for oversized uploads.
var ErrFileTooLarge = errors.New("file too large")

// storedTextLimit caps the chunk text kept in vector metadata.
const storedTextLimit = 1000

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// Indexer runs the ingestion pipeline: extract, chunk, embed, upsert, register.
type Indexer struct {
	registry  storage.Registry
	embedder  embedding.Embedder
	index     vector.Index
	extractor *extract.Extractor
	chunker   *Chunker
	config    *config.DocumentsConfig
	logger    *zap.Logger // optional; when set, logs debug events
	now       func() time.Time
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (document uploaded, file skipped, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithChunker replaces the chunker built from the documents config.
func WithChunker(c *Chunker) IndexerOption {
	return func(idx *Indexer) { idx.chunker = c }
}

// WithClock sets the time source used for upload dates and upload IDs.
func WithClock(now func() time.Time) IndexerOption {
	return func(idx *Indexer) { idx.now = now }
}

// NewIndexer creates an indexer with the given dependencies. extractor may be nil,
// in which case a default extractor is used.
func NewIndexer(
	registry storage.Registry,
	embedder embedding.Embedder,
	index vector.Index,
	extractor *extract.Extractor,
	cfg *config.DocumentsConfig,
	opts ...IndexerOption,
) *Indexer {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	idx := &Indexer{
		registry:  registry,
		embedder:  embedder,
		index:     index,
		extractor: extractor,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		config:    cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Upload ingests an uploaded file. Each upload gets a fresh document ID, so uploading
// the same file twice creates two documents.
func (idx *Indexer) Upload(ctx context.Context, filename string, content []byte) (*models.UploadResponse, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, models.NewValidationError("no file provided")
	}
	if err := idx.checkFile(filename, int64(len(content))); err != nil {
		return nil, err
	}

	uploadedAt := idx.now().UTC()
	docID := fileid.UploadDocID(filename, uploadedAt)
	ext := strings.ToLower(filepath.Ext(filename))

	text, err := idx.extractText(content, ext)
	if err != nil {
		return nil, err
	}

	meta := map[string]interface{}{
		"upload_date":  uploadedAt.Format(time.RFC3339),
		"file_size_mb": utils.Round(float64(len(content))/(1024*1024), 2),
	}
	if ext == ".pdf" {
		if pages, err := extract.PageCount(content); err == nil {
			meta["page_count"] = pages
		} else if idx.logger != nil {
			idx.logger.Debug("indexer page count unavailable", zap.String("filename", filename), zap.Error(err))
		}
	}

	info := &models.DocumentInfo{
		DocumentID:   docID,
		Filename:     filename,
		DocumentType: extract.DocumentType(filename),
		UploadDate:   uploadedAt,
		Metadata:     meta,
	}
	n, err := idx.ingest(ctx, info, text, false)
	if err != nil {
		return nil, err
	}
	if idx.logger != nil {
		idx.logger.Info("document uploaded",
			zap.String("doc_id", docID),
			zap.String("filename", filename),
			zap.Int("chunks", n))
	}
	return &models.UploadResponse{
		DocumentID:    docID,
		Filename:      filename,
		Status:        models.StatusCompleted,
		ChunksCreated: n,
		Message:       fmt.Sprintf("Document processed successfully. Created %d chunks.", n),
		Timestamp:     uploadedAt,
	}, nil
}

// IndexFile reads a file from path and indexes it. The document ID is derived from the
// absolute path so re-indexing replaces the same document. Files already indexed with the
// same mtime and size are skipped.
func (idx *Indexer) IndexFile(ctx context.Context, path string) error {
	if idx.logger != nil {
		idx.logger.Debug("indexer indexing file", zap.String("path", path))
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", absPath)
	}
	filename := filepath.Base(absPath)
	if err := idx.checkFile(filename, info.Size()); err != nil {
		return err
	}

	docID := fileid.FileDocID(absPath)
	if idx.unchanged(ctx, docID, absPath, info) {
		if idx.logger != nil {
			idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		}
		return nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	text, err := idx.extractText(content, strings.ToLower(filepath.Ext(absPath)))
	if err != nil {
		return err
	}

	indexedAt := idx.now().UTC()
	doc := &models.DocumentInfo{
		DocumentID:   docID,
		Filename:     filename,
		DocumentType: extract.DocumentType(filename),
		UploadDate:   indexedAt,
		Metadata: map[string]interface{}{
			"upload_date":  indexedAt.Format(time.RFC3339),
			"file_size_mb": utils.Round(float64(info.Size())/(1024*1024), 2),

			// Stored as strings: UnixNano exceeds float64 precision after a JSON round-trip.
			metaKeySourcePath:  absPath,
			metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	}
	n, err := idx.ingest(ctx, doc, text, true)
	if err != nil {
		return err
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer file indexed",
			zap.String("path", absPath),
			zap.String("doc_id", docID),
			zap.Int("chunks", n))
	}
	return nil
}

// IndexDirectory walks dir recursively and indexes each regular file with a supported
// extension. Returns the number of files indexed and the first error encountered, if any.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !idx.Supports(path) {
			return nil
		}
		// Resolve symlinks so only regular files are indexed.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if indexErr := idx.IndexFile(ctx, path); indexErr != nil {
			if errors.Is(indexErr, models.ErrExtraction) {
				if idx.logger != nil {
					idx.logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(indexErr))
				}
				return nil
			}
			return fmt.Errorf("%s: %w", path, indexErr)
		}
		n++
		return nil
	})
	return n, err
}

// DeleteDocument removes a document's vectors and its registry record.
// Returns models.ErrNotFound for unknown IDs.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	if _, err := idx.registry.Get(ctx, id); err != nil {
		return err
	}
	if err := idx.index.Delete(ctx, vector.DocumentFilter(id)); err != nil {
		return fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if err := idx.registry.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer document deleted", zap.String("id", id))
	}
	return nil
}

// ListDocuments returns all registered documents, newest first.
func (idx *Indexer) ListDocuments(ctx context.Context) ([]*models.DocumentInfo, error) {
	docs, err := idx.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// Supports reports whether the file's extension is in the supported list.
func (idx *Indexer) Supports(path string) bool {
	return extensionAllowed(filepath.Ext(path), idx.config.SupportedExtensions)
}

func (idx *Indexer) checkFile(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !extensionAllowed(ext, idx.config.SupportedExtensions) {
		return models.NewValidationError("unsupported file type %q; allowed: %s",
			ext, strings.Join(idx.config.SupportedExtensions, ", "))
	}
	if limit := idx.config.MaxFileSizeBytes(); limit > 0 && size > limit {
		return &models.Error{
			Kind:    models.KindValidation,
			Message: fmt.Sprintf("file exceeds maximum size of %dMB", idx.config.MaxFileSizeMB),
			Err:     ErrFileTooLarge,
		}
	}
	return nil
}

func (idx *Indexer) extractText(content []byte, ext string) (string, error) {
	text, err := idx.extractor.ExtractBytes(content, ext)
	if err != nil {
		return "", models.NewExtractionError("failed to extract text", err)
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < idx.config.MinTextLength {
		return "", models.NewExtractionError("insufficient text extracted from document", nil)
	}
	return text, nil
}

// ingest chunks, embeds, and upserts text, then registers doc. Vectors written for a
// document that fails to register are removed again. With replace set, the document's
// previous vectors are dropped only once embedding has succeeded; a failure after that
// point also drops its registry entry so no document stays registered without vectors.
func (idx *Indexer) ingest(ctx context.Context, doc *models.DocumentInfo, text string, replace bool) (int, error) {
	chunks, err := idx.chunker.Chunk(text, doc.DocumentID, doc.Filename, doc.Metadata)
	if err != nil {
		return 0, err
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts, embedding.PurposeDocument)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	records := make([]vector.Record, len(chunks))
	for i, ch := range chunks {
		ch.Embedding = vectors[i]
		meta := make(map[string]interface{}, len(ch.Metadata)+1)
		for k, v := range ch.Metadata {
			meta[k] = v
		}
		meta["text"] = utils.Cut(ch.Text, storedTextLimit)
		records[i] = vector.Record{ID: ch.ChunkID, Vector: ch.Embedding, Metadata: meta}
	}

	if replace {
		if err := idx.index.Delete(ctx, vector.DocumentFilter(doc.DocumentID)); err != nil {
			return 0, fmt.Errorf("failed to remove previous vectors: %w", err)
		}
	}
	if err := idx.index.Upsert(ctx, records); err != nil {
		idx.cleanup(doc.DocumentID, replace)
		return 0, fmt.Errorf("failed to index vectors: %w", err)
	}
	doc.ChunkCount = len(chunks)
	doc.Status = models.StatusCompleted
	if err := idx.registry.Put(ctx, doc); err != nil {
		idx.cleanup(doc.DocumentID, replace)
		return 0, fmt.Errorf("failed to register document: %w", err)
	}
	return len(chunks), nil
}

// cleanup removes a document's vectors after a failed ingest, and its registry entry
// when unregister is set. It runs on a fresh context so a cancelled request still gets
// cleaned up.
func (idx *Indexer) cleanup(docID string, unregister bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := idx.index.Delete(ctx, vector.DocumentFilter(docID)); err != nil && idx.logger != nil {
		idx.logger.Warn("failed to clean up vectors", zap.String("doc_id", docID), zap.Error(err))
	}
	if !unregister {
		return
	}
	if err := idx.registry.Delete(ctx, docID); err != nil && !errors.Is(err, models.ErrNotFound) && idx.logger != nil {
		idx.logger.Warn("failed to unregister document", zap.String("doc_id", docID), zap.Error(err))
	}
}

// unchanged reports whether docID is registered for absPath with the file's current
// mtime and size.
func (idx *Indexer) unchanged(ctx context.Context, docID, absPath string, info os.FileInfo) bool {
	doc, err := idx.registry.Get(ctx, docID)
	if err != nil || doc.Metadata == nil {
		return false
	}
	if doc.Metadata[metaKeySourcePath] != absPath {
		return false
	}
	return metadataInt64(doc.Metadata, metaKeySourceMtime) == info.ModTime().UnixNano() &&
		metadataInt64(doc.Metadata, metaKeySourceSize) == info.Size()
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	switch n := m[key].(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

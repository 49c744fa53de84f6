package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// SQLiteRegistry implements Registry using SQLite.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRegistry{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		document_id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		document_type TEXT NOT NULL,
		upload_date TIMESTAMP NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_documents_upload_date ON documents(upload_date);
	`
	_, err := db.Exec(schema)
	return err
}

// Put inserts or replaces a document record.
func (s *SQLiteRegistry) Put(ctx context.Context, doc *models.DocumentInfo) error {
	if doc.DocumentID == "" {
		return fmt.Errorf("document id is required")
	}
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (document_id, filename, document_type, upload_date, chunk_count, status, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			filename = excluded.filename,
			document_type = excluded.document_type,
			upload_date = excluded.upload_date,
			chunk_count = excluded.chunk_count,
			status = excluded.status,
			metadata = excluded.metadata`,
		doc.DocumentID, doc.Filename, doc.DocumentType, doc.UploadDate.UTC(), doc.ChunkCount, doc.Status, string(metadataJSON),
	)
	return err
}

// Get returns a document record by ID.
func (s *SQLiteRegistry) Get(ctx context.Context, id string) (*models.DocumentInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document_id, filename, document_type, upload_date, chunk_count, status, metadata
		 FROM documents WHERE document_id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete removes a document record. Unknown ids return models.ErrNotFound.
func (s *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// List returns all document records, newest upload first.
func (s *SQLiteRegistry) List(ctx context.Context) ([]*models.DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, filename, document_type, upload_date, chunk_count, status, metadata
		 FROM documents ORDER BY upload_date DESC, document_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.DocumentInfo
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the number of registered documents.
func (s *SQLiteRegistry) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteRegistry) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.DocumentInfo, error) {
	var doc models.DocumentInfo
	var metadataJSON sql.NullString
	if err := row.Scan(&doc.DocumentID, &doc.Filename, &doc.DocumentType, &doc.UploadDate,
		&doc.ChunkCount, &doc.Status, &metadataJSON); err != nil {
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PgVectorIndex stores chunk vectors in PostgreSQL using the pgvector extension.
// Metadata lives in a jsonb column so deletes can filter on any key.
type PgVectorIndex struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
}

// NewPgVectorIndex connects to dsn and creates the extension, table and indexes if missing.
func NewPgVectorIndex(ctx context.Context, dsn, table string, dimensions int) (*PgVectorIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	idx := &PgVectorIndex{pool: pool, table: table, dimensions: dimensions}
	if err := idx.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (p *PgVectorIndex) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		embedding vector(%[2]d) NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_document_id ON %[1]s(document_id);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding ON %[1]s USING hnsw (embedding vector_cosine_ops);
	`, p.table, p.dimensions)
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Upsert inserts or replaces records in a single batch.
func (p *PgVectorIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
	INSERT INTO %s (id, document_id, metadata, embedding)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET
		document_id = EXCLUDED.document_id,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding`, p.table)
	batch := &pgx.Batch{}
	for _, r := range records {
		if len(r.Vector) != p.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Vector), p.dimensions)
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		docID, _ := r.Metadata["document_id"].(string)
		batch.Queue(query, r.ID, docID, string(meta), pgvector.NewVector(r.Vector))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	return nil
}

// Query returns the k nearest records by cosine distance.
func (p *PgVectorIndex) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) != p.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), p.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
	SELECT id, metadata, 1 - (embedding <=> $1) AS score
	FROM %s
	ORDER BY embedding <=> $1
	LIMIT $2`, p.table)
	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m    Match
			meta []byte
		)
		if err := rows.Scan(&m.ID, &meta, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		m.Score = clampScore(m.Score)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Delete removes records whose metadata matches every filter entry.
func (p *PgVectorIndex) Delete(ctx context.Context, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("refusing to delete with an empty filter")
	}
	var (
		conds []string
		args  []interface{}
	)
	for k, v := range filter {
		args = append(args, k, fmt.Sprint(v))
		conds = append(conds, fmt.Sprintf("metadata->>$%d = $%d", len(args)-1, len(args)))
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", p.table, strings.Join(conds, " AND "))
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

// Stats returns the row count and configured dimension.
func (p *PgVectorIndex) Stats(ctx context.Context) (models.IndexStats, error) {
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", p.table)).Scan(&n); err != nil {
		return models.IndexStats{}, fmt.Errorf("count vectors: %w", err)
	}
	return models.IndexStats{Count: n, Dimension: p.dimensions}, nil
}

// Close releases the connection pool.
func (p *PgVectorIndex) Close() error {
	p.pool.Close()
	return nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

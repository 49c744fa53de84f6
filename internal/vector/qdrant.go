package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kotae/internal/models"
)

// payloadChunkID holds the caller's record ID; Qdrant point IDs must be UUIDs or integers.
const payloadChunkID = "chunk_id"

// QdrantIndex is a minimal REST client for a Qdrant collection using cosine distance.
type QdrantIndex struct {
	url        string
	apiKey     string
	collection string
	dimensions int
	client     *http.Client
}

// NewQdrantIndex creates the collection if missing and returns a client for it.
func NewQdrantIndex(ctx context.Context, url, apiKey, collection string, dimensions int, timeout time.Duration) (*QdrantIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	q := &QdrantIndex{
		url:        url,
		apiKey:     apiKey,
		collection: collection,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
	}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *QdrantIndex) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", q.url, q.collection)
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	var info struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	status, err := q.do(ctx, http.MethodGet, q.collectionURL(), nil, &info)
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimensions,
			"distance": "Cosine",
		},
	}
	if _, err := q.do(ctx, http.MethodPut, q.collectionURL(), body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// PointID maps a record ID to a stable UUID.
func PointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// Upsert writes records and waits for them to be applied.
func (q *QdrantIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, len(records))
	for i, r := range records {
		if len(r.Vector) != q.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Vector), q.dimensions)
		}
		payload := make(map[string]any, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[payloadChunkID] = r.ID
		points[i] = map[string]any{
			"id":      PointID(r.ID),
			"vector":  r.Vector,
			"payload": payload,
		}
	}
	if _, err := q.do(ctx, http.MethodPut, q.collectionURL()+"/points?wait=true", map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// Query searches the collection for the k nearest points.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) != q.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), q.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}
	matches := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		id, _ := r.Payload[payloadChunkID].(string)
		if id == "" {
			id = fmt.Sprint(r.ID)
		}
		delete(r.Payload, payloadChunkID)
		matches = append(matches, Match{ID: id, Score: clampScore(r.Score), Metadata: r.Payload})
	}
	return matches, nil
}

// Delete removes points whose payload matches every filter entry.
func (q *QdrantIndex) Delete(ctx context.Context, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("refusing to delete with an empty filter")
	}
	must := make([]map[string]any, 0, len(filter))
	for k, v := range filter {
		must = append(must, map[string]any{"key": k, "match": map[string]any{"value": v}})
	}
	body := map[string]any{"filter": map[string]any{"must": must}}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL()+"/points/delete?wait=true", body, nil); err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

// Stats returns the collection's point count.
func (q *QdrantIndex) Stats(ctx context.Context) (models.IndexStats, error) {
	var info struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodGet, q.collectionURL(), nil, &info); err != nil {
		return models.IndexStats{}, fmt.Errorf("collection info: %w", err)
	}
	return models.IndexStats{Count: info.Result.PointsCount, Dimension: q.dimensions}, nil
}

// Close is a no-op.
func (q *QdrantIndex) Close() error {
	return nil
}

func (q *QdrantIndex) do(ctx context.Context, method, url string, body any, out any) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

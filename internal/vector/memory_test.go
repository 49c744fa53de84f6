package vector

import (
	"context"
	"path/filepath"
	"testing"
)

func rec(id, doc string, v ...float32) Record {
	return Record{ID: id, Vector: v, Metadata: map[string]interface{}{"document_id": doc, "text": id}}
}

func TestMemoryIndex_UpsertQuery(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	if err := idx.Upsert(ctx, []Record{
		rec("a", "d1", 1, 0, 0),
		rec("b", "d1", 0.9, 0.1, 0),
		rec("c", "d2", 0, 1, 0),
	}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Query(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("order: got %s, %s", results[0].ID, results[1].ID)
	}
	if results[0].Score < results[1].Score {
		t.Error("scores should be descending")
	}
	if results[0].Metadata["document_id"] != "d1" {
		t.Errorf("metadata not returned: %v", results[0].Metadata)
	}
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []Record{rec("x", "d", 1, 0)})
	_ = idx.Upsert(ctx, []Record{rec("x", "d", 0, 1)})
	if idx.Size() != 1 {
		t.Fatalf("expected size 1 after re-upsert, got %d", idx.Size())
	}
	res, _ := idx.Query(ctx, []float32{0, 1}, 1)
	if len(res) != 1 || res[0].Score < 0.99 {
		t.Errorf("expected replaced vector, got %+v", res)
	}
}

func TestMemoryIndex_DeleteByFilter(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []Record{rec("x", "d1", 1, 0), rec("y", "d2", 0, 1), rec("z", "d1", 1, 1)})
	if err := idx.Delete(ctx, DocumentFilter("d1")); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 1 {
		t.Errorf("expected size 1, got %d", idx.Size())
	}
	res, _ := idx.Query(ctx, []float32{1, 0}, 5)
	for _, m := range res {
		if m.Metadata["document_id"] == "d1" {
			t.Errorf("deleted document still returned: %s", m.ID)
		}
	}
}

func TestMemoryIndex_dimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	if err := idx.Upsert(context.Background(), []Record{rec("a", "d", 1, 0)}); err == nil {
		t.Error("expected dimension error on upsert")
	}
	if _, err := idx.Query(context.Background(), []float32{1}, 1); err == nil {
		t.Error("expected dimension error on query")
	}
	if _, err := NewMemoryIndex(0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestMemoryIndex_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx", "vectors.bin")
	ctx := context.Background()

	idx, err := OpenMemoryIndex(2, path)
	if err != nil {
		t.Fatal(err)
	}
	_ = idx.Upsert(ctx, []Record{rec("x", "d1", 1, 0), rec("y", "d2", 0, 1)})
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenMemoryIndex(2, path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Size() != 2 {
		t.Fatalf("reopened size = %d", reopened.Size())
	}
	res, _ := reopened.Query(ctx, []float32{0, 1}, 1)
	if res[0].ID != "y" || res[0].Metadata["document_id"] != "d2" {
		t.Errorf("unexpected match after reload: %+v", res[0])
	}

	if _, err := OpenMemoryIndex(3, path); err == nil {
		t.Error("expected dimension mismatch loading snapshot")
	}
}

func TestFilter_Matches(t *testing.T) {
	meta := map[string]interface{}{"document_id": "d1", "chunk_index": float64(2)}
	if !(Filter{"document_id": "d1"}).Matches(meta) {
		t.Error("expected match on document_id")
	}
	if !(Filter{"chunk_index": 2}).Matches(meta) {
		t.Error("int filter should match float64 metadata")
	}
	if (Filter{"document_id": "d2"}).Matches(meta) {
		t.Error("unexpected match")
	}
	if (Filter{"missing": "x"}).Matches(meta) {
		t.Error("missing key should not match")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if s := CosineSimilarity([]float32{2, 0}, []float32{5, 0}); s < 0.999 {
		t.Errorf("parallel vectors: %f", s)
	}
	if s := CosineSimilarity([]float32{1, 0}, []float32{-1, 0}); s != 0 {
		t.Errorf("opposite vectors should clamp to 0, got %f", s)
	}
	if s := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); s != 0 {
		t.Errorf("zero vector: %f", s)
	}
}

package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/config"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" || req.Prompt != "hello" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float32{0.1, 0.2, 0.3},
		})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "nomic-embed-text", 3, 5*time.Second)
	v, err := e.Embed(context.Background(), "hello", PurposeQuery)
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(v) != 3 || v[1] != 0.2 {
		t.Errorf("unexpected embedding: %v", v)
	}
}

func TestOllamaEmbedder_errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()
		e := NewOllamaEmbedder(server.URL, "m", 3, time.Second)
		if _, err := e.Embed(context.Background(), "x", PurposeDocument); err == nil {
			t.Error("expected error on 500")
		}
	})
	t.Run("dimension_mismatch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{1, 2}})
		}))
		defer server.Close()
		e := NewOllamaEmbedder(server.URL, "m", 3, time.Second)
		if _, err := e.Embed(context.Background(), "x", PurposeDocument); err == nil {
			t.Error("expected dimension mismatch error")
		}
	})
}

func TestTaskType(t *testing.T) {
	if TaskType(PurposeQuery) != "RETRIEVAL_QUERY" {
		t.Errorf("query task type = %s", TaskType(PurposeQuery))
	}
	if TaskType(PurposeDocument) != "RETRIEVAL_DOCUMENT" {
		t.Errorf("document task type = %s", TaskType(PurposeDocument))
	}
}

func TestNew_providers(t *testing.T) {
	if _, err := New(context.Background(), configFor("mock"), "", nil); err != nil {
		t.Errorf("mock provider: %v", err)
	}
	if _, err := New(context.Background(), configFor("gemini"), "", nil); err == nil {
		t.Error("gemini without api key should fail")
	}
	if _, err := New(context.Background(), configFor("bogus"), "", nil); err == nil {
		t.Error("unknown provider should fail")
	}
}

func configFor(provider string) *config.EmbeddingConfig {
	return &config.EmbeddingConfig{Provider: provider, Model: "m", Dimensions: 8, CacheSize: 4}
}

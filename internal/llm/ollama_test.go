package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

func TestOllamaGenerator_singleShot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llama3.2" || req.Prompt != "What is Go?" || req.Stream {
			t.Errorf("unexpected request: %+v", req)
		}
		if req.Options.Temperature != 0.3 {
			t.Errorf("temperature = %v", req.Options.Temperature)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"response": "  A language.  ", "done": true})
	}))
	defer server.Close()

	g := NewOllamaGenerator(server.URL+"/", "llama3.2", 0.3, 5*time.Second)
	text, err := g.Generate(context.Background(), "What is Go?", nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if text != "A language." {
		t.Errorf("text = %q", text)
	}
}

func TestOllamaGenerator_withHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		want := []ollamaMessage{
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello!"},
			{Role: "user", Content: "And now?"},
		}
		if len(req.Messages) != len(want) {
			t.Fatalf("messages = %+v", req.Messages)
		}
		for i := range want {
			if req.Messages[i] != want[i] {
				t.Errorf("message %d = %+v, want %+v", i, req.Messages[i], want[i])
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"role": "assistant", "content": "Now this."},
		})
	}))
	defer server.Close()

	g := NewOllamaGenerator(server.URL, "llama3.2", 0.3, 5*time.Second)
	history := []models.Turn{
		{Role: models.RoleUser, Text: "Hi"},
		{Role: models.RoleAssistant, Text: "Hello!"},
	}
	text, err := g.Generate(context.Background(), "And now?", history)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if text != "Now this." {
		t.Errorf("text = %q", text)
	}
}

func TestOllamaGenerator_errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()
		g := NewOllamaGenerator(server.URL, "m", 0, time.Second)
		if _, err := g.Generate(context.Background(), "x", nil); err == nil {
			t.Error("expected error on 500")
		}
	})
	t.Run("empty", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"response": "   "})
		}))
		defer server.Close()
		g := NewOllamaGenerator(server.URL, "m", 0, time.Second)
		if _, err := g.Generate(context.Background(), "x", nil); err == nil {
			t.Error("expected error on empty response")
		}
	})
	t.Run("unreachable", func(t *testing.T) {
		g := NewOllamaGenerator("http://127.0.0.1:1", "m", 0, time.Second)
		if _, err := g.Generate(context.Background(), "x", nil); err == nil {
			t.Error("expected connection error")
		}
	})
}

func TestOllamaGenerator_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	if !NewOllamaGenerator(server.URL, "m", 0, time.Second).HealthCheck(context.Background()) {
		t.Error("expected healthy")
	}
	if NewOllamaGenerator("http://127.0.0.1:1", "m", 0, time.Second).HealthCheck(context.Background()) {
		t.Error("expected unhealthy for unreachable server")
	}
}

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hyperjump/kotae/internal/models"
)

func TestAnthropicMessages(t *testing.T) {
	history := []models.Turn{
		{Role: models.RoleUser, Text: "Q1"},
		{Role: models.RoleAssistant, Text: "A1"},
	}
	msgs := anthropicMessages("Q2", history)
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	wantRoles := []string{"user", "assistant", "user"}
	wantText := []string{"Q1", "A1", "Q2"}
	for i, m := range msgs {
		if string(m.Role) != wantRoles[i] {
			t.Errorf("message %d role = %q, want %q", i, m.Role, wantRoles[i])
		}
		if len(m.Content) != 1 || m.Content[0].OfText == nil || m.Content[0].OfText.Text != wantText[i] {
			t.Errorf("message %d content = %+v", i, m.Content)
		}
	}
}

type messagesRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role string `json:"role"`
	} `json:"messages"`
}

func TestAnthropicGenerator_Generate(t *testing.T) {
	var got messagesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("X-Api-Key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "  Raft elects a leader.  "}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	g, err := NewAnthropicGenerator("test-key", "claude-test", 0.3, 0, 5*time.Second,
		option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	history := []models.Turn{{Role: models.RoleUser, Text: "Hi"}, {Role: models.RoleAssistant, Text: "Hello!"}}
	text, err := g.Generate(context.Background(), "How is a leader chosen?", history)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if text != "Raft elects a leader." {
		t.Errorf("text = %q", text)
	}
	if got.Model != "claude-test" || got.MaxTokens != defaultAnthropicMaxTokens || len(got.Messages) != 3 {
		t.Errorf("request = %+v", got)
	}
}

func TestAnthropicGenerator_serverError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer server.Close()

	g, err := NewAnthropicGenerator("test-key", "nope", 0, 0, time.Second,
		option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate(context.Background(), "q", nil); err == nil {
		t.Error("expected error")
	}
	if g.HealthCheck(context.Background()) {
		t.Error("health check should fail")
	}
}

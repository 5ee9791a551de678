package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SunDevilAI/sunbot/engine/domain"
)

func embedServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		vec := make([]float64, dim)
		for i := range vec {
			vec[i] = float64(i)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: vec})
	}))
}

func TestEmbed(t *testing.T) {
	srv := embedServer(t, 4)
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "nomic-embed-text", 4)
	vec, err := c.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 4 || vec[1] != 1 {
		t.Fatalf("unexpected vector %v", vec)
	}
	if c.Dim() != 4 {
		t.Fatalf("Dim() = %d", c.Dim())
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := embedServer(t, 3)
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "nomic-embed-text", 768)
	_, err := c.Embed(context.Background(), "some text")
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "missing", 4)
	_, err := c.Embed(context.Background(), "text")
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestEmbedUnreachable(t *testing.T) {
	c := NewEmbedClient("http://127.0.0.1:1", "nomic-embed-text", 4)
	_, err := c.Embed(context.Background(), "text")
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestEmbedBatch(t *testing.T) {
	srv := embedServer(t, 2)
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "nomic-embed-text", 2)
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 2 {
			t.Fatalf("vector %d has dim %d", i, len(v))
		}
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaChatReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Stream {
			t.Error("streaming should be disabled")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages %v", req.Messages)
		}
		json.NewEncoder(w).Encode(ollamaChatResp{
			Message: chatMessage{Role: "assistant", Content: "Sparky is the mascot."},
		})
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, "llama3.1:8b", 0.2)
	got, err := c.Chat(context.Background(), "You answer ASU questions.", "Who is the mascot?")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got != "Sparky is the mascot." {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, "llama3.1:8b", 0.2)
	_, err := c.Chat(context.Background(), "s", "u")
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

package rerank

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/SunDevilAI/sunbot/engine/domain"
)

func pool() []domain.Candidate {
	return []domain.Candidate{
		{ChunkID: "a", Text: "ASU tuition rates", Score: 0.9},
		{ChunkID: "b", Text: "Sparky the Sun Devil", Score: 0.8},
		{ChunkID: "c", Text: "Tempe campus map", Score: 0.7},
	}
}

func TestPassThrough(t *testing.T) {
	got, reranked, err := PassThrough{}.Rerank(context.Background(), "q", pool(), 2)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if reranked {
		t.Error("pass-through must report reranked=false")
	}
	if len(got) != 2 || got[0].ChunkID != "a" || got[1].ChunkID != "b" {
		t.Errorf("expected retrieval order truncated to 2, got %v", got)
	}
}

func TestPassThrough_KeepLargerThanPool(t *testing.T) {
	got, _, err := PassThrough{}.Rerank(context.Background(), "q", pool(), 10)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected all 3 candidates, got %d", len(got))
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scoreServer(t *testing.T, scores map[string]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		results := make([]rerankResult, len(req.Texts))
		for i, text := range req.Texts {
			results[i] = rerankResult{Index: i, Score: scores[text]}
		}
		json.NewEncoder(w).Encode(results)
	}))
}

func TestCrossEncoder_ReordersByScore(t *testing.T) {
	srv := scoreServer(t, map[string]float32{
		"ASU tuition rates":    0.1,
		"Sparky the Sun Devil": 0.95,
		"Tempe campus map":     0.5,
	})
	defer srv.Close()

	ce := NewCrossEncoder(srv.URL, testLogger())
	got, reranked, err := ce.Rerank(context.Background(), "who is the mascot", pool(), 3)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if !reranked {
		t.Error("expected reranked=true")
	}
	if got[0].ChunkID != "b" || got[1].ChunkID != "c" || got[2].ChunkID != "a" {
		t.Errorf("unexpected order: %s %s %s", got[0].ChunkID, got[1].ChunkID, got[2].ChunkID)
	}
	// Retrieval scores survive rescoring.
	if got[0].Score != 0.8 || got[0].RerankScore != 0.95 {
		t.Errorf("scores not preserved: %+v", got[0])
	}
}

func TestCrossEncoder_Deterministic(t *testing.T) {
	srv := scoreServer(t, map[string]float32{
		"ASU tuition rates":    0.5,
		"Sparky the Sun Devil": 0.5,
		"Tempe campus map":     0.5,
	})
	defer srv.Close()

	ce := NewCrossEncoder(srv.URL, testLogger())
	first, _, err := ce.Rerank(context.Background(), "q", pool(), 3)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	// All scores tie; chunk id ascending decides, and repeat calls agree.
	if first[0].ChunkID != "a" || first[1].ChunkID != "b" || first[2].ChunkID != "c" {
		t.Errorf("tie-break order wrong: %v", first)
	}
	second, _, err := ce.Rerank(context.Background(), "q", pool(), 3)
	if err != nil {
		t.Fatalf("second rerank: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs must yield identical output")
	}
}

func TestCrossEncoder_Truncates(t *testing.T) {
	srv := scoreServer(t, map[string]float32{
		"ASU tuition rates":    0.1,
		"Sparky the Sun Devil": 0.9,
		"Tempe campus map":     0.5,
	})
	defer srv.Close()

	ce := NewCrossEncoder(srv.URL, testLogger())
	got, _, err := ce.Rerank(context.Background(), "q", pool(), 1)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "b" {
		t.Errorf("expected best candidate only, got %v", got)
	}
}

func TestCrossEncoder_DegradesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ce := NewCrossEncoder(srv.URL, testLogger())
	got, reranked, err := ce.Rerank(context.Background(), "q", pool(), 2)
	if err != nil {
		t.Fatalf("degradation must not surface an error, got %v", err)
	}
	if reranked {
		t.Error("failed rerank must report reranked=false")
	}
	if len(got) != 2 || got[0].ChunkID != "a" || got[1].ChunkID != "b" {
		t.Errorf("expected retrieval order on degradation, got %v", got)
	}
}

func TestCrossEncoder_DegradesOnUnreachableService(t *testing.T) {
	ce := NewCrossEncoder("http://127.0.0.1:1", testLogger())
	got, reranked, err := ce.Rerank(context.Background(), "q", pool(), 3)
	if err != nil {
		t.Fatalf("degradation must not surface an error, got %v", err)
	}
	if reranked {
		t.Error("expected reranked=false")
	}
	if len(got) != 3 {
		t.Errorf("expected full pool, got %d", len(got))
	}
}

func TestCrossEncoder_EmptyPool(t *testing.T) {
	ce := NewCrossEncoder("http://127.0.0.1:1", testLogger())
	got, reranked, err := ce.Rerank(context.Background(), "q", nil, 5)
	if err != nil || reranked || len(got) != 0 {
		t.Errorf("empty pool should short-circuit, got %v %v %v", got, reranked, err)
	}
}

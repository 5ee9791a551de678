// Package main seeds the vector store with a small built-in set of ASU
// documents. Run once after deployment to give the system baseline content.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/SunDevilAI/sunbot/engine/domain"
	"github.com/SunDevilAI/sunbot/engine/ingest"
	"github.com/SunDevilAI/sunbot/engine/rag"
	"github.com/SunDevilAI/sunbot/engine/semantic"
	"github.com/SunDevilAI/sunbot/pkg/ollama"
)

var samplePassages = []ingest.Passage{
	{
		Text:      "Arizona State University (ASU) is a public research university in the Phoenix metropolitan area. Founded in 1885, ASU is one of the largest universities in the United States by enrollment.",
		SourceURL: "https://www.asu.edu/about",
		Metadata:  map[string]string{"title": "About Arizona State University", "type": "general_info"},
	},
	{
		Text:      "ASU offers over 400 undergraduate degree programs and more than 450 graduate degree programs across 17 colleges and schools.",
		SourceURL: "https://www.asu.edu/academics",
		Metadata:  map[string]string{"title": "ASU Academic Programs", "type": "academics"},
	},
	{
		Text:      "ASU's mascot is Sparky the Sun Devil, and the university's athletic teams are known as the Sun Devils, competing in the Big 12 Conference.",
		SourceURL: "https://thesundevils.com/sparky",
		Metadata:  map[string]string{"title": "Sparky the Sun Devil", "type": "athletics"},
	},
	{
		Text:      "ASU's Tempe campus is the largest of its five campuses. Other campuses include Downtown Phoenix, Polytechnic, West Valley, and ASU Online.",
		SourceURL: "https://www.asu.edu/campuses",
		Metadata:  map[string]string{"title": "ASU Campuses", "type": "general_info"},
	},
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("seed failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx := context.Background()

	dim := 768
	if v := os.Getenv("EMBED_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			dim = n
		}
	}

	store, err := semantic.Open(ctx, semantic.Config{
		Backend:    envOr("VECTOR_BACKEND", semantic.BackendLocal),
		Path:       envOr("SQLITE_PATH", "sunbot.db"),
		URL:        os.Getenv("QDRANT_URL"),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		Collection: envOr("COLLECTION", "asu_docs"),
		Dim:        dim,
	})
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer store.Close()

	embedClient := ollama.NewEmbedClient(envOr("OLLAMA_URL", "http://localhost:11434"), envOr("EMBED_MODEL", "nomic-embed-text"), dim)
	svc := rag.New(embedClient, store, nil, rag.DefaultOptions(), logger)

	chunks := make([]domain.Chunk, 0, len(samplePassages))
	for _, p := range samplePassages {
		vec, err := embedClient.Embed(ctx, p.Text)
		if err != nil {
			return fmt.Errorf("embed %q: %w", p.SourceURL, err)
		}
		chunks = append(chunks, domain.Chunk{
			ID:        domain.NewChunkID(p.SourceURL, p.Text),
			Text:      p.Text,
			SourceURL: p.SourceURL,
			Metadata:  p.Metadata,
			Embedding: vec,
		})
	}

	written, err := svc.Ingest(ctx, chunks)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	logger.Info("seed complete", "written", written, "total_documents", stats.TotalDocuments)
	return nil
}

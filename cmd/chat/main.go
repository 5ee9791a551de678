// Package main implements a terminal Q&A loop against the retrieval core,
// useful for poking at a collection without running the API server.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/SunDevilAI/sunbot/engine/domain"
	"github.com/SunDevilAI/sunbot/engine/rag"
	"github.com/SunDevilAI/sunbot/engine/rerank"
	"github.com/SunDevilAI/sunbot/engine/semantic"
	"github.com/SunDevilAI/sunbot/pkg/ollama"
)

const systemPrompt = `You are SunBot, an assistant for Arizona State University students.
Answer the user's question using ONLY the provided context. If the context
does not contain enough information, say so honestly. Cite sources as [n].`

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

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
		fmt.Fprintln(os.Stderr, "open vector store:", err)
		os.Exit(1)
	}
	defer store.Close()

	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	embedClient := ollama.NewEmbedClient(ollamaURL, envOr("EMBED_MODEL", "nomic-embed-text"), dim)
	chatClient := ollama.NewChatClient(ollamaURL, envOr("CHAT_MODEL", "llama3.1:8b"), 0.3)

	var reranker rerank.Reranker = rerank.PassThrough{}
	if url := os.Getenv("RERANKER_URL"); url != "" {
		reranker = rerank.NewCrossEncoder(url, logger)
	}

	svc := rag.New(embedClient, store, reranker, rag.DefaultOptions(), logger)

	fmt.Println("SunBot: ask about ASU (empty line to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			break
		}

		bundle, err := svc.RetrieveContext(ctx, question, rag.QueryOptions{})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidQuery) {
				fmt.Println("please ask a question")
				continue
			}
			fmt.Fprintln(os.Stderr, "retrieve:", err)
			continue
		}
		if len(bundle.Passages) == 0 {
			fmt.Println("no matching content in the knowledge base")
			continue
		}

		answer, err := chatClient.Chat(ctx, systemPrompt, buildPrompt(question, bundle))
		if err != nil {
			fmt.Fprintln(os.Stderr, "generate:", err)
			continue
		}

		fmt.Println(answer)
		fmt.Println("sources:")
		for i, p := range bundle.Passages {
			fmt.Printf("  [%d] %s (score %.3f)\n", i+1, p.SourceURL, p.Score)
		}
	}
}

func buildPrompt(question string, bundle *domain.ContextBundle) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, p := range bundle.Passages {
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, p.SourceURL, p.Text)
	}
	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}

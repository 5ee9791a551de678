// Package main implements the SunBot API server: question answering over the
// ASU knowledge base with cited sources.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/SunDevilAI/sunbot/engine/domain"
	"github.com/SunDevilAI/sunbot/engine/rag"
	"github.com/SunDevilAI/sunbot/engine/rerank"
	"github.com/SunDevilAI/sunbot/engine/semantic"
	"github.com/SunDevilAI/sunbot/pkg/metrics"
	"github.com/SunDevilAI/sunbot/pkg/mid"
	"github.com/SunDevilAI/sunbot/pkg/ollama"
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	Backend      string
	SQLitePath   string
	QdrantURL    string
	QdrantAPIKey string
	Collection   string
	EmbedDim     int
	Metric       string
	OllamaURL    string
	EmbedModel   string
	ChatModel    string
	RerankerURL  string
	CORSOrigin   string
}

func loadConfig() Config {
	return Config{
		Port:         envOr("PORT", "8080"),
		Backend:      envOr("VECTOR_BACKEND", semantic.BackendLocal),
		SQLitePath:   envOr("SQLITE_PATH", "sunbot.db"),
		QdrantURL:    os.Getenv("QDRANT_URL"),
		QdrantAPIKey: os.Getenv("QDRANT_API_KEY"),
		Collection:   envOr("COLLECTION", "asu_docs"),
		EmbedDim:     envIntOr("EMBED_DIM", 768),
		Metric:       envOr("DISTANCE_METRIC", semantic.MetricCosine),
		OllamaURL:    envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:   envOr("EMBED_MODEL", "nomic-embed-text"),
		ChatModel:    envOr("CHAT_MODEL", "llama3.1:8b"),
		RerankerURL:  os.Getenv("RERANKER_URL"),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

const systemPrompt = `You are SunBot, an assistant for Arizona State University students.
Answer the user's question using ONLY the provided context. If the context
does not contain enough information, say so honestly and suggest checking
asu.edu or my.asu.edu. Keep answers concise and cite sources as [n].`

var met = metrics.New()

var (
	mAskTotal    = met.Counter("sunbot_api_ask_total", "Questions received")
	mAskErrors   = func(kind string) *metrics.Counter { return met.Counter(metrics.WithLabels("sunbot_api_ask_errors_total", "kind", kind), "Failed questions") }
	mAskDuration = met.Histogram("sunbot_api_ask_duration_seconds", "End-to-end ask latency", nil)
	mPassages    = met.Histogram("sunbot_api_context_passages", "Passages per context bundle", []float64{0, 1, 2, 3, 5, 8, 13})
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Fail fast: a misconfigured or unreachable backend halts startup.
	store, err := semantic.Open(ctx, semantic.Config{
		Backend:    cfg.Backend,
		Path:       cfg.SQLitePath,
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.Collection,
		Dim:        cfg.EmbedDim,
		Metric:     cfg.Metric,
	})
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer store.Close()

	embedClient := ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel, cfg.EmbedDim)
	chatClient := ollama.NewChatClient(cfg.OllamaURL, cfg.ChatModel, 0.3)

	var reranker rerank.Reranker = rerank.PassThrough{}
	if cfg.RerankerURL != "" {
		reranker = rerank.NewCrossEncoder(cfg.RerankerURL, logger)
	}

	opts := rag.DefaultOptions()
	opts.UseReranker = cfg.RerankerURL != ""
	svc := rag.New(embedClient, store, reranker, opts, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/stats", handleStats(svc, logger))
	mux.HandleFunc("POST /api/ask", handleAsk(svc, chatClient, logger))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(rate.NewLimiter(rate.Limit(20), 40)),
		mid.OTel("sunbot-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "backend", cfg.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleStats(svc *rag.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			logger.Error("stats failed", "err", err)
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question    string `json:"question"`
	TopK        int    `json:"top_k,omitempty"`
	UseReranker *bool  `json:"use_reranker,omitempty"`
}

// AskResponse is the JSON response for POST /api/ask.
type AskResponse struct {
	Answer   string             `json:"answer"`
	Sources  []domain.Candidate `json:"sources"`
	Reranked bool               `json:"reranked"`
}

func handleAsk(svc *rag.Service, chat *ollama.ChatClient, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mAskTotal.Inc()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		bundle, err := svc.RetrieveContext(r.Context(), req.Question, rag.QueryOptions{
			TopK:        req.TopK,
			UseReranker: req.UseReranker,
		})
		if err != nil {
			logger.Error("retrieve failed", "err", err)
			writeError(w, err)
			return
		}
		mPassages.Observe(float64(len(bundle.Passages)))

		answer, err := chat.Chat(r.Context(), systemPrompt, buildPrompt(req.Question, bundle))
		if err != nil {
			logger.Error("generation failed", "err", err)
			writeError(w, err)
			return
		}

		mAskDuration.Since(start)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AskResponse{
			Answer:   answer,
			Sources:  bundle.Passages,
			Reranked: bundle.Reranked,
		})
	}
}

// buildPrompt formats the context bundle for the generation call.
func buildPrompt(question string, bundle *domain.ContextBundle) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, p := range bundle.Passages {
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, p.SourceURL, p.Text)
	}
	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}

// writeError maps core error classes to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		status = http.StatusBadRequest
		kind = "invalid_query"
	case errors.Is(err, domain.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
		kind = "backend_unavailable"
	case errors.Is(err, domain.ErrConfiguration):
		kind = "configuration"
	}
	mAskErrors(kind).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": kind})
}

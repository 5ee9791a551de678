// Package main implements the ingestion worker: it consumes passage batches
// from NATS and writes embedded chunks into the vector store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/SunDevilAI/sunbot/engine/domain"
	"github.com/SunDevilAI/sunbot/engine/ingest"
	"github.com/SunDevilAI/sunbot/engine/semantic"
	"github.com/SunDevilAI/sunbot/pkg/metrics"
	"github.com/SunDevilAI/sunbot/pkg/ollama"
	"github.com/SunDevilAI/sunbot/pkg/resilience"
)

var met = metrics.New()

var (
	mBatches  = met.Counter("sunbot_ingest_batches_total", "Batches consumed")
	mWritten  = met.Counter("sunbot_ingest_chunks_written_total", "Chunks written to the vector store")
	mFailures = met.Counter("sunbot_ingest_failures_total", "Pipeline failures")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("ingest worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	nc, err := nats.Connect(envOr("NATS_URL", nats.DefaultURL))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Drain()

	embedClient := ollama.NewEmbedClient(envOr("OLLAMA_URL", "http://localhost:11434"), envOr("EMBED_MODEL", "nomic-embed-text"), dim)

	storeWithMetrics := countingStore{Store: store}
	sub, err := ingest.StartConsumer(nc, ingest.Deps{
		Embedder:  embedClient,
		Store:     storeWithMetrics,
		EmbedRate: resilience.NewLimiter(resilience.LimiterOpts{Rate: 5, Burst: 10}),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", met.Handler())
		if err := http.ListenAndServe(":"+envOr("METRICS_PORT", "9091"), mux); err != nil {
			logger.Error("metrics server error", "err", err)
		}
	}()

	logger.Info("ingest worker listening", "subject", ingest.Subject)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// countingStore wraps the vector store to track write metrics.
type countingStore struct {
	semantic.Store
}

func (c countingStore) Upsert(ctx context.Context, chunks []domain.Chunk) (int, error) {
	mBatches.Inc()
	n, err := c.Store.Upsert(ctx, chunks)
	if err != nil {
		mFailures.Inc()
		return n, err
	}
	mWritten.Add(int64(n))
	return n, nil
}

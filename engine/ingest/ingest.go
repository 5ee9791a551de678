// Package ingest is the ingestion pipeline: incoming passages are validated,
// assigned stable ids, embedded in batches, and upserted into the vector
// store. A NATS consumer feeds the pipeline with retry and dead-letter
// support.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/SunDevilAI/sunbot/engine/domain"
	"github.com/SunDevilAI/sunbot/engine/semantic"
	"github.com/SunDevilAI/sunbot/pkg/fn"
	"github.com/SunDevilAI/sunbot/pkg/natsutil"
	"github.com/SunDevilAI/sunbot/pkg/resilience"
)

const (
	// Subject is the NATS subject for incoming passage batches.
	Subject = "sunbot.ingest"
	// DLQSubject is the dead letter queue subject for failed batches.
	DLQSubject = "sunbot.ingest.dlq"
	// MaxRetries before sending a batch to the DLQ.
	MaxRetries = 3
	// EmbedBatchSize is the max passages per embedding round.
	EmbedBatchSize = 50
)

// BatchEmbedder embeds a slice of texts, index-aligned with the input.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder BatchEmbedder
	Store    semantic.Store
	// EmbedRate paces embedding calls; nil means unpaced.
	EmbedRate *resilience.Limiter
	Logger    *slog.Logger
}

// Validate rejects batches containing empty passages or missing sources.
var Validate fn.Stage[[]domain.Chunk, []domain.Chunk] = func(_ context.Context, chunks []domain.Chunk) fn.Result[[]domain.Chunk] {
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			return fn.Errf[[]domain.Chunk]("ingest: passage %d: text is empty", i)
		}
		if c.SourceURL == "" {
			return fn.Errf[[]domain.Chunk]("ingest: passage %d: source_url is empty", i)
		}
	}
	return fn.Ok(chunks)
}

// NewEmbed creates the embedding stage, batching EmbedBatchSize passages per
// round.
func NewEmbed(client BatchEmbedder) fn.Stage[[]domain.Chunk, []domain.Chunk] {
	return func(ctx context.Context, chunks []domain.Chunk) fn.Result[[]domain.Chunk] {
		for _, batch := range fn.Chunk(chunks, EmbedBatchSize) {
			texts := fn.Map(batch, func(c domain.Chunk) string { return c.Text })
			embeddings, err := client.EmbedBatch(ctx, texts)
			if err != nil {
				return fn.Err[[]domain.Chunk](fmt.Errorf("embed batch: %w", err))
			}
			for i := range batch {
				batch[i].Embedding = embeddings[i]
			}
		}
		return fn.Ok(chunks)
	}
}

// NewStore creates the storage stage writing to the vector store.
func NewStore(store semantic.Store) fn.Stage[[]domain.Chunk, int] {
	return func(ctx context.Context, chunks []domain.Chunk) fn.Result[int] {
		return fn.FromPair(store.Upsert(ctx, chunks))
	}
}

// loggedTap returns a stage that logs entry with the batch size.
func loggedTap(name string, log *slog.Logger) fn.Stage[[]domain.Chunk, []domain.Chunk] {
	return fn.TapStage(func(_ context.Context, chunks []domain.Chunk) {
		log.Info("stage.enter", "stage", name, "chunks", len(chunks))
	})
}

// NewPipeline constructs the full ingestion pipeline with all stages wired:
// Validate → Embed → Store, each under an OTel span.
func NewPipeline(deps Deps) fn.Stage[[]domain.Chunk, int] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	embed := NewEmbed(deps.Embedder)
	if deps.EmbedRate != nil {
		embed = resilience.LimiterStageWait(deps.EmbedRate, embed)
	}

	validated := fn.Then(loggedTap("validate", log), fn.TracedStage("ingest.validate", Validate))
	embedded := fn.Then(validated, fn.TracedStage("ingest.embed", embed))
	return fn.Then(embedded, fn.TracedStage("ingest.store", NewStore(deps.Store)))
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Batch   Batch  `json:"batch"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// StartConsumer subscribes the pipeline to the ingest subject. Failed
// batches are re-published with an incremented retry header, then dead
// lettered after MaxRetries.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(Subject, func(msg *nats.Msg) {
		var batch Batch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		result := pipeline(ctx, toChunks(batch.Passages))
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			retries++
			log.Error("ingest: pipeline failed",
				"error", pipeErr,
				"passages", len(batch.Passages),
				"retry", retries,
			)

			if retries >= MaxRetries {
				dlq := dlqMessage{Batch: batch, Error: pipeErr.Error(), Retries: retries}
				if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
				return
			}

			retryMsg := nats.NewMsg(Subject)
			retryMsg.Data = msg.Data
			retryMsg.Header = nats.Header{}
			retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				log.Error("ingest: retry publish failed", "error", err)
			}
			return
		}

		written, _ := result.Unwrap()
		log.Info("ingest: success", "written", written)
	})
}

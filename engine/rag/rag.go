// Package rag orchestrates the retrieval pipeline: it embeds a user
// question, searches the vector store with an over-fetched width, optionally
// reranks the pool with a cross-encoder, and assembles the final context
// bundle handed to generation. Within one query, retrieval strictly precedes
// reranking, which strictly precedes assembly.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SunDevilAI/sunbot/engine/domain"
	"github.com/SunDevilAI/sunbot/engine/rerank"
	"github.com/SunDevilAI/sunbot/engine/semantic"
	"github.com/SunDevilAI/sunbot/pkg/fn"
	"github.com/SunDevilAI/sunbot/pkg/resilience"
)

// Embedder maps text to a fixed-dimension dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures pipeline defaults. Per-request QueryOptions override
// the overridable subset.
type Options struct {
	// TopK is the number of passages the final bundle targets.
	TopK int
	// OverFetch multiplies TopK for the retrieval width so the reranker has
	// a meaningful pool to improve on.
	OverFetch int
	// UseReranker selects cross-encoder rescoring by default.
	UseReranker bool
	// MaxContextChars is the approximate context size budget.
	MaxContextChars int
	// SearchTimeout bounds each vector store and model call.
	SearchTimeout time.Duration
	// Retry bounds backoff retries for transient backend failures.
	Retry fn.RetryOpts
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:            5,
		OverFetch:       4,
		UseReranker:     true,
		MaxContextChars: 6000,
		SearchTimeout:   5 * time.Second,
		Retry:           fn.DefaultRetry,
	}
}

// QueryOptions are the per-request knobs. Zero values fall back to the
// service defaults; UseReranker is a pointer so "not set" and "off" are
// distinguishable.
type QueryOptions struct {
	TopK            int
	UseReranker     *bool
	MaxContextChars int
}

// Service is the retrieval core. All fields are set at construction and
// read-only afterwards, so one Service safely serves concurrent requests.
type Service struct {
	embed   Embedder
	store   semantic.Store
	rerank  rerank.Reranker
	breaker *resilience.Breaker
	opts    Options
	logger  *slog.Logger
}

// New creates the retrieval service. A nil reranker selects pass-through.
func New(embed Embedder, store semantic.Store, reranker rerank.Reranker, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reranker == nil {
		reranker = rerank.PassThrough{}
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.OverFetch <= 0 {
		opts.OverFetch = DefaultOptions().OverFetch
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = DefaultOptions().MaxContextChars
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = fn.DefaultRetry
	}
	return &Service{
		embed:   embed,
		store:   store,
		rerank:  reranker,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		opts:    opts,
		logger:  logger,
	}
}

// RetrieveContext runs the full pipeline for one query. Backend failures
// always surface: an empty bundle means the collection genuinely held no
// matching content.
func (s *Service) RetrieveContext(ctx context.Context, query string, opt QueryOptions) (*domain.ContextBundle, error) {
	if err := domain.ValidateQuery(query); err != nil {
		return nil, err
	}

	topK := opt.TopK
	if topK <= 0 {
		topK = s.opts.TopK
	}
	maxChars := opt.MaxContextChars
	if maxChars <= 0 {
		maxChars = s.opts.MaxContextChars
	}
	useReranker := s.opts.UseReranker
	if opt.UseReranker != nil {
		useReranker = *opt.UseReranker
	}

	pool, err := s.retrieve(ctx, query, topK*s.opts.OverFetch)
	if err != nil {
		return nil, err
	}
	s.logger.Info("rag: retrieval done", "pool", len(pool), "top_k", topK)

	var (
		kept     []domain.Candidate
		reranked bool
	)
	if useReranker {
		kept, reranked, err = s.rerank.Rerank(ctx, query, pool, topK)
		if err != nil {
			return nil, fmt.Errorf("rag: rerank: %w", err)
		}
	} else {
		kept, reranked, _ = rerank.PassThrough{}.Rerank(ctx, query, pool, topK)
	}

	bundle := assemble(kept, maxChars)
	bundle.Reranked = reranked
	return bundle, nil
}

// retrieve embeds the query once and issues the similarity search through
// the circuit breaker, retrying transient backend failures only.
func (s *Service) retrieve(ctx context.Context, query string, width int) ([]domain.Candidate, error) {
	embedCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	vector, err := s.embed.Embed(embedCtx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	result := fn.RetryIf(ctx, s.opts.Retry, domain.IsTransient, func(ctx context.Context) fn.Result[[]domain.Candidate] {
		searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
		defer cancel()

		var cands []domain.Candidate
		err := s.breaker.Call(searchCtx, func(ctx context.Context) error {
			var err error
			cands, err = s.store.Query(ctx, vector, width, nil)
			return err
		})
		return fn.FromPair(cands, err)
	})
	cands, err := result.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	return cands, nil
}

// Ingest validates and upserts chunks. Batching to the backend limit
// happens inside the store.
func (s *Service) Ingest(ctx context.Context, chunks []domain.Chunk) (int, error) {
	for _, c := range chunks {
		if err := domain.ValidateChunk(c); err != nil {
			return 0, err
		}
	}
	result := fn.RetryIf(ctx, s.opts.Retry, domain.IsTransient, func(ctx context.Context) fn.Result[int] {
		return fn.FromPair(s.store.Upsert(ctx, chunks))
	})
	return result.Unwrap()
}

// Stats returns a snapshot of the active collection.
func (s *Service) Stats(ctx context.Context) (semantic.Stats, error) {
	statsCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()
	return s.store.Stats(statsCtx)
}

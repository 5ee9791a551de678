package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SunDevilAI/sunbot/engine/domain"
)

// CrossEncoder scores (query, passage) pairs via an HTTP inference service
// speaking the text-embeddings-inference rerank protocol. If the service is
// unreachable it degrades to a pass-through truncation and reports
// reranked=false, so callers can always tell which path ran.
type CrossEncoder struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewCrossEncoder creates a cross-encoder client.
func NewCrossEncoder(baseURL string, logger *slog.Logger) *CrossEncoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrossEncoder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

func (c *CrossEncoder) Rerank(ctx context.Context, query string, candidates []domain.Candidate, keep int) ([]domain.Candidate, bool, error) {
	if len(candidates) == 0 {
		return nil, false, nil
	}

	scores, err := c.score(ctx, query, candidates)
	if err != nil {
		// Designed degradation path: keep the retrieval order, flag that
		// reranking did not run.
		c.logger.Warn("rerank: cross-encoder unavailable, falling back to retrieval order", "err", err)
		return truncate(candidates, keep), false, nil
	}

	rescored := make([]domain.Candidate, len(candidates))
	copy(rescored, candidates)
	for i := range rescored {
		// Retrieval score stays on Score for observability.
		rescored[i].RerankScore = scores[i]
	}
	sortByRerankScore(rescored)
	return truncate(rescored, keep), true, nil
}

// score returns one cross-encoder score per candidate, index-aligned with
// the input.
func (c *CrossEncoder) score(ctx context.Context, query string, candidates []domain.Candidate) ([]float32, error) {
	texts := make([]string, len(candidates))
	for i, cand := range candidates {
		texts[i] = cand.Text
	}
	body, _ := json.Marshal(rerankRequest{Query: query, Texts: texts})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w: %w", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank: %w: status %d", domain.ErrBackendUnavailable, resp.StatusCode)
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("rerank decode: %w", err)
	}
	if len(results) != len(candidates) {
		return nil, fmt.Errorf("rerank: got %d scores for %d candidates", len(results), len(candidates))
	}

	scores := make([]float32, len(candidates))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, fmt.Errorf("rerank: score index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}

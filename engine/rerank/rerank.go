// Package rerank rescores retrieval candidates against the raw query with a
// cross-encoder model. Reranking is a configuration-driven strategy: when no
// model is configured, PassThrough keeps the retrieval order. Either way the
// caller learns whether cross-encoder scoring actually ran.
package rerank

import (
	"context"
	"sort"

	"github.com/SunDevilAI/sunbot/engine/domain"
)

// Reranker reorders an over-fetched candidate pool. The returned slice has
// length min(keep, len(candidates)); the bool reports whether cross-encoder
// scoring ran. Implementations must be deterministic: identical (query,
// pool) always yields identical output order.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.Candidate, keep int) ([]domain.Candidate, bool, error)
}

// PassThrough truncates the retrieval-ordered pool to keep without
// rescoring. Used when reranking is disabled by configuration.
type PassThrough struct{}

func (PassThrough) Rerank(_ context.Context, _ string, candidates []domain.Candidate, keep int) ([]domain.Candidate, bool, error) {
	return truncate(candidates, keep), false, nil
}

func truncate(candidates []domain.Candidate, keep int) []domain.Candidate {
	if keep < 0 {
		keep = 0
	}
	if keep > len(candidates) {
		keep = len(candidates)
	}
	out := make([]domain.Candidate, keep)
	copy(out, candidates[:keep])
	return out
}

// sortByRerankScore orders by the new score descending, ties by chunk id
// ascending. The stable sort plus explicit tie-break keeps output
// deterministic for identical input pools.
func sortByRerankScore(cands []domain.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].RerankScore != cands[j].RerankScore {
			return cands[i].RerankScore > cands[j].RerankScore
		}
		return cands[i].ChunkID < cands[j].ChunkID
	})
}

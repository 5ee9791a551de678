package rag

import (
	"github.com/SunDevilAI/sunbot/engine/domain"
	"github.com/SunDevilAI/sunbot/pkg/fn"
)

// charsPerToken is the usual rough chars-per-token estimate for English.
const charsPerToken = 4

// assemble shapes the final passage set: one passage per source (highest
// score wins), greedy inclusion in score order under the character budget,
// and a floor of one passage whenever the pool is non-empty so a lone
// oversized passage never produces an empty context.
func assemble(candidates []domain.Candidate, maxChars int) *domain.ContextBundle {
	// Input arrives score-ordered, so keeping the first hit per source
	// keeps the best one.
	deduped := fn.UniqueBy(candidates, func(c domain.Candidate) string { return c.SourceURL })

	var (
		passages []domain.Candidate
		used     int
	)
	for _, c := range deduped {
		if used+len(c.Text) > maxChars && len(passages) > 0 {
			break
		}
		passages = append(passages, c)
		used += len(c.Text)
	}

	return &domain.ContextBundle{
		Passages:            passages,
		TotalTokensEstimate: used / charsPerToken,
	}
}

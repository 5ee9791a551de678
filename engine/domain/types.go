// Package domain defines the core types, sentinel errors, and validation for
// the SunBot retrieval engine. It acts as the validation gate at pipeline
// entry points.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Chunk is a unit of source text stored with its embedding for retrieval.
// Chunks are produced once at ingestion time and are immutable thereafter;
// upserting the same ID overwrites.
type Chunk struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	SourceURL string            `json:"source_url"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// Candidate is a single scored retrieval hit. It is produced per query and
// never persisted. RerankScore is populated only when a cross-encoder
// actually rescored the candidate; Score always keeps the original
// retrieval similarity.
type Candidate struct {
	ChunkID     string            `json:"chunk_id"`
	Text        string            `json:"text"`
	Score       float32           `json:"score"`
	RerankScore float32           `json:"rerank_score,omitempty"`
	SourceURL   string            `json:"source_url"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ContextBundle is the final ordered, budgeted set of passages handed to the
// generation step. Reranked reports whether cross-encoder scoring ran, so
// callers can tell the degraded pass-through path from the real thing.
type ContextBundle struct {
	Passages            []Candidate `json:"passages"`
	TotalTokensEstimate int         `json:"total_tokens_estimate"`
	Reranked            bool        `json:"reranked"`
}

// NewChunkID derives a stable, content-based chunk ID from the source URL
// and text. Re-ingesting identical content yields the same ID, which keeps
// upserts idempotent.
func NewChunkID(sourceURL, text string) string {
	h := sha256.Sum256([]byte(sourceURL + "\x00" + text))
	return hex.EncodeToString(h[:16])
}

// Package semantic provides uniform access to vector similarity search over
// interchangeable backends: a Qdrant gRPC store for cloud deployments and a
// SQLite store for local disk. Backends are constructed exclusively through
// Open; no call site branches on backend identity.
package semantic

import (
	"context"
	"fmt"
	"sort"

	"github.com/SunDevilAI/sunbot/engine/domain"
)

// Supported backends.
const (
	BackendLocal = "local"
	BackendCloud = "cloud"
)

// Supported distance metrics.
const (
	MetricCosine = "cosine"
	MetricDot    = "dot"
)

// Stats describes a collection snapshot.
type Stats struct {
	TotalDocuments int    `json:"total_documents"`
	CollectionName string `json:"collection_name"`
	VectorSize     int    `json:"vector_size"`
	DistanceMetric string `json:"distance_metric"`
}

// Store is the capability interface both backends implement.
//
// Query results are ordered by descending similarity; ties break by chunk
// id ascending. For identical stored chunks and an identical query vector,
// both backends return the same top-k id set.
type Store interface {
	// Upsert writes chunks, splitting oversized batches transparently.
	// Returns the number of chunks written. All chunks must match the
	// collection dimension (domain.ErrDimensionMismatch) and no partial
	// write happens on a mismatched batch.
	Upsert(ctx context.Context, chunks []domain.Chunk) (int, error)
	// Query returns at most topK candidates for the vector. topK must be
	// >= 1. An empty collection yields an empty slice, not an error.
	Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]domain.Candidate, error)
	// Stats returns a consistent snapshot of the collection.
	Stats(ctx context.Context) (Stats, error)
	// Delete removes chunks by id. Deleting a missing id is a no-op.
	Delete(ctx context.Context, ids []string) (int, error)
	Close() error
}

// Config selects and parameterises a backend.
type Config struct {
	Backend    string // "local" or "cloud"
	Path       string // local: SQLite database file
	URL        string // cloud: Qdrant gRPC address
	APIKey     string // cloud: optional, for hosted Qdrant
	Collection string
	Dim        int
	Metric     string // "cosine" (default) or "dot"
}

func (c *Config) validate() error {
	if c.Collection == "" {
		return fmt.Errorf("%w: collection name required", domain.ErrConfiguration)
	}
	if c.Dim <= 0 {
		return fmt.Errorf("%w: embedding dim must be positive, got %d", domain.ErrConfiguration, c.Dim)
	}
	if c.Metric == "" {
		c.Metric = MetricCosine
	}
	if c.Metric != MetricCosine && c.Metric != MetricDot {
		return fmt.Errorf("%w: unknown distance metric %q", domain.ErrConfiguration, c.Metric)
	}
	switch c.Backend {
	case BackendLocal:
		if c.Path == "" {
			return fmt.Errorf("%w: local backend requires a database path", domain.ErrConfiguration)
		}
	case BackendCloud:
		if c.URL == "" {
			return fmt.Errorf("%w: cloud backend requires a Qdrant URL", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unsupported backend %q (want %q or %q)",
			domain.ErrConfiguration, c.Backend, BackendLocal, BackendCloud)
	}
	return nil
}

// Open constructs the configured backend, ensures the collection exists, and
// probes connectivity. It either returns a live store or fails with
// domain.ErrConfiguration / domain.ErrBackendUnavailable; it never returns a
// half-initialized store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendLocal:
		return openSQLite(ctx, cfg)
	default:
		return openQdrant(ctx, cfg)
	}
}

// sortCandidates enforces the shared ordering contract: score descending,
// chunk id ascending on ties. Both backends route results through here so
// tie-breaking is identical regardless of backend.
func sortCandidates(cands []domain.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].ChunkID < cands[j].ChunkID
	})
}

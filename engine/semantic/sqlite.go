package semantic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/SunDevilAI/sunbot/engine/domain"
)

// sqliteStore is the local disk backend. Embeddings are stored as
// little-endian float32 BLOBs and scored with an exact scan, which is plenty
// for collections in the tens of thousands of chunks.
type sqliteStore struct {
	db         *sql.DB
	collection string
	dim        int
	metric     string
}

const chunksSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	content    TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	meta       TEXT NOT NULL DEFAULT '{}',
	embedding  BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);
`

func openSQLite(ctx context.Context, cfg Config) (Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("semantic: open sqlite %s: %w: %w", cfg.Path, domain.ErrBackendUnavailable, err)
	}
	// Connectivity probe; sql.Open alone does not touch the file.
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("semantic: ping sqlite %s: %w: %w", cfg.Path, domain.ErrBackendUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, chunksSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("semantic: ensure schema: %w: %w", domain.ErrBackendUnavailable, err)
	}
	return &sqliteStore{db: db, collection: cfg.Collection, dim: cfg.Dim, metric: cfg.Metric}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Upsert(ctx context.Context, chunks []domain.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	// Validate the whole batch before opening a transaction so a mismatch
	// leaves the collection untouched.
	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return 0, fmt.Errorf("semantic: chunk %s: %w: got %d, collection dim %d",
				c.ID, domain.ErrDimensionMismatch, len(c.Embedding), s.dim)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("semantic: begin tx: %w: %w", domain.ErrBackendUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (collection, id, content, source_url, meta, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			content = excluded.content,
			source_url = excluded.source_url,
			meta = excluded.meta,
			embedding = excluded.embedding`)
	if err != nil {
		return 0, fmt.Errorf("semantic: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return 0, fmt.Errorf("semantic: chunk %s: encode metadata: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, s.collection, c.ID, c.Text, c.SourceURL, string(meta), encodeEmbedding(c.Embedding)); err != nil {
			return 0, fmt.Errorf("semantic: upsert chunk %s: %w: %w", c.ID, domain.ErrBackendUnavailable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("semantic: commit upsert: %w: %w", domain.ErrBackendUnavailable, err)
	}
	return len(chunks), nil
}

func (s *sqliteStore) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]domain.Candidate, error) {
	if topK < 1 {
		return nil, fmt.Errorf("semantic: %w: top_k must be >= 1, got %d", domain.ErrInvalidQuery, topK)
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("semantic: query vector: %w: got %d, collection dim %d",
			domain.ErrDimensionMismatch, len(vector), s.dim)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, source_url, meta, embedding FROM chunks WHERE collection = ?`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("semantic: scan chunks: %w: %w", domain.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var cands []domain.Candidate
	for rows.Next() {
		var (
			c        domain.Candidate
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&c.ChunkID, &c.Text, &c.SourceURL, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("semantic: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			return nil, fmt.Errorf("semantic: chunk %s: decode metadata: %w", c.ChunkID, err)
		}
		if !matchesFilter(c.Metadata, filter) {
			continue
		}
		emb, err := decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("semantic: chunk %s: %w", c.ChunkID, err)
		}
		if s.metric == MetricDot {
			c.Score = dotProduct(vector, emb)
		} else {
			c.Score = cosineSimilarity(vector, emb)
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("semantic: scan chunks: %w: %w", domain.ErrBackendUnavailable, err)
	}

	sortCandidates(cands)
	if len(cands) > topK {
		cands = cands[:topK]
	}
	return cands, nil
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE collection = ?`, s.collection).Scan(&total)
	if err != nil {
		return Stats{}, fmt.Errorf("semantic: count chunks: %w: %w", domain.ErrBackendUnavailable, err)
	}
	return Stats{
		TotalDocuments: total,
		CollectionName: s.collection,
		VectorSize:     s.dim,
		DistanceMetric: s.metric,
	}, nil
}

func (s *sqliteStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.collection)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE collection = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("semantic: delete chunks: %w: %w", domain.ErrBackendUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

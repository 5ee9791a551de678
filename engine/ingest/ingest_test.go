package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/SunDevilAI/sunbot/engine/domain"
	"github.com/SunDevilAI/sunbot/engine/semantic"
)

type fakeEmbedder struct {
	batches [][]string
	err     error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 0}
	}
	return out, nil
}

type fakeStore struct {
	upserted []domain.Chunk
}

func (f *fakeStore) Upsert(_ context.Context, chunks []domain.Chunk) (int, error) {
	f.upserted = append(f.upserted, chunks...)
	return len(chunks), nil
}
func (f *fakeStore) Query(context.Context, []float32, int, map[string]string) ([]domain.Candidate, error) {
	return nil, nil
}
func (f *fakeStore) Stats(context.Context) (semantic.Stats, error) { return semantic.Stats{}, nil }
func (f *fakeStore) Delete(_ context.Context, ids []string) (int, error) {
	return len(ids), nil
}
func (f *fakeStore) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func passages(n int) []Passage {
	out := make([]Passage, n)
	for i := range out {
		out[i] = Passage{Text: "some passage text", SourceURL: "https://asu.edu/p"}
	}
	return out
}

func TestToChunks_DeterministicIDs(t *testing.T) {
	p := Passage{Text: "Sparky is the mascot", SourceURL: "https://asu.edu/sparky"}
	a := toChunks([]Passage{p})
	b := toChunks([]Passage{p})
	if a[0].ID == "" || a[0].ID != b[0].ID {
		t.Errorf("ids must be stable for identical content, got %q / %q", a[0].ID, b[0].ID)
	}

	other := toChunks([]Passage{{Text: "Sparky is the mascot", SourceURL: "https://asu.edu/other"}})
	if a[0].ID == other[0].ID {
		t.Error("different sources must produce different ids")
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	ok := Validate(ctx, toChunks(passages(2)))
	if ok.IsErr() {
		t.Errorf("valid batch rejected: %v", ok)
	}

	blank := Validate(ctx, toChunks([]Passage{{Text: "  ", SourceURL: "https://s"}}))
	if blank.IsOk() {
		t.Error("blank text must be rejected")
	}

	noSource := Validate(ctx, toChunks([]Passage{{Text: "t", SourceURL: ""}}))
	if noSource.IsOk() {
		t.Error("missing source must be rejected")
	}
}

func TestNewEmbed_Batches(t *testing.T) {
	emb := &fakeEmbedder{}
	stage := NewEmbed(emb)

	chunks := toChunks(passages(EmbedBatchSize + 10))
	result := stage(context.Background(), chunks)
	if result.IsErr() {
		t.Fatalf("embed stage: %v", result)
	}
	if len(emb.batches) != 2 {
		t.Fatalf("expected 2 embedding rounds, got %d", len(emb.batches))
	}
	if len(emb.batches[0]) != EmbedBatchSize || len(emb.batches[1]) != 10 {
		t.Errorf("batch sizes %d/%d, want %d/10", len(emb.batches[0]), len(emb.batches[1]), EmbedBatchSize)
	}

	out, _ := result.Unwrap()
	for i, c := range out {
		if len(c.Embedding) == 0 {
			t.Fatalf("chunk %d missing embedding", i)
		}
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	store := &fakeStore{}
	pipeline := NewPipeline(Deps{
		Embedder: &fakeEmbedder{},
		Store:    store,
		Logger:   testLogger(),
	})

	result := pipeline(context.Background(), toChunks(passages(3)))
	if result.IsErr() {
		t.Fatalf("pipeline: %v", result)
	}
	written, _ := result.Unwrap()
	if written != 3 || len(store.upserted) != 3 {
		t.Errorf("expected 3 chunks stored, got written=%d stored=%d", written, len(store.upserted))
	}
	for _, c := range store.upserted {
		if len(c.Embedding) == 0 {
			t.Error("stored chunk missing embedding")
		}
		if c.ID == "" {
			t.Error("stored chunk missing id")
		}
	}
}

func TestPipeline_ValidationStopsEarly(t *testing.T) {
	emb := &fakeEmbedder{}
	store := &fakeStore{}
	pipeline := NewPipeline(Deps{Embedder: emb, Store: store, Logger: testLogger()})

	bad := toChunks([]Passage{{Text: "", SourceURL: "https://s"}})
	result := pipeline(context.Background(), bad)
	if result.IsOk() {
		t.Fatal("expected validation failure")
	}
	if len(emb.batches) != 0 {
		t.Error("invalid batch must not reach the embedder")
	}
	if len(store.upserted) != 0 {
		t.Error("invalid batch must not reach the store")
	}
}

func TestPipeline_EmbedFailureStopsStore(t *testing.T) {
	store := &fakeStore{}
	pipeline := NewPipeline(Deps{
		Embedder: &fakeEmbedder{err: context.DeadlineExceeded},
		Store:    store,
		Logger:   testLogger(),
	})

	result := pipeline(context.Background(), toChunks(passages(2)))
	if result.IsOk() {
		t.Fatal("expected embed failure to propagate")
	}
	if len(store.upserted) != 0 {
		t.Error("failed batch must not reach the store")
	}
}

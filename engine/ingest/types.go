package ingest

import "github.com/SunDevilAI/sunbot/engine/domain"

// Passage is an incoming unit of text from the scraping collaborator: chunked
// upstream, not yet embedded.
type Passage struct {
	Text      string            `json:"text"`
	SourceURL string            `json:"source_url"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Batch is the message shape published to the ingest subject.
type Batch struct {
	Passages []Passage `json:"passages"`
}

// toChunks assigns stable, content-derived ids and converts passages into
// storable chunks (embeddings still empty).
func toChunks(passages []Passage) []domain.Chunk {
	chunks := make([]domain.Chunk, len(passages))
	for i, p := range passages {
		chunks[i] = domain.Chunk{
			ID:        domain.NewChunkID(p.SourceURL, p.Text),
			Text:      p.Text,
			SourceURL: p.SourceURL,
			Metadata:  p.Metadata,
		}
	}
	return chunks
}

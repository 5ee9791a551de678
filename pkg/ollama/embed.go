// Package ollama provides HTTP clients for the Ollama embedding and chat
// APIs. Clients are created once at process start and are safe for
// concurrent use.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/SunDevilAI/sunbot/engine/domain"
)

// EmbedClient generates dense vectors via Ollama's /api/embeddings endpoint.
type EmbedClient struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewEmbedClient creates an Ollama embedding client. dim is the expected
// output dimensionality; responses of any other length are rejected rather
// than silently stored.
func NewEmbedClient(baseURL, model string, dim int) *EmbedClient {
	return &EmbedClient{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Dim returns the embedding dimensionality this client produces.
func (c *EmbedClient) Dim() int { return c.dim }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding for a single text.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w: %w", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: %w: status %d", domain.ErrBackendUnavailable, resp.StatusCode)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}
	if c.dim > 0 && len(result.Embedding) != c.dim {
		return nil, fmt.Errorf("ollama embed: %w: model returned %d values, want %d",
			domain.ErrDimensionMismatch, len(result.Embedding), c.dim)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch embeds each text in order. Ollama has no batch endpoint, so
// this issues sequential calls; callers batch upstream to bound request
// sizes.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

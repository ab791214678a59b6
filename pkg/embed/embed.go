// Package embed supplies embedding vectors for entities.
//
// An Embedder turns text into a fixed-length float32 vector. The knowledge
// graph calls it for entities added without an embedding and for text
// queries; nothing else in ipfskg depends on a particular provider.
//
// Example:
//
//	embedder := embed.NewCachedEmbedder(embed.NewOllama(nil), 10000)
//	vec, err := embedder.Embed(ctx, "Ada Lovelace")
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
)

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = fmt.Errorf("%w: provider returned an empty embedding", kgerrors.ErrStorageUnavailable)

// Embedder generates embeddings.
type Embedder interface {
	// Embed generates the embedding for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector length, or 0 if unknown.
	Dimensions() int
}

// Func adapts a plain function to Embedder.
type Func struct {
	Fn  func(ctx context.Context, text string) ([]float32, error)
	Dim int
}

// Embed calls f.Fn.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) { return f.Fn(ctx, text) }

// Dimensions returns f.Dim.
func (f Func) Dimensions() int { return f.Dim }

// Config holds embedding provider configuration.
//
// Example:
//
//	config := &embed.Config{
//		APIURL:     "http://192.168.1.100:11434",
//		Model:      "nomic-embed-text",
//		Dimensions: 768,
//		Timeout:    60 * time.Second,
//	}
type Config struct {
	APIURL     string        // e.g., http://localhost:11434
	APIPath    string        // e.g., /api/embeddings
	Model      string        // e.g., all-minilm
	Dimensions int           // Expected dimensions (for validation)
	Timeout    time.Duration // Request timeout
}

// DefaultOllamaConfig returns configuration for a local Ollama serving
// all-minilm, which matches the default 384-dimension vector index.
func DefaultOllamaConfig() *Config {
	return &Config{
		APIURL:     "http://localhost:11434",
		APIPath:    "/api/embeddings",
		Model:      "all-minilm",
		Dimensions: 384,
		Timeout:    30 * time.Second,
	}
}

// OllamaEmbedder calls the Ollama embeddings endpoint.
//
// Thread Safety:
//
//	Safe to call from multiple goroutines.
type OllamaEmbedder struct {
	config *Config
	client *http.Client
}

// NewOllama creates a new Ollama embedder. A nil config uses
// DefaultOllamaConfig.
func NewOllama(config *Config) *OllamaEmbedder {
	if config == nil {
		config = DefaultOllamaConfig()
	}
	return &OllamaEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates a vector embedding for a single text string. A vector
// whose length differs from the configured Dimensions is rejected.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: e.config.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.config.APIURL + e.config.APIPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(ollamaResp.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	if d := e.config.Dimensions; d > 0 && len(ollamaResp.Embedding) != d {
		return nil, fmt.Errorf("%w: ollama returned %d dimensions, want %d",
			kgerrors.ErrValidation, len(ollamaResp.Embedding), d)
	}
	return ollamaResp.Embedding, nil
}

// Dimensions returns the expected embedding dimensions.
func (e *OllamaEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Model returns the model name.
func (e *OllamaEmbedder) Model() string {
	return e.config.Model
}

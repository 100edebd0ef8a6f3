// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"
)

// EmbeddingProvider is the embedder boundary: it turns entity text into
// fixed-dimension vectors. Implementations must not touch the store.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, each of Dimensions() length.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the vector size this provider produces.
	Dimensions() int

	// ModelID identifies the underlying model, recorded in cache metadata
	// for compatibility checks.
	ModelID() string
}

// CreateEmbeddingProvider builds a provider by name: "mock", "ollama", or
// "openai". Environment variables configure the network providers (see
// IngestionConfig.EmbeddingProvider).
func CreateEmbeddingProvider(name string, logger *slog.Logger) (EmbeddingProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch name {
	case "", "mock":
		return NewMockEmbeddingProvider(768), nil
	case "ollama", "nomic":
		baseURL := os.Getenv("OLLAMA_BASE_URL")
		if baseURL == "" {
			baseURL = os.Getenv("OLLAMA_HOST")
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := os.Getenv("OLLAMA_EMBED_MODEL")
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaEmbeddingProvider(baseURL, model, 768, logger), nil
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
		baseURL := os.Getenv("OPENAI_API_BASE")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := os.Getenv("OPENAI_EMBED_MODEL")
		if model == "" {
			model = "text-embedding-3-small"
		}
		return NewOpenAIEmbeddingProvider(baseURL, apiKey, model, 1536, logger), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", name)
	}
}

// MockEmbeddingProvider produces deterministic pseudo-vectors derived from a
// hash of the text. Used in tests and as the safe default when no real
// provider is configured.
type MockEmbeddingProvider struct {
	dimensions int

	// CallCount is incremented per Embed call; tests assert on it to
	// verify that unchanged entities are not re-embedded.
	CallCount int
}

// NewMockEmbeddingProvider creates a mock provider with the given dimension.
func NewMockEmbeddingProvider(dimensions int) *MockEmbeddingProvider {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockEmbeddingProvider{dimensions: dimensions}
}

func (m *MockEmbeddingProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.CallCount++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = mockVector(text, m.dimensions)
	}
	return out, nil
}

func (m *MockEmbeddingProvider) Dimensions() int { return m.dimensions }
func (m *MockEmbeddingProvider) ModelID() string { return "mock" }

// mockVector expands sha256(text) into a unit-length vector so that equal
// texts embed identically and similarity math behaves.
func mockVector(text string, dim int) []float32 {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		// Stretch the 32 seed bytes over the whole vector.
		word := binary.LittleEndian.Uint32(seed[(i*4)%28:])
		v := float32(int32(word^uint32(i*2654435761))) / float32(math.MaxInt32)
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

// OllamaEmbeddingProvider calls a local Ollama server's embedding endpoint.
type OllamaEmbeddingProvider struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
	logger     *slog.Logger
}

// NewOllamaEmbeddingProvider creates an Ollama-backed provider.
func NewOllamaEmbeddingProvider(baseURL, model string, dimensions int, logger *slog.Logger) *OllamaEmbeddingProvider {
	return &OllamaEmbeddingProvider{
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

func (o *OllamaEmbeddingProvider) Dimensions() int { return o.dimensions }
func (o *OllamaEmbeddingProvider) ModelID() string { return o.model }

func (o *OllamaEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model": o.model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d texts", len(parsed.Embeddings), len(texts))
	}
	return parsed.Embeddings, nil
}

// OpenAIEmbeddingProvider calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbeddingProvider struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
	logger     *slog.Logger
}

// NewOpenAIEmbeddingProvider creates an OpenAI-backed provider.
func NewOpenAIEmbeddingProvider(baseURL, apiKey, model string, dimensions int, logger *slog.Logger) *OpenAIEmbeddingProvider {
	return &OpenAIEmbeddingProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

func (o *OpenAIEmbeddingProvider) Dimensions() int { return o.dimensions }
func (o *OpenAIEmbeddingProvider) ModelID() string { return o.model }

func (o *OpenAIEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model": o.model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai embed: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d vectors for %d texts", len(parsed.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embed: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

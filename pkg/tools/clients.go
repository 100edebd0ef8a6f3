// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kraklabs/ragex/pkg/storage"
)

// EmbeddedQuerier adapts a local CozoDB backend to the Querier interface the
// tool handlers consume.
type EmbeddedQuerier struct {
	backend *storage.EmbeddedBackend
}

// NewEmbeddedQuerier wraps an embedded backend.
func NewEmbeddedQuerier(backend *storage.EmbeddedBackend) *EmbeddedQuerier {
	return &EmbeddedQuerier{backend: backend}
}

// Query executes a CozoScript query against the local database.
func (q *EmbeddedQuerier) Query(ctx context.Context, script string) (*QueryResult, error) {
	return q.backend.Query(ctx, script)
}

// Backend exposes the underlying backend for callers that need mutations.
func (q *EmbeddedQuerier) Backend() *storage.EmbeddedBackend {
	return q.backend
}

// RagexClient is the HTTP client for a remote ragex serve instance. It
// speaks the POST /v1/query protocol and satisfies Querier.
type RagexClient struct {
	baseURL        string
	projectID      string
	httpClient     *http.Client
	embeddingURL   string
	embeddingModel string
}

// NewRagexClient creates a client for the given server base URL.
func NewRagexClient(baseURL, projectID string) *RagexClient {
	return &RagexClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		projectID:  projectID,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// SetEmbeddingConfig records the embedding server coordinates so semantic
// search can run against the same provider the index was built with.
func (c *RagexClient) SetEmbeddingConfig(url, model string) {
	c.embeddingURL = url
	c.embeddingModel = model
}

// EmbeddingConfig returns the recorded embedding server coordinates.
func (c *RagexClient) EmbeddingConfig() (url, model string) {
	return c.embeddingURL, c.embeddingModel
}

// Query executes a CozoScript query via the remote API.
func (c *RagexClient) Query(ctx context.Context, script string) (*QueryResult, error) {
	payload, err := json.Marshal(map[string]any{
		"project_id": c.projectID,
		"script":     script,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/query", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read query response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result QueryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse query response: %w", err)
	}
	return &result, nil
}

// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/sigparse"
)

// embedBatchSize is how many texts are sent per provider call.
const embedBatchSize = 32

// EmbeddingGenerator turns parsed entities into embedded entities using a
// provider, with a bounded worker pool, retry with exponential backoff, and
// text-hash based skip of unchanged entities.
type EmbeddingGenerator struct {
	provider   EmbeddingProvider
	workers    int
	retry      RetryConfig
	logger     *slog.Logger
	onProgress ProgressCallback

	// knownHashes maps entity id to the text hash of its existing
	// embedding; entities whose fingerprint still matches are skipped.
	knownHashes map[string]string
}

// FunctionEmbedResult is the outcome of embedding a batch of functions.
type FunctionEmbedResult struct {
	Functions []FunctionEntity

	// ErrorCount is how many functions remain unembedded after retries.
	ErrorCount int

	// SkippedCount is how many functions were skipped because their text
	// fingerprint was unchanged.
	SkippedCount int
}

// TypeEmbedResult is the outcome of embedding a batch of types.
type TypeEmbedResult struct {
	Types        []TypeEntity
	ErrorCount   int
	SkippedCount int
}

// NewEmbeddingGenerator creates a generator over the given provider.
func NewEmbeddingGenerator(provider EmbeddingProvider, workers int, logger *slog.Logger) *EmbeddingGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 8
	}
	return &EmbeddingGenerator{
		provider: provider,
		workers:  workers,
		retry:    DefaultConfig().EmbeddingRetry,
		logger:   logger,
	}
}

// SetProgressCallback installs an optional progress callback, invoked with
// phase "embedding".
func (g *EmbeddingGenerator) SetProgressCallback(cb ProgressCallback) {
	g.onProgress = cb
}

// SetRetryConfig overrides the retry policy for provider calls.
func (g *EmbeddingGenerator) SetRetryConfig(rc RetryConfig) {
	g.retry = rc
}

// SetKnownTextHashes installs the stored entity-id to text-hash mapping so
// unchanged entities keep their existing embedding instead of being re-sent
// to the provider.
func (g *EmbeddingGenerator) SetKnownTextHashes(hashes map[string]string) {
	g.knownHashes = hashes
}

// Provider returns the underlying embedding provider.
func (g *EmbeddingGenerator) Provider() EmbeddingProvider {
	return g.provider
}

// FingerprintFunction builds the canonical text for a function entity. The
// same text always produces the same embedding, so its hash decides whether
// regeneration is needed.
func FingerprintFunction(fn FunctionEntity) string {
	arity := uint16(len(sigparse.ParseGoParams(fn.Signature)))
	return graphmodel.FingerprintText("function", fn.FilePath+":"+fn.Name, arity, fn.Signature, fn.CodeText)
}

// FingerprintType builds the canonical text for a type entity.
func FingerprintType(t TypeEntity) string {
	return graphmodel.FingerprintText(t.Kind, t.FilePath+":"+t.Name, 0, "", t.CodeText)
}

// EmbedFunctions embeds all functions that need it. Functions whose
// fingerprint hash matches a known hash are skipped (their Embedding stays
// nil, leaving the stored vector in place). Provider failures are retried;
// a function that still fails is returned without an embedding and counted
// in ErrorCount.
func (g *EmbeddingGenerator) EmbedFunctions(ctx context.Context, functions []FunctionEntity) (*FunctionEmbedResult, error) {
	result := &FunctionEmbedResult{Functions: functions}
	if g.provider == nil || len(functions) == 0 {
		return result, nil
	}

	var indices []int
	texts := make(map[int]string, len(functions))
	hashes := make(map[int]string, len(functions))
	for i := range functions {
		text := FingerprintFunction(functions[i])
		hash := graphmodel.Sha256Hex(text)
		if g.knownHashes != nil && g.knownHashes[functions[i].ID] == hash {
			result.SkippedCount++
			continue
		}
		indices = append(indices, i)
		texts[i] = text
		hashes[i] = hash
	}

	errCount := g.embedBatches(ctx, indices, texts, func(i int, vec []float32) {
		functions[i].Embedding = vec
		functions[i].TextHash = hashes[i]
	})
	result.ErrorCount = errCount

	if result.SkippedCount > 0 {
		g.logger.Debug("embedding.functions.skipped_unchanged", "count", result.SkippedCount)
	}
	return result, nil
}

// EmbedTypes embeds all type entities that need it; semantics match
// EmbedFunctions.
func (g *EmbeddingGenerator) EmbedTypes(ctx context.Context, types []TypeEntity) (*TypeEmbedResult, error) {
	result := &TypeEmbedResult{Types: types}
	if g.provider == nil || len(types) == 0 {
		return result, nil
	}

	var indices []int
	texts := make(map[int]string, len(types))
	hashes := make(map[int]string, len(types))
	for i := range types {
		text := FingerprintType(types[i])
		hash := graphmodel.Sha256Hex(text)
		if g.knownHashes != nil && g.knownHashes[types[i].ID] == hash {
			result.SkippedCount++
			continue
		}
		indices = append(indices, i)
		texts[i] = text
		hashes[i] = hash
	}

	errCount := g.embedBatches(ctx, indices, texts, func(i int, vec []float32) {
		types[i].Embedding = vec
		types[i].TextHash = hashes[i]
	})
	result.ErrorCount = errCount
	return result, nil
}

// embedBatches fans batches out over the worker pool and calls assign for
// every successfully embedded index. Returns the number of entities that
// failed after retries.
func (g *EmbeddingGenerator) embedBatches(ctx context.Context, indices []int, texts map[int]string, assign func(i int, vec []float32)) int {
	if len(indices) == 0 {
		return 0
	}

	var batches [][]int
	for start := 0; start < len(indices); start += embedBatchSize {
		end := min(start+embedBatchSize, len(indices))
		batches = append(batches, indices[start:end])
	}

	jobs := make(chan []int, len(batches))
	var errorCount int32
	var done int64
	total := int64(len(indices))
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < g.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range jobs {
				select {
				case <-ctx.Done():
					atomic.AddInt32(&errorCount, int32(len(batch)))
					continue
				default:
				}

				batchTexts := make([]string, len(batch))
				for j, i := range batch {
					batchTexts[j] = texts[i]
				}

				vectors, err := g.embedWithRetry(ctx, batchTexts)
				if err != nil {
					atomic.AddInt32(&errorCount, int32(len(batch)))
					g.logger.Warn("embedding.batch.failed", "size", len(batch), "err", err)
				} else {
					mu.Lock()
					for j, i := range batch {
						assign(i, vectors[j])
					}
					mu.Unlock()
				}

				current := atomic.AddInt64(&done, int64(len(batch)))
				if g.onProgress != nil {
					g.onProgress(current, total, "embedding")
				}
			}
		}()
	}

	for _, b := range batches {
		jobs <- b
	}
	close(jobs)
	wg.Wait()

	return int(atomic.LoadInt32(&errorCount))
}

// embedWithRetry calls the provider with exponential backoff.
func (g *EmbeddingGenerator) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := g.retry.InitialBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * g.retry.Multiplier)
			if g.retry.MaxBackoff > 0 && backoff > g.retry.MaxBackoff {
				backoff = g.retry.MaxBackoff
			}
		}

		vectors, err := g.provider.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		g.logger.Debug("embedding.attempt.failed", "attempt", attempt+1, "err", err)
	}
	return nil, fmt.Errorf("embed after %d attempts: %w", g.retry.MaxRetries+1, lastErr)
}

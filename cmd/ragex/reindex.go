// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/ragex/pkg/ingestion"
)

// reindexState tracks the in-flight background reindex so concurrent
// triggers (watch events, explicit tool calls) don't stack up.
type reindexState struct {
	mu         sync.Mutex
	inProgress bool
	startedAt  time.Time
	phase      string
	current    int64
	total      int64
	lastErr    error
	lastResult *ingestion.IngestionResult
}

// repoRootFromConfigPath derives the repository root from the config file
// location: the directory containing .ragex, or the working directory.
func repoRootFromConfigPath(configPath, cwd string) string {
	if configPath == "" {
		return cwd
	}
	dir := filepath.Dir(configPath)
	if filepath.Base(dir) == ".ragex" {
		return filepath.Dir(dir)
	}
	return dir
}

// runReindexGoroutine performs one incremental (or full) reindex against the
// server's already-open backend and records the outcome in reindex state.
func runReindexGoroutine(s *mcpServer, forceFull bool) {
	logPath := filepath.Join(s.repoPath, ".ragex")
	start := time.Now()

	finish := func(result *ingestion.IngestionResult, err error) {
		s.reindex.mu.Lock()
		s.reindex.inProgress = false
		s.reindex.lastErr = err
		s.reindex.lastResult = result
		s.reindex.phase = "idle"
		s.reindex.mu.Unlock()
		if err != nil {
			ingestion.AppendIndexLog(logPath, fmt.Sprintf("reindex failed: %v", err))
			fmt.Fprintf(os.Stderr, "[Ragex reindex] failed: %v\n", err)
			return
		}
		ingestion.AppendIndexLog(logPath, fmt.Sprintf("reindex completed in %s (files=%d functions=%d)",
			time.Since(start).Round(time.Millisecond), result.FilesProcessed, result.FunctionsExtracted))
	}

	if s.backend == nil || s.cfg == nil {
		finish(nil, fmt.Errorf("reindex unavailable: no embedded backend"))
		return
	}

	checkpointDir := filepath.Join(s.repoPath, ".ragex")
	config, _ := BuildIngestionConfig(s.cfg, s.repoPath, "", checkpointDir, forceFull, 0)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	pipeline, err := ingestion.NewLocalPipelineWithBackend(config, logger, s.backend)
	if err != nil {
		finish(nil, fmt.Errorf("create pipeline: %w", err))
		return
	}
	defer pipeline.Close()

	pipeline.SetProgressCallback(func(current, total int64, phase string) {
		s.reindex.mu.Lock()
		s.reindex.current = current
		s.reindex.total = total
		s.reindex.phase = phase
		s.reindex.mu.Unlock()
	})

	result, err := pipeline.Run(context.Background())
	finish(result, err)
}

// reindexStatusLine renders the current reindex state for status tools.
func (s *mcpServer) reindexStatusLine() string {
	s.reindex.mu.Lock()
	defer s.reindex.mu.Unlock()

	if s.reindex.inProgress {
		var b strings.Builder
		fmt.Fprintf(&b, "reindex in progress: phase=%s", s.reindex.phase)
		if s.reindex.total > 0 {
			fmt.Fprintf(&b, " %d/%d", s.reindex.current, s.reindex.total)
		}
		fmt.Fprintf(&b, " (running %s)", time.Since(s.reindex.startedAt).Round(time.Second))
		return b.String()
	}
	if s.reindex.lastErr != nil {
		return fmt.Sprintf("last reindex failed: %v", s.reindex.lastErr)
	}
	if s.reindex.lastResult != nil {
		return fmt.Sprintf("last reindex: files=%d functions=%d", s.reindex.lastResult.FilesProcessed, s.reindex.lastResult.FunctionsExtracted)
	}
	return "no reindex run yet"
}

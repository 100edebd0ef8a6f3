// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kraklabs/ragex/pkg/storage"
)

// ContentHashDetector computes change sets by comparing each candidate
// file's SHA256 (and size) against the stored file-tracking records. This
// is the primary change-detection contract; git diffing (changeset.go) is
// the fast path when history is available. Works with any VCS or none.
type ContentHashDetector struct {
	logger   *slog.Logger
	repoPath string
	backend  *storage.EmbeddedBackend
}

// NewContentHashDetector creates a hash-based change detector.
func NewContentHashDetector(repoPath string, backend *storage.EmbeddedBackend, logger *slog.Logger) *ContentHashDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentHashDetector{logger: logger, repoPath: repoPath, backend: backend}
}

// Available reports whether a backend is attached to read stored records from.
func (cd *ContentHashDetector) Available() bool {
	return cd.backend != nil
}

// Detect compares the discovered files against the stored records:
//   - on disk but not recorded: added
//   - recorded with a different content hash (or size): modified
//   - recorded but gone from disk: deleted
func (cd *ContentHashDetector) Detect(ctx context.Context, currentFiles []FileInfo) (*ChangeSet, error) {
	stored, err := cd.storedRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stored file records: %w", err)
	}

	onDisk := make(map[string]FileInfo, len(currentFiles))
	for _, f := range currentFiles {
		onDisk[f.Path] = f
	}

	cd.logger.Info("hash_delta.compare",
		"stored_files", len(stored),
		"current_files", len(currentFiles),
	)

	cs := NewChangeSet()
	logDir := filepath.Join(cd.repoPath, ".ragex")

	for _, current := range currentFiles {
		record, known := stored[current.Path]
		if !known {
			cs.Added = append(cs.Added, current.Path)
			AppendIndexLog(logDir, fmt.Sprintf("added %s", current.Path))
			continue
		}
		// Size mismatch decides cheaply; equal sizes compare by digest.
		if record.size != 0 && record.size != current.Size {
			cs.Modified = append(cs.Modified, current.Path)
			AppendIndexLog(logDir, fmt.Sprintf("modified %s", current.Path))
			continue
		}
		hash, err := hashFileContent(current.FullPath)
		if err != nil {
			cd.logger.Warn("hash_delta.hash_failed", "path", current.Path, "err", err)
			AppendIndexLog(logDir, fmt.Sprintf("hash_failed %s: %v", current.Path, err))
			continue
		}
		if hash != record.hash {
			cs.Modified = append(cs.Modified, current.Path)
			AppendIndexLog(logDir, fmt.Sprintf("modified %s", current.Path))
		}
	}

	for path := range stored {
		if _, exists := onDisk[path]; !exists {
			cs.Deleted = append(cs.Deleted, path)
			AppendIndexLog(logDir, fmt.Sprintf("deleted %s", path))
		}
	}

	cs.normalize()
	stats := cs.Stats()
	cd.logger.Info("hash_delta.complete",
		"added", stats.AddedCount,
		"modified", stats.ModifiedCount,
		"deleted", stats.DeletedCount,
	)
	return cs, nil
}

// storedFileRecord is the slice of the file-tracking table change
// detection needs.
type storedFileRecord struct {
	hash string
	size int64
}

// storedRecords reads path, hash, and size for every tracked file.
func (cd *ContentHashDetector) storedRecords(ctx context.Context) (map[string]storedFileRecord, error) {
	result, err := cd.backend.Query(ctx, `?[path, hash, size] := *ragex_file { path, hash, size }`)
	if err != nil {
		return nil, fmt.Errorf("query file records: %w", err)
	}

	records := make(map[string]storedFileRecord, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) < 3 {
			continue
		}
		path, _ := row[0].(string)
		hash, _ := row[1].(string)
		size := int64(0)
		if f, ok := row[2].(float64); ok {
			size = int64(f)
		}
		if path != "" && hash != "" {
			records[path] = storedFileRecord{hash: hash, size: size}
		}
	}
	return records, nil
}

// hashFileContent computes the SHA256 digest of a file's bytes.
func hashFileContent(fullPath string) (string, error) {
	content, err := os.ReadFile(fullPath) //nolint:gosec // G304: path from repo walk
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

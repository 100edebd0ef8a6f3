// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ParserMode selects the parsing strategy.
type ParserMode string

const (
	// ParserModeAuto uses Tree-sitter when available, simplified otherwise.
	ParserModeAuto ParserMode = "auto"

	// ParserModeTreeSitter forces AST-based parsing via Tree-sitter.
	ParserModeTreeSitter ParserMode = "treesitter"

	// ParserModeSimplified forces the pattern-matching parser.
	ParserModeSimplified ParserMode = "simplified"
)

// CodeParser is the analyzer boundary: implementations extract entities from
// a single source file. Implementations must be pure with respect to the
// store — they read the file and return entities, nothing else.
type CodeParser interface {
	ParseFile(fileInfo FileInfo) (*ParseResult, error)
	SetMaxCodeTextSize(size int64)
	GetTruncatedCount() int
	ResetTruncatedCount()
}

// FileInfo describes a candidate source file discovered by the repo loader.
type FileInfo struct {
	// Path is the path relative to the repository root (slash-separated).
	Path string

	// FullPath is the absolute filesystem path.
	FullPath string

	// Language is the detected language identifier ("go", "python", ...).
	Language string

	// Size is the file size in bytes.
	Size int64

	// Mtime is the file's modification time (unix seconds).
	Mtime int64
}

// LoadResult is the outcome of walking a repository.
type LoadResult struct {
	// RootPath is the absolute repository root.
	RootPath string

	// Files are the eligible source files, in lexicographic path order.
	Files []FileInfo

	// SkipReasons counts skipped files by reason ("too_large", "excluded",
	// "unsupported_language", "binary").
	SkipReasons map[string]int
}

// languageByExtension maps file extensions to language identifiers.
// Extensions not listed here are skipped as unsupported.
var languageByExtension = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rb":    "ruby",
	".ex":    "elixir",
	".exs":   "elixir",
	".erl":   "erlang",
	".hrl":   "erlang",
	".proto": "protobuf",
}

// DetectLanguage returns the language identifier for a path, or "" when the
// extension is not supported.
func DetectLanguage(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}

// RepoLoader discovers source files under a repository root, applying
// exclusion globs and size limits.
type RepoLoader struct {
	logger *slog.Logger
}

// NewRepoLoader creates a repository loader.
func NewRepoLoader(logger *slog.Logger) *RepoLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepoLoader{logger: logger}
}

// Close releases loader resources. The local loader holds none; the method
// exists so the pipeline can treat loaders uniformly.
func (rl *RepoLoader) Close() error {
	return nil
}

// LoadRepository walks the repository and returns eligible source files.
// Only local_path sources are supported in standalone mode.
func (rl *RepoLoader) LoadRepository(source RepoSource, excludeGlobs []string, maxFileSize int64) (*LoadResult, error) {
	if source.Type != "local_path" {
		return nil, fmt.Errorf("unsupported repo source type: %q", source.Type)
	}

	rootPath, err := filepath.Abs(source.Value)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}
	if info, err := os.Stat(rootPath); err != nil {
		return nil, fmt.Errorf("stat repo path: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("repo path is not a directory: %s", rootPath)
	}

	result := &LoadResult{
		RootPath:    rootPath,
		SkipReasons: make(map[string]int),
	}

	err = filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			rl.logger.Warn("loader.walk.error", "path", path, "err", walkErr)
			return nil
		}

		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && matchesAnyGlob(rel+"/", excludeGlobs) {
				return filepath.SkipDir
			}
			return nil
		}

		if matchesAnyGlob(rel, excludeGlobs) {
			result.SkipReasons["excluded"]++
			return nil
		}

		language := DetectLanguage(rel)
		if language == "" {
			result.SkipReasons["unsupported_language"]++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			rl.logger.Warn("loader.stat.error", "path", rel, "err", err)
			return nil
		}
		if maxFileSize > 0 && info.Size() > maxFileSize {
			result.SkipReasons["too_large"]++
			rl.logger.Debug("loader.skip.too_large", "path", rel, "size", info.Size())
			return nil
		}
		if isBinaryFile(path) {
			result.SkipReasons["binary"]++
			return nil
		}

		result.Files = append(result.Files, FileInfo{
			Path:     rel,
			FullPath: path,
			Language: language,
			Size:     info.Size(),
			Mtime:    info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk repository: %w", err)
	}

	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})

	rl.logger.Info("loader.complete",
		"root", rootPath,
		"files", len(result.Files),
		"skipped", len(result.SkipReasons),
	)
	return result, nil
}

// matchesAnyGlob reports whether path matches any of the exclusion globs.
// Supports the ** prefix/suffix forms used in the default exclude list.
func matchesAnyGlob(path string, globs []string) bool {
	for _, g := range globs {
		if matchesGlob(path, g) {
			return true
		}
	}
	return false
}

func matchesGlob(path, glob string) bool {
	// "dir/**" excludes everything under dir (at any depth for the
	// "**/dir/**" form).
	if suffix, ok := strings.CutSuffix(glob, "/**"); ok {
		if inner, anywhere := strings.CutPrefix(suffix, "**/"); anywhere {
			if strings.Contains(path, "/"+inner+"/") || strings.HasPrefix(path, inner+"/") {
				return true
			}
			return false
		}
		return strings.HasPrefix(path, suffix+"/") || strings.TrimSuffix(path, "/") == suffix
	}
	// Plain patterns match against the base name ("*.min.js",
	// "package-lock.json").
	if ok, _ := filepath.Match(glob, filepath.Base(strings.TrimSuffix(path, "/"))); ok {
		return true
	}
	ok, _ := filepath.Match(glob, strings.TrimSuffix(path, "/"))
	return ok
}

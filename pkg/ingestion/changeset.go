// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"log/slog"
)

// gitEmptyTree is git's well-known empty tree object, used as the base for
// an initial (everything-is-new) comparison.
const gitEmptyTree = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// ChangeSet is the file-level delta between two analyzed states: which
// source files appeared, changed, or disappeared. The incremental indexer
// re-analyzes exactly this set; renames are handled as remove-old plus
// analyze-new.
type ChangeSet struct {
	// BaseSHA and HeadSHA bound the comparison when git produced it;
	// hash-based detection leaves them empty.
	BaseSHA string
	HeadSHA string

	Added    []string
	Modified []string
	Deleted  []string

	// Renamed maps old path to new path.
	Renamed map[string]string

	// All is the sorted, deduplicated union of every path above (both
	// sides of each rename).
	All []string
}

// NewChangeSet creates an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{Renamed: make(map[string]string)}
}

// HasChanges reports whether anything changed.
func (cs *ChangeSet) HasChanges() bool {
	return len(cs.All) > 0
}

// ChangeSetStats summarizes a change set for logging and reports.
type ChangeSetStats struct {
	AddedCount    int
	ModifiedCount int
	DeletedCount  int
	RenamedCount  int
	TotalChanged  int
}

// Stats computes summary counts.
func (cs *ChangeSet) Stats() ChangeSetStats {
	return ChangeSetStats{
		AddedCount:    len(cs.Added),
		ModifiedCount: len(cs.Modified),
		DeletedCount:  len(cs.Deleted),
		RenamedCount:  len(cs.Renamed),
		TotalChanged:  len(cs.All),
	}
}

// normalize sorts every bucket and rebuilds All, so iteration order (and
// therefore logs and processing order) is reproducible.
func (cs *ChangeSet) normalize() {
	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)

	union := make(map[string]bool)
	for _, p := range cs.Added {
		union[p] = true
	}
	for _, p := range cs.Modified {
		union[p] = true
	}
	for _, p := range cs.Deleted {
		union[p] = true
	}
	for oldPath, newPath := range cs.Renamed {
		union[oldPath] = true
		union[newPath] = true
	}
	cs.All = make([]string, 0, len(union))
	for p := range union {
		cs.All = append(cs.All, p)
	}
	sort.Strings(cs.All)
}

// GitChangeDetector computes change sets from git history
// (`git diff --name-status -M` between two commits). It is one of two
// change sources; content-hash comparison (hash_delta.go) covers trees
// without git.
type GitChangeDetector struct {
	logger   *slog.Logger
	repoPath string
}

// NewGitChangeDetector creates a detector rooted at a repository.
func NewGitChangeDetector(repoPath string, logger *slog.Logger) *GitChangeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitChangeDetector{logger: logger, repoPath: repoPath}
}

// IsGitRepository reports whether the root is inside a git work tree.
func (gd *GitChangeDetector) IsGitRepository() bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = gd.repoPath
	return cmd.Run() == nil
}

// HeadSHA resolves the current HEAD commit.
func (gd *GitChangeDetector) HeadSHA() (string, error) {
	return gd.resolveRef("HEAD")
}

// Detect computes the change set between two commits. An empty baseSHA
// compares against the empty tree (everything added); an empty headSHA
// means HEAD.
func (gd *GitChangeDetector) Detect(baseSHA, headSHA string) (*ChangeSet, error) {
	if headSHA == "" {
		headSHA = "HEAD"
	}
	head, err := gd.resolveRef(headSHA)
	if err != nil {
		return nil, fmt.Errorf("resolve head ref: %w", err)
	}

	base := baseSHA
	if base == "" {
		base = gitEmptyTree
		gd.logger.Info("changeset.detect.initial",
			"head_sha", head[:min(8, len(head))],
			"msg", "comparing against empty tree (initial ingestion)",
		)
	} else {
		if base, err = gd.resolveRef(baseSHA); err != nil {
			return nil, fmt.Errorf("resolve base ref: %w", err)
		}
	}

	cmd := exec.Command("git", "diff", "--name-status", "-M", base, head) //nolint:gosec // G204: args are SHA hashes from git rev-parse
	cmd.Dir = gd.repoPath
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("git diff failed: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("git diff: %w", err)
	}

	cs := NewChangeSet()
	cs.BaseSHA = base
	cs.HeadSHA = head

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		gd.ingestDiffLine(scanner.Text(), cs)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan diff output: %w", err)
	}

	cs.normalize()
	stats := cs.Stats()
	gd.logger.Info("changeset.detect.complete",
		"base_sha", base[:min(8, len(base))],
		"head_sha", head[:min(8, len(head))],
		"added", stats.AddedCount,
		"modified", stats.ModifiedCount,
		"deleted", stats.DeletedCount,
		"renamed", stats.RenamedCount,
		"total_changed", stats.TotalChanged,
	)
	return cs, nil
}

// ingestDiffLine buckets one `git diff --name-status` line. The format is
// "STATUS\tpath" or "STATUS\told\tnew" for renames/copies; status letters
// A/M/D/Rnnn/Cnnn.
func (gd *GitChangeDetector) ingestDiffLine(line string, cs *ChangeSet) {
	if line == "" {
		return
	}
	parts := strings.Split(line, "\t")
	if len(parts) < 2 {
		return
	}
	status := parts[0]
	paths := parts[1:]
	for i, p := range paths {
		paths[i] = unquoteGitPath(p)
	}

	switch status[0] {
	case 'A':
		cs.Added = append(cs.Added, paths[0])
	case 'M':
		cs.Modified = append(cs.Modified, paths[0])
	case 'D':
		cs.Deleted = append(cs.Deleted, paths[0])
	case 'R':
		if len(paths) >= 2 {
			cs.Renamed[paths[0]] = paths[1]
		}
	case 'C':
		// A copy leaves the source untouched; only the copy is new.
		if len(paths) >= 2 {
			cs.Added = append(cs.Added, paths[1])
		}
	}
}

// unquoteGitPath removes git's quoting of paths with special characters.
func unquoteGitPath(path string) string {
	if len(path) < 2 || path[0] != '"' || path[len(path)-1] != '"' {
		return path
	}
	unquoted := path[1 : len(path)-1]
	unquoted = strings.ReplaceAll(unquoted, `\n`, "\n")
	unquoted = strings.ReplaceAll(unquoted, `\t`, "\t")
	unquoted = strings.ReplaceAll(unquoted, `\\`, `\`)
	unquoted = strings.ReplaceAll(unquoted, `\"`, `"`)
	return unquoted
}

// resolveRef resolves a branch, tag, or symbolic ref to a commit SHA.
func (gd *GitChangeDetector) resolveRef(ref string) (string, error) {
	cmd := exec.Command("git", "rev-parse", ref)
	cmd.Dir = gd.repoPath
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git rev-parse %s failed: %s", ref, string(exitErr.Stderr))
		}
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// UntrackedFiles lists files present on disk but not in the git index.
// Watch-triggered reindexes fold these into the change set so brand-new
// files index before their first commit.
func (gd *GitChangeDetector) UntrackedFiles() ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--others", "--exclude-standard")
	cmd.Dir = gd.repoPath
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("git ls-files failed: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("git ls-files: %w", err)
	}
	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			files = append(files, line)
		}
	}
	return files, scanner.Err()
}

// FilterChangeSet drops excluded, oversized, binary, and non-regular files
// from a change set. Renames whose new path is ineligible degrade to a
// deletion of the old path so stale entities still clean up.
func FilterChangeSet(cs *ChangeSet, excludeGlobs []string, maxFileSize int64, repoPath string) *ChangeSet {
	keep := func(path string) bool {
		normalized := filepath.ToSlash(path)
		for _, pattern := range excludeGlobs {
			if matchesGlob(normalized, pattern) {
				return false
			}
		}
		return true
	}
	eligible := func(path string) bool {
		full := filepath.Join(repoPath, path)
		info, err := os.Lstat(full)
		if err != nil {
			// Absent on disk: later stages report it properly.
			return true
		}
		if info.Mode()&os.ModeSymlink != 0 || info.IsDir() {
			return false
		}
		if maxFileSize > 0 && info.Size() > maxFileSize {
			return false
		}
		return !isBinaryFile(full)
	}

	filtered := NewChangeSet()
	filtered.BaseSHA = cs.BaseSHA
	filtered.HeadSHA = cs.HeadSHA
	for _, p := range cs.Added {
		if keep(p) && eligible(p) {
			filtered.Added = append(filtered.Added, p)
		}
	}
	for _, p := range cs.Modified {
		if keep(p) && eligible(p) {
			filtered.Modified = append(filtered.Modified, p)
		}
	}
	for _, p := range cs.Deleted {
		if keep(p) {
			filtered.Deleted = append(filtered.Deleted, p)
		}
	}
	for oldPath, newPath := range cs.Renamed {
		if keep(newPath) && eligible(newPath) {
			filtered.Renamed[oldPath] = newPath
			continue
		}
		if keep(oldPath) {
			filtered.Deleted = append(filtered.Deleted, oldPath)
		}
	}

	filtered.normalize()
	return filtered
}

// isBinaryFile sniffs the first bytes for NULs.
func isBinaryFile(fullPath string) bool {
	f, err := os.Open(fullPath) //nolint:gosec // G304: path validated by caller
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, 8192)
	n, _ := io.ReadFull(f, buf)
	if n <= 0 {
		return false
	}
	return bytes.IndexByte(buf[:n], 0x00) >= 0
}

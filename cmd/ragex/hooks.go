// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ragex/internal/errors"
	"github.com/kraklabs/ragex/internal/ui"
)

// postCommitHook keeps the index fresh after every commit without blocking
// the commit itself.
const postCommitHook = `#!/bin/sh
# Installed by 'ragex install-hook'. Reindexes changed files after commit.
ragex index --quiet >/dev/null 2>&1 &
`

// runInstallHook installs the git post-commit hook that triggers
// incremental reindexing.
func runInstallHook(args []string, _ string, globals GlobalFlags) {
	fs := flag.NewFlagSet("install-hook", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing post-commit hook")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ragex install-hook [options]

Description:
  Installs a git post-commit hook that runs 'ragex index' in the
  background after each commit, keeping the local index fresh.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	gitDir, err := findGitDir()
	if err != nil {
		errors.FatalError(errors.NewInputError(
			"Not a git repository",
			fmt.Sprintf("Cannot locate a .git directory from the current path: %v", err),
			"Run this command from inside a git repository",
		), globals.JSON)
	}

	hookPath := filepath.Join(gitDir, "hooks", "post-commit")
	if err := installHook(hookPath, *force); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot install git hook",
			err.Error(),
			"Check permissions on .git/hooks, or pass --force to overwrite an existing hook",
		), globals.JSON)
	}
	ui.Successf("Git hook installed: %s", hookPath)
}

// findGitDir walks up from the working directory to the enclosing .git
// directory.
func findGitDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return gitDir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .git directory found above %s", dir)
		}
		dir = parent
	}
}

// installHook writes the post-commit hook. Refuses to overwrite a foreign
// hook unless force is set.
func installHook(hookPath string, force bool) error {
	if existing, err := os.ReadFile(hookPath); err == nil && !force {
		if string(existing) == postCommitHook {
			return nil // already installed
		}
		return fmt.Errorf("a post-commit hook already exists at %s", hookPath)
	}
	if err := os.MkdirAll(filepath.Dir(hookPath), 0750); err != nil {
		return fmt.Errorf("create hooks dir: %w", err)
	}
	if err := os.WriteFile(hookPath, []byte(postCommitHook), 0750); err != nil {
		return fmt.Errorf("write hook: %w", err)
	}
	return nil
}

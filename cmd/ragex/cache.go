// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ragex/internal/errors"
	"github.com/kraklabs/ragex/internal/ui"
	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/persistence"
	"github.com/kraklabs/ragex/pkg/storage"
)

// runCache manages portable snapshots of the indexed graph and embeddings:
// save, load, stats, clear. The live RocksDB store stays authoritative;
// snapshots are for backup and transport between machines.
func runCache(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ragex cache <save|load|stats|clear>

Description:
  Manages compressed snapshot files of the knowledge graph and embedding
  tables under the cache directory (XDG_CACHE_HOME/ragex/<project-hash>/).

  save    Export the live database to graph.bin and embeddings.bin
  load    Import a snapshot back into the live database
  stats   Show snapshot metadata and sizes
  clear   Remove the project's snapshot directory
`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	action := fs.Arg(0)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load Ragex configuration",
			"A project config is required to locate the database",
			"Run 'ragex init' first",
			err,
		), globals.JSON)
	}

	cwd, _ := os.Getwd()
	repoPath := repoRootFromConfigPath(configPath, cwd)

	dataDir, uerr := projectDataDir(cfg, configPath)
	if uerr != nil {
		errors.FatalError(uerr, globals.JSON)
	}
	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{
		DataDir:             dataDir,
		ProjectID:           cfg.ProjectID,
		Engine:              "rocksdb",
		EmbeddingDimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot open local database",
			err.Error(),
			"Run 'ragex index' first, and make sure no other ragex process holds the database",
		), globals.JSON)
	}
	defer backend.Close()

	mgr, err := persistence.NewManager(backend.DB(), repoPath, "", nil)
	if err != nil {
		errors.FatalError(errors.NewInternalError("Cannot create snapshot manager", err.Error(), ""), globals.JSON)
	}

	switch action {
	case "save":
		dims := cfg.Embedding.Dimensions
		if dims <= 0 {
			dims = 768
		}
		graphPath, embPath, err := mgr.Save(graphmodel.CacheMetadata{
			ModelID:    cfg.Embedding.Model,
			Dimensions: uint16(dims),
			Timestamp:  time.Now().Unix(),
		})
		if err != nil {
			errors.FatalError(errors.NewInternalError("Snapshot save failed", err.Error(), ""), globals.JSON)
		}
		ui.Successf("Saved %s and %s", graphPath, embPath)
	case "load":
		dims := cfg.Embedding.Dimensions
		if dims <= 0 {
			dims = 768
		}
		if err := mgr.Load(dims); err != nil {
			errors.FatalError(errors.NewInternalError(
				"Snapshot load failed",
				err.Error(),
				"A model mismatch keeps the graph but skips embeddings; re-run 'ragex index' to regenerate vectors",
			), globals.JSON)
		}
		ui.Success("Snapshot loaded")
	case "stats":
		stats, err := mgr.Stats()
		if err != nil {
			ui.Warningf("No snapshots found: %v", err)
			return
		}
		for _, st := range stats {
			fmt.Printf("%s\n  size: %d bytes\n  model: %s (%d dims)\n  saved: %s\n",
				st.Path, st.Size, st.Metadata.ModelID, st.Metadata.Dimensions,
				time.Unix(st.Metadata.Timestamp, 0).Format(time.RFC3339))
		}
	case "clear":
		if err := mgr.Clear(); err != nil {
			errors.FatalError(errors.NewInternalError("Snapshot clear failed", err.Error(), ""), globals.JSON)
		}
		ui.Success("Snapshot directory removed")
	default:
		fs.Usage()
		os.Exit(1)
	}
}

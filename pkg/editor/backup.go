// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/ragexerr"
)

// BackupInfo describes one stored pre-edit snapshot.
type BackupInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// BackupStore keeps pre-edit file snapshots under a root directory, one
// subdirectory per edited file (keyed by path hash), one content file plus
// metadata sidecar per backup.
type BackupStore struct {
	root string
}

// NewBackupStore creates a backup store rooted at root. Empty root uses
// ~/.ragex/backups.
func NewBackupStore(root string) (*BackupStore, error) {
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, ragexerr.Wrap(ragexerr.Io, "editor.NewBackupStore", "resolve home dir", err)
		}
		root = filepath.Join(home, ".ragex", "backups")
	}
	return &BackupStore{root: root}, nil
}

// Root returns the store's base directory.
func (bs *BackupStore) Root() string { return bs.root }

// NewBackupID mints a fresh backup id: YYYYMMDD_HHMMSS_<rand>.
func NewBackupID(now time.Time) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s_%s", now.Format("20060102_150405"), hex.EncodeToString(suffix))
}

func (bs *BackupStore) dirFor(path string) string {
	return filepath.Join(bs.root, graphmodel.Sha256Hex(path)[:16])
}

// Save stores content as a new backup of path and returns its info.
func (bs *BackupStore) Save(path string, content []byte) (*BackupInfo, error) {
	dir := bs.dirFor(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "editor.BackupStore.Save", "create backup dir", err).WithPath(path)
	}

	info := &BackupInfo{
		ID:        NewBackupID(time.Now()),
		Path:      path,
		Size:      int64(len(content)),
		CreatedAt: time.Now(),
	}

	if err := os.WriteFile(filepath.Join(dir, info.ID), content, 0640); err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "editor.BackupStore.Save", "write backup", err).WithPath(path)
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "editor.BackupStore.Save", "marshal metadata", err).WithPath(path)
	}
	if err := os.WriteFile(filepath.Join(dir, info.ID+".json"), meta, 0640); err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "editor.BackupStore.Save", "write metadata", err).WithPath(path)
	}
	return info, nil
}

// Load returns a backup's content. Empty id loads the most recent backup
// for the path.
func (bs *BackupStore) Load(path, id string) ([]byte, *BackupInfo, error) {
	if id == "" {
		infos, err := bs.List(path, 1)
		if err != nil {
			return nil, nil, err
		}
		if len(infos) == 0 {
			return nil, nil, ragexerr.New(ragexerr.NotFound, "editor.BackupStore.Load", "no backups for file").WithPath(path)
		}
		id = infos[0].ID
	}

	dir := bs.dirFor(path)
	content, err := os.ReadFile(filepath.Join(dir, id))
	if os.IsNotExist(err) {
		return nil, nil, ragexerr.New(ragexerr.NotFound, "editor.BackupStore.Load", "backup absent").WithPath(path).WithBackup(id)
	}
	if err != nil {
		return nil, nil, ragexerr.Wrap(ragexerr.Io, "editor.BackupStore.Load", "read backup", err).WithPath(path).WithBackup(id)
	}

	info := &BackupInfo{ID: id, Path: path, Size: int64(len(content))}
	if meta, err := os.ReadFile(filepath.Join(dir, id+".json")); err == nil {
		_ = json.Unmarshal(meta, info)
	}
	return content, info, nil
}

// List returns the backups for path, most recent first. limit <= 0 lists
// everything.
func (bs *BackupStore) List(path string, limit int) ([]*BackupInfo, error) {
	dir := bs.dirFor(path)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "editor.BackupStore.List", "read backup dir", err).WithPath(path)
	}

	var infos []*BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, ".json") {
			continue
		}
		info := &BackupInfo{ID: name, Path: path}
		if meta, err := os.ReadFile(filepath.Join(dir, name+".json")); err == nil {
			_ = json.Unmarshal(meta, info)
		}
		infos = append(infos, info)
	}

	// Ids start with a timestamp, so lexicographic descending is reverse
	// chronological.
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID > infos[j].ID })
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

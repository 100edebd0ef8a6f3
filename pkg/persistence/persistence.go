// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persistence writes and reads portable snapshots of the knowledge
// graph and embedding tables: one compressed framed binary per table group,
// scoped to a project-hash cache directory, with model-compatibility
// metadata validated on load. RocksDB remains the live engine; these
// snapshots are the export/backup/restore surface.
package persistence

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/ragexerr"
)

// Snapshot file layout:
//
//	MAGIC(4) | VERSION(u16, big endian) | METADATA_LEN(u32) | METADATA | PAYLOAD
//
// METADATA is uncompressed JSON (CacheMetadata). PAYLOAD is the zstd-
// compressed JSON relation dump. The compression bit in VERSION selects the
// algorithm; only zstd is currently assigned.
const (
	magic = "RGXC"

	// formatVersion is the current frame layout version.
	formatVersion uint16 = 1

	// compressionZstd flags the payload as zstd in the version word.
	compressionZstd uint16 = 0x8000

	versionMask = 0x7FFF
)

// Sentinel load failures. Both carry kind Integrity when surfaced.
var (
	ErrVersionMismatch   = errors.New("snapshot version mismatch")
	ErrModelIncompatible = errors.New("snapshot embedding model incompatible")
)

// graphRelations are the dimensionless tables stored in graph.bin.
var graphRelations = []string{
	"ragex_file", "ragex_module", "ragex_module_import",
	"ragex_function", "ragex_function_code",
	"ragex_type", "ragex_type_code",
	"ragex_defines", "ragex_defines_type", "ragex_calls", "ragex_import",
	"ragex_field", "ragex_implements", "ragex_project_meta",
}

// embeddingRelations are the dimension-bound tables stored in
// embeddings.bin.
var embeddingRelations = []string{
	"ragex_function_embedding", "ragex_type_embedding", "ragex_embedding_meta",
}

// RelationPorter is the slice of the database the manager needs: bulk
// relation export and import. The embedded CozoDB satisfies it.
type RelationPorter interface {
	ExportRelations(jsonPayload string) (string, error)
	ImportRelations(jsonPayload string) error
}

// Manager owns a project's snapshot directory.
type Manager struct {
	porter      RelationPorter
	projectPath string
	cacheRoot   string
	logger      *slog.Logger
}

// NewManager creates a snapshot manager for the project rooted at
// projectPath. cacheRoot defaults to $XDG_CACHE_HOME/ragex (or
// ~/.cache/ragex) when empty.
func NewManager(porter RelationPorter, projectPath, cacheRoot string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheRoot == "" {
		var err error
		cacheRoot, err = DefaultCacheRoot()
		if err != nil {
			return nil, ragexerr.Wrap(ragexerr.Io, "persistence.NewManager", "resolve cache root", err)
		}
	}
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "persistence.NewManager", "resolve project path", err).WithPath(projectPath)
	}
	return &Manager{
		porter:      porter,
		projectPath: abs,
		cacheRoot:   cacheRoot,
		logger:      logger,
	}, nil
}

// DefaultCacheRoot resolves $XDG_CACHE_HOME/ragex, falling back to
// ~/.cache/ragex.
func DefaultCacheRoot() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragex"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", "ragex"), nil
}

// ProjectHash returns the first 16 hex chars of the SHA256 of the project's
// absolute path, scoping the cache directory.
func (m *Manager) ProjectHash() string {
	return ProjectHash(m.projectPath)
}

// ProjectHash hashes an absolute project path into its cache scope.
func ProjectHash(absPath string) string {
	return graphmodel.Sha256Hex(absPath)[:16]
}

// CacheDir returns the project's snapshot directory.
func (m *Manager) CacheDir() string {
	return filepath.Join(m.cacheRoot, m.ProjectHash())
}

// GraphPath returns the graph snapshot file path.
func (m *Manager) GraphPath() string {
	return filepath.Join(m.CacheDir(), "graph.bin")
}

// EmbeddingsPath returns the embedding snapshot file path.
func (m *Manager) EmbeddingsPath() string {
	return filepath.Join(m.CacheDir(), "embeddings.bin")
}

// Save exports both table groups and writes each snapshot atomically (temp
// file in the same directory, fsync, rename). Returns the written paths.
func (m *Manager) Save(meta graphmodel.CacheMetadata) (graphPath, embeddingsPath string, err error) {
	if err := os.MkdirAll(m.CacheDir(), 0750); err != nil {
		return "", "", ragexerr.Wrap(ragexerr.Io, "persistence.Save", "create cache dir", err).WithPath(m.CacheDir())
	}
	meta.Version = formatVersion
	if meta.Timestamp == 0 {
		meta.Timestamp = time.Now().Unix()
	}

	graphPath = m.GraphPath()
	if err := m.saveGroup(graphPath, graphRelations, meta); err != nil {
		return "", "", err
	}
	embeddingsPath = m.EmbeddingsPath()
	if err := m.saveGroup(embeddingsPath, embeddingRelations, meta); err != nil {
		return "", "", err
	}

	m.logger.Info("persistence.save.complete",
		"graph", graphPath,
		"embeddings", embeddingsPath,
		"model", meta.ModelID,
		"dimensions", meta.Dimensions,
	)
	return graphPath, embeddingsPath, nil
}

func (m *Manager) saveGroup(path string, relations []string, meta graphmodel.CacheMetadata) error {
	payload, err := m.exportRelations(relations)
	if err != nil {
		return ragexerr.Wrap(ragexerr.Io, "persistence.Save", "export relations", err).WithPath(path)
	}
	framed, err := encodeFrame(meta, payload)
	if err != nil {
		return ragexerr.Wrap(ragexerr.Io, "persistence.Save", "encode snapshot", err).WithPath(path)
	}
	if err := atomicWrite(path, framed); err != nil {
		return ragexerr.Wrap(ragexerr.Io, "persistence.Save", "write snapshot", err).WithPath(path)
	}
	return nil
}

// Load validates and imports both snapshots. The graph is dimensionless and
// loads whenever its frame validates. Embeddings additionally require the
// stored model dimensions to equal wantDimensions; on mismatch the graph
// stays loaded, the embedding snapshot is skipped, and the caller receives
// ErrModelIncompatible (wrapped) so it can start with empty vectors.
func (m *Manager) Load(wantDimensions int) error {
	graphMeta, graphPayload, err := readFrame(m.GraphPath())
	if err != nil {
		return err
	}
	if err := m.importPayload(graphPayload); err != nil {
		return ragexerr.Wrap(ragexerr.Integrity, "persistence.Load", "import graph snapshot", err).WithPath(m.GraphPath())
	}
	m.logger.Info("persistence.load.graph", "entities", graphMeta.EntityCount)

	embMeta, embPayload, err := readFrame(m.EmbeddingsPath())
	if err != nil {
		// A missing or corrupt embedding snapshot leaves the graph usable.
		if ragexerr.Is(err, ragexerr.NotFound) {
			return nil
		}
		return err
	}
	if int(embMeta.Dimensions) != wantDimensions {
		m.logger.Warn("persistence.load.model_incompatible",
			"stored_dimensions", embMeta.Dimensions,
			"configured_dimensions", wantDimensions,
			"stored_model", embMeta.ModelID,
		)
		return ragexerr.Wrap(ragexerr.Integrity, "persistence.Load",
			fmt.Sprintf("stored embeddings are %d-dimensional, embedder is %d-dimensional", embMeta.Dimensions, wantDimensions),
			ErrModelIncompatible).WithPath(m.EmbeddingsPath())
	}
	if err := m.importPayload(embPayload); err != nil {
		return ragexerr.Wrap(ragexerr.Integrity, "persistence.Load", "import embedding snapshot", err).WithPath(m.EmbeddingsPath())
	}
	return nil
}

// CacheValid reports whether a graph snapshot exists with a readable,
// version-compatible header. Header-only: the payload is not decompressed.
func (m *Manager) CacheValid() bool {
	_, err := readHeader(m.GraphPath())
	return err == nil
}

// SnapshotStats describes one snapshot file.
type SnapshotStats struct {
	Path     string
	Size     int64
	Metadata graphmodel.CacheMetadata
}

// Stats returns header metadata and file sizes for both snapshots.
func (m *Manager) Stats() ([]SnapshotStats, error) {
	var out []SnapshotStats
	for _, path := range []string{m.GraphPath(), m.EmbeddingsPath()} {
		meta, err := readHeader(path)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		out = append(out, SnapshotStats{Path: path, Size: info.Size(), Metadata: *meta})
	}
	if len(out) == 0 {
		return nil, ragexerr.New(ragexerr.NotFound, "persistence.Stats", "no snapshots").WithPath(m.CacheDir())
	}
	return out, nil
}

// Clear removes the project's snapshot directory.
func (m *Manager) Clear() error {
	if err := os.RemoveAll(m.CacheDir()); err != nil {
		return ragexerr.Wrap(ragexerr.Io, "persistence.Clear", "remove cache dir", err).WithPath(m.CacheDir())
	}
	return nil
}

// exportRelations dumps the given relations as the JSON object CozoDB's
// import call accepts. Relations missing from a fresh database are skipped.
func (m *Manager) exportRelations(relations []string) ([]byte, error) {
	req, err := json.Marshal(map[string]any{"relations": relations})
	if err != nil {
		return nil, err
	}
	raw, err := m.porter.ExportRelations(string(req))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		OK      bool                       `json:"ok"`
		Data    map[string]json.RawMessage `json:"data"`
		Message string                     `json:"message"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse export response: %w", err)
	}
	if !parsed.OK && parsed.Message != "" {
		return nil, fmt.Errorf("export failed: %s", parsed.Message)
	}
	if parsed.Data == nil {
		parsed.Data = map[string]json.RawMessage{}
	}
	return json.Marshal(parsed.Data)
}

// importPayload feeds a relation dump back into the database.
func (m *Manager) importPayload(payload []byte) error {
	return m.porter.ImportRelations(string(payload))
}

// encodeFrame builds the framed binary: header, metadata, compressed
// payload.
func encodeFrame(meta graphmodel.CacheMetadata, payload []byte) ([]byte, error) {
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	compressed := enc.EncodeAll(payload, nil)
	_ = enc.Close()

	buf := make([]byte, 0, 4+2+4+len(metaBytes)+len(compressed))
	buf = append(buf, magic...)
	buf = binary.BigEndian.AppendUint16(buf, formatVersion|compressionZstd)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(metaBytes)))
	buf = append(buf, metaBytes...)
	buf = append(buf, compressed...)
	return buf, nil
}

// readHeader validates the frame header and returns the metadata without
// touching the payload.
func readHeader(path string) (*graphmodel.CacheMetadata, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ragexerr.New(ragexerr.NotFound, "persistence.readHeader", "snapshot absent").WithPath(path)
	}
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "persistence.readHeader", "open snapshot", err).WithPath(path)
	}
	defer f.Close()

	meta, _, err := decodeHeader(f, path)
	return meta, err
}

// readFrame validates the header and returns metadata plus the decompressed
// payload. Corrupt frames surface as Integrity errors; callers treat them
// as not_found and regenerate.
func readFrame(path string) (*graphmodel.CacheMetadata, []byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, ragexerr.New(ragexerr.NotFound, "persistence.readFrame", "snapshot absent").WithPath(path)
	}
	if err != nil {
		return nil, nil, ragexerr.Wrap(ragexerr.Io, "persistence.readFrame", "open snapshot", err).WithPath(path)
	}
	defer f.Close()

	meta, version, err := decodeHeader(f, path)
	if err != nil {
		return nil, nil, err
	}

	compressed, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, ragexerr.Wrap(ragexerr.Io, "persistence.readFrame", "read payload", err).WithPath(path)
	}

	if version&compressionZstd == 0 {
		return nil, nil, ragexerr.Wrap(ragexerr.Integrity, "persistence.readFrame", "unknown compression", ErrVersionMismatch).WithPath(path)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, nil, ragexerr.Wrap(ragexerr.Io, "persistence.readFrame", "init zstd", err)
	}
	defer dec.Close()
	payload, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, nil, ragexerr.Wrap(ragexerr.Integrity, "persistence.readFrame", "decompress payload", err).WithPath(path)
	}
	return meta, payload, nil
}

func decodeHeader(r io.Reader, path string) (*graphmodel.CacheMetadata, uint16, error) {
	header := make([]byte, 4+2+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, ragexerr.Wrap(ragexerr.Integrity, "persistence.decodeHeader", "short header", err).WithPath(path)
	}
	if string(header[:4]) != magic {
		return nil, 0, ragexerr.New(ragexerr.Integrity, "persistence.decodeHeader", "bad magic").WithPath(path)
	}
	version := binary.BigEndian.Uint16(header[4:6])
	if version&versionMask != formatVersion {
		return nil, 0, ragexerr.Wrap(ragexerr.Integrity, "persistence.decodeHeader",
			fmt.Sprintf("snapshot format v%d, loader supports v%d", version&versionMask, formatVersion),
			ErrVersionMismatch).WithPath(path)
	}
	metaLen := binary.BigEndian.Uint32(header[6:10])
	if metaLen > 1<<20 {
		return nil, 0, ragexerr.New(ragexerr.Integrity, "persistence.decodeHeader", "metadata length out of range").WithPath(path)
	}
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return nil, 0, ragexerr.Wrap(ragexerr.Integrity, "persistence.decodeHeader", "short metadata", err).WithPath(path)
	}
	var meta graphmodel.CacheMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, 0, ragexerr.Wrap(ragexerr.Integrity, "persistence.decodeHeader", "parse metadata", err).WithPath(path)
	}
	return &meta, version, nil
}

// atomicWrite writes to a temp file in the destination directory, fsyncs,
// and renames into place so a crash never leaves a torn snapshot.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

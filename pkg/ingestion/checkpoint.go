// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint records the progress of an ingestion run so an interrupted run
// can be diagnosed or resumed.
type Checkpoint struct {
	ProjectID      string    `json:"project_id"`
	RunID          string    `json:"run_id"`
	LastIndexedSHA string    `json:"last_indexed_sha,omitempty"`
	FilesProcessed int       `json:"files_processed"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CheckpointManager persists checkpoints as JSON files in a directory.
type CheckpointManager struct {
	basePath string
}

// NewCheckpointManager creates a checkpoint manager rooted at basePath.
// An empty basePath uses the current working directory.
func NewCheckpointManager(basePath string) *CheckpointManager {
	if basePath == "" {
		basePath = "."
	}
	return &CheckpointManager{basePath: basePath}
}

func (cm *CheckpointManager) path(projectID string) string {
	return filepath.Join(cm.basePath, fmt.Sprintf("checkpoint_%s.json", projectID))
}

// Save writes the checkpoint atomically (temp file + rename).
func (cm *CheckpointManager) Save(cp *Checkpoint) error {
	if err := os.MkdirAll(cm.basePath, 0750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	cp.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	tmp := cm.path(cp.ProjectID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, cm.path(cp.ProjectID)); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint for a project. Returns (nil, nil) when no
// checkpoint exists.
func (cm *CheckpointManager) Load(projectID string) (*Checkpoint, error) {
	data, err := os.ReadFile(cm.path(projectID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes a project's checkpoint. Missing checkpoints are not an
// error.
func (cm *CheckpointManager) Delete(projectID string) error {
	err := os.Remove(cm.path(projectID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

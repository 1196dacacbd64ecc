package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/valter-silva-au/tasksync/pkg/models"
	"gopkg.in/yaml.v3"
)

// WorkspaceStateStore persists the workspace-scoped configuration written by
// a load (the chosen folder and when it was loaded).
type WorkspaceStateStore interface {
	Get(workspaceKey string) (*models.WorkspaceState, error)
	Put(state models.WorkspaceState) error
	Delete(workspaceKey string) error
}

type fileWorkspaceStateStore struct {
	dir string
}

// NewWorkspaceStateStore creates a WorkspaceStateStore keeping one YAML file
// per workspace key under basePath/.tasksync/workspaces.
func NewWorkspaceStateStore(basePath string) WorkspaceStateStore {
	return &fileWorkspaceStateStore{dir: filepath.Join(basePath, ".tasksync", "workspaces")}
}

// filePath maps a workspace key (typically a file:// URI) to a file name that
// is safe on every platform.
func (s *fileWorkspaceStateStore) filePath(workspaceKey string) string {
	sum := sha256.Sum256([]byte(workspaceKey))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:8])+".yaml")
}

// Get returns nil, nil when the workspace has no persisted state.
func (s *fileWorkspaceStateStore) Get(workspaceKey string) (*models.WorkspaceState, error) {
	data, err := os.ReadFile(s.filePath(workspaceKey))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading workspace state: %w", err)
	}

	var st models.WorkspaceState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("loading workspace state: parsing YAML: %w", err)
	}
	if st.WorkspaceKey != workspaceKey {
		// Hash prefix collision; treat as absent rather than return another workspace's folder.
		return nil, nil
	}
	return &st, nil
}

func (s *fileWorkspaceStateStore) Put(state models.WorkspaceState) error {
	if state.WorkspaceKey == "" {
		return fmt.Errorf("saving workspace state: workspace key must not be empty")
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("saving workspace state: creating directory: %w", err)
	}
	data, err := yaml.Marshal(&state)
	if err != nil {
		return fmt.Errorf("saving workspace state: marshaling YAML: %w", err)
	}
	if err := writeFileAtomic(s.filePath(state.WorkspaceKey), data, 0o600); err != nil {
		return fmt.Errorf("saving workspace state: %w", err)
	}
	return nil
}

// Delete is a no-op for a workspace without persisted state.
func (s *fileWorkspaceStateStore) Delete(workspaceKey string) error {
	if err := os.Remove(s.filePath(workspaceKey)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting workspace state: %w", err)
	}
	return nil
}

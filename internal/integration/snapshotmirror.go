package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/valter-silva-au/tasksync/pkg/models"
	"gopkg.in/yaml.v3"
)

// SnapshotMirror is an observer that writes every delivered snapshot to a
// file, so tools without a live connection can read the current tasks. The
// file is replaced atomically; a .yaml or .yml extension selects YAML,
// anything else JSON.
type SnapshotMirror struct {
	path string
	yaml bool
	mu   sync.Mutex
}

// NewSnapshotMirror creates a mirror writing to path, creating its parent
// directory.
func NewSnapshotMirror(path string) (*SnapshotMirror, error) {
	if path == "" {
		return nil, fmt.Errorf("creating snapshot mirror: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot mirror directory: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return &SnapshotMirror{path: path, yaml: ext == ".yaml" || ext == ".yml"}, nil
}

// Path returns the mirrored file.
func (m *SnapshotMirror) Path() string { return m.path }

// Deliver implements core.Observer.
func (m *SnapshotMirror) Deliver(ctx context.Context, snap *models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("mirroring snapshot: snapshot is nil")
	}

	var data []byte
	var err error
	if m.yaml {
		data, err = yaml.Marshal(snap)
	} else {
		data, err = json.MarshalIndent(snap, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replace(data)
}

func (m *SnapshotMirror) replace(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(m.path), "."+filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing snapshot mirror: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing snapshot mirror: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing snapshot mirror: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing snapshot mirror: %w", err)
	}
	return nil
}

// ReadSnapshotMirror reads a file written by SnapshotMirror.
func ReadSnapshotMirror(path string) (*models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot mirror: %w", err)
	}
	var snap models.Snapshot
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		err = yaml.Unmarshal(data, &snap)
	} else {
		err = json.Unmarshal(data, &snap)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot mirror %s: %w", path, err)
	}
	return &snap, nil
}

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

func sampleSnapshot() *models.Snapshot {
	return &models.Snapshot{
		WorkspaceKey: "file:///work/demo",
		FolderPath:   "/work/demo",
		GeneratedAt:  time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Stories: []models.Story{{
			ID:            "US1",
			RequirementID: "2",
			Name:          "Login",
			Tasks: []models.Task{
				{ID: "TASK1", Description: "form", Status: models.StatusCompleted},
				{ID: "TASK2", Description: "api", Status: models.StatusPending},
			},
		}},
	}
}

func TestSnapshotMirror_JSONAndYAML(t *testing.T) {
	for _, name := range []string{"tasks.json", "tasks.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			m, err := NewSnapshotMirror(path)
			if err != nil {
				t.Fatalf("NewSnapshotMirror: %v", err)
			}

			want := sampleSnapshot()
			if err := m.Deliver(context.Background(), want); err != nil {
				t.Fatalf("Deliver: %v", err)
			}

			got, err := ReadSnapshotMirror(m.Path())
			if err != nil {
				t.Fatalf("ReadSnapshotMirror: %v", err)
			}
			if got.WorkspaceKey != want.WorkspaceKey || !got.GeneratedAt.Equal(want.GeneratedAt) {
				t.Errorf("got %+v", got)
			}
			if len(got.Stories) != 1 || len(got.Stories[0].Tasks) != 2 || got.Stories[0].Tasks[0].Status != models.StatusCompleted {
				t.Errorf("stories = %+v", got.Stories)
			}
		})
	}
}

func TestSnapshotMirror_ReplacesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewSnapshotMirror(filepath.Join(dir, "tasks.json"))
	if err != nil {
		t.Fatalf("NewSnapshotMirror: %v", err)
	}

	if err := m.Deliver(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := m.Deliver(context.Background(), models.EmptySnapshot("file:///work/demo")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	got, err := ReadSnapshotMirror(m.Path())
	if err != nil {
		t.Fatalf("ReadSnapshotMirror: %v", err)
	}
	if !got.IsEmpty() || got.FolderPath != "" {
		t.Errorf("expected the empty snapshot, got %+v", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the mirror file, found %d entries", len(entries))
	}
}

func TestSnapshotMirror_Errors(t *testing.T) {
	if _, err := NewSnapshotMirror(""); err == nil {
		t.Error("expected error for empty path")
	}
	m, err := NewSnapshotMirror(filepath.Join(t.TempDir(), "tasks.json"))
	if err != nil {
		t.Fatalf("NewSnapshotMirror: %v", err)
	}
	if err := m.Deliver(context.Background(), nil); err == nil {
		t.Error("expected error for nil snapshot")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Deliver(ctx, sampleSnapshot()); err == nil {
		t.Error("expected error for cancelled context")
	}
}

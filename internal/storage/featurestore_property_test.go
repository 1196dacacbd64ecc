package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/valter-silva-au/tasksync/pkg/models"
	"pgregory.net/rapid"
)

// Applying the same status update twice yields the same document as applying
// it once, and only the addressed task changes.
func TestProperty_UpdateTaskStatusIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nStories := rapid.IntRange(1, 4).Draw(rt, "stories")
		nTasks := rapid.IntRange(1, 5).Draw(rt, "tasks")
		statuses := rapid.SampledFrom([]string{"Pending", "Completed", "Blocked", "In Progress"})

		var features []map[string]any
		for s := 1; s <= nStories; s++ {
			var tasks []map[string]any
			for k := 1; k <= nTasks; k++ {
				tasks = append(tasks, map[string]any{
					"id":         fmt.Sprintf("TASK%d", k),
					"list":       "work",
					"acceptance": "done",
					"status":     statuses.Draw(rt, "status"),
				})
			}
			features = append(features, map[string]any{"id": fmt.Sprintf("US%d", s), "tasks": tasks})
		}
		raw, err := json.Marshal(map[string]any{"features": features})
		if err != nil {
			rt.Fatalf("marshal: %v", err)
		}

		folder, err := os.MkdirTemp("", "featurestore-property-*")
		if err != nil {
			rt.Fatalf("temp dir: %v", err)
		}
		defer os.RemoveAll(folder)
		if err := os.MkdirAll(filepath.Join(folder, "PRD"), 0o755); err != nil {
			rt.Fatalf("mkdir: %v", err)
		}
		path := filepath.Join(folder, "PRD", "PRD1-feature.json")
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			rt.Fatalf("write: %v", err)
		}

		store := NewFeatureStore(FeatureStoreConfig{})
		before, err := store.LoadWorkspace(folder)
		if err != nil {
			rt.Fatalf("load: %v", err)
		}

		s := rapid.IntRange(1, nStories).Draw(rt, "story")
		k := rapid.IntRange(1, nTasks).Draw(rt, "task")
		newStatus := models.TaskStatus(statuses.Draw(rt, "newStatus"))
		addr := fmt.Sprintf("PRD1-US%d-TASK%d", s, k)

		if _, err := store.UpdateTaskStatus(folder, addr, newStatus); err != nil {
			rt.Fatalf("first update: %v", err)
		}
		once, err := os.ReadFile(path)
		if err != nil {
			rt.Fatalf("read: %v", err)
		}
		if _, err := store.UpdateTaskStatus(folder, addr, newStatus); err != nil {
			rt.Fatalf("second update: %v", err)
		}
		twice, err := os.ReadFile(path)
		if err != nil {
			rt.Fatalf("read: %v", err)
		}
		if string(once) != string(twice) {
			rt.Fatalf("second identical update changed the document")
		}

		after, err := store.LoadWorkspace(folder)
		if err != nil {
			rt.Fatalf("reload: %v", err)
		}
		for si, story := range after.Stories {
			for ti, task := range story.Tasks {
				want := before.Stories[si].Tasks[ti].Status
				if story.ID == fmt.Sprintf("US%d", s) && task.ID == fmt.Sprintf("TASK%d", k) {
					want = newStatus
				}
				if task.Status != want {
					rt.Fatalf("%s/%s status = %s, want %s", story.ID, task.ID, task.Status, want)
				}
			}
		}
	})
}

package internal

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/integration"
	"github.com/valter-silva-au/tasksync/internal/observability"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

const checkoutDocument = `{
  "features": [
    {
      "id": "US1",
      "name": "Checkout",
      "description": "As a shopper I can pay",
      "tasks": [
        {"id": "TASK1", "list": "Build cart", "acceptance": "Cart renders", "status": "Pending"},
        {"id": "TASK2", "list": "Charge card", "acceptance": "Card charged", "status": "Pending"}
      ]
    }
  ]
}`

// newTestApp creates a fully wired App in a temporary directory.
// The event log is closed automatically when the test finishes.
func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := NewApp(t.TempDir())
	if err != nil {
		t.Fatalf("creating test app: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

// newWorkspaceFolder creates a folder holding PRD/PRD3-feature.json.
func newWorkspaceFolder(t *testing.T) string {
	t.Helper()
	folder := t.TempDir()
	dir := filepath.Join(folder, "PRD")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "PRD3-feature.json"), []byte(checkoutDocument), 0o644); err != nil {
		t.Fatal(err)
	}
	return folder
}

// recorder collects every snapshot delivered to it.
type recorder struct {
	mu    sync.Mutex
	snaps []*models.Snapshot
}

func (r *recorder) Deliver(_ context.Context, snap *models.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *recorder) all() []*models.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Snapshot(nil), r.snaps...)
}

func eventTypes(t *testing.T, app *App) []string {
	t.Helper()
	events, err := app.EventLog.Read(observability.EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func containsType(types []string, want string) bool {
	for _, typ := range types {
		if typ == want {
			return true
		}
	}
	return false
}

// =========================================================================
// 1. Load -> status update -> reset, observed end to end
// =========================================================================

func TestIntegration_LoadUpdateReset(t *testing.T) {
	app := newTestApp(t)
	folder := newWorkspaceFolder(t)
	ctx := context.Background()

	rec := &recorder{}
	sub, err := app.Service.Join(ctx, rec)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer app.Service.Leave(sub)

	snap, err := app.Service.Load(ctx, folder)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.TaskCount() != 2 {
		t.Fatalf("TaskCount = %d, want 2", snap.TaskCount())
	}
	if snap.Stories[0].RequirementID != "3" {
		t.Errorf("RequirementID = %q, want 3", snap.Stories[0].RequirementID)
	}

	change, err := app.Service.UpdateStatus(ctx, folder, "PRD3-US1-TASK2", models.StatusCompleted)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if change.PreviousStatus != models.StatusPending || change.Status != models.StatusCompleted {
		t.Errorf("change = %+v", change)
	}

	data, err := os.ReadFile(filepath.Join(folder, "PRD", "PRD3-feature.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Features []struct {
			Tasks []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"tasks"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document no longer valid JSON: %v", err)
	}
	if got := doc.Features[0].Tasks[1].Status; got != "Completed" {
		t.Errorf("persisted status = %q, want Completed", got)
	}
	if got := doc.Features[0].Tasks[0].Status; got != "Pending" {
		t.Errorf("untouched task status = %q, want Pending", got)
	}

	if err := app.Service.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if app.Service.Current(ctx) != nil {
		t.Error("Current should be nil after reset")
	}

	snaps := rec.all()
	if len(snaps) != 3 {
		t.Fatalf("observer received %d snapshots, want 3 (load, update, reset)", len(snaps))
	}
	if task, ok := snaps[1].FindTask("3", "US1", "TASK2"); !ok || task.Status != models.StatusCompleted {
		t.Errorf("second snapshot should carry the completed task, got %+v", task)
	}
	if !snaps[2].IsEmpty() {
		t.Error("reset should broadcast an empty snapshot")
	}

	types := eventTypes(t, app)
	for _, want := range []string{
		observability.EventObserverJoined,
		observability.EventTasksLoaded,
		observability.EventTaskStatusChanged,
		observability.EventTasksReset,
	} {
		if !containsType(types, want) {
			t.Errorf("event log missing %s, got %v", want, types)
		}
	}
}

// =========================================================================
// 2. Refresh uses the folder persisted by the last load
// =========================================================================

func TestIntegration_RefreshUsesPersistedFolder(t *testing.T) {
	app := newTestApp(t)
	folder := newWorkspaceFolder(t)
	ctx := context.Background()

	if _, err := app.Service.Refresh(ctx); !errors.Is(err, models.ErrFolderNotConfigured) {
		t.Fatalf("Refresh before load error = %v, want ErrFolderNotConfigured", err)
	}
	if _, err := app.Service.Load(ctx, folder); err != nil {
		t.Fatal(err)
	}

	state, err := app.States.Get(core.WorkspaceKeyForPath(app.BasePath))
	if err != nil || state == nil {
		t.Fatalf("persisted state = %v, %v", state, err)
	}
	if state.Folder != folder {
		t.Errorf("persisted folder = %q, want %q", state.Folder, folder)
	}

	// A second app over the same base path picks the state up from disk.
	second, err := NewApp(app.BasePath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = second.Close() }()

	snap, err := second.Service.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if snap.FolderPath != folder || snap.TaskCount() != 2 {
		t.Errorf("refreshed snapshot = %s with %d tasks", snap.FolderPath, snap.TaskCount())
	}
}

// =========================================================================
// 3. Workspaces are isolated by the key carried in the context
// =========================================================================

func TestIntegration_WorkspaceIsolation(t *testing.T) {
	app := newTestApp(t)
	folder := newWorkspaceFolder(t)

	wsA := core.WithWorkspaceKey(context.Background(), "file:///a")
	wsB := core.WithWorkspaceKey(context.Background(), "file:///b")

	recB := &recorder{}
	sub, err := app.Service.Join(wsB, recB)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Service.Leave(sub)

	if _, err := app.Service.Load(wsA, folder); err != nil {
		t.Fatal(err)
	}
	if app.Service.Current(wsB) != nil {
		t.Error("workspace b should have no snapshot")
	}
	if got := len(recB.all()); got != 0 {
		t.Errorf("workspace b observer received %d snapshots, want 0", got)
	}
}

// =========================================================================
// 4. Failing observers are evicted and recorded
// =========================================================================

func TestIntegration_EvictionRecorded(t *testing.T) {
	app := newTestApp(t)
	folder := newWorkspaceFolder(t)
	ctx := context.Background()

	healthy := &recorder{}
	if _, err := app.Service.Join(ctx, healthy); err != nil {
		t.Fatal(err)
	}
	broken := core.ObserverFunc[*models.Snapshot](func(context.Context, *models.Snapshot) error {
		return errors.New("connection reset")
	})
	if _, err := app.Service.Join(ctx, broken); err != nil {
		t.Fatal(err)
	}
	if got := app.Service.Observers(ctx); got != 2 {
		t.Fatalf("Observers = %d, want 2", got)
	}

	if _, err := app.Service.Load(ctx, folder); err != nil {
		t.Fatal(err)
	}
	if got := app.Service.Observers(ctx); got != 1 {
		t.Errorf("Observers after eviction = %d, want 1", got)
	}
	if got := len(healthy.all()); got != 1 {
		t.Errorf("healthy observer received %d snapshots, want 1", got)
	}

	events, err := app.EventLog.Read(observability.EventFilter{Type: observability.EventObserverEvicted})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("eviction events = %d, want 1", len(events))
	}
	if events[0].Level != "WARN" {
		t.Errorf("eviction level = %q, want WARN", events[0].Level)
	}
	if msg, _ := events[0].Data["error"].(string); !strings.Contains(msg, "connection reset") {
		t.Errorf("eviction error = %q", msg)
	}
}

// =========================================================================
// 5. Metrics and alerts read what the service wrote
// =========================================================================

func TestIntegration_MetricsFromEventLog(t *testing.T) {
	app := newTestApp(t)
	folder := newWorkspaceFolder(t)
	ctx := context.Background()

	if _, err := app.Service.Load(ctx, folder); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Service.UpdateStatus(ctx, folder, "PRD3-US1-TASK1", models.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Service.UpdateStatus(ctx, folder, "PRD3-US9-TASK1", models.StatusCompleted); !errors.Is(err, models.ErrStoryNotFound) {
		t.Fatalf("UpdateStatus unknown story error = %v, want ErrStoryNotFound", err)
	}

	m, err := app.MetricsCalc.Calculate(time.Now().Add(-time.Hour), "")
	if err != nil {
		t.Fatal(err)
	}
	// The status update reloads the folder, which counts as a second load.
	if m.Loads != 2 {
		t.Errorf("Loads = %d, want 2", m.Loads)
	}
	if m.StatusChanges != 1 || m.StatusFailures != 1 {
		t.Errorf("StatusChanges = %d, StatusFailures = %d, want 1 and 1", m.StatusChanges, m.StatusFailures)
	}
	if m.TasksByStatus["Completed"] != 1 {
		t.Errorf("TasksByStatus = %v", m.TasksByStatus)
	}

	alerts, err := app.AlertEngine.Evaluate()
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts below thresholds, got %+v", alerts)
	}
}

// =========================================================================
// 6. Workspace config changes swap telemetry and are recorded
// =========================================================================

func TestIntegration_ConfigChangeRecorded(t *testing.T) {
	app := newTestApp(t)
	path := filepath.Join(app.BasePath, core.HaiConfigFileName)
	if err := os.WriteFile(path, []byte("name = shop\nposthog.url = https://ph.example\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	app.OnConfigChange(context.Background(), path, integration.ChangeAdded)

	events, err := app.EventLog.Read(observability.EventFilter{Type: observability.EventConfigChanged})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("config events = %d, want 1", len(events))
	}
	if op, _ := events[0].Data["op"].(string); op != "added" {
		t.Errorf("op = %q, want added", op)
	}

	identifies, err := app.EventLog.Read(observability.EventFilter{Type: observability.EventTelemetryIdentify})
	if err != nil {
		t.Fatal(err)
	}
	last := identifies[len(identifies)-1]
	if id, _ := last.Data["distinct_id"].(string); id != "shop" {
		t.Errorf("distinct_id = %q, want shop", id)
	}
}

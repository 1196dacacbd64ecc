package cli

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/valter-silva-au/tasksync/internal/observability"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

func testSnapshot() *models.Snapshot {
	return &models.Snapshot{
		WorkspaceKey: testWorkspace,
		FolderPath:   "/tmp/shop",
		GeneratedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Stories: []models.Story{{
			ID:            "US1",
			RequirementID: "1",
			Name:          "Checkout",
			Tasks: []models.Task{
				{ID: "TASK1", Description: "Build cart", Status: models.StatusPending},
				{ID: "TASK2", Description: "Charge card", Status: models.StatusCompleted},
			},
		}},
	}
}

func newTestDashboard() (dashboardModel, chan *models.Snapshot, chan struct{}) {
	updates := make(chan *models.Snapshot, 1)
	closed := make(chan struct{})
	return newDashboardModel(testWorkspace, updates, closed, dashboardActions{}), updates, closed
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestDashboardModel_Init(t *testing.T) {
	m, _, _ := newTestDashboard()

	if m.activePanel != panelTasks {
		t.Errorf("expected activePanel = %d, got %d", panelTasks, m.activePanel)
	}
	if m.snap != nil {
		t.Error("expected no snapshot before the first delivery")
	}
	if cmd := m.Init(); cmd == nil {
		t.Error("expected Init to return a non-nil command")
	}
}

func TestDashboardModel_TabCyclesPanels(t *testing.T) {
	m, _, _ := newTestDashboard()

	var model tea.Model = m
	for i := 1; i <= panelCount; i++ {
		model, _ = model.Update(tea.KeyMsg{Type: tea.KeyTab})
		if got := model.(dashboardModel).activePanel; got != i%panelCount {
			t.Errorf("after %d tab(s) activePanel = %d, want %d", i, got, i%panelCount)
		}
	}

	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if got := model.(dashboardModel).activePanel; got != panelAlerts {
		t.Errorf("shift+tab from tasks: activePanel = %d, want %d", got, panelAlerts)
	}
}

func TestDashboardModel_QuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		m, _, _ := newTestDashboard()
		_, cmd := m.Update(key)
		if !isQuit(cmd) {
			t.Errorf("key %q should quit", key.String())
		}
	}
}

func TestDashboardModel_WindowSize(t *testing.T) {
	m, _, _ := newTestDashboard()

	model, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	dm := model.(dashboardModel)
	if dm.width != 100 || dm.height != 40 {
		t.Errorf("size = %dx%d, want 100x40", dm.width, dm.height)
	}
}

func TestDashboardModel_SnapshotMsg(t *testing.T) {
	m, _, _ := newTestDashboard()
	m.err = errors.New("stale")

	model, cmd := m.Update(snapshotMsg{snap: testSnapshot()})
	dm := model.(dashboardModel)
	if dm.snap == nil || dm.snap.TaskCount() != 2 {
		t.Fatalf("snapshot not stored: %+v", dm.snap)
	}
	if dm.err != nil {
		t.Errorf("err should be cleared, got %v", dm.err)
	}
	if cmd == nil {
		t.Error("expected a command to wait for the next snapshot")
	}
}

func TestDashboardModel_ObserverClosed(t *testing.T) {
	m, _, _ := newTestDashboard()

	model, cmd := m.Update(observerClosedMsg{})
	if model.(dashboardModel).err == nil {
		t.Error("expected an error after the observer closed")
	}
	if !isQuit(cmd) {
		t.Error("expected the dashboard to quit")
	}
}

func TestDashboardModel_StatsLoaded(t *testing.T) {
	m, _, _ := newTestDashboard()

	metrics := &observability.Metrics{Loads: 3, TasksByStatus: map[string]int{}}
	alerts := []observability.Alert{{Severity: observability.SeverityHigh, Message: "churn"}}
	model, _ := m.Update(statsLoadedMsg{metrics: metrics, alerts: alerts})
	dm := model.(dashboardModel)
	if dm.metrics != metrics || len(dm.alerts) != 1 {
		t.Errorf("stats not stored: %+v %+v", dm.metrics, dm.alerts)
	}

	model, _ = dm.Update(statsLoadedMsg{err: errors.New("read failed")})
	dm = model.(dashboardModel)
	if dm.err == nil {
		t.Error("expected error to be stored")
	}
	if dm.metrics != metrics {
		t.Error("metrics should be kept when loading fails")
	}
}

func TestDashboardModel_WaitForSnapshot(t *testing.T) {
	m, updates, closed := newTestDashboard()

	updates <- testSnapshot()
	msg := m.waitForSnapshot()()
	if sm, ok := msg.(snapshotMsg); !ok || sm.snap == nil {
		t.Fatalf("expected snapshotMsg, got %T", msg)
	}

	close(closed)
	if _, ok := m.waitForSnapshot()().(observerClosedMsg); !ok {
		t.Error("expected observerClosedMsg after close")
	}
}

func TestDashboardModel_RefreshAction(t *testing.T) {
	calls := 0
	m := newDashboardModel(testWorkspace, nil, nil, dashboardActions{
		refresh: func() error {
			calls++
			return nil
		},
	})

	msg := m.refreshCmd()()
	done, ok := msg.(actionDoneMsg)
	if !ok || done.err != nil || done.status != "refreshed" {
		t.Errorf("unexpected message %+v", msg)
	}
	if calls != 1 {
		t.Errorf("refresh called %d times, want 1", calls)
	}

	m.actions.refresh = func() error { return models.ErrFolderNotConfigured }
	done = m.refreshCmd()().(actionDoneMsg)
	if !errors.Is(done.err, models.ErrFolderNotConfigured) {
		t.Errorf("err = %v, want ErrFolderNotConfigured", done.err)
	}

	model, _ := m.Update(done)
	if !errors.Is(model.(dashboardModel).err, models.ErrFolderNotConfigured) {
		t.Error("action error should be shown")
	}
}

func TestDashboardModel_BuildAction(t *testing.T) {
	m := newDashboardModel(testWorkspace, nil, nil, dashboardActions{
		requestBuild: func() int { return 2 },
	})

	done := m.buildCmd()().(actionDoneMsg)
	if !strings.Contains(done.status, "2 observer(s)") {
		t.Errorf("status = %q", done.status)
	}
}

func TestDashboardModel_ViewLoading(t *testing.T) {
	m, _, _ := newTestDashboard()
	if got := m.View(); got != "Loading..." {
		t.Errorf("View() = %q, want Loading...", got)
	}
}

func TestDashboardModel_ViewPanels(t *testing.T) {
	for _, width := range []int{80, 160} {
		m, _, _ := newTestDashboard()
		m.width, m.height = width, 50
		m.snap = testSnapshot()
		m.metrics = &observability.Metrics{Loads: 4, AvgLoadMillis: 2.5, TasksByStatus: map[string]int{}}
		m.alerts = []observability.Alert{{Severity: observability.SeverityMedium, Message: "updates failing"}}

		view := m.View()
		for _, want := range []string{"tasksync", testWorkspace, "Build cart", "Summary (24h)", "2.5ms", "[MEDIUM]", "Total: 1 alert(s)"} {
			if !strings.Contains(view, want) {
				t.Errorf("width %d: view missing %q", width, want)
			}
		}
	}
}

func TestDashboardModel_ViewEmpty(t *testing.T) {
	m, _, _ := newTestDashboard()
	m.width = 80

	view := m.View()
	for _, want := range []string{"Waiting for a snapshot...", "No metrics available.", "No active alerts."} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestLoadStats_FiltersAndSortsAlerts(t *testing.T) {
	origCalc, origEngine := MetricsCalc, AlertEngine
	defer func() { MetricsCalc, AlertEngine = origCalc, origEngine }()

	var gotWorkspace string
	MetricsCalc = &metricsMock{
		calcFn: func(_ time.Time, workspace string) (*observability.Metrics, error) {
			gotWorkspace = workspace
			return &observability.Metrics{Loads: 1}, nil
		},
	}
	AlertEngine = &alertsMock{
		evaluateFn: func() ([]observability.Alert, error) {
			return []observability.Alert{
				{Severity: observability.SeverityLow, Workspace: testWorkspace, Message: "stale"},
				{Severity: observability.SeverityHigh, Workspace: "file:///other", Message: "other"},
				{Severity: observability.SeverityHigh, Workspace: testWorkspace, Message: "churn"},
			}, nil
		},
	}

	msg := loadStats(testWorkspace)().(statsLoadedMsg)
	if msg.err != nil {
		t.Fatal(msg.err)
	}
	if gotWorkspace != testWorkspace {
		t.Errorf("metrics workspace = %q", gotWorkspace)
	}
	if len(msg.alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(msg.alerts))
	}
	if msg.alerts[0].Message != "churn" || msg.alerts[1].Message != "stale" {
		t.Errorf("alerts not sorted by severity: %+v", msg.alerts)
	}
}

func TestLoadStats_Errors(t *testing.T) {
	origCalc, origEngine := MetricsCalc, AlertEngine
	defer func() { MetricsCalc, AlertEngine = origCalc, origEngine }()

	MetricsCalc = nil
	AlertEngine = &alertsMock{
		evaluateFn: func() ([]observability.Alert, error) {
			return nil, errors.New("read failed")
		},
	}

	msg := loadStats(testWorkspace)().(statsLoadedMsg)
	if msg.err == nil || !strings.Contains(msg.err.Error(), "loading alerts") {
		t.Errorf("err = %v", msg.err)
	}
}

func TestSeverityRank(t *testing.T) {
	if !(severityRank("high") < severityRank("medium") && severityRank("medium") < severityRank("low") && severityRank("low") < severityRank("unknown")) {
		t.Error("severity ranks out of order")
	}
}

package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/valter-silva-au/tasksync/internal/observability"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Dashboard panel indices.
const (
	panelTasks = iota
	panelSummary
	panelAlerts
	panelCount
)

// dashboardActions are the service calls the dashboard can trigger.
type dashboardActions struct {
	refresh      func() error
	requestBuild func() int
}

// dashboardModel is a live view of one workspace. Snapshots arrive from an
// observer channel; metrics and alerts are read from the event log.
type dashboardModel struct {
	activePanel int
	width       int
	height      int

	workspace string
	updates   <-chan *models.Snapshot
	closed    <-chan struct{}
	actions   dashboardActions

	// Data.
	snap    *models.Snapshot
	metrics *observability.Metrics
	alerts  []observability.Alert

	// State.
	status string
	err    error
}

// snapshotMsg carries a delivered snapshot.
type snapshotMsg struct{ snap *models.Snapshot }

// observerClosedMsg reports that the observer was torn down or evicted.
type observerClosedMsg struct{}

// statsLoadedMsg carries metrics and alerts back to the model.
type statsLoadedMsg struct {
	metrics *observability.Metrics
	alerts  []observability.Alert
	err     error
}

// actionDoneMsg reports the outcome of a key-triggered action.
type actionDoneMsg struct {
	status string
	err    error
}

func newDashboardModel(workspace string, updates <-chan *models.Snapshot, closed <-chan struct{}, actions dashboardActions) dashboardModel {
	return dashboardModel{
		activePanel: panelTasks,
		workspace:   workspace,
		updates:     updates,
		closed:      closed,
		actions:     actions,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.waitForSnapshot(), loadStats(m.workspace))
}

func (m dashboardModel) waitForSnapshot() tea.Cmd {
	updates, closed := m.updates, m.closed
	return func() tea.Msg {
		select {
		case snap := <-updates:
			return snapshotMsg{snap: snap}
		case <-closed:
			return observerClosedMsg{}
		}
	}
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.status = "refreshing..."
			return m, tea.Batch(m.refreshCmd(), loadStats(m.workspace))
		case "b":
			return m, m.buildCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		m.snap = msg.snap
		m.err = nil
		return m, tea.Batch(m.waitForSnapshot(), loadStats(m.workspace))

	case observerClosedMsg:
		m.err = fmt.Errorf("observer closed")
		return m, tea.Quit

	case statsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.metrics = msg.metrics
		m.alerts = msg.alerts
		return m, nil

	case actionDoneMsg:
		m.status = msg.status
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) refreshCmd() tea.Cmd {
	refresh := m.actions.refresh
	return func() tea.Msg {
		if refresh == nil {
			return actionDoneMsg{}
		}
		if err := refresh(); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{status: "refreshed"}
	}
}

func (m dashboardModel) buildCmd() tea.Cmd {
	build := m.actions.requestBuild
	return func() tea.Msg {
		if build == nil {
			return actionDoneMsg{}
		}
		return actionDoneMsg{status: fmt.Sprintf("build requested (%d observer(s) notified)", build())}
	}
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" tasksync ") + " " + dimStyle.Render(m.workspace)
	help := helpStyle.Render("tab: switch panel | r: refresh | b: request build | q: quit")

	footer := help
	if m.err != nil {
		footer = fmt.Sprintf("Error: %s\n%s", m.err, help)
	} else if m.status != "" {
		footer = fmt.Sprintf("%s\n%s", m.status, help)
	}

	tasksPanel := m.renderTasksPanel()
	summaryPanel := m.renderSummaryPanel()
	alertsPanel := m.renderAlertsPanel()

	// Available width for panels after accounting for margins.
	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		// Tasks take half the width; summary and alerts stack beside them.
		half := availableWidth / 2
		tasksPanel = m.applyPanelStyle(panelTasks, tasksPanel, half-4)
		summaryPanel = m.applyPanelStyle(panelSummary, summaryPanel, half-4)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, half-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, tasksPanel, lipgloss.JoinVertical(lipgloss.Left, summaryPanel, alertsPanel))
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		tasksPanel = m.applyPanelStyle(panelTasks, tasksPanel, panelWidth)
		summaryPanel = m.applyPanelStyle(panelSummary, summaryPanel, panelWidth)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, tasksPanel, summaryPanel, alertsPanel)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, footer)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderTasksPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Tasks"))
	b.WriteString("\n\n")

	if m.snap == nil {
		b.WriteString("  Waiting for a snapshot...")
		return b.String()
	}
	b.WriteString(renderSnapshot(m.snap))
	return b.String()
}

func (m dashboardModel) renderSummaryPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Summary (24h)"))
	b.WriteString("\n\n")

	if m.snap != nil && !m.snap.IsEmpty() {
		counts := m.snap.StatusCounts()
		statuses := make([]string, 0, len(counts))
		for st := range counts {
			statuses = append(statuses, string(st))
		}
		sort.Strings(statuses)
		for _, st := range statuses {
			label := fmt.Sprintf("  %-14s %d", st, counts[models.TaskStatus(st)])
			b.WriteString(styleForStatus(models.TaskStatus(st)).Render(label))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if m.metrics == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metrics
	lines := []struct {
		label string
		value string
	}{
		{"Loads", fmt.Sprint(md.Loads)},
		{"Status changes", fmt.Sprint(md.StatusChanges)},
		{"Failed updates", fmt.Sprint(md.StatusFailures)},
		{"Observers in", fmt.Sprint(md.ObserversJoined)},
		{"Evicted", fmt.Sprint(md.ObserversEvicted)},
		{"Avg load", fmt.Sprintf("%.1fms", md.AvgLoadMillis)},
	}
	for _, l := range lines {
		b.WriteString(fmt.Sprintf("  %-14s %s\n", l.label, l.value))
	}

	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(string(a.Severity)).Render(fmt.Sprintf("[%s]", strings.ToUpper(string(a.Severity))))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.Message))
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d alert(s)", len(m.alerts)))

	return b.String()
}

// loadStats reads metrics for the last 24 hours and the alerts of workspace.
func loadStats(workspace string) tea.Cmd {
	return func() tea.Msg {
		var result statsLoadedMsg

		if MetricsCalc != nil {
			since := time.Now().UTC().Add(-24 * time.Hour)
			metrics, err := MetricsCalc.Calculate(since, workspace)
			if err != nil {
				result.err = fmt.Errorf("loading metrics: %w", err)
				return result
			}
			result.metrics = metrics
		}

		if AlertEngine != nil {
			alerts, err := AlertEngine.Evaluate()
			if err != nil {
				result.err = fmt.Errorf("loading alerts: %w", err)
				return result
			}
			for _, a := range alerts {
				if a.Workspace == workspace {
					result.alerts = append(result.alerts, a)
				}
			}
			sort.SliceStable(result.alerts, func(i, j int) bool {
				return severityRank(string(result.alerts[i].Severity)) < severityRank(string(result.alerts[j].Severity))
			})
		}

		return result
	}
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	storyStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	statusPending   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	statusCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusOther     = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func styleForStatus(status models.TaskStatus) lipgloss.Style {
	switch status {
	case models.StatusPending:
		return statusPending
	case models.StatusCompleted:
		return statusCompleted
	default:
		return statusOther
	}
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

// writeSnapshot writes snap in the given format.
func writeSnapshot(w io.Writer, snap *models.Snapshot, format string) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("formatting snapshot as JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		data, err := yaml.Marshal(snap)
		if err != nil {
			return fmt.Errorf("formatting snapshot as YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	case formatTable, "":
		_, err := fmt.Fprintln(w, renderSnapshot(snap))
		return err
	default:
		return fmt.Errorf("unsupported format %q (use table, json or yaml)", format)
	}
}

// renderSnapshot renders stories grouped by requirement, tasks in document
// order, followed by a status summary.
func renderSnapshot(snap *models.Snapshot) string {
	var b strings.Builder
	if snap == nil || snap.IsEmpty() {
		b.WriteString("No tasks loaded.")
		if snap != nil && snap.FolderPath != "" {
			b.WriteString(dimStyle.Render(" (folder " + snap.FolderPath + ")"))
		}
		return b.String()
	}

	b.WriteString(headerStyle.Render(snap.FolderPath))
	if !snap.GeneratedAt.IsZero() {
		b.WriteString(dimStyle.Render("  loaded " + snap.GeneratedAt.Local().Format("2006-01-02 15:04:05")))
	}
	b.WriteString("\n")

	for _, story := range snap.Stories {
		b.WriteString("\n")
		b.WriteString(storyStyle.Render(fmt.Sprintf("PRD%s-%s", story.RequirementID, story.ID)))
		if story.Name != "" {
			b.WriteString("  " + story.Name)
		}
		b.WriteString("\n")
		for _, task := range story.Tasks {
			status := styleForStatus(task.Status).Render(fmt.Sprintf("%-11s", task.Status))
			fmt.Fprintf(&b, "  %-8s %s %s\n", task.ID, status, task.Description)
		}
	}

	b.WriteString("\n")
	b.WriteString(summaryLine(snap))
	return b.String()
}

// summaryLine renders "N task(s): a Completed, b Pending" with statuses in
// alphabetical order.
func summaryLine(snap *models.Snapshot) string {
	counts := snap.StatusCounts()
	statuses := make([]string, 0, len(counts))
	for st := range counts {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)

	parts := make([]string, len(statuses))
	for i, st := range statuses {
		parts[i] = fmt.Sprintf("%d %s", counts[models.TaskStatus(st)], st)
	}
	return fmt.Sprintf("%d task(s): %s", snap.TaskCount(), strings.Join(parts, ", "))
}

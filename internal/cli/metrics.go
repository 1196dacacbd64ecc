package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display sync activity metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include loads, resets, status changes by status, failed updates,
observer joins, departures and evictions, and the average load time.
Use --workspace to restrict them to one workspace.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (event log may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime, workspaceFlag)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		// Table format.
		fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02 15:04"))
		fmt.Fprintf(out, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-24s %d\n", "Loads:", metrics.Loads)
		fmt.Fprintf(out, "  %-24s %d\n", "Resets:", metrics.Resets)
		fmt.Fprintf(out, "  %-24s %d\n", "Status changes:", metrics.StatusChanges)
		fmt.Fprintf(out, "  %-24s %d\n", "Failed status updates:", metrics.StatusFailures)
		fmt.Fprintf(out, "  %-24s %d\n", "Observers joined:", metrics.ObserversJoined)
		fmt.Fprintf(out, "  %-24s %d\n", "Observers left:", metrics.ObserversLeft)
		fmt.Fprintf(out, "  %-24s %d\n", "Observers evicted:", metrics.ObserversEvicted)
		fmt.Fprintf(out, "  %-24s %d\n", "Build requests:", metrics.BuildRequests)
		fmt.Fprintf(out, "  %-24s %d\n", "Config changes:", metrics.ConfigChanges)
		fmt.Fprintf(out, "  %-24s %.1fms\n", "Average load time:", metrics.AvgLoadMillis)

		if len(metrics.TasksByStatus) > 0 {
			fmt.Fprintln(out, "\n  Status changes by status:")
			statuses := make([]string, 0, len(metrics.TasksByStatus))
			for status := range metrics.TasksByStatus {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)
			for _, status := range statuses {
				fmt.Fprintf(out, "    %-20s %d\n", status+":", metrics.TasksByStatus[status])
			}
		}

		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}

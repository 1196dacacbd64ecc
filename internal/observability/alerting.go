package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Workspace   string        `json:"workspace,omitempty"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`

	// Observed is the value that crossed Limit: an event count for the
	// threshold conditions, hours since the last load for stale snapshots.
	Observed int `json:"observed"`
	Limit    int `json:"limit"`
}

// AlertThresholds configures when alerts should fire. Counts are evaluated
// over the trailing WindowHours.
type AlertThresholds struct {
	WindowHours      int `yaml:"window_hours" json:"window_hours"`
	MaxEvictions     int `yaml:"max_evictions" json:"max_evictions"`
	MaxFailedUpdates int `yaml:"max_failed_updates" json:"max_failed_updates"`
	StaleHours       int `yaml:"stale_hours" json:"stale_hours"`
}

// DefaultAlertThresholds returns the default alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		WindowHours:      1,
		MaxEvictions:     5,
		MaxFailedUpdates: 3,
		StaleHours:       24,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate reads events and checks all alert conditions, returning any
// triggered alerts ordered by workspace and condition.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	var alerts []Alert

	evictionAlerts, err := ae.checkThreshold(now, EventObserverEvicted, ae.thresholds.MaxEvictions,
		"observer_churn", SeverityHigh, "%d observers evicted in the last %d hours (limit %d)")
	if err != nil {
		return nil, fmt.Errorf("checking evictions: %w", err)
	}
	alerts = append(alerts, evictionAlerts...)

	failureAlerts, err := ae.checkThreshold(now, EventTaskStatusFailed, ae.thresholds.MaxFailedUpdates,
		"status_updates_failing", SeverityMedium, "%d status updates failed in the last %d hours (limit %d)")
	if err != nil {
		return nil, fmt.Errorf("checking failed updates: %w", err)
	}
	alerts = append(alerts, failureAlerts...)

	staleAlerts, err := ae.checkStaleSnapshots(now)
	if err != nil {
		return nil, fmt.Errorf("checking stale snapshots: %w", err)
	}
	alerts = append(alerts, staleAlerts...)

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Workspace != alerts[j].Workspace {
			return alerts[i].Workspace < alerts[j].Workspace
		}
		return alerts[i].Condition < alerts[j].Condition
	})
	return alerts, nil
}

// checkThreshold counts events of one type per workspace inside the window.
func (ae *alertEngine) checkThreshold(now time.Time, eventType string, limit int, condition string, severity AlertSeverity, format string) ([]Alert, error) {
	since := now.Add(-time.Duration(ae.thresholds.WindowHours) * time.Hour)
	events, err := ae.eventLog.Read(EventFilter{Type: eventType, Since: &since})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, event := range events {
		counts[event.Workspace]++
	}

	var alerts []Alert
	for ws, n := range counts {
		if n > limit {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("%s-%s", condition, ws),
				Condition:   condition,
				Severity:    severity,
				Workspace:   ws,
				Message:     fmt.Sprintf(format, n, ae.thresholds.WindowHours, limit),
				TriggeredAt: now,
				Observed:    n,
				Limit:       limit,
			})
		}
	}
	return alerts, nil
}

// checkStaleSnapshots flags workspaces whose last load is older than the
// threshold and that have not been reset since.
func (ae *alertEngine) checkStaleSnapshots(now time.Time) ([]Alert, error) {
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, err
	}

	lastLoad := make(map[string]time.Time)
	for _, event := range events {
		switch event.Type {
		case EventTasksLoaded:
			if event.Time.After(lastLoad[event.Workspace]) {
				lastLoad[event.Workspace] = event.Time
			}
		case EventTasksReset:
			delete(lastLoad, event.Workspace)
		}
	}

	threshold := time.Duration(ae.thresholds.StaleHours) * time.Hour
	var alerts []Alert
	for ws, at := range lastLoad {
		if age := now.Sub(at); age > threshold {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("stale-%s", ws),
				Condition:   "snapshot_stale",
				Severity:    SeverityLow,
				Workspace:   ws,
				Message:     fmt.Sprintf("tasks of %s were last loaded more than %d hours ago", ws, ae.thresholds.StaleHours),
				TriggeredAt: now,
				Observed:    int(age.Hours()),
				Limit:       ae.thresholds.StaleHours,
			})
		}
	}
	return alerts, nil
}

package observability

import (
	"fmt"
	"time"
)

// Metrics holds sync activity derived from the event log.
type Metrics struct {
	Loads            int            `json:"loads" yaml:"loads"`
	Resets           int            `json:"resets" yaml:"resets"`
	StatusChanges    int            `json:"status_changes" yaml:"status_changes"`
	StatusFailures   int            `json:"status_failures" yaml:"status_failures"`
	TasksByStatus    map[string]int `json:"tasks_by_status" yaml:"tasks_by_status"`
	ObserversJoined  int            `json:"observers_joined" yaml:"observers_joined"`
	ObserversLeft    int            `json:"observers_left" yaml:"observers_left"`
	ObserversEvicted int            `json:"observers_evicted" yaml:"observers_evicted"`
	BuildRequests    int            `json:"build_requests" yaml:"build_requests"`
	ConfigChanges    int            `json:"config_changes" yaml:"config_changes"`
	AvgLoadMillis    float64        `json:"avg_load_ms" yaml:"avg_load_ms"`
	EventCount       int            `json:"event_count" yaml:"event_count"`
	OldestEvent      *time.Time     `json:"oldest_event,omitempty" yaml:"oldest_event,omitempty"`
	NewestEvent      *time.Time     `json:"newest_event,omitempty" yaml:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	// Calculate aggregates events since the given time. An empty workspace
	// aggregates across all workspaces.
	Calculate(since time.Time, workspace string) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

func (mc *metricsCalculator) Calculate(since time.Time, workspace string) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since, Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{TasksByStatus: make(map[string]int)}
	m.EventCount = len(events)

	var loadSamples int
	var loadTotal float64
	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case EventTasksLoaded:
			m.Loads++
		case EventTasksReset:
			m.Resets++
		case EventTaskStatusChanged:
			m.StatusChanges++
			if status, ok := event.Data["new_status"].(string); ok {
				m.TasksByStatus[status]++
			}
		case EventTaskStatusFailed:
			m.StatusFailures++
		case EventObserverJoined:
			m.ObserversJoined++
		case EventObserverLeft:
			m.ObserversLeft++
		case EventObserverEvicted:
			m.ObserversEvicted++
		case EventBuildRequested:
			m.BuildRequests++
		case EventConfigChanged:
			m.ConfigChanges++
		case EventMetric:
			if name, _ := event.Data["name"].(string); name == MetricLoadDuration {
				// JSON numbers decode as float64.
				if v, ok := event.Data["value"].(float64); ok {
					loadTotal += v
					loadSamples++
				}
			}
		}
	}

	if loadSamples > 0 {
		m.AvgLoadMillis = loadTotal / float64(loadSamples)
	}
	return m, nil
}

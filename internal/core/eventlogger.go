package core

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(workspaceKey, eventType string, data map[string]any) error
}

// MetricsRecorder is the subset of the telemetry capability the sync service
// reports to. observability.Telemetry satisfies it.
type MetricsRecorder interface {
	RecordCounter(name string, value float64, attrs map[string]string)
	RecordHistogram(name string, value float64, attrs map[string]string)
	RecordGauge(name string, value float64, attrs map[string]string)
}

type nopMetrics struct{}

func (nopMetrics) RecordCounter(string, float64, map[string]string)   {}
func (nopMetrics) RecordHistogram(string, float64, map[string]string) {}
func (nopMetrics) RecordGauge(string, float64, map[string]string)     {}

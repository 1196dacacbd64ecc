package observability

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Metric names recorded by the sync service.
const (
	MetricLoadDuration  = "tasks.load.duration_ms"
	MetricStatusUpdates = "tasks.status_updates"
	MetricObservers     = "observers.active"
	MetricEvictions     = "observers.evicted"
)

// Telemetry is the capability the application reports usage to. Providers
// are selected by telemetry.provider and may be swapped at runtime when the
// workspace configuration changes.
type Telemetry interface {
	Log(workspace, event string, props map[string]any)
	RecordCounter(name string, value float64, attrs map[string]string)
	RecordHistogram(name string, value float64, attrs map[string]string)
	RecordGauge(name string, value float64, attrs map[string]string)
	Identify(distinctID string, traits map[string]any)
	Dispose() error
}

// NewTelemetry returns the provider named by provider. The eventlog provider
// requires a non-nil EventLog.
func NewTelemetry(provider string, eventLog EventLog, logger *slog.Logger) (Telemetry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch provider {
	case models.TelemetryNone, "":
		return NopTelemetry(), nil
	case models.TelemetryEventLog:
		if eventLog == nil {
			return nil, fmt.Errorf("telemetry provider %q requires an event log", provider)
		}
		return &eventLogTelemetry{log: eventLog, logger: logger, now: time.Now}, nil
	case models.TelemetryLog:
		return &slogTelemetry{logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown telemetry provider %q", provider)
	}
}

type nopTelemetry struct{}

// NopTelemetry returns a Telemetry that discards everything.
func NopTelemetry() Telemetry { return nopTelemetry{} }

func (nopTelemetry) Log(string, string, map[string]any)                 {}
func (nopTelemetry) RecordCounter(string, float64, map[string]string)   {}
func (nopTelemetry) RecordHistogram(string, float64, map[string]string) {}
func (nopTelemetry) RecordGauge(string, float64, map[string]string)     {}
func (nopTelemetry) Identify(string, map[string]any)                    {}
func (nopTelemetry) Dispose() error                                     { return nil }

// eventLogTelemetry appends telemetry to the JSONL event log so that
// `tasksync metrics` can aggregate it.
type eventLogTelemetry struct {
	log    EventLog
	logger *slog.Logger
	now    func() time.Time
}

func (t *eventLogTelemetry) write(e Event) {
	if err := t.log.Write(e); err != nil {
		t.logger.Warn("writing telemetry event failed", "type", e.Type, "error", err)
	}
}

func (t *eventLogTelemetry) Log(workspace, event string, props map[string]any) {
	t.write(Event{Time: t.now().UTC(), Level: LevelFor(event), Type: event, Workspace: workspace, Data: props})
}

func (t *eventLogTelemetry) record(kind, name string, value float64, attrs map[string]string) {
	data := map[string]any{"name": name, "kind": kind, "value": value}
	if len(attrs) > 0 {
		a := make(map[string]any, len(attrs))
		for k, v := range attrs {
			a[k] = v
		}
		data["attrs"] = a
	}
	t.write(Event{
		Time:      t.now().UTC(),
		Level:     "INFO",
		Type:      EventMetric,
		Workspace: attrs["workspace"],
		Message:   name,
		Data:      data,
	})
}

func (t *eventLogTelemetry) RecordCounter(name string, value float64, attrs map[string]string) {
	t.record("counter", name, value, attrs)
}

func (t *eventLogTelemetry) RecordHistogram(name string, value float64, attrs map[string]string) {
	t.record("histogram", name, value, attrs)
}

func (t *eventLogTelemetry) RecordGauge(name string, value float64, attrs map[string]string) {
	t.record("gauge", name, value, attrs)
}

func (t *eventLogTelemetry) Identify(distinctID string, traits map[string]any) {
	data := map[string]any{"distinct_id": distinctID}
	for k, v := range traits {
		data[k] = v
	}
	t.write(Event{Time: t.now().UTC(), Level: "INFO", Type: EventTelemetryIdentify, Data: data})
}

func (t *eventLogTelemetry) Dispose() error { return nil }

// slogTelemetry writes telemetry through the structured logger.
type slogTelemetry struct {
	logger *slog.Logger
}

func attrArgs(attrs map[string]string) []any {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, attrs[k])
	}
	return args
}

func (t *slogTelemetry) Log(workspace, event string, props map[string]any) {
	t.logger.Info("telemetry event", "event", event, "workspace", workspace, "props", props)
}

func (t *slogTelemetry) RecordCounter(name string, value float64, attrs map[string]string) {
	t.logger.Debug("counter", append([]any{"name", name, "value", value}, attrArgs(attrs)...)...)
}

func (t *slogTelemetry) RecordHistogram(name string, value float64, attrs map[string]string) {
	t.logger.Debug("histogram", append([]any{"name", name, "value", value}, attrArgs(attrs)...)...)
}

func (t *slogTelemetry) RecordGauge(name string, value float64, attrs map[string]string) {
	t.logger.Debug("gauge", append([]any{"name", name, "value", value}, attrArgs(attrs)...)...)
}

func (t *slogTelemetry) Identify(distinctID string, traits map[string]any) {
	t.logger.Info("telemetry identify", "distinct_id", distinctID, "traits", traits)
}

func (t *slogTelemetry) Dispose() error { return nil }

// SwappableTelemetry forwards to a provider that can be replaced while in
// use, as happens when the workspace .hai.config changes.
type SwappableTelemetry struct {
	mu      sync.RWMutex
	current Telemetry
}

// NewSwappableTelemetry wraps initial (or a no-op provider when nil).
func NewSwappableTelemetry(initial Telemetry) *SwappableTelemetry {
	if initial == nil {
		initial = NopTelemetry()
	}
	return &SwappableTelemetry{current: initial}
}

// Swap installs next and disposes the previous provider.
func (s *SwappableTelemetry) Swap(next Telemetry) error {
	if next == nil {
		next = NopTelemetry()
	}
	s.mu.Lock()
	prev := s.current
	s.current = next
	s.mu.Unlock()
	if prev == next {
		return nil
	}
	return prev.Dispose()
}

func (s *SwappableTelemetry) get() Telemetry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *SwappableTelemetry) Log(workspace, event string, props map[string]any) {
	s.get().Log(workspace, event, props)
}

func (s *SwappableTelemetry) RecordCounter(name string, value float64, attrs map[string]string) {
	s.get().RecordCounter(name, value, attrs)
}

func (s *SwappableTelemetry) RecordHistogram(name string, value float64, attrs map[string]string) {
	s.get().RecordHistogram(name, value, attrs)
}

func (s *SwappableTelemetry) RecordGauge(name string, value float64, attrs map[string]string) {
	s.get().RecordGauge(name, value, attrs)
}

func (s *SwappableTelemetry) Identify(distinctID string, traits map[string]any) {
	s.get().Identify(distinctID, traits)
}

func (s *SwappableTelemetry) Dispose() error {
	return s.get().Dispose()
}

// IdentifyWorkspace identifies a workspace from its .hai.config. A nil
// config identifies the workspace key alone.
func IdentifyWorkspace(t Telemetry, workspaceKey string, cfg *models.HaiConfig) {
	traits := map[string]any{"workspace": workspaceKey}
	distinctID := workspaceKey
	if cfg != nil {
		if cfg.Name != "" {
			distinctID = cfg.Name
			traits["name"] = cfg.Name
		}
		traits["langfuse"] = cfg.Langfuse != nil
		traits["posthog"] = cfg.PostHog != nil
		traits["cormatrix"] = cfg.CorMatrix != nil
	}
	t.Identify(distinctID, traits)
}

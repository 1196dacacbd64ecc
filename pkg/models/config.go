package models

import "time"

// Telemetry provider names accepted in telemetry.provider.
const (
	TelemetryNone     = "none"
	TelemetryEventLog = "eventlog"
	TelemetryLog      = "log"
)

// ServerConfig holds settings for the HTTP transport.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DeliveryConfig bounds how long a broadcast waits on one observer and how
// many snapshots a streaming observer may buffer.
type DeliveryConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Buffer  int           `yaml:"buffer" mapstructure:"buffer"`
}

// RequirementsConfig describes the requirements folder layout.
type RequirementsConfig struct {
	Dir           string     `yaml:"dir" mapstructure:"dir"`
	DefaultStatus TaskStatus `yaml:"default_status" mapstructure:"default_status"`
}

// EventsConfig locates the JSONL event log.
type EventsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// TelemetryConfig selects the telemetry provider.
type TelemetryConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// WatchConfig controls the file-system watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// SlackConfig holds the Slack incoming-webhook used for alert notifications.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// AlertConfig overrides the default alert thresholds. Zero keeps the default.
type AlertConfig struct {
	WindowHours      int `yaml:"window_hours" mapstructure:"window_hours"`
	MaxEvictions     int `yaml:"max_evictions" mapstructure:"max_evictions"`
	MaxFailedUpdates int `yaml:"max_failed_updates" mapstructure:"max_failed_updates"`
	StaleHours       int `yaml:"stale_hours" mapstructure:"stale_hours"`
}

// NotificationsConfig controls alert delivery.
type NotificationsConfig struct {
	Enabled bool        `yaml:"enabled" mapstructure:"enabled"`
	Slack   SlackConfig `yaml:"slack" mapstructure:"slack"`
	Alerts  AlertConfig `yaml:"alerts" mapstructure:"alerts"`
}

// GlobalConfig holds system-wide settings read from .tasksync.yaml via Viper.
type GlobalConfig struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Delivery      DeliveryConfig      `yaml:"delivery" mapstructure:"delivery"`
	Requirements  RequirementsConfig  `yaml:"requirements" mapstructure:"requirements"`
	Events        EventsConfig        `yaml:"events" mapstructure:"events"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" mapstructure:"telemetry"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Watch         WatchConfig         `yaml:"watch" mapstructure:"watch"`
	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`
}

// LangfuseConfig is the langfuse section of .hai.config.
type LangfuseConfig struct {
	APIURL    string `yaml:"apiUrl,omitempty"`
	APIKey    string `yaml:"apiKey,omitempty"`
	PublicKey string `yaml:"publicKey,omitempty"`
}

// PostHogConfig is the posthog section of .hai.config.
type PostHogConfig struct {
	URL    string `yaml:"url,omitempty"`
	APIKey string `yaml:"apiKey,omitempty"`
}

// CorMatrixConfig is the cormatrix section of .hai.config.
type CorMatrixConfig struct {
	BaseURL     string `yaml:"baseURL,omitempty"`
	Token       string `yaml:"token,omitempty"`
	WorkspaceID string `yaml:"workspaceId,omitempty"`
}

// HaiConfig is the typed form of a workspace's .hai.config file. Sections are
// nil when the file does not mention them.
type HaiConfig struct {
	Name      string           `yaml:"name,omitempty"`
	Langfuse  *LangfuseConfig  `yaml:"langfuse,omitempty"`
	PostHog   *PostHogConfig   `yaml:"posthog,omitempty"`
	CorMatrix *CorMatrixConfig `yaml:"cormatrix,omitempty"`
}

// Package core contains the business logic of tasksync: workspace
// resolution, the observer registry, the task synchronization service and
// configuration loading.
package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/tasksync/pkg/models"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the global configuration file, without the
// extension Viper appends.
const ConfigFileName = ".tasksync"

// HaiConfigFileName is the workspace telemetry configuration file.
const HaiConfigFileName = ".hai.config"

// ConfigurationManager loads and validates the global .tasksync.yaml file and
// the per-workspace .hai.config file.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	LoadWorkspaceConfig(workspaceRoot string) (*models.HaiConfig, error)
	ValidateConfig(config interface{}) error
	WriteDefaultConfig(overwrite bool) (string, error)
}

type viperConfigManager struct {
	// basePath is the directory where .tasksync.yaml resides.
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// configuration files relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultGlobalConfig returns a GlobalConfig populated with defaults.
func DefaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		Server:   models.ServerConfig{Addr: "127.0.0.1:7420"},
		Delivery: models.DeliveryConfig{Timeout: DefaultDeliveryTimeout, Buffer: 16},
		Requirements: models.RequirementsConfig{
			Dir:           "PRD",
			DefaultStatus: models.StatusPending,
		},
		Events:    models.EventsConfig{Path: ".tasksync_events.jsonl"},
		Telemetry: models.TelemetryConfig{Provider: models.TelemetryEventLog},
		Log:       models.LogConfig{Level: "info", Format: "text"},
		Watch:     models.WatchConfig{Enabled: false, Debounce: time.Second},
		Notifications: models.NotificationsConfig{
			Alerts: models.AlertConfig{
				WindowHours:      1,
				MaxEvictions:     5,
				MaxFailedUpdates: 3,
				StaleHours:       24,
			},
		},
	}
}

// LoadGlobalConfig reads .tasksync.yaml from the base path. Environment
// variables prefixed with TASKSYNC_ override file values (server.addr is
// TASKSYNC_SERVER_ADDR). A missing file yields the defaults.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("TASKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("delivery.timeout", cfg.Delivery.Timeout)
	v.SetDefault("delivery.buffer", cfg.Delivery.Buffer)
	v.SetDefault("requirements.dir", cfg.Requirements.Dir)
	v.SetDefault("requirements.default_status", string(cfg.Requirements.DefaultStatus))
	v.SetDefault("events.path", cfg.Events.Path)
	v.SetDefault("telemetry.provider", cfg.Telemetry.Provider)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("watch.enabled", cfg.Watch.Enabled)
	v.SetDefault("watch.debounce", cfg.Watch.Debounce)
	v.SetDefault("notifications.enabled", cfg.Notifications.Enabled)
	v.SetDefault("notifications.slack.webhook_url", cfg.Notifications.Slack.WebhookURL)
	v.SetDefault("notifications.alerts.window_hours", cfg.Notifications.Alerts.WindowHours)
	v.SetDefault("notifications.alerts.max_evictions", cfg.Notifications.Alerts.MaxEvictions)
	v.SetDefault("notifications.alerts.max_failed_updates", cfg.Notifications.Alerts.MaxFailedUpdates)
	v.SetDefault("notifications.alerts.stale_hours", cfg.Notifications.Alerts.StaleHours)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s.yaml: %w", ConfigFileName, err)
		}
	}

	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Delivery.Timeout = v.GetDuration("delivery.timeout")
	cfg.Delivery.Buffer = v.GetInt("delivery.buffer")
	cfg.Requirements.Dir = v.GetString("requirements.dir")
	cfg.Requirements.DefaultStatus = models.TaskStatus(v.GetString("requirements.default_status"))
	cfg.Events.Path = v.GetString("events.path")
	cfg.Telemetry.Provider = strings.ToLower(v.GetString("telemetry.provider"))
	cfg.Log.Level = strings.ToLower(v.GetString("log.level"))
	cfg.Log.Format = strings.ToLower(v.GetString("log.format"))
	cfg.Watch.Enabled = v.GetBool("watch.enabled")
	cfg.Watch.Debounce = v.GetDuration("watch.debounce")
	cfg.Notifications.Enabled = v.GetBool("notifications.enabled")
	cfg.Notifications.Slack.WebhookURL = v.GetString("notifications.slack.webhook_url")
	cfg.Notifications.Alerts.WindowHours = v.GetInt("notifications.alerts.window_hours")
	cfg.Notifications.Alerts.MaxEvictions = v.GetInt("notifications.alerts.max_evictions")
	cfg.Notifications.Alerts.MaxFailedUpdates = v.GetInt("notifications.alerts.max_failed_updates")
	cfg.Notifications.Alerts.StaleHours = v.GetInt("notifications.alerts.stale_hours")

	return cfg, nil
}

// LoadWorkspaceConfig reads .hai.config from the workspace root. It returns
// nil, nil when the file does not exist.
func (cm *viperConfigManager) LoadWorkspaceConfig(workspaceRoot string) (*models.HaiConfig, error) {
	path := filepath.Join(workspaceRoot, HaiConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", HaiConfigFileName, err)
	}

	cfg, err := ParseHaiConfig(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefaultConfig writes the default configuration to
// <basePath>/.tasksync.yaml and returns its path. An existing file is kept
// unless overwrite is set.
func (cm *viperConfigManager) WriteDefaultConfig(overwrite bool) (string, error) {
	path := filepath.Join(cm.basePath, ConfigFileName+".yaml")
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("%s already exists", path)
		}
	}

	data, err := yaml.Marshal(DefaultGlobalConfig())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// ValidateConfig checks the provided configuration for invalid values and
// returns one error listing every problem. It accepts *GlobalConfig and
// *HaiConfig.
func (cm *viperConfigManager) ValidateConfig(config interface{}) error {
	if config == nil {
		return fmt.Errorf("configuration is nil")
	}

	switch cfg := config.(type) {
	case *models.GlobalConfig:
		return validateGlobalConfig(cfg)
	case *models.HaiConfig:
		return validateHaiConfig(cfg)
	default:
		return fmt.Errorf("unsupported configuration type: %T", config)
	}
}

var validTelemetryProviders = map[string]bool{
	models.TelemetryNone:     true,
	models.TelemetryEventLog: true,
	models.TelemetryLog:      true,
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"text": true, "json": true}

func validateGlobalConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("global configuration is nil")
	}

	var errs []string

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		errs = append(errs, "server.addr must not be empty")
	}
	if cfg.Delivery.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("delivery.timeout must be positive, got %s", cfg.Delivery.Timeout))
	}
	if cfg.Delivery.Buffer < 0 {
		errs = append(errs, fmt.Sprintf("delivery.buffer must be non-negative, got %d", cfg.Delivery.Buffer))
	}

	dir := cfg.Requirements.Dir
	switch {
	case dir == "":
		errs = append(errs, "requirements.dir must not be empty")
	case filepath.IsAbs(dir) || strings.HasPrefix(filepath.Clean(dir), ".."):
		errs = append(errs, fmt.Sprintf("requirements.dir %q must be a path inside the workspace folder", dir))
	}
	if strings.TrimSpace(string(cfg.Requirements.DefaultStatus)) == "" {
		errs = append(errs, "requirements.default_status must not be empty")
	}

	if cfg.Events.Path == "" {
		errs = append(errs, "events.path must not be empty")
	}
	if !validTelemetryProviders[cfg.Telemetry.Provider] {
		errs = append(errs, fmt.Sprintf(
			"telemetry.provider %q is invalid, must be one of: none, eventlog, log",
			cfg.Telemetry.Provider,
		))
	}
	if !validLogLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Sprintf(
			"log.level %q is invalid, must be one of: debug, info, warn, error",
			cfg.Log.Level,
		))
	}
	if !validLogFormats[cfg.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format %q is invalid, must be text or json", cfg.Log.Format))
	}
	if cfg.Watch.Debounce < 0 {
		errs = append(errs, fmt.Sprintf("watch.debounce must be non-negative, got %s", cfg.Watch.Debounce))
	}

	if cfg.Notifications.Enabled && cfg.Notifications.Slack.WebhookURL == "" {
		errs = append(errs, "notifications.slack.webhook_url is required when notifications are enabled")
	}
	a := cfg.Notifications.Alerts
	if a.WindowHours < 0 || a.MaxEvictions < 0 || a.MaxFailedUpdates < 0 || a.StaleHours < 0 {
		errs = append(errs, "notifications.alerts thresholds must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("global config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateHaiConfig(cfg *models.HaiConfig) error {
	if cfg == nil {
		return fmt.Errorf("workspace configuration is nil")
	}

	var errs []string
	if cfg.Langfuse != nil && cfg.Langfuse.APIKey != "" && cfg.Langfuse.APIURL == "" {
		errs = append(errs, "langfuse.apiUrl is required when langfuse.apiKey is set")
	}
	if cfg.PostHog != nil && cfg.PostHog.APIKey != "" && cfg.PostHog.URL == "" {
		errs = append(errs, "posthog.url is required when posthog.apiKey is set")
	}
	if cfg.CorMatrix != nil && cfg.CorMatrix.Token != "" && cfg.CorMatrix.BaseURL == "" {
		errs = append(errs, "cormatrix.baseURL is required when cormatrix.token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("workspace config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

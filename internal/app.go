// Package internal provides the App struct that wires all components of
// tasksync together and initializes the CLI layer.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/tasksync/internal/cli"
	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/integration"
	"github.com/valter-silva-au/tasksync/internal/observability"
	"github.com/valter-silva-au/tasksync/internal/storage"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// HomeEnv overrides the base path discovery.
const HomeEnv = "TASKSYNC_HOME"

// App holds all service dependencies of tasksync.
type App struct {
	BasePath string

	// Configuration
	Config    *models.GlobalConfig
	ConfigMgr core.ConfigurationManager
	Logger    *slog.Logger

	// Storage layer
	FeatureStore storage.FeatureStore
	States       storage.WorkspaceStateStore

	// Core services
	Resolver      core.WorkspaceResolver
	Registry      *core.Registry[*models.Snapshot]
	BuildRegistry *core.Registry[models.BuildRequest]
	Service       core.SyncService

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
	Telemetry   *observability.SwappableTelemetry

	events core.EventLogger
}

// NewApp creates and wires all components of tasksync. basePath is the
// directory holding .tasksync.yaml, the event log and the persisted
// workspace state.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	globalCfg, cfgErr := app.ConfigMgr.LoadGlobalConfig()
	if cfgErr == nil {
		cfgErr = app.ConfigMgr.ValidateConfig(globalCfg)
	}
	if cfgErr != nil {
		// Fall back to defaults so that `config validate` can still report.
		globalCfg = core.DefaultGlobalConfig()
	}
	app.Config = globalCfg

	logger, err := observability.NewLogger(os.Stderr, globalCfg.Log.Level, globalCfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	app.Logger = logger
	if cfgErr != nil {
		logger.Warn("using default configuration", "error", cfgErr)
	}

	// --- Observability ---
	eventLogPath := globalCfg.Events.Path
	if !filepath.IsAbs(eventLogPath) {
		eventLogPath = filepath.Join(basePath, eventLogPath)
	}
	app.EventLog, err = observability.NewJSONLEventLog(eventLogPath)
	if err != nil {
		// Non-fatal: metrics and alerts are disabled without an event log.
		logger.Warn("event log disabled", "path", eventLogPath, "error", err)
		app.EventLog = nil
	}
	if app.EventLog != nil {
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, alertThresholds(globalCfg.Notifications.Alerts))
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
		app.events = &eventLogAdapter{log: app.EventLog}
	}
	if globalCfg.Notifications.Enabled && globalCfg.Notifications.Slack.WebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(globalCfg.Notifications.Slack.WebhookURL)
	}

	app.Telemetry = observability.NewSwappableTelemetry(app.newTelemetry())
	app.identifyWorkspace()

	// --- Storage layer ---
	app.FeatureStore = storage.NewFeatureStore(storage.FeatureStoreConfig{
		RequirementsDir: globalCfg.Requirements.Dir,
		DefaultStatus:   globalCfg.Requirements.DefaultStatus,
		Logger:          logger,
	})
	app.States = storage.NewWorkspaceStateStore(basePath)

	// --- Core services ---
	app.Resolver = core.NewContextWorkspaceResolver(core.NewRootWorkspaceResolver(basePath))
	app.Registry = core.NewRegistry(
		core.WithDeliveryTimeout[*models.Snapshot](globalCfg.Delivery.Timeout),
		core.WithRegistryLogger[*models.Snapshot](logger),
		core.WithEvictionHandler[*models.Snapshot](app.onEvict("snapshot")),
	)
	app.BuildRegistry = core.NewRegistry(
		core.WithDeliveryTimeout[models.BuildRequest](globalCfg.Delivery.Timeout),
		core.WithRegistryLogger[models.BuildRequest](logger),
		core.WithEvictionHandler[models.BuildRequest](app.onEvict("build")),
	)

	store := &featureStoreAdapter{store: app.FeatureStore}
	app.Service, err = core.NewSyncService(core.SyncServiceConfig{
		Store:         store,
		States:        app.States,
		Registry:      app.Registry,
		BuildRegistry: app.BuildRegistry,
		Resolver:      app.Resolver,
		Picker:        integration.NewTerminalFolderPicker(os.Stdin, os.Stderr),
		Events:        app.events,
		Metrics:       app.Telemetry,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sync service: %w", err)
	}

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = globalCfg
	cli.ConfigMgr = app.ConfigMgr
	cli.Logger = logger

	cli.Service = app.Service
	cli.Store = store
	cli.States = app.States
	cli.Resolver = app.Resolver
	cli.OnConfigChange = app.OnConfigChange

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	return app, nil
}

// newTelemetry builds the provider named by telemetry.provider, falling back
// to a no-op provider when it cannot be created.
func (a *App) newTelemetry() observability.Telemetry {
	t, err := observability.NewTelemetry(a.Config.Telemetry.Provider, a.EventLog, a.Logger)
	if err != nil {
		a.Logger.Warn("telemetry disabled", "provider", a.Config.Telemetry.Provider, "error", err)
		return observability.NopTelemetry()
	}
	return t
}

// identifyWorkspace reports the base path workspace to telemetry using its
// .hai.config, if any.
func (a *App) identifyWorkspace() {
	hai, err := a.ConfigMgr.LoadWorkspaceConfig(a.BasePath)
	if err != nil {
		a.Logger.Warn("reading workspace config failed", "error", err)
		hai = nil
	}
	observability.IdentifyWorkspace(a.Telemetry, core.WorkspaceKeyForPath(a.BasePath), hai)
}

// OnConfigChange re-selects the telemetry provider and re-identifies the
// workspace after .hai.config was added, changed or removed.
func (a *App) OnConfigChange(ctx context.Context, path string, op integration.ChangeOp) {
	if err := a.Telemetry.Swap(a.newTelemetry()); err != nil {
		a.Logger.Warn("disposing telemetry provider failed", "error", err)
	}
	a.identifyWorkspace()

	key := a.Resolver.CurrentWorkspaceKey(ctx)
	if a.events != nil {
		if err := a.events.LogEvent(key, observability.EventConfigChanged, map[string]any{
			"path": path,
			"op":   string(op),
		}); err != nil {
			a.Logger.Warn("writing config event failed", "error", err)
		}
	}
}

// onEvict records observers dropped by a registry after a failed delivery.
func (a *App) onEvict(channel string) core.EvictionHandler {
	return func(workspaceKey, subscriptionID string, err error) {
		if a.events == nil {
			return
		}
		data := map[string]any{
			"subscription_id": subscriptionID,
			"channel":         channel,
		}
		if err != nil {
			data["error"] = err.Error()
		}
		if logErr := a.events.LogEvent(workspaceKey, observability.EventObserverEvicted, data); logErr != nil {
			a.Logger.Warn("writing eviction event failed", "error", logErr)
		}
	}
}

// Close releases resources held by the App, such as the event log file
// handle. It is safe to call Close on an App whose EventLog is nil.
func (a *App) Close() error {
	if a.Telemetry != nil {
		if err := a.Telemetry.Dispose(); err != nil {
			a.Logger.Warn("disposing telemetry failed", "error", err)
		}
	}
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// ResolveBasePath determines the tasksync base directory. It checks the
// TASKSYNC_HOME env var, then walks up from the current directory looking for
// .tasksync.yaml, then falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	cwd := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName+".yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd
}

func alertThresholds(cfg models.AlertConfig) observability.AlertThresholds {
	thresholds := observability.DefaultAlertThresholds()
	if cfg.WindowHours > 0 {
		thresholds.WindowHours = cfg.WindowHours
	}
	if cfg.MaxEvictions > 0 {
		thresholds.MaxEvictions = cfg.MaxEvictions
	}
	if cfg.MaxFailedUpdates > 0 {
		thresholds.MaxFailedUpdates = cfg.MaxFailedUpdates
	}
	if cfg.StaleHours > 0 {
		thresholds.StaleHours = cfg.StaleHours
	}
	return thresholds
}

// --- Adapters ---

// featureStoreAdapter adapts storage.FeatureStore to core.DocumentStore.
type featureStoreAdapter struct {
	store storage.FeatureStore
}

func (a *featureStoreAdapter) LoadWorkspace(folderPath string) (*models.Snapshot, error) {
	return a.store.LoadWorkspace(folderPath)
}

func (a *featureStoreAdapter) UpdateTaskStatus(folderPath, taskAddress string, status models.TaskStatus) (*core.StatusChange, error) {
	u, err := a.store.UpdateTaskStatus(folderPath, taskAddress, status)
	if err != nil {
		return nil, err
	}
	return &core.StatusChange{
		Address:        u.Address,
		PreviousStatus: u.PreviousStatus,
		Status:         u.Status,
	}, nil
}

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(workspaceKey, eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:      time.Now().UTC(),
		Level:     observability.LevelFor(eventType),
		Type:      eventType,
		Workspace: workspaceKey,
		Message:   eventType,
		Data:      data,
	})
}

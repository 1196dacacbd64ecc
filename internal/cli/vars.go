package cli

import (
	"log/slog"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/integration"
	"github.com/valter-silva-au/tasksync/internal/observability"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Service instances, set during app initialization in app.go.
var (
	BasePath  string
	Config    *models.GlobalConfig
	ConfigMgr core.ConfigurationManager
	Logger    *slog.Logger

	Service  core.SyncService
	Store    core.DocumentStore
	States   core.WorkspaceStateStore
	Resolver core.WorkspaceResolver

	// OnConfigChange is handed to the watchers started by serve and watch.
	OnConfigChange integration.ConfigChangeHandler
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)

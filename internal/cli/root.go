package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/tasksync/internal/core"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var workspaceFlag string

var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "Keep task views in sync with requirement documents",
	Long: `tasksync loads the user stories and tasks kept in PRD<n>-feature.json
documents, updates task status in place, and keeps every observer of a
workspace (HTTP streams, MCP clients, terminal views, mirror files) in sync
with the latest snapshot.

Each workspace is identified by a key (by default the file:// URI of the
directory holding .tasksync.yaml); --workspace selects another one.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tasksync %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&workspaceFlag, "workspace", "", "Workspace key to operate on (default: the current workspace)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// commandContext returns a context cancelled on interrupt and scoped to the
// --workspace key when one was given.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if workspaceFlag != "" {
		ctx = core.WithWorkspaceKey(ctx, workspaceFlag)
	}
	return signal.NotifyContext(ctx, os.Interrupt)
}

func requireService() error {
	if Service == nil {
		return fmt.Errorf("sync service not initialized")
	}
	return nil
}

func logger() *slog.Logger {
	if Logger != nil {
		return Logger
	}
	return slog.Default()
}

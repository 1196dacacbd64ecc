package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	syncmcp "github.com/valter-silva-au/tasksync/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the tasksync MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tasksync MCP server on stdio",
	Long: `Start the tasksync MCP server on stdio transport.

The server exposes task synchronization as MCP tools that AI coding
assistants can call: get_tasks, load_tasks, refresh_tasks, reset_tasks,
update_task_status, request_build, get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireService(); err != nil {
			return err
		}

		srv := syncmcp.NewServer(Service, MetricsCalc, AlertEngine, appVersion)

		ctx, stop := commandContext(cmd)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

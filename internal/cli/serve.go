package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/integration"
	"github.com/valter-silva-au/tasksync/internal/web"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

var (
	serveAddr   string
	serveMirror string
	serveWatch  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and event streams",
	Long: `Start the HTTP transport:

  GET  /api/tasks               current snapshot
  POST /api/tasks/load          {"folderPath": "..."}
  POST /api/tasks/refresh
  POST /api/tasks/reset
  POST /api/tasks/status        {"folderPath": "...", "taskId": "PRD1-US1-TASK1", "status": "Completed"}
  GET  /api/tasks/stream        server-sent snapshot events
  POST /api/tasks/build
  GET  /api/tasks/build/stream  server-sent build request events

Requests select a workspace with the X-Tasksync-Workspace header or the
workspace query parameter. On start-up the last loaded folder is reloaded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireService(); err != nil {
			return err
		}

		ctx, stop := commandContext(cmd)
		defer stop()

		addr := serveAddr
		if addr == "" && Config != nil {
			addr = Config.Server.Addr
		}
		buffer, keepAlive := 16, 15*time.Second
		if Config != nil {
			buffer = Config.Delivery.Buffer
		}

		if serveMirror != "" {
			mirror, err := integration.NewSnapshotMirror(serveMirror)
			if err != nil {
				return err
			}
			sub, err := Service.Join(ctx, mirror)
			if err != nil {
				return fmt.Errorf("joining snapshot mirror: %w", err)
			}
			defer Service.Leave(sub)
			logger().Info("mirroring snapshots", "path", mirror.Path())
		}

		snap, err := Service.Refresh(ctx)
		switch {
		case errors.Is(err, models.ErrFolderNotConfigured):
			logger().Info("no folder loaded yet", "workspace", workspaceKey(ctx))
		case err != nil:
			logger().Warn("reloading last folder failed", "error", err)
		default:
			logger().Info("reloaded last folder", "folder", snap.FolderPath, "tasks", snap.TaskCount())
		}

		wait := func() {}
		if serveWatch || (Config != nil && Config.Watch.Enabled) {
			folder := ""
			if snap != nil {
				folder = snap.FolderPath
			}
			if wait, err = startWatchers(ctx, folder); err != nil {
				return err
			}
		}

		srv := web.NewServer(web.ServerConfig{
			Service:   Service,
			Logger:    logger(),
			Buffer:    buffer,
			KeepAlive: keepAlive,
		})
		fmt.Fprintf(cmd.OutOrStdout(), "tasksync listening on http://%s\n", addr)
		err = srv.Run(ctx, addr)
		stop()
		wait()
		return err
	},
}

func workspaceKey(ctx context.Context) string {
	if Resolver != nil {
		return Resolver.CurrentWorkspaceKey(ctx)
	}
	if key, ok := core.WorkspaceKeyFromContext(ctx); ok {
		return key
	}
	return core.DefaultWorkspaceKey
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr from .tasksync.yaml)")
	serveCmd.Flags().StringVar(&serveMirror, "mirror", "", "Write every snapshot to this file (.json, .yaml or .yml)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Watch .hai.config and requirement documents for changes")
	rootCmd.AddCommand(serveCmd)
}

package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

var statusFolder string

var statusCmd = &cobra.Command{
	Use:   "status <task-id> <status>",
	Short: "Set the status of a task",
	Long: `Set the status of one task in its requirement document and notify
observers with the reloaded snapshot.

The task is addressed as PRD<requirement>-US<story>-TASK<task>, e.g.
PRD2-US1-TASK3. The folder defaults to the one used by the last load.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireService(); err != nil {
			return err
		}

		ctx, stop := commandContext(cmd)
		defer stop()

		folder, err := resolveFolder(ctx, statusFolder)
		if err != nil {
			return err
		}

		change, err := Service.UpdateStatus(ctx, folder, args[0], models.TaskStatus(args[1]))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (was %s)\n", change.Address, change.Message, change.PreviousStatus)
		return nil
	},
}

// resolveFolder returns the absolute form of folder, or the folder persisted
// by the last load of the current workspace when folder is empty.
func resolveFolder(ctx context.Context, folder string) (string, error) {
	if folder != "" {
		abs, err := filepath.Abs(folder)
		if err != nil {
			return "", fmt.Errorf("resolving folder %s: %w", folder, err)
		}
		return abs, nil
	}
	if States == nil || Resolver == nil {
		return "", fmt.Errorf("workspace state not initialized")
	}

	key := Resolver.CurrentWorkspaceKey(ctx)
	st, err := States.Get(key)
	if err != nil {
		return "", err
	}
	if st == nil || st.Folder == "" {
		return "", fmt.Errorf("%w for workspace %s (run tasksync load <folder> or pass --folder)", models.ErrFolderNotConfigured, key)
	}
	return st.Folder, nil
}

func init() {
	statusCmd.Flags().StringVar(&statusFolder, "folder", "", "Folder containing the PRD directory (default: last loaded folder)")
	rootCmd.AddCommand(statusCmd)
}

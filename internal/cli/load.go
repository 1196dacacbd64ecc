package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

var loadFormat string

var loadCmd = &cobra.Command{
	Use:   "load [folder]",
	Short: "Load task documents from a folder and notify observers",
	Long: `Load every PRD<n>-feature.json document under <folder>/PRD, make the
result the workspace's current snapshot, remember the folder for refresh,
and notify all observers of the workspace.

Without a folder argument you are prompted for one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireService(); err != nil {
			return err
		}

		folder := ""
		if len(args) == 1 {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolving folder %s: %w", args[0], err)
			}
			folder = abs
		}

		ctx, stop := commandContext(cmd)
		defer stop()

		snap, err := Service.Load(ctx, folder)
		if errors.Is(err, models.ErrNoFolderSelected) {
			fmt.Fprintln(cmd.OutOrStdout(), "No folder selected.")
			return nil
		}
		if err != nil {
			return err
		}
		return writeSnapshot(cmd.OutOrStdout(), snap, loadFormat)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload the folder used by the last load",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireService(); err != nil {
			return err
		}

		ctx, stop := commandContext(cmd)
		defer stop()

		snap, err := Service.Refresh(ctx)
		if err != nil {
			return err
		}
		return writeSnapshot(cmd.OutOrStdout(), snap, loadFormat)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the loaded folder and clear observers' task lists",
	Long: `Clear the workspace's current snapshot and remembered folder, and send
an empty snapshot to all observers. Task documents are not modified.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireService(); err != nil {
			return err
		}

		ctx, stop := commandContext(cmd)
		defer stop()

		if err := Service.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Tasks reset.")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{loadCmd, refreshCmd} {
		c.Flags().StringVar(&loadFormat, "format", formatTable, "Output format: table, json or yaml")
	}
	rootCmd.AddCommand(loadCmd, refreshCmd, resetCmd)
}

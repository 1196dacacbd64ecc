package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showFormat string

var showCmd = &cobra.Command{
	Use:   "show [folder]",
	Short: "Print the tasks of a folder without notifying observers",
	Long: `Read the requirement documents of a folder and print stories and tasks.
Unlike load, show neither changes the remembered folder nor notifies
observers. The folder defaults to the one used by the last load.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("document store not initialized")
		}

		ctx, stop := commandContext(cmd)
		defer stop()

		folder := ""
		if len(args) == 1 {
			folder = args[0]
		}
		folder, err := resolveFolder(ctx, folder)
		if err != nil {
			return err
		}

		snap, err := Store.LoadWorkspace(folder)
		if err != nil {
			return fmt.Errorf("reading tasks from %s: %w", folder, err)
		}
		if Resolver != nil {
			snap.WorkspaceKey = Resolver.CurrentWorkspaceKey(ctx)
		}
		return writeSnapshot(cmd.OutOrStdout(), snap, showFormat)
	},
}

func init() {
	showCmd.Flags().StringVar(&showFormat, "format", formatTable, "Output format: table, json or yaml")
	rootCmd.AddCommand(showCmd)
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

var (
	watchTUI      bool
	watchNoFollow bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [folder]",
	Short: "Follow a workspace's tasks as they change",
	Long: `Join the workspace as an observer, load the folder (or the last loaded
one), and print every snapshot as a JSON line. Requirement documents and
.hai.config are watched, so edits on disk are picked up automatically.

With --tui an interactive dashboard is shown instead: tab switches panels,
r refreshes, b requests a task list build, q quits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireService(); err != nil {
			return err
		}

		ctx, stop := commandContext(cmd)
		defer stop()

		buffer := 16
		if Config != nil {
			buffer = Config.Delivery.Buffer
		}
		obs := core.NewChannelObserver[*models.Snapshot](buffer)
		defer obs.Close()

		sub, err := Service.Join(ctx, obs)
		if err != nil {
			return fmt.Errorf("joining workspace: %w", err)
		}
		defer Service.Leave(sub)

		var snap *models.Snapshot
		if len(args) == 1 {
			folder, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolving folder %s: %w", args[0], err)
			}
			snap, err = Service.Load(ctx, folder)
			if err != nil {
				return err
			}
		} else if snap, err = Service.Refresh(ctx); err != nil {
			return err
		}

		wait := func() {}
		if !watchNoFollow {
			if wait, err = startWatchers(ctx, snap.FolderPath); err != nil {
				return err
			}
		}
		defer func() {
			stop()
			wait()
		}()

		if watchTUI {
			model := newDashboardModel(sub.WorkspaceKey, obs.C(), obs.Done(), dashboardActions{
				refresh: func() error {
					_, err := Service.Refresh(ctx)
					return err
				},
				requestBuild: func() int {
					return Service.RequestBuild(ctx).Delivered
				},
			})
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		}

		return streamSnapshots(cmd.OutOrStdout(), ctx.Done(), obs)
	},
}

// streamSnapshots writes each delivered snapshot as one JSON line until done
// is closed or the observer is torn down.
func streamSnapshots(w io.Writer, done <-chan struct{}, obs *core.ChannelObserver[*models.Snapshot]) error {
	enc := json.NewEncoder(w)
	for {
		select {
		case <-done:
			return nil
		case <-obs.Done():
			if err := obs.Err(); err != nil {
				return fmt.Errorf("observer evicted: %w", err)
			}
			return fmt.Errorf("observer closed")
		case snap := <-obs.C():
			if err := enc.Encode(snap); err != nil {
				return fmt.Errorf("writing snapshot: %w", err)
			}
		}
	}
}

func init() {
	watchCmd.Flags().BoolVar(&watchTUI, "tui", false, "Show an interactive dashboard instead of JSON lines")
	watchCmd.Flags().BoolVar(&watchNoFollow, "no-follow", false, "Do not watch files for changes")
	rootCmd.AddCommand(watchCmd)
}

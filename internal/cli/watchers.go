package cli

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/integration"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// startWatchers watches BasePath for .hai.config changes and, when folder is
// set, folder's requirements directory for document changes, which refresh
// the workspace. It returns a function that waits for the watchers to stop
// after ctx is cancelled.
func startWatchers(ctx context.Context, folder string) (wait func(), err error) {
	debounce := time.Second
	reqDir := "PRD"
	if Config != nil {
		debounce = Config.Watch.Debounce
		reqDir = Config.Requirements.Dir
	}

	var configs []integration.WatcherConfig
	if OnConfigChange != nil && BasePath != "" {
		configs = append(configs, integration.WatcherConfig{
			Root:           BasePath,
			ConfigFileName: core.HaiConfigFileName,
			Debounce:       debounce,
			OnConfigChange: OnConfigChange,
			Logger:         logger(),
		})
	}
	if folder != "" && Service != nil {
		if len(configs) == 1 && sameDir(configs[0].Root, folder) {
			configs[0].RequirementsDir = reqDir
			configs[0].OnRequirementsChange = refreshOnChange
		} else {
			configs = append(configs, integration.WatcherConfig{
				Root:                 folder,
				RequirementsDir:      reqDir,
				Debounce:             debounce,
				OnRequirementsChange: refreshOnChange,
				Logger:               logger(),
			})
		}
	}

	var wg sync.WaitGroup
	for _, cfg := range configs {
		w, err := integration.NewWatcher(cfg)
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				logger().Error("watcher stopped", "root", cfg.Root, "error", err)
			}
		}()
	}
	return wg.Wait, nil
}

func refreshOnChange(ctx context.Context) {
	if _, err := Service.Refresh(ctx); err != nil && !errors.Is(err, models.ErrFolderNotConfigured) {
		logger().Warn("refreshing after document change failed", "error", err)
	}
}

// sameDir reports whether a and b name the same directory.
func sameDir(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

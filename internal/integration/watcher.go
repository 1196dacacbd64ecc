package integration

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeOp describes what happened to a watched file.
type ChangeOp string

const (
	ChangeAdded   ChangeOp = "added"
	ChangeChanged ChangeOp = "changed"
	ChangeRemoved ChangeOp = "removed"
)

// ConfigChangeHandler is invoked after the workspace .hai.config settles.
type ConfigChangeHandler func(ctx context.Context, path string, op ChangeOp)

// RequirementsChangeHandler is invoked after requirement documents settle.
type RequirementsChangeHandler func(ctx context.Context)

// WatcherConfig configures a Watcher. Root and at least one handler are
// required.
type WatcherConfig struct {
	Root                 string
	ConfigFileName       string
	RequirementsDir      string
	DocumentSuffix       string
	Debounce             time.Duration
	OnConfigChange       ConfigChangeHandler
	OnRequirementsChange RequirementsChangeHandler
	Logger               *slog.Logger
}

// Watcher observes a workspace root for .hai.config changes and the
// requirements directory for document changes. Bursts of events are
// coalesced: a handler runs once Debounce has elapsed without new events.
type Watcher struct {
	root       string
	configPath string
	reqDir     string
	suffix     string
	debounce   time.Duration
	onConfig   ConfigChangeHandler
	onReqs     RequirementsChangeHandler
	logger     *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewWatcher validates cfg and returns a Watcher. Call Run to start it.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("creating watcher: root is empty")
	}
	if cfg.OnConfigChange == nil && cfg.OnRequirementsChange == nil {
		return nil, fmt.Errorf("creating watcher: no handler configured")
	}
	if cfg.ConfigFileName == "" {
		cfg.ConfigFileName = ".hai.config"
	}
	if cfg.RequirementsDir == "" {
		cfg.RequirementsDir = "PRD"
	}
	if cfg.DocumentSuffix == "" {
		cfg.DocumentSuffix = "-feature.json"
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	root := filepath.Clean(cfg.Root)
	return &Watcher{
		root:       root,
		configPath: filepath.Join(root, cfg.ConfigFileName),
		reqDir:     filepath.Join(root, cfg.RequirementsDir),
		suffix:     cfg.DocumentSuffix,
		debounce:   cfg.Debounce,
		onConfig:   cfg.OnConfigChange,
		onReqs:     cfg.OnRequirementsChange,
		logger:     cfg.Logger,
		ready:      make(chan struct{}),
	}, nil
}

// Ready is closed once the watches are registered.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

type eventKind int

const (
	eventIgnored eventKind = iota
	eventConfig
	eventRequirements
)

// Run watches until ctx is cancelled. Handlers run on the Run goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}
	if w.onReqs != nil {
		w.watchRequirements(fw)
	}
	w.readyOnce.Do(func() { close(w.ready) })
	w.logger.Debug("watching workspace", "root", w.root)

	var cfgTimer, reqTimer *time.Timer
	var cfgC, reqC <-chan time.Time
	var cfgOp ChangeOp
	arm := func(t **time.Timer) <-chan time.Time {
		if *t == nil {
			*t = time.NewTimer(w.debounce)
		} else {
			(*t).Reset(w.debounce)
		}
		return (*t).C
	}
	defer func() {
		for _, t := range []*time.Timer{cfgTimer, reqTimer} {
			if t != nil {
				t.Stop()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			switch w.classify(fw, ev) {
			case eventConfig:
				if cfgOp == "" {
					cfgOp = opFor(ev)
				}
				cfgC = arm(&cfgTimer)
			case eventRequirements:
				reqC = arm(&reqTimer)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "root", w.root, "error", err)

		case <-cfgC:
			cfgC = nil
			op := w.settledConfigOp(cfgOp)
			cfgOp = ""
			w.logger.Info("workspace config changed", "path", w.configPath, "op", op)
			w.onConfig(ctx, w.configPath, op)

		case <-reqC:
			reqC = nil
			w.logger.Info("requirement documents changed", "dir", w.reqDir)
			w.onReqs(ctx)
		}
	}
}

// watchRequirements adds the requirements directory when it exists. It is
// called again when the directory is created after start-up.
func (w *Watcher) watchRequirements(fw *fsnotify.Watcher) {
	info, err := os.Stat(w.reqDir)
	if err != nil || !info.IsDir() {
		return
	}
	if err := fw.Add(w.reqDir); err != nil {
		w.logger.Warn("watching requirements directory failed", "dir", w.reqDir, "error", err)
	}
}

func (w *Watcher) classify(fw *fsnotify.Watcher, ev fsnotify.Event) eventKind {
	name := filepath.Clean(ev.Name)
	if ev.Op == fsnotify.Chmod {
		return eventIgnored
	}

	switch {
	case name == w.configPath:
		if w.onConfig == nil {
			return eventIgnored
		}
		return eventConfig

	case name == w.reqDir:
		if w.onReqs == nil {
			return eventIgnored
		}
		if ev.Has(fsnotify.Create) {
			w.watchRequirements(fw)
		}
		return eventRequirements

	case filepath.Dir(name) == w.reqDir && strings.HasSuffix(filepath.Base(name), w.suffix):
		if w.onReqs == nil {
			return eventIgnored
		}
		return eventRequirements
	}
	return eventIgnored
}

func opFor(ev fsnotify.Event) ChangeOp {
	switch {
	case ev.Has(fsnotify.Create):
		return ChangeAdded
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return ChangeRemoved
	default:
		return ChangeChanged
	}
}

// settledConfigOp reports the state of the config file after a burst whose
// first operation was burst. Editors that save via rename produce
// remove+create, which settles as a change.
func (w *Watcher) settledConfigOp(burst ChangeOp) ChangeOp {
	if _, err := os.Stat(w.configPath); err != nil {
		return ChangeRemoved
	}
	if burst == ChangeRemoved {
		return ChangeChanged
	}
	return burst
}

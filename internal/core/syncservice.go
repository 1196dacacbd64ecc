package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// SnapshotObserver receives workspace snapshots.
type SnapshotObserver = Observer[*models.Snapshot]

// SnapshotSubscription is the handle of a joined snapshot observer.
type SnapshotSubscription = Subscription[*models.Snapshot]

// StatusChange is the result of a successful status update.
type StatusChange struct {
	Address        string            `json:"address"`
	PreviousStatus models.TaskStatus `json:"previousStatus"`
	Status         models.TaskStatus `json:"status"`
	Message        string            `json:"message"`
}

// DocumentStore is the task document store as seen by the sync service.
type DocumentStore interface {
	LoadWorkspace(folderPath string) (*models.Snapshot, error)
	UpdateTaskStatus(folderPath, taskAddress string, status models.TaskStatus) (*StatusChange, error)
}

// WorkspaceStateStore persists the folder chosen by the last load.
type WorkspaceStateStore interface {
	Get(workspaceKey string) (*models.WorkspaceState, error)
	Put(state models.WorkspaceState) error
	Delete(workspaceKey string) error
}

// FolderPicker supplies a folder when Load is called without one. An empty
// result means the user cancelled.
type FolderPicker interface {
	PickFolder(ctx context.Context) (string, error)
}

// SyncService keeps observers of each workspace synchronised with the task
// documents on disk. For a given workspace, Load, Reset, UpdateStatus and Join
// are serialised, so every observer sees snapshots in the order the mutations
// were applied and a joining observer never misses or duplicates one.
type SyncService interface {
	// Load reads folderPath (or asks the FolderPicker when empty), makes the
	// result the current snapshot, persists the folder and broadcasts.
	Load(ctx context.Context, folderPath string) (*models.Snapshot, error)

	// Refresh re-runs Load with the folder persisted by the last Load.
	Refresh(ctx context.Context) (*models.Snapshot, error)

	// Reset clears the current snapshot and persisted folder and broadcasts
	// an empty snapshot. Task documents are not touched.
	Reset(ctx context.Context) error

	// UpdateStatus persists a task status change, reloads the folder and
	// broadcasts. On failure nothing is broadcast.
	UpdateStatus(ctx context.Context, folderPath, taskAddress string, status models.TaskStatus) (*StatusChange, error)

	// Join registers an observer and replays the current snapshot, if any,
	// before returning.
	Join(ctx context.Context, observer SnapshotObserver) (*SnapshotSubscription, error)

	// Leave removes an observer. It is idempotent.
	Leave(sub *SnapshotSubscription) bool

	// Current returns the current snapshot of the resolved workspace, or nil.
	Current(ctx context.Context) *models.Snapshot

	// Observers returns the number of observers of the resolved workspace.
	Observers(ctx context.Context) int

	// RequestBuild notifies build-request observers of the resolved workspace.
	RequestBuild(ctx context.Context) BroadcastResult

	// JoinBuildRequests registers an observer of build requests.
	JoinBuildRequests(ctx context.Context, observer Observer[models.BuildRequest]) (*Subscription[models.BuildRequest], error)

	// LeaveBuildRequests removes a build-request observer. It is idempotent.
	LeaveBuildRequests(sub *Subscription[models.BuildRequest]) bool
}

// SyncServiceConfig holds the collaborators of a SyncService. Store, States
// and Registry are required.
type SyncServiceConfig struct {
	Store         DocumentStore
	States        WorkspaceStateStore
	Registry      *Registry[*models.Snapshot]
	BuildRegistry *Registry[models.BuildRequest]
	Resolver      WorkspaceResolver
	Picker        FolderPicker
	Events        EventLogger
	Metrics       MetricsRecorder
	Logger        *slog.Logger
	Now           func() time.Time
}

// workspaceSlot serialises the operations of one workspace. refs counts the
// calls holding or waiting for mu and is guarded by syncService.mu.
type workspaceSlot struct {
	mu      sync.Mutex
	current *models.Snapshot
	refs    int
}

type syncService struct {
	store    DocumentStore
	states   WorkspaceStateStore
	registry *Registry[*models.Snapshot]
	builds   *Registry[models.BuildRequest]
	resolver WorkspaceResolver
	picker   FolderPicker
	events   EventLogger
	metrics  MetricsRecorder
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	slots map[string]*workspaceSlot
}

// NewSyncService creates a SyncService.
func NewSyncService(cfg SyncServiceConfig) (SyncService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("creating sync service: document store is nil")
	}
	if cfg.States == nil {
		return nil, fmt.Errorf("creating sync service: workspace state store is nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("creating sync service: registry is nil")
	}

	s := &syncService{
		store:    cfg.Store,
		states:   cfg.States,
		registry: cfg.Registry,
		builds:   cfg.BuildRegistry,
		resolver: cfg.Resolver,
		picker:   cfg.Picker,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
		slots:    make(map[string]*workspaceSlot),
	}
	if s.builds == nil {
		s.builds = NewRegistry[models.BuildRequest]()
	}
	if s.resolver == nil {
		s.resolver = NewRootWorkspaceResolver("")
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// acquire returns the slot of key, creating it if needed. Every acquire is
// paired with a release.
func (s *syncService) acquire(key string) *workspaceSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &workspaceSlot{}
		s.slots[key] = sl
	}
	sl.refs++
	return sl
}

// release drops the slot once nobody uses it and it holds no snapshot, so
// the table is bounded by the workspaces with state rather than every key
// ever resolved. With refs at zero no caller can hold sl.mu.
func (s *syncService) release(key string, sl *workspaceSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.refs == 0 && sl.current == nil && s.slots[key] == sl {
		delete(s.slots, key)
	}
}

// lock acquires and locks the slot of key. The returned func unlocks and
// releases it.
func (s *syncService) lock(key string) (*workspaceSlot, func()) {
	sl := s.acquire(key)
	sl.mu.Lock()
	return sl, func() {
		sl.mu.Unlock()
		s.release(key, sl)
	}
}

func (s *syncService) Load(ctx context.Context, folderPath string) (*models.Snapshot, error) {
	if folderPath == "" {
		if s.picker == nil {
			return nil, fmt.Errorf("%w: folder path", models.ErrMissingParameter)
		}
		picked, err := s.picker.PickFolder(ctx)
		if err != nil {
			return nil, fmt.Errorf("picking folder: %w", err)
		}
		if picked == "" {
			return nil, models.ErrNoFolderSelected
		}
		folderPath = picked
	}

	key := s.resolver.CurrentWorkspaceKey(ctx)
	sl, unlock := s.lock(key)
	defer unlock()

	snap, err := s.loadLocked(ctx, key, sl, folderPath)
	if err != nil {
		return nil, err
	}

	if err := s.states.Put(models.WorkspaceState{
		WorkspaceKey: key,
		Folder:       folderPath,
		LoadedAt:     snap.GeneratedAt,
	}); err != nil {
		s.logger.Warn("persisting workspace folder failed", "workspace", key, "error", err)
	}

	if snap.IsEmpty() {
		s.logger.Info("no tasks found in folder", "workspace", key, "folder", folderPath)
	}
	return snap, nil
}

// loadLocked reads the folder, installs the result as current and broadcasts
// it. The caller holds sl.mu.
func (s *syncService) loadLocked(ctx context.Context, key string, sl *workspaceSlot, folderPath string) (*models.Snapshot, error) {
	start := s.now()
	loaded, err := s.store.LoadWorkspace(folderPath)
	if err != nil {
		return nil, fmt.Errorf("loading tasks from %s: %w", folderPath, err)
	}

	snap := &models.Snapshot{
		WorkspaceKey: key,
		FolderPath:   folderPath,
		GeneratedAt:  loaded.GeneratedAt,
		Stories:      loaded.Stories,
	}
	if snap.GeneratedAt.IsZero() {
		snap.GeneratedAt = start
	}
	if snap.Stories == nil {
		snap.Stories = []models.Story{}
	}

	sl.current = snap
	s.metrics.RecordHistogram("tasks.load.duration_ms", float64(s.now().Sub(start).Milliseconds()), map[string]string{"workspace": key})
	s.logEvent(key, "tasks.loaded", map[string]any{
		"folder":  folderPath,
		"stories": len(snap.Stories),
		"tasks":   snap.TaskCount(),
	})

	s.broadcastLocked(ctx, key, snap)
	return snap, nil
}

func (s *syncService) Refresh(ctx context.Context) (*models.Snapshot, error) {
	key := s.resolver.CurrentWorkspaceKey(ctx)
	st, err := s.states.Get(key)
	if err != nil {
		return nil, fmt.Errorf("refreshing tasks: %w", err)
	}
	if st == nil || st.Folder == "" {
		return nil, fmt.Errorf("%w for workspace %s", models.ErrFolderNotConfigured, key)
	}
	return s.Load(ctx, st.Folder)
}

func (s *syncService) Reset(ctx context.Context) error {
	key := s.resolver.CurrentWorkspaceKey(ctx)
	sl, unlock := s.lock(key)
	defer unlock()

	// Observers and joiners keep agreeing on the old snapshot if the
	// persisted folder cannot be cleared.
	if err := s.states.Delete(key); err != nil {
		return fmt.Errorf("resetting tasks: %w", err)
	}
	sl.current = nil

	s.logEvent(key, "tasks.reset", nil)
	s.broadcastLocked(ctx, key, models.EmptySnapshot(key))
	return nil
}

func (s *syncService) UpdateStatus(ctx context.Context, folderPath, taskAddress string, status models.TaskStatus) (*StatusChange, error) {
	if folderPath == "" || taskAddress == "" || status == "" {
		return nil, fmt.Errorf("%w: folderPath, taskId and status are all required", models.ErrMissingParameter)
	}

	key := s.resolver.CurrentWorkspaceKey(ctx)
	sl, unlock := s.lock(key)
	defer unlock()

	change, err := s.store.UpdateTaskStatus(folderPath, taskAddress, status)
	if err != nil {
		s.logEvent(key, "task.status_failed", map[string]any{
			"task_id": taskAddress,
			"status":  string(status),
			"error":   err.Error(),
		})
		return nil, err
	}
	change.Message = fmt.Sprintf("Task marked as %s", status)

	s.metrics.RecordCounter("tasks.status_updates", 1, map[string]string{"workspace": key, "status": string(status)})
	s.logEvent(key, "task.status_changed", map[string]any{
		"task_id":    change.Address,
		"old_status": string(change.PreviousStatus),
		"new_status": string(change.Status),
	})

	// The write already succeeded; a failed reload must not turn it into an error.
	if _, err := s.loadLocked(ctx, key, sl, folderPath); err != nil {
		s.logger.Warn("reloading after status update failed", "workspace", key, "task", change.Address, "error", err)
	}
	return change, nil
}

func (s *syncService) Join(ctx context.Context, observer SnapshotObserver) (*SnapshotSubscription, error) {
	key := s.resolver.CurrentWorkspaceKey(ctx)
	sl, unlock := s.lock(key)
	defer unlock()

	sub, err := s.registry.Subscribe(key, observer)
	if err != nil {
		return nil, err
	}

	if sl.current != nil {
		if err := s.registry.Deliver(ctx, sub, sl.current); err != nil {
			return nil, fmt.Errorf("replaying current snapshot: %w", err)
		}
	}

	s.logEvent(key, "observer.joined", map[string]any{"subscription": sub.ID})
	s.metrics.RecordGauge("observers.active", float64(s.registry.Count(key)), map[string]string{"workspace": key})
	return sub, nil
}

func (s *syncService) Leave(sub *SnapshotSubscription) bool {
	if !s.registry.Unsubscribe(sub) {
		return false
	}
	s.logEvent(sub.WorkspaceKey, "observer.left", map[string]any{"subscription": sub.ID})
	s.metrics.RecordGauge("observers.active", float64(s.registry.Count(sub.WorkspaceKey)), map[string]string{"workspace": sub.WorkspaceKey})
	return true
}

func (s *syncService) Current(ctx context.Context) *models.Snapshot {
	sl, unlock := s.lock(s.resolver.CurrentWorkspaceKey(ctx))
	defer unlock()
	return sl.current
}

func (s *syncService) Observers(ctx context.Context) int {
	return s.registry.Count(s.resolver.CurrentWorkspaceKey(ctx))
}

func (s *syncService) RequestBuild(ctx context.Context) BroadcastResult {
	key := s.resolver.CurrentWorkspaceKey(ctx)
	res := s.builds.Broadcast(context.WithoutCancel(ctx), key, models.BuildRequest{WorkspaceKey: key, RequestedAt: s.now()})
	s.logEvent(key, "tasks.build_requested", map[string]any{"observers": res.Delivered})
	return res
}

func (s *syncService) JoinBuildRequests(ctx context.Context, observer Observer[models.BuildRequest]) (*Subscription[models.BuildRequest], error) {
	return s.builds.Subscribe(s.resolver.CurrentWorkspaceKey(ctx), observer)
}

func (s *syncService) LeaveBuildRequests(sub *Subscription[models.BuildRequest]) bool {
	return s.builds.Unsubscribe(sub)
}

// broadcastLocked fans snap out to the workspace's observers. The caller holds
// the workspace slot lock, which orders broadcasts per workspace. Cancellation
// of the mutating caller's context must not evict healthy observers.
func (s *syncService) broadcastLocked(ctx context.Context, key string, snap *models.Snapshot) {
	res := s.registry.Broadcast(context.WithoutCancel(ctx), key, snap)
	if res.Attempted == 0 {
		return
	}
	s.logger.Debug("snapshot broadcast", "workspace", key, "attempted", res.Attempted, "delivered", res.Delivered, "evicted", len(res.Evicted))
	if len(res.Evicted) > 0 {
		s.metrics.RecordCounter("observers.evicted", float64(len(res.Evicted)), map[string]string{"workspace": key})
		s.metrics.RecordGauge("observers.active", float64(s.registry.Count(key)), map[string]string{"workspace": key})
	}
}

func (s *syncService) logEvent(key, eventType string, data map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.LogEvent(key, eventType, data); err != nil {
		s.logger.Warn("writing event failed", "type", eventType, "error", err)
	}
}

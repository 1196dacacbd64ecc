package cli

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/storage"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

const testWorkspace = "file:///work/shop"

// memStore is an in-memory DocumentStore holding one story of PRD1 per folder.
type memStore struct {
	mu       sync.Mutex
	statuses map[string]models.TaskStatus
	loads    int
}

func newMemStore() *memStore {
	return &memStore{statuses: map[string]models.TaskStatus{
		"PRD1-US1-TASK1": models.StatusPending,
		"PRD1-US1-TASK2": models.StatusCompleted,
	}}
}

func (s *memStore) LoadWorkspace(folderPath string) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return &models.Snapshot{
		FolderPath:  folderPath,
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Stories: []models.Story{{
			ID:            "US1",
			RequirementID: "1",
			Name:          "Checkout",
			Tasks: []models.Task{
				{ID: "TASK1", Description: "Build cart", Status: s.statuses["PRD1-US1-TASK1"]},
				{ID: "TASK2", Description: "Charge card", Status: s.statuses["PRD1-US1-TASK2"]},
			},
		}},
	}, nil
}

func (s *memStore) UpdateTaskStatus(_, taskAddress string, status models.TaskStatus) (*core.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.statuses[taskAddress]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrTaskNotFound, taskAddress)
	}
	s.statuses[taskAddress] = status
	return &core.StatusChange{Address: taskAddress, PreviousStatus: prev, Status: status}, nil
}

// setupService wires a real sync service over a memStore into the package
// variables and restores them when the test ends.
func setupService(t *testing.T) *memStore {
	t.Helper()

	origService, origStore, origStates, origResolver := Service, Store, States, Resolver
	origConfig, origBase := Config, BasePath
	origWorkspace := workspaceFlag
	t.Cleanup(func() {
		Service, Store, States, Resolver = origService, origStore, origStates, origResolver
		Config, BasePath = origConfig, origBase
		workspaceFlag = origWorkspace
	})

	store := newMemStore()
	states := storage.NewWorkspaceStateStore(t.TempDir())
	resolver := core.NewContextWorkspaceResolver(core.NewRootWorkspaceResolver("/work/shop"))
	svc, err := core.NewSyncService(core.SyncServiceConfig{
		Store:    store,
		States:   states,
		Registry: core.NewRegistry[*models.Snapshot](core.WithDeliveryTimeout[*models.Snapshot](time.Second)),
		Resolver: resolver,
	})
	if err != nil {
		t.Fatalf("creating sync service: %v", err)
	}

	Service = svc
	Store = store
	States = states
	Resolver = resolver
	Config = core.DefaultGlobalConfig()
	workspaceFlag = ""
	return store
}

// runCmd runs cmd.RunE with output captured.
func runCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	defer func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
	}()
	err := cmd.RunE(cmd, args)
	return out.String(), err
}

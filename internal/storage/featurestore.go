package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/valter-silva-au/tasksync/internal/taskaddr"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// DefaultRequirementsDir is the sub-directory of a workspace folder that holds
// the requirement documents.
const DefaultRequirementsDir = "PRD"

// StatusUpdate describes a task status change that was persisted.
type StatusUpdate struct {
	Address        string            `json:"address"`
	DocumentPath   string            `json:"documentPath"`
	PreviousStatus models.TaskStatus `json:"previousStatus"`
	Status         models.TaskStatus `json:"status"`
}

// FeatureStore translates between per-requirement feature documents
// (<folder>/PRD/PRD<n>-feature.json) and the in-memory story/task model.
type FeatureStore interface {
	// LoadWorkspace scans every feature document under folderPath and returns
	// the concatenated stories. A folder without a requirements directory
	// yields an empty snapshot, not an error. Malformed documents are skipped.
	LoadWorkspace(folderPath string) (*models.Snapshot, error)

	// LoadDocument reads the stories of a single requirement document.
	LoadDocument(folderPath, requirementID string) ([]models.Story, error)

	// UpdateTaskStatus rewrites the status of one task, addressed by its
	// composite id, and persists the owning document atomically.
	UpdateTaskStatus(folderPath, taskAddress string, status models.TaskStatus) (*StatusUpdate, error)
}

// FeatureStoreConfig configures a FeatureStore. Zero values select defaults.
type FeatureStoreConfig struct {
	RequirementsDir string
	DefaultStatus   models.TaskStatus
	Logger          *slog.Logger
	Now             func() time.Time
}

type fileFeatureStore struct {
	requirementsDir string
	defaultStatus   models.TaskStatus
	logger          *slog.Logger
	now             func() time.Time
}

// NewFeatureStore creates a FeatureStore reading JSON feature documents.
func NewFeatureStore(cfg FeatureStoreConfig) FeatureStore {
	s := &fileFeatureStore{
		requirementsDir: cfg.RequirementsDir,
		defaultStatus:   cfg.DefaultStatus,
		logger:          cfg.Logger,
		now:             cfg.Now,
	}
	if s.requirementsDir == "" {
		s.requirementsDir = DefaultRequirementsDir
	}
	if s.defaultStatus == "" {
		s.defaultStatus = models.StatusPending
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *fileFeatureStore) dirPath(folderPath string) string {
	return filepath.Join(folderPath, s.requirementsDir)
}

func (s *fileFeatureStore) documentPath(folderPath, requirementID string) string {
	return filepath.Join(s.dirPath(folderPath), taskaddr.DocumentName(requirementID))
}

// featureDocument is the on-disk shape of a requirement document.
type featureDocument struct {
	Features []models.Story `json:"features"`
}

type featureFile struct {
	name          string
	requirementID string
	order         int
}

func (s *fileFeatureStore) LoadWorkspace(folderPath string) (*models.Snapshot, error) {
	snap := &models.Snapshot{
		FolderPath:  folderPath,
		GeneratedAt: s.now(),
		Stories:     []models.Story{},
	}

	dir := s.dirPath(folderPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("requirements folder not found", "path", dir)
			return snap, nil
		}
		return nil, fmt.Errorf("loading workspace: reading %s: %w", dir, err)
	}

	var files []featureFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		reqID, ok := taskaddr.RequirementIDFromFile(e.Name())
		if !ok {
			continue
		}
		order, _ := strconv.Atoi(reqID)
		files = append(files, featureFile{name: e.Name(), requirementID: reqID, order: order})
	}

	// Numeric requirement order: PRD2 before PRD10.
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].order != files[j].order {
			return files[i].order < files[j].order
		}
		return files[i].name < files[j].name
	})

	for _, f := range files {
		stories, err := s.readDocument(filepath.Join(dir, f.name), f.requirementID)
		if err != nil {
			s.logger.Warn("skipping requirement document", "file", f.name, "error", err)
			continue
		}
		snap.Stories = append(snap.Stories, stories...)
	}

	return snap, nil
}

func (s *fileFeatureStore) LoadDocument(folderPath, requirementID string) ([]models.Story, error) {
	path := s.documentPath(folderPath, requirementID)
	stories, err := s.readDocument(path, requirementID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, path)
		}
		return nil, err
	}
	return stories, nil
}

// readDocument parses one feature document and tags every story with the
// owning requirement id. Tasks without a status get the default status.
func (s *fileFeatureStore) readDocument(path, requirementID string) ([]models.Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	var doc featureDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrCorruptDocument, filepath.Base(path), err)
	}

	stories := make([]models.Story, 0, len(doc.Features))
	for _, st := range doc.Features {
		st.RequirementID = requirementID
		if st.Tasks == nil {
			st.Tasks = []models.Task{}
		}
		for i := range st.Tasks {
			if st.Tasks[i].Status == "" {
				st.Tasks[i].Status = s.defaultStatus
			}
		}
		stories = append(stories, st)
	}
	return stories, nil
}

func (s *fileFeatureStore) UpdateTaskStatus(folderPath, taskAddress string, status models.TaskStatus) (*StatusUpdate, error) {
	if folderPath == "" || taskAddress == "" || status == "" {
		return nil, fmt.Errorf("%w: folderPath, taskId and status are all required", models.ErrMissingParameter)
	}

	addr, err := taskaddr.ParseForMutation(taskAddress)
	if err != nil {
		return nil, err
	}

	path := s.documentPath(folderPath, addr.RequirementID)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, path)
		}
		return nil, fmt.Errorf("updating task status: %w", err)
	}

	unlock, err := lockDocument(path)
	if err != nil {
		return nil, fmt.Errorf("updating task status: %w", err)
	}
	defer func() { _ = unlock() }()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, path)
		}
		return nil, fmt.Errorf("updating task status: reading document: %w", err)
	}

	out, previous, err := setTaskStatus(data, addr, status)
	if err != nil {
		return nil, err
	}

	if err := writeFileAtomic(path, out, info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("updating task status: persisting %s: %w", filepath.Base(path), err)
	}

	s.logger.Debug("task status persisted", "task", addr.String(), "from", previous, "to", status)

	return &StatusUpdate{
		Address:        addr.String(),
		DocumentPath:   path,
		PreviousStatus: previous,
		Status:         status,
	}, nil
}

// jsonObject keeps every member of a JSON object so that a rewrite preserves
// fields the model does not know about.
type jsonObject map[string]json.RawMessage

func (o jsonObject) stringField(key string) string {
	var v string
	if raw, ok := o[key]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

// setTaskStatus rewrites only the status member of the addressed task and
// returns the re-encoded document with the previous status.
func setTaskStatus(data []byte, addr taskaddr.Address, status models.TaskStatus) ([]byte, models.TaskStatus, error) {
	docName := addr.DocumentName()

	var doc jsonObject
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", models.ErrCorruptDocument, docName, err)
	}

	var features []jsonObject
	if raw, ok := doc["features"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &features); err != nil {
			return nil, "", fmt.Errorf("%w: %s: features: %v", models.ErrCorruptDocument, docName, err)
		}
	}

	storyID := addr.StoryID()
	fi := -1
	for i, f := range features {
		if f.stringField("id") == storyID {
			fi = i
			break
		}
	}
	if fi < 0 {
		return nil, "", fmt.Errorf("%w: user story %s not found in PRD%s", models.ErrStoryNotFound, storyID, addr.RequirementID)
	}
	feature := features[fi]

	var tasks []jsonObject
	if raw, ok := feature["tasks"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &tasks); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %s tasks: %v", models.ErrCorruptDocument, docName, storyID, err)
		}
	}

	taskID := addr.TaskID()
	ti := -1
	for i, t := range tasks {
		if t.stringField("id") == taskID {
			ti = i
			break
		}
	}
	if ti < 0 {
		return nil, "", fmt.Errorf("%w: task %s not found in %s of PRD%s", models.ErrTaskNotFound, taskID, storyID, addr.RequirementID)
	}

	previous := models.TaskStatus(tasks[ti].stringField("status"))

	encodedStatus, err := json.Marshal(string(status))
	if err != nil {
		return nil, "", fmt.Errorf("encoding status: %w", err)
	}
	tasks[ti]["status"] = encodedStatus

	if feature["tasks"], err = json.Marshal(tasks); err != nil {
		return nil, "", fmt.Errorf("encoding tasks: %w", err)
	}
	if doc["features"], err = json.Marshal(features); err != nil {
		return nil, "", fmt.Errorf("encoding features: %w", err)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("encoding document: %w", err)
	}
	return append(out, '\n'), previous, nil
}

package models

import "time"

// TaskStatus is the lifecycle label of a task. The set is open: documents may
// carry any caller-defined label, Pending and Completed are the well-known ones.
type TaskStatus string

const (
	StatusPending   TaskStatus = "Pending"
	StatusCompleted TaskStatus = "Completed"
)

// Task is a leaf work item inside a user story.
type Task struct {
	ID                 string     `json:"id" yaml:"id"`
	Description        string     `json:"list" yaml:"list"`
	AcceptanceCriteria string     `json:"acceptance" yaml:"acceptance"`
	ExternalTicketID   string     `json:"subTaskTicketId,omitempty" yaml:"sub_task_ticket_id,omitempty"`
	Status             TaskStatus `json:"status" yaml:"status"`
}

// Story is a user story ("feature") of one requirement document.
// RequirementID is injected at load time from the document's file name and
// is not stored in the document itself.
type Story struct {
	ID               string `json:"id" yaml:"id"`
	RequirementID    string `json:"prdId" yaml:"prd_id"`
	Name             string `json:"name" yaml:"name"`
	Description      string `json:"description" yaml:"description"`
	ExternalTicketID string `json:"storyTicketId,omitempty" yaml:"story_ticket_id,omitempty"`
	Tasks            []Task `json:"tasks" yaml:"tasks"`
}

// Address returns the composite address of the task with the given id
// within this story, e.g. PRD2-US1-TASK1.
func (s Story) Address(taskID string) string {
	return "PRD" + s.RequirementID + "-" + s.ID + "-" + taskID
}

// Snapshot is the full task hierarchy of one workspace at one instant.
// A Snapshot is never modified after construction; mutations produce a new one.
type Snapshot struct {
	WorkspaceKey string    `json:"workspaceKey" yaml:"workspace_key"`
	FolderPath   string    `json:"folderPath" yaml:"folder_path"`
	GeneratedAt  time.Time `json:"timestamp" yaml:"timestamp"`
	Stories      []Story   `json:"stories" yaml:"stories"`
}

// EmptySnapshot returns the snapshot observers receive after a reset: no
// stories, no folder, zero timestamp.
func EmptySnapshot(workspaceKey string) *Snapshot {
	return &Snapshot{WorkspaceKey: workspaceKey, Stories: []Story{}}
}

// IsEmpty reports whether the snapshot holds no stories.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Stories) == 0
}

// TaskCount returns the number of tasks across all stories.
func (s *Snapshot) TaskCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, st := range s.Stories {
		n += len(st.Tasks)
	}
	return n
}

// FindTask looks a task up by requirement, story and task id.
func (s *Snapshot) FindTask(requirementID, storyID, taskID string) (*Task, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Stories {
		st := &s.Stories[i]
		if st.RequirementID != requirementID || st.ID != storyID {
			continue
		}
		for j := range st.Tasks {
			if st.Tasks[j].ID == taskID {
				return &st.Tasks[j], true
			}
		}
	}
	return nil, false
}

// StatusCounts returns the number of tasks per status label.
func (s *Snapshot) StatusCounts() map[TaskStatus]int {
	counts := make(map[TaskStatus]int)
	if s == nil {
		return counts
	}
	for _, st := range s.Stories {
		for _, t := range st.Tasks {
			counts[t.Status]++
		}
	}
	return counts
}

// WorkspaceState is the workspace-scoped configuration persisted by a load so
// that later refresh calls know which folder to re-read.
type WorkspaceState struct {
	WorkspaceKey string    `yaml:"workspace_key"`
	Folder       string    `yaml:"folder"`
	LoadedAt     time.Time `yaml:"loaded_at"`
}

// BuildRequest is the event emitted when a host asks for the task list to be
// built from the current requirements.
type BuildRequest struct {
	WorkspaceKey string    `json:"workspaceKey"`
	RequestedAt  time.Time `json:"requestedAt"`
}

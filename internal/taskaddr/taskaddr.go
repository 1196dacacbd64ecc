// Package taskaddr parses and formats composite task addresses of the form
// PRD<n>-US<m>-TASK<k>. It has no dependencies beyond the shared models so
// that storage, core and the transports can all use it without import cycles.
package taskaddr

import (
	"fmt"
	"strings"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

const (
	requirementPrefix = "PRD"
	storyPrefix       = "US"
	taskPrefix        = "TASK"
)

// Address identifies one task inside a requirement document. RequirementID is
// empty when the raw address omitted it (e.g. "US1-TASK2").
type Address struct {
	RequirementID string
	StoryNumber   string
	TaskNumber    string
}

// StoryID returns the story id as stored in documents, e.g. "US1".
func (a Address) StoryID() string { return storyPrefix + a.StoryNumber }

// TaskID returns the task id as stored in documents, e.g. "TASK3".
func (a Address) TaskID() string { return taskPrefix + a.TaskNumber }

// HasRequirement reports whether the address names its requirement.
func (a Address) HasRequirement() bool { return a.RequirementID != "" }

// String formats the address in canonical PRD<n>-US<m>-TASK<k> form, or
// US<m>-TASK<k> when the requirement is unknown.
func (a Address) String() string {
	if a.RequirementID == "" {
		return a.StoryID() + "-" + a.TaskID()
	}
	return requirementPrefix + a.RequirementID + "-" + a.StoryID() + "-" + a.TaskID()
}

// DocumentName returns the file name of the requirement document holding the
// task, e.g. "PRD2-feature.json".
func (a Address) DocumentName() string {
	return DocumentName(a.RequirementID)
}

// DocumentName returns the requirement document file name for a requirement id.
func DocumentName(requirementID string) string {
	return requirementPrefix + requirementID + DocumentSuffix
}

// DocumentSuffix is the naming convention of requirement documents.
const DocumentSuffix = "-feature.json"

// RequirementIDFromFile extracts the requirement id embedded in a requirement
// document's file name: "PRD12-feature.json" yields "12". Only the exact form
// DocumentName produces is accepted, so every loaded document is one an
// update can address and no two documents share a requirement id.
func RequirementIDFromFile(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, requirementPrefix)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, DocumentSuffix)
	if !ok || !isDigits(id) {
		return "", false
	}
	return id, true
}

// Parse reads a raw task address. Accepted shapes are PRD<d+>-US<d+>-TASK<d+>,
// <d+>-US<d+>-TASK<d+> and US<d+>-TASK<d+>; the literal tokens are
// case-sensitive. Anything else fails with models.ErrMalformedTaskID.
func Parse(raw string) (Address, error) {
	parts := strings.Split(raw, "-")

	var addr Address
	switch len(parts) {
	case 2:
	case 3:
		req := strings.TrimPrefix(parts[0], requirementPrefix)
		if !isDigits(req) {
			return Address{}, malformed(raw)
		}
		addr.RequirementID = req
		parts = parts[1:]
	default:
		return Address{}, malformed(raw)
	}

	story, ok := numberAfter(parts[0], storyPrefix)
	if !ok {
		return Address{}, malformed(raw)
	}
	task, ok := numberAfter(parts[1], taskPrefix)
	if !ok {
		return Address{}, malformed(raw)
	}
	addr.StoryNumber = story
	addr.TaskNumber = task
	return addr, nil
}

// ParseForMutation is Parse plus the mutation-path requirement that the
// address names its requirement. A missing requirement fails fast with
// models.ErrMissingRequirementID instead of guessing the document.
func ParseForMutation(raw string) (Address, error) {
	addr, err := Parse(raw)
	if err != nil {
		return Address{}, err
	}
	if !addr.HasRequirement() {
		return Address{}, fmt.Errorf("%w: %q does not name a requirement, cannot determine which PRD document to update",
			models.ErrMissingRequirementID, raw)
	}
	return addr, nil
}

func malformed(raw string) error {
	return fmt.Errorf("%w: %q, expected format PRD1-US1-TASK1", models.ErrMalformedTaskID, raw)
}

func numberAfter(token, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(token, prefix)
	if !ok || !isDigits(rest) {
		return "", false
	}
	return rest, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

package models

import "errors"

// Error taxonomy shared by the grammar, the document store, the sync service
// and the transports. Callers match with errors.Is; the wrapping error carries
// the specific task, story or document.
var (
	ErrMalformedTaskID      = errors.New("malformed task id")
	ErrMissingRequirementID = errors.New("missing requirement id")
	ErrDocumentNotFound     = errors.New("requirement document not found")
	ErrCorruptDocument      = errors.New("corrupt requirement document")
	ErrStoryNotFound        = errors.New("user story not found")
	ErrTaskNotFound         = errors.New("task not found")
	ErrFolderNotConfigured  = errors.New("no task folder configured")
	ErrNoFolderSelected     = errors.New("no folder selected")
	ErrMissingParameter     = errors.New("missing required parameter")
	ErrObserverDelivery     = errors.New("observer delivery failed")
)

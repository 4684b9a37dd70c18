package models

import "errors"

// Error taxonomy shared across services. Callers match with errors.Is.
var (
	// ErrNotFound covers both absent rows and rows not owned by the
	// caller; the two cases must stay indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput rejects requests missing required content, such
	// as a turn with neither text nor attachments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorage wraps datastore failures. A composite that hits one
	// aborts as a whole.
	ErrStorage = errors.New("storage failure")

	// ErrCollaborator wraps model-endpoint failures or empty results.
	ErrCollaborator = errors.New("collaborator failure")
)

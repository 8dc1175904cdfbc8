package workflow

import "errors"

var (
	// ErrNotFound is returned when a referenced node id does not exist in the document.
	ErrNotFound = errors.New("node not found")

	// ErrInvalidState is returned when a structural precondition of an edit is violated.
	ErrInvalidState = errors.New("invalid workflow state")

	// ErrMalformedGraph is returned when a raw workflow cannot be decoded into a document.
	ErrMalformedGraph = errors.New("malformed workflow")
)

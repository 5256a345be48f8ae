package interfaces

import "errors"

// Failure taxonomy shared across component boundaries. Components catch
// these where they occur and convert them to safe defaults; they are never
// surfaced to end users.
var (
	// ErrTransport covers network and API failures talking to the
	// datastore or the completion endpoint.
	ErrTransport = errors.New("transport failure")

	// ErrValidation covers malformed or unsafe model output.
	ErrValidation = errors.New("validation failure")

	// ErrNotFound covers missing room, topic or student lookups.
	ErrNotFound = errors.New("not found")
)

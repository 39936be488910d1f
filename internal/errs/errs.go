// Package errs defines the error categories shared across the engine.
// Callers classify failures with errors.Is and decide what the user sees:
// validation, conflict and ban outcomes are normal business states, while
// persistence failures surface as a generic retry message.
package errs

import "errors"

var (
	// ErrValidation marks rejected input. The current step re-prompts
	// without advancing or persisting anything.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound marks a missing user or partner record.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks operations that lost to current state: already
	// paired, duplicate report, rematch accept racing a new pairing.
	ErrConflict = errors.New("conflict")

	// ErrPersistence marks an unavailable backing store. The operation
	// aborts with shared in-memory state unchanged.
	ErrPersistence = errors.New("store unavailable")

	// ErrPermission marks a non-operator invoking an admin command.
	ErrPermission = errors.New("permission denied")

	// ErrBanned marks an operation rejected by an enforced ban. Always
	// surfaced to the user with a description, never logged as a fault.
	ErrBanned = errors.New("banned")
)

package domain

import "errors"

// Sentinel errors shared across subsystems. Callers match them with
// errors.Is and map them to transport-level codes at the edge.
var (
	// ErrNotFound is returned for unknown agent/run ids and missing paths.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a workflow is submitted to an agent that
	// already has a non-terminal run.
	ErrConflict = errors.New("agent already has an active run")

	// ErrAlreadyExists is returned when creating something that occupies an
	// existing path or id.
	ErrAlreadyExists = errors.New("already exists")

	// ErrPathEscape is returned when a workspace path resolves outside the
	// workspace root.
	ErrPathEscape = errors.New("path escapes workspace root")

	// ErrCancelled marks cooperative shutdown of a run. Distinguishable from
	// a failure so observers can render it differently.
	ErrCancelled = errors.New("run cancelled")

	// ErrInvalidStatus is returned when an operation is not valid for the
	// run's current status (e.g. retrying a run that is not failed).
	ErrInvalidStatus = errors.New("operation not valid for run status")
)

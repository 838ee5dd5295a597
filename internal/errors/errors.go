// Package errors provides centralized error definitions and error handling
// utilities for the claude-web orchestrator. It defines domain-specific errors,
// error constructors with context wrapping, and classification helpers.
//
// # Error Types
//
// Domain-specific errors cover the orchestrator's failure taxonomy:
//   - InvalidStateError: an operation was requested against a session whose
//     current status does not permit it
//   - ConflictError: an optimistic-concurrency version check failed
//   - NotFoundError: session or project has no matching record
//   - ProcessError: the external reasoning process exited abnormally, timed
//     out, or produced unparseable output
//   - QueueInvariantError: an internal attempt to admit two active sessions
//     for one project was detected and rejected
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewInvalidStateError("edit requires a queued session", session.StatusPlanning)
//	err := errors.NewConflictError(expected, stored)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrVersionConflict) { ... }
//
//	var conflict *errors.ConflictError
//	if errors.As(err, &conflict) { ... }
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinel errors for the orchestrator failure taxonomy.
var (
	// ErrInvalidState indicates the session's status does not permit the operation.
	ErrInvalidState = New("invalid session state for operation")
	// ErrVersionConflict indicates an optimistic-concurrency check failed.
	ErrVersionConflict = New("session version conflict")
	// ErrNotFound indicates a session or project has no matching record.
	ErrNotFound = New("not found")
	// ErrAlreadyExists indicates a session with the same key already exists.
	ErrAlreadyExists = New("already exists")
	// ErrProcessFailed indicates the external process exited abnormally.
	ErrProcessFailed = New("agent process failed")
	// ErrProcessTimeout indicates the external process exceeded its stage deadline.
	ErrProcessTimeout = New("agent process timed out")
	// ErrQueueInvariant indicates a detected attempt to admit two active
	// sessions for one project. Internal only; never surfaced to callers.
	ErrQueueInvariant = New("queue invariant violation")
)

// InvalidStateError is returned when an operation is requested against a
// session whose current status does not permit it, e.g. editing an active
// session or retrying a non-retryable stage.
type InvalidStateError struct {
	Op     string
	Status string
	cause  error
}

// NewInvalidStateError creates an InvalidStateError for the given operation
// and the session status that rejected it.
func NewInvalidStateError(op, status string) *InvalidStateError {
	return &InvalidStateError{Op: op, Status: status}
}

// WithCause attaches an underlying error.
func (e *InvalidStateError) WithCause(cause error) *InvalidStateError {
	e.cause = cause
	return e
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("invalid state: cannot %s session in status %q", e.Op, e.Status)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *InvalidStateError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *InvalidStateError) Is(target error) bool {
	if target == ErrInvalidState {
		return true
	}
	if _, ok := target.(*InvalidStateError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// ConflictError is returned when a version-checked write observes a stored
// version different from the caller's expected version. The caller should
// re-read the record and reconcile.
type ConflictError struct {
	ExpectedVersion int64
	StoredVersion   int64
}

// NewConflictError creates a ConflictError carrying both versions.
func NewConflictError(expected, stored int64) *ConflictError {
	return &ConflictError{ExpectedVersion: expected, StoredVersion: stored}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, stored %d", e.ExpectedVersion, e.StoredVersion)
}

// Is reports whether this error matches the target.
func (e *ConflictError) Is(target error) bool {
	if target == ErrVersionConflict {
		return true
	}
	_, ok := target.(*ConflictError)
	return ok
}

// NotFoundError represents a resource that could not be found.
//
//	err := errors.NewNotFoundError("session", "proj-1/feat-2")
//	fmt.Println(err) // "session 'proj-1/feat-2' not found"
type NotFoundError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewNotFoundError creates a NotFoundError for the given resource.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// WithCause attaches an underlying error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

func (e *NotFoundError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// ProcessError represents a failure of the external reasoning process:
// abnormal exit, timeout, or output that could not be parsed. The session
// transitions to failed; recovery requires an explicit retry request.
type ProcessError struct {
	Stage    int
	ExitCode int
	Timeout  time.Duration
	cause    error
}

// NewProcessError creates a ProcessError for the given stage.
func NewProcessError(stage int, cause error) *ProcessError {
	return &ProcessError{Stage: stage, ExitCode: -1, cause: cause}
}

// WithExitCode records the process exit code.
func (e *ProcessError) WithExitCode(code int) *ProcessError {
	e.ExitCode = code
	return e
}

// WithTimeout marks the failure as a deadline expiry.
func (e *ProcessError) WithTimeout(d time.Duration) *ProcessError {
	e.Timeout = d
	return e
}

func (e *ProcessError) Error() string {
	prefix := fmt.Sprintf("agent process failed [stage=%d]", e.Stage)
	if e.Timeout > 0 {
		prefix = fmt.Sprintf("agent process timed out [stage=%d, timeout=%s]", e.Stage, e.Timeout)
	} else if e.ExitCode >= 0 {
		prefix = fmt.Sprintf("agent process failed [stage=%d, exit=%d]", e.Stage, e.ExitCode)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

func (e *ProcessError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *ProcessError) Is(target error) bool {
	if target == ErrProcessFailed {
		return true
	}
	if target == ErrProcessTimeout && e.Timeout > 0 {
		return true
	}
	if _, ok := target.(*ProcessError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// QueueInvariantError is an internal error signalling a detected attempt to
// hold two active sessions for one project. It must never be observable
// externally; the queue manager fails closed and rejects the admission.
type QueueInvariantError struct {
	ProjectID string
	HeldBy    string
	Rejected  string
}

// NewQueueInvariantError creates a QueueInvariantError naming the project,
// the feature currently holding the active slot, and the rejected feature.
func NewQueueInvariantError(projectID, heldBy, rejected string) *QueueInvariantError {
	return &QueueInvariantError{ProjectID: projectID, HeldBy: heldBy, Rejected: rejected}
}

func (e *QueueInvariantError) Error() string {
	return fmt.Sprintf("queue invariant violation [project=%s]: active slot held by %q, rejected admission of %q",
		e.ProjectID, e.HeldBy, e.Rejected)
}

// Is reports whether this error matches the target.
func (e *QueueInvariantError) Is(target error) bool {
	if target == ErrQueueInvariant {
		return true
	}
	_, ok := target.(*QueueInvariantError)
	return ok
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsInvalidState reports whether err is an invalid-state rejection.
func IsInvalidState(err error) bool { return Is(err, ErrInvalidState) }

// IsConflict reports whether err is a version conflict.
func IsConflict(err error) bool { return Is(err, ErrVersionConflict) }

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool { return Is(err, ErrNotFound) }

// IsProcessFailure reports whether err is an external process failure,
// including timeouts.
func IsProcessFailure(err error) bool { return Is(err, ErrProcessFailed) }

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

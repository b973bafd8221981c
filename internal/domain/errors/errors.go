// Package errors provides domain-specific errors for the quotedesk sync engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common domain error conditions.
var (
	ErrRecordNotFound      = errors.New("record not found")
	ErrOperationNotFound   = errors.New("operation not found")
	ErrVersionConflict     = errors.New("version conflict")
	ErrOffline             = errors.New("remote store unreachable")
	ErrNotAuthenticated    = errors.New("no authenticated session")
	ErrDependencyUnsynced  = errors.New("parent record not confirmed remotely")
	ErrRetryCeilingReached = errors.New("retry ceiling exceeded")
)

// ErrorCode categorizes errors for handling and reporting.
type ErrorCode string

const (
	// CodeVersionConflict marks a recoverable optimistic-concurrency failure:
	// the expected version did not match the stored version. Callers branch
	// into conflict resolution instead of treating it as fatal I/O.
	CodeVersionConflict ErrorCode = "VERSION_CONFLICT"

	// CodeTransport marks a network/timeout/service failure reaching the
	// remote store. Retried with backoff up to the ceiling.
	CodeTransport ErrorCode = "TRANSPORT"

	// CodeRejectedWrite marks a write the remote store accepted but applied to
	// zero records (access-policy rejection) or rejected structurally. Retried
	// like transport failures but logged distinctly.
	CodeRejectedWrite ErrorCode = "REJECTED_WRITE"

	// CodeDependency marks a write skipped because a referenced parent record
	// has not been confirmed remotely. Recoverable via repair.
	CodeDependency ErrorCode = "DEPENDENCY"

	// CodePermanent marks an operation evicted from the queue after the retry
	// ceiling. Requires repair or manual intervention.
	CodePermanent ErrorCode = "PERMANENT"

	CodeValidation ErrorCode = "VALIDATION"
	CodeNotFound   ErrorCode = "NOT_FOUND"
	CodeStorage    ErrorCode = "STORAGE"
)

// SyncError wraps errors with a code and structured context for debugging
// and for the queue's retry policy, which branches on the code.
type SyncError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error returns a formatted error string including the code, message, and
// cause if present.
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for use with errors.Is and errors.As.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SyncError with the given code, message, and
// optional cause.
func NewError(code ErrorCode, message string, cause error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error's context and returns the
// error, allowing chained calls.
func WithContext(err *SyncError, key string, value interface{}) *SyncError {
	if err.Context == nil {
		err.Context = make(map[string]interface{})
	}
	err.Context[key] = value
	return err
}

// VersionConflict is the recoverable conflict error the remote and local
// optimistic-concurrency layers return on a version mismatch. The current
// stored version rides along so the caller can resolve without an extra read.
type VersionConflict struct {
	EntityID        string
	ExpectedVersion int64
	CurrentVersion  int64
	Reason          string
}

// Error implements the error interface.
func (e *VersionConflict) Error() string {
	return fmt.Sprintf("[%s] %s: expected version %d, store holds %d",
		CodeVersionConflict, e.EntityID, e.ExpectedVersion, e.CurrentVersion)
}

// Is lets errors.Is(err, ErrVersionConflict) match a VersionConflict.
func (e *VersionConflict) Is(target error) bool {
	return target == ErrVersionConflict
}

// CodeOf extracts the error code from err's chain. Errors outside the domain
// taxonomy report CodeTransport, the retryable default.
func CodeOf(err error) ErrorCode {
	var vc *VersionConflict
	if errors.As(err, &vc) {
		return CodeVersionConflict
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeTransport
}

// IsRetryable reports whether the queue should retry an operation that failed
// with err. Version conflicts are resolved, not retried; validation failures
// never succeed on retry.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeTransport, CodeRejectedWrite, CodeDependency:
		return true
	}
	return false
}

// Is reports whether err matches target using errors.Is semantics.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Package errors provides centralized error definitions and error handling utilities
// for the pixbridge codebase. It defines the bridge's sentinel errors, semantic error
// types, error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures of a bridge subsystem:
//   - BridgeError: misuse of, or failure reported by, a Bridge Supervisor
//   - CallbackError: a failure caught at the callback-table boundary
//
// Semantic errors represent common error conditions:
//   - NotFoundError: a named collaborator could not be resolved
//   - TimeoutError: a bounded wait elapsed
//
// # Usage
//
//	err := errors.NewCallbackError("getPixels", errors.ErrCollaboratorNotFound).
//		WithImage("mask").WithSlice(3)
//
//	if errors.Is(err, errors.ErrCollaboratorNotFound) { ... }
//
//	var cbErr *errors.CallbackError
//	if errors.As(err, &cbErr) && cbErr.Fatal() { ... }
//
// # Error Classification
//
//   - IsFatal: the failure must surface as a nonzero return code for the run
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
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

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Supervisor lifecycle sentinel errors
var (
	// ErrAlreadyEstablished indicates Establish was called twice without an
	// intervening Terminate.
	ErrAlreadyEstablished = New("bridge already established")
	// ErrNotEstablished indicates an operation that requires an established bridge.
	ErrNotEstablished = New("bridge not established")
	// ErrTerminated indicates the bridge has been terminated and cannot be reused.
	ErrTerminated = New("bridge terminated")
	// ErrWorkerDead indicates the call thread has already exited.
	ErrWorkerDead = New("native worker call thread is not alive")
	// ErrWorkerTerminatedUnexpectedly indicates the call thread exited without
	// a terminate request.
	ErrWorkerTerminatedUnexpectedly = New("native worker terminated unexpectedly")
	// ErrWaitInterrupted indicates a blocking host call was interrupted; the
	// interruption has been forwarded to the worker.
	ErrWaitInterrupted = New("wait interrupted")
	// ErrRunFailed indicates callbacks reported failures during a run.
	ErrRunFailed = New("run reported failures")
	// ErrModuleInUse indicates an exclusive native module is already claimed
	// by another bridge.
	ErrModuleInUse = New("native module already in use")
)

// Callback sentinel errors
var (
	// ErrCollaboratorNotFound indicates a named image or point set is not registered.
	ErrCollaboratorNotFound = New("collaborator not found")
	// ErrBufferTooSmall indicates a caller-sized buffer cannot hold the payload.
	ErrBufferTooSmall = New("buffer too small")
	// ErrSliceInFlight indicates a transfer started while another one still
	// owned the transfer buffer.
	ErrSliceInFlight = New("transfer buffer already has a slice in flight")
	// ErrBulkWriteUnsupported indicates the target has no mutable slice access.
	ErrBulkWriteUnsupported = New("target does not support bulk writes")
	// ErrDeferredAllocationUnsupported indicates the target cannot be resized
	// or allocated on request.
	ErrDeferredAllocationUnsupported = New("target does not support deferred allocation")
	// ErrOutOfBounds indicates a slice index, ROI or coordinate outside the target.
	ErrOutOfBounds = New("out of bounds")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// BridgeFault is the base interface for all pixbridge errors.
type BridgeFault interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// Fatal returns true if the failure must abort the current run.
	Fatal() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message  string
	cause    error
	severity Severity
	fatal    bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// Fatal returns whether the error aborts the current run.
func (e *baseError) Fatal() bool {
	return e.fatal
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// BridgeError represents errors raised by a Bridge Supervisor to its caller.
//
// Example:
//
//	err := errors.NewBridgeError("run failed", errors.ErrRunFailed).
//		WithBridgeID("b-1").WithState("idle").WithFailures(2)
//	fmt.Println(err) // "bridge error [bridge=b-1, state=idle, failures=2]: run failed: run reported failures"
type BridgeError struct {
	baseError
	BridgeID string
	State    string
	Failures int64
}

// NewBridgeError creates a new BridgeError.
func NewBridgeError(message string, cause error) *BridgeError {
	return &BridgeError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
			fatal:    true,
		},
	}
}

// WithBridgeID adds the bridge identifier to the error context.
func (e *BridgeError) WithBridgeID(id string) *BridgeError {
	e.BridgeID = id
	return e
}

// WithState adds the lifecycle state observed when the error was raised.
func (e *BridgeError) WithState(state string) *BridgeError {
	e.State = state
	return e
}

// WithFailures records the accumulated callback return code.
func (e *BridgeError) WithFailures(n int64) *BridgeError {
	e.Failures = n
	return e
}

// WithSeverity sets the error severity.
func (e *BridgeError) WithSeverity(s Severity) *BridgeError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *BridgeError) Error() string {
	var parts []string
	if e.BridgeID != "" {
		parts = append(parts, fmt.Sprintf("bridge=%s", e.BridgeID))
	}
	if e.State != "" {
		parts = append(parts, fmt.Sprintf("state=%s", e.State))
	}
	if e.Failures != 0 {
		parts = append(parts, fmt.Sprintf("failures=%d", e.Failures))
	}

	prefix := "bridge error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("bridge error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *BridgeError) Is(target error) bool {
	if _, ok := target.(*BridgeError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// CallbackError represents a failure caught at the callback-table boundary.
// It never crosses into the worker; the supervisor reduces it to a return-code
// increment when Fatal reports true.
//
// Example:
//
//	err := errors.NewCallbackError("setPixels", errors.ErrCollaboratorNotFound).
//		WithImage("overlay").WithSlice(0).AsAuxiliary()
type CallbackError struct {
	baseError
	Callback string
	Image    string
	Slice    int
	hasSlice bool
}

// NewCallbackError creates a new CallbackError. Callback errors are fatal
// to the current run unless marked auxiliary.
func NewCallbackError(callback string, cause error) *CallbackError {
	return &CallbackError{
		baseError: baseError{
			message:  callback + " failed",
			cause:    cause,
			severity: SeverityError,
			fatal:    true,
		},
		Callback: callback,
	}
}

// WithImage adds the collaborator name to the error context.
func (e *CallbackError) WithImage(name string) *CallbackError {
	e.Image = name
	return e
}

// WithSlice adds the slice index to the error context.
func (e *CallbackError) WithSlice(index int) *CallbackError {
	e.Slice = index
	e.hasSlice = true
	return e
}

// AsAuxiliary marks the failure as recoverable: it is logged and recorded
// but does not abort the run.
func (e *CallbackError) AsAuxiliary() *CallbackError {
	e.fatal = false
	e.severity = SeverityWarning
	return e
}

// Error returns the formatted error message.
func (e *CallbackError) Error() string {
	var parts []string
	if e.Image != "" {
		parts = append(parts, fmt.Sprintf("image=%s", e.Image))
	}
	if e.hasSlice {
		parts = append(parts, fmt.Sprintf("slice=%d", e.Slice))
	}

	prefix := "callback error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("callback error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *CallbackError) Is(target error) bool {
	if _, ok := target.(*CallbackError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("image", "mask")
//	fmt.Println(err) // "image 'mask' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return errors.Is(target, ErrCollaboratorNotFound)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for call thread to exit", 5*time.Second)
//	fmt.Println(err) // "timeout error: waiting for call thread to exit (timeout: 5s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:  operation,
			severity: SeverityWarning,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsFatal returns true if the error must be surfaced as a nonzero return
// code for the current run. Errors that do not implement BridgeFault are
// treated as fatal; only explicitly auxiliary failures are recoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var fault BridgeFault
	if As(err, &fault) {
		return fault.Fatal()
	}
	return true
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement BridgeFault.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var fault BridgeFault
	if As(err, &fault) {
		return fault.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
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

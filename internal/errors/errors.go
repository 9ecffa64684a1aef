// Package errors provides structured error handling for rmap operations.
// It defines error codes, a typed run error, and the mapping from error
// codes to process exit codes.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeConfiguration ErrorCode = "CONFIGURATION"

	// Launch-time errors.
	CodeToolNotFound  ErrorCode = "TOOL_NOT_FOUND"
	CodeTargetInvalid ErrorCode = "TARGET_INVALID"
	CodeUnprivileged  ErrorCode = "UNPRIVILEGED"

	// Pipeline errors.
	CodeMalformedStream ErrorCode = "MALFORMED_STREAM"
	CodeSinkClosed      ErrorCode = "SINK_CLOSED"
	CodeChildFailed     ErrorCode = "CHILD_FAILED"
)

// Process exit codes for each failure class. A child process failure
// reuses the child's own exit code instead of these.
const (
	ExitOK              = 0
	ExitConfiguration   = 2
	ExitMalformedStream = 3
	ExitSinkClosed      = 4
	ExitToolNotFound    = 127
)

// RunError represents an error that occurred during a scan run.
type RunError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error

	// ChildExit carries the child process exit code for CodeChildFailed.
	ChildExit int
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// New creates a new run error with the specified code and message.
func New(code ErrorCode, message string) *RunError {
	return &RunError{Code: code, Message: message}
}

// Wrap wraps an existing error as a run error.
func Wrap(code ErrorCode, message string, err error) *RunError {
	return &RunError{Code: code, Message: message, Cause: err}
}

// WrapWithTarget wraps an error with target information.
func WrapWithTarget(code ErrorCode, message, target string, err error) *RunError {
	return &RunError{Code: code, Message: message, Target: target, Cause: err}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Code
	}
	return CodeUnknown
}

// ExitCode maps an error to the process exit code documented for it.
// A nil error maps to ExitOK; a child failure maps to the child's own
// exit code so callers can mirror nmap's status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var runErr *RunError
	if !errors.As(err, &runErr) {
		return ExitConfiguration
	}

	switch runErr.Code {
	case CodeToolNotFound:
		return ExitToolNotFound
	case CodeMalformedStream:
		return ExitMalformedStream
	case CodeSinkClosed:
		return ExitSinkClosed
	case CodeChildFailed:
		if runErr.ChildExit > 0 {
			return runErr.ChildExit
		}
		return 1
	default:
		return ExitConfiguration
	}
}

// Common error creation functions

// ErrToolNotFound creates an error for a missing scanner binary.
func ErrToolNotFound(binary string, err error) *RunError {
	return Wrap(CodeToolNotFound, fmt.Sprintf("%s not found in PATH", binary), err)
}

// ErrMalformedStream creates an error for undecodable scan output.
func ErrMalformedStream(err error) *RunError {
	return Wrap(CodeMalformedStream, "scan output stream is malformed", err)
}

// ErrSinkClosed creates an error for a closed output destination.
func ErrSinkClosed(err error) *RunError {
	return Wrap(CodeSinkClosed, "output sink closed by downstream reader", err)
}

// ErrChildFailed creates an error carrying the child process exit code.
func ErrChildFailed(exitCode int, err error) *RunError {
	e := Wrap(CodeChildFailed, fmt.Sprintf("scanner exited with code %d", exitCode), err)
	e.ChildExit = exitCode
	return e
}

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *RunError {
	return &RunError{Code: CodeTargetInvalid, Message: "invalid target specification", Target: target}
}

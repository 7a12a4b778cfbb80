// Package errors provides structured error types for sitepix.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI, the image endpoint and the build driver
//   - Machine-readable error codes that map to HTTP status codes
//   - User-friendly error messages
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Error codes follow a hierarchical naming convention:
//   - INVALID_*: Input validation failures (bad transforms, aspect ratios, formats)
//   - SOURCE_NOT_FOUND: The image loader could not find the source
//   - CODEC_ERROR: The image codec failed to transform an image
//   - BUILD_FAILED: One or more static build entries failed
//   - INTERNAL_*: Unexpected internal errors
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidTransform, "width and height cannot both be empty")
//	if errors.Is(err, errors.ErrCodeInvalidTransform) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeCodec, origErr, "transform %s", src)
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput       Code = "INVALID_INPUT"
	ErrCodeInvalidTransform   Code = "INVALID_TRANSFORM"
	ErrCodeInvalidAspectRatio Code = "INVALID_ASPECT_RATIO"
	ErrCodeInvalidFormat      Code = "INVALID_FORMAT"
	ErrCodeInvalidPath        Code = "INVALID_PATH"
	ErrCodeInvalidConfig      Code = "INVALID_CONFIG"

	// Resource not found errors
	ErrCodeSourceNotFound Code = "SOURCE_NOT_FOUND"

	// Collaborator failures
	ErrCodeCodec   Code = "CODEC_ERROR"
	ErrCodeNetwork Code = "NETWORK_ERROR"

	// Build errors
	ErrCodeBuildFailed Code = "BUILD_FAILED"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
// A *BuildError matches ErrCodeBuildFailed.
func Is(err error, code Code) bool {
	return GetCode(err) == code && code != ""
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error or *BuildError.
func GetCode(err error) Code {
	// BuildError first: its failures usually wrap *Error values of their own.
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
		return e.Message
	}
	return err.Error()
}

// HTTPStatus maps an error to the status code the image endpoint responds with.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidTransform, ErrCodeInvalidAspectRatio,
		ErrCodeInvalidFormat, ErrCodeInvalidPath:
		return http.StatusBadRequest
	case ErrCodeSourceNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Failure describes one static build entry that could not be produced.
type Failure struct {
	Src string // Source identifier
	Key string // Serialized transform key
	Err error  // What went wrong
}

// BuildError aggregates per-entry failures of a static build.
type BuildError struct {
	Failures []Failure
}

// Error lists every failing source and transform, one per line.
func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d image(s) failed to build", ErrCodeBuildFailed, len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s [%s]: %v", f.Src, f.Key, f.Err)
	}
	return b.String()
}

// Unwrap exposes the individual failure causes to errors.Is/As.
func (e *BuildError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Code returns the error code for this error type.
func (e *BuildError) Code() Code {
	return ErrCodeBuildFailed
}

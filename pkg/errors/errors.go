// Package errors provides the structured error taxonomy for elabmate.
//
// Every failure surfaced by the library is an *Error carrying a Type that
// tells the caller what went wrong without parsing messages:
//
//	exp, err := client.CreateExperiment(ctx, "Run 12")
//	if errors.IsType(err, errors.ErrorTypeDuplicateTitle) {
//	    exp, err = client.LoadExperiment(ctx, "Run 12")
//	}
//
// Remote failures additionally carry the HTTP status returned by eLabFTW,
// available through StatusCode. Errors are never retried by the library.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeConfig represents malformed or missing configuration
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeAuthentication represents a session identity the server rejected
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeResolution represents a session identity that could not be resolved
	ErrorTypeResolution ErrorType = "resolution"
	// ErrorTypeNotFound represents a referenced remote resource that is absent
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeDuplicateTitle represents a violated experiment title uniqueness
	ErrorTypeDuplicateTitle ErrorType = "duplicate_title"
	// ErrorTypeFileNotFound represents a missing local upload source
	ErrorTypeFileNotFound ErrorType = "file_not_found"
	// ErrorTypeRemote represents any other non-2xx answer from the server
	ErrorTypeRemote ErrorType = "remote"
	// ErrorTypeValidation represents invalid arguments
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConnection represents transport failures before any response
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeData represents a response that could not be decoded
	ErrorTypeData ErrorType = "data"
	// ErrorTypeInternal represents internal failures
	ErrorTypeInternal ErrorType = "internal"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	// StatusCode is the HTTP status of the remote answer, 0 when no answer was involved.
	StatusCode int
	Cause      error
	Details    map[string]interface{}
	Stack      []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithStatus records the HTTP status that produced the error
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Remote creates a RemoteError for a non-2xx answer
func Remote(status int, message string) *Error {
	return &Error{
		Type:       ErrorTypeRemote,
		Message:    message,
		StatusCode: status,
		Stack:      captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack and status
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:       errType,
			Message:    message,
			StatusCode: existingErr.StatusCode,
			Cause:      err,
			Stack:      existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType checks if the outermost structured error in the chain is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the type of the outermost structured error, or "" for foreign errors
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Type
}

// StatusCode returns the HTTP status recorded anywhere in the chain, or 0
func StatusCode(err error) int {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0
		}
		if e.StatusCode != 0 {
			return e.StatusCode
		}
		err = e.Cause
	}
	return 0
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}

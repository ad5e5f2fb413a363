// Package errors provides structured error handling for FileForge.
// It implements errors with codes, context, and stack traces.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Ingestion errors (1xx)
	CodeOpenFailed        Code = "E101"
	CodeImportFailed      Code = "E102"
	CodeMalformedInput    Code = "E103"
	CodeUnsupportedFormat Code = "E104"
	CodeStoreWriteFailed  Code = "E105"

	// Registry and source errors (2xx)
	CodeDuplicateSource  Code = "E201"
	CodeUnknownSource    Code = "E202"
	CodeDuplicateDataset Code = "E203"
	CodeUnknownDataset   Code = "E204"
	CodeInvalidName      Code = "E205"

	// Query and export errors (3xx)
	CodeSQLError     Code = "E301"
	CodeExportFailed Code = "E302"

	// Handle and system errors (4xx)
	CodeInvalidHandle Code = "E401"
	CodeInternal      Code = "E402"

	// Unknown
	CodeUnknown Code = "E999"
)

// ForgeError is the base error type for all FileForge errors.
type ForgeError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *ForgeError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *ForgeError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *ForgeError) Is(target error) bool {
	if t, ok := target.(*ForgeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *ForgeError) WithContext(key string, value interface{}) *ForgeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new ForgeError.
func New(code Code, message string) *ForgeError {
	return &ForgeError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *ForgeError {
	if err == nil {
		return nil
	}

	return &ForgeError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *ForgeError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *ForgeError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// UnsupportedFormat creates an error for a file format that cannot be imported.
func UnsupportedFormat(fileName string, format string) *ForgeError {
	return New(CodeUnsupportedFormat, "unsupported file format").
		WithContext("file", fileName).
		WithContext("format", format)
}

// DuplicateSource creates an error for a source path already attached.
func DuplicateSource(path string) *ForgeError {
	return New(CodeDuplicateSource, "source already attached").WithContext("path", path)
}

// UnknownSource creates an error for a source path not present in the workbook.
func UnknownSource(path string) *ForgeError {
	return New(CodeUnknownSource, "unknown source").WithContext("path", path)
}

// DuplicateDataset creates an error for a dataset name collision.
func DuplicateDataset(name string) *ForgeError {
	return New(CodeDuplicateDataset, "dataset name already in use").WithContext("name", name)
}

// UnknownDataset creates an error for a dataset name that is not registered.
func UnknownDataset(name string) *ForgeError {
	return New(CodeUnknownDataset, "unknown dataset").WithContext("name", name)
}

// InvalidName creates an error for a rename target that fails validation.
func InvalidName(name string, reason string) *ForgeError {
	return New(CodeInvalidName, "invalid dataset name").
		WithContext("name", name).
		WithContext("reason", reason)
}

// InvalidHandle creates an error for an unknown or closed workbook handle.
func InvalidHandle(id uint64) *ForgeError {
	return New(CodeInvalidHandle, "invalid workbook handle").WithContext("handle", id)
}

// SQLError wraps a store-level query failure.
func SQLError(err error) *ForgeError {
	return Wrap(err, CodeSQLError, "query failed")
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var fe *ForgeError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var fe *ForgeError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeUnknown
}

// MultiError collects multiple errors. Its message is the newline-joined
// list of member messages, which callers surface as a single payload.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	parts := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "\n")
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}

package catalog

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittokv/pkg/namespace"
)

// StoreError is returned by every catalog operation.
//
// Code classifies the failure so that callers (RPC layers, CLIs) can map it
// to their own status codes.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the store path the operation was called with
	Path string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a catalog error.
type ErrorCode int

const (
	// ErrNotFound indicates the path does not resolve to a directory
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates a create or rename collided with an
	// existing store or directory
	ErrAlreadyExists

	// ErrInvalidState indicates the store is in the wrong phase for the
	// operation, e.g. completing an unknown store or deleting an incomplete one
	ErrInvalidState

	// ErrInvalidArgument indicates a malformed path
	ErrInvalidArgument

	// ErrIOError indicates a namespace or journal failure
	ErrIOError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrInvalidState:
		return "InvalidState"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrIOError:
		return "IOError"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

func newError(code ErrorCode, path, format string, args ...any) *StoreError {
	return &StoreError{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the ErrorCode of a catalog error. ok is false for other
// errors.
func CodeOf(err error) (code ErrorCode, ok bool) {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code, true
	}
	return 0, false
}

// IsNotFound reports whether err is an ErrNotFound catalog error.
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrNotFound
}

// IsAlreadyExists reports whether err is an ErrAlreadyExists catalog error.
func IsAlreadyExists(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrAlreadyExists
}

// IsInvalidState reports whether err is an ErrInvalidState catalog error.
func IsInvalidState(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrInvalidState
}

// fromNamespace converts a namespace failure into a StoreError.
func fromNamespace(err error, path, action string) *StoreError {
	code := ErrIOError
	if nsCode, ok := namespace.CodeOf(err); ok {
		switch nsCode {
		case namespace.ErrNotFound:
			code = ErrNotFound
		case namespace.ErrAlreadyExists:
			code = ErrAlreadyExists
		case namespace.ErrInvalidPath:
			code = ErrInvalidArgument
		}
	}
	return &StoreError{Code: code, Path: path, Message: "failed to " + action, Err: err}
}

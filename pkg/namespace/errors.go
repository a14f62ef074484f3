package namespace

import (
	"errors"
	"fmt"
)

// ErrorCode classifies namespace failures.
type ErrorCode int

const (
	// ErrNotFound indicates the path (or a required parent) does not exist.
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates the target path is already taken.
	ErrAlreadyExists

	// ErrNotEmpty indicates a non-recursive delete of a directory with children.
	ErrNotEmpty

	// ErrInvalidPath indicates a malformed path or an illegal operation on
	// it, such as deleting "/" or moving a directory below itself.
	ErrInvalidPath

	// ErrIOError indicates a failure of the backing store.
	ErrIOError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExists:
		return "already exists"
	case ErrNotEmpty:
		return "not empty"
	case ErrInvalidPath:
		return "invalid path"
	case ErrIOError:
		return "I/O error"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every Service implementation.
type Error struct {
	Code ErrorCode
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("namespace %s %s: %s: %v", e.Op, e.Path, e.Code, e.Err)
	}
	return fmt.Sprintf("namespace %s %s: %s", e.Op, e.Path, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error.
func NewError(code ErrorCode, op, path string, err error) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: err}
}

// CodeOf extracts the ErrorCode of err. ok is false when err is not a
// namespace error.
func CodeOf(err error) (code ErrorCode, ok bool) {
	var nsErr *Error
	if errors.As(err, &nsErr) {
		return nsErr.Code, true
	}
	return 0, false
}

// IsNotFound reports whether err is a namespace ErrNotFound.
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrNotFound
}

// IsAlreadyExists reports whether err is a namespace ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrAlreadyExists
}

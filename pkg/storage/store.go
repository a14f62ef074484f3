// Package storage defines the object storage that backs the journal.
//
// The journal writes every artifact (sealed logs, the open log, checkpoints and
// temporary checkpoints) as a whole object addressed by a slash separated key.
// Backends only need whole-object semantics: there are no appends or ranged
// reads.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Standard Storage Errors
// ============================================================================

var (
	// ErrNotFound indicates that no object exists under the requested key.
	//
	// Delete does NOT return this error: deleting a missing object succeeds.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey indicates an empty key or one that escapes the backend root.
	ErrInvalidKey = errors.New("invalid object key")

	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("storage closed")
)

// ObjectError records the operation and key that failed.
type ObjectError struct {
	Op  string
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// NewObjectError wraps err with the failing operation and key.
func NewObjectError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &ObjectError{Op: op, Key: key, Err: err}
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is a flat key/value object store.
//
// Keys use '/' as separator. List returns every key beginning with prefix,
// sorted lexicographically; it is not required to be atomic with respect to
// concurrent writers.
//
// Thread safety: implementations must be safe for concurrent use.
type Store interface {
	// Put creates or replaces the object at key.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the full object at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Stat returns metadata of the object at key or ErrNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes the object at key. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// List returns the objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Close releases backend resources.
	Close() error
}

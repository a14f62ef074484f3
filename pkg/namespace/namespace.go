// Package namespace defines the hierarchical path namespace that backs the
// store catalog.
//
// Every key-value store is a directory in the namespace and is identified by
// the directory's ID. IDs are stable across renames: moving a directory keeps
// its ID and the IDs of everything below it.
package namespace

import (
	"context"
	"path"
	"strings"
)

// ID identifies a directory. IDs are never reused.
type ID uint64

// RootID is the ID of "/", which always exists.
const RootID ID = 1

// Service is the path namespace used by the catalog.
//
// Thread safety: implementations must be safe for concurrent use.
type Service interface {
	// Resolve returns the ID of the directory at path.
	Resolve(ctx context.Context, path string) (ID, error)

	// CreateDirectory creates a directory. With recursive set, missing
	// ancestors are created too; otherwise a missing parent is ErrNotFound.
	// An existing path is ErrAlreadyExists.
	CreateDirectory(ctx context.Context, path string, recursive bool) (ID, error)

	// Delete removes a directory. A non-empty directory requires recursive.
	Delete(ctx context.Context, path string, recursive bool) error

	// Rename moves the directory at oldPath, with its subtree, to newPath.
	// newPath must not exist and its parent must.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Close releases resources held by the service.
	Close() error
}

// Clean validates and normalizes an absolute path.
func Clean(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", NewError(ErrInvalidPath, "clean", p, nil)
	}
	return path.Clean(p), nil
}

// Parent returns the parent of a cleaned path. The parent of "/" is "/".
func Parent(p string) string {
	return path.Dir(p)
}

// Base returns the last element of a cleaned path.
func Base(p string) string {
	return path.Base(p)
}

// Join appends name to dir.
func Join(dir, name string) string {
	return path.Join(dir, name)
}

// IsWithin reports whether p equals ancestor or lies below it.
func IsWithin(p, ancestor string) bool {
	if p == ancestor || ancestor == "/" {
		return true
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// Ancestors returns the proper ancestors of a cleaned path from the top down,
// excluding "/".
func Ancestors(p string) []string {
	var out []string
	for dir := Parent(p); dir != "/"; dir = Parent(dir) {
		out = append(out, dir)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

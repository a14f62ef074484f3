// Package memory implements an in-memory namespace.Service.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/marmos91/dittokv/pkg/namespace"
)

// Namespace keeps every directory in a single map from cleaned path to ID.
// Subtree operations scan the map, which is fine for tests and small
// deployments.
type Namespace struct {
	mu     sync.RWMutex
	dirs   map[string]namespace.ID
	nextID namespace.ID
}

// New creates a namespace containing only "/".
func New() *Namespace {
	return &Namespace{
		dirs:   map[string]namespace.ID{"/": namespace.RootID},
		nextID: namespace.RootID + 1,
	}
}

// Resolve implements namespace.Service.
func (n *Namespace) Resolve(ctx context.Context, p string) (namespace.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	clean, err := namespace.Clean(p)
	if err != nil {
		return 0, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	id, ok := n.dirs[clean]
	if !ok {
		return 0, namespace.NewError(namespace.ErrNotFound, "resolve", clean, nil)
	}
	return id, nil
}

// CreateDirectory implements namespace.Service.
func (n *Namespace) CreateDirectory(ctx context.Context, p string, recursive bool) (namespace.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	clean, err := namespace.Clean(p)
	if err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.dirs[clean]; ok {
		return 0, namespace.NewError(namespace.ErrAlreadyExists, "mkdir", clean, nil)
	}

	if _, ok := n.dirs[namespace.Parent(clean)]; !ok {
		if !recursive {
			return 0, namespace.NewError(namespace.ErrNotFound, "mkdir", namespace.Parent(clean), nil)
		}
		for _, dir := range namespace.Ancestors(clean) {
			if _, ok := n.dirs[dir]; !ok {
				n.dirs[dir] = n.allocate()
			}
		}
	}

	id := n.allocate()
	n.dirs[clean] = id
	return id, nil
}

func (n *Namespace) allocate() namespace.ID {
	id := n.nextID
	n.nextID++
	return id
}

// Delete implements namespace.Service.
func (n *Namespace) Delete(ctx context.Context, p string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := namespace.Clean(p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return namespace.NewError(namespace.ErrInvalidPath, "delete", clean, nil)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.dirs[clean]; !ok {
		return namespace.NewError(namespace.ErrNotFound, "delete", clean, nil)
	}

	children := n.descendants(clean)
	if len(children) > 0 && !recursive {
		return namespace.NewError(namespace.ErrNotEmpty, "delete", clean, nil)
	}
	for _, child := range children {
		delete(n.dirs, child)
	}
	delete(n.dirs, clean)
	return nil
}

// Rename implements namespace.Service.
func (n *Namespace) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := namespace.Clean(oldPath)
	if err != nil {
		return err
	}
	dst, err := namespace.Clean(newPath)
	if err != nil {
		return err
	}
	if src == "/" || dst == "/" || namespace.IsWithin(dst, src) {
		return namespace.NewError(namespace.ErrInvalidPath, "rename", src, nil)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.dirs[src]; !ok {
		return namespace.NewError(namespace.ErrNotFound, "rename", src, nil)
	}
	if _, ok := n.dirs[dst]; ok {
		return namespace.NewError(namespace.ErrAlreadyExists, "rename", dst, nil)
	}
	if _, ok := n.dirs[namespace.Parent(dst)]; !ok {
		return namespace.NewError(namespace.ErrNotFound, "rename", namespace.Parent(dst), nil)
	}

	moved := append(n.descendants(src), src)
	ids := make(map[string]namespace.ID, len(moved))
	for _, old := range moved {
		ids[dst+strings.TrimPrefix(old, src)] = n.dirs[old]
		delete(n.dirs, old)
	}
	for p, id := range ids {
		n.dirs[p] = id
	}
	return nil
}

// descendants returns every path strictly below dir. Caller holds the lock.
func (n *Namespace) descendants(dir string) []string {
	prefix := dir + "/"
	var out []string
	for p := range n.dirs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// Close implements namespace.Service.
func (n *Namespace) Close() error {
	return nil
}

// Package memory implements an in-memory storage.Store.
//
// Objects live in a map guarded by a RWMutex. The clock used for
// LastModified is injectable so age-based logic (journal GC) can be tested
// deterministically.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittokv/pkg/storage"
)

type object struct {
	data    []byte
	modTime time.Time
}

// Store is an in-memory storage.Store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object
	now     func() time.Time
	closed  bool

	// failures maps an operation name to an error injected into every call of
	// that operation. Used by tests to simulate storage outages.
	failures map[string]error
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp LastModified.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		objects:  make(map[string]*object),
		now:      time.Now,
		failures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) check(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return storage.NewObjectError(op, key, storage.ErrClosed)
	}
	if err, ok := s.failures[op]; ok {
		return storage.NewObjectError(op, key, err)
	}
	return nil
}

// Put implements storage.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return storage.NewObjectError("put", key, storage.ErrInvalidKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "put", key); err != nil {
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = &object{data: buf, modTime: s.now()}
	return nil
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, "get", key); err != nil {
		return nil, err
	}

	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.NewObjectError("get", key, storage.ErrNotFound)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

// Stat implements storage.Store.
func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, "stat", key); err != nil {
		return storage.ObjectInfo{}, err
	}

	obj, ok := s.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.NewObjectError("stat", key, storage.ErrNotFound)
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modTime}, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "delete", key); err != nil {
		return err
	}

	delete(s.objects, key)
	return nil
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, "list", prefix); err != nil {
		return nil, err
	}

	var infos []storage.ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modTime})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetModTime overrides the LastModified of an existing object.
func (s *Store) SetModTime(key string, t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return false
	}
	obj.modTime = t
	return true
}

// FailOperation makes every subsequent call of op ("put", "get", "stat",
// "delete", "list") fail with err. A nil err clears the failure.
func (s *Store) FailOperation(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

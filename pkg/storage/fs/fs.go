// Package fs implements a filesystem-backed storage.Store.
//
// Every object key maps to a file below the base directory. Writes go to a
// temporary sibling file first and are renamed into place, so readers observe
// either the previous or the new object, never a partial one.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittokv/pkg/metrics"
	"github.com/marmos91/dittokv/pkg/storage"
)

const backendName = "filesystem"

// tempSuffix marks in-flight writes. Such files are invisible to List.
const tempSuffix = ".partial"

// Config holds the filesystem backend options.
type Config struct {
	// Path is the base directory. It is created if missing.
	Path string `mapstructure:"path" validate:"required"`

	// DirMode and FileMode are the permissions of created entries.
	DirMode  os.FileMode `mapstructure:"dir_mode"`
	FileMode os.FileMode `mapstructure:"file_mode"`

	// Fsync forces file and directory syncs after each write.
	Fsync bool `mapstructure:"fsync"`
}

// Store implements storage.Store on the local filesystem.
//
// Thread Safety:
// Concurrent operations on distinct keys are safe. Concurrent Puts to the same
// key are last-writer-wins thanks to rename(2) atomicity.
type Store struct {
	basePath string
	dirMode  os.FileMode
	fileMode os.FileMode
	fsync    bool
	metrics  metrics.StorageMetrics
}

// New creates the store and its base directory.
func New(ctx context.Context, cfg Config, m metrics.StorageMetrics) (*Store, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Path == "" {
		return nil, errors.New("filesystem storage: path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}
	if m == nil {
		m = metrics.NewNoopStorageMetrics()
	}

	// ========================================================================
	// Step 2: Create the base directory if it doesn't exist
	// ========================================================================

	if err := os.MkdirAll(cfg.Path, cfg.DirMode); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	return &Store{
		basePath: abs,
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
		fsync:    cfg.Fsync,
		metrics:  m,
	}, nil
}

// filePath maps a key to a path under the base directory, rejecting keys that
// would escape it.
func (s *Store) filePath(key string) (string, error) {
	if key == "" || strings.HasSuffix(key, tempSuffix) {
		return "", storage.ErrInvalidKey
	}
	p := filepath.Join(s.basePath, filepath.FromSlash(key))
	if p != s.basePath && !strings.HasPrefix(p, s.basePath+string(filepath.Separator)) {
		return "", storage.ErrInvalidKey
	}
	return p, nil
}

// Put implements storage.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "put", time.Since(start), len(data), err) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.filePath(key)
	if err != nil {
		return storage.NewObjectError("put", key, err)
	}

	// ========================================================================
	// Step 1: Ensure the parent directory exists
	// ========================================================================

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return storage.NewObjectError("put", key, err)
	}

	// ========================================================================
	// Step 2: Write to a temporary sibling
	// ========================================================================

	tmp := path + "." + uuid.NewString() + tempSuffix
	if err := s.writeFile(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return storage.NewObjectError("put", key, err)
	}

	// ========================================================================
	// Step 3: Atomically publish
	// ========================================================================

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return storage.NewObjectError("put", key, err)
	}

	if s.fsync {
		if err := syncDir(dir); err != nil {
			return storage.NewObjectError("put", key, err)
		}
	}
	return nil
}

func (s *Store) writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.fileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if s.fsync {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) (data []byte, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "get", time.Since(start), len(data), err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.filePath(key)
	if err != nil {
		return nil, storage.NewObjectError("get", key, err)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, storage.NewObjectError("get", key, mapError(err))
	}
	return data, nil
}

// Stat implements storage.Store.
func (s *Store) Stat(ctx context.Context, key string) (info storage.ObjectInfo, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "stat", time.Since(start), 0, err) }()

	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, err
	}

	path, err := s.filePath(key)
	if err != nil {
		return storage.ObjectInfo{}, storage.NewObjectError("stat", key, err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return storage.ObjectInfo{}, storage.NewObjectError("stat", key, mapError(err))
	}
	if fi.IsDir() {
		return storage.ObjectInfo{}, storage.NewObjectError("stat", key, storage.ErrNotFound)
	}
	return storage.ObjectInfo{Key: key, Size: fi.Size(), LastModified: fi.ModTime()}, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "delete", time.Since(start), 0, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.filePath(key)
	if err != nil {
		return storage.NewObjectError("delete", key, err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storage.NewObjectError("delete", key, err)
	}
	return nil
}

// List implements storage.Store.
//
// The walk starts at the deepest directory fully named by prefix so that
// listing one journal subdirectory does not scan the whole tree.
func (s *Store) List(ctx context.Context, prefix string) (infos []storage.ObjectInfo, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "list", time.Since(start), 0, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := s.basePath
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		root = filepath.Join(s.basePath, filepath.FromSlash(prefix[:i]))
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, tempSuffix) {
			return nil
		}

		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		infos = append(infos, storage.ObjectInfo{Key: key, Size: fi.Size(), LastModified: fi.ModTime()})
		return nil
	})
	if walkErr != nil {
		return nil, storage.NewObjectError("list", prefix, walkErr)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Close implements storage.Store. The filesystem backend holds no resources.
func (s *Store) Close() error {
	return nil
}

// BasePath returns the absolute base directory.
func (s *Store) BasePath() string {
	return s.basePath
}

func mapError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	return err
}

// Package badger implements a persistent namespace.Service on BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/dittokv/internal/logger"
	"github.com/marmos91/dittokv/pkg/namespace"
)

// Config configures the Badger namespace.
type Config struct {
	// DBPath is the directory holding the BadgerDB files.
	DBPath string `mapstructure:"db_path" validate:"required_unless=InMemory true"`

	// InMemory runs BadgerDB without touching disk. DBPath is ignored.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64).
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32).
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// SyncWrites makes every commit durable before returning.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// nodeData is the persisted form of a directory.
type nodeData struct {
	ID      namespace.ID `json:"id"`
	Created time.Time    `json:"created"`
}

// Namespace stores directories in BadgerDB.
//
// Every mutation runs in a single read-write transaction, so a rename or a
// recursive delete of a subtree is atomic.
type Namespace struct {
	db  *badger.DB
	seq *badger.Sequence
}

// New opens (or creates) the namespace database.
func New(ctx context.Context, cfg Config) (*Namespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, errors.New("badger namespace: db_path is required")
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}

	opts = opts.
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithSyncWrites(cfg.SyncWrites).
		WithBlockCacheSize(blockCacheMB << 20).
		WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open ID sequence: %w", err)
	}

	logger.Debug("Badger namespace opened at %s", cfg.DBPath)
	return &Namespace{db: db, seq: seq}, nil
}

// nextID allocates a fresh ID. Badger sequences start at 0, IDs start after
// the root.
func (n *Namespace) nextID() (namespace.ID, error) {
	v, err := n.seq.Next()
	if err != nil {
		return 0, err
	}
	return namespace.RootID + 1 + namespace.ID(v), nil
}

func getNode(txn *badger.Txn, path string) (nodeData, bool, error) {
	if path == "/" {
		return nodeData{ID: namespace.RootID}, true, nil
	}

	item, err := txn.Get(nodeKey(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nodeData{}, false, nil
	}
	if err != nil {
		return nodeData{}, false, err
	}

	var node nodeData
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &node)
	})
	if err != nil {
		return nodeData{}, false, fmt.Errorf("failed to decode node %s: %w", path, err)
	}
	return node, true, nil
}

func putNode(txn *badger.Txn, path string, node nodeData) error {
	val, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to encode node %s: %w", path, err)
	}
	return txn.Set(nodeKey(path), val)
}

// subtree returns every (path, node) strictly below path.
func subtree(txn *badger.Txn, path string) (map[string]nodeData, error) {
	prefix := childrenPrefix(path)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	out := make(map[string]nodeData)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var node nodeData
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &node)
		}); err != nil {
			return nil, err
		}
		out[pathFromKey(item.KeyCopy(nil))] = node
	}
	return out, nil
}

// ioError wraps a Badger failure unless it is already a namespace error.
func ioError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := namespace.CodeOf(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return namespace.NewError(namespace.ErrIOError, op, path, err)
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

	var id namespace.ID
	err = n.db.View(func(txn *badger.Txn) error {
		node, ok, err := getNode(txn, clean)
		if err != nil {
			return err
		}
		if !ok {
			return namespace.NewError(namespace.ErrNotFound, "resolve", clean, nil)
		}
		id = node.ID
		return nil
	})
	return id, ioError("resolve", clean, err)
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

	var id namespace.ID
	err = n.db.Update(func(txn *badger.Txn) error {
		if _, exists, err := getNode(txn, clean); err != nil {
			return err
		} else if exists {
			return namespace.NewError(namespace.ErrAlreadyExists, "mkdir", clean, nil)
		}

		for _, dir := range namespace.Ancestors(clean) {
			_, exists, err := getNode(txn, dir)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if !recursive {
				return namespace.NewError(namespace.ErrNotFound, "mkdir", dir, nil)
			}
			ancestorID, err := n.nextID()
			if err != nil {
				return err
			}
			if err := putNode(txn, dir, nodeData{ID: ancestorID, Created: time.Now()}); err != nil {
				return err
			}
		}

		newID, err := n.nextID()
		if err != nil {
			return err
		}
		id = newID
		return putNode(txn, clean, nodeData{ID: newID, Created: time.Now()})
	})
	if err != nil {
		return 0, ioError("mkdir", clean, err)
	}
	return id, nil
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

	err = n.db.Update(func(txn *badger.Txn) error {
		if _, exists, err := getNode(txn, clean); err != nil {
			return err
		} else if !exists {
			return namespace.NewError(namespace.ErrNotFound, "delete", clean, nil)
		}

		children, err := subtree(txn, clean)
		if err != nil {
			return err
		}
		if len(children) > 0 && !recursive {
			return namespace.NewError(namespace.ErrNotEmpty, "delete", clean, nil)
		}
		for child := range children {
			if err := txn.Delete(nodeKey(child)); err != nil {
				return err
			}
		}
		return txn.Delete(nodeKey(clean))
	})
	return ioError("delete", clean, err)
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

	err = n.db.Update(func(txn *badger.Txn) error {
		node, exists, err := getNode(txn, src)
		if err != nil {
			return err
		}
		if !exists {
			return namespace.NewError(namespace.ErrNotFound, "rename", src, nil)
		}
		if _, taken, err := getNode(txn, dst); err != nil {
			return err
		} else if taken {
			return namespace.NewError(namespace.ErrAlreadyExists, "rename", dst, nil)
		}
		if _, parentOK, err := getNode(txn, namespace.Parent(dst)); err != nil {
			return err
		} else if !parentOK {
			return namespace.NewError(namespace.ErrNotFound, "rename", namespace.Parent(dst), nil)
		}

		children, err := subtree(txn, src)
		if err != nil {
			return err
		}
		children[src] = node

		for old, data := range children {
			if err := txn.Delete(nodeKey(old)); err != nil {
				return err
			}
			if err := putNode(txn, dst+strings.TrimPrefix(old, src), data); err != nil {
				return err
			}
		}
		return nil
	})
	return ioError("rename", src, err)
}

// Close releases the ID sequence and closes the database.
func (n *Namespace) Close() error {
	var errs []error
	if err := n.seq.Release(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release ID sequence: %w", err))
	}
	if err := n.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close BadgerDB: %w", err))
	}
	return errors.Join(errs...)
}

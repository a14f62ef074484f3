// Package catalog implements the crash-consistent metadata state machine of
// the key-value stores.
//
// A store is a directory of the namespace. It is created incomplete, receives
// partitions one by one, is completed, and may then be renamed, merged into
// another complete store or deleted. Every transition is appended to the
// journal before the call returns, so that replaying the journal rebuilds the
// exact same state after a restart.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittokv/internal/logger"
	"github.com/marmos91/dittokv/pkg/journal"
	"github.com/marmos91/dittokv/pkg/metrics"
	"github.com/marmos91/dittokv/pkg/namespace"
)

// Journal is the write-ahead journal used by the catalog.
// *journal.Journal implements it.
type Journal interface {
	Replay(ctx context.Context, apply journal.ApplyFunc) error
	Append(ctx context.Context, entry journal.Entry) error
	Flush(ctx context.Context) error
	WriteCheckpoint(ctx context.Context, it journal.EntryIterator) error
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithMetrics attaches catalog metrics.
func WithMetrics(m metrics.CatalogMetrics) Option {
	return func(c *Catalog) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithStrictLookups makes GetPartitionInfo fail with ErrNotFound on paths
// that do not resolve, instead of returning an empty list.
func WithStrictLookups(strict bool) Option {
	return func(c *Catalog) {
		c.strictLookups = strict
	}
}

// WithSuffixGenerator overrides the disambiguator appended to merged store
// directories.
func WithSuffixGenerator(gen func() string) Option {
	return func(c *Catalog) {
		c.suffix = gen
	}
}

// Catalog is the metadata state machine.
//
// A single mutex serializes every operation, replay and checkpoint. Namespace
// and journal I/O happen while it is held; the catalog is a control-plane
// component and operation rates are low.
type Catalog struct {
	mu            sync.Mutex
	ns            namespace.Service
	journal       Journal
	metrics       metrics.CatalogMetrics
	strictLookups bool
	suffix        func() string

	st        state
	recovered bool
}

// New creates an empty catalog. Recover must succeed before any operation.
func New(ns namespace.Service, j Journal, opts ...Option) *Catalog {
	c := &Catalog{
		ns:      ns,
		journal: j,
		metrics: metrics.NewNoopCatalogMetrics(),
		suffix:  uuid.NewString,
		st:      newState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recover rebuilds the state from the journal.
//
// Entries go through the same transitions as live operations without being
// journaled again. An entry whose precondition does not hold means the
// journal is corrupted: recovery aborts with an error wrapping
// journal.ErrCorrupted and the catalog stays unusable.
func (c *Catalog) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recovered {
		return errors.New("catalog already recovered")
	}

	start := time.Now()
	st := newState()
	applied := 0
	err := c.journal.Replay(ctx, func(seq uint64, e journal.Entry) error {
		if err := st.apply(e); err != nil {
			return fmt.Errorf("%w: entry 0x%x (%s): %w", journal.ErrCorrupted, seq, e.Kind(), err)
		}
		applied++
		return nil
	})
	c.metrics.RecordReplay(applied, time.Since(start), err)
	if err != nil {
		logger.Error("Catalog recovery failed after %d entries: %v", applied, err)
		return fmt.Errorf("catalog recovery failed: %w", err)
	}

	c.st = st
	c.recovered = true
	c.publishCounts()
	logger.Info("Catalog recovered: %d entries, %d incomplete and %d complete stores (%v)",
		applied, len(st.incomplete), len(st.complete), time.Since(start))
	return nil
}

// CreateStore creates the directory at path (with missing parents) and
// registers it as an empty incomplete store.
func (c *Catalog) CreateStore(ctx context.Context, path string) (err error) {
	defer c.observe("CreateStore", time.Now(), &err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	if id, err := c.ns.Resolve(ctx, path); err == nil && c.st.exists(uint64(id)) {
		return newError(ErrAlreadyExists, path, "store already exists")
	}

	id, err := c.ns.CreateDirectory(ctx, path, true)
	if err != nil {
		return fromNamespace(err, path, "create store directory")
	}

	entry := journal.CreateStore{StoreID: uint64(id)}
	return c.commit(ctx, path, entry)
}

// CompletePartition appends a copy of info to the incomplete store at path.
func (c *Catalog) CompletePartition(ctx context.Context, path string, info journal.PartitionInfo) (err error) {
	defer c.observe("CompletePartition", time.Now(), &err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	id, err := c.resolve(ctx, path)
	if err != nil {
		return err
	}
	if !c.st.isIncomplete(id) {
		return newError(ErrInvalidState, path, "store %d is not incomplete", id)
	}

	entry := journal.CompletePartition{StoreID: id, Info: info.Clone()}
	return c.commit(ctx, path, entry)
}

// CompleteStore marks the incomplete store at path as complete.
func (c *Catalog) CompleteStore(ctx context.Context, path string) (err error) {
	defer c.observe("CompleteStore", time.Now(), &err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	id, err := c.resolve(ctx, path)
	if err != nil {
		return err
	}
	if !c.st.isIncomplete(id) {
		return newError(ErrInvalidState, path, "store %d is not incomplete", id)
	}

	return c.commit(ctx, path, journal.CompleteStore{StoreID: id})
}

// DeleteStore deletes the complete store at path and its directory.
//
// The directory is removed first; if that fails the catalog is unchanged.
func (c *Catalog) DeleteStore(ctx context.Context, path string) (err error) {
	defer c.observe("DeleteStore", time.Now(), &err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	id, err := c.resolve(ctx, path)
	if err != nil {
		return err
	}
	if !c.st.isComplete(id) {
		return newError(ErrInvalidState, path, "store %d is not complete", id)
	}

	if err := c.ns.Delete(ctx, path, true); err != nil {
		return fromNamespace(err, path, "delete store directory")
	}

	return c.commit(ctx, path, journal.DeleteStore{StoreID: id})
}

// RenameStore moves the complete store at oldPath to newPath.
func (c *Catalog) RenameStore(ctx context.Context, oldPath, newPath string) (err error) {
	defer c.observe("RenameStore", time.Now(), &err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	oldID, err := c.resolve(ctx, oldPath)
	if err != nil {
		return err
	}
	if !c.st.isComplete(oldID) {
		return newError(ErrInvalidState, oldPath, "store %d is not complete", oldID)
	}

	if err := c.ns.Rename(ctx, oldPath, newPath); err != nil {
		if namespace.IsAlreadyExists(err) {
			return &StoreError{
				Code:    ErrAlreadyExists,
				Path:    newPath,
				Message: "failed to rename store: the path is already in use",
				Err:     err,
			}
		}
		return fromNamespace(err, oldPath, "rename store directory")
	}

	newID, err := c.resolve(ctx, newPath)
	if err != nil {
		return err
	}
	if newID != oldID && c.st.exists(newID) {
		return newError(ErrAlreadyExists, newPath, "store %d already exists", newID)
	}

	return c.commit(ctx, newPath, journal.RenameStore{OldStoreID: oldID, NewStoreID: newID})
}

// MergeStore appends the partitions of the complete store fromPath to the
// complete store toPath and removes fromPath.
//
// The directory of fromPath is moved below toPath under a unique name, so the
// blocks it holds stay reachable from the merged store.
func (c *Catalog) MergeStore(ctx context.Context, fromPath, toPath string) (err error) {
	defer c.observe("MergeStore", time.Now(), &err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	fromID, err := c.resolve(ctx, fromPath)
	if err != nil {
		return err
	}
	toID, err := c.resolve(ctx, toPath)
	if err != nil {
		return err
	}
	if fromID == toID {
		return newError(ErrInvalidState, fromPath, "cannot merge store %d into itself", fromID)
	}
	if !c.st.isComplete(fromID) {
		return newError(ErrInvalidState, fromPath, "store %d is not complete", fromID)
	}
	if !c.st.isComplete(toID) {
		return newError(ErrInvalidState, toPath, "store %d is not complete", toID)
	}

	clean, err := namespace.Clean(fromPath)
	if err != nil {
		return fromNamespace(err, fromPath, "merge store")
	}
	target := namespace.Join(toPath, namespace.Base(clean)+"-"+c.suffix())
	if err := c.ns.Rename(ctx, fromPath, target); err != nil {
		return fromNamespace(err, fromPath, "move merged store directory")
	}

	return c.commit(ctx, toPath, journal.MergeStore{FromStoreID: fromID, ToStoreID: toID})
}

// GetPartitionInfo returns a copy of the partitions of the complete store at
// path.
//
// Paths that are not complete stores yield an empty list. Paths that do not
// resolve yield an empty list too, unless strict lookups are enabled.
func (c *Catalog) GetPartitionInfo(ctx context.Context, path string) (parts []journal.PartitionInfo, err error) {
	defer c.observe("GetPartitionInfo", time.Now(), &err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return nil, err
	}

	id, err := c.resolve(ctx, path)
	if err != nil {
		if IsNotFound(err) && !c.strictLookups {
			return []journal.PartitionInfo{}, nil
		}
		return nil, err
	}

	return journal.ClonePartitions(c.st.complete[id]), nil
}

// Checkpoint writes the current state to the journal as a checkpoint.
//
// The lock is held while the checkpoint is written, so the checkpoint matches
// the journal position exactly.
func (c *Catalog) Checkpoint(ctx context.Context) (err error) {
	defer c.observe("Checkpoint", time.Now(), &err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	if err := c.journal.WriteCheckpoint(ctx, newCheckpointIterator(&c.st)); err != nil {
		return &StoreError{Code: ErrIOError, Message: "failed to write checkpoint", Err: err}
	}
	return nil
}

// JournalEntryIterator returns the current state as a lazy entry sequence,
// suitable as checkpoint content.
//
// The iterator reads live state without locking: the caller must make sure no
// operation runs until it is drained. Checkpoint does this for the journal.
func (c *Catalog) JournalEntryIterator() journal.EntryIterator {
	return newCheckpointIterator(&c.st)
}

// State is a deep copy of the catalog maps.
type State struct {
	Incomplete map[uint64][]journal.PartitionInfo
	Complete   map[uint64][]journal.PartitionInfo
}

// State returns a deep copy of the current maps.
func (c *Catalog) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		Incomplete: cloneMap(c.st.incomplete),
		Complete:   cloneMap(c.st.complete),
	}
}

// Stats holds store counts.
type Stats struct {
	IncompleteStores int
	CompleteStores   int
}

// Stats returns the number of stores per phase.
func (c *Catalog) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{IncompleteStores: len(c.st.incomplete), CompleteStores: len(c.st.complete)}
}

func (c *Catalog) ready() error {
	if !c.recovered {
		return newError(ErrInvalidState, "", "catalog has not been recovered")
	}
	return nil
}

// resolve maps a path to its store id.
func (c *Catalog) resolve(ctx context.Context, path string) (uint64, error) {
	id, err := c.ns.Resolve(ctx, path)
	if err != nil {
		return 0, fromNamespace(err, path, "resolve store")
	}
	return uint64(id), nil
}

// commit journals entry, applies it to the in-memory state and flushes it.
//
// The state only changes once the entry is buffered, so memory never runs
// ahead of the journal. A flush failure is reported as ErrIOError; the
// buffered entry is persisted by the next successful flush.
func (c *Catalog) commit(ctx context.Context, path string, entry journal.Entry) error {
	if err := c.journal.Append(ctx, entry); err != nil {
		logger.Error("Catalog: failed to journal %s for %s: %v", entry.Kind(), path, err)
		return &StoreError{Code: ErrIOError, Path: path, Message: "failed to append journal entry", Err: err}
	}

	// Callers validated the precondition under c.mu.
	if err := c.st.apply(entry); err != nil {
		return &StoreError{Code: ErrInvalidState, Path: path, Message: "invalid transition", Err: err}
	}
	c.publishCounts()

	if err := c.journal.Flush(ctx); err != nil {
		logger.Error("Catalog: failed to flush %s for %s: %v", entry.Kind(), path, err)
		return &StoreError{Code: ErrIOError, Path: path, Message: "failed to flush journal", Err: err}
	}

	logger.Debug("Catalog: %s %s", entry.Kind(), path)
	return nil
}

func (c *Catalog) publishCounts() {
	c.metrics.SetStores(len(c.st.incomplete), len(c.st.complete))
}

func (c *Catalog) observe(op string, start time.Time, errp *error) {
	c.metrics.RecordOperation(op, time.Since(start), *errp)
}

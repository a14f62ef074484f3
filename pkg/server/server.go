package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittokv/internal/logger"
	"github.com/marmos91/dittokv/pkg/catalog"
	"github.com/marmos91/dittokv/pkg/gc"
	"github.com/marmos91/dittokv/pkg/journal"
	"github.com/marmos91/dittokv/pkg/metrics"
	"github.com/marmos91/dittokv/pkg/namespace"
	"github.com/marmos91/dittokv/pkg/storage"
)

// DefaultCheckpointInterval is the period of background checkpoints.
const DefaultCheckpointInterval = 10 * time.Minute

// ErrNotReady is reported by Ready until the catalog has been recovered.
var ErrNotReady = errors.New("catalog recovery has not completed")

// Options wires the components of a Master.
type Options struct {
	// Storage holds the journal. Required. Closed by the master on shutdown.
	Storage storage.Store

	// Namespace resolves store paths. Required. Closed by the master on shutdown.
	Namespace namespace.Service

	// Journal configures the write-ahead journal over Storage.
	Journal journal.Config

	// Catalog holds extra catalog options (lookups, suffix generator).
	Catalog []catalog.Option

	// GC configures the journal garbage collector.
	GC gc.Config

	// CheckpointInterval is the period of background checkpoints.
	CheckpointInterval time.Duration

	// ShutdownTimeout bounds the final checkpoint and the component shutdown.
	ShutdownTimeout time.Duration

	// MetricsServer is the operational endpoint. Nil disables it.
	MetricsServer *metrics.Server

	CatalogMetrics metrics.CatalogMetrics
	JournalMetrics metrics.JournalMetrics
	GCMetrics      metrics.GCMetrics
}

// Master owns the catalog process: the journal, the catalog recovered from
// it, the background checkpointer and the journal garbage collector.
//
// Lifecycle:
//  1. Creation: New() or FromConfig() wires the components
//  2. Serve(): recovers the catalog, then starts the checkpointer, the
//     collector and the operational endpoint
//  3. Shutdown: context cancellation stops the background workers, writes a
//     final checkpoint and closes the journal, the namespace and the storage
//
// Thread safety:
// Master is safe for concurrent use. Serve() may only be called once.
type Master struct {
	storage   storage.Store
	namespace namespace.Service
	journal   *journal.Journal
	catalog   *catalog.Catalog
	collector *gc.Collector
	endpoint  *metrics.Server

	checkpointInterval time.Duration
	shutdownTimeout    time.Duration

	ready  atomic.Bool
	served atomic.Bool
}

// New wires a Master from opts. Nothing is read from storage until Serve.
func New(opts Options) (*Master, error) {
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if opts.Namespace == nil {
		return nil, errors.New("namespace is required")
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = DefaultCheckpointInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}

	j := journal.Open(opts.Storage, opts.Journal, opts.JournalMetrics)

	catalogOpts := append([]catalog.Option{catalog.WithMetrics(opts.CatalogMetrics)}, opts.Catalog...)
	cat := catalog.New(opts.Namespace, j, catalogOpts...)

	collector, err := gc.NewCollector(j, opts.Storage, opts.GC, opts.GCMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal garbage collector: %w", err)
	}

	return &Master{
		storage:            opts.Storage,
		namespace:          opts.Namespace,
		journal:            j,
		catalog:            cat,
		collector:          collector,
		endpoint:           opts.MetricsServer,
		checkpointInterval: opts.CheckpointInterval,
		shutdownTimeout:    opts.ShutdownTimeout,
	}, nil
}

// Catalog returns the catalog. Operations fail with InvalidState until Serve
// has recovered it.
func (m *Master) Catalog() *catalog.Catalog {
	return m.catalog
}

// Collector returns the journal garbage collector.
func (m *Master) Collector() *gc.Collector {
	return m.collector
}

// Ready reports nil once the catalog has been recovered and the master
// serves operations.
func (m *Master) Ready() error {
	if !m.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// Serve recovers the catalog and runs the background workers until ctx is
// cancelled or the operational endpoint fails.
//
// Returns:
//   - context.Canceled (or the ctx error) after a graceful shutdown
//   - the recovery error if the journal cannot be replayed; nothing is started
//   - the endpoint error if the operational endpoint fails
func (m *Master) Serve(ctx context.Context) error {
	if !m.served.CompareAndSwap(false, true) {
		return errors.New("serve has already been called on this master")
	}

	// ========================================================================
	// Step 1: Recover the catalog from the journal
	// ========================================================================

	errChan := make(chan error, 1)
	var wg sync.WaitGroup

	// The endpoint answers /healthz and a failing /readyz during recovery.
	endpointCtx, stopEndpoint := context.WithCancel(context.Background())
	defer stopEndpoint()
	if m.endpoint != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.endpoint.Start(endpointCtx); err != nil {
				errChan <- err
			}
		}()
	}

	if err := m.catalog.Recover(ctx); err != nil {
		stopEndpoint()
		wg.Wait()
		m.closeComponents()
		return err
	}
	m.ready.Store(true)

	// ========================================================================
	// Step 2: Start background workers
	// ========================================================================

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.checkpointLoop(workerCtx)
	}()

	m.collector.Start()

	stats := m.catalog.Stats()
	logger.Info("DittoKV master ready: %d incomplete and %d complete stores, next sequence 0x%x",
		stats.IncompleteStores, stats.CompleteStores, m.journal.NextSequence())

	// ========================================================================
	// Step 3: Wait for shutdown
	// ========================================================================

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		serveErr = ctx.Err()
	case err := <-errChan:
		logger.Error("Operational endpoint failed: %v - initiating shutdown", err)
		serveErr = err
	}

	m.ready.Store(false)
	stopWorkers()
	m.shutdown()
	stopEndpoint()
	wg.Wait()

	logger.Info("DittoKV master stopped")
	return serveErr
}

// checkpointLoop writes a checkpoint every checkpointInterval. The journal
// skips checkpoints that would not cover any new entry.
func (m *Master) checkpointLoop(ctx context.Context) {
	ticker := time.NewTicker(m.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		if err := m.catalog.Checkpoint(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Periodic checkpoint failed: %v", err)
			continue
		}
		logger.Debug("Periodic checkpoint written in %v", time.Since(start))
	}
}

// shutdown stops the collector, writes a final checkpoint and closes the
// components. Errors are logged: shutdown always runs to completion.
func (m *Master) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	if err := m.collector.Stop(ctx); err != nil {
		logger.Error("Error stopping journal garbage collector: %v", err)
	}

	if err := m.catalog.Checkpoint(ctx); err != nil {
		logger.Error("Final checkpoint failed: %v", err)
	} else {
		logger.Info("Final checkpoint written")
	}

	if err := m.journal.Close(ctx); err != nil {
		logger.Error("Error closing journal: %v", err)
	}
	m.closeComponents()
}

func (m *Master) closeComponents() {
	if err := m.namespace.Close(); err != nil {
		logger.Error("Error closing namespace: %v", err)
	}
	if err := m.storage.Close(); err != nil {
		logger.Error("Error closing storage: %v", err)
	}
}

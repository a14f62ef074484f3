// Package gc removes journal artifacts that are no longer needed for recovery.
//
// Every cycle takes a fresh journal snapshot and recomputes eligibility from
// scratch:
//   - at most the two newest checkpoints are kept; the older of the two goes
//     once it is older than Threshold
//   - a log goes once a checkpoint covers all of it and it is older than
//     Threshold
//   - a temporary checkpoint goes once it is older than TemporaryThreshold
//
// The newest checkpoint and any log holding a sequence number at or after it
// are never touched, so an interrupted cycle always leaves enough artifacts
// to recover.
package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittokv/internal/logger"
	"github.com/marmos91/dittokv/internal/ratelimiter"
	"github.com/marmos91/dittokv/pkg/journal"
	"github.com/marmos91/dittokv/pkg/metrics"
	"github.com/marmos91/dittokv/pkg/storage"
)

const (
	DefaultInterval           = 2 * time.Minute
	DefaultInitialDelay       = time.Second
	DefaultThreshold          = 5 * time.Minute
	DefaultTemporaryThreshold = 30 * time.Minute

	// cycleTimeout bounds a single background cycle.
	cycleTimeout = 10 * time.Minute
)

// Retention reasons reported to metrics.
const (
	reasonTooYoung   = "too-young"
	reasonNotCovered = "not-covered"
)

// SnapshotSource lists the journal artifacts. *journal.Journal implements it.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*journal.Snapshot, error)
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether the background worker runs (RunNow works
	// either way)
	Enabled bool

	// Interval is the period between cycles (default: 2m)
	Interval time.Duration

	// InitialDelay is the wait before the first cycle (default: 1s)
	InitialDelay time.Duration

	// Threshold is the minimum age of a superseded checkpoint or log before
	// it is deleted (default: 5m)
	Threshold time.Duration

	// TemporaryThreshold is the minimum age of a temporary checkpoint before
	// it is deleted (default: 30m)
	TemporaryThreshold time.Duration

	// DeleteRate caps deletions per second. Zero means unlimited.
	DeleteRate float64

	// DeleteBurst is the deletion burst allowed by DeleteRate.
	DeleteBurst int

	// DryRun logs what would be deleted without deleting anything.
	DryRun bool

	// Now is the clock compared against storage timestamps (default:
	// time.Now)
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.TemporaryThreshold <= 0 {
		c.TemporaryThreshold = DefaultTemporaryThreshold
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Collector periodically garbage collects the journal.
//
// Thread Safety: Safe for concurrent use. Cycles started by the worker and by
// RunNow are serialized.
type Collector struct {
	source  SnapshotSource
	store   storage.Store
	config  Config
	metrics metrics.GCMetrics
	limiter *ratelimiter.RateLimiter

	cycleMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewCollector creates a collector deleting from store the artifacts listed
// by source. The collector is not started.
func NewCollector(source SnapshotSource, store storage.Store, config Config, m metrics.GCMetrics) (*Collector, error) {
	if source == nil {
		return nil, errors.New("gc: snapshot source is required")
	}
	if store == nil {
		return nil, errors.New("gc: storage is required")
	}
	if m == nil {
		m = metrics.NewNoopGCMetrics()
	}

	config.applyDefaults()

	return &Collector{
		source:  source,
		store:   store,
		config:  config,
		metrics: m,
		limiter: ratelimiter.New(config.DeleteRate, config.DeleteBurst),
	}, nil
}

// Config returns the effective configuration.
func (c *Collector) Config() Config {
	return c.config
}

// Start launches the background worker. It is a no-op when the collector is
// disabled or already running.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Journal garbage collection disabled")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	logger.Info("Starting journal garbage collector: interval=%s initial_delay=%s threshold=%s temporary_threshold=%s dry_run=%v",
		c.config.Interval, c.config.InitialDelay, c.config.Threshold, c.config.TemporaryThreshold, c.config.DryRun)

	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	go c.worker(ctx, c.doneCh)
}

// Stop cancels the running cycle, if any, and waits for the worker to exit.
// A cancelled cycle leaves every artifact it did not reach in place.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.cancel()
	done := c.doneCh
	c.mu.Unlock()

	logger.Info("Stopping journal garbage collector...")

	select {
	case <-done:
		logger.Info("Journal garbage collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Journal garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow runs one cycle synchronously and returns its statistics.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Debug("Running journal garbage collection (manual trigger)")
	return c.collect(ctx)
}

func (c *Collector) worker(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(c.config.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		cycleCtx, cancel := context.WithTimeout(ctx, cycleTimeout)
		stats, err := c.collect(cycleCtx)
		cancel()

		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			logger.Warn("Journal garbage collection failed: %v", err)
		default:
			logger.Debug("Journal garbage collection completed: %s", stats.Summary())
		}

		timer.Reset(c.config.Interval)
	}
}

// collect performs a single cycle.
//
// A snapshot failure aborts the cycle before anything is deleted. Stat and
// delete failures of single artifacts are logged and counted; the artifact
// is reconsidered next cycle.
func (c *Collector) collect(ctx context.Context) (stats *Stats, err error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	stats = &Stats{StartTime: time.Now(), DryRun: c.config.DryRun}
	defer func() {
		stats.EndTime = time.Now()
		c.metrics.RecordCycle(stats.Duration(), err)
	}()

	snap, err := c.source.Snapshot(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to snapshot journal: %w", err)
	}

	checkpointSeq := snap.CheckpointSequence()
	stats.CheckpointSequence = checkpointSeq

	// ========================================================================
	// Step 1: Checkpoints. Keep the newest, age out the one before it and
	// drop everything older.
	// ========================================================================

	cps := snap.Checkpoints
	for i := 0; i < len(cps)-1; i++ {
		if i < len(cps)-2 {
			err = c.delete(ctx, cps[i], stats)
		} else {
			err = c.maybeDelete(ctx, cps[i], checkpointSeq, stats)
		}
		if err != nil {
			return stats, err
		}
	}

	// ========================================================================
	// Step 2: Logs fully covered by the newest checkpoint
	// ========================================================================

	for _, f := range snap.Logs {
		if err = c.maybeDelete(ctx, f, checkpointSeq, stats); err != nil {
			return stats, err
		}
	}

	// ========================================================================
	// Step 3: Abandoned temporary checkpoints
	// ========================================================================

	for _, f := range snap.TemporaryCheckpoints {
		if err = c.maybeDelete(ctx, f, checkpointSeq, stats); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// maybeDelete deletes f if it is both covered by the newest checkpoint and
// old enough. Only a cancelled ctx is returned as an error.
func (c *Collector) maybeDelete(ctx context.Context, f journal.File, checkpointSeq uint64, stats *Stats) error {
	kind := f.Kind.String()

	if f.Kind != journal.KindTemporaryCheckpoint && f.End > checkpointSeq {
		stats.Retained++
		c.metrics.RecordRetained(kind, reasonNotCovered)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := c.store.Stat(ctx, f.Location)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if storage.IsNotFound(err) {
			logger.Debug("GC: %s disappeared before it could be inspected", f)
			return nil
		}
		logger.Warn("GC: failed to get the last modified time of %s: %v", f, err)
		stats.Failed++
		return nil
	}

	threshold := c.config.Threshold
	if f.Kind == journal.KindTemporaryCheckpoint {
		threshold = c.config.TemporaryThreshold
	}
	if c.config.Now().Sub(info.LastModified) <= threshold {
		stats.Retained++
		c.metrics.RecordRetained(kind, reasonTooYoung)
		return nil
	}

	return c.delete(ctx, f, stats)
}

// delete removes f. Only a cancelled ctx is returned as an error.
func (c *Collector) delete(ctx context.Context, f journal.File, stats *Stats) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - would delete %s", f)
		stats.countDeleted(f.Kind)
		return nil
	}

	err := c.store.Delete(ctx, f.Location)
	c.metrics.RecordDeletion(f.Kind.String(), err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("GC: failed to delete %s: %v", f, err)
		stats.Failed++
		return nil
	}

	logger.Debug("GC: deleted %s", f)
	stats.countDeleted(f.Kind)
	return nil
}

// Stats contains statistics from a garbage collection cycle.
type Stats struct {
	StartTime          time.Time // When the cycle started
	EndTime            time.Time // When the cycle ended
	CheckpointSequence uint64    // End of the newest checkpoint, 0 if none
	DeletedCheckpoints uint64    // Checkpoints deleted
	DeletedLogs        uint64    // Logs deleted
	DeletedTemporary   uint64    // Temporary checkpoints deleted
	Retained           uint64    // Artifacts still needed or too young
	Failed             uint64    // Artifacts whose stat or delete failed
	DryRun             bool      // Deletions were only logged
}

func (s *Stats) countDeleted(kind journal.FileKind) {
	switch kind {
	case journal.KindCheckpoint:
		s.DeletedCheckpoints++
	case journal.KindLog:
		s.DeletedLogs++
	case journal.KindTemporaryCheckpoint:
		s.DeletedTemporary++
	}
}

// Deleted returns the total number of deleted artifacts.
func (s *Stats) Deleted() uint64 {
	return s.DeletedCheckpoints + s.DeletedLogs + s.DeletedTemporary
}

// Duration returns the total cycle duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the cycle.
func (s *Stats) Summary() string {
	return fmt.Sprintf("checkpoint_seq=0x%x deleted_checkpoints=%d deleted_logs=%d deleted_temporary=%d retained=%d failed=%d dry_run=%v duration=%s",
		s.CheckpointSequence, s.DeletedCheckpoints, s.DeletedLogs, s.DeletedTemporary,
		s.Retained, s.Failed, s.DryRun, s.Duration())
}

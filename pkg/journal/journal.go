// Package journal implements the write-ahead journal of the DittoKV master.
//
// The journal lives in a storage.Store under a root prefix:
//
//	<root>/logs/0x<start>-0x<end>        sealed log with entries [start, end)
//	<root>/logs/0x<start>-0xffff...      the open log, rewritten on every flush
//	<root>/checkpoints/0x0-0x<end>       full state as of sequence end
//	<root>/.tmp/<uuid>                   checkpoint being written
//
// Recovery loads the newest checkpoint and replays the log entries that follow
// it. The garbage collector in pkg/gc removes artifacts made redundant by newer
// checkpoints.
package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/marmos91/dittokv/internal/logger"
	"github.com/marmos91/dittokv/pkg/metrics"
	"github.com/marmos91/dittokv/pkg/storage"
)

const (
	DefaultMaxLogEntries        = 10_000
	DefaultFlushRetries         = 3
	DefaultFlushRetryInterval   = 50 * time.Millisecond
	DefaultFlushRetryMaxBackoff = time.Second
)

// Config configures a Journal.
type Config struct {
	// Root is the key prefix of every journal artifact.
	Root string

	// MaxLogEntries seals the open log once it holds this many entries.
	MaxLogEntries int

	// CompressCheckpoints writes checkpoints zstd-compressed.
	CompressCheckpoints bool

	// FlushRetries is the number of retries of a failed storage write.
	FlushRetries uint64

	// FlushRetryInterval is the first backoff interval between retries.
	FlushRetryInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxLogEntries <= 0 {
		c.MaxLogEntries = DefaultMaxLogEntries
	}
	if c.FlushRetryInterval <= 0 {
		c.FlushRetryInterval = DefaultFlushRetryInterval
	}
}

// Journal is a single-writer write-ahead journal.
//
// Append assigns consecutive sequence numbers and buffers entries; Flush makes
// them durable. Writes are rejected until Replay has run once, so new entries
// always continue the recovered sequence.
//
// Thread safety: all methods are safe for concurrent use. Snapshot only reads
// storage and does not contend with writers.
type Journal struct {
	store   storage.Store
	layout  Layout
	cfg     Config
	metrics metrics.JournalMetrics

	mu                sync.Mutex
	replayed          bool
	closed            bool
	nextSeq           uint64
	logStart          uint64
	logBuf            bytes.Buffer
	logEntries        int
	pending           int
	lastCheckpointEnd uint64
}

// Open creates a Journal on store. Call Replay before appending.
func Open(store storage.Store, cfg Config, m metrics.JournalMetrics) *Journal {
	cfg.applyDefaults()
	if m == nil {
		m = metrics.NewNoopJournalMetrics()
	}
	return &Journal{
		store:   store,
		layout:  Layout{Root: cfg.Root},
		cfg:     cfg,
		metrics: m,
	}
}

// Layout returns the key layout of this journal.
func (j *Journal) Layout() Layout {
	return j.layout
}

// Snapshot lists the journal artifacts currently in storage.
//
// The listing is not atomic with respect to concurrent writers: an artifact
// written or deleted during the call may or may not appear. Keys under the
// root that do not follow the layout are ignored. Storage failures are
// returned as is and never retried.
func (j *Journal) Snapshot(ctx context.Context) (*Snapshot, error) {
	infos, err := j.store.List(ctx, j.layout.Prefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list journal: %w", err)
	}

	snap := &Snapshot{}
	for _, info := range infos {
		f, ok := j.layout.Parse(info.Key)
		if !ok {
			logger.Debug("Journal: ignoring unrecognized object %s", info.Key)
			continue
		}
		switch f.Kind {
		case KindCheckpoint:
			snap.Checkpoints = append(snap.Checkpoints, f)
		case KindLog:
			snap.Logs = append(snap.Logs, f)
		case KindTemporaryCheckpoint:
			snap.TemporaryCheckpoints = append(snap.TemporaryCheckpoints, f)
		}
	}
	sortFiles(snap.Checkpoints)
	sortFiles(snap.Logs)
	return snap, nil
}

// Replay recovers the journal and feeds every durable entry to apply in
// sequence order: first the newest checkpoint, then the log entries after it.
//
// Open logs left by a crash are sealed (or discarded when they duplicate a
// sealed log) before reading. A gap in sequence numbers or an undecodable
// record aborts with ErrCorrupted. An error returned by apply aborts replay
// and is returned wrapped.
func (j *Journal) Replay(ctx context.Context, apply ApplyFunc) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	if j.replayed {
		return ErrAlreadyReplayed
	}

	// ========================================================================
	// Step 1: Seal or discard open logs left by a previous process
	// ========================================================================

	snap, err := j.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := j.recoverOpenLogs(ctx, snap); err != nil {
		return err
	}
	if snap, err = j.Snapshot(ctx); err != nil {
		return err
	}

	// ========================================================================
	// Step 2: Load the newest checkpoint
	// ========================================================================

	var next uint64
	if cp, ok := snap.LatestCheckpoint(); ok {
		records, err := j.readFile(ctx, cp)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := apply(rec.Seq, rec.Entry); err != nil {
				return fmt.Errorf("failed to apply checkpoint entry %d of %s: %w", rec.Seq, cp, err)
			}
		}
		next = cp.End
		j.lastCheckpointEnd = cp.End
		logger.Info("Journal: loaded checkpoint %s (%d entries)", cp, len(records))
	}

	// ========================================================================
	// Step 3: Replay logs following the checkpoint
	// ========================================================================

	replayed := 0
	for _, lf := range snap.Logs {
		if lf.End <= next {
			continue
		}
		if lf.Start > next {
			return fmt.Errorf("%w: missing entries [0x%x, 0x%x) before %s", ErrCorrupted, next, lf.Start, lf)
		}

		records, err := j.readFile(ctx, lf)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.Seq < next {
				continue
			}
			if rec.Seq != next || rec.Seq >= lf.End {
				return fmt.Errorf("%w: %s holds sequence 0x%x, expected 0x%x", ErrCorrupted, lf, rec.Seq, next)
			}
			if err := apply(rec.Seq, rec.Entry); err != nil {
				return fmt.Errorf("failed to apply journal entry 0x%x: %w", rec.Seq, err)
			}
			next++
			replayed++
		}
		if next < lf.End {
			return fmt.Errorf("%w: %s ends at 0x%x, expected 0x%x", ErrCorrupted, lf, next, lf.End)
		}
	}

	j.nextSeq = next
	j.logStart = next
	j.replayed = true
	j.metrics.SetNextSequence(next)

	logger.Info("Journal: replayed %d log entries, next sequence 0x%x", replayed, next)
	return nil
}

// recoverOpenLogs turns every open log into a sealed one. An open log whose
// start matches a sealed log is a leftover from an interrupted seal and is
// deleted; so is an empty one.
func (j *Journal) recoverOpenLogs(ctx context.Context, snap *Snapshot) error {
	sealedStarts := make(map[uint64]bool)
	for _, lf := range snap.Logs {
		if !lf.Open() {
			sealedStarts[lf.Start] = true
		}
	}

	for _, lf := range snap.Logs {
		if !lf.Open() {
			continue
		}

		if sealedStarts[lf.Start] {
			logger.Info("Journal: discarding open log %s already sealed", lf)
			if err := j.store.Delete(ctx, lf.Location); err != nil {
				return fmt.Errorf("failed to discard open log %s: %w", lf, err)
			}
			continue
		}

		data, err := j.store.Get(ctx, lf.Location)
		if err != nil {
			return fmt.Errorf("failed to read open log %s: %w", lf, err)
		}
		records, err := DecodeRecords(data)
		if err != nil {
			return fmt.Errorf("open log %s: %w", lf, err)
		}

		if len(records) == 0 {
			if err := j.store.Delete(ctx, lf.Location); err != nil {
				return fmt.Errorf("failed to discard empty log %s: %w", lf, err)
			}
			continue
		}

		end := records[len(records)-1].Seq + 1
		sealed := j.layout.LogKey(lf.Start, end)
		if err := j.put(ctx, sealed, data); err != nil {
			return fmt.Errorf("failed to seal open log %s: %w", lf, err)
		}
		if err := j.store.Delete(ctx, lf.Location); err != nil {
			return fmt.Errorf("failed to remove sealed open log %s: %w", lf, err)
		}
		logger.Info("Journal: sealed open log %s as %s", lf, sealed)
	}
	return nil
}

func (j *Journal) readFile(ctx context.Context, f File) ([]Record, error) {
	data, err := j.store.Get(ctx, f.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f, err)
	}
	records, err := DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f, err)
	}
	return records, nil
}

// Append buffers entry under the next sequence number. The entry is durable
// only after a successful Flush.
//
// Append does no I/O and ignores ctx cancellation: once it returns nil the
// entry is part of the journal and is persisted by the next successful Flush.
func (j *Journal) Append(ctx context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writable(); err != nil {
		return err
	}

	if err := AppendRecord(&j.logBuf, j.nextSeq, entry); err != nil {
		return err
	}
	j.nextSeq++
	j.logEntries++
	j.pending++
	j.metrics.SetNextSequence(j.nextSeq)
	return nil
}

// Flush persists buffered entries by rewriting the open log, and seals the
// log once it reached MaxLogEntries.
//
// Buffered entries stay buffered on failure and are retried by the next Flush.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writable(); err != nil {
		return err
	}
	return j.flushLocked(ctx, false)
}

func (j *Journal) flushLocked(ctx context.Context, forceSeal bool) error {
	seal := j.logEntries > 0 && (forceSeal || j.logEntries >= j.cfg.MaxLogEntries)
	if j.pending == 0 && !seal {
		return nil
	}

	start := time.Now()
	openKey := j.layout.LogKey(j.logStart, UnknownSequence)

	if !seal {
		err := j.put(ctx, openKey, j.logBuf.Bytes())
		j.metrics.RecordFlush(j.pending, j.logBuf.Len(), time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to flush journal: %w", err)
		}
		j.pending = 0
		return nil
	}

	// A sealed log is written under its final name and the open log removed.
	// A crash between the two leaves a duplicate that Replay discards.
	sealedKey := j.layout.LogKey(j.logStart, j.nextSeq)
	err := j.put(ctx, sealedKey, j.logBuf.Bytes())
	j.metrics.RecordFlush(j.pending, j.logBuf.Len(), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to seal journal log: %w", err)
	}
	if err := j.store.Delete(ctx, openKey); err != nil {
		logger.Warn("Journal: failed to remove open log %s after sealing: %v", openKey, err)
	}

	logger.Debug("Journal: sealed log [0x%x, 0x%x)", j.logStart, j.nextSeq)
	j.metrics.RecordLogSealed()
	j.logStart = j.nextSeq
	j.logBuf.Reset()
	j.logEntries = 0
	j.pending = 0
	return nil
}

// WriteCheckpoint persists the entries produced by it as a checkpoint
// covering every sequence number assigned so far.
//
// The caller must guarantee that it reflects exactly the state after the last
// appended entry, i.e. no Append may happen while it is drained. Buffered
// entries are flushed and the open log is sealed first so the checkpoint ends
// on a log boundary. Nothing is written if no entry was appended since the
// last checkpoint.
func (j *Journal) WriteCheckpoint(ctx context.Context, it EntryIterator) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writable(); err != nil {
		return err
	}

	if err := j.flushLocked(ctx, true); err != nil {
		return err
	}

	end := j.nextSeq
	if end == j.lastCheckpointEnd {
		logger.Debug("Journal: no new entries since checkpoint 0x%x", end)
		return nil
	}

	start := time.Now()
	var buf bytes.Buffer
	count := 0
	for it.HasNext() {
		entry, err := it.Next()
		if err != nil {
			return fmt.Errorf("failed to produce checkpoint entry %d: %w", count, err)
		}
		if err := AppendRecord(&buf, uint64(count), entry); err != nil {
			return err
		}
		count++
	}

	data := buf.Bytes()
	if j.cfg.CompressCheckpoints {
		compressed, err := compress(data)
		if err != nil {
			return fmt.Errorf("failed to compress checkpoint: %w", err)
		}
		data = compressed
	}

	err := j.publishCheckpoint(ctx, end, data)
	j.metrics.RecordCheckpoint(count, len(data), time.Since(start), err)
	if err != nil {
		return err
	}

	j.lastCheckpointEnd = end
	logger.Info("Journal: wrote checkpoint 0x%x (%d entries, %d bytes)", end, count, len(data))
	return nil
}

// publishCheckpoint stages data as a temporary checkpoint, then publishes it
// under its final name. A crash in between leaves only the temporary object,
// which the collector removes once it is old enough.
func (j *Journal) publishCheckpoint(ctx context.Context, end uint64, data []byte) error {
	tmpKey := j.layout.TemporaryKey(uuid.NewString())
	if err := j.put(ctx, tmpKey, data); err != nil {
		return fmt.Errorf("failed to stage checkpoint: %w", err)
	}

	finalKey := j.layout.CheckpointKey(0, end)
	if err := j.put(ctx, finalKey, data); err != nil {
		return fmt.Errorf("failed to publish checkpoint: %w", err)
	}

	if err := j.store.Delete(ctx, tmpKey); err != nil {
		logger.Warn("Journal: failed to remove temporary checkpoint %s: %v", tmpKey, err)
	}
	return nil
}

// put writes an object, retrying transient failures with exponential backoff.
func (j *Journal) put(ctx context.Context, key string, data []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = j.cfg.FlushRetryInterval
	b.MaxInterval = DefaultFlushRetryMaxBackoff

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := j.store.Put(ctx, key, data)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, storage.ErrInvalidKey) || errors.Is(err, storage.ErrClosed) {
			return backoff.Permanent(err)
		}
		logger.Debug("Journal: write of %s failed (attempt %d): %v", key, attempt, err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, j.cfg.FlushRetries), ctx))
}

func (j *Journal) writable() error {
	if j.closed {
		return ErrClosed
	}
	if !j.replayed {
		return ErrNotReplayed
	}
	return nil
}

// NextSequence returns the sequence number the next Append will receive.
func (j *Journal) NextSequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextSeq
}

// Close flushes buffered entries and rejects further writes.
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	var err error
	if j.replayed {
		err = j.flushLocked(ctx, false)
	}
	j.closed = true
	return err
}

package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittokv/pkg/catalog"
	"github.com/marmos91/dittokv/pkg/journal"
	nsmemory "github.com/marmos91/dittokv/pkg/namespace/memory"
	"github.com/marmos91/dittokv/pkg/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock     *fakeClock
	store     *memory.Store
	layout    journal.Layout
	collector *Collector
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := newFakeClock()
	store := memory.New(memory.WithClock(clock.Now))
	source := journal.Open(store, journal.Config{Root: "journal"}, nil)

	cfg.Now = clock.Now
	if cfg.Threshold == 0 {
		cfg.Threshold = 5 * time.Minute
	}
	if cfg.TemporaryThreshold == 0 {
		cfg.TemporaryThreshold = 30 * time.Minute
	}
	collector, err := NewCollector(source, store, cfg, nil)
	require.NoError(t, err)

	return &fixture{clock: clock, store: store, layout: source.Layout(), collector: collector}
}

// put creates an artifact last modified age ago.
func (f *fixture) put(t *testing.T, key string, age time.Duration) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), key, []byte("x")))
	require.True(t, f.store.SetModTime(key, f.clock.Now().Add(-age)))
}

func (f *fixture) exists(t *testing.T, key string) bool {
	t.Helper()
	_, err := f.store.Stat(context.Background(), key)
	return err == nil
}

func TestLogRetentionBoundary(t *testing.T) {
	f := newFixture(t, Config{})
	old, young := time.Hour, time.Minute

	checkpoint := f.layout.CheckpointKey(0, 200)
	covered := f.layout.LogKey(0, 50)
	recent := f.layout.LogKey(150, 200)
	bridging := f.layout.LogKey(150, 250)
	open := f.layout.LogKey(250, journal.UnknownSequence)

	f.put(t, checkpoint, young)
	f.put(t, covered, old)
	f.put(t, recent, young)
	f.put(t, bridging, 100*old)
	f.put(t, open, 100*old)

	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(200), stats.CheckpointSequence)
	assert.Equal(t, uint64(1), stats.DeletedLogs)
	assert.False(t, f.exists(t, covered))
	assert.True(t, f.exists(t, recent), "young covered log must be retained")
	assert.True(t, f.exists(t, bridging), "log past the checkpoint must never be deleted")
	assert.True(t, f.exists(t, open))
	assert.True(t, f.exists(t, checkpoint))

	// Once old enough the covered log goes too.
	f.clock.Advance(time.Hour)
	_, err = f.collector.RunNow(context.Background())
	require.NoError(t, err)
	assert.False(t, f.exists(t, recent))
	assert.True(t, f.exists(t, bridging))
}

func TestCheckpointCountBound(t *testing.T) {
	f := newFixture(t, Config{})

	ends := []uint64{100, 200, 300, 400}
	for _, end := range ends {
		f.put(t, f.layout.CheckpointKey(0, end), time.Second)
	}

	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.DeletedCheckpoints)

	assert.False(t, f.exists(t, f.layout.CheckpointKey(0, 100)))
	assert.False(t, f.exists(t, f.layout.CheckpointKey(0, 200)))
	assert.True(t, f.exists(t, f.layout.CheckpointKey(0, 300)), "second newest is kept while young")
	assert.True(t, f.exists(t, f.layout.CheckpointKey(0, 400)))

	f.clock.Advance(time.Hour)
	stats, err = f.collector.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.DeletedCheckpoints)
	assert.False(t, f.exists(t, f.layout.CheckpointKey(0, 300)))
	assert.True(t, f.exists(t, f.layout.CheckpointKey(0, 400)), "newest checkpoint is never deleted")

	f.clock.Advance(24 * time.Hour)
	stats, err = f.collector.RunNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Deleted())
	assert.True(t, f.exists(t, f.layout.CheckpointKey(0, 400)))
}

func TestLogsKeptWithoutCheckpoint(t *testing.T) {
	f := newFixture(t, Config{})
	f.put(t, f.layout.LogKey(0, 10), 24*time.Hour)

	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.CheckpointSequence)
	assert.Zero(t, stats.Deleted())
	assert.Equal(t, uint64(1), stats.Retained)
}

func TestTemporaryCheckpoints(t *testing.T) {
	f := newFixture(t, Config{})

	abandoned := f.layout.TemporaryKey("abandoned")
	inProgress := f.layout.TemporaryKey("in-progress")
	f.put(t, abandoned, time.Hour)
	f.put(t, inProgress, 10*time.Minute)

	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.DeletedTemporary)
	assert.False(t, f.exists(t, abandoned))
	assert.True(t, f.exists(t, inProgress), "temporary threshold is separate from the log threshold")
}

func TestStatFailureIsSkipped(t *testing.T) {
	f := newFixture(t, Config{})
	f.put(t, f.layout.CheckpointKey(0, 100), time.Hour)
	f.put(t, f.layout.LogKey(0, 100), time.Hour)

	f.store.FailOperation("stat", errors.New("unavailable"))
	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.True(t, f.exists(t, f.layout.LogKey(0, 100)))

	f.store.FailOperation("stat", nil)
	stats, err = f.collector.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.DeletedLogs)
}

func TestDeleteFailureContinues(t *testing.T) {
	f := newFixture(t, Config{})
	f.put(t, f.layout.CheckpointKey(0, 100), time.Hour)
	f.put(t, f.layout.LogKey(0, 50), time.Hour)
	f.put(t, f.layout.LogKey(50, 100), time.Hour)

	f.store.FailOperation("delete", errors.New("permission denied"))
	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Zero(t, stats.Deleted())
}

func TestSnapshotFailureAbortsCycle(t *testing.T) {
	f := newFixture(t, Config{})
	f.put(t, f.layout.TemporaryKey("tmp"), 24*time.Hour)

	f.store.FailOperation("list", errors.New("unreachable"))
	_, err := f.collector.RunNow(context.Background())
	require.Error(t, err)
	assert.True(t, f.exists(t, f.layout.TemporaryKey("tmp")))
}

func TestCancelledCycleDeletesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	f.put(t, f.layout.TemporaryKey("tmp"), 24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.collector.RunNow(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.exists(t, f.layout.TemporaryKey("tmp")))
}

func TestDryRun(t *testing.T) {
	f := newFixture(t, Config{DryRun: true})
	f.put(t, f.layout.CheckpointKey(0, 100), time.Hour)
	f.put(t, f.layout.LogKey(0, 100), time.Hour)

	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.DryRun)
	assert.Equal(t, uint64(1), stats.DeletedLogs)
	assert.True(t, f.exists(t, f.layout.LogKey(0, 100)))
	assert.Contains(t, stats.Summary(), "deleted_logs=1")
}

func TestBackgroundWorker(t *testing.T) {
	f := newFixture(t, Config{
		Enabled:      true,
		InitialDelay: 5 * time.Millisecond,
		Interval:     5 * time.Millisecond,
	})
	f.collector.Start()
	f.collector.Start()

	key := f.layout.TemporaryKey("late")
	f.put(t, key, time.Hour)

	require.Eventually(t, func() bool { return !f.exists(t, key) }, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.collector.Stop(ctx))
	require.NoError(t, f.collector.Stop(ctx))
}

func TestDisabledCollector(t *testing.T) {
	f := newFixture(t, Config{Enabled: false})
	f.collector.Start()
	assert.NoError(t, f.collector.Stop(context.Background()))
}

func TestNewCollectorValidation(t *testing.T) {
	store := memory.New()
	source := journal.Open(store, journal.Config{}, nil)

	_, err := NewCollector(nil, store, Config{}, nil)
	assert.Error(t, err)
	_, err = NewCollector(source, nil, Config{}, nil)
	assert.Error(t, err)

	c, err := NewCollector(source, store, Config{}, nil)
	require.NoError(t, err)
	cfg := c.Config()
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, DefaultInitialDelay, cfg.InitialDelay)
	assert.Equal(t, DefaultThreshold, cfg.Threshold)
	assert.Equal(t, DefaultTemporaryThreshold, cfg.TemporaryThreshold)
}

// copyStore clones every object so a recovery check never touches the live
// journal.
func copyStore(t *testing.T, src *memory.Store) *memory.Store {
	t.Helper()
	ctx := context.Background()
	dst := memory.New()
	infos, err := src.List(ctx, "")
	require.NoError(t, err)
	for _, info := range infos {
		data, err := src.Get(ctx, info.Key)
		require.NoError(t, err)
		require.NoError(t, dst.Put(ctx, info.Key, data))
	}
	return dst
}

// TestRecoveryAfterCollection interleaves catalog operations, checkpoints
// and aggressive collection cycles, and checks after every cycle that the
// remaining artifacts still recover the live state.
func TestRecoveryAfterCollection(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.New(memory.WithClock(clock.Now))
	ns := nsmemory.New()

	cfg := journal.Config{Root: "journal", MaxLogEntries: 3}
	j := journal.Open(store, cfg, nil)
	live := catalog.New(ns, j)
	require.NoError(t, live.Recover(ctx))

	collector, err := NewCollector(j, store, Config{
		Threshold:          time.Minute,
		TemporaryThreshold: time.Minute,
		Now:                clock.Now,
	}, nil)
	require.NoError(t, err)

	for round := 0; round < 6; round++ {
		path := fmt.Sprintf("/r%d", round)
		require.NoError(t, live.CreateStore(ctx, path))
		require.NoError(t, live.CompletePartition(ctx, path, journal.PartitionInfo{
			KeyStart: []byte{byte(round)},
			KeyLimit: []byte{byte(round + 1)},
			BlockID:  uint64(round),
		}))
		if round%2 == 0 {
			require.NoError(t, live.CompleteStore(ctx, path))
		}
		if round > 1 && round%2 == 0 {
			require.NoError(t, live.DeleteStore(ctx, fmt.Sprintf("/r%d", round-2)))
		}
		if round%3 == 1 {
			require.NoError(t, live.Checkpoint(ctx))
		}

		clock.Advance(2 * time.Minute)
		_, err := collector.RunNow(ctx)
		require.NoError(t, err)

		snap, err := j.Snapshot(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(snap.Checkpoints), 2)

		recovered := catalog.New(ns, journal.Open(copyStore(t, store), cfg, nil))
		require.NoError(t, recovered.Recover(ctx), "round %d", round)
		assert.Empty(t, cmp.Diff(live.State(), recovered.State(), cmpopts.EquateEmpty()), "round %d", round)
	}
}

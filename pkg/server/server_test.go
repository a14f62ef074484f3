package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittokv/pkg/config"
	"github.com/marmos91/dittokv/pkg/journal"
	"github.com/marmos91/dittokv/pkg/namespace"
	nsmemory "github.com/marmos91/dittokv/pkg/namespace/memory"
	"github.com/marmos91/dittokv/pkg/storage"
	"github.com/marmos91/dittokv/pkg/storage/memory"
)

// keepOpen lets a test reopen the storage after a master closed it.
type keepOpen struct {
	storage.Store
}

func (keepOpen) Close() error { return nil }

func newMaster(t *testing.T, store storage.Store, ns namespace.Service) *Master {
	t.Helper()
	m, err := New(Options{
		Storage:            keepOpen{store},
		Namespace:          ns,
		Journal:            journal.Config{Root: "journal", MaxLogEntries: 4},
		CheckpointInterval: 10 * time.Millisecond,
		ShutdownTimeout:    5 * time.Second,
	})
	require.NoError(t, err)
	return m
}

// serve runs m in the background and returns a stop function returning the
// Serve result.
func serve(t *testing.T, m *Master) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("master did not stop")
			return nil
		}
	}
}

func waitReady(t *testing.T, m *Master) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Ready() == nil }, 5*time.Second, 5*time.Millisecond)
}

func TestServeLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ns := nsmemory.New()

	m := newMaster(t, store, ns)
	assert.ErrorIs(t, m.Ready(), ErrNotReady)

	stop := serve(t, m)
	waitReady(t, m)

	cat := m.Catalog()
	part := journal.PartitionInfo{KeyStart: []byte("a"), KeyLimit: []byte("z"), BlockID: 7, KeyCount: 3}
	require.NoError(t, cat.CreateStore(ctx, "/db/users"))
	require.NoError(t, cat.CompletePartition(ctx, "/db/users", part))
	require.NoError(t, cat.CompleteStore(ctx, "/db/users"))
	require.NoError(t, cat.CreateStore(ctx, "/db/pending"))

	require.Eventually(t, func() bool {
		infos, err := store.List(ctx, "journal/checkpoints/")
		return err == nil && len(infos) > 0
	}, 5*time.Second, 5*time.Millisecond, "periodic checkpoint never written")

	assert.ErrorIs(t, stop(), context.Canceled)
	assert.ErrorIs(t, m.Ready(), ErrNotReady)

	// A second master over the same journal recovers the same catalog.
	reopened := newMaster(t, store, ns)
	stop = serve(t, reopened)
	waitReady(t, reopened)

	parts, err := reopened.Catalog().GetPartitionInfo(ctx, "/db/users")
	require.NoError(t, err)
	assert.Equal(t, []journal.PartitionInfo{part}, parts)
	assert.Equal(t, m.Catalog().State(), reopened.Catalog().State())

	assert.ErrorIs(t, stop(), context.Canceled)
}

func TestServeWritesFinalCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	m, err := New(Options{
		Storage:            keepOpen{store},
		Namespace:          nsmemory.New(),
		Journal:            journal.Config{Root: "journal"},
		CheckpointInterval: time.Hour,
	})
	require.NoError(t, err)

	stop := serve(t, m)
	waitReady(t, m)
	require.NoError(t, m.Catalog().CreateStore(ctx, "/s"))
	require.NoError(t, stop())

	snap, err := journal.Open(store, journal.Config{Root: "journal"}, nil).Snapshot(ctx)
	require.NoError(t, err)
	latest, ok := snap.LatestCheckpoint()
	require.True(t, ok, "no checkpoint written on shutdown")
	assert.Equal(t, uint64(1), latest.End)
}

func TestServeRecoveryFailure(t *testing.T) {
	store := memory.New()
	layout := journal.Layout{Root: "journal"}
	require.NoError(t, store.Put(context.Background(), layout.LogKey(0, 2), []byte("not a journal")))

	m := newMaster(t, store, nsmemory.New())
	err := m.Serve(context.Background())
	assert.ErrorIs(t, err, journal.ErrCorrupted)
	assert.ErrorIs(t, m.Ready(), ErrNotReady)
}

func TestServeOnlyOnce(t *testing.T) {
	m := newMaster(t, memory.New(), nsmemory.New())
	stop := serve(t, m)
	waitReady(t, m)

	assert.Error(t, m.Serve(context.Background()))
	assert.ErrorIs(t, stop(), context.Canceled)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{Namespace: nsmemory.New()})
	assert.Error(t, err)

	_, err = New(Options{Storage: memory.New()})
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Storage.Type = "memory"
	cfg.GC.Enabled = false

	m, err := FromConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, m.Collector().Config().Enabled)

	stop := serve(t, m)
	waitReady(t, m)
	require.NoError(t, m.Catalog().CreateStore(context.Background(), "/from/config"))
	assert.ErrorIs(t, stop(), context.Canceled)
}

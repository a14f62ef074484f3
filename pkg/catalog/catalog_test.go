package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittokv/pkg/journal"
	"github.com/marmos91/dittokv/pkg/namespace"
	nsmemory "github.com/marmos91/dittokv/pkg/namespace/memory"
	"github.com/marmos91/dittokv/pkg/storage/memory"
)

type fixture struct {
	catalog *Catalog
	journal *journal.Journal
	storage *memory.Store
	ns      namespace.Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{storage: memory.New(), ns: nsmemory.New()}
	f.reopen(t, opts...)
	return f
}

// reopen simulates a restart: a fresh journal and catalog recovered from the
// same storage and namespace.
func (f *fixture) reopen(t *testing.T, opts ...Option) {
	t.Helper()
	f.journal = journal.Open(f.storage, journal.Config{Root: "journal", MaxLogEntries: 4}, nil)
	f.catalog = New(f.ns, f.journal, opts...)
	require.NoError(t, f.catalog.Recover(context.Background()))
}

func partition(start, limit string, block uint64) journal.PartitionInfo {
	return journal.PartitionInfo{
		KeyStart: []byte(start),
		KeyLimit: []byte(limit),
		BlockID:  block,
		KeyCount: block * 10,
	}
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	got, ok := CodeOf(err)
	require.True(t, ok, "expected a *StoreError, got %T: %v", err, err)
	assert.Equal(t, code, got, "unexpected code for %v", err)
}

func (f *fixture) createComplete(t *testing.T, path string, parts ...journal.PartitionInfo) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.catalog.CreateStore(ctx, path))
	for _, p := range parts {
		require.NoError(t, f.catalog.CompletePartition(ctx, path, p))
	}
	require.NoError(t, f.catalog.CompleteStore(ctx, path))
}

func assertExclusive(t *testing.T, st State) {
	t.Helper()
	for id := range st.Incomplete {
		_, dup := st.Complete[id]
		assert.False(t, dup, "store %d is both incomplete and complete", id)
	}
}

var equateEmpty = cmpopts.EquateEmpty()

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := partition("a", "m", 1)
	b := partition("m", "z", 2)
	f.createComplete(t, "/kv/p", a, b)

	parts, err := f.catalog.GetPartitionInfo(ctx, "/kv/p")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]journal.PartitionInfo{a, b}, parts, equateEmpty))
}

func TestCompletePartitionCopiesInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	info := partition("a", "b", 7)
	require.NoError(t, f.catalog.CreateStore(ctx, "/s"))
	require.NoError(t, f.catalog.CompletePartition(ctx, "/s", info))
	info.KeyStart[0] = 'X'
	require.NoError(t, f.catalog.CompleteStore(ctx, "/s"))

	parts, err := f.catalog.GetPartitionInfo(ctx, "/s")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, []byte("a"), parts[0].KeyStart)

	parts[0].KeyLimit[0] = 'Y'
	again, err := f.catalog.GetPartitionInfo(ctx, "/s")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), again[0].KeyLimit, "returned partitions must not alias catalog state")
}

func TestGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("delete never created", func(t *testing.T) {
		requireCode(t, f.catalog.DeleteStore(ctx, "/never"), ErrNotFound)
	})

	t.Run("delete incomplete", func(t *testing.T) {
		require.NoError(t, f.catalog.CreateStore(ctx, "/inc"))
		requireCode(t, f.catalog.DeleteStore(ctx, "/inc"), ErrInvalidState)

		_, err := f.ns.Resolve(ctx, "/inc")
		assert.NoError(t, err, "failed delete must keep the directory")
	})

	t.Run("create twice", func(t *testing.T) {
		requireCode(t, f.catalog.CreateStore(ctx, "/inc"), ErrAlreadyExists)
	})

	t.Run("create over plain directory", func(t *testing.T) {
		_, err := f.ns.CreateDirectory(ctx, "/plain", false)
		require.NoError(t, err)
		requireCode(t, f.catalog.CreateStore(ctx, "/plain"), ErrAlreadyExists)
	})

	t.Run("partition on unknown path", func(t *testing.T) {
		requireCode(t, f.catalog.CompletePartition(ctx, "/nope", partition("a", "b", 1)), ErrNotFound)
	})

	t.Run("partition on non-store directory", func(t *testing.T) {
		requireCode(t, f.catalog.CompletePartition(ctx, "/plain", partition("a", "b", 1)), ErrInvalidState)
	})

	t.Run("complete twice", func(t *testing.T) {
		require.NoError(t, f.catalog.CompleteStore(ctx, "/inc"))
		requireCode(t, f.catalog.CompleteStore(ctx, "/inc"), ErrInvalidState)
		requireCode(t, f.catalog.CompletePartition(ctx, "/inc", partition("a", "b", 1)), ErrInvalidState)
	})

	t.Run("invalid path", func(t *testing.T) {
		requireCode(t, f.catalog.CreateStore(ctx, "relative"), ErrInvalidArgument)
	})
}

func TestDeleteStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.createComplete(t, "/d", partition("a", "z", 1))
	require.NoError(t, f.catalog.DeleteStore(ctx, "/d"))

	_, err := f.ns.Resolve(ctx, "/d")
	assert.True(t, namespace.IsNotFound(err))
	assert.Equal(t, Stats{}, f.catalog.Stats())

	requireCode(t, f.catalog.DeleteStore(ctx, "/d"), ErrNotFound)
}

func TestMergeStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithSuffixGenerator(func() string { return "fixed" }))

	x := partition("a", "f", 1)
	y := partition("f", "k", 2)
	f.createComplete(t, "/to", x)
	f.createComplete(t, "/from", y)

	require.NoError(t, f.catalog.MergeStore(ctx, "/from", "/to"))

	parts, err := f.catalog.GetPartitionInfo(ctx, "/to")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]journal.PartitionInfo{x, y}, parts, equateEmpty))

	parts, err = f.catalog.GetPartitionInfo(ctx, "/from")
	require.NoError(t, err)
	assert.Empty(t, parts)

	_, err = f.ns.Resolve(ctx, "/to/from-fixed")
	assert.NoError(t, err, "merged directory must move below the target")

	assert.Equal(t, Stats{CompleteStores: 1}, f.catalog.Stats())
}

func TestMergeStoreGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.createComplete(t, "/a", partition("a", "b", 1))
	require.NoError(t, f.catalog.CreateStore(ctx, "/b"))

	requireCode(t, f.catalog.MergeStore(ctx, "/a", "/a"), ErrInvalidState)
	requireCode(t, f.catalog.MergeStore(ctx, "/b", "/a"), ErrInvalidState)
	requireCode(t, f.catalog.MergeStore(ctx, "/a", "/b"), ErrInvalidState)
	requireCode(t, f.catalog.MergeStore(ctx, "/missing", "/a"), ErrNotFound)

	_, err := f.ns.Resolve(ctx, "/a")
	assert.NoError(t, err)
}

func TestRenameStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := partition("a", "z", 3)
	f.createComplete(t, "/old", p)

	require.NoError(t, f.catalog.RenameStore(ctx, "/old", "/new"))

	parts, err := f.catalog.GetPartitionInfo(ctx, "/new")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]journal.PartitionInfo{p}, parts, equateEmpty))

	_, err = f.ns.Resolve(ctx, "/old")
	assert.True(t, namespace.IsNotFound(err), "old path must no longer resolve")

	parts, err = f.catalog.GetPartitionInfo(ctx, "/old")
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestRenameStoreGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.createComplete(t, "/a")
	f.createComplete(t, "/b")
	require.NoError(t, f.catalog.CreateStore(ctx, "/inc"))

	err := f.catalog.RenameStore(ctx, "/a", "/b")
	requireCode(t, err, ErrAlreadyExists)
	assert.Contains(t, err.Error(), "/b")

	requireCode(t, f.catalog.RenameStore(ctx, "/inc", "/x"), ErrInvalidState)
	requireCode(t, f.catalog.RenameStore(ctx, "/missing", "/x"), ErrNotFound)
	requireCode(t, f.catalog.RenameStore(ctx, "/a", "/no/parent"), ErrNotFound)
}

func TestStrictLookups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithStrictLookups(true))

	_, err := f.catalog.GetPartitionInfo(ctx, "/unknown")
	requireCode(t, err, ErrNotFound)

	require.NoError(t, f.catalog.CreateStore(ctx, "/inc"))
	parts, err := f.catalog.GetPartitionInfo(ctx, "/inc")
	require.NoError(t, err)
	assert.Empty(t, parts, "incomplete stores have no visible partitions")
}

func TestNotRecovered(t *testing.T) {
	j := journal.Open(memory.New(), journal.Config{}, nil)
	c := New(nsmemory.New(), j)

	requireCode(t, c.CreateStore(context.Background(), "/s"), ErrInvalidState)
	requireCode(t, c.Checkpoint(context.Background()), ErrInvalidState)
}

// runWorkload drives a mix of every operation and returns the number of
// steps.
func runWorkload(t *testing.T, c *Catalog, round int) {
	t.Helper()
	ctx := context.Background()
	prefix := fmt.Sprintf("/w%d", round)

	for i := 0; i < 4; i++ {
		path := fmt.Sprintf("%s/s%d", prefix, i)
		require.NoError(t, c.CreateStore(ctx, path))
		for p := 0; p <= i; p++ {
			require.NoError(t, c.CompletePartition(ctx, path, partition(fmt.Sprint(p), fmt.Sprint(p+1), uint64(100*round+10*i+p))))
		}
		if i < 3 {
			require.NoError(t, c.CompleteStore(ctx, path))
		}
	}
	require.NoError(t, c.MergeStore(ctx, prefix+"/s1", prefix+"/s0"))
	require.NoError(t, c.RenameStore(ctx, prefix+"/s2", prefix+"/renamed"))
	require.NoError(t, c.CreateStore(ctx, prefix+"/gone"))
	require.NoError(t, c.CompleteStore(ctx, prefix+"/gone"))
	require.NoError(t, c.DeleteStore(ctx, prefix+"/gone"))
}

func TestReplayFidelity(t *testing.T) {
	f := newFixture(t)

	runWorkload(t, f.catalog, 1)
	runWorkload(t, f.catalog, 2)
	before := f.catalog.State()
	assertExclusive(t, before)

	f.reopen(t)
	after := f.catalog.State()

	assert.Empty(t, cmp.Diff(before, after, equateEmpty))
	assertExclusive(t, after)
}

func TestReplayFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	runWorkload(t, f.catalog, 1)
	require.NoError(t, f.catalog.Checkpoint(ctx))

	// /w1/s3 was incomplete at checkpoint time: it must stay completable.
	require.NoError(t, f.catalog.CompletePartition(ctx, "/w1/s3", partition("x", "y", 999)))
	require.NoError(t, f.catalog.CompleteStore(ctx, "/w1/s3"))
	runWorkload(t, f.catalog, 2)
	before := f.catalog.State()

	f.reopen(t)
	assert.Empty(t, cmp.Diff(before, f.catalog.State(), equateEmpty))

	// A checkpoint right after recovery must also round-trip.
	require.NoError(t, f.catalog.CompletePartition(ctx, "/w2/s3", partition("q", "r", 5)))
	require.NoError(t, f.catalog.Checkpoint(ctx))
	before = f.catalog.State()

	f.reopen(t)
	assert.Empty(t, cmp.Diff(before, f.catalog.State(), equateEmpty))
	assertExclusive(t, f.catalog.State())
}

func TestRecoverRejectsInvalidJournal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	j := journal.Open(store, journal.Config{Root: "journal"}, nil)
	require.NoError(t, j.Replay(ctx, func(uint64, journal.Entry) error { return nil }))
	require.NoError(t, j.Append(ctx, journal.CreateStore{StoreID: 5}))
	require.NoError(t, j.Append(ctx, journal.DeleteStore{StoreID: 5}))
	require.NoError(t, j.Flush(ctx))

	c := New(nsmemory.New(), journal.Open(store, journal.Config{Root: "journal"}, nil))
	err := c.Recover(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, journal.ErrCorrupted)

	requireCode(t, c.CreateStore(ctx, "/s"), ErrInvalidState)
}

func TestJournalFailureIsIOError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.storage.FailOperation("put", errors.New("disk on fire"))
	requireCode(t, f.catalog.CreateStore(ctx, "/s"), ErrIOError)

	f.storage.FailOperation("put", nil)
	require.NoError(t, f.catalog.CompleteStore(ctx, "/s"))
	before := f.catalog.State()

	f.reopen(t)
	assert.Empty(t, cmp.Diff(before, f.catalog.State(), equateEmpty),
		"the entry buffered during the outage is persisted by the next flush")
}

type failingNamespace struct {
	namespace.Service
	deleteErr error
	renameErr error
}

func (n *failingNamespace) Delete(ctx context.Context, path string, recursive bool) error {
	if n.deleteErr != nil {
		return n.deleteErr
	}
	return n.Service.Delete(ctx, path, recursive)
}

func (n *failingNamespace) Rename(ctx context.Context, oldPath, newPath string) error {
	if n.renameErr != nil {
		return n.renameErr
	}
	return n.Service.Rename(ctx, oldPath, newPath)
}

func TestNamespaceFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	ns := &failingNamespace{Service: nsmemory.New()}
	f := &fixture{storage: memory.New(), ns: ns}
	f.reopen(t)

	f.createComplete(t, "/a", partition("a", "b", 1))
	f.createComplete(t, "/b", partition("b", "c", 2))
	before := f.catalog.State()
	next := f.journal.NextSequence()

	ns.deleteErr = namespace.NewError(namespace.ErrIOError, "delete", "/a", errors.New("backend down"))
	requireCode(t, f.catalog.DeleteStore(ctx, "/a"), ErrIOError)

	ns.renameErr = namespace.NewError(namespace.ErrIOError, "rename", "/a", errors.New("backend down"))
	requireCode(t, f.catalog.RenameStore(ctx, "/a", "/c"), ErrIOError)
	requireCode(t, f.catalog.MergeStore(ctx, "/a", "/b"), ErrIOError)

	assert.Empty(t, cmp.Diff(before, f.catalog.State(), equateEmpty))
	assert.Equal(t, next, f.journal.NextSequence(), "no entry may be journaled")
}

// cancelAfterResolve cancels the operation context once a path was resolved,
// between the precondition checks and the journal append.
type cancelAfterResolve struct {
	namespace.Service
	cancel context.CancelFunc
}

func (n *cancelAfterResolve) Resolve(ctx context.Context, path string) (namespace.ID, error) {
	id, err := n.Service.Resolve(ctx, path)
	if n.cancel != nil {
		n.cancel()
	}
	return id, err
}

func TestCancelledCommitKeepsJournalInSync(t *testing.T) {
	ctx := context.Background()
	ns := &cancelAfterResolve{Service: nsmemory.New()}
	f := &fixture{storage: memory.New(), ns: ns}
	f.reopen(t)

	require.NoError(t, f.catalog.CreateStore(ctx, "/s"))

	cctx, cancel := context.WithCancel(ctx)
	ns.cancel = cancel
	requireCode(t, f.catalog.CompleteStore(cctx, "/s"), ErrIOError)
	ns.cancel = nil

	// The entry is buffered, so the transition is live and journaled.
	id, err := ns.Resolve(ctx, "/s")
	require.NoError(t, err)
	assert.Contains(t, f.catalog.State().Complete, uint64(id))

	require.NoError(t, f.catalog.DeleteStore(ctx, "/s"))
	require.NoError(t, f.catalog.CreateStore(ctx, "/t"))
	before := f.catalog.State()

	f.reopen(t)
	assert.Empty(t, cmp.Diff(before, f.catalog.State(), equateEmpty))
}

func TestAppendFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.catalog.CreateStore(ctx, "/s"))
	before := f.catalog.State()
	require.NoError(t, f.journal.Close(ctx))

	err := f.catalog.CompleteStore(ctx, "/s")
	requireCode(t, err, ErrIOError)
	assert.ErrorIs(t, err, journal.ErrClosed)
	assert.Empty(t, cmp.Diff(before, f.catalog.State(), equateEmpty))

	f.reopen(t)
	assert.Empty(t, cmp.Diff(before, f.catalog.State(), equateEmpty))
}

func TestCheckpointIterator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.catalog.CreateStore(ctx, "/complete"))
	require.NoError(t, f.catalog.CompletePartition(ctx, "/complete", partition("a", "b", 1)))
	require.NoError(t, f.catalog.CompletePartition(ctx, "/complete", partition("b", "c", 2)))
	require.NoError(t, f.catalog.CompleteStore(ctx, "/complete"))
	require.NoError(t, f.catalog.CreateStore(ctx, "/incomplete"))
	require.NoError(t, f.catalog.CompletePartition(ctx, "/incomplete", partition("c", "d", 3)))
	require.NoError(t, f.catalog.CreateStore(ctx, "/empty"))

	completeID, err := f.ns.Resolve(ctx, "/complete")
	require.NoError(t, err)
	incompleteID, err := f.ns.Resolve(ctx, "/incomplete")
	require.NoError(t, err)
	emptyID, err := f.ns.Resolve(ctx, "/empty")
	require.NoError(t, err)

	it := f.catalog.JournalEntryIterator()
	var got []journal.Entry
	for it.HasNext() {
		e, err := it.Next()
		require.NoError(t, err)
		got = append(got, e)
	}
	assert.False(t, it.HasNext())
	_, err = it.Next()
	assert.ErrorIs(t, err, journal.ErrIteratorExhausted)

	want := []journal.Entry{
		journal.CreateStore{StoreID: uint64(completeID)},
		journal.CompletePartition{StoreID: uint64(completeID), Info: partition("a", "b", 1)},
		journal.CompletePartition{StoreID: uint64(completeID), Info: partition("b", "c", 2)},
		journal.CompleteStore{StoreID: uint64(completeID)},
		journal.CreateStore{StoreID: uint64(incompleteID)},
		journal.CompletePartition{StoreID: uint64(incompleteID), Info: partition("c", "d", 3)},
		journal.CreateStore{StoreID: uint64(emptyID)},
	}
	assert.Empty(t, cmp.Diff(want, got, equateEmpty))
}

func TestCheckpointIteratorEmpty(t *testing.T) {
	f := newFixture(t)

	it := f.catalog.JournalEntryIterator()
	assert.False(t, it.HasNext())
	_, err := it.Next()
	assert.ErrorIs(t, err, journal.ErrIteratorExhausted)
}

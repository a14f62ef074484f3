// Package testing provides a conformance suite for storage.Store backends.
package testing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittokv/pkg/storage"
)

// StoreTestSuite checks the storage.Store contract, not implementation details.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storagetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) storage.Store { return mystore.New() },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) storage.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("PutOverwrites", suite.testPutOverwrites)
	t.Run("GetMissing", suite.testGetMissing)
	t.Run("Stat", suite.testStat)
	t.Run("DeleteIsIdempotent", suite.testDeleteIsIdempotent)
	t.Run("ListByPrefix", suite.testListByPrefix)
	t.Run("CancelledContext", suite.testCancelledContext)
}

func (suite *StoreTestSuite) store(t *testing.T) storage.Store {
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, "journal/logs/0x0-0x10", []byte("payload")))

	data, err := s.Get(ctx, "journal/logs/0x0-0x10")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func (suite *StoreTestSuite) testPutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, "a/key", []byte("first")))
	require.NoError(t, s.Put(ctx, "a/key", []byte("second, longer")))

	data, err := s.Get(ctx, "a/key")
	require.NoError(t, err)
	assert.Equal(t, []byte("second, longer"), data)
}

func (suite *StoreTestSuite) testGetMissing(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	_, err := s.Get(ctx, "missing/key")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err), "expected not found, got %v", err)

	_, err = s.Stat(ctx, "missing/key")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err), "expected not found, got %v", err)
}

func (suite *StoreTestSuite) testStat(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, "dir/object", []byte("12345")))

	info, err := s.Stat(ctx, "dir/object")
	require.NoError(t, err)
	assert.Equal(t, "dir/object", info.Key)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.LastModified.IsZero())
}

func (suite *StoreTestSuite) testDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, "x/y", []byte("z")))
	require.NoError(t, s.Delete(ctx, "x/y"))
	require.NoError(t, s.Delete(ctx, "x/y"))

	_, err := s.Get(ctx, "x/y")
	assert.True(t, storage.IsNotFound(err))
}

func (suite *StoreTestSuite) testListByPrefix(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("root/logs/%d", i), []byte{byte(i)}))
	}
	require.NoError(t, s.Put(ctx, "root/checkpoints/0", []byte("cp")))
	require.NoError(t, s.Put(ctx, "other/logs/0", []byte("other")))

	logs, err := s.List(ctx, "root/logs/")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for i, info := range logs {
		assert.Equal(t, fmt.Sprintf("root/logs/%d", i), info.Key)
		assert.Equal(t, int64(1), info.Size)
	}

	all, err := s.List(ctx, "root/")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.List(ctx, "absent/")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	s := suite.store(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Put(ctx, "k", []byte("v")))
	_, err := s.Get(ctx, "k")
	assert.Error(t, err)
	_, err = s.List(ctx, "")
	assert.Error(t, err)
}

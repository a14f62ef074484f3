package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittokv/pkg/storage"
	storagetesting "github.com/marmos91/dittokv/pkg/storage/testing"
)

func TestMemoryStore(t *testing.T) {
	suite := &storagetesting.StoreTestSuite{
		NewStore: func(t *testing.T) storage.Store {
			return New()
		},
	}
	suite.Run(t)
}

func TestMemoryStore_Clock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	info, err := s.Stat(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, now, info.LastModified)

	older := now.Add(-time.Hour)
	require.True(t, s.SetModTime("k", older))
	info, err = s.Stat(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, older, info.LastModified)

	assert.False(t, s.SetModTime("missing", older))
}

func TestMemoryStore_FailOperation(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	s.FailOperation("delete", boom)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	assert.ErrorIs(t, s.Delete(ctx, "k"), boom)
	assert.Equal(t, 1, s.Len())

	s.FailOperation("delete", nil)
	assert.NoError(t, s.Delete(ctx, "k"))
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	s := New()

	data := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", data))
	data[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	err := s.Put(context.Background(), "k", nil)
	assert.ErrorIs(t, err, storage.ErrClosed)
}

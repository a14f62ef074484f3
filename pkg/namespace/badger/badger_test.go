package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittokv/pkg/namespace"
	nstesting "github.com/marmos91/dittokv/pkg/namespace/testing"
)

func TestBadgerNamespace(t *testing.T) {
	suite := &nstesting.ServiceTestSuite{
		NewService: func(t *testing.T) namespace.Service {
			ns, err := New(context.Background(), Config{DBPath: t.TempDir()})
			require.NoError(t, err)
			return ns
		},
	}
	suite.Run(t)
}

func TestBadgerNamespace_InMemory(t *testing.T) {
	suite := &nstesting.ServiceTestSuite{
		NewService: func(t *testing.T) namespace.Service {
			ns, err := New(context.Background(), Config{InMemory: true})
			require.NoError(t, err)
			return ns
		},
	}
	suite.Run(t)
}

func TestBadgerNamespace_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ns, err := New(ctx, Config{DBPath: dir})
	require.NoError(t, err)

	id, err := ns.CreateDirectory(ctx, "/kv/store", true)
	require.NoError(t, err)
	require.NoError(t, ns.Close())

	reopened, err := New(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Resolve(ctx, "/kv/store")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	fresh, err := reopened.CreateDirectory(ctx, "/kv/other", false)
	require.NoError(t, err)
	assert.Greater(t, uint64(fresh), uint64(id), "ids must keep increasing across restarts")
}

func TestBadgerNamespace_RequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

// Package testing provides a conformance suite for namespace.Service
// implementations.
package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittokv/pkg/namespace"
)

// ServiceTestSuite checks the namespace.Service contract.
//
// Usage:
//
//	func TestMyNamespace(t *testing.T) {
//	    suite := &nstesting.ServiceTestSuite{
//	        NewService: func(t *testing.T) namespace.Service { return mine.New() },
//	    }
//	    suite.Run(t)
//	}
type ServiceTestSuite struct {
	// NewService creates a fresh namespace containing only "/".
	NewService func(t *testing.T) namespace.Service
}

// Run executes all tests in the suite.
func (suite *ServiceTestSuite) Run(t *testing.T) {
	t.Run("RootExists", suite.testRootExists)
	t.Run("CreateAndResolve", suite.testCreateAndResolve)
	t.Run("CreateRequiresParent", suite.testCreateRequiresParent)
	t.Run("CreateRecursive", suite.testCreateRecursive)
	t.Run("CreateExisting", suite.testCreateExisting)
	t.Run("InvalidPath", suite.testInvalidPath)
	t.Run("Delete", suite.testDelete)
	t.Run("DeleteNonEmpty", suite.testDeleteNonEmpty)
	t.Run("RenamePreservesIDs", suite.testRenamePreservesIDs)
	t.Run("RenameConflicts", suite.testRenameConflicts)
	t.Run("IDsAreUnique", suite.testIDsAreUnique)
}

func (suite *ServiceTestSuite) service(t *testing.T) namespace.Service {
	s := suite.NewService(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func requireCode(t *testing.T, err error, code namespace.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	got, ok := namespace.CodeOf(err)
	require.True(t, ok, "expected a namespace error, got %T: %v", err, err)
	assert.Equal(t, code, got, "unexpected code for %v", err)
}

func (suite *ServiceTestSuite) testRootExists(t *testing.T) {
	s := suite.service(t)

	id, err := s.Resolve(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, namespace.RootID, id)
}

func (suite *ServiceTestSuite) testCreateAndResolve(t *testing.T) {
	ctx := context.Background()
	s := suite.service(t)

	id, err := s.CreateDirectory(ctx, "/stores", false)
	require.NoError(t, err)
	assert.NotEqual(t, namespace.RootID, id)

	got, err := s.Resolve(ctx, "/stores")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = s.Resolve(ctx, "/stores/")
	require.NoError(t, err)
	assert.Equal(t, id, got, "trailing slash should resolve to the same directory")
}

func (suite *ServiceTestSuite) testCreateRequiresParent(t *testing.T) {
	ctx := context.Background()
	s := suite.service(t)

	_, err := s.CreateDirectory(ctx, "/a/b", false)
	requireCode(t, err, namespace.ErrNotFound)

	_, err = s.Resolve(ctx, "/a")
	requireCode(t, err, namespace.ErrNotFound)
}

func (suite *ServiceTestSuite) testCreateRecursive(t *testing.T) {
	ctx := context.Background()
	s := suite.service(t)

	leaf, err := s.CreateDirectory(ctx, "/a/b/c", true)
	require.NoError(t, err)

	for _, p := range []string{"/a", "/a/b"} {
		_, err := s.Resolve(ctx, p)
		require.NoError(t, err, p)
	}
	got, err := s.Resolve(ctx, "/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, leaf, got)
}

func (suite *ServiceTestSuite) testCreateExisting(t *testing.T) {
	ctx := context.Background()
	s := suite.service(t)

	_, err := s.CreateDirectory(ctx, "/x", false)
	require.NoError(t, err)

	_, err = s.CreateDirectory(ctx, "/x", true)
	requireCode(t, err, namespace.ErrAlreadyExists)

	_, err = s.CreateDirectory(ctx, "/", true)
	requireCode(t, err, namespace.ErrAlreadyExists)
}

func (suite *ServiceTestSuite) testInvalidPath(t *testing.T) {
	ctx := context.Background()
	s := suite.service(t)

	_, err := s.Resolve(ctx, "relative/path")
	requireCode(t, err, namespace.ErrInvalidPath)

	requireCode(t, s.Delete(ctx, "/", true), namespace.ErrInvalidPath)
}

func (suite *ServiceTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	s := suite.service(t)

	_, err := s.CreateDirectory(ctx, "/d", false)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "/d", false))

	_, err = s.Resolve(ctx, "/d")
	requireCode(t, err, namespace.ErrNotFound)

	requireCode(t, s.Delete(ctx, "/d", true), namespace.ErrNotFound)
}

func (suite *ServiceTestSuite) testDeleteNonEmpty(t *testing.T) {
	ctx := context.Background()
	s := suite.service(t)

	_, err := s.CreateDirectory(ctx, "/p/q", true)
	require.NoError(t, err)
	_, err = s.CreateDirectory(ctx, "/pp", false)
	require.NoError(t, err)

	requireCode(t, s.Delete(ctx, "/p", false), namespace.ErrNotEmpty)
	require.NoError(t, s.Delete(ctx, "/p", true))

	_, err = s.Resolve(ctx, "/p/q")
	requireCode(t, err, namespace.ErrNotFound)

	_, err = s.Resolve(ctx, "/pp")
	require.NoError(t, err, "sibling sharing a name prefix must survive")
}

func (suite *ServiceTestSuite) testRenamePreservesIDs(t *testing.T) {
	ctx := context.Background()
	s := suite.service(t)

	dirID, err := s.CreateDirectory(ctx, "/src", false)
	require.NoError(t, err)
	childID, err := s.CreateDirectory(ctx, "/src/child", false)
	require.NoError(t, err)
	_, err = s.CreateDirectory(ctx, "/dst", false)
	require.NoError(t, err)

	require.NoError(t, s.Rename(ctx, "/src", "/dst/moved"))

	_, err = s.Resolve(ctx, "/src")
	requireCode(t, err, namespace.ErrNotFound)
	_, err = s.Resolve(ctx, "/src/child")
	requireCode(t, err, namespace.ErrNotFound)

	got, err := s.Resolve(ctx, "/dst/moved")
	require.NoError(t, err)
	assert.Equal(t, dirID, got)

	got, err = s.Resolve(ctx, "/dst/moved/child")
	require.NoError(t, err)
	assert.Equal(t, childID, got)
}

func (suite *ServiceTestSuite) testRenameConflicts(t *testing.T) {
	ctx := context.Background()
	s := suite.service(t)

	_, err := s.CreateDirectory(ctx, "/a", false)
	require.NoError(t, err)
	_, err = s.CreateDirectory(ctx, "/b", false)
	require.NoError(t, err)

	requireCode(t, s.Rename(ctx, "/missing", "/c"), namespace.ErrNotFound)
	requireCode(t, s.Rename(ctx, "/a", "/b"), namespace.ErrAlreadyExists)
	requireCode(t, s.Rename(ctx, "/a", "/nope/c"), namespace.ErrNotFound)
	requireCode(t, s.Rename(ctx, "/a", "/a/inside"), namespace.ErrInvalidPath)

	_, err = s.Resolve(ctx, "/a")
	require.NoError(t, err, "failed renames must leave the source in place")
}

func (suite *ServiceTestSuite) testIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := suite.service(t)

	seen := map[namespace.ID]string{namespace.RootID: "/"}
	for _, p := range []string{"/1", "/2", "/2/3", "/4/5/6"} {
		id, err := s.CreateDirectory(ctx, p, true)
		require.NoError(t, err)
		prev, dup := seen[id]
		require.False(t, dup, "id %d reused by %s and %s", id, prev, p)
		seen[id] = p
	}

	require.NoError(t, s.Delete(ctx, "/1", false))
	id, err := s.CreateDirectory(ctx, "/1", false)
	require.NoError(t, err)
	_, dup := seen[id]
	assert.False(t, dup, "recreated directory must get a fresh id")
}

package testing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/marmos91/dittodrop/pkg/store/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests executes Put/Open/Delete tests.
func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("Open_NotFound", suite.testOpenNotFound)
	t.Run("Put_RoundTrip", suite.testPutRoundTrip)
	t.Run("Put_Empty", suite.testPutEmpty)
	t.Run("Put_Large", suite.testPutLarge)
	t.Run("Put_Overwrite", suite.testPutOverwrite)
	t.Run("Put_FailingReader", suite.testPutFailingReader)
	t.Run("Put_CancelledContext", suite.testPutCancelledContext)
	t.Run("Delete_Success", suite.testDeleteSuccess)
	t.Run("Delete_Idempotent", suite.testDeleteIdempotent)
}

// ============================================================================
// Put / Open
// ============================================================================

func (suite *StoreTestSuite) testOpenNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.Open(testContext(), mustPathFor(t, store, "missing.txt"))

	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func (suite *StoreTestSuite) testPutRoundTrip(t *testing.T) {
	store := suite.NewStore(t)
	path := mustPathFor(t, store, "hello.txt")
	data := []byte("Hello, World!")

	mustPut(t, store, path, data)

	assert.Equal(t, data, mustRead(t, store, path))
}

func (suite *StoreTestSuite) testPutEmpty(t *testing.T) {
	store := suite.NewStore(t)
	path := mustPathFor(t, store, "empty.bin")

	mustPut(t, store, path, []byte{})

	assert.Empty(t, mustRead(t, store, path))
}

func (suite *StoreTestSuite) testPutLarge(t *testing.T) {
	store := suite.NewStore(t)
	path := mustPathFor(t, store, "large.bin")
	data := bytes.Repeat([]byte("0123456789abcdef"), 64*1024) // 1MB

	mustPut(t, store, path, data)

	assert.Equal(t, data, mustRead(t, store, path))
}

func (suite *StoreTestSuite) testPutOverwrite(t *testing.T) {
	store := suite.NewStore(t)
	path := mustPathFor(t, store, "overwrite.txt")

	mustPut(t, store, path, []byte("old data that is longer"))
	mustPut(t, store, path, []byte("new data"))

	assert.Equal(t, []byte("new data"), mustRead(t, store, path))
}

func (suite *StoreTestSuite) testPutFailingReader(t *testing.T) {
	store := suite.NewStore(t)
	path := mustPathFor(t, store, "failing.txt")
	boom := errors.New("disk full")

	_, err := store.Put(testContext(), path, io.MultiReader(
		bytes.NewReader([]byte("partial")),
		&failingReader{err: boom},
	))
	require.ErrorIs(t, err, boom)

	_, err = store.Open(testContext(), path)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound, "failed put must not leave a blob")
}

func (suite *StoreTestSuite) testPutCancelledContext(t *testing.T) {
	store := suite.NewStore(t)
	path := mustPathFor(t, store, "cancelled.txt")

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, err := store.Put(ctx, path, bytes.NewReader([]byte("data")))
	require.ErrorIs(t, err, context.Canceled)

	_, err = store.Open(testContext(), path)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

// ============================================================================
// Delete
// ============================================================================

func (suite *StoreTestSuite) testDeleteSuccess(t *testing.T) {
	store := suite.NewStore(t)
	path := mustPathFor(t, store, "delete.txt")
	mustPut(t, store, path, []byte("bye"))

	require.NoError(t, store.Delete(testContext(), path))

	_, err := store.Open(testContext(), path)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func (suite *StoreTestSuite) testDeleteIdempotent(t *testing.T) {
	store := suite.NewStore(t)
	path := mustPathFor(t, store, "never-written.txt")

	assert.NoError(t, store.Delete(testContext(), path))
	assert.NoError(t, store.Delete(testContext(), path))
}

type failingReader struct {
	err error
}

func (r *failingReader) Read([]byte) (int, error) {
	return 0, r.err
}

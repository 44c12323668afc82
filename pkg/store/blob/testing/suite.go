package testing

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/marmos91/dittodrop/pkg/store/blob"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a conformance suite for blob.Store implementations.
//
// Usage:
//
//	func TestMyBlobStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func(t *testing.T) blob.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) blob.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("PathOperations", suite.RunPathTests)
	t.Run("ListOperations", suite.RunListTests)
}

func testContext() context.Context {
	return context.Background()
}

func mustPathFor(t *testing.T, store blob.Store, filename string) string {
	t.Helper()
	path, err := store.PathFor(filename)
	require.NoError(t, err)
	return path
}

func mustPut(t *testing.T, store blob.Store, path string, data []byte) {
	t.Helper()
	n, err := store.Put(testContext(), path, bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
}

func mustRead(t *testing.T, store blob.Store, path string) []byte {
	t.Helper()
	rc, err := store.Open(testContext(), path)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

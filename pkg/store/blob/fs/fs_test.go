package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittodrop/pkg/store/blob"
	blobtesting "github.com/marmos91/dittodrop/pkg/store/blob/testing"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSBlobStore_MemMapFs(t *testing.T) {
	suite := &blobtesting.StoreTestSuite{
		NewStore: func(t *testing.T) blob.Store {
			store, err := NewMemoryBlobStore(context.Background())
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}

func TestFSBlobStore_OsFs(t *testing.T) {
	suite := &blobtesting.StoreTestSuite{
		NewStore: func(t *testing.T) blob.Store {
			store, err := NewFSBlobStore(context.Background(), FSBlobStoreConfig{Path: t.TempDir()})
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
	suite.Run(t)
}

func TestNewFSBlobStore_RequiresPath(t *testing.T) {
	_, err := NewFSBlobStore(context.Background(), FSBlobStoreConfig{})
	assert.Error(t, err)
}

func TestNewFSBlobStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFSBlobStore(ctx, FSBlobStoreConfig{Path: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFSBlobStore_PathsAreAbsolute(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	store, err := NewFSBlobStore(context.Background(), FSBlobStoreConfig{Path: "files"})
	require.NoError(t, err)

	path, err := store.PathFor("f.txt")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, filepath.Join(store.BasePath(), "f.txt"), path)
}

func TestFSBlobStore_RejectsPathsOutsideRoot(t *testing.T) {
	afs := afero.NewMemMapFs()
	store, err := NewFSBlobStore(context.Background(), FSBlobStoreConfig{Path: "/data/files", Fs: afs})
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(afs, "/data/secret.txt", []byte("s"), 0644))

	ctx := context.Background()
	for _, p := range []string{
		"/data/secret.txt",
		"/data/files/../secret.txt",
		"/data/files/sub/f.txt",
		"/data/files/.tmp",
	} {
		_, err := store.Open(ctx, p)
		assert.ErrorIs(t, err, blob.ErrInvalidPath, p)
		assert.ErrorIs(t, store.Delete(ctx, p), blob.ErrInvalidPath, p)
		_, err = store.Put(ctx, p, bytes.NewReader(nil))
		assert.ErrorIs(t, err, blob.ErrInvalidPath, p)
	}

	exists, err := afero.Exists(afs, "/data/secret.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFSBlobStore_FailedPutLeavesNoTempFiles(t *testing.T) {
	afs := afero.NewMemMapFs()
	store, err := NewFSBlobStore(context.Background(), FSBlobStoreConfig{Path: "/files", Fs: afs})
	require.NoError(t, err)

	path, err := store.PathFor("doomed.bin")
	require.NoError(t, err)

	_, err = store.Put(context.Background(), path, io.MultiReader(
		bytes.NewReader([]byte("some bytes")),
		iotestErrReader{errors.New("connection reset")},
	))
	require.Error(t, err)

	entries, err := afero.ReadDir(afs, filepath.Join("/files", tmpDirName))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFSBlobStore_ListSkipsTempDir(t *testing.T) {
	afs := afero.NewMemMapFs()
	store, err := NewFSBlobStore(context.Background(), FSBlobStoreConfig{Path: "/files", Fs: afs})
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(afs, "/files/.tmp/inflight.123", []byte("x"), 0644))
	require.NoError(t, afero.WriteFile(afs, "/files/done.txt", []byte("x"), 0644))

	paths, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/files/done.txt"}, paths)
}

type iotestErrReader struct{ err error }

func (r iotestErrReader) Read([]byte) (int, error) { return 0, r.err }

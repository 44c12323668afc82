// Package fs implements filesystem-backed blob storage.
//
// Blobs are stored as plain files directly under a root directory, named
// after the client-supplied filename. Writes go to a temporary file under
// <root>/.tmp and are renamed into place once fully written, so readers never
// see a partial blob.
//
// The filesystem is accessed through afero. Production uses the OS
// filesystem; tests and the "memory" blob type use an in-memory one.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittodrop/pkg/store/blob"
	"github.com/spf13/afero"
)

// tmpDirName holds in-flight uploads. It is skipped by List.
const tmpDirName = ".tmp"

// FSBlobStore implements blob.Store on top of an afero filesystem.
//
// Thread Safety:
// Each Put writes to its own temporary file and publishes it with a single
// rename, so concurrent Puts to the same path are last-writer-wins and never
// interleave bytes.
type FSBlobStore struct {
	fs       afero.Fs
	basePath string
	tmpPath  string
}

// FSBlobStoreConfig configures a filesystem blob store.
type FSBlobStoreConfig struct {
	// Path is the root directory for stored blobs.
	Path string `mapstructure:"path"`

	// Fs overrides the filesystem. Defaults to the OS filesystem.
	Fs afero.Fs `mapstructure:"-"`
}

// NewFSBlobStore creates a filesystem blob store rooted at cfg.Path.
//
// The root and its temporary directory are created with permissions 0755 if
// they don't exist. The root is made absolute so that recorded paths are
// stable regardless of the process working directory.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Store configuration
//
// Returns:
//   - *FSBlobStore: Initialized store
//   - error: If the path is empty, directory creation fails, or ctx is cancelled
func NewFSBlobStore(ctx context.Context, cfg FSBlobStoreConfig) (*FSBlobStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("filesystem path is required")
	}

	afs := cfg.Fs
	basePath := filepath.Clean(cfg.Path)
	if afs == nil {
		afs = afero.NewOsFs()
		abs, err := filepath.Abs(basePath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve base path: %w", err)
		}
		basePath = abs
	}

	tmpPath := filepath.Join(basePath, tmpDirName)
	if err := afs.MkdirAll(tmpPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSBlobStore{
		fs:       afs,
		basePath: basePath,
		tmpPath:  tmpPath,
	}, nil
}

// NewMemoryBlobStore creates a blob store backed by an in-memory filesystem.
//
// Contents are lost when the process exits.
func NewMemoryBlobStore(ctx context.Context) (*FSBlobStore, error) {
	return NewFSBlobStore(ctx, FSBlobStoreConfig{
		Path: "/blobs",
		Fs:   afero.NewMemMapFs(),
	})
}

// BasePath returns the root directory of the store.
func (s *FSBlobStore) BasePath() string {
	return s.basePath
}

// PathFor implements blob.Store.
func (s *FSBlobStore) PathFor(filename string) (string, error) {
	name := filepath.Base(filepath.Clean(strings.ReplaceAll(filename, "\\", "/")))
	switch name {
	case "", ".", "..", "/", tmpDirName:
		return "", fmt.Errorf("filename %q: %w", filename, blob.ErrInvalidPath)
	}
	return filepath.Join(s.basePath, name), nil
}

// checkPath rejects paths that don't name a file directly under the root.
func (s *FSBlobStore) checkPath(path string) error {
	clean := filepath.Clean(path)
	if filepath.Dir(clean) != s.basePath || filepath.Base(clean) == tmpDirName {
		return fmt.Errorf("path %q: %w", path, blob.ErrInvalidPath)
	}
	return nil
}

// Put implements blob.Store.
func (s *FSBlobStore) Put(ctx context.Context, path string, r io.Reader) (int64, error) {
	// ========================================================================
	// Step 1: Validate destination
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.checkPath(path); err != nil {
		return 0, err
	}

	// ========================================================================
	// Step 2: Stream into a temporary file
	// ========================================================================

	tmp, err := afero.TempFile(s.fs, s.tmpPath, filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, copyErr := blob.CopyContext(ctx, tmp, r)
	closeErr := tmp.Close()
	if copyErr == nil && closeErr != nil {
		copyErr = fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if copyErr != nil {
		_ = s.fs.Remove(tmpName)
		return n, fmt.Errorf("failed to write blob %s: %w", path, copyErr)
	}

	// ========================================================================
	// Step 3: Publish with a rename
	// ========================================================================

	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return n, fmt.Errorf("failed to commit blob %s: %w", path, err)
	}

	return n, nil
}

// Open implements blob.Store.
func (s *FSBlobStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkPath(path); err != nil {
		return nil, err
	}

	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, blob.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("failed to open blob %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat blob %s: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, blob.ErrBlobNotFound)
	}

	return f, nil
}

// Delete implements blob.Store.
func (s *FSBlobStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkPath(path); err != nil {
		return err
	}

	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", path, err)
	}
	return nil
}

// List implements blob.Store.
func (s *FSBlobStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := afero.ReadDir(s.fs, s.basePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(s.basePath, e.Name()))
	}
	return paths, nil
}

// Close implements blob.Store. The filesystem store holds no resources.
func (s *FSBlobStore) Close() error {
	return nil
}

// Package blob defines the byte storage used for uploaded files.
//
// A blob store persists and removes raw bytes by path. It carries no business
// logic: it does not know about identifiers, records, or expiry. The path of a
// blob is derived from the store's root and the client-supplied filename, so
// two uploads with the same filename share a path.
package blob

import (
	"context"
	"io"
)

// Store persists raw file bytes by path.
//
// Paths are opaque to callers. They are produced by PathFor and stored
// verbatim in metadata records, then passed back to Open and Delete.
//
// Thread safety:
// Implementations must be safe for concurrent use. Concurrent Puts to the
// same path are last-writer-wins; readers never observe a partially written
// blob.
type Store interface {
	// PathFor derives the deterministic path for a client-supplied filename.
	//
	// Only the final element of filename is used, so "a/b/c.txt" and "c.txt"
	// map to the same path.
	//
	// Returns:
	//   - string: Path under the store root
	//   - error: ErrInvalidPath if the filename reduces to nothing usable
	PathFor(filename string) (string, error)

	// Put streams r to path, replacing any existing blob.
	//
	// The blob becomes visible only after r is fully consumed. On error or
	// context cancellation nothing is left at path by this call.
	//
	// Returns:
	//   - int64: Number of bytes written
	//   - error: Storage or context error
	Put(ctx context.Context, path string, r io.Reader) (int64, error)

	// Open returns a single-pass reader for the blob at path.
	//
	// Returns ErrBlobNotFound if nothing is stored at path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the blob at path. Deleting a missing blob is not an error.
	Delete(ctx context.Context, path string) error

	// List returns the paths of all stored blobs.
	List(ctx context.Context) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

package blob

import "errors"

var (
	// ErrBlobNotFound indicates nothing is stored at the requested path.
	//
	// Returned by Open. Delete never returns it.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrInvalidPath indicates a filename or path that cannot be mapped into
	// the store (empty, ".", "..", or outside the store root).
	ErrInvalidPath = errors.New("invalid blob path")
)

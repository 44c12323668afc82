package metadata

import "errors"

var (
	// ErrRecordNotFound indicates no FileRecord exists for the identifier.
	//
	// Returned by GetRecord and UpdateRecord. Delete operations never return
	// it: deleting a missing entry is not an error.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidID indicates an identifier that cannot be stored.
	ErrInvalidID = errors.New("invalid id")

	// ErrClosed indicates the store or subscription has been closed.
	ErrClosed = errors.New("metadata store closed")
)

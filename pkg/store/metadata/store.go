package metadata

import (
	"context"
	"time"
)

// Index stores FileRecords and their liveness keys.
//
// Implementations must be safe for concurrent use and must not assume
// single-writer access to any key. Every delete is idempotent.
type Index interface {
	// GetRecord returns the record for id, or ErrRecordNotFound.
	GetRecord(ctx context.Context, id string) (*FileRecord, error)

	// PutRecord creates or replaces the record for rec.ID.
	PutRecord(ctx context.Context, rec *FileRecord) error

	// UpdateRecord replaces the record for rec.ID only if one exists.
	//
	// Returns ErrRecordNotFound if the record was removed concurrently, so
	// an evicted record is never resurrected.
	UpdateRecord(ctx context.Context, rec *FileRecord) error

	// DeleteRecord removes the record for id. Missing records are not an error.
	DeleteRecord(ctx context.Context, id string) error

	// ArmLiveness creates or replaces the liveness key for id with the given
	// time-to-live.
	ArmLiveness(ctx context.Context, id string, ttl time.Duration) error

	// ExpireLiveness makes the liveness key for id elapse immediately, so
	// eviction follows the same notification path as natural expiry.
	// Missing keys are not an error.
	ExpireLiveness(ctx context.Context, id string) error

	// DeleteLiveness removes the liveness key for id. Missing keys are not an
	// error.
	DeleteLiveness(ctx context.Context, id string) error

	// LivenessExists reports whether a liveness key for id is currently armed.
	LivenessExists(ctx context.Context, id string) (bool, error)

	// ListRecordIDs returns the identifiers of all stored records.
	ListRecordIDs(ctx context.Context) ([]string, error)

	// Healthcheck verifies the backend is reachable.
	Healthcheck(ctx context.Context) error

	// Close releases backend resources. Open subscriptions are ended.
	Close() error
}

// Store is a metadata index that also publishes liveness key events.
type Store interface {
	Index
	Notifier
}

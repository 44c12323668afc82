// Package content implements the transient content store.
//
// A Service composes a blob store, which holds the bytes, with a metadata
// store, which holds one record and one liveness key per file. Files are
// removed when their liveness key expires or is deleted; the eviction
// package performs that cleanup. The Service itself only arms, forces, and
// deletes liveness keys.
//
// There is no per-id locking. A Write racing a Read, Purge, or eviction of
// the same id may interleave; every delete is idempotent and the last Write
// wins.
package content

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/metrics"
	"github.com/marmos91/dittodrop/pkg/store/blob"
	"github.com/marmos91/dittodrop/pkg/store/metadata"
)

// Config contains configuration for the content service.
type Config struct {
	// Expiration is the lifetime of a stored file (default: 1h). Each Write
	// arms the liveness key with it.
	Expiration time.Duration `mapstructure:"expiration" validate:"omitempty,gt=0"`

	// EraseOnRead is the Read default when WithErase is not given.
	EraseOnRead bool `mapstructure:"erase_on_read"`

	// CleanupTimeout bounds rollback and the post-read erase trigger, which
	// run detached from the caller's context (default: 10s).
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout" validate:"omitempty,gt=0"`
}

func (c *Config) applyDefaults() {
	if c.Expiration <= 0 {
		c.Expiration = time.Hour
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 10 * time.Second
	}
}

// Service is the transient content store.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	store   metadata.Index
	blobs   blob.Store
	config  Config
	metrics metrics.ContentMetrics

	// pending tracks erase triggers scheduled by finished reads.
	pending sync.WaitGroup
}

// New creates a content service.
//
// Parameters:
//   - store: Metadata index for records and liveness keys
//   - blobs: Blob store for file contents
//   - config: Expiration and read defaults
//   - m: Metrics sink (nil disables metrics)
func New(store metadata.Index, blobs blob.Store, config Config, m metrics.ContentMetrics) *Service {
	config.applyDefaults()
	if m == nil {
		m = metrics.NewNoopContentMetrics()
	}
	return &Service{
		store:   store,
		blobs:   blobs,
		config:  config,
		metrics: m,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.config
}

// ============================================================================
// Write
// ============================================================================

// Write stores body under id, replacing any previous file with that id.
//
// The record is first stored as incomplete with a freshly armed liveness
// key, then the bytes are persisted, then the record is marked complete. If
// persisting or completing fails, the blob, record, and liveness key are
// removed before the original error is returned, together with the blob of
// the file the Write was replacing. A crash between the steps
// leaves an incomplete record that is evicted when its liveness key expires.
//
// Files with the same filename share a blob path. Callers needing isolation
// must use unique filenames.
//
// Parameters:
//   - ctx: Context for cancellation. Rollback runs even if ctx is cancelled.
//   - id: Caller-chosen identifier
//   - body: File contents, read to EOF
//   - filename: Client-supplied name; only its base name is used for the path
//   - tags: Opaque labels stored with the record
//
// Returns:
//   - error: ErrInvalidArgument or ErrStoreFault
func (s *Service) Write(ctx context.Context, id string, body io.Reader, filename string, tags []string) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("write", time.Since(start), err) }()

	if err := metadata.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if body == nil {
		return fmt.Errorf("%w: no file was uploaded", ErrInvalidArgument)
	}
	path, err := s.blobs.PathFor(filename)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	previous, err := s.store.GetRecord(ctx, id)
	if err != nil && !errors.Is(err, metadata.ErrRecordNotFound) {
		return s.storeFault("write", id, path, err)
	}

	rec := &metadata.FileRecord{
		ID:       id,
		Path:     path,
		Filename: filename,
		Tags:     normalizeTags(tags),
	}

	// ===== Step 1: Provisional record and liveness key =====
	if err := s.store.PutRecord(ctx, rec); err != nil {
		return s.storeFault("write", id, path, err)
	}
	if err := s.store.ArmLiveness(ctx, id, s.config.Expiration); err != nil {
		// Nothing was written to path yet, and it may hold another file.
		s.rollback(ctx, rec, previous, false)
		return s.storeFault("write", id, path, err)
	}

	// ===== Step 2: Persist bytes =====
	n, err := s.blobs.Put(ctx, path, body)
	if err != nil {
		s.rollback(ctx, rec, previous, true)
		return s.storeFault("write", id, path, err)
	}

	// ===== Step 3: Mark complete =====
	// UpdateRecord fails if the record was evicted during the upload, so a
	// record is never recreated without its liveness key.
	rec.Complete = true
	if err := s.store.UpdateRecord(ctx, rec); err != nil {
		s.rollback(ctx, rec, previous, true)
		return s.storeFault("write", id, path, err)
	}

	s.metrics.RecordBytes("write", n)
	logger.Debug("Stored %s: path=%s size=%d ttl=%s", id, path, n, s.config.Expiration)

	if previous != nil && previous.Path != path {
		s.deleteSuperseded(ctx, id, previous.Path)
	}
	return nil
}

// rollback removes what a failed Write left behind. Failures are logged; the
// caller returns the original error.
//
// Step 1 already replaced the previous record and liveness key of the id, so
// the previous blob has nothing left to evict it and is removed here too.
func (s *Service) rollback(ctx context.Context, rec, previous *metadata.FileRecord, withBlob bool) {
	s.metrics.RecordRollback()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CleanupTimeout)
	defer cancel()

	if withBlob {
		if err := s.blobs.Delete(ctx, rec.Path); err != nil && !errors.Is(err, blob.ErrBlobNotFound) {
			logger.Error("Rollback of %s: failed to delete blob %s: %v", rec.ID, rec.Path, err)
		}
	}
	if previous != nil && previous.Path != rec.Path {
		if err := s.blobs.Delete(ctx, previous.Path); err != nil && !errors.Is(err, blob.ErrBlobNotFound) {
			logger.Error("Rollback of %s: failed to delete previous blob %s: %v", rec.ID, previous.Path, err)
		}
	}
	// The record goes first so the liveness deletion event finds nothing to evict.
	if err := s.store.DeleteRecord(ctx, rec.ID); err != nil {
		logger.Error("Rollback of %s: failed to delete record: %v", rec.ID, err)
	}
	if err := s.store.DeleteLiveness(ctx, rec.ID); err != nil {
		logger.Error("Rollback of %s: failed to delete liveness key: %v", rec.ID, err)
	}

	logger.Warn("Rolled back write of %s (path=%s)", rec.ID, rec.Path)
}

// deleteSuperseded removes the blob of the record an overwrite replaced.
func (s *Service) deleteSuperseded(ctx context.Context, id, path string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CleanupTimeout)
	defer cancel()

	if err := s.blobs.Delete(ctx, path); err != nil && !errors.Is(err, blob.ErrBlobNotFound) {
		logger.Warn("Failed to delete superseded blob %s of %s: %v", path, id, err)
	}
}

func normalizeTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return slices.Clone(tags)
}

// ============================================================================
// Read
// ============================================================================

// ReadOption customizes a Read.
type ReadOption func(*readOptions)

type readOptions struct {
	erase bool
}

// WithErase overrides Config.EraseOnRead for one Read.
func WithErase(erase bool) ReadOption {
	return func(o *readOptions) {
		o.erase = erase
	}
}

// Read opens the file stored under id.
//
// The blob is opened before Read returns, so a missing blob is reported as
// ErrInconsistent here rather than on the first stream read. Bytes are read
// lazily from the returned stream, which the caller must close.
//
// With erase enabled, reaching end of data or closing the stream schedules
// one forced expiry of the liveness key; eviction then removes the file through the
// same path as natural expiry. A trigger failure is logged and the file
// lives until its natural expiry. A stream abandoned because ctx was
// cancelled does not trigger erasure.
//
// Parameters:
//   - ctx: Context for cancellation of the lookup and the stream
//   - id: File identifier
//   - opts: WithErase
//
// Returns:
//   - io.ReadCloser: File contents
//   - *metadata.FileRecord: The complete record
//   - error: ErrNotFound, ErrInconsistent, or ErrStoreFault
func (s *Service) Read(ctx context.Context, id string, opts ...ReadOption) (io.ReadCloser, *metadata.FileRecord, error) {
	start := time.Now()

	options := readOptions{erase: s.config.EraseOnRead}
	for _, opt := range opts {
		opt(&options)
	}

	rc, rec, err := s.open(ctx, id)
	s.metrics.RecordOperation("read", time.Since(start), err)
	if err != nil {
		return nil, nil, err
	}

	stream := &readStream{
		ctx:  ctx,
		rc:   rc,
		br:   bufio.NewReader(blob.NewContextReader(ctx, rc)),
		done: s.readDone(id, options.erase),
	}
	return stream, rec, nil
}

func (s *Service) open(ctx context.Context, id string) (io.ReadCloser, *metadata.FileRecord, error) {
	rec, err := s.lookup(ctx, "read", id)
	if err != nil {
		return nil, nil, err
	}
	if !rec.Complete {
		return nil, nil, fmt.Errorf("file %s is still uploading: %w", id, ErrNotFound)
	}

	rc, err := s.blobs.Open(ctx, rec.Path)
	if errors.Is(err, blob.ErrBlobNotFound) {
		logger.Error("Record %s is complete but blob %s is missing", id, rec.Path)
		return nil, nil, fmt.Errorf("file %s (path=%s): %w", id, rec.Path, ErrInconsistent)
	}
	if err != nil {
		return nil, nil, s.storeFault("read", id, rec.Path, err)
	}
	return rc, rec, nil
}

// readDone returns the hook run once when a stream finishes.
func (s *Service) readDone(id string, erase bool) func(n int64, aborted bool) {
	return func(n int64, aborted bool) {
		s.metrics.RecordBytes("read", n)
		if !erase || aborted {
			return
		}

		// The trigger must not hold up the consumer's last Read or Close.
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()

			ctx, cancel := context.WithTimeout(context.Background(), s.config.CleanupTimeout)
			defer cancel()

			if err := s.store.ExpireLiveness(ctx, id); err != nil {
				logger.Warn("Failed to expire %s after download, it stays until its natural expiry: %v", id, err)
				return
			}
			logger.Debug("Expired %s after download of %d bytes", id, n)
		}()
	}
}

// Drain waits for scheduled erase triggers to finish. Call it before closing
// the metadata store.
//
// Returns:
//   - error: ctx.Err() if ctx ends first
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// Expire, GetMetadata, Purge
// ============================================================================

// Expire forces the liveness key of id to expire now. Eviction removes the
// file asynchronously.
//
// Returns:
//   - error: ErrNotFound if there is no record, ErrStoreFault otherwise
func (s *Service) Expire(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("expire", time.Since(start), err) }()

	rec, err := s.lookup(ctx, "expire", id)
	if err != nil {
		return err
	}
	if err := s.store.ExpireLiveness(ctx, id); err != nil {
		return s.storeFault("expire", id, rec.Path, err)
	}
	return nil
}

// GetMetadata returns the record stored under id, complete or not.
//
// Returns:
//   - *metadata.FileRecord: The record
//   - error: ErrNotFound or ErrStoreFault
func (s *Service) GetMetadata(ctx context.Context, id string) (rec *metadata.FileRecord, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("metadata", time.Since(start), err) }()

	return s.lookup(ctx, "metadata", id)
}

// Purge deletes the file stored under id now: blob, then record, then
// liveness key. A missing blob is tolerated.
//
// Returns:
//   - error: ErrNotFound if there is no record, ErrStoreFault otherwise
func (s *Service) Purge(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("purge", time.Since(start), err) }()

	rec, err := s.lookup(ctx, "purge", id)
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, rec.Path); err != nil && !errors.Is(err, blob.ErrBlobNotFound) {
		return s.storeFault("purge", id, rec.Path, err)
	}
	if err := s.store.DeleteRecord(ctx, id); err != nil {
		return s.storeFault("purge", id, rec.Path, err)
	}
	if err := s.store.DeleteLiveness(ctx, id); err != nil {
		return s.storeFault("purge", id, rec.Path, err)
	}

	logger.Info("Purged %s (path=%s)", id, rec.Path)
	return nil
}

// lookup loads the record of id, mapping absence to ErrNotFound.
func (s *Service) lookup(ctx context.Context, op, id string) (*metadata.FileRecord, error) {
	// Reserved ids would address another file's liveness key.
	if err := metadata.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	rec, err := s.store.GetRecord(ctx, id)
	if errors.Is(err, metadata.ErrRecordNotFound) {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, s.storeFault(op, id, "", err)
	}
	return rec, nil
}

// storeFault logs a store failure and wraps it in ErrStoreFault.
func (s *Service) storeFault(op, id, path string, err error) error {
	logger.Error("Content %s failed: id=%s path=%s: %v", op, id, path, err)
	return fmt.Errorf("%w: %s %s: %w", ErrStoreFault, op, id, err)
}

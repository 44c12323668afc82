// Package badger implements a persistent metadata store on BadgerDB.
//
// Records and liveness deadlines survive restarts. A background sweeper
// removes liveness keys whose deadline has passed and publishes an expiry
// event for each to in-process subscribers. The sweeper only runs while at
// least one subscriber is attached, so keys that lapse while nothing listens
// (including across a restart) are delivered once a subscriber returns.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/marmos91/dittodrop/pkg/store/metadata/internal"
)

const (
	defaultSweepInterval = time.Second
	maxConflictRetries   = 5
)

// BadgerMetadataStore implements metadata.Store using BadgerDB.
//
// Thread Safety:
// BadgerDB transactions provide serializable isolation. Conditional
// operations (UpdateRecord, liveness removal) run inside a read-write
// transaction and are retried on conflict, so concurrent callers never
// both observe and remove the same liveness key.
type BadgerMetadataStore struct {
	db            *badger.DB
	events        *internal.Broadcaster
	sweepInterval time.Duration

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// BadgerMetadataStoreConfig contains configuration for the BadgerDB store.
type BadgerMetadataStoreConfig struct {
	// DBPath is the directory where BadgerDB stores its files.
	DBPath string `mapstructure:"db_path"`

	// SweepInterval is how often expired liveness keys are collected
	// (default: 1s). It bounds how late an expiry event may be delivered.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// InMemory runs BadgerDB without touching disk. Intended for tests.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// NewBadgerMetadataStore opens (or creates) a BadgerDB store and starts the
// liveness sweeper.
//
// Parameters:
//   - ctx: Context for cancellation
//   - config: Database path and tuning
//
// Returns:
//   - *BadgerMetadataStore: Store ready for use
//   - error: If the database cannot be opened or ctx is cancelled
func NewBadgerMetadataStore(ctx context.Context, config BadgerMetadataStoreConfig) (*BadgerMetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.DBPath == "" && !config.InMemory {
		return nil, fmt.Errorf("badger db_path is required")
	}

	opts := badger.DefaultOptions(config.DBPath)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	// Records are small JSON documents; compression overhead is not worth it.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	interval := config.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	store := &BadgerMetadataStore{
		db:            db,
		events:        internal.NewBroadcaster(),
		sweepInterval: interval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go store.sweeper()

	return store, nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerMetadataStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func wrapClosed(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %v", metadata.ErrClosed, err)
	}
	return err
}

// ============================================================================
// Records
// ============================================================================

func (s *BadgerMetadataStore) GetRecord(ctx context.Context, id string) (*metadata.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec metadata.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyRecord(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("record %s: %w", id, metadata.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, wrapClosed(err))
	}
	return &rec, nil
}

func (s *BadgerMetadataStore) PutRecord(ctx context.Context, rec *metadata.FileRecord) error {
	if err := metadata.ValidateID(rec.ID); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(keyRecord(rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to put record %s: %w", rec.ID, wrapClosed(err))
	}
	return nil
}

func (s *BadgerMetadataStore) UpdateRecord(ctx context.Context, rec *metadata.FileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(keyRecord(rec.ID)); err != nil {
			return err
		}
		return txn.Set(keyRecord(rec.ID), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("record %s: %w", rec.ID, metadata.ErrRecordNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", rec.ID, wrapClosed(err))
	}
	return nil
}

func (s *BadgerMetadataStore) DeleteRecord(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(keyRecord(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, wrapClosed(err))
	}
	return nil
}

func (s *BadgerMetadataStore) ListRecordIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixRecord)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefixRecord):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", wrapClosed(err))
	}
	return ids, nil
}

// ============================================================================
// Liveness keys
// ============================================================================

func (s *BadgerMetadataStore) ArmLiveness(ctx context.Context, id string, ttl time.Duration) error {
	if err := metadata.ValidateID(id); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("liveness ttl must be positive, got %s", ttl)
	}

	deadline := encodeDeadline(time.Now().Add(ttl))
	err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(keyLiveness(id), deadline)
	})
	if err != nil {
		return fmt.Errorf("failed to arm liveness for %s: %w", id, wrapClosed(err))
	}
	return nil
}

func (s *BadgerMetadataStore) ExpireLiveness(ctx context.Context, id string) error {
	return s.removeLiveness(ctx, id, metadata.EventExpired)
}

func (s *BadgerMetadataStore) DeleteLiveness(ctx context.Context, id string) error {
	return s.removeLiveness(ctx, id, metadata.EventDeleted)
}

// removeLiveness deletes the liveness key for id and publishes kind if this
// call was the one that removed it.
func (s *BadgerMetadataStore) removeLiveness(ctx context.Context, id string, kind metadata.EventKind) error {
	removed, err := s.removeLivenessIf(ctx, id, func(time.Time) bool { return true })
	if err != nil {
		return fmt.Errorf("failed to remove liveness for %s: %w", id, wrapClosed(err))
	}
	if removed {
		s.events.Publish(metadata.Event{Kind: kind, Key: metadata.LivenessKey(id)})
	}
	return nil
}

// removeLivenessIf deletes the liveness key for id when cond accepts its
// deadline. It reports whether a key was removed.
func (s *BadgerMetadataStore) removeLivenessIf(ctx context.Context, id string, cond func(deadline time.Time) bool) (bool, error) {
	var removed bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		removed = false
		item, err := txn.Get(keyLiveness(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var deadline time.Time
		if err := item.Value(func(val []byte) error {
			deadline, err = decodeDeadline(val)
			return err
		}); err != nil {
			return err
		}
		if !cond(deadline) {
			return nil
		}

		removed = true
		return txn.Delete(keyLiveness(id))
	})
	return removed, err
}

func (s *BadgerMetadataStore) LivenessExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	// A key past its deadline is reported absent even before the sweeper
	// collects it.
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyLiveness(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			deadline, err := decodeDeadline(val)
			if err != nil {
				return err
			}
			exists = deadline.After(time.Now())
			return nil
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to check liveness for %s: %w", id, wrapClosed(err))
	}
	return exists, nil
}

// ============================================================================
// Sweeper
// ============================================================================

func (s *BadgerMetadataStore) sweeper() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.events.Subscribers() == 0 {
				continue
			}
			if n, err := s.sweep(context.Background(), time.Now()); err != nil {
				logger.Warn("Badger liveness sweep failed after %d expirations: %v", n, err)
			} else if n > 0 {
				logger.Debug("Badger liveness sweep expired %d keys", n)
			}
		}
	}
}

// sweep removes every liveness key whose deadline is not after now and
// publishes an expiry event for each. It returns the number of keys expired.
func (s *BadgerMetadataStore) sweep(ctx context.Context, now time.Time) (int, error) {
	var candidates []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixLiveness)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				deadline, err := decodeDeadline(val)
				if err != nil {
					return err
				}
				if !deadline.After(now) {
					candidates = append(candidates, string(item.Key()[len(prefixLiveness):]))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range candidates {
		removed, err := s.removeLivenessIf(ctx, id, func(deadline time.Time) bool {
			return !deadline.After(now)
		})
		if err != nil {
			return expired, err
		}
		if removed {
			expired++
			s.events.Publish(metadata.Event{Kind: metadata.EventExpired, Key: metadata.LivenessKey(id)})
		}
	}
	return expired, nil
}

// ============================================================================
// Notifications and lifecycle
// ============================================================================

func (s *BadgerMetadataStore) Subscribe(ctx context.Context) (metadata.Subscription, error) {
	if s.db.IsClosed() {
		return nil, metadata.ErrClosed
	}
	return s.events.Subscribe(ctx)
}

func (s *BadgerMetadataStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return metadata.ErrClosed
	}
	return nil
}

// Close stops the sweeper, ends subscriptions, and closes the database.
func (s *BadgerMetadataStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.events.Close()
		err = s.db.Close()
	})
	return err
}

var _ metadata.Store = (*BadgerMetadataStore)(nil)

// Package gc reconciles the metadata and blob stores.
//
// Eviction is driven by notifications, and notifications missed while the
// channel is down are never replayed. The collector is an opt-in sweep that
// reclaims what such gaps leave behind:
//   - Records whose liveness key is gone are evicted through the same
//     cleanup routine the eviction coordinator uses
//   - Blobs that no record points at are deleted
//
// The sweep changes observable behavior: without it a stale record survives
// until it is overwritten or purged. It is disabled by default.
package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/metrics"
	"github.com/marmos91/dittodrop/pkg/store/blob"
	"github.com/marmos91/dittodrop/pkg/store/metadata"
)

// Evictor removes a file's blob and record. eviction.Coordinator implements it.
type Evictor interface {
	Evict(ctx context.Context, id string) (bool, error)
}

// Collector periodically reconciles the metadata and blob stores.
//
// A record is evicted only after it has been seen without a liveness key in
// two consecutive runs, which leaves room for a Write that has stored its
// record but not yet armed its liveness key.
//
// Thread Safety: Safe for concurrent use. Runs are serialized.
type Collector struct {
	store   metadata.Index
	blobs   blob.Store
	evictor Evictor
	config  Config
	metrics metrics.EvictionMetrics

	runMu    sync.Mutex
	suspects map[string]struct{}

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// Config contains configuration for the collector.
type Config struct {
	// Enabled controls whether periodic collection runs (default: false)
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often to run collection (default: 10m)
	Interval time.Duration `mapstructure:"interval" validate:"omitempty,gt=0"`

	// Timeout bounds a single run (default: 5m)
	Timeout time.Duration `mapstructure:"timeout" validate:"omitempty,gt=0"`

	// DryRun logs what would be removed without removing it (default: false)
	DryRun bool `mapstructure:"dry_run"`
}

// NewCollector creates a collector. Call Start to begin periodic runs.
//
// Parameters:
//   - store: Metadata index to scan for records and liveness keys
//   - blobs: Blob store to scan for unreferenced blobs
//   - evictor: Cleanup routine for stale records
//   - config: Collection settings
//   - m: Metrics sink (nil disables metrics)
//
// Returns:
//   - *Collector: Initialized collector (not started)
func NewCollector(store metadata.Index, blobs blob.Store, evictor Evictor, config Config, m metrics.EvictionMetrics) *Collector {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if m == nil {
		m = metrics.NewNoopEvictionMetrics()
	}

	return &Collector{
		store:    store,
		blobs:    blobs,
		evictor:  evictor,
		config:   config,
		metrics:  m,
		suspects: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins background collection at the configured interval.
//
// Safe to call multiple times (subsequent calls are no-ops).
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Reconciliation sweep disabled")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	logger.Info("Starting reconciliation sweep: interval=%s dry_run=%v", c.config.Interval, c.config.DryRun)
	go c.worker()
}

// Stop stops the collector and waits for an in-progress run to finish.
//
// Safe to call multiple times, and when the collector never started.
//
// Parameters:
//   - ctx: Context for timeout
//
// Returns:
//   - error: ctx.Err() if the worker does not finish in time
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}

	logger.Info("Stopping reconciliation sweep...")
	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		logger.Info("Reconciliation sweep stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Reconciliation sweep shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one collection run and blocks until it completes.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - *Stats: Collection statistics
//   - error: If listing either store fails or ctx is cancelled
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running reconciliation sweep (manual trigger)...")
	return c.collect(ctx)
}

// worker runs collection until Stop is called. Stop cancels a run in
// progress.
func (c *Collector) worker() {
	defer close(c.doneCh)

	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	go func() {
		select {
		case <-c.stopCh:
			cancelBase()
		case <-base.Done():
		}
	}()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(base, c.config.Timeout)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Reconciliation sweep failed: %v", err)
			} else {
				logger.Info("Reconciliation sweep completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single run:
//  1. List blobs
//  2. List records, noting each record's path and whether its liveness key exists
//  3. Evict records seen without a liveness key in this run and the previous one
//  4. Delete blobs no record points at
//
// Blobs are listed before records. A Write stores its record before its
// blob, so any blob seen in step 1 that belongs to a live Write has its
// record visible in step 2.
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	// ===== Phase 1: Blobs =====
	blobs, err := c.blobs.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list blobs: %w", err)
	}
	stats.BlobCount = uint64(len(blobs))

	// ===== Phase 2: Records =====
	ids, err := c.store.ListRecordIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list records: %w", err)
	}
	stats.RecordCount = uint64(len(ids))

	referenced := make(map[string]struct{}, len(ids))
	var stale []string
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rec, err := c.store.GetRecord(ctx, id)
		if errors.Is(err, metadata.ErrRecordNotFound) {
			logger.Debug("GC: record %s removed during the run", id)
			continue
		}
		if err != nil {
			// An unreadable record could still own a blob; deleting anything
			// in this run would be unsafe.
			return stats, fmt.Errorf("failed to read record %s: %w", id, err)
		}
		referenced[rec.Path] = struct{}{}

		live, err := c.store.LivenessExists(ctx, id)
		if err != nil {
			return stats, fmt.Errorf("failed to check liveness of %s: %w", id, err)
		}
		if !live {
			stale = append(stale, id)
		}
	}

	// ===== Phase 3: Stale records =====
	suspects := make(map[string]struct{}, len(stale))
	for _, id := range stale {
		if _, seen := c.suspects[id]; !seen {
			suspects[id] = struct{}{}
			continue
		}
		stats.StaleCount++

		if c.config.DryRun {
			logger.Info("GC: DRY RUN - would evict stale record %s", id)
			continue
		}
		evicted, err := c.evictor.Evict(ctx, id)
		if err != nil {
			stats.FailedCount++
			logger.Warn("GC: failed to evict stale record %s: %v", id, err)
			continue
		}
		if evicted {
			stats.EvictedCount++
		}
	}
	c.suspects = suspects

	// ===== Phase 4: Orphaned blobs =====
	for _, path := range blobs {
		if _, ok := referenced[path]; ok {
			continue
		}
		stats.OrphanedCount++

		if c.config.DryRun {
			logger.Info("GC: DRY RUN - would delete orphaned blob %s", path)
			continue
		}
		if err := c.blobs.Delete(ctx, path); err != nil {
			stats.FailedCount++
			logger.Warn("GC: failed to delete orphaned blob %s: %v", path, err)
			continue
		}
		stats.DeletedCount++
	}

	c.metrics.RecordOrphansCollected("record", int(stats.EvictedCount))
	c.metrics.RecordOrphansCollected("blob", int(stats.DeletedCount))

	return stats, nil
}

// Stats contains statistics from a collection run.
type Stats struct {
	StartTime     time.Time // When collection started
	EndTime       time.Time // When collection ended
	RecordCount   uint64    // Records listed
	BlobCount     uint64    // Blobs listed
	StaleCount    uint64    // Records confirmed without a liveness key
	EvictedCount  uint64    // Stale records evicted
	OrphanedCount uint64    // Blobs not referenced by any record
	DeletedCount  uint64    // Orphaned blobs deleted
	FailedCount   uint64    // Evictions or deletions that failed
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("records=%d blobs=%d stale=%d evicted=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.RecordCount, s.BlobCount, s.StaleCount, s.EvictedCount,
		s.OrphanedCount, s.DeletedCount, s.FailedCount, s.Duration())
}

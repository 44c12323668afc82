// Package eviction removes stored files once their liveness key is gone.
//
// The Coordinator listens to the metadata store's notification channel for
// the lifetime of the process. Every expired or deleted event for a liveness
// key leads to the same cleanup: the blob is deleted, then the record.
// Cleanup is idempotent, so duplicate notifications are harmless.
//
// Events missed while the channel is down are not replayed. The gc package
// provides an opt-in sweep that reclaims what such outages leave behind.
package eviction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/metrics"
	"github.com/marmos91/dittodrop/pkg/store/blob"
	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/sourcegraph/conc/pool"
)

// Config contains configuration for the eviction coordinator.
type Config struct {
	// MaxConcurrent bounds how many cleanups run at once (default: 64).
	// When the bound is reached, event delivery waits for a free slot.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"omitempty,gte=1"`

	// CleanupTimeout bounds a single cleanup (default: 30s).
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout" validate:"omitempty,gt=0"`

	// ResubscribeMinBackoff is the first delay before resubscribing after a
	// notification channel failure (default: 500ms).
	ResubscribeMinBackoff time.Duration `mapstructure:"resubscribe_min_backoff" validate:"omitempty,gt=0"`

	// ResubscribeMaxBackoff caps the resubscribe delay (default: 30s).
	ResubscribeMaxBackoff time.Duration `mapstructure:"resubscribe_max_backoff" validate:"omitempty,gt=0"`
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 64
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 30 * time.Second
	}
	if c.ResubscribeMinBackoff <= 0 {
		c.ResubscribeMinBackoff = 500 * time.Millisecond
	}
	if c.ResubscribeMaxBackoff < c.ResubscribeMinBackoff {
		c.ResubscribeMaxBackoff = max(30*time.Second, c.ResubscribeMinBackoff)
	}
}

// Coordinator reacts to liveness notifications by deleting the blob and the
// record of the affected file.
//
// Thread Safety: Safe for concurrent use. Evict may be called while the
// listener is running.
type Coordinator struct {
	store   metadata.Store
	blobs   blob.Store
	config  Config
	metrics metrics.EvictionMetrics

	inFlight atomic.Int64

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a coordinator. Call Start to begin listening.
//
// Parameters:
//   - store: Metadata store providing records, liveness keys, and notifications
//   - blobs: Blob store holding file contents
//   - config: Concurrency, timeout, and backoff settings
//   - m: Metrics sink (nil disables metrics)
//
// Returns:
//   - *Coordinator: Initialized coordinator (not started)
func New(store metadata.Store, blobs blob.Store, config Config, m metrics.EvictionMetrics) *Coordinator {
	config.applyDefaults()
	if m == nil {
		m = metrics.NewNoopEvictionMetrics()
	}
	return &Coordinator{
		store:   store,
		blobs:   blobs,
		config:  config,
		metrics: m,
		doneCh:  make(chan struct{}),
	}
}

// Start subscribes to the notification channel and starts the listener.
//
// The first subscription is made synchronously so a misconfigured backend is
// reported here rather than in the background. Later channel failures are
// retried by resubscribing with exponential backoff until Stop is called.
//
// Parameters:
//   - ctx: Bounds the initial subscription only
//
// Returns:
//   - error: If already started or the first subscription fails
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("eviction coordinator already started")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	sub, err := c.store.Subscribe(runCtx)
	stop()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to liveness notifications: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = sub.Close()
		cancel()
		return err
	}

	c.started = true
	c.cancel = cancel

	logger.Info("Eviction coordinator started: max_concurrent=%d cleanup_timeout=%s",
		c.config.MaxConcurrent, c.config.CleanupTimeout)

	go c.run(runCtx, sub)
	return nil
}

// Stop ends the listener and waits for in-flight cleanups to finish.
//
// Safe to call multiple times, and before Start.
//
// Parameters:
//   - ctx: Context for timeout
//
// Returns:
//   - error: ctx.Err() if the listener does not finish in time
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}

	c.stopOnce.Do(func() {
		logger.Info("Stopping eviction coordinator...")
		c.cancel()
	})

	select {
	case <-c.doneCh:
		logger.Info("Eviction coordinator stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Eviction coordinator shutdown timeout")
		return ctx.Err()
	}
}

// run consumes notifications until ctx is cancelled or the store is closed.
func (c *Coordinator) run(ctx context.Context, sub metadata.Subscription) {
	defer close(c.doneCh)

	workers := pool.New().WithMaxGoroutines(c.config.MaxConcurrent)
	defer workers.Wait()

	for {
		for ev := range sub.Events() {
			workers.Go(func() { c.handle(ev) })
		}
		err := sub.Err()
		_ = sub.Close()

		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, metadata.ErrClosed) {
			logger.Info("Metadata store closed, eviction listener exiting")
			return
		}

		logger.Error("Liveness notification channel lost: %v", err)

		sub = c.resubscribe(ctx)
		if sub == nil {
			return
		}
	}
}

// resubscribe retries Subscribe with exponential backoff. It returns nil
// once ctx is cancelled or the store is closed.
func (c *Coordinator) resubscribe(ctx context.Context) metadata.Subscription {
	delay := c.config.ResubscribeMinBackoff
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		c.metrics.RecordResubscribe()
		sub, err := c.store.Subscribe(ctx)
		if err == nil {
			logger.Info("Liveness notification channel restored")
			return sub
		}
		if errors.Is(err, metadata.ErrClosed) || ctx.Err() != nil {
			return nil
		}

		delay = min(delay*2, c.config.ResubscribeMaxBackoff)
		logger.Warn("Resubscribe failed, retrying in %s: %v", delay, err)
		timer.Reset(delay)
	}
}

// handle processes one notification. Events for keys other than liveness
// keys are ignored.
func (c *Coordinator) handle(ev metadata.Event) {
	id, ok := metadata.IDFromLivenessKey(ev.Key)
	if !ok {
		return
	}

	c.metrics.RecordEvent(ev.Kind.String())
	c.metrics.SetInFlight(c.inFlight.Add(1))
	defer func() { c.metrics.SetInFlight(c.inFlight.Add(-1)) }()

	logger.Debug("Eviction: %s event for %s", ev.Kind, id)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.CleanupTimeout)
	defer cancel()

	evicted, err := c.Evict(ctx, id)
	switch {
	case err != nil:
		c.metrics.RecordEviction(metrics.EvictionOutcomeFailed)
		logger.Error("Eviction of %s failed: %v", id, err)
	case evicted:
		c.metrics.RecordEviction(metrics.EvictionOutcomeEvicted)
	default:
		c.metrics.RecordEviction(metrics.EvictionOutcomeSkipped)
	}
}

// Evict deletes the blob and the record of id.
//
// It is a no-op when the record is already gone, and when the liveness key
// exists again because a newer Write re-armed it. A missing blob is not an
// error.
//
// Parameters:
//   - ctx: Context for cancellation
//   - id: File identifier
//
// Returns:
//   - bool: True if a record was removed
//   - error: If the record cannot be read or a delete fails
func (c *Coordinator) Evict(ctx context.Context, id string) (bool, error) {
	// ===== Step 1: Load the record =====
	rec, err := c.store.GetRecord(ctx, id)
	if errors.Is(err, metadata.ErrRecordNotFound) {
		logger.Debug("Eviction: record %s already gone", id)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load record %s: %w", id, err)
	}

	// ===== Step 2: Skip records owned by a newer write =====
	live, err := c.store.LivenessExists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to check liveness of %s: %w", id, err)
	}
	if live {
		logger.Debug("Eviction: %s was re-armed, skipping", id)
		return false, nil
	}

	// ===== Step 3: Delete the blob, then the record =====
	if err := c.blobs.Delete(ctx, rec.Path); err != nil && !errors.Is(err, blob.ErrBlobNotFound) {
		return false, fmt.Errorf("failed to delete blob %s of %s: %w", rec.Path, id, err)
	}
	if err := c.store.DeleteRecord(ctx, id); err != nil {
		return false, fmt.Errorf("failed to delete record %s: %w", id, err)
	}

	logger.Info("Evicted %s (path=%s)", id, rec.Path)
	return true, nil
}

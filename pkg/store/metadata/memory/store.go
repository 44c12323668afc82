// Package memory implements an in-process metadata store.
//
// Records live in a map and liveness keys are backed by timers. Expiry and
// deletion events are published to in-process subscribers. Nothing survives
// a restart, which makes the store suitable for development, tests, and
// single-process deployments where losing pending files on restart is
// acceptable.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/marmos91/dittodrop/pkg/store/metadata/internal"
)

// MemoryMetadataStore implements metadata.Store in memory.
//
// Thread Safety:
// All state is guarded by mu. Events are published after mu is released so
// a slow subscriber never blocks other index operations.
type MemoryMetadataStore struct {
	mu       sync.Mutex
	records  map[string]*metadata.FileRecord
	liveness map[string]*livenessEntry
	closed   bool

	events *internal.Broadcaster
}

// livenessEntry is one armed liveness key. Entries are compared by pointer so
// a timer that fires after its key was re-armed does nothing.
type livenessEntry struct {
	timer    *time.Timer
	deadline time.Time
}

// MemoryMetadataStoreConfig configures the in-memory store. It has no
// options today; the type exists so the factory can decode an empty section.
type MemoryMetadataStoreConfig struct{}

// NewMemoryMetadataStore creates an empty in-memory store.
func NewMemoryMetadataStore(_ MemoryMetadataStoreConfig) *MemoryMetadataStore {
	return &MemoryMetadataStore{
		records:  make(map[string]*metadata.FileRecord),
		liveness: make(map[string]*livenessEntry),
		events:   internal.NewBroadcaster(),
	}
}

// NewMemoryMetadataStoreWithDefaults creates an in-memory store with the
// default configuration.
func NewMemoryMetadataStoreWithDefaults() *MemoryMetadataStore {
	return NewMemoryMetadataStore(MemoryMetadataStoreConfig{})
}

func (s *MemoryMetadataStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return metadata.ErrClosed
	}
	return nil
}

// ============================================================================
// Records
// ============================================================================

func (s *MemoryMetadataStore) GetRecord(ctx context.Context, id string) (*metadata.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, metadata.ErrRecordNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryMetadataStore) PutRecord(ctx context.Context, rec *metadata.FileRecord) error {
	if err := metadata.ValidateID(rec.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryMetadataStore) UpdateRecord(ctx context.Context, rec *metadata.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	if _, ok := s.records[rec.ID]; !ok {
		return fmt.Errorf("record %s: %w", rec.ID, metadata.ErrRecordNotFound)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryMetadataStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	delete(s.records, id)
	return nil
}

func (s *MemoryMetadataStore) ListRecordIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ============================================================================
// Liveness keys
// ============================================================================

func (s *MemoryMetadataStore) ArmLiveness(ctx context.Context, id string, ttl time.Duration) error {
	if err := metadata.ValidateID(id); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("liveness ttl must be positive, got %s", ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	// Re-arming replaces the key without an event, like SET on an existing key.
	if old, ok := s.liveness[id]; ok {
		old.timer.Stop()
	}

	entry := &livenessEntry{deadline: time.Now().Add(ttl)}
	entry.timer = time.AfterFunc(ttl, func() { s.fire(id, entry) })
	s.liveness[id] = entry
	return nil
}

// fire runs when a liveness timer elapses.
func (s *MemoryMetadataStore) fire(id string, entry *livenessEntry) {
	s.mu.Lock()
	if s.closed || s.liveness[id] != entry {
		s.mu.Unlock()
		return
	}
	delete(s.liveness, id)
	s.mu.Unlock()

	s.events.Publish(metadata.Event{Kind: metadata.EventExpired, Key: metadata.LivenessKey(id)})
}

func (s *MemoryMetadataStore) ExpireLiveness(ctx context.Context, id string) error {
	return s.removeLiveness(ctx, id, metadata.EventExpired)
}

func (s *MemoryMetadataStore) DeleteLiveness(ctx context.Context, id string) error {
	return s.removeLiveness(ctx, id, metadata.EventDeleted)
}

func (s *MemoryMetadataStore) removeLiveness(ctx context.Context, id string, kind metadata.EventKind) error {
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	entry, ok := s.liveness[id]
	if ok {
		entry.timer.Stop()
		delete(s.liveness, id)
	}
	s.mu.Unlock()

	if ok {
		s.events.Publish(metadata.Event{Kind: kind, Key: metadata.LivenessKey(id)})
	}
	return nil
}

func (s *MemoryMetadataStore) LivenessExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}

	_, ok := s.liveness[id]
	return ok, nil
}

// LivenessDeadline returns when the liveness key for id will expire.
func (s *MemoryMetadataStore) LivenessDeadline(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveness[id]
	if !ok {
		return time.Time{}, false
	}
	return entry.deadline, true
}

// ============================================================================
// Notifications and lifecycle
// ============================================================================

func (s *MemoryMetadataStore) Subscribe(ctx context.Context) (metadata.Subscription, error) {
	return s.events.Subscribe(ctx)
}

// Healthcheck only fails once the store is closed or ctx is done.
func (s *MemoryMetadataStore) Healthcheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(ctx)
}

func (s *MemoryMetadataStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, entry := range s.liveness {
		entry.timer.Stop()
	}
	s.liveness = make(map[string]*livenessEntry)
	s.mu.Unlock()

	s.events.Close()
	return nil
}

var _ metadata.Store = (*MemoryMetadataStore)(nil)

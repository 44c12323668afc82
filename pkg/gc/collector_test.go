package gc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittodrop/pkg/eviction"
	"github.com/marmos91/dittodrop/pkg/store/blob"
	blobfs "github.com/marmos91/dittodrop/pkg/store/blob/fs"
	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/marmos91/dittodrop/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *memory.MemoryMetadataStore
	blobs *blobfs.FSBlobStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs, err := blobfs.NewMemoryBlobStore(context.Background())
	require.NoError(t, err)
	store := memory.NewMemoryMetadataStoreWithDefaults()
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{store: store, blobs: blobs}
}

func (f *fixture) collector(config Config) *Collector {
	evictor := eviction.New(f.store, f.blobs, eviction.Config{}, nil)
	return NewCollector(f.store, f.blobs, evictor, config, nil)
}

func (f *fixture) putBlob(t *testing.T, filename string) string {
	t.Helper()
	path, err := f.blobs.PathFor(filename)
	require.NoError(t, err)
	_, err = f.blobs.Put(context.Background(), path, strings.NewReader(filename))
	require.NoError(t, err)
	return path
}

func (f *fixture) putFile(t *testing.T, id, filename string, live bool) *metadata.FileRecord {
	t.Helper()
	ctx := context.Background()
	rec := &metadata.FileRecord{ID: id, Path: f.putBlob(t, filename), Filename: filename, Complete: true}
	require.NoError(t, f.store.PutRecord(ctx, rec))
	if live {
		require.NoError(t, f.store.ArmLiveness(ctx, id, time.Hour))
	}
	return rec
}

func (f *fixture) blobExists(t *testing.T, path string) bool {
	t.Helper()
	rc, err := f.blobs.Open(context.Background(), path)
	if errors.Is(err, blob.ErrBlobNotFound) {
		return false
	}
	require.NoError(t, err)
	_ = rc.Close()
	return true
}

func TestCollector_DeletesOrphanedBlobs(t *testing.T) {
	f := newFixture(t)
	c := f.collector(Config{})

	kept := f.putFile(t, "a", "a.txt", true)
	orphan := f.putBlob(t, "orphan.txt")

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 2, stats.BlobCount)
	assert.EqualValues(t, 1, stats.RecordCount)
	assert.EqualValues(t, 1, stats.OrphanedCount)
	assert.EqualValues(t, 1, stats.DeletedCount)
	assert.True(t, f.blobExists(t, kept.Path))
	assert.False(t, f.blobExists(t, orphan))
}

func TestCollector_EvictsStaleRecordsOnSecondSighting(t *testing.T) {
	f := newFixture(t)
	c := f.collector(Config{})
	ctx := context.Background()

	stale := f.putFile(t, "stale", "stale.txt", false)
	live := f.putFile(t, "live", "live.txt", true)

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.EvictedCount)
	_, err = f.store.GetRecord(ctx, "stale")
	require.NoError(t, err, "first sighting must not evict")

	stats, err = c.RunNow(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.StaleCount)
	assert.EqualValues(t, 1, stats.EvictedCount)

	_, err = f.store.GetRecord(ctx, "stale")
	assert.ErrorIs(t, err, metadata.ErrRecordNotFound)
	assert.False(t, f.blobExists(t, stale.Path))

	_, err = f.store.GetRecord(ctx, "live")
	assert.NoError(t, err)
	assert.True(t, f.blobExists(t, live.Path))
}

func TestCollector_RearmedRecordIsForgiven(t *testing.T) {
	f := newFixture(t)
	c := f.collector(Config{})
	ctx := context.Background()

	f.putFile(t, "a", "a.txt", false)

	_, err := c.RunNow(ctx)
	require.NoError(t, err)

	require.NoError(t, f.store.ArmLiveness(ctx, "a", time.Hour))
	_, err = c.RunNow(ctx)
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteLiveness(ctx, "a"))
	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.EvictedCount, "suspicion resets once the key is back")
}

func TestCollector_DryRun(t *testing.T) {
	f := newFixture(t)
	c := f.collector(Config{DryRun: true})
	ctx := context.Background()

	stale := f.putFile(t, "stale", "stale.txt", false)
	orphan := f.putBlob(t, "orphan.txt")

	_, err := c.RunNow(ctx)
	require.NoError(t, err)
	stats, err := c.RunNow(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 1, stats.StaleCount)
	assert.EqualValues(t, 1, stats.OrphanedCount)
	assert.Zero(t, stats.EvictedCount)
	assert.Zero(t, stats.DeletedCount)
	assert.True(t, f.blobExists(t, stale.Path))
	assert.True(t, f.blobExists(t, orphan))
}

func TestCollector_CancelledContext(t *testing.T) {
	f := newFixture(t)
	c := f.collector(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.RunNow(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollector_StartStop(t *testing.T) {
	f := newFixture(t)
	c := f.collector(Config{Enabled: true, Interval: 10 * time.Millisecond})
	orphan := f.putBlob(t, "orphan.txt")

	c.Start()
	c.Start()

	require.Eventually(t, func() bool { return !f.blobExists(t, orphan) }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}

func TestCollector_DisabledStartIsNoop(t *testing.T) {
	f := newFixture(t)
	c := f.collector(Config{})

	c.Start()
	assert.NoError(t, c.Stop(context.Background()))
}

func TestStats_Summary(t *testing.T) {
	start := time.Now()
	s := &Stats{StartTime: start, EndTime: start.Add(time.Second), RecordCount: 2, DeletedCount: 1}

	assert.Equal(t, time.Second, s.Duration())
	assert.Contains(t, s.Summary(), "records=2")
	assert.Contains(t, s.Summary(), "deleted=1")
}
